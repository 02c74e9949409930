//go:build ignore

// Command bench-compare is a standalone entry point for
// internal/benchcompare, for invoking the comparison from a shell
// pipeline without building the full biomcp binary first (the
// "biomcp bench" subcommand wraps the same package for normal use).
//
// Usage: go run scripts/bench-compare.go [-threshold 0.20] <current.txt> <baseline.txt>
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vallancelee/biomcp/internal/benchcompare"
)

func main() {
	threshold := flag.Float64("threshold", benchcompare.RegressionThreshold, "regression threshold as a fraction (0.20 = 20%)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <current.txt> <baseline.txt>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(1)
	}

	current, err := parseFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "current: %v\n", err)
		os.Exit(1)
	}
	baseline, err := parseFile(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "baseline: %v\n", err)
		os.Exit(1)
	}

	report := benchcompare.Compare(current, baseline, *threshold)
	if err := benchcompare.WriteText(os.Stdout, report, *threshold); err != nil {
		fmt.Fprintf(os.Stderr, "write report: %v\n", err)
		os.Exit(1)
	}
	if report.Failed {
		os.Exit(1)
	}
}

func parseFile(path string) (map[string]benchcompare.Measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return benchcompare.Parse(f)
}
