package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vallancelee/biomcp/internal/benchcompare"
)

func newBenchCmd() *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "bench <current.txt> <baseline.txt>",
		Short: "Compare go test -bench output against a saved baseline",
		Long: `bench parses two "go test -bench" output files and reports any
benchmark whose ns/op grew past --threshold, so a regression in the
chunker, retrieval scoring, or any other hot path fails the check
before it ships.`,
		Example: `  go test -bench . ./internal/chunker/... > current.txt
  biomcp bench current.txt baseline.txt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, args[0], args[1], threshold)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", benchcompare.RegressionThreshold, "regression threshold as a fraction (0.20 = 20%)")
	return cmd
}

func runBench(cmd *cobra.Command, currentPath, baselinePath string, threshold float64) error {
	current, err := parseBenchFile(currentPath)
	if err != nil {
		return fmt.Errorf("bench: current: %w", err)
	}
	baseline, err := parseBenchFile(baselinePath)
	if err != nil {
		return fmt.Errorf("bench: baseline: %w", err)
	}

	report := benchcompare.Compare(current, baseline, threshold)
	if err := benchcompare.WriteText(cmd.OutOrStdout(), report, threshold); err != nil {
		return err
	}
	if report.Failed {
		return fmt.Errorf("bench: %d benchmark(s) regressed beyond %.0f%%", report.Regressions, threshold*100)
	}
	return nil
}

func parseBenchFile(path string) (map[string]benchcompare.Measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return benchcompare.Parse(f)
}
