// Package main provides the entry point for the biomcp CLI.
package main

import (
	"os"

	"github.com/vallancelee/biomcp/cmd/biomcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
