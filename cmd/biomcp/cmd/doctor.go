package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vallancelee/biomcp/internal/ready"
)

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that every configured store is reachable",
		Long: `doctor opens the metadata store, lexical index, and vector store
named in the config and runs the same composite readiness check
exposed over /ready: the metadata store and the vector store each get
an independent, timeout-bounded probe, and a failure in either of them
fails the whole check. The lexical index is opened but not probed.

Use --json for machine-readable output.`,
		Example: `  # Run diagnostics
  biomcp doctor

  # JSON output for scripting
  biomcp doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runDoctor(cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, cleanup, err := setupLogging(*cfg, "")
	if err != nil {
		return err
	}
	defer cleanup()

	app, err := buildAppContext(cmd.Context(), cfg, log)
	if err != nil {
		return &doctorError{message: fmt.Sprintf("could not open configured stores: %v", err)}
	}
	defer app.Close()

	report := app.Ready.Ready(cmd.Context())

	if jsonOutput {
		if err := printJSON(cmd, report); err != nil {
			return err
		}
	} else {
		printDoctorText(cmd, report)
	}

	if !report.Ready {
		return &doctorError{message: "system check failed"}
	}
	return nil
}

func printDoctorText(cmd *cobra.Command, report ready.Report) {
	out := cmd.OutOrStdout()
	for _, p := range report.Probes {
		if p.OK {
			fmt.Fprintf(out, "[ok]   %s\n", p.Name)
			continue
		}
		fmt.Fprintf(out, "[fail] %s: %s\n", p.Name, p.Error)
	}
	if report.Ready {
		fmt.Fprintln(out, "\nAll checks passed.")
	} else {
		fmt.Fprintln(out, "\nOne or more checks failed.")
	}
}

// doctorError is a custom error type for doctor command failures.
type doctorError struct {
	message string
}

func (e *doctorError) Error() string {
	return e.message
}
