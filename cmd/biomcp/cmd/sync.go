package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vallancelee/biomcp/internal/source"
	"github.com/vallancelee/biomcp/internal/tools"
)

// newSyncCmd runs one incremental sync pass directly, without going
// through the job queue: an operator-facing shortcut sharing its
// logic with the "sync" job handler that
// backs the async jobs.get/jobs.cancel API.
func newSyncCmd() *cobra.Command {
	var queryKey, term string
	var overlapDays int

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one incremental sync pass against a configured source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if queryKey == "" {
				return fmt.Errorf("--query-key is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, cleanup, err := setupLogging(*cfg, "")
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			app, err := buildAppContext(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			fetcher := app.Fetcher
			if term != "" {
				fetcher = source.NewPubmedFetcher(term)
			}
			handler := tools.NewSyncJobHandler(app.Pipeline, fetcher, app.Checkpoints, cfg.Watermark.DefaultOverlapDays)
			params, err := json.Marshal(map[string]any{
				"query_key":    queryKey,
				"term":         term,
				"overlap_days": overlapDays,
			})
			if err != nil {
				return err
			}

			result, err := handler(ctx, params, func(percent int, stats string) {
				fmt.Fprintf(cmd.OutOrStdout(), "sync %s: %d%% %s\n", queryKey, percent, stats)
			})
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(result))
			return nil
		},
	}

	cmd.Flags().StringVar(&queryKey, "query-key", "", "watermark key identifying this sync stream (required)")
	cmd.Flags().StringVar(&term, "term", "", "upstream query term, e.g. a PubMed E-utilities term")
	cmd.Flags().IntVar(&overlapDays, "overlap-days", 0, "override the configured watermark overlap (0 uses the config default)")
	return cmd
}
