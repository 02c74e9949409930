// Package cmd provides the CLI commands for biomcp.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vallancelee/biomcp/internal/config"
	"github.com/vallancelee/biomcp/internal/logging"
	"github.com/vallancelee/biomcp/internal/tools"
	"github.com/vallancelee/biomcp/internal/transport"
	"github.com/vallancelee/biomcp/pkg/version"
)

// jobPollInterval is how often serveHTTP's background worker checks
// the queue for a claimable job.
const jobPollInterval = 2 * time.Second

// shutdownGrace bounds how long serve waits for an in-flight HTTP
// request to finish after a shutdown signal.
const shutdownGrace = 10 * time.Second

var cfgFile string

// NewRootCmd creates the root command for the biomcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "biomcp",
		Short: "Biomedical literature retrieval and ingestion MCP server",
		Long: `biomcp ingests biomedical literature (starting with PubMed) into a
hybrid BM25 + vector index and exposes it to MCP clients and HTTP callers
through a small, uniform tool surface: search, get, sync, checkpoints,
and job tracking.

Run 'biomcp serve' to start the server, or 'biomcp doctor' to check that
every configured store is reachable before starting it.`,
		Version: version.Version,
	}
	cmd.SetVersionTemplate("biomcp version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a biomcp config file (default: biomcp.yaml in the working directory)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newBenchCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads and validates the process configuration from
// cfgFile (or its default discovery path when empty).
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogging wires slog per cfg.Logging, defaulting filePath to
// "biomcp.log" in the working directory when the config leaves it
// unset; stdio MCP mode still logs to a file so the framed JSON-RPC
// stream on stdout stays uncontaminated.
func setupLogging(cfg config.Config, filePath string) (*slog.Logger, func(), error) {
	if filePath == "" {
		filePath = "biomcp.log"
	}
	return logging.Setup(cfg.Logging, filePath)
}

func newServeCmd() *cobra.Command {
	var transportKind string
	var logFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the biomcp server",
		Long: `serve starts biomcp in one of two transports:

  stdio  speaks MCP over stdin/stdout, for embedding in an MCP client
  http   exposes /v1/invoke, /v1/jobs, /live, /ready and /metrics over HTTP

stdio is the default, matching how MCP clients spawn the process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log, cleanup, err := setupLogging(*cfg, logFile)
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildAppContext(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			defer app.Close()

			switch transportKind {
			case "stdio", "":
				return serveStdio(ctx, app)
			case "http":
				return serveHTTP(ctx, cfg, app)
			default:
				return fmt.Errorf("unknown --transport %q (want stdio or http)", transportKind)
			}
		},
	}

	cmd.Flags().StringVar(&transportKind, "transport", "stdio", "server transport: stdio or http")
	cmd.Flags().StringVar(&logFile, "log-file", "", "path to the server log file (default biomcp.log)")
	return cmd
}

func serveStdio(ctx context.Context, app *AppContext) error {
	mcpServer := tools.NewMCPServer(app.Registry, app.Invoker, app.Log)
	app.Log.Info("starting biomcp over stdio", slog.String("version", version.Version))
	return mcpServer.Run(ctx)
}

func serveHTTP(ctx context.Context, cfg *config.Config, app *AppContext) error {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := transport.New(addr, app.Invoker, app.Jobs, app.Ready)

	go runJobWorker(ctx, app)

	errCh := make(chan error, 1)
	go func() {
		app.Log.Info("starting biomcp over http", slog.String("addr", addr))
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runJobWorker drives the queue's claim-and-run loop until
// ctx is cancelled. A single worker is enough for the job volumes this
// service expects; scaling out is a config knob, not a code change,
// the day it's needed.
func runJobWorker(ctx context.Context, app *AppContext) {
	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ran, err := app.Jobs.RunOnce(ctx)
			if err != nil {
				app.Log.Error("job worker iteration failed", slog.String("error", err.Error()))
				continue
			}
			if ran {
				// Drain back-to-back without waiting out a full tick.
				for {
					ran, err := app.Jobs.RunOnce(ctx)
					if err != nil {
						app.Log.Error("job worker iteration failed", slog.String("error", err.Error()))
						break
					}
					if !ran {
						break
					}
				}
			}
		}
	}
}
