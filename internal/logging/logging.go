// Package logging sets up biomcp's structured logger (internal/config's
// logging.* options). A biomcp process serving MCP over stdio reserves
// stdout for the JSON-RPC stream, so logs must go to stderr or a
// rotating file, never stdout.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/vallancelee/biomcp/internal/config"
)

// Setup builds the process-wide structured logger from cfg
// (chosen format: "json" or "text"; chosen level: debug/info/warn/error).
// When filePath is non-empty, logs are additionally written to a
// rotating file there (the only safe option while serving MCP over
// stdio); stderr always receives a copy.
func Setup(cfg config.LoggingConfig, filePath string) (*slog.Logger, func(), error) {
	var output io.Writer = os.Stderr
	cleanup := func() {}

	if filePath != "" {
		writer, err := NewRotatingWriter(filePath, 10, 5)
		if err != nil {
			return nil, nil, err
		}
		output = io.MultiWriter(writer, os.Stderr)
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler), cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
