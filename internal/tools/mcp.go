package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vallancelee/biomcp/pkg/version"
)

// MCPServer bridges Registry/Invoker to MCP clients (Claude Desktop,
// Claude Code, or any other MCP-speaking agent): one *mcp.Server, one
// mcp.AddTool call per tool, each delegating straight back into
// Invoker so the MCP
// surface and the HTTP invoke surface (internal/transport) share the
// exact same envelope semantics.
type MCPServer struct {
	mcp     *mcp.Server
	invoker *Invoker
	log     *slog.Logger
}

// rawToolInput is the input schema advertised for every biomcp tool:
// an opaque params object passed straight through to the registered
// handler's own Validate. MCP's schema validation is therefore
// deliberately permissive; the wire-stable VALIDATION contract lives
// in internal/errors, not in the MCP tool schema.
type rawToolInput struct {
	Params json.RawMessage `json:"params,omitempty"`
}

// NewMCPServer builds the MCP front-end over registry/invoker. log may
// be nil (defaults to slog.Default()).
func NewMCPServer(registry *Registry, invoker *Invoker, log *slog.Logger) *MCPServer {
	if log == nil {
		log = slog.Default()
	}
	s := &MCPServer{invoker: invoker, log: log}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "biomcp", Version: version.Version},
		nil,
	)
	s.registerTools(registry)
	return s
}

func (s *MCPServer) registerTools(registry *Registry) {
	for _, name := range registry.Names() {
		toolName := name
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        toolName,
			Description: toolDescription(toolName),
		}, func(ctx context.Context, _ *mcp.CallToolRequest, input rawToolInput) (*mcp.CallToolResult, Envelope, error) {
			env := s.invoker.Invoke(ctx, toolName, input.Params, "")
			return nil, env, nil
		})
		s.log.Debug("registered MCP tool", slog.String("name", toolName))
	}
}

// toolDescription returns a short human-facing description for name.
// Unregistered names (there shouldn't be any) fall back to a generic
// description.
func toolDescription(name string) string {
	switch name {
	case "ping":
		return "Liveness check; echoes an optional message back with the server time."
	case "search":
		return "Hybrid BM25+vector search over ingested documents, returning reconstructed, ranked results."
	case "get":
		return "Fetch a single document by uid, optionally including its reconstructed chunks."
	case "similar":
		return "Find documents similar to a stored document, seeded with its own text."
	case "sync":
		return "Long-running incremental sync from a source's watermark; returns a job id via the job API."
	case "checkpoint.get":
		return "Read the stored sync watermark for a query key."
	case "checkpoint.set":
		return "Admin override of the stored sync watermark for a query key."
	case "jobs.get":
		return "Fetch a job's current state, progress, and result or error."
	case "jobs.cancel":
		return "Request cancellation of a running or queued job."
	default:
		return "biomcp tool " + name
	}
}

// Run serves the MCP server over stdio until ctx is cancelled.
func (s *MCPServer) Run(ctx context.Context) error {
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.log.Error("MCP server stopped with error", slog.String("error", err.Error()))
	}
	return err
}
