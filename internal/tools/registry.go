// Package tools implements the process-wide tool registry and invoker:
// a name-to-handler binding, the uniform invoke envelope,
// and the concrete handlers (ping, search, get, similar, sync, checkpoint.get,
// checkpoint.set, jobs.get, jobs.cancel) that sit in front of the
// retrieval engine, the ingestion pipeline, the watermark store, and the
// job queue.
//
// The MCP-facing surface (mcp.go) is a thin adapter over the same
// Registry and Invoker: a *mcp.Server plus one mcp.AddTool call per
// tool.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Handler is one entry in the registry: a name, a typed params
// validator, a runner, and the declarations the invoker needs to
// enforce timeouts and reject synchronous calls to long-running tools
//.
type Handler interface {
	// Name is the tool name as it appears in an invoke request.
	Name() string

	// Validate decodes and checks raw params, returning a VALIDATION
	// error (internal/errors) with a field path on failure.
	Validate(params json.RawMessage) (any, error)

	// Run executes the tool with already-validated params (the value
	// Validate returned) and returns the result to embed in the
	// envelope's "result" field.
	Run(ctx context.Context, params any) (any, error)

	// IsLongRunning reports whether synchronous invocation must be
	// rejected in favor of the job API.
	IsLongRunning() bool

	// Timeout is the per-call deadline the invoker applies before
	// dispatch.
	Timeout() time.Duration
}

// Registry binds tool names to handlers. It is built once at process
// startup and read concurrently thereafter; there is no dynamic
// registration after Invoker construction.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a Registry from handlers. Duplicate names panic:
// a process-wide registry with two handlers for the same name is a
// construction bug, not a runtime condition to handle gracefully.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if _, exists := r.handlers[h.Name()]; exists {
			panic("tools: duplicate handler registered for " + h.Name())
		}
		r.handlers[h.Name()] = h
	}
	return r
}

// Lookup returns the handler for name, or false if no such tool is
// registered.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns every registered tool name, for diagnostics and the
// MCP front-end's tool listing.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
