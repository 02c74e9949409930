package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	bmerrors "github.com/vallancelee/biomcp/internal/errors"
	"github.com/vallancelee/biomcp/internal/limiter"
	"github.com/vallancelee/biomcp/internal/logging"
	"github.com/vallancelee/biomcp/internal/telemetry"
)

// Invoker implements the invoke(tool, params, idempotency_key?) flow:
// lookup, schema validation, concurrency acquisition,
// trace-id generation, timeout enforcement, and uniform-envelope
// translation of whatever the handler returns.
type Invoker struct {
	registry *Registry
	limiter  *limiter.Limiter
	log      *slog.Logger
}

// NewInvoker builds an Invoker over registry, using limiter for
// concurrency acquisition. log may be nil (defaults to
// slog.Default()).
func NewInvoker(registry *Registry, lim *limiter.Limiter, log *slog.Logger) *Invoker {
	if log == nil {
		log = slog.Default()
	}
	return &Invoker{registry: registry, limiter: lim, log: log}
}

// Invoke runs tool synchronously and always returns a fully populated
// Envelope: callers never need to branch on error separately from the
// envelope's Ok field, matching the wire contract.
//
// idempotencyKey is accepted for symmetry with the job-enqueue path
// (internal/jobs) but unused here: idempotency only matters for
// asynchronous tools, which Invoke rejects outright (step below).
func (inv *Invoker) Invoke(ctx context.Context, tool string, params json.RawMessage, idempotencyKey string) Envelope {
	start := time.Now()
	env := inv.invoke(ctx, tool, params, idempotencyKey)
	outcome := "ok"
	if !env.Ok {
		outcome = "error"
	}
	telemetry.ToolInvocationDuration.WithLabelValues(tool, outcome).Observe(time.Since(start).Seconds())
	return env
}

func (inv *Invoker) invoke(ctx context.Context, tool string, params json.RawMessage, idempotencyKey string) Envelope {
	traceID := newTraceID()
	ctx = logging.WithTraceID(ctx, traceID)

	handler, ok := inv.registry.Lookup(tool)
	if !ok {
		return errEnvelope(tool, traceID, bmerrors.NotFoundf("unknown tool %q", tool))
	}

	if handler.IsLongRunning() {
		return errEnvelope(tool, traceID, bmerrors.New(bmerrors.Validation,
			"tool "+tool+" is long-running; use the job API instead of synchronous invoke"))
	}

	validated, err := handler.Validate(params)
	if err != nil {
		return errEnvelope(tool, traceID, err)
	}

	lease, err := inv.limiter.Acquire(ctx, tool)
	if err != nil {
		return errEnvelope(tool, traceID, err)
	}
	defer lease.Release()

	callCtx := ctx
	var cancel context.CancelFunc
	if d := handler.Timeout(); d > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	result, err := handler.Run(callCtx, validated)
	if err != nil {
		if callCtx.Err() != nil && bmerrors.CodeOf(err) == bmerrors.Unknown {
			err = bmerrors.Wrap(bmerrors.Timeout, err)
		}
		inv.log.Error("tool invocation failed",
			slog.String("tool", tool), slog.String("trace_id", traceID), slog.Any("error", err))
		return errEnvelope(tool, traceID, err)
	}

	return Envelope{Ok: true, Tool: tool, Result: result, TraceID: traceID}
}

func errEnvelope(tool, traceID string, err error) Envelope {
	env := bmerrors.ToEnvelope(err)
	return Envelope{
		Ok:        false,
		Tool:      tool,
		ErrorCode: string(env.Code),
		Message:   env.Message,
		TraceID:   traceID,
	}
}
