package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bmerrors "github.com/vallancelee/biomcp/internal/errors"
	"github.com/vallancelee/biomcp/internal/limiter"
	"github.com/vallancelee/biomcp/internal/logging"
)

func newTestInvoker(handlers ...Handler) *Invoker {
	lim := limiter.New(limiter.Config{Global: 10, PerTool: map[string]int{}})
	return NewInvoker(NewRegistry(handlers...), lim, nil)
}

func TestInvoke_UnknownToolReturnsNotFoundEnvelope(t *testing.T) {
	inv := newTestInvoker()

	env := inv.Invoke(context.Background(), "nope", nil, "")

	assert.False(t, env.Ok)
	assert.Equal(t, "nope", env.Tool)
	assert.Equal(t, string(bmerrors.NotFound), env.ErrorCode)
	assert.NotEmpty(t, env.TraceID)
}

func TestInvoke_LongRunningToolIsRejectedSynchronously(t *testing.T) {
	inv := newTestInvoker(&fakeHandler{name: "sync", longRunning: true})

	env := inv.Invoke(context.Background(), "sync", nil, "")

	assert.False(t, env.Ok)
	assert.Equal(t, string(bmerrors.Validation), env.ErrorCode)
}

func TestInvoke_ValidationErrorSurfacesBeforeDispatch(t *testing.T) {
	inv := newTestInvoker(&fakeHandler{name: "t", validateErr: bmerrors.Validationf("bad field")})

	env := inv.Invoke(context.Background(), "t", nil, "")

	assert.False(t, env.Ok)
	assert.Equal(t, string(bmerrors.Validation), env.ErrorCode)
}

func TestInvoke_SuccessfulCallReturnsResult(t *testing.T) {
	inv := newTestInvoker(&fakeHandler{name: "t", runResult: map[string]string{"k": "v"}})

	env := inv.Invoke(context.Background(), "t", json.RawMessage(`{}`), "")

	require.True(t, env.Ok)
	assert.Equal(t, "t", env.Tool)
	assert.Equal(t, map[string]string{"k": "v"}, env.Result)
	assert.NotEmpty(t, env.TraceID)
}

func TestInvoke_HandlerErrorIsTranslatedToEnvelope(t *testing.T) {
	inv := newTestInvoker(&fakeHandler{name: "t", runErr: bmerrors.NotFoundf("missing")})

	env := inv.Invoke(context.Background(), "t", nil, "")

	assert.False(t, env.Ok)
	assert.Equal(t, string(bmerrors.NotFound), env.ErrorCode)
}

func TestInvoke_NoCapacityReturnsRateLimit(t *testing.T) {
	lim := limiter.New(limiter.Config{Global: 1, PerTool: map[string]int{}})
	inv := NewInvoker(NewRegistry(&fakeHandler{name: "t"}), lim, nil)

	lease, err := lim.Acquire(context.Background(), "t")
	require.NoError(t, err)
	defer lease.Release()

	env := inv.Invoke(context.Background(), "t", nil, "")

	assert.False(t, env.Ok)
	assert.Equal(t, string(bmerrors.RateLimit), env.ErrorCode)
}

func TestInvoke_TraceIDsAreUnique(t *testing.T) {
	inv := newTestInvoker(&fakeHandler{name: "t"})

	first := inv.Invoke(context.Background(), "t", nil, "")
	second := inv.Invoke(context.Background(), "t", nil, "")

	assert.NotEqual(t, first.TraceID, second.TraceID)
}

func TestInvoke_TimeoutIsEnforced(t *testing.T) {
	slow := &fakeHandler{name: "slow", timeout: time.Millisecond}
	blocking := &blockingHandler{fakeHandler: slow}
	inv := newTestInvoker(blocking)

	env := inv.Invoke(context.Background(), "slow", nil, "")

	assert.False(t, env.Ok)
}

type blockingHandler struct {
	*fakeHandler
}

func (b *blockingHandler) Run(ctx context.Context, params any) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// ctxFuncHandler runs an arbitrary function so tests can observe the
// context the invoker hands to handlers.
type ctxFuncHandler struct {
	fakeHandler
	run func(ctx context.Context) (any, error)
}

func (h *ctxFuncHandler) Run(ctx context.Context, _ any) (any, error) { return h.run(ctx) }

func TestInvoke_HandlerContextCarriesTraceID(t *testing.T) {
	var seen string
	h := &ctxFuncHandler{
		fakeHandler: fakeHandler{name: "t"},
		run: func(ctx context.Context) (any, error) {
			seen = logging.TraceID(ctx)
			return nil, nil
		},
	}
	inv := newTestInvoker(h)

	env := inv.Invoke(context.Background(), "t", json.RawMessage(`{}`), "")

	require.True(t, env.Ok)
	assert.NotEmpty(t, seen)
	assert.Equal(t, env.TraceID, seen, "the envelope trace id and the handler's context trace id must match")
}
