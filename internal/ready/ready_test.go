package ready

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	name string
	err  error
}

func (p fakeProbe) Name() string                      { return p.name }
func (p fakeProbe) Check(ctx context.Context) error    { return p.err }

func TestOrchestrator_Ready_AllHealthy(t *testing.T) {
	o := New(fakeProbe{name: "db"}, fakeProbe{name: "vector"})
	report := o.Ready(context.Background())
	assert.True(t, report.Ready)
	require.Len(t, report.Probes, 2)
}

func TestOrchestrator_Ready_OneUnhealthyFailsComposite(t *testing.T) {
	o := New(fakeProbe{name: "db"}, fakeProbe{name: "vector", err: errors.New("unreachable")})
	report := o.Ready(context.Background())
	assert.False(t, report.Ready)
}

func TestOrchestrator_Ready_CachesWithinTTL(t *testing.T) {
	calls := 0
	o := New(countingProbe{calls: &calls})
	ctx := context.Background()

	o.Ready(ctx)
	o.Ready(ctx)
	assert.Equal(t, 1, calls, "second call within TTL must reuse the cached report")
}

func TestOrchestrator_Ready_RefreshesAfterTTL(t *testing.T) {
	calls := 0
	o := New(countingProbe{calls: &calls})
	fakeNow := time.Now()
	o.now = func() time.Time { return fakeNow }
	ctx := context.Background()

	o.Ready(ctx)
	fakeNow = fakeNow.Add(6 * time.Second)
	o.Ready(ctx)
	assert.Equal(t, 2, calls)
}

type countingProbe struct {
	calls *int
}

func (countingProbe) Name() string { return "counting" }
func (p countingProbe) Check(context.Context) error {
	*p.calls++
	return nil
}

func TestLive_AlwaysTrue(t *testing.T) {
	assert.True(t, Live())
}
