// Package ready implements the composite readiness orchestrator:
// independent, timeout-bounded probes over the metadata store
// and vector store, with a short result cache to absorb probe storms.
package ready

import (
	"context"
	"sync"
	"time"

	"github.com/vallancelee/biomcp/internal/telemetry"
)

// Probe checks one dependency's health. Implementations must honor
// ctx's deadline and return promptly on cancellation.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// probeTimeout bounds each individual probe independently.
const probeTimeout = 5 * time.Second

// cacheTTL is how long a composite result is reused before the probes
// run again, so bursts of /ready polls don't become probe storms.
const cacheTTL = 5 * time.Second

// ProbeResult is one probe's outcome.
type ProbeResult struct {
	Name  string
	OK    bool
	Error string
}

// Report is the composite readiness outcome.
type Report struct {
	Ready  bool
	Probes []ProbeResult
	AsOf   time.Time
}

// Orchestrator runs Probes and caches the composite result.
type Orchestrator struct {
	probes []Probe
	now    func() time.Time

	mu     sync.Mutex
	cached *Report
}

// New builds an Orchestrator over probes, checked in the order given.
func New(probes ...Probe) *Orchestrator {
	return &Orchestrator{probes: probes, now: time.Now}
}

// Ready runs the composite readiness check, returning a cached result
// if one was produced within the last cacheTTL.
func (o *Orchestrator) Ready(ctx context.Context) Report {
	o.mu.Lock()
	if o.cached != nil && o.now().Sub(o.cached.AsOf) < cacheTTL {
		cached := *o.cached
		o.mu.Unlock()
		return cached
	}
	o.mu.Unlock()

	report := o.runProbes(ctx)

	o.mu.Lock()
	o.cached = &report
	o.mu.Unlock()
	return report
}

func (o *Orchestrator) runProbes(ctx context.Context) Report {
	results := make([]ProbeResult, len(o.probes))
	var wg sync.WaitGroup
	for i, p := range o.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			start := time.Now()
			err := p.Check(probeCtx)
			telemetry.ReadyProbeDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
			results[i] = ProbeResult{Name: p.Name(), OK: err == nil}
			if err != nil {
				results[i].Error = err.Error()
				telemetry.ReadyProbeFailures.WithLabelValues(p.Name()).Inc()
			}
		}(i, p)
	}
	wg.Wait()

	ready := true
	for _, r := range results {
		if !r.OK {
			ready = false
			break
		}
	}
	return Report{Ready: ready, Probes: results, AsOf: o.now()}
}

// Live always reports healthy while the process is running.
func Live() bool { return true }
