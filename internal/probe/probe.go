// Package probe periodically samples dependency health and local resource
// utilization, producing immutable snapshots. A metrics.updated event is
// published every cycle even when nothing changed — observers rely on the
// heartbeat cadence to detect staleness.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/opsdeck/opsdeck/internal/config"
	"github.com/opsdeck/opsdeck/internal/httpx"
	"github.com/opsdeck/opsdeck/internal/metrics"
	"github.com/opsdeck/opsdeck/internal/models"
)

// Health classifies a probed dependency.
type Health string

const (
	Healthy     Health = "healthy"
	Degraded    Health = "degraded"
	Unavailable Health = "unavailable"
)

// DependencyStatus is one dependency's classification in a snapshot.
type DependencyStatus struct {
	Health    Health  `json:"health"`
	LatencyMS float64 `json:"latency_ms"`
}

// Snapshot is an immutable health sample. Snapshots are superseded, never
// mutated; the newest one is authoritative.
type Snapshot struct {
	SampledAt    time.Time                   `json:"sampled_at"`
	Utilization  map[string]float64          `json:"utilization"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}

// Checker performs a single health check against one dependency. The
// context carries the per-dependency timeout.
type Checker interface {
	Check(ctx context.Context, target config.DependencyTarget) (time.Duration, error)
}

// UtilizationSource samples local resource utilization on a 0–100 scale.
// How the numbers are obtained is outside the probe's concern.
type UtilizationSource interface {
	Sample() map[string]float64
}

// Publisher is the slice of the bus the probe needs.
type Publisher interface {
	Publish(topic models.Topic, eventType string, payload any) models.Event
}

// ---------------------------------------------------------------------------
// Default implementations
// ---------------------------------------------------------------------------

// HTTPChecker probes a dependency's health endpoint over HTTP. No retries:
// one attempt per cycle, bounded by the context deadline.
type HTTPChecker struct {
	client *httpx.Client
}

// NewHTTPChecker creates an HTTPChecker with the given per-request timeout.
func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{client: httpx.NewClient(timeout, 0)}
}

// Check GETs the target URL and measures latency. Any non-2xx status or
// transport error counts as a failed check.
func (c *HTTPChecker) Check(ctx context.Context, target config.DependencyTarget) (time.Duration, error) {
	start := time.Now()
	resp, err := c.client.Get(ctx, target.URL)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return elapsed, fmt.Errorf("status %d", resp.StatusCode)
	}
	return elapsed, nil
}

// RuntimeSource reports Go runtime utilization: heap usage and the GC's
// share of CPU, both on a 0–100 scale.
type RuntimeSource struct{}

// Sample implements UtilizationSource.
func (RuntimeSource) Sample() map[string]float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	heap := 0.0
	if ms.HeapSys > 0 {
		heap = float64(ms.HeapAlloc) / float64(ms.HeapSys) * 100
	}
	return map[string]float64{
		"heap":   heap,
		"gc_cpu": ms.GCCPUFraction * 100,
	}
}

// ---------------------------------------------------------------------------
// Probe
// ---------------------------------------------------------------------------

// observation is one check outcome kept in the per-dependency window.
type observation struct {
	reachable bool
	withinSLA bool
}

// Probe samples all configured dependencies each cycle.
type Probe struct {
	pub     Publisher
	checker Checker
	util    UtilizationSource
	targets []config.DependencyTarget

	window  int
	sla     time.Duration
	timeout time.Duration

	mu      sync.Mutex
	history map[string][]observation
	current Snapshot
}

// Options configures a Probe.
type Options struct {
	Targets []config.DependencyTarget
	Window  int           // consecutive samples for healthy/unavailable classification
	SLA     time.Duration // latency budget for a sample to count as healthy
	Timeout time.Duration // per-dependency check timeout
}

// New creates a Probe.
func New(pub Publisher, checker Checker, util UtilizationSource, opts Options) *Probe {
	if opts.Window <= 0 {
		opts.Window = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.SLA <= 0 {
		opts.SLA = 500 * time.Millisecond
	}
	return &Probe{
		pub:     pub,
		checker: checker,
		util:    util,
		targets: opts.Targets,
		window:  opts.Window,
		sla:     opts.SLA,
		timeout: opts.Timeout,
		history: make(map[string][]observation),
	}
}

// Current returns the most recent snapshot.
func (p *Probe) Current() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Sample checks every dependency concurrently, each under its own timeout
// so one unreachable dependency cannot stall its siblings, then publishes
// metrics.updated.
func (p *Probe) Sample(ctx context.Context) Snapshot {
	type result struct {
		name    string
		latency time.Duration
		err     error
	}

	resCh := make(chan result, len(p.targets))
	for _, target := range p.targets {
		go func(t config.DependencyTarget) {
			cctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			latency, err := p.checker.Check(cctx, t)
			resCh <- result{name: t.Name, latency: latency, err: err}
		}(target)
	}

	results := make(map[string]result, len(p.targets))
	for range p.targets {
		res := <-resCh
		results[res.name] = res
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	deps := make(map[string]DependencyStatus, len(results))
	for name, res := range results {
		obs := observation{
			reachable: res.err == nil,
			withinSLA: res.err == nil && res.latency <= p.sla,
		}
		win := append(p.history[name], obs)
		if len(win) > p.window {
			win = win[len(win)-p.window:]
		}
		p.history[name] = win

		health := classify(win, p.window)
		deps[name] = DependencyStatus{
			Health:    health,
			LatencyMS: float64(res.latency.Milliseconds()),
		}
		metrics.SetDependencyUp(name, healthGauge(health))

		if res.err != nil {
			// Partial observability is steady-state behaviour, not a
			// fault: record and move on.
			slog.Debug("dependency check failed", "dependency", name, "error", res.err)
		}
	}

	snap := Snapshot{
		SampledAt:    time.Now().UTC(),
		Utilization:  p.util.Sample(),
		Dependencies: deps,
	}
	p.current = snap
	p.pub.Publish(models.TopicMetrics, models.EventMetricsUpdated, snap)
	return snap
}

// Run samples immediately and then on every tick until ctx is cancelled.
func (p *Probe) Run(ctx context.Context, interval time.Duration) {
	p.Sample(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sample(ctx)
		}
	}
}

// classify maps a window of observations to a health state. A full window
// of in-SLA successes is healthy, a full window of unreachable samples is
// unavailable, anything mixed is degraded. Before the window fills, an
// unblemished record is reported healthy rather than penalizing startup.
func classify(win []observation, window int) Health {
	allOK := true
	allDown := true
	for _, o := range win {
		if !o.withinSLA {
			allOK = false
		}
		if o.reachable {
			allDown = false
		}
	}

	switch {
	case allOK:
		return Healthy
	case allDown && len(win) >= window:
		return Unavailable
	default:
		return Degraded
	}
}

func healthGauge(h Health) float64 {
	switch h {
	case Healthy:
		return 1
	case Degraded:
		return 0.5
	default:
		return 0
	}
}
