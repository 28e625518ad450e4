package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/breaker"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/clock"
)

// Status is the aggregate health of the process's dependencies.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Per-dependency record statuses.
const (
	recordHealthy   = "healthy"
	recordUnhealthy = "unhealthy"
	recordStale     = "stale"
	recordUnknown   = "unknown"
)

// ProbeFunc checks one dependency. It must be lightweight: a ping or
// version endpoint, never a real generation request.
type ProbeFunc func(ctx context.Context) error

// Record is the cached result of the most recent probe of one dependency.
type Record struct {
	Status       string        `json:"status"`
	Message      string        `json:"message,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Report is the non-blocking aggregate view served to operational
// endpoints.
type Report struct {
	Status       Status            `json:"status"`
	Dependencies map[string]Record `json:"dependencies"`
}

// Aggregator owns the probe loop and the record cache. It only reads
// breaker state and executes probes; it never resets another component's
// counters.
type Aggregator struct {
	registry     *breaker.Registry
	clk          clock.Clock
	interval     time.Duration
	probeTimeout time.Duration
	ttl          time.Duration
	logger       *slog.Logger

	mu      sync.RWMutex
	probes  map[string]ProbeFunc
	records map[string]Record
	job     clock.Job
}

// NewAggregator creates an aggregator. interval drives the probe cycle,
// probeTimeout bounds each individual probe, and ttl marks how long a
// cached record stays trustworthy.
func NewAggregator(registry *breaker.Registry, clk clock.Clock, interval, probeTimeout, ttl time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		registry:     registry,
		clk:          clk,
		interval:     interval,
		probeTimeout: probeTimeout,
		ttl:          ttl,
		logger:       logger,
		probes:       make(map[string]ProbeFunc),
		records:      make(map[string]Record),
	}
}

// Register adds a dependency to the probe cycle.
func (a *Aggregator) Register(dependency string, probe ProbeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.probes[dependency] = probe
	a.records[dependency] = Record{Status: recordUnknown, CheckedAt: a.clk.Now()}
}

// Start runs one immediate probe cycle to warm the cache, then probes on
// the configured interval until Stop.
func (a *Aggregator) Start() {
	a.probeAll()

	a.mu.Lock()
	a.job = a.clk.Every(a.interval, a.probeAll)
	a.mu.Unlock()

	a.logger.Info("Health aggregator started",
		slog.Duration("interval", a.interval))
}

// Stop halts the probe cycle. Cached records remain readable.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	job := a.job
	a.job = nil
	a.mu.Unlock()

	if job != nil {
		job.Stop()
	}

	a.logger.Info("Health aggregator stopped")
}

func (a *Aggregator) probeAll() {
	a.mu.RLock()
	probes := make(map[string]ProbeFunc, len(a.probes))
	for name, probe := range a.probes {
		probes[name] = probe
	}
	a.mu.RUnlock()

	for name, probe := range probes {
		a.probeOne(name, probe)
	}
}

func (a *Aggregator) probeOne(name string, probe ProbeFunc) {
	cb := a.registry.GetBreaker(name)
	start := a.clk.Now()

	ctx, cancel := context.WithTimeout(context.Background(), a.probeTimeout)
	defer cancel()

	// An open circuit answers through the fallback without touching the
	// dependency.
	_, err := cb.Do(ctx, func(ctx context.Context) (any, error) {
		return nil, probe(ctx)
	}, func(rejection error) (any, error) {
		return nil, rejection
	})

	record := Record{
		Status:       recordHealthy,
		ResponseTime: a.clk.Now().Sub(start),
		CheckedAt:    a.clk.Now(),
	}

	if err != nil {
		record.Status = recordUnhealthy
		record.Message = err.Error()
	}

	a.mu.Lock()
	previous := a.records[name]
	a.records[name] = record
	a.mu.Unlock()

	if previous.Status != record.Status {
		if record.Status == recordHealthy {
			a.logger.Info("Dependency is back up", slog.String("dependency", name))
		} else {
			a.logger.Warn("Dependency is down",
				slog.String("dependency", name),
				slog.String("reason", record.Message))
		}
	}
}

// Report returns the cached records and the aggregate status. It never
// probes; records older than the TTL are reported as stale.
func (a *Aggregator) Report() Report {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.clk.Now()

	report := Report{Dependencies: make(map[string]Record, len(a.records))}

	healthy := 0
	for name, record := range a.records {
		if record.Status == recordHealthy && now.Sub(record.CheckedAt) > a.ttl {
			record.Status = recordStale
		}

		if record.Status == recordHealthy {
			healthy++
		}

		report.Dependencies[name] = record
	}

	report.Status = overall(healthy, len(a.records))

	return report
}

// overall applies the aggregation rule: healthy only when everything is,
// unhealthy when a majority is down, degraded in between.
func overall(healthy, total int) Status {
	switch {
	case total == 0 || healthy == total:
		return StatusHealthy
	case healthy*2 < total:
		return StatusUnhealthy
	default:
		return StatusDegraded
	}
}
