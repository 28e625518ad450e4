package metrics

import (
	"sort"
	"sync"
	"time"
)

// Rejection reasons attached to EventRejected.
const (
	ReasonCircuitOpen = "circuit_open"
	ReasonRateLimited = "rate_limited"
)

type Metrics struct {
	mutex       sync.RWMutex
	admitted    map[string]int64
	rejections  map[string]map[string]int64 // dependency -> reason -> count
	completed   map[string]int64
	failures    map[string]int64
	slowCalls   map[string]int64
	durations   map[string][]time.Duration
	states      map[string]string
	transitions map[string]int64
	startTime   time.Time
}

type Snapshot struct {
	TotalAdmitted int64                        `json:"total_admitted"`
	TotalRejected int64                        `json:"total_rejected"`
	Uptime        time.Duration                `json:"uptime"`
	Dependencies  map[string]DependencyMetrics `json:"dependencies"`
}

type DependencyMetrics struct {
	Admitted    int64            `json:"admitted"`
	Rejections  map[string]int64 `json:"rejections"`
	Completed   int64            `json:"completed"`
	Failures    int64            `json:"failures"`
	FailureRate float64          `json:"failure_rate"`
	SlowCalls   int64            `json:"slow_calls"`
	State       string           `json:"state"`
	Transitions int64            `json:"transitions"`
	AvgDuration time.Duration    `json:"avg_duration"`
	P50Duration time.Duration    `json:"p50_duration"`
	P95Duration time.Duration    `json:"p95_duration"`
	P99Duration time.Duration    `json:"p99_duration"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		admitted:    make(map[string]int64),
		rejections:  make(map[string]map[string]int64),
		completed:   make(map[string]int64),
		failures:    make(map[string]int64),
		slowCalls:   make(map[string]int64),
		durations:   make(map[string][]time.Duration),
		states:      make(map[string]string),
		transitions: make(map[string]int64),
		startTime:   time.Now(),
	}
}

func (m *Metrics) RecordAdmission(dependency string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.admitted[dependency]++
}

func (m *Metrics) RecordRejection(dependency, reason string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.rejections[dependency] == nil {
		m.rejections[dependency] = make(map[string]int64)
	}
	m.rejections[dependency][reason]++
}

func (m *Metrics) RecordCompletion(dependency string, duration time.Duration, success, slow bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.completed[dependency]++

	if !success {
		m.failures[dependency]++
	}

	if slow {
		m.slowCalls[dependency]++
	}

	m.durations[dependency] = append(m.durations[dependency], duration)

	if len(m.durations[dependency]) > 1000 {
		m.durations[dependency] = m.durations[dependency][1:]
	}
}

func (m *Metrics) RecordStateChange(dependency, state string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.states[dependency] = state
	m.transitions[dependency]++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:       time.Since(m.startTime),
		Dependencies: make(map[string]DependencyMetrics),
	}

	// Collect all dependency names seen on any path
	allDeps := make(map[string]bool)
	for dep := range m.admitted {
		allDeps[dep] = true
	}
	for dep := range m.rejections {
		allDeps[dep] = true
	}
	for dep := range m.completed {
		allDeps[dep] = true
	}
	for dep := range m.states {
		allDeps[dep] = true
	}

	for dep := range allDeps {
		snap.TotalAdmitted += m.admitted[dep]

		dm := DependencyMetrics{
			Admitted:    m.admitted[dep],
			Rejections:  m.rejections[dep],
			Completed:   m.completed[dep],
			Failures:    m.failures[dep],
			SlowCalls:   m.slowCalls[dep],
			State:       m.states[dep],
			Transitions: m.transitions[dep],
		}

		for _, count := range m.rejections[dep] {
			snap.TotalRejected += count
		}

		if dm.Completed > 0 {
			dm.FailureRate = float64(dm.Failures) / float64(dm.Completed)
		}

		durations := m.durations[dep]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			dm.AvgDuration = average(sorted)
			dm.P50Duration = percentile(sorted, 0.50)
			dm.P95Duration = percentile(sorted, 0.95)
			dm.P99Duration = percentile(sorted, 0.99)
		}

		snap.Dependencies[dep] = dm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
