package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a test clock. Time only moves when Advance is called, and
// scheduled jobs run synchronously on the advancing goroutine, in deadline
// order, so tests observe a fully settled state when Advance returns.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	jobs []*manualJob
}

type manualJob struct {
	clock    *Manual
	interval time.Duration
	next     time.Time
	fn       func()
	stopped  bool
}

// NewManual creates a manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

func (m *Manual) Every(interval time.Duration, fn func()) Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := &manualJob{
		clock:    m,
		interval: interval,
		next:     m.now.Add(interval),
		fn:       fn,
	}
	m.jobs = append(m.jobs, job)

	return job
}

// Advance moves the clock forward by d, firing every due job in deadline
// order. A job that fires more than once within d fires once per elapsed
// interval.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)

	for {
		job := m.nextDueLocked(target)
		if job == nil {
			break
		}

		m.now = job.next
		job.next = job.next.Add(job.interval)
		fn := job.fn
		m.mu.Unlock()

		fn()

		m.mu.Lock()
	}

	m.now = target
	m.mu.Unlock()
}

// nextDueLocked returns the job with the earliest deadline at or before
// target, or nil when none are due.
func (m *Manual) nextDueLocked(target time.Time) *manualJob {
	live := m.jobs[:0]
	for _, job := range m.jobs {
		if !job.stopped {
			live = append(live, job)
		}
	}
	m.jobs = live

	sort.SliceStable(m.jobs, func(i, j int) bool {
		return m.jobs[i].next.Before(m.jobs[j].next)
	})

	if len(m.jobs) == 0 || m.jobs[0].next.After(target) {
		return nil
	}

	return m.jobs[0]
}

func (j *manualJob) Stop() {
	j.clock.mu.Lock()
	defer j.clock.mu.Unlock()

	j.stopped = true
}
