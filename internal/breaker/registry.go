package breaker

import (
	"sync"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/clock"
)

// Registry owns the process's breakers, one per dependency name. It is
// created by startup code and passed by reference to consumers; there is no
// package-level instance.
type Registry struct {
	mu            sync.RWMutex
	breakers      map[string]*CircuitBreaker
	configs       map[string]Config
	defaults      Config
	clk           clock.Clock
	onStateChange StateChangeFunc
}

// NewRegistry creates a registry. Dependencies without an explicit
// Configure call get the defaults config.
func NewRegistry(clk clock.Clock, defaults Config) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		configs:  make(map[string]Config),
		defaults: defaults,
		clk:      clk,
	}
}

// Configure sets the config used when the named dependency's breaker is
// first created. It has no effect on an already-created breaker.
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[name] = cfg
}

// OnStateChange sets the callback attached to every breaker created from
// now on.
func (r *Registry) OnStateChange(fn StateChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onStateChange = fn
}

// GetBreaker returns the breaker for the named dependency, creating it on
// first use.
func (r *Registry) GetBreaker(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, exists := r.breakers[name]
	r.mu.RUnlock()

	if exists {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.defaults
	}

	cb = New(name, cfg, r.clk)
	if r.onStateChange != nil {
		cb.OnStateChange(r.onStateChange)
	}

	r.breakers[name] = cb

	return cb
}

// Names returns the names of all created breakers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}

	return names
}

// Snapshots returns a point-in-time view of every breaker, keyed by
// dependency name.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make(map[string]Snapshot, len(r.breakers))
	for name, cb := range r.breakers {
		snaps[name] = cb.Snapshot()
	}

	return snaps
}

// StopAll releases every breaker's rotation job.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cb := range r.breakers {
		cb.Stop()
	}
}
