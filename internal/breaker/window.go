package breaker

// windowBucket is one time slice of the rolling window. Buckets are reset in
// place on rotation, never reallocated.
type windowBucket struct {
	calls    int64
	failures int64
	slow     int64
}

// window approximates sliding-window semantics with a fixed ring of time
// buckets: a rotation timer advances the cursor and clears the bucket the
// cursor moves onto, so samples older than the full window never contribute.
// The window is not internally synchronized; the owning breaker's mutex
// guards every access.
type window struct {
	buckets []windowBucket
	cursor  int
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}

	return &window{buckets: make([]windowBucket, size)}
}

func (w *window) record(failed, slow bool) {
	b := &w.buckets[w.cursor]
	b.calls++

	if failed {
		b.failures++
	}

	if slow {
		b.slow++
	}
}

// rotate advances the cursor and clears the now-current bucket. Rotating
// with no traffic is idempotent: an already-empty slice stays empty.
func (w *window) rotate() {
	w.cursor = (w.cursor + 1) % len(w.buckets)
	w.buckets[w.cursor] = windowBucket{}
}

func (w *window) totals() (calls, failures, slow int64) {
	for i := range w.buckets {
		calls += w.buckets[i].calls
		failures += w.buckets[i].failures
		slow += w.buckets[i].slow
	}

	return calls, failures, slow
}

func (w *window) failureRate() float64 {
	calls, failures, _ := w.totals()
	if calls == 0 {
		return 0
	}

	return float64(failures) / float64(calls)
}

func (w *window) slowRate() float64 {
	calls, _, slow := w.totals()
	if calls == 0 {
		return 0
	}

	return float64(slow) / float64(calls)
}

func (w *window) reset() {
	w.cursor = 0
	for i := range w.buckets {
		w.buckets[i] = windowBucket{}
	}
}
