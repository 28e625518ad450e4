// Package metrics provides real-time metrics collection for the resilience
// relay.
//
// It uses a channel-based event pipeline to asynchronously collect metrics
// about:
//   - Admissions and rejections (circuit open vs. rate limited) per dependency
//   - Call outcomes, failure rate, and slow-call counts
//   - Call durations with percentile calculations (P50, P95, P99)
//   - Circuit breaker state transitions
//
// The collector runs in a dedicated goroutine and processes events without
// blocking the request path. Events are sent via buffered channels with
// non-blocking semantics so a full pipeline drops data rather than slowing
// calls down.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.Event{
//		Type:       metrics.EventCompleted,
//		Dependency: "text-generation",
//		Duration:   150 * time.Millisecond,
//		Success:    true,
//	})
//
//	snapshot := collector.Snapshot()
//
// The package provides thread-safe metrics storage using sync.RWMutex and
// supports graceful shutdown with event draining to prevent data loss.
package metrics
