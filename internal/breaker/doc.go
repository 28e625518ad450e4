// Package breaker implements per-dependency circuit breaking for external
// AI services. Each breaker is a three-state machine:
//
//   - CLOSED: normal operation, calls admitted
//   - OPEN: dependency failing, calls rejected without any I/O
//   - HALF-OPEN: a bounded number of probe calls test recovery
//
// Outcomes are tracked both as consecutive counters and in a rolling
// sliding window of fixed time buckets, so a breaker trips on a burst of
// consecutive failures, on a sustained window failure rate, or on a
// sustained slow-call rate.
//
// Usage:
//
//	registry := breaker.NewRegistry(clock.System(), breaker.Config{})
//	cb := registry.GetBreaker("text-generation")
//	result, err := cb.Do(ctx, func(ctx context.Context) (any, error) {
//	    return callService(ctx)
//	}, nil)
//
// Streaming callers that cannot express their work as a single function use
// Admit/Record directly; see the supervisor package.
package breaker
