// Package supervisor executes streaming calls to external AI services
// through their circuit breakers. It enforces a hard per-attempt timeout,
// forwards response chunks to the caller as they arrive, and retries
// qualifying transient failures with capped exponential backoff, but only
// while nothing has been delivered yet. Once a chunk has reached the
// caller, a later failure is surfaced as a terminal error chunk and never
// retried, so partial output is never duplicated.
package supervisor
