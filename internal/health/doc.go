// Package health maintains cached health records for every external
// dependency. A timer-driven cycle probes each dependency through its
// circuit breaker, so an open circuit short-circuits the probe instead of
// issuing a redundant call. Report always answers from the cache and never
// blocks on a slow dependency.
package health
