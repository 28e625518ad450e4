// Package ratelimit implements the tiered admission gate that runs before
// any request reaches a circuit breaker. Quotas are fixed-window counters
// keyed by (identity, category), with the limit chosen by the request's
// category and plan tier. The limiter never performs I/O; all state is
// in-process, held in a bounded LRU so idle identities age out.
package ratelimit
