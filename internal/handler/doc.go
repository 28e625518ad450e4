// Package handler implements the relay's HTTP surface: the streaming relay
// endpoint (rate limit, then breaker-supervised upstream call, then SSE to
// the client) and the read-only health snapshot endpoint.
package handler
