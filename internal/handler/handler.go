package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/breaker"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/metrics"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/ratelimit"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/supervisor"
)

const (
	defaultTier = "free"
	maxBodySize = 1 << 20 // 1 MiB request payload cap
)

// Route maps one request category to its upstream dependency.
type Route struct {
	Dependency string
	Path       string
	Fallback   string
	Upstream   *Upstream
}

// RelayHandler serves POST /v1/relay/{category}: rate limit first, then a
// breaker-supervised streaming call, relayed to the client as SSE.
type RelayHandler struct {
	logger           *slog.Logger
	limiter          *ratelimit.Limiter
	super            *supervisor.Supervisor
	routes           map[string]Route
	registry         *breaker.Registry
	metricsCollector *metrics.Collector
}

func NewRelayHandler(logger *slog.Logger, limiter *ratelimit.Limiter, super *supervisor.Supervisor, routes map[string]Route, registry *breaker.Registry, collector *metrics.Collector) *RelayHandler {
	return &RelayHandler{
		logger:           logger,
		limiter:          limiter,
		super:            super,
		routes:           routes,
		registry:         registry,
		metricsCollector: collector,
	}
}

func (h *RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	category := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/relay/"), "/")

	route, ok := h.routes[category]
	if !ok {
		http.Error(w, "unknown category", http.StatusNotFound)
		return
	}

	identity := extractIdentity(r)
	tier := r.Header.Get("X-Plan-Tier")
	if tier == "" {
		tier = defaultTier
	}

	decision := h.limiter.Admit(identity, category, tier)
	writeRateLimitHeaders(w, decision)

	if !decision.Allowed {
		h.emitEvent(metrics.Event{
			Type:       metrics.EventRejected,
			Timestamp:  time.Now(),
			Dependency: route.Dependency,
			Reason:     metrics.ReasonRateLimited,
		})

		h.logger.Info("Rate limit exceeded",
			slog.String("identity", identity),
			slog.String("category", category),
			slog.String("tier", tier))

		w.Header().Set("Retry-After", strconv.FormatInt(decision.RetryAfterSeconds(), 10))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)

		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	h.logger.Info("Relaying request",
		slog.String("identity", identity),
		slog.String("category", category),
		slog.String("dependency", route.Dependency))

	h.emitEvent(metrics.Event{
		Type:       metrics.EventAdmitted,
		Timestamp:  time.Now(),
		Dependency: route.Dependency,
	})

	start := time.Now()

	chunks := h.super.Execute(r.Context(), supervisor.RequestSpec{
		Dependency: route.Dependency,
		Open:       route.Upstream.Stream(route.Path, body, r.Header.Get("Content-Type")),
		Fallback:   route.Fallback,
	})

	completed := h.stream(w, route.Dependency, chunks)

	duration := time.Since(start)

	h.emitEvent(metrics.Event{
		Type:       metrics.EventCompleted,
		Timestamp:  time.Now(),
		Dependency: route.Dependency,
		Duration:   duration,
		Success:    completed,
		Slow:       duration > h.registry.GetBreaker(route.Dependency).SlowCallDuration(),
	})
}

// stream relays the chunk sequence as server-sent events. The response
// status is decided by the first chunk: a terminal error before any output
// maps to an HTTP error, anything else starts a 200 event stream.
func (h *RelayHandler) stream(w http.ResponseWriter, dependency string, chunks <-chan supervisor.Chunk) bool {
	first, ok := <-chunks
	if !ok {
		// Stream ended without output or error: caller cancelled early.
		return false
	}

	if first.Err != nil {
		h.writeError(w, dependency, first.Err)
		return false
	}

	flusher, canFlush := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeChunk := func(chunk supervisor.Chunk) {
		if chunk.Err != nil {
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", chunk.Err.Error())
		} else {
			fmt.Fprintf(w, "data: %s\n\n", chunk.Data)
		}

		if canFlush {
			flusher.Flush()
		}
	}

	writeChunk(first)

	aborted := false

	for chunk := range chunks {
		writeChunk(chunk)

		if chunk.Err != nil {
			aborted = true
		}
	}

	if !aborted {
		fmt.Fprint(w, "data: [DONE]\n\n")

		if canFlush {
			flusher.Flush()
		}
	}

	return !aborted
}

// writeError maps a pre-stream failure to an HTTP status. Circuit-open is
// the one case that must carry a concrete retry-after signal.
func (h *RelayHandler) writeError(w http.ResponseWriter, dependency string, err error) {
	var openErr *breaker.OpenError
	if errors.As(err, &openErr) {
		h.emitEvent(metrics.Event{
			Type:       metrics.EventRejected,
			Timestamp:  time.Now(),
			Dependency: dependency,
			Reason:     metrics.ReasonCircuitOpen,
		})

		retryAfter := int64(openErr.RetryAfter / time.Second)
		if openErr.RetryAfter%time.Second != 0 {
			retryAfter++
		}

		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		http.Error(w, "dependency unavailable, circuit open", http.StatusServiceUnavailable)

		return
	}

	var depErr *supervisor.DependencyError
	if errors.As(err, &depErr) && depErr.StatusCode >= 400 && depErr.StatusCode < 500 {
		http.Error(w, depErr.Message, depErr.StatusCode)
		return
	}

	h.logger.Warn("Relay call failed",
		slog.String("dependency", dependency),
		slog.String("error", err.Error()))

	http.Error(w, "upstream dependency failed", http.StatusBadGateway)
}

func (h *RelayHandler) emitEvent(event metrics.Event) {
	if h.metricsCollector == nil {
		return
	}

	h.metricsCollector.Emit(event)
}

func writeRateLimitHeaders(w http.ResponseWriter, decision ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt, 10))
	w.Header().Set("X-RateLimit-Category", decision.Category)
	w.Header().Set("X-RateLimit-Tier", decision.Tier)
}

func extractIdentity(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)

	return host
}
