package handler_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/breaker"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/clock"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/handler"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/metrics"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/ratelimit"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/supervisor"
)

var _ = Describe("RelayHandler", func() {
	var (
		clk       *clock.Manual
		registry  *breaker.Registry
		limiter   *ratelimit.Limiter
		upstream  *httptest.Server
		relay     *handler.RelayHandler
		fallback  string
		collector *metrics.Collector
	)

	quotas := map[string]map[string]ratelimit.Quota{
		"chat": {
			"free":    {Limit: 3, Window: time.Minute},
			"premium": {Limit: 100, Window: time.Minute},
		},
	}

	BeforeEach(func() {
		clk = clock.NewManual(time.Unix(1700000000, 0))
		registry = breaker.NewRegistry(clk, breaker.Config{
			FailureThreshold: 5,
			IsFailure:        supervisor.IsFailure,
		})

		var err error
		limiter, err = ratelimit.NewLimiter(clk, quotas, ratelimit.Quota{Limit: 10, Window: time.Minute})
		Expect(err).NotTo(HaveOccurred())

		mux := http.NewServeMux()
		mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
			for i := 0; i < 3; i++ {
				fmt.Fprintf(w, `{"token":"tok-%d"}`+"\n", i)
			}
		})
		mux.HandleFunc("/missing-model", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		})
		upstream = httptest.NewServer(mux)

		fallback = ""
		collector = nil
	})

	AfterEach(func() {
		upstream.Close()
		registry.StopAll()
	})

	// buildRelay is deferred to JustBeforeEach so tests can adjust the route
	// and breaker config first.
	buildRelay := func(path string) {
		up, err := handler.NewUpstream("text-generation", upstream.URL)
		Expect(err).NotTo(HaveOccurred())

		super := supervisor.New(registry, supervisor.Config{
			MaxRetries:     0,
			RetryBaseDelay: time.Millisecond,
		})

		routes := map[string]handler.Route{
			"chat": {
				Dependency: "text-generation",
				Path:       path,
				Fallback:   fallback,
				Upstream:   up,
			},
		}

		relay = handler.NewRelayHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), limiter, super, routes, registry, collector)
	}

	post := func(target string) *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodPost, target, strings.NewReader(`{"prompt":"hi"}`))
		request.Header.Set("X-API-Key", "key-1")

		relay.ServeHTTP(recorder, request)

		return recorder
	}

	It("should relay the upstream stream as server-sent events", func() {
		buildRelay("/generate")

		recorder := post("/v1/relay/chat")

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Header().Get("Content-Type")).To(Equal("text/event-stream"))

		body := recorder.Body.String()
		Expect(body).To(ContainSubstring(`data: {"token":"tok-0"}` + "\n\n"))
		Expect(body).To(ContainSubstring(`data: {"token":"tok-2"}` + "\n\n"))
		Expect(strings.HasSuffix(body, "data: [DONE]\n\n")).To(BeTrue())
	})

	It("should attach rate limit headers to every response", func() {
		buildRelay("/generate")

		recorder := post("/v1/relay/chat")

		Expect(recorder.Header().Get("X-RateLimit-Remaining")).To(Equal("2"))
		Expect(recorder.Header().Get("X-RateLimit-Category")).To(Equal("chat"))
		Expect(recorder.Header().Get("X-RateLimit-Tier")).To(Equal("free"))
		Expect(recorder.Header().Get("X-RateLimit-Reset")).NotTo(BeEmpty())
	})

	It("should reject non-POST methods", func() {
		buildRelay("/generate")

		recorder := httptest.NewRecorder()
		relay.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/relay/chat", nil))

		Expect(recorder.Code).To(Equal(http.StatusMethodNotAllowed))
	})

	It("should return 404 for an unknown category", func() {
		buildRelay("/generate")

		recorder := post("/v1/relay/video")

		Expect(recorder.Code).To(Equal(http.StatusNotFound))
	})

	It("should return 429 with Retry-After once the quota is spent", func() {
		buildRelay("/generate")

		for i := 0; i < 3; i++ {
			Expect(post("/v1/relay/chat").Code).To(Equal(http.StatusOK))
		}

		recorder := post("/v1/relay/chat")

		Expect(recorder.Code).To(Equal(http.StatusTooManyRequests))
		Expect(recorder.Header().Get("Retry-After")).To(Equal("60"))
		Expect(recorder.Header().Get("X-RateLimit-Remaining")).To(Equal("0"))
	})

	It("should rate limit per tier", func() {
		buildRelay("/generate")

		for i := 0; i < 3; i++ {
			post("/v1/relay/chat")
		}

		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodPost, "/v1/relay/chat", strings.NewReader("{}"))
		request.Header.Set("X-API-Key", "key-1")
		request.Header.Set("X-Plan-Tier", "premium")

		relay.ServeHTTP(recorder, request)

		Expect(recorder.Code).To(Equal(http.StatusOK))
	})

	Context("with the circuit open", func() {
		BeforeEach(func() {
			registry.Configure("text-generation", breaker.Config{
				FailureThreshold: 1,
				ResetTimeout:     time.Minute,
				IsFailure:        supervisor.IsFailure,
			})

			cb := registry.GetBreaker("text-generation")
			permit, err := cb.Admit()
			Expect(err).NotTo(HaveOccurred())
			permit.Record(errors.New("boom"))
			Expect(cb.State()).To(Equal(breaker.StateOpen))
		})

		It("should answer 503 with a Retry-After when no fallback is set", func() {
			buildRelay("/generate")

			recorder := post("/v1/relay/chat")

			Expect(recorder.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(recorder.Header().Get("Retry-After")).To(Equal("60"))
			Expect(recorder.Body.String()).To(ContainSubstring("circuit open"))
		})

		It("should stream the configured fallback instead", func() {
			fallback = "The model is temporarily unavailable."
			buildRelay("/generate")

			recorder := post("/v1/relay/chat")

			Expect(recorder.Code).To(Equal(http.StatusOK))

			body := recorder.Body.String()
			Expect(body).To(ContainSubstring("data: The model is temporarily unavailable.\n\n"))
			Expect(strings.HasSuffix(body, "data: [DONE]\n\n")).To(BeTrue())
		})
	})

	Describe("completion metrics", func() {
		var (
			collectorCtx    context.Context
			collectorCancel context.CancelFunc
		)

		BeforeEach(func() {
			collector = metrics.NewCollector(64, slog.New(slog.NewTextHandler(io.Discard, nil)))
			collectorCtx, collectorCancel = context.WithCancel(context.Background())
			collector.Start(collectorCtx)
		})

		AfterEach(func() {
			collectorCancel()
		})

		It("should flag a completion as slow past the breaker threshold", func() {
			registry.Configure("text-generation", breaker.Config{
				SlowCallDuration: time.Nanosecond,
				IsFailure:        supervisor.IsFailure,
			})
			buildRelay("/generate")

			Expect(post("/v1/relay/chat").Code).To(Equal(http.StatusOK))

			Eventually(func() int64 {
				return collector.Snapshot().Dependencies["text-generation"].SlowCalls
			}).Should(Equal(int64(1)))
		})

		It("should not flag a completion under the breaker threshold", func() {
			registry.Configure("text-generation", breaker.Config{
				SlowCallDuration: time.Hour,
				IsFailure:        supervisor.IsFailure,
			})
			buildRelay("/generate")

			Expect(post("/v1/relay/chat").Code).To(Equal(http.StatusOK))

			Eventually(func() int64 {
				return collector.Snapshot().Dependencies["text-generation"].Completed
			}).Should(Equal(int64(1)))
			Expect(collector.Snapshot().Dependencies["text-generation"].SlowCalls).To(BeZero())
		})
	})

	It("should pass a 4xx upstream rejection through", func() {
		buildRelay("/missing-model")

		recorder := post("/v1/relay/chat")

		Expect(recorder.Code).To(Equal(http.StatusNotFound))
		Expect(recorder.Body.String()).To(ContainSubstring("model not found"))
	})

	It("should answer 502 when the upstream is unreachable", func() {
		upstream.Close()
		buildRelay("/generate")

		recorder := post("/v1/relay/chat")

		Expect(recorder.Code).To(Equal(http.StatusBadGateway))
	})
})
