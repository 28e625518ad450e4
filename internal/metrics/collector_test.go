package metrics_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/metrics"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		collector = metrics.NewCollector(64, slog.New(slog.NewTextHandler(io.Discard, nil)))
		ctx, cancel = context.WithCancel(context.Background())
		collector.Start(ctx)
	})

	AfterEach(func() {
		cancel()
	})

	It("should fold emitted events into the metrics", func() {
		collector.Emit(metrics.Event{Type: metrics.EventAdmitted, Dependency: "llm"})
		collector.Emit(metrics.Event{Type: metrics.EventRejected, Dependency: "llm", Reason: metrics.ReasonCircuitOpen})
		collector.Emit(metrics.Event{
			Type:       metrics.EventCompleted,
			Dependency: "llm",
			Duration:   200 * time.Millisecond,
			Success:    true,
		})
		collector.Emit(metrics.Event{Type: metrics.EventStateChanged, Dependency: "llm", State: "OPEN"})

		Eventually(func() metrics.Snapshot {
			return collector.Snapshot()
		}).Should(Satisfy(func(snap metrics.Snapshot) bool {
			dm := snap.Dependencies["llm"]
			return dm.Admitted == 1 &&
				dm.Rejections[metrics.ReasonCircuitOpen] == 1 &&
				dm.Completed == 1 &&
				dm.State == "OPEN"
		}))
	})

	It("should never block the producer when the pipeline is full", func() {
		full := metrics.NewCollector(1, slog.New(slog.NewTextHandler(io.Discard, nil)))

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 100; i++ {
				full.Emit(metrics.Event{Type: metrics.EventAdmitted, Dependency: "llm"})
			}
		}()

		Eventually(done).Should(BeClosed())
	})

	It("should drain buffered events on shutdown", func() {
		idle := metrics.NewCollector(64, slog.New(slog.NewTextHandler(io.Discard, nil)))
		idleCtx, idleCancel := context.WithCancel(context.Background())

		for i := 0; i < 10; i++ {
			idle.Emit(metrics.Event{Type: metrics.EventAdmitted, Dependency: "llm"})
		}

		idle.Start(idleCtx)
		idleCancel()

		Eventually(func() int64 {
			return idle.Snapshot().Dependencies["llm"].Admitted
		}).Should(Equal(int64(10)))
	})

	Describe("Handler", func() {
		It("should serve the snapshot as JSON", func() {
			collector.Emit(metrics.Event{Type: metrics.EventAdmitted, Dependency: "llm"})

			Eventually(func() int64 {
				return collector.Snapshot().TotalAdmitted
			}).Should(Equal(int64(1)))

			recorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodGet, "/metrics", nil)

			collector.Handler()(recorder, request)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Header().Get("Content-Type")).To(Equal("application/json"))

			var snap metrics.Snapshot
			Expect(json.Unmarshal(recorder.Body.Bytes(), &snap)).To(Succeed())
			Expect(snap.TotalAdmitted).To(Equal(int64(1)))
		})
	})
})
