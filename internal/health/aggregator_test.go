package health_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/breaker"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/clock"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/health"
)

var _ = Describe("Aggregator", func() {
	const (
		interval     = 15 * time.Second
		probeTimeout = 5 * time.Second
		ttl          = 30 * time.Second
	)

	var (
		clk        *clock.Manual
		registry   *breaker.Registry
		aggregator *health.Aggregator
		log        *slog.Logger
	)

	BeforeEach(func() {
		clk = clock.NewManual(time.Unix(1700000000, 0))
		registry = breaker.NewRegistry(clk, breaker.Config{FailureThreshold: 5})
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		aggregator = health.NewAggregator(registry, clk, interval, probeTimeout, ttl, log)
	})

	AfterEach(func() {
		aggregator.Stop()
		registry.StopAll()
	})

	healthyProbe := func(count *int) health.ProbeFunc {
		return func(ctx context.Context) error {
			*count++
			return nil
		}
	}

	failingProbe := func(count *int) health.ProbeFunc {
		return func(ctx context.Context) error {
			*count++
			return errors.New("connection refused")
		}
	}

	It("should report unknown for registered but never probed dependencies", func() {
		var probes int
		aggregator.Register("llm", healthyProbe(&probes))

		report := aggregator.Report()

		Expect(report.Dependencies).To(HaveKey("llm"))
		Expect(report.Dependencies["llm"].Status).To(Equal("unknown"))
	})

	It("should warm the cache with an immediate probe cycle on Start", func() {
		var probes int
		aggregator.Register("llm", healthyProbe(&probes))

		aggregator.Start()

		Expect(probes).To(Equal(1))

		report := aggregator.Report()
		Expect(report.Status).To(Equal(health.StatusHealthy))
		Expect(report.Dependencies["llm"].Status).To(Equal("healthy"))
	})

	It("should probe again on every interval until stopped", func() {
		var probes int
		aggregator.Register("llm", healthyProbe(&probes))

		aggregator.Start()
		clk.Advance(2 * interval)

		Expect(probes).To(Equal(3))

		aggregator.Stop()
		clk.Advance(2 * interval)

		Expect(probes).To(Equal(3))
	})

	It("should record a failing dependency with its message", func() {
		var probes int
		aggregator.Register("llm", failingProbe(&probes))

		aggregator.Start()

		record := aggregator.Report().Dependencies["llm"]
		Expect(record.Status).To(Equal("unhealthy"))
		Expect(record.Message).To(ContainSubstring("connection refused"))
	})

	It("should skip the probe entirely when the circuit is open", func() {
		registry.Configure("llm", breaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})

		cb := registry.GetBreaker("llm")
		permit, err := cb.Admit()
		Expect(err).NotTo(HaveOccurred())
		permit.Record(errors.New("boom"))
		Expect(cb.State()).To(Equal(breaker.StateOpen))

		var probes int
		aggregator.Register("llm", healthyProbe(&probes))

		aggregator.Start()

		Expect(probes).To(BeZero())

		record := aggregator.Report().Dependencies["llm"]
		Expect(record.Status).To(Equal("unhealthy"))
		Expect(record.Message).To(ContainSubstring("circuit open"))
	})

	It("should mark a healthy record stale once it outlives the TTL", func() {
		var probes int
		aggregator.Register("llm", healthyProbe(&probes))

		aggregator.Start()
		aggregator.Stop()

		clk.Advance(ttl + time.Second)

		record := aggregator.Report().Dependencies["llm"]
		Expect(record.Status).To(Equal("stale"))
	})

	Describe("aggregation", func() {
		It("should be healthy with no dependencies", func() {
			Expect(aggregator.Report().Status).To(Equal(health.StatusHealthy))
		})

		It("should be degraded when a minority is down", func() {
			var up, down int
			aggregator.Register("llm", healthyProbe(&up))
			aggregator.Register("image", failingProbe(&down))

			aggregator.Start()

			Expect(aggregator.Report().Status).To(Equal(health.StatusDegraded))
		})

		It("should be unhealthy when a majority is down", func() {
			var up, down1, down2 int
			aggregator.Register("llm", healthyProbe(&up))
			aggregator.Register("image", failingProbe(&down1))
			aggregator.Register("audio", failingProbe(&down2))

			aggregator.Start()

			Expect(aggregator.Report().Status).To(Equal(health.StatusUnhealthy))
		})

		It("should recover once the dependency answers again", func() {
			failing := true
			var probes int
			aggregator.Register("llm", func(ctx context.Context) error {
				probes++
				if failing {
					return errors.New("connection refused")
				}
				return nil
			})

			aggregator.Start()
			Expect(aggregator.Report().Status).To(Equal(health.StatusUnhealthy))

			failing = false
			clk.Advance(interval)

			Expect(aggregator.Report().Status).To(Equal(health.StatusHealthy))
			Expect(aggregator.Report().Dependencies["llm"].Status).To(Equal("healthy"))
		})
	})
})
