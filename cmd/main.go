package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/Dinopit/DinoAirPublic-sub008/config"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/breaker"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/clock"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/handler"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/health"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/httpserver"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/metrics"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/ratelimit"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/supervisor"
	"github.com/Dinopit/DinoAirPublic-sub008/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clk := clock.System()

	collector := metrics.NewCollector(1000, logger.WithComponent(log, "metrics"))
	collector.Start(ctx)

	registry := breaker.NewRegistry(clk, breaker.Config{IsFailure: supervisor.IsFailure})
	registry.OnStateChange(func(name string, from, to breaker.State, reason string) {
		log.Warn("Circuit breaker state changed",
			slog.String("dependency", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("reason", reason))

		collector.Emit(metrics.Event{
			Type:       metrics.EventStateChanged,
			Timestamp:  time.Now(),
			Dependency: name,
			State:      to.String(),
		})
	})
	defer registry.StopAll()

	aggregator, err := buildAggregator(cfg, registry, clk, log)
	if err != nil {
		log.Error("Failed to configure health aggregator", slog.Any("err", err))
		os.Exit(1)
	}

	routes, err := initializeDependencies(cfg, registry, aggregator, log)
	if err != nil {
		log.Error("Failed to initialize dependencies", slog.Any("err", err))
		os.Exit(1)
	}

	limiter, err := buildLimiter(cfg, clk)
	if err != nil {
		log.Error("Failed to build rate limiter", slog.Any("err", err))
		os.Exit(1)
	}

	super, err := buildSupervisor(cfg, registry)
	if err != nil {
		log.Error("Failed to build supervisor", slog.Any("err", err))
		os.Exit(1)
	}

	aggregator.Start()
	defer aggregator.Stop()

	relay := handler.NewRelayHandler(logger.WithComponent(log, "relay"), limiter, super, routes, registry, collector)
	mux := setupRouter(relay, aggregator, registry, collector)

	srv, err := httpserver.New(cfg.Server.Address, mux)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Resilience relay listening", slog.String("address", cfg.Server.Address))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting relay server", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// initializeDependencies configures a breaker, an upstream adapter, and a
// health probe per configured dependency, and returns the category routes.
func initializeDependencies(cfg *config.Config, registry *breaker.Registry, aggregator *health.Aggregator, log *slog.Logger) (map[string]handler.Route, error) {
	routes := make(map[string]handler.Route, len(cfg.Dependencies))

	for _, dep := range cfg.Dependencies {
		breakerCfg, err := buildBreakerConfig(dep)
		if err != nil {
			log.Error("Invalid dependency config",
				slog.String("dependency", dep.Name),
				slog.Any("err", err))

			return nil, err
		}

		registry.Configure(dep.Name, breakerCfg)

		upstream, err := handler.NewUpstream(dep.Name, dep.BaseURL)
		if err != nil {
			return nil, err
		}

		healthPath := dep.HealthPath
		if healthPath == "" {
			healthPath = "/health"
		}

		aggregator.Register(dep.Name, upstream.Probe(healthPath))

		category := dep.Category
		if category == "" {
			category = dep.Name
		}

		relayPath := dep.RelayPath
		if relayPath == "" {
			relayPath = "/generate"
		}

		routes[category] = handler.Route{
			Dependency: dep.Name,
			Path:       relayPath,
			Fallback:   dep.Fallback,
			Upstream:   upstream,
		}

		log.Info("Configured dependency",
			slog.String("dependency", dep.Name),
			slog.String("category", category),
			slog.String("base_url", dep.BaseURL))
	}

	return routes, nil
}

func buildBreakerConfig(dep config.DependencyConfig) (breaker.Config, error) {
	cfg := breaker.Config{
		FailureThreshold:      dep.FailureThreshold,
		SuccessThreshold:      dep.SuccessThreshold,
		WindowBuckets:         dep.WindowBuckets,
		SlowCallRateThreshold: dep.SlowCallRateThreshold,
		IsFailure:             supervisor.IsFailure,
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{dep.Timeout, &cfg.Timeout},
		{dep.ResetTimeout, &cfg.ResetTimeout},
		{dep.WindowSize, &cfg.WindowSize},
		{dep.SlowCallDuration, &cfg.SlowCallDuration},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}

		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return breaker.Config{}, err
		}

		*d.dst = parsed
	}

	return cfg, nil
}

func buildLimiter(cfg *config.Config, clk clock.Clock) (*ratelimit.Limiter, error) {
	quotas := make(map[string]map[string]ratelimit.Quota)

	for _, rule := range cfg.RateLimit.Rules {
		window, err := time.ParseDuration(rule.Window)
		if err != nil {
			return nil, err
		}

		if quotas[rule.Category] == nil {
			quotas[rule.Category] = make(map[string]ratelimit.Quota)
		}

		quotas[rule.Category][rule.Tier] = ratelimit.Quota{
			Limit:  rule.Limit,
			Window: window,
		}
	}

	defaultWindow, err := time.ParseDuration(cfg.RateLimit.DefaultWindow)
	if err != nil {
		return nil, err
	}

	return ratelimit.NewLimiter(clk, quotas, ratelimit.Quota{
		Limit:  cfg.RateLimit.DefaultLimit,
		Window: defaultWindow,
	})
}

func buildSupervisor(cfg *config.Config, registry *breaker.Registry) (*supervisor.Supervisor, error) {
	baseDelay, err := time.ParseDuration(cfg.Retry.BaseDelay)
	if err != nil {
		return nil, err
	}

	maxDelay, err := time.ParseDuration(cfg.Retry.MaxDelay)
	if err != nil {
		return nil, err
	}

	return supervisor.New(registry, supervisor.Config{
		MaxRetries:     cfg.Retry.MaxRetries,
		RetryBaseDelay: baseDelay,
		RetryMaxDelay:  maxDelay,
	}), nil
}

func buildAggregator(cfg *config.Config, registry *breaker.Registry, clk clock.Clock, log *slog.Logger) (*health.Aggregator, error) {
	interval, err := time.ParseDuration(cfg.Health.ProbeInterval)
	if err != nil {
		return nil, err
	}

	probeTimeout, err := time.ParseDuration(cfg.Health.ProbeTimeout)
	if err != nil {
		return nil, err
	}

	ttl, err := time.ParseDuration(cfg.Health.CacheTTL)
	if err != nil {
		return nil, err
	}

	return health.NewAggregator(registry, clk, interval, probeTimeout, ttl, logger.WithComponent(log, "health")), nil
}
