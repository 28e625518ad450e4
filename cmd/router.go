package main

import (
	"net/http"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/breaker"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/handler"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/health"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/metrics"
)

func setupRouter(relay *handler.RelayHandler, aggregator *health.Aggregator, registry *breaker.Registry, metricsCollector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/v1/relay/", relay)
	mux.HandleFunc("/health", handler.HealthHandler(aggregator, registry))
	mux.HandleFunc("/metrics", metricsCollector.Handler())

	return mux
}
