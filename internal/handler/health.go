package handler

import (
	"encoding/json"
	"net/http"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/breaker"
	"github.com/Dinopit/DinoAirPublic-sub008/internal/health"
)

// healthPayload joins the aggregator's cached report with per-breaker
// snapshots for the operational dashboard.
type healthPayload struct {
	Status       health.Status               `json:"status"`
	Dependencies map[string]health.Record    `json:"dependencies"`
	Breakers     map[string]breaker.Snapshot `json:"breakers"`
}

// HealthHandler serves the non-blocking health snapshot. It only reads
// cached records and breaker state; no probe is triggered per request.
func HealthHandler(aggregator *health.Aggregator, registry *breaker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := aggregator.Report()

		payload := healthPayload{
			Status:       report.Status,
			Dependencies: report.Dependencies,
			Breakers:     registry.Snapshots(),
		}

		w.Header().Set("Content-Type", "application/json")

		if report.Status == health.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		if err := json.NewEncoder(w).Encode(payload); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
