package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/costspent/llm-gateway/internal/db"
)

// StatsHandler reports aggregate request, spend and savings counters.
func (g *Gateway) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.GetSpendStats(g.DB)
		if err != nil {
			writeError(w, http.StatusInternalServerError, errTypeInvalid, "Failed to load stats")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

// HealthHandler is a minimal liveness probe.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
