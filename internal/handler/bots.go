package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/web3-frozen/oraclebot/internal/supervisor"
)

// HealthReporter is implemented by *fleet.Orchestrator.
type HealthReporter interface {
	Health() []supervisor.Status
}

// Bots lists every bot's status, or one bot with ?bot=NAME.
func Bots(f HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := f.Health()

		if name := r.URL.Query().Get("bot"); name != "" {
			for _, st := range statuses {
				if strings.EqualFold(st.Name, name) {
					w.Header().Set("Content-Type", "application/json")
					_ = json.NewEncoder(w).Encode(st)
					return
				}
			}
			http.Error(w, `{"error":"unknown bot"}`, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statuses)
	}
}
