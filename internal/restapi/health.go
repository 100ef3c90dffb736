package restapi

import (
	"encoding/json"
	"net/http"

	"github.com/hasbegun/eyed/internal/health"
)

func handleAlive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

func handleReady(checker *health.GatewayChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, checker.Ready())
	}
}

func handleEngineReady(ping *health.EnginePing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engineStatus := ping.Status(r.Context())
		status := http.StatusOK
		if !engineStatus.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, engineStatus)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
