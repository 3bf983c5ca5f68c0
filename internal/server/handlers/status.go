package handlers

import (
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/lnagent/lnagent/internal/agent"
)

// StatusSource exposes the control loop snapshot. *agent.Loop satisfies it.
type StatusSource interface {
	Status() agent.Snapshot
}

// StatusResponse wraps the snapshot with the time it was served.
type StatusResponse struct {
	agent.Snapshot
	Now    time.Time `json:"now"`
	Uptime string    `json:"uptime,omitempty"`
}

// StatusHandler serves the latest control loop snapshot.
func StatusHandler(source StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if source == nil {
			respondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "control loop not running"))
			return
		}

		snap := source.Status()
		now := time.Now().UTC()
		resp := StatusResponse{Snapshot: snap, Now: now}
		if !snap.StartedAt.IsZero() {
			resp.Uptime = now.Sub(snap.StartedAt).Round(time.Second).String()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
