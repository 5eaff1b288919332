package server

import (
	"net/http"

	"github.com/joshp123/plantcare/internal/classify"
	"github.com/joshp123/plantcare/internal/fleet"
)

type healthBody struct {
	Status   string `json:"status"`
	Version  uint64 `json:"version"`
	Plants   int    `json:"plants"`
	Degraded int    `json:"degraded"`
}

// HealthHandler reports liveness. The process is healthy while it serves
// snapshots; unreachable devices only show up as "degraded".
func HealthHandler(store *fleet.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := store.Snapshot()
		summary := classify.Summarize(snap.Plants)
		body := healthBody{Status: "ok", Version: snap.Version, Plants: summary.Total, Degraded: summary.Degraded}
		if summary.Degraded > 0 {
			body.Status = "degraded"
		}
		writeJSON(w, http.StatusOK, body)
	}
}
