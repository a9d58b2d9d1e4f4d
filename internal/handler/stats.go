package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/web3-frozen/portfolio-reporter/internal/monitor"
)

// Stats serves the latest cached snapshot of ?source=, or every cached
// snapshot when no source is given.
func Stats(engine *monitor.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source")
		if source == "" {
			snaps := make([]*monitor.Snapshot, 0)
			for _, name := range engine.SourceNames() {
				if s := engine.GetSnapshot(name); s != nil {
					snaps = append(snaps, s)
				}
			}
			writeJSON(w, http.StatusOK, snaps)
			return
		}

		snap := engine.GetSnapshot(source)
		if snap == nil {
			http.Error(w, `{"error":"no data available yet"}`, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// StatsMetadata lists the registered sources, their dashboard links and the
// refresh interval.
func StatsMetadata(engine *monitor.Engine, pollInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"sources":       engine.SourceNames(),
			"links":         engine.SourceURLs(),
			"poll_interval": pollInterval.String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
