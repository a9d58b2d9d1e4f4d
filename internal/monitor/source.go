package monitor

import (
	"context"
	"time"
)

// Source defines the interface that all report sources must implement.
// To add a new report, create a struct that implements this interface and
// register it with the Engine.
type Source interface {
	// Name returns a unique identifier for this source (e.g., "portfolio").
	Name() string

	// URL links to a human-readable view of the data.
	URL() string

	// FetchSnapshot fetches the current state from the data source.
	FetchSnapshot(ctx context.Context) (*Snapshot, error)

	// FormatReport renders snap as a Telegram HTML message. prev is the
	// snapshot of the last sent report and may be nil.
	FormatReport(snap, prev *Snapshot) string
}

// Snapshot represents a point-in-time reading from a data source.
type Snapshot struct {
	Source    string             `json:"source"`
	Metrics   map[string]float64 `json:"metrics"`
	Labels    map[string]string  `json:"labels,omitempty"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// Metric returns the named metric, or zero when absent.
func (s *Snapshot) Metric(name string) float64 {
	if s == nil {
		return 0
	}
	return s.Metrics[name]
}

// Label returns the named label, or "" when absent.
func (s *Snapshot) Label(name string) string {
	if s == nil {
		return ""
	}
	return s.Labels[name]
}
