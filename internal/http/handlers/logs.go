package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/biliarchive/biliarchive/internal/ingestlog"
)

// LogsHandler serves the bounded ring of recent ingest events, the Go
// equivalent of the teacher's LogsHandler but scoped to ingest outcomes
// rather than the full application log stream (spec C10 is a queryable
// ring plus throughput, not a live log feed).
type LogsHandler struct {
	ring *ingestlog.Ring
}

// NewLogsHandler creates a logs handler backed by ring.
func NewLogsHandler(ring *ingestlog.Ring) *LogsHandler {
	return &LogsHandler{ring: ring}
}

// ingestEventResponse is the JSON shape of one ring entry.
type ingestEventResponse struct {
	SourceKey  string `json:"source_key"`
	PlatformID string `json:"platform_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	At         string `json:"at"`
}

// statsResponse is the JSON shape of ingestlog.Stats.
type statsResponse struct {
	Total            int64            `json:"total"`
	ByStatus         map[string]int64 `json:"by_status"`
	ThroughputPerMin float64          `json:"throughput_per_min"`
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events := h.ring.Recent(limit)
	out := make([]ingestEventResponse, len(events))
	for i, event := range events {
		out[i] = ingestEventResponse{
			SourceKey:  event.SourceKey,
			PlatformID: event.PlatformID,
			Status:     event.Status,
			Message:    event.Message,
			At:         event.At.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	stats := h.ring.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Events []ingestEventResponse `json:"events"`
		Stats  statsResponse         `json:"stats"`
	}{
		Events: out,
		Stats: statsResponse{
			Total:            stats.Total,
			ByStatus:         stats.ByStatus,
			ThroughputPerMin: stats.ThroughputPerMin,
		},
	})
}
