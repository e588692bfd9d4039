// ABOUTME: Admin reporting routes reading aggregates from the audit sink
// ABOUTME: Metrics totals, session rollups, and recent loop/delivery slices

package admin

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/2389/coven-relay/internal/audit"
)

// Reports serves the read-only admin reporting API.
type Reports struct {
	sink   *audit.Sink
	logger *slog.Logger
}

// NewReports creates the reporting handler set over the audit sink.
func NewReports(sink *audit.Sink, logger *slog.Logger) *Reports {
	return &Reports{
		sink:   sink,
		logger: logger.With("component", "admin-reports"),
	}
}

// HandleMetrics handles GET /admin/api/metrics.
func (rp *Reports) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := rp.sink.GetMetrics(r.Context())
	if err != nil {
		rp.logger.Error("metrics query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "metrics query failed"})
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// HandleSessions handles GET /admin/api/sessions.
func (rp *Reports) HandleSessions(w http.ResponseWriter, r *http.Request) {
	stats, err := rp.sink.SessionRollup(r.Context())
	if err != nil {
		rp.logger.Error("session rollup query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "session rollup failed"})
		return
	}
	if stats == nil {
		stats = []audit.SessionStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": stats})
}

// HandleLoops handles GET /admin/api/loops.
func (rp *Reports) HandleLoops(w http.ResponseWriter, r *http.Request) {
	records, err := rp.sink.RecentDecisions(r.Context(), parseLimit(r))
	if err != nil {
		rp.logger.Error("decisions query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "decisions query failed"})
		return
	}
	if records == nil {
		records = []audit.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": records})
}

// HandleDeliveries handles GET /admin/api/deliveries.
func (rp *Reports) HandleDeliveries(w http.ResponseWriter, r *http.Request) {
	records, err := rp.sink.RecentDeliveries(r.Context(), parseLimit(r))
	if err != nil {
		rp.logger.Error("deliveries query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "deliveries query failed"})
		return
	}
	if records == nil {
		records = []audit.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": records})
}

// parseLimit reads an optional limit query parameter; the sink clamps it.
func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 100
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 100
	}
	return parsed
}
