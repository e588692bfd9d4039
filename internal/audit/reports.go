// ABOUTME: Aggregate queries over the audit streams for admin reporting
// ABOUTME: Totals, per-session rollups, and recent decision/delivery slices

package audit

import (
	"context"
	"fmt"
)

// Metrics are the lifetime totals across all three streams.
type Metrics struct {
	Events           int64 `json:"events"`
	LoopDecisions    int64 `json:"loopDecisions"`
	ErrorLoops       int64 `json:"errorLoops"`
	Deliveries       int64 `json:"deliveries"`
	DeliveredOK      int64 `json:"deliveredOK"`
	DeliveryFailures int64 `json:"deliveryFailures"`
}

// SessionStats is the per-session rollup of the events stream.
type SessionStats struct {
	SessionKey string `json:"sessionKey"`
	EventCount int64  `json:"eventCount"`
	FirstAt    int64  `json:"firstAt"`
	LastAt     int64  `json:"lastAt"`
}

// DecisionRecord is one row of the loop-decisions stream.
type DecisionRecord struct {
	EventID     string  `json:"eventId"`
	SessionKey  string  `json:"sessionKey"`
	TraceID     string  `json:"traceId"`
	IsErrorLoop bool    `json:"isErrorLoop"`
	Reason      string  `json:"reason"`
	Confidence  float64 `json:"confidence"`
	Action      string  `json:"action"`
	RecordedAt  string  `json:"recordedAt"`
}

// DeliveryRecord is one row of the deliveries stream.
type DeliveryRecord struct {
	DeliveryID    string `json:"deliveryId"`
	Attempt       int    `json:"attempt"`
	EventID       string `json:"eventId"`
	SessionKey    string `json:"sessionKey"`
	TargetAgentID string `json:"targetAgentId"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	RecordedAt    string `json:"recordedAt"`
}

// GetMetrics returns lifetime totals across the audit streams.
func (s *Sink) GetMetrics(ctx context.Context) (*Metrics, error) {
	var m Metrics

	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM relay_events),
			(SELECT COUNT(*) FROM loop_decisions),
			(SELECT COUNT(*) FROM loop_decisions WHERE is_error_loop = 1),
			(SELECT COUNT(*) FROM deliveries),
			(SELECT COUNT(*) FROM deliveries WHERE status = 'success'),
			(SELECT COUNT(*) FROM deliveries WHERE status = 'failed')
	`)
	if err := row.Scan(&m.Events, &m.LoopDecisions, &m.ErrorLoops, &m.Deliveries, &m.DeliveredOK, &m.DeliveryFailures); err != nil {
		return nil, fmt.Errorf("querying metrics: %w", err)
	}

	return &m, nil
}

// SessionRollup returns per-session event stats, most recently active first.
func (s *Sink) SessionRollup(ctx context.Context) ([]SessionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_key, COUNT(*), MIN(created_at_ms), MAX(created_at_ms)
		FROM relay_events
		GROUP BY session_key
		ORDER BY MAX(created_at_ms) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying session rollup: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []SessionStats
	for rows.Next() {
		var st SessionStats
		if err := rows.Scan(&st.SessionKey, &st.EventCount, &st.FirstAt, &st.LastAt); err != nil {
			return nil, fmt.Errorf("scanning session rollup row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rollup rows: %w", err)
	}
	return stats, nil
}

// RecentDecisions returns the newest loop decisions, limited.
func (s *Sink) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, session_key, trace_id, is_error_loop, reason, confidence, action, recorded_at
		FROM loop_decisions
		ORDER BY recorded_at DESC, event_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var isLoop int
		if err := rows.Scan(&rec.EventID, &rec.SessionKey, &rec.TraceID, &isLoop, &rec.Reason, &rec.Confidence, &rec.Action, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning decision row: %w", err)
		}
		rec.IsErrorLoop = isLoop == 1
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating decision rows: %w", err)
	}
	return records, nil
}

// RecentDeliveries returns the newest delivery attempts, limited.
func (s *Sink) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT delivery_id, attempt, event_id, session_key, target_agent_id, status, error, recorded_at
		FROM deliveries
		ORDER BY recorded_at DESC, delivery_id DESC, attempt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		var errStr *string
		if err := rows.Scan(&rec.DeliveryID, &rec.Attempt, &rec.EventID, &rec.SessionKey, &rec.TargetAgentID, &rec.Status, &errStr, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning delivery row: %w", err)
		}
		if errStr != nil {
			rec.Error = *errStr
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery rows: %w", err)
	}
	return records, nil
}

// clampLimit applies the default and cap used by the reporting routes.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}
