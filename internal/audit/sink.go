// ABOUTME: SQLite audit sink recording events, loop decisions, and delivery attempts
// ABOUTME: Append-only streams with aggregate queries for the admin reporting routes

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-relay/internal/delivery"
	"github.com/2389/coven-relay/internal/envelope"
	"github.com/2389/coven-relay/internal/loopguard"
)

// Sink is the append-only persistent audit log. It is the exclusive owner of
// its database file; writes from concurrent handlers are serialized by the
// database driver.
type Sink struct {
	db     *sql.DB
	logger *slog.Logger
}

// Schema segments split for maintainability. Primary keys make every insert
// idempotent under retry via INSERT OR IGNORE.
var (
	schemaEventsSQL = `
CREATE TABLE IF NOT EXISTS relay_events (event_id TEXT PRIMARY KEY, session_key TEXT NOT NULL, trace_id TEXT NOT NULL, origin_actor_type TEXT NOT NULL, origin_actor_id TEXT NOT NULL, text TEXT NOT NULL, hop_count INTEGER NOT NULL DEFAULT 0, created_at_ms INTEGER NOT NULL);
CREATE INDEX IF NOT EXISTS idx_relay_events_session ON relay_events(session_key, created_at_ms);
CREATE INDEX IF NOT EXISTS idx_relay_events_trace ON relay_events(trace_id);
`
	schemaDecisionsSQL = `
CREATE TABLE IF NOT EXISTS loop_decisions (event_id TEXT PRIMARY KEY, session_key TEXT NOT NULL, trace_id TEXT NOT NULL, is_error_loop INTEGER NOT NULL, reason TEXT NOT NULL, confidence REAL NOT NULL, action TEXT NOT NULL, recorded_at TEXT NOT NULL, CHECK (action IN ('normal', 'warn', 'stop')));
CREATE INDEX IF NOT EXISTS idx_loop_decisions_recorded ON loop_decisions(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_loop_decisions_error ON loop_decisions(is_error_loop);
`
	schemaDeliveriesSQL = `
CREATE TABLE IF NOT EXISTS deliveries (delivery_id TEXT NOT NULL, attempt INTEGER NOT NULL, event_id TEXT NOT NULL, session_key TEXT NOT NULL, target_agent_id TEXT NOT NULL, status TEXT NOT NULL, error TEXT, recorded_at TEXT NOT NULL, PRIMARY KEY (delivery_id, attempt), CHECK (status IN ('success', 'retry', 'failed')));
CREATE INDEX IF NOT EXISTS idx_deliveries_event ON deliveries(event_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_recorded ON deliveries(recorded_at DESC);
`
)

// NewSink opens (or creates) the audit database at path. Parent directories
// are created if needed; WAL mode is enabled for concurrent readers.
func NewSink(path string) (*Sink, error) {
	logger := slog.Default().With("component", "audit")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Sink{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	logger.Info("audit sink initialized", "path", path)
	return s, nil
}

// createSchema creates the audit tables if they don't exist.
func (s *Sink) createSchema() error {
	schemas := []string{schemaEventsSQL, schemaDecisionsSQL, schemaDeliveriesSQL}
	for _, sql := range schemas {
		if _, err := s.db.Exec(sql); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Sink) Close() error {
	s.logger.Info("closing audit sink")
	return s.db.Close()
}

// RecordEvent appends an accepted event to the events stream.
func (s *Sink) RecordEvent(ctx context.Context, evt *envelope.Event) error {
	query := `
		INSERT OR IGNORE INTO relay_events (event_id, session_key, trace_id, origin_actor_type, origin_actor_id, text, hop_count, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		evt.EventID,
		evt.SessionKey,
		evt.TraceID,
		string(evt.OriginActorType),
		evt.OriginActorID,
		evt.Text,
		evt.HopCount,
		evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event record: %w", err)
	}

	s.logger.Debug("recorded event", "event_id", evt.EventID, "session_key", evt.SessionKey)
	return nil
}

// RecordDecision appends a loop-guard decision with its policy action.
func (s *Sink) RecordDecision(ctx context.Context, evt *envelope.Event, d loopguard.Decision, action loopguard.Action) error {
	query := `
		INSERT OR IGNORE INTO loop_decisions (event_id, session_key, trace_id, is_error_loop, reason, confidence, action, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	isLoop := 0
	if d.IsErrorLoop {
		isLoop = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		evt.EventID,
		evt.SessionKey,
		evt.TraceID,
		isLoop,
		d.Reason,
		d.Confidence,
		string(action),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting decision record: %w", err)
	}

	s.logger.Debug("recorded decision",
		"event_id", evt.EventID,
		"is_error_loop", d.IsErrorLoop,
		"action", action,
	)
	return nil
}

// RecordDelivery appends one delivery attempt. Implements delivery.Auditor.
// Failures are logged rather than returned: delivery bookkeeping must never
// break the delivery path itself.
func (s *Sink) RecordDelivery(ctx context.Context, rec *delivery.Record) {
	query := `
		INSERT OR IGNORE INTO deliveries (delivery_id, attempt, event_id, session_key, target_agent_id, status, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.DeliveryID,
		rec.Attempt,
		rec.EventID,
		rec.SessionKey,
		rec.TargetAgentID,
		string(rec.Status),
		nullString(rec.Error),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		s.logger.Error("recording delivery attempt failed",
			"delivery_id", rec.DeliveryID,
			"attempt", rec.Attempt,
			"error", err,
		)
		return
	}

	s.logger.Debug("recorded delivery",
		"delivery_id", rec.DeliveryID,
		"status", rec.Status,
		"attempt", rec.Attempt,
	)
}

// nullString returns nil for empty strings, otherwise the string itself.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
