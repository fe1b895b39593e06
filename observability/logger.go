package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/fakezero/idgen"
)

// Stage names where a pipeline failure can surface.
const (
	StageLedger   = "ledger"
	StageAnnotate = "annotate"
	StageClassify = "classify"
	StageSink     = "sink"
	StageExtract  = "extract"
)

// PipelineEvent is one recorded pipeline step, usually a failure.
type PipelineEvent struct {
	Stage       string
	PageID      string
	Platform    string
	Fingerprint string
	Outcome     string // "error", "dropped", "counted", ...
	Err         error
}

// EventLogger persists pipeline events to SQLite.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithLogger sets the slog logger used when an insert fails.
func WithLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates a logger backed by db. Call Init(db) first.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records an event. Errors are logged and swallowed: a failing
// event store never blocks detection. A nil EventLogger is a no-op.
func (l *EventLogger) LogEvent(ctx context.Context, ev PipelineEvent) {
	if l == nil {
		return
	}
	var errText sql.NullString
	if ev.Err != nil {
		errText = sql.NullString{String: ev.Err.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_events (event_id, stage, page_id, platform, fingerprint, outcome, error, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), ev.Stage, ev.PageID, ev.Platform, ev.Fingerprint, ev.Outcome, errText, time.Now().Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "stage", ev.Stage)
	}
}

// CountByStage returns the number of recorded events for stage.
func (l *EventLogger) CountByStage(ctx context.Context, stage string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipeline_events WHERE stage = ?`, stage).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("observability: count: %w", err)
	}
	return n, nil
}

// Cleanup deletes events older than days. Zero keeps everything.
func Cleanup(ctx context.Context, db *sql.DB, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().Unix() - int64(days*86400)
	if _, err := db.ExecContext(ctx, `DELETE FROM pipeline_events WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("observability: cleanup: %w", err)
	}
	return nil
}
