package observability

import "database/sql"

// Schema is the DDL for the pipeline event log.
const Schema = `
CREATE TABLE IF NOT EXISTS pipeline_events (
    event_id TEXT PRIMARY KEY,
    stage TEXT NOT NULL,
    page_id TEXT,
    platform TEXT,
    fingerprint TEXT,
    outcome TEXT NOT NULL,
    error TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_stage ON pipeline_events(stage, created_at DESC);
`

// Init creates the observability tables.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
