// Package ledger is the persistent, cross-instance record of which post
// texts have been counted. A fingerprint is counted exactly once no matter
// how many pages, sessions or processes see it.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/fakezero/dbopen"
	"github.com/hazyhaar/fakezero/postwatch/classify"
)

const counterName = "detection_count"

// Schema is applied on Open. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS detections (
    fingerprint TEXT PRIMARY KEY,
    platform TEXT NOT NULL DEFAULT '',
    excerpt TEXT NOT NULL DEFAULT '',
    first_seen INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detections_first_seen ON detections(first_seen DESC);

CREATE TABLE IF NOT EXISTS ledger_counters (
    name TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS verdicts (
    fingerprint TEXT PRIMARY KEY,
    probability INTEGER NOT NULL,
    categories TEXT NOT NULL DEFAULT '[]',
    sentiment TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    classified_at INTEGER NOT NULL
);
`

const excerptLen = 280

// Fingerprint derives the dedup key of a canonical post text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Meta is descriptive data stored alongside a first sighting.
type Meta struct {
	Platform string
	Text     string // truncated to an excerpt before storage
}

// Result is the outcome of Record.
type Result struct {
	New   bool  // this call counted the fingerprint
	Count int64 // detection count after the call
}

// Ledger records detections in SQLite.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open applies the schema and returns a Ledger over db.
func Open(db *sql.DB) (*Ledger, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("ledger: schema: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Record marks fp as seen. The insert and the counter increment share one
// transaction, so concurrent first sightings of the same fingerprint from
// any number of processes count once.
func (l *Ledger) Record(ctx context.Context, fp string, meta Meta) (Result, error) {
	var res Result
	err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		res = Result{}
		r, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO detections (fingerprint, platform, excerpt, first_seen) VALUES (?, ?, ?, ?)`,
			fp, meta.Platform, excerpt(meta.Text), l.now().Unix())
		if err != nil {
			return fmt.Errorf("ledger: insert: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return fmt.Errorf("ledger: rows affected: %w", err)
		}
		if n == 1 {
			res.New = true
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ledger_counters (name, value) VALUES (?, 1)
				ON CONFLICT(name) DO UPDATE SET value = value + 1`, counterName); err != nil {
				return fmt.Errorf("ledger: increment: %w", err)
			}
		}
		res.Count, err = countTx(ctx, tx)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Has reports whether fp was ever counted. Read-only; the pipeline goes
// through Record, tests and tooling use Has.
func (l *Ledger) Has(ctx context.Context, fp string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM detections WHERE fingerprint = ?`, fp).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: has: %w", err)
	}
	return true, nil
}

// Count returns the detection count. A ledger never written to reads 0.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `SELECT value FROM ledger_counters WHERE name = ?`, counterName).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}

// Reset empties the ledger: no fingerprints, count 0, no verdicts.
func (l *Ledger) Reset(ctx context.Context) error {
	return dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM detections`,
			`DELETE FROM verdicts`,
			`DELETE FROM ledger_counters`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("ledger: reset: %w", err)
			}
		}
		return nil
	})
}

// SaveVerdict stores (or replaces) the classifier verdict for fp.
func (l *Ledger) SaveVerdict(ctx context.Context, fp string, v classify.Verdict) error {
	cats, err := json.Marshal(v.Categories)
	if err != nil {
		return fmt.Errorf("ledger: marshal categories: %w", err)
	}
	_, err = dbopen.Exec(ctx, l.db, `
		INSERT INTO verdicts (fingerprint, probability, categories, sentiment, reason, classified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			probability = excluded.probability,
			categories = excluded.categories,
			sentiment = excluded.sentiment,
			reason = excluded.reason,
			classified_at = excluded.classified_at`,
		fp, v.Probability, string(cats), v.Sentiment, v.Reason, l.now().Unix())
	if err != nil {
		return fmt.Errorf("ledger: save verdict: %w", err)
	}
	return nil
}

// Verdict returns the stored verdict for fp, or nil.
func (l *Ledger) Verdict(ctx context.Context, fp string) (*classify.Verdict, error) {
	var v classify.Verdict
	var cats string
	err := l.db.QueryRowContext(ctx,
		`SELECT probability, categories, sentiment, reason FROM verdicts WHERE fingerprint = ?`, fp,
	).Scan(&v.Probability, &cats, &v.Sentiment, &v.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: verdict: %w", err)
	}
	if err := json.Unmarshal([]byte(cats), &v.Categories); err != nil {
		return nil, fmt.Errorf("ledger: decode categories: %w", err)
	}
	return &v, nil
}

func countTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `SELECT value FROM ledger_counters WHERE name = ?`, counterName).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptLen {
		return s
	}
	return string(r[:excerptLen]) + "…"
}
