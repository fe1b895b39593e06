// Package state holds the session flag: the persisted on/off switch that is
// the ground truth for every running instance, and the bus that hints at
// changes to it.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hazyhaar/fakezero/dbopen"
	"github.com/hazyhaar/fakezero/watch"
)

const keyEnabled = "enabled"

// Schema is applied by OpenStore.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    version INTEGER NOT NULL
);
`

// Store persists the session flag in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenStore applies the schema and returns a Store over db.
func OpenStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("state: schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Enabled returns the persisted flag. An unset flag means enabled.
func (s *Store) Enabled(ctx context.Context) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, keyEnabled).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: read flag: %w", err)
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("state: flag value %q: %w", v, err)
	}
	return b, nil
}

// SetEnabled persists the flag. Every write bumps the settings version so
// watchers in this and other processes notice it.
func (s *Store) SetEnabled(ctx context.Context, enabled bool) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO settings (key, value, version)
		VALUES (?, ?, (SELECT COALESCE(MAX(version), 0) + 1 FROM settings))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version`,
		keyEnabled, strconv.FormatBool(enabled))
	if err != nil {
		return fmt.Errorf("state: write flag: %w", err)
	}
	return nil
}

// Watch polls the settings table and calls fn with the persisted flag each
// time it is written. It blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, interval time.Duration, fn func(enabled bool)) {
	w := watch.New(s.db, watch.Options{
		Interval: interval,
		Detector: watch.MaxColumnDetector("settings", "version"),
		Logger:   s.logger,
	})
	w.OnChange(ctx, func() error {
		enabled, err := s.Enabled(ctx)
		if err != nil {
			return err
		}
		fn(enabled)
		return nil
	})
}
