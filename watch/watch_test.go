package watch

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT, version INTEGER NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	return db
}

func bump(t *testing.T, db *sql.DB, v int) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO settings (key, value, version) VALUES ('enabled', 'false', ?)
		ON CONFLICT(key) DO UPDATE SET version = excluded.version`, v)
	if err != nil {
		t.Fatal(err)
	}
}

func TestPragmaDataVersion(t *testing.T) {
	db := testDB(t)
	v, err := PragmaDataVersion(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	if v < 0 {
		t.Fatalf("expected non-negative version, got %d", v)
	}
}

func TestMaxColumnDetector(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	det := MaxColumnDetector("settings", "version")

	v, err := det(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("expected 0 for empty table, got %d", v)
	}

	bump(t, db, 7)
	if v, _ = det(ctx, db); v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
}

func TestOnChangeFires(t *testing.T) {
	db := testDB(t)
	var calls atomic.Int32
	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: MaxColumnDetector("settings", "version")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { calls.Add(1); return nil })

	time.Sleep(50 * time.Millisecond)
	bump(t, db, 1)
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d after quiet period, want 1", got)
	}
}

func TestOnChangeDebounce(t *testing.T) {
	db := testDB(t)
	var calls atomic.Int32
	w := New(db, Options{
		Interval: 20 * time.Millisecond,
		Debounce: 100 * time.Millisecond,
		Detector: MaxColumnDetector("settings", "version"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { calls.Add(1); return nil })

	time.Sleep(50 * time.Millisecond)
	for i := 1; i <= 5; i++ {
		bump(t, db, i)
		time.Sleep(15 * time.Millisecond)
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d during debounce, want 0", got)
	}

	time.Sleep(250 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want exactly 1", got)
	}
}

func TestOnChangeRetriesFailedAction(t *testing.T) {
	db := testDB(t)
	var calls atomic.Int32
	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: MaxColumnDetector("settings", "version")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		if calls.Add(1) == 1 {
			return context.DeadlineExceeded
		}
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	bump(t, db, 3)
	time.Sleep(150 * time.Millisecond)

	if got := calls.Load(); got < 2 {
		t.Fatalf("calls = %d, want at least 2", got)
	}
	if v := w.Version(); v != 3 {
		t.Fatalf("version = %d, want 3", v)
	}
	if s := w.Stats(); s.Errors == 0 || s.Reloads == 0 {
		t.Fatalf("stats = %+v, want errors and reloads", s)
	}
}
