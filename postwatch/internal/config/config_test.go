package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("pages:\n  - url: https://x.com/home\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "fakezero.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.Viewport.MarginBottom != 200 {
		t.Errorf("margin = %d", cfg.Viewport.MarginBottom)
	}
	if cfg.StatePoll.Interval != 250*time.Millisecond {
		t.Errorf("poll = %v", cfg.StatePoll.Interval)
	}
	if cfg.Pages[0].ID != "page-1" {
		t.Errorf("page id = %q", cfg.Pages[0].ID)
	}
	if cfg.Classifier.Provider != "" {
		t.Errorf("classifier should be off by default, got %q", cfg.Classifier.Provider)
	}
	if cfg.Events.RetentionDays != 30 || cfg.Events.CleanupInterval != time.Hour {
		t.Errorf("events = %+v", cfg.Events)
	}
}

func TestEventRetentionDisabled(t *testing.T) {
	cfg, err := Parse([]byte("events:\n  retention_days: -1\n  cleanup_interval: 5m\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Events.RetentionDays != -1 || cfg.Events.CleanupInterval != 5*time.Minute {
		t.Errorf("events = %+v", cfg.Events)
	}
}

func TestParseOverrides(t *testing.T) {
	src := `
db_path: /tmp/fz.db
viewport:
  margin_bottom: 400
debounce:
  window: 50ms
classifier:
  provider: openai
  model: gpt-4o
  max_inflight: 4
sinks:
  - type: webhook
    url: http://localhost:9000/hook
markdown: true
`
	cfg, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/fz.db" || cfg.Viewport.MarginBottom != 400 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Debounce.Window != 50*time.Millisecond {
		t.Errorf("window = %v", cfg.Debounce.Window)
	}
	if cfg.Classifier.MaxInFlight != 4 || cfg.Classifier.RatePerMinute != 20 {
		t.Errorf("classifier = %+v", cfg.Classifier)
	}
	if !cfg.Markdown || len(cfg.Sinks) != 1 {
		t.Errorf("sinks = %+v markdown = %v", cfg.Sinks, cfg.Markdown)
	}
}

func TestParseRejectsBadSinks(t *testing.T) {
	for _, src := range []string{
		"sinks:\n  - type: nats\n",
		"sinks:\n  - type: webhook\n",
	} {
		if _, err := Parse([]byte(src)); err == nil || !strings.Contains(err.Error(), "sinks[0]") {
			t.Errorf("%q: err = %v", src, err)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fakezero.yaml")
	if err := os.WriteFile(path, []byte("listen: :8095\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8095" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
