package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/fakezero/postwatch/classify"
)

func TestStdoutEnvelope(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	s.Send(context.Background(), Detection{Fingerprint: "fp1", New: true, Count: 3})
	s.Send(context.Background(), Detection{Fingerprint: "fp1", Verdict: &classify.Verdict{Probability: 60}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	var env struct {
		Type string `json:"type"`
		Data struct {
			Fingerprint string `json:"fingerprint"`
			Count       int64  `json:"detection_count"`
		} `json:"data"`
	}
	json.Unmarshal([]byte(lines[0]), &env)
	if env.Type != "detection" || env.Data.Fingerprint != "fp1" || env.Data.Count != 3 {
		t.Fatalf("first line = %s", lines[0])
	}
	json.Unmarshal([]byte(lines[1]), &env)
	if env.Type != "verdict" {
		t.Fatalf("second line type = %q", env.Type)
	}
}

func TestWebhookRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), Detection{Fingerprint: "x"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestWebhookGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), Detection{}); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestRouterContinuesPastFailures(t *testing.T) {
	errBoom := errors.New("boom")
	var got []string
	failing := NewCallback(func(context.Context, Detection) error { return errBoom })
	ok := NewCallback(func(_ context.Context, d Detection) error {
		got = append(got, d.Fingerprint)
		return nil
	})
	r := NewRouter(nil, failing, ok)
	if err := r.Send(context.Background(), Detection{Fingerprint: "a"}); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if len(got) != 1 {
		t.Fatal("second sink skipped")
	}
}

func TestAsyncDrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	var got []string
	a := NewAsync(NewCallback(func(_ context.Context, d Detection) error {
		mu.Lock()
		got = append(got, d.Fingerprint)
		mu.Unlock()
		return nil
	}), 16, nil)

	for _, fp := range []string{"a", "b", "c"} {
		a.Send(context.Background(), Detection{Fingerprint: fp})
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("got = %v", got)
	}
	a.Send(context.Background(), Detection{Fingerprint: "late"})
}

func TestAsyncDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	a := NewAsync(NewCallback(func(context.Context, Detection) error {
		<-release
		return nil
	}), 1, nil)

	// One in delivery, one queued, the rest dropped.
	for range 5 {
		a.Send(context.Background(), Detection{})
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	a.Close()
	if a.Dropped() != 3 {
		t.Fatalf("dropped = %d, want 3", a.Dropped())
	}
}

func TestMarkdown(t *testing.T) {
	md, err := NewMarkdown().Render(`<article><p>Hello <strong>world</strong></p><a href="/status/1">link</a></article>`, "https://x.com")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "**world**") {
		t.Fatalf("markdown = %q", md)
	}
	if !strings.Contains(md, "https://x.com/status/1") {
		t.Fatalf("relative link not resolved: %q", md)
	}
}
