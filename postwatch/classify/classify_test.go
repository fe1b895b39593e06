package classify

import (
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
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		answer string
		prob   int
	}{
		{`{"probability":"75%","type":["satire"],"sentiment":"Negative","reason":"odd"}`, 75},
		{"```json\n{\"probability\": 40, \"type\": [], \"sentiment\": \"neutral\", \"reason\": \"\"}\n```", 40},
		{`{"probability":"0.9","type":["fabricated content"],"sentiment":"positive","reason":"r"}`, 90},
		{`{"probability":"150 %","type":[],"sentiment":"neutral","reason":"r"}`, 100},
		{`{"probability":0.25,"type":[],"sentiment":"neutral","reason":"r"}`, 25},
		{`{"probability":1,"type":[],"sentiment":"neutral","reason":"r"}`, 1},
		{`{"probability":"1%","type":[],"sentiment":"neutral","reason":"r"}`, 1},
		{`{"probability":"0.5%","type":[],"sentiment":"neutral","reason":"r"}`, 1},
		{`{"probability":"0.2%","type":[],"sentiment":"neutral","reason":"r"}`, 0},
	}
	for _, tt := range tests {
		v, err := ParseVerdict(tt.answer)
		if err != nil {
			t.Fatalf("ParseVerdict(%q): %v", tt.answer, err)
		}
		if v.Probability != tt.prob {
			t.Errorf("ParseVerdict(%q).Probability = %d, want %d", tt.answer, v.Probability, tt.prob)
		}
	}

	v, _ := ParseVerdict(`{"probability":"75%","type":["satire"],"sentiment":"Negative","reason":" odd "}`)
	if v.Sentiment != "negative" || v.Reason != "odd" || len(v.Categories) != 1 {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestParseVerdictErrors(t *testing.T) {
	for _, s := range []string{"not json", `{"type":[]}`, `{"probability":"high"}`, `{"probability":true}`} {
		if _, err := ParseVerdict(s); err == nil {
			t.Errorf("ParseVerdict(%q) expected error", s)
		}
	}
}

func TestOpenAIClassify(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) == 2 {
			gotPrompt = req.Messages[1].Content
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": `{"probability":"80%","type":["misleading content"],"sentiment":"negative","reason":"unsourced claim"}`,
				},
			}},
		})
	}))
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Classify(context.Background(), "The moon is made of cheese")
	if err != nil {
		t.Fatal(err)
	}
	if v.Probability != 80 || v.Categories[0] != "misleading content" {
		t.Fatalf("verdict = %+v", v)
	}
	if !strings.Contains(gotPrompt, "The moon is made of cheese") {
		t.Fatalf("prompt does not carry the post: %q", gotPrompt)
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}, nil); err == nil {
		t.Fatal("expected error without api key")
	}
}

type blockingClassifier struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingClassifier) Classify(ctx context.Context, text string) (*Verdict, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if text == "fail" {
		return nil, errors.New("boom")
	}
	return &Verdict{Probability: 10}, nil
}

func TestPoolDropsWhenSaturated(t *testing.T) {
	bc := &blockingClassifier{release: make(chan struct{})}
	p := NewPool(bc, PoolOptions{RatePerMinute: 6000, MaxInFlight: 1})

	var mu sync.Mutex
	var results []*Verdict
	done := func(v *Verdict, err error) {
		mu.Lock()
		results = append(results, v)
		mu.Unlock()
	}

	if !p.Submit(context.Background(), "a", done) {
		t.Fatal("first submit must be accepted")
	}
	if p.Submit(context.Background(), "b", done) {
		t.Fatal("second submit must be dropped while the worker is busy")
	}
	close(bc.release)
	p.Wait()

	if len(results) != 1 || results[0].Probability != 10 {
		t.Fatalf("results = %v", results)
	}
	if !p.Submit(context.Background(), "c", done) {
		t.Fatal("submit after drain must be accepted")
	}
	p.Wait()
}

func TestPoolReportsErrors(t *testing.T) {
	bc := &blockingClassifier{release: make(chan struct{})}
	close(bc.release)
	p := NewPool(bc, PoolOptions{RatePerMinute: 6000, MaxInFlight: 2, Timeout: time.Second})

	var gotErr error
	p.Submit(context.Background(), "fail", func(_ *Verdict, err error) { gotErr = err })
	p.Wait()
	if gotErr == nil {
		t.Fatal("expected classifier error to reach done")
	}
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(context.Context, string) (*Verdict, error) {
	panic("model client bug")
}

func TestPoolRecoversPanic(t *testing.T) {
	p := NewPool(panickingClassifier{}, PoolOptions{RatePerMinute: 6000})

	var gotErr error
	if !p.Submit(context.Background(), "x", func(_ *Verdict, err error) { gotErr = err }) {
		t.Fatal("submit rejected")
	}
	p.Wait()
	if gotErr == nil || !strings.Contains(gotErr.Error(), "panicked") {
		t.Fatalf("err = %v, want panic turned into error", gotErr)
	}
}
