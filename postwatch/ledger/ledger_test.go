package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/fakezero/dbopen"
	"github.com/hazyhaar/fakezero/postwatch/classify"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestRecordCountsOnce(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	fp := Fingerprint("S")

	for i := range 5 {
		res, err := l.Record(ctx, fp, Meta{Platform: "twitter", Text: "S"})
		if err != nil {
			t.Fatal(err)
		}
		if res.New != (i == 0) {
			t.Fatalf("call %d: New = %v", i, res.New)
		}
		if res.Count != 1 {
			t.Fatalf("call %d: Count = %d, want 1", i, res.Count)
		}
	}

	res, _ := l.Record(ctx, Fingerprint("T"), Meta{})
	if !res.New || res.Count != 2 {
		t.Fatalf("second fingerprint: %+v", res)
	}
}

func TestEmptyLedgerReadsZero(t *testing.T) {
	l := openLedger(t)
	n, err := l.Count(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	ok, err := l.Has(context.Background(), Fingerprint("x"))
	if err != nil || ok {
		t.Fatalf("Has = %v, %v", ok, err)
	}
}

func TestReset(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	fp := Fingerprint("A")
	l.Record(ctx, fp, Meta{})
	l.SaveVerdict(ctx, fp, classify.Verdict{Probability: 50})

	if err := l.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := l.Count(ctx); n != 0 {
		t.Fatalf("count after reset = %d", n)
	}
	if v, _ := l.Verdict(ctx, fp); v != nil {
		t.Fatal("verdict survived reset")
	}
	res, _ := l.Record(ctx, fp, Meta{})
	if !res.New || res.Count != 1 {
		t.Fatalf("after reset: %+v", res)
	}
}

// Two processes sharing the database file race on the same first sighting.
func TestConcurrentInstancesCountOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fakezero.db")
	var ledgers []*Ledger
	for range 2 {
		db, err := dbopen.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close() })
		l, err := Open(db)
		if err != nil {
			t.Fatal(err)
		}
		ledgers = append(ledgers, l)
	}

	ctx := context.Background()
	fp := Fingerprint("breaking news")
	var wg sync.WaitGroup
	var mu sync.Mutex
	news := 0
	for i := range 16 {
		wg.Add(1)
		go func(l *Ledger) {
			defer wg.Done()
			res, err := l.Record(ctx, fp, Meta{Platform: "facebook"})
			if err != nil {
				t.Error(err)
				return
			}
			if res.New {
				mu.Lock()
				news++
				mu.Unlock()
			}
		}(ledgers[i%2])
	}
	wg.Wait()

	if news != 1 {
		t.Fatalf("new sightings = %d, want 1", news)
	}
	if n, _ := ledgers[1].Count(ctx); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestVerdictRoundTrip(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	fp := Fingerprint("claim")
	l.Record(ctx, fp, Meta{Platform: "instagram", Text: "claim"})

	want := classify.Verdict{Probability: 70, Categories: []string{"satire", "false context"}, Sentiment: "neutral", Reason: "r"}
	if err := l.SaveVerdict(ctx, fp, want); err != nil {
		t.Fatal(err)
	}
	got, err := l.Verdict(ctx, fp)
	if err != nil {
		t.Fatal(err)
	}
	if got.Probability != 70 || len(got.Categories) != 2 || got.Categories[1] != "false context" {
		t.Fatalf("verdict = %+v", got)
	}
}

func TestStats(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	l.Record(ctx, Fingerprint("a"), Meta{Platform: "twitter", Text: "a"})
	l.Record(ctx, Fingerprint("b"), Meta{Platform: "twitter", Text: "b"})
	l.Record(ctx, Fingerprint("c"), Meta{Platform: "facebook", Text: "c"})
	l.SaveVerdict(ctx, Fingerprint("c"), classify.Verdict{Probability: 12})

	st, err := l.Stats(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if st.Count != 3 || st.ByPlatform["twitter"] != 2 || st.ByPlatform["facebook"] != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Classified != 1 {
		t.Fatalf("classified = %d", st.Classified)
	}
	if len(st.Recent) != 2 || st.Recent[0].Excerpt != "c" || st.Recent[0].Probability == nil || *st.Recent[0].Probability != 12 {
		t.Fatalf("recent = %+v", st.Recent)
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("A\nB") == Fingerprint("A\nB ") {
		t.Fatal("distinct texts share a fingerprint")
	}
	if len(Fingerprint("")) != 64 {
		t.Fatal("fingerprint must be hex sha-256")
	}
}
