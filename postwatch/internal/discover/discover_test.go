package discover

import (
	"testing"

	"github.com/hazyhaar/fakezero/postwatch/dom"
	"github.com/hazyhaar/fakezero/postwatch/platform"
)

type recorder struct{ keys map[string]int }

func (r *recorder) Register(n dom.Node) bool {
	k, _ := n.Key()
	r.keys[k]++
	return r.keys[k] == 1
}

func tree(t *testing.T, body, origin string) *dom.Tree {
	t.Helper()
	tr, err := dom.ParseTreeString("<html><body>"+body+"</body></html>", origin)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestClosestAncestorDedupsBatch(t *testing.T) {
	tr := tree(t, `<main id="feed"></main>`, "https://x.com")
	feed, _ := tr.QueryOne("#feed")
	added, _ := tr.Append(feed, `<article data-testid="tweet"><div id="inner"></div></article>`)
	art := added[0]
	inner, _ := tr.QueryOne("#inner")
	// The body and a wrapper of the same tweet arrive in one batch.
	batch := []dom.Node{inner, art, inner}

	d := New(platform.Detect("https://x.com"), nil, nil)
	got := d.Candidates(batch)
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1", len(got))
	}
	k1, _ := got[0].Key()
	k2, _ := art.Key()
	if k1 != k2 {
		t.Fatal("candidate is not the tweet boundary")
	}
}

func TestSelfOrDescendants(t *testing.T) {
	tr := tree(t, `<div id="feed">
		<div id="wrap">
			<div data-ad-comet-preview="message" id="m1"></div>
			<div data-ad-comet-preview="message" id="m2"></div>
		</div>
		<div data-ad-comet-preview="message" id="m3"></div>
	</div>`, "https://facebook.com")
	wrap, _ := tr.QueryOne("#wrap")
	m3, _ := tr.QueryOne("#m3")

	d := New(platform.Detect("https://www.facebook.com"), nil, nil)
	got := d.Candidates([]dom.Node{wrap, m3})
	if len(got) != 3 {
		t.Fatalf("candidates = %d, want 3 (m1, m2 via descendants, m3 itself)", len(got))
	}
}

func TestUnknownPlatformIsNoop(t *testing.T) {
	tr := tree(t, `<article data-testid="tweet"></article>`, "https://example.com")
	all, _ := tr.QueryAll("article")
	rec := &recorder{keys: map[string]int{}}
	d := New(platform.Detect("https://example.com"), rec, nil)
	if n := d.HandleBatch(all); n != 0 || len(rec.keys) != 0 {
		t.Fatalf("unknown platform registered %d", n)
	}
}

func TestAnnotationMarkersIgnored(t *testing.T) {
	tr := tree(t, `<article data-testid="tweet" id="t"></article>`, "https://x.com")
	post, _ := tr.QueryOne("#t")
	added, _ := tr.Append(post, `<div class="fakezero-warning-container"><div class="fakezero-warning-icon"></div></div>`)

	d := New(platform.Detect("https://x.com"), nil, nil)
	if got := d.Candidates(added); len(got) != 0 {
		t.Fatalf("annotation insert produced %d candidates", len(got))
	}
}

func TestHandleBatchRegistersOnce(t *testing.T) {
	tr := tree(t, `<article class="_aatb"><div class="_a9zs" id="c"></div></article>`, "https://instagram.com")
	c, _ := tr.QueryOne("#c")
	rec := &recorder{keys: map[string]int{}}
	d := New(platform.Detect("https://instagram.com"), rec, nil)

	if n := d.HandleBatch([]dom.Node{c}); n != 1 {
		t.Fatalf("first batch registered %d", n)
	}
	if n := d.HandleBatch([]dom.Node{c}); n != 0 {
		t.Fatalf("second batch registered %d, want 0", n)
	}
}
