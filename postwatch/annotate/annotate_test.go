package annotate

import (
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/fakezero/postwatch/dom"
)

func TestTreeAnnotatorIdempotent(t *testing.T) {
	tree, err := dom.ParseTreeString(`<html><body><article id="p">post</article></body></html>`, "https://x.com")
	if err != nil {
		t.Fatal(err)
	}
	post, _ := tree.QueryOne("#p")
	a := NewTreeAnnotator(tree, "")
	ctx := context.Background()

	for range 3 {
		if err := a.Annotate(ctx, post); err != nil {
			t.Fatal(err)
		}
	}
	containers, _ := tree.QueryAll("." + ContainerClass)
	if len(containers) != 1 {
		t.Fatalf("containers = %d, want 1", len(containers))
	}
	icons, _ := post.QueryAll("." + IconClass)
	texts, _ := post.QueryAll("." + TextClass)
	if len(icons) != 1 || len(texts) != 1 {
		t.Fatalf("icons=%d texts=%d", len(icons), len(texts))
	}
	out, _ := texts[0].OuterHTML()
	if !strings.Contains(out, "false information") {
		t.Fatalf("warning text missing: %s", out)
	}
}

func TestTreeAnnotatorRemoveAll(t *testing.T) {
	tree, _ := dom.ParseTreeString(`<html><body><article id="a">a</article><article id="b">b</article></body></html>`, "")
	a := NewTreeAnnotator(tree, "")
	ctx := context.Background()
	for _, id := range []string{"#a", "#b"} {
		n, _ := tree.QueryOne(id)
		a.Annotate(ctx, n)
	}

	if err := a.RemoveAll(ctx); err != nil {
		t.Fatal(err)
	}
	left, _ := tree.QueryAll(MarkerSelector)
	if len(left) != 0 {
		t.Fatalf("markers left = %d", len(left))
	}
	posts, _ := tree.QueryAll("article")
	if len(posts) != 2 {
		t.Fatal("posts must survive RemoveAll")
	}
}

func TestSanitizeMessage(t *testing.T) {
	got := SanitizeMessage(`<b>Careful</b><script>alert(1)</script>`)
	if strings.Contains(got, "script") {
		t.Fatalf("script survived: %q", got)
	}
	if !strings.Contains(got, "<b>Careful</b>") {
		t.Fatalf("basic formatting lost: %q", got)
	}
	if SanitizeMessage("") != DefaultMessage {
		t.Fatalf("empty message = %q", SanitizeMessage(""))
	}
	if PlainText("<b>a &amp; b</b>") != "a & b" {
		t.Fatalf("PlainText = %q", PlainText("<b>a &amp; b</b>"))
	}
}
