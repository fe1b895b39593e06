package platform

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		origin string
		want   Kind
	}{
		{"https://www.facebook.com/", Facebook},
		{"https://m.facebook.com/groups/1", Facebook},
		{"facebook.com", Facebook},
		{"https://www.instagram.com/p/abc", Instagram},
		{"https://twitter.com/home", Twitter},
		{"https://x.com/home", Twitter},
		{"mobile.x.com", Twitter},
		{"https://X.COM/", Twitter},
		{"https://www.netflix.com/", Unknown},
		{"https://notfacebook.com/", Unknown},
		{"https://example.org/", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		if got := Detect(tt.origin).Kind; got != tt.want {
			t.Errorf("Detect(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestProfiles(t *testing.T) {
	tw := Detect("https://x.com")
	if tw.Boundary != `article[data-testid="tweet"]` || !tw.ScopeText || tw.Strategy != StrategyClosestAncestor {
		t.Fatalf("twitter profile = %+v", tw)
	}
	fb := Detect("https://facebook.com")
	if fb.Strategy != StrategySelfOrDescendants || fb.ScopeText {
		t.Fatalf("facebook profile = %+v", fb)
	}
	ig := Detect("https://instagram.com")
	if ig.Boundary != "article._aatb" || ig.Strategy != StrategyClosestAncestor {
		t.Fatalf("instagram profile = %+v", ig)
	}
}

func TestUnknownIsUnsupported(t *testing.T) {
	p := Detect("https://example.com")
	if p.Supported() {
		t.Fatal("unknown profile must not be supported")
	}
	if p.Boundary != "" || p.Strategy != StrategyNone {
		t.Fatalf("unknown profile = %+v", p)
	}
	if !ByKind(Instagram).Supported() {
		t.Fatal("instagram must be supported")
	}
}

func TestKindString(t *testing.T) {
	if Twitter.String() != "twitter" || Unknown.String() != "unknown" {
		t.Fatal("unexpected Kind names")
	}
}
