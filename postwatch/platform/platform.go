// Package platform maps a page origin to the selectors and discovery
// strategy used to find posts on it.
package platform

import (
	"net/url"
	"strings"
)

// Kind identifies a supported social platform.
type Kind int

const (
	Unknown Kind = iota
	Facebook
	Instagram
	Twitter
)

func (k Kind) String() string {
	switch k {
	case Facebook:
		return "facebook"
	case Instagram:
		return "instagram"
	case Twitter:
		return "twitter"
	default:
		return "unknown"
	}
}

// Strategy says how an added element leads to post boundaries.
type Strategy int

const (
	// StrategyNone never yields candidates.
	StrategyNone Strategy = iota
	// StrategySelfOrDescendants takes the added element if it matches the
	// boundary selector, plus every matching descendant.
	StrategySelfOrDescendants
	// StrategyClosestAncestor takes the nearest inclusive ancestor matching
	// the boundary selector.
	StrategyClosestAncestor
)

func (s Strategy) String() string {
	switch s {
	case StrategySelfOrDescendants:
		return "self-or-descendants"
	case StrategyClosestAncestor:
		return "closest-ancestor"
	default:
		return "none"
	}
}

// Profile is the immutable per-platform configuration.
type Profile struct {
	Kind            Kind
	Boundary        string // root element of one post
	SponsoredMarker string // advertisement marker (informational)
	TextContainer   string // element holding the post body
	ScopeText       bool   // extract from TextContainer matches only
	Strategy        Strategy
}

// Supported reports whether discovery can run for p.
func (p Profile) Supported() bool {
	return p.Kind != Unknown && p.Boundary != "" && p.Strategy != StrategyNone
}

type rule struct {
	domains []string
	profile Profile
}

// Order matters: first match wins.
var rules = []rule{
	{
		domains: []string{"facebook.com"},
		profile: Profile{
			Kind:            Facebook,
			Boundary:        `div[data-ad-comet-preview="message"]`,
			SponsoredMarker: `[aria-label="Sponsored"]`,
			TextContainer:   `div.xdj266r`,
			Strategy:        StrategySelfOrDescendants,
		},
	},
	{
		domains: []string{"instagram.com"},
		profile: Profile{
			Kind:            Instagram,
			Boundary:        `article._aatb`,
			SponsoredMarker: `div._aaaw`,
			TextContainer:   `div._a9zs`,
			Strategy:        StrategyClosestAncestor,
		},
	},
	{
		domains: []string{"twitter.com", "x.com"},
		profile: Profile{
			Kind:            Twitter,
			Boundary:        `article[data-testid="tweet"]`,
			SponsoredMarker: `div[data-testid="badge"]`,
			TextContainer:   `div[data-testid="tweetText"]`,
			ScopeText:       true,
			Strategy:        StrategyClosestAncestor,
		},
	},
}

// Detect returns the profile for origin, which may be a full URL or a bare
// hostname. Unrecognised origins get the Unknown profile.
func Detect(origin string) Profile {
	host := hostOf(origin)
	if host == "" {
		return Profile{Kind: Unknown}
	}
	for _, r := range rules {
		for _, d := range r.domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return r.profile
			}
		}
	}
	return Profile{Kind: Unknown}
}

// ByKind returns the profile registered for k.
func ByKind(k Kind) Profile {
	for _, r := range rules {
		if r.profile.Kind == k {
			return r.profile
		}
	}
	return Profile{Kind: Unknown}
}

func hostOf(origin string) string {
	s := strings.TrimSpace(strings.ToLower(origin))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Hostname(), ".")
}
