// Package discover turns inserted elements into post boundaries.
package discover

import (
	"log/slog"

	"github.com/hazyhaar/fakezero/postwatch/annotate"
	"github.com/hazyhaar/fakezero/postwatch/dom"
	"github.com/hazyhaar/fakezero/postwatch/platform"
)

// Registrar receives candidates. Register must be idempotent.
type Registrar interface {
	Register(n dom.Node) bool
}

// Discoverer applies the platform strategy to mutation batches.
type Discoverer struct {
	profile platform.Profile
	reg     Registrar
	logger  *slog.Logger
}

// New creates a Discoverer. reg may be nil when only Candidates is used.
func New(p platform.Profile, reg Registrar, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{profile: p, reg: reg, logger: logger}
}

// Candidates returns the post boundaries reached from added, each at most
// once per call.
func (d *Discoverer) Candidates(added []dom.Node) []dom.Node {
	if !d.profile.Supported() {
		return nil
	}
	seen := make(map[string]struct{})
	var out []dom.Node
	emit := func(n dom.Node) {
		key, err := n.Key()
		if err != nil {
			d.logger.Debug("discover: key failed", "error", err)
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}

	for _, n := range added {
		if marker, _ := n.Matches(annotate.MarkerSelector); marker {
			continue
		}
		switch d.profile.Strategy {
		case platform.StrategySelfOrDescendants:
			if ok, err := n.Matches(d.profile.Boundary); err != nil {
				d.logger.Debug("discover: match failed", "error", err)
				continue
			} else if ok {
				emit(n)
			}
			inner, err := n.QueryAll(d.profile.Boundary)
			if err != nil {
				d.logger.Debug("discover: query failed", "error", err)
				continue
			}
			for _, c := range inner {
				emit(c)
			}
		case platform.StrategyClosestAncestor:
			c, err := n.Closest(d.profile.Boundary)
			if err != nil {
				d.logger.Debug("discover: closest failed", "error", err)
				continue
			}
			if c != nil {
				emit(c)
			}
		}
	}
	return out
}

// HandleBatch registers every candidate of added and returns how many were
// newly registered.
func (d *Discoverer) HandleBatch(added []dom.Node) int {
	n := 0
	for _, c := range d.Candidates(added) {
		if d.reg.Register(c) {
			n++
		}
	}
	return n
}
