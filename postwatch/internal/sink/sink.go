// Package sink delivers detection events to outputs (stdout, webhook,
// in-process callback).
package sink

import (
	"context"
	"time"

	"github.com/hazyhaar/fakezero/postwatch/classify"
)

// Detection reports one processed post. A second event with Verdict set
// follows when a classifier answers for a newly counted post.
type Detection struct {
	ID          string            `json:"id"`
	PageID      string            `json:"page_id"`
	PageURL     string            `json:"page_url"`
	Platform    string            `json:"platform"`
	Fingerprint string            `json:"fingerprint"`
	New         bool              `json:"new"`
	Count       int64             `json:"detection_count"`
	Text        string            `json:"text"`
	Markdown    string            `json:"markdown,omitempty"`
	Verdict     *classify.Verdict `json:"verdict,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Type names the envelope of d.
func (d Detection) Type() string {
	if d.Verdict != nil {
		return "verdict"
	}
	return "detection"
}

// Sink is an output backend.
type Sink interface {
	Send(ctx context.Context, d Detection) error
	Close() error
}

type envelope struct {
	Type string    `json:"type"`
	Data Detection `json:"data"`
}
