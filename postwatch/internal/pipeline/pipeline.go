// Package pipeline processes one post: extract, count, annotate, report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/fakezero/idgen"
	"github.com/hazyhaar/fakezero/observability"
	"github.com/hazyhaar/fakezero/postwatch/annotate"
	"github.com/hazyhaar/fakezero/postwatch/classify"
	"github.com/hazyhaar/fakezero/postwatch/dom"
	"github.com/hazyhaar/fakezero/postwatch/internal/extract"
	"github.com/hazyhaar/fakezero/postwatch/internal/sink"
	"github.com/hazyhaar/fakezero/postwatch/ledger"
	"github.com/hazyhaar/fakezero/postwatch/platform"
)

// Status is the terminal state of one Process call.
type Status int

const (
	StatusSkipped        Status = iota // no text
	StatusCountedNew                   // first sighting, counted
	StatusAlreadyCounted               // seen before, not counted
	StatusAborted                      // session disabled
	StatusLedgerError                  // ledger unavailable; annotated anyway
)

func (s Status) String() string {
	switch s {
	case StatusCountedNew:
		return "counted_new"
	case StatusAlreadyCounted:
		return "already_counted"
	case StatusAborted:
		return "aborted"
	case StatusLedgerError:
		return "ledger_error"
	default:
		return "skipped"
	}
}

// Outcome describes what happened to a post.
type Outcome struct {
	Status      Status
	Fingerprint string
	Count       int64
}

// Recorder is the ledger surface the pipeline needs.
type Recorder interface {
	Record(ctx context.Context, fp string, meta ledger.Meta) (ledger.Result, error)
	SaveVerdict(ctx context.Context, fp string, v classify.Verdict) error
}

// Config wires a Pipeline. Ledger, Annotator and Enabled are required.
type Config struct {
	Profile   platform.Profile
	PageID    string
	PageURL   string
	Enabled   func() bool
	Ledger    Recorder
	Annotator annotate.Annotator
	// Classifier is optional.
	Classifier *classify.Pool
	// Sink is optional.
	Sink sink.Sink
	// Markdown, when set, attaches a rendering of new posts to events.
	Markdown *sink.Markdown
	Events   *observability.EventLogger
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	NewID    idgen.Generator
}

type Pipeline struct {
	cfg Config
}

func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = idgen.Prefixed("det_", idgen.Default)
	}
	return &Pipeline{cfg: cfg}
}

// Process runs the pipeline on post. It never returns an error: failures of
// the ledger, annotator, classifier or sinks are logged and recorded.
func (p *Pipeline) Process(ctx context.Context, post dom.Node) Outcome {
	out := p.process(ctx, post)
	if m := p.cfg.Metrics; m != nil {
		m.Detections.WithLabelValues(p.cfg.Profile.Kind.String(), out.Status.String()).Inc()
	}
	return out
}

func (p *Pipeline) process(ctx context.Context, post dom.Node) Outcome {
	if !p.cfg.Enabled() {
		return Outcome{Status: StatusAborted}
	}

	outer, err := post.OuterHTML()
	if err != nil {
		p.failure(ctx, observability.StageExtract, "", err)
		return Outcome{Status: StatusSkipped}
	}
	text, err := extract.FromHTML(outer, p.cfg.Profile)
	if err != nil {
		p.failure(ctx, observability.StageExtract, "", err)
		return Outcome{Status: StatusSkipped}
	}
	if text == "" {
		return Outcome{Status: StatusSkipped}
	}

	fp := ledger.Fingerprint(text)
	out := Outcome{Fingerprint: fp}
	res, err := p.cfg.Ledger.Record(ctx, fp, ledger.Meta{Platform: p.cfg.Profile.Kind.String(), Text: text})
	switch {
	case err != nil:
		p.failure(ctx, observability.StageLedger, fp, err)
		out.Status = StatusLedgerError
	case res.New:
		out.Status = StatusCountedNew
		out.Count = res.Count
	default:
		out.Status = StatusAlreadyCounted
		out.Count = res.Count
	}

	if err := p.annotate(ctx, post); err != nil {
		p.failure(ctx, observability.StageAnnotate, fp, err)
	}

	if out.Status == StatusLedgerError {
		return out
	}
	det := sink.Detection{
		ID:          p.cfg.NewID(),
		PageID:      p.cfg.PageID,
		PageURL:     p.cfg.PageURL,
		Platform:    p.cfg.Profile.Kind.String(),
		Fingerprint: fp,
		New:         out.Status == StatusCountedNew,
		Count:       out.Count,
		Text:        text,
		Timestamp:   time.Now().UTC(),
	}
	if det.New && p.cfg.Markdown != nil {
		if md, err := p.cfg.Markdown.Render(outer, p.cfg.PageURL); err == nil {
			det.Markdown = md
		} else {
			p.cfg.Logger.Debug("pipeline: markdown failed", "error", err)
		}
	}
	p.emit(ctx, det)
	if det.New {
		p.classify(ctx, det, text)
	}
	return out
}

// annotate turns a panicking annotator into an error so the instance loop
// survives it.
func (p *Pipeline) annotate(ctx context.Context, post dom.Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: annotator panicked: %v", r)
		}
	}()
	return p.cfg.Annotator.Annotate(ctx, post)
}

func (p *Pipeline) classify(ctx context.Context, det sink.Detection, text string) {
	pool := p.cfg.Classifier
	if pool == nil {
		return
	}
	accepted := pool.Submit(ctx, text, func(v *classify.Verdict, err error) {
		if err != nil {
			p.failure(ctx, observability.StageClassify, det.Fingerprint, err)
			return
		}
		if err := p.cfg.Ledger.SaveVerdict(ctx, det.Fingerprint, *v); err != nil {
			p.failure(ctx, observability.StageLedger, det.Fingerprint, err)
		}
		det.ID = p.cfg.NewID()
		det.Verdict = v
		det.Markdown = ""
		det.Timestamp = time.Now().UTC()
		p.emit(ctx, det)
	})
	if !accepted {
		p.cfg.Logger.Debug("pipeline: classifier busy, skipped", "fingerprint", det.Fingerprint)
		if m := p.cfg.Metrics; m != nil {
			m.ClassifierDropped.Inc()
		}
	}
}

func (p *Pipeline) emit(ctx context.Context, det sink.Detection) {
	if p.cfg.Sink == nil {
		return
	}
	if err := p.cfg.Sink.Send(ctx, det); err != nil {
		p.failure(ctx, observability.StageSink, det.Fingerprint, err)
	}
}

func (p *Pipeline) failure(ctx context.Context, stage, fp string, err error) {
	p.cfg.Logger.Warn("pipeline: "+stage+" failed",
		"page_id", p.cfg.PageID, "fingerprint", fp, "error", err)
	if m := p.cfg.Metrics; m != nil {
		m.PipelineErrors.WithLabelValues(stage).Inc()
	}
	p.cfg.Events.LogEvent(ctx, observability.PipelineEvent{
		Stage:       stage,
		PageID:      p.cfg.PageID,
		Platform:    p.cfg.Profile.Kind.String(),
		Fingerprint: fp,
		Outcome:     "error",
		Err:         err,
	})
}
