// Package classify asks a language model how likely a detected post is to be
// misinformation. Verdicts are advisory: they are stored and reported but
// never decide whether a post is annotated.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Verdict is the model's assessment of one post.
type Verdict struct {
	Probability int      `json:"probability"` // 0-100
	Categories  []string `json:"categories"`
	Sentiment   string   `json:"sentiment"`
	Reason      string   `json:"reason"`
}

// Classifier produces a verdict for a post text.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Verdict, error)
}

// Categories the model may pick from.
var Categories = []string{
	"satire", "false connection", "misleading content", "false context",
	"impostor content", "manipulated content", "fabricated content",
}

// rawVerdict is the JSON shape the model is asked to answer with.
type rawVerdict struct {
	Probability any      `json:"probability"`
	Type        []string `json:"type"`
	Sentiment   string   `json:"sentiment"`
	Reason      string   `json:"reason"`
}

// ParseVerdict decodes a model answer. Code fences around the JSON are
// tolerated, and probability may be a number or a string like "75%".
func ParseVerdict(answer string) (*Verdict, error) {
	s := strings.TrimSpace(answer)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var raw rawVerdict
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("classify: decode answer: %w", err)
	}
	p, err := parseProbability(raw.Probability)
	if err != nil {
		return nil, err
	}
	return &Verdict{
		Probability: p,
		Categories:  raw.Type,
		Sentiment:   strings.ToLower(strings.TrimSpace(raw.Sentiment)),
		Reason:      strings.TrimSpace(raw.Reason),
	}, nil
}

// parseProbability accepts 0-100, or a fraction below 1 when the value
// carries no percent sign. "0.5%" stays half a percent.
func parseProbability(v any) (int, error) {
	var f float64
	percent := false
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		s := strings.TrimSpace(x)
		if strings.HasSuffix(s, "%") {
			percent = true
			s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("classify: probability %q: %w", x, err)
		}
		f = parsed
	case nil:
		return 0, fmt.Errorf("classify: probability missing")
	default:
		return 0, fmt.Errorf("classify: probability has type %T", v)
	}
	if !percent && f > 0 && f < 1 {
		f *= 100
	}
	switch {
	case f < 0:
		f = 0
	case f > 100:
		f = 100
	}
	return int(f + 0.5), nil
}
