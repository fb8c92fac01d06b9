package conversation

import (
	"math"
	"strconv"
	"time"

	"github.com/kalambet/myles/internal/progress"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Turn is one entry in the conversation log.
type Turn struct {
	ID          string
	Role        Role
	Text        string
	SourceLinks []string
	// Items is the company list attached to an upload prompt or a batch
	// loading turn. It is never modified after the turn is created.
	Items              []string
	AwaitingBatchQuery bool
	Loading            bool
	Progress           progress.Snapshot
	ResultFile         string
	// Confidence is normalised to [0,1] with one decimal, nil when absent.
	Confidence *float64
	CreatedAt  time.Time
}

func (t Turn) clone() Turn {
	c := t
	if t.SourceLinks != nil {
		c.SourceLinks = append([]string(nil), t.SourceLinks...)
	}
	if t.Items != nil {
		c.Items = append([]string(nil), t.Items...)
	}
	if t.Confidence != nil {
		v := *t.Confidence
		c.Confidence = &v
	}
	return c
}

// HasProgress reports whether a progress snapshot is attached.
func (t Turn) HasProgress() bool {
	return !t.Progress.Empty()
}

// ConfidenceText formats the confidence with one decimal, or "" when absent.
func (t Turn) ConfidenceText() string {
	if t.Confidence == nil {
		return ""
	}
	return FormatConfidence(*t.Confidence)
}

// RescaleConfidence maps a backend score on the 0-100 scale to [0,1],
// rounded half away from zero to one decimal: 85 -> 0.9, 84 -> 0.8.
func RescaleConfidence(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	v := math.Round(raw/10) / 10
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// FormatConfidence renders a normalised score with exactly one decimal.
func FormatConfidence(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
