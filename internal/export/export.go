// Package export writes stored chat transcripts as JSON, YAML or Markdown.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/kalambet/myles/internal/storage"
)

// Transcript is the exported form of one session.
type Transcript struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title,omitempty" yaml:"title,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Turns     []Turn    `json:"turns" yaml:"turns"`
}

// Turn is one exported message.
type Turn struct {
	Role       string    `json:"role" yaml:"role"`
	Text       string    `json:"text" yaml:"text"`
	Sources    []string  `json:"sources,omitempty" yaml:"sources,omitempty"`
	Companies  []string  `json:"companies,omitempty" yaml:"companies,omitempty"`
	ResultFile string    `json:"result_file,omitempty" yaml:"result_file,omitempty"`
	Confidence *float64  `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// FromStorage builds a Transcript from a stored session and its turns.
func FromStorage(sess storage.Session, turns []storage.Turn) *Transcript {
	t := &Transcript{
		ID:        sess.ID,
		Title:     sess.Title,
		CreatedAt: sess.CreatedAt,
		Turns:     make([]Turn, 0, len(turns)),
	}
	for _, st := range turns {
		t.Turns = append(t.Turns, Turn{
			Role:       st.Role,
			Text:       st.Text,
			Sources:    st.SourceLinks,
			Companies:  st.Items,
			ResultFile: st.ResultFile,
			Confidence: st.Confidence,
			CreatedAt:  st.CreatedAt,
		})
	}
	return t
}

// Exporter writes a transcript in one format.
type Exporter interface {
	Export(t *Transcript, w io.Writer) error
	Extension() string
}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, md)", format)
	}
}
