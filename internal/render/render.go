// Package render draws conversation turns, batch progress and the ray
// loader for a terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/kalambet/myles/internal/conversation"
	"github.com/kalambet/myles/internal/progress"
)

// maxListedCompanies is how many company names a turn shows before
// collapsing the rest into "...and N more".
const maxListedCompanies = 5

var (
	botHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#26A6AB")).
			Bold(true)

	userHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Bold(true)

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")).
			Underline(true)

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#26A6AB")).
			Bold(true).
			Padding(0, 1)
)

// SampleQueries are offered on the welcome screen.
var SampleQueries = []string{
	"Find contact info for Lee's Custom Woodwork",
	"Search for email addresses from Geab",
	"Extract phone numbers from Pulse Controls",
}

// Renderer formats conversation output. With color disabled every style is
// skipped and output is plain text.
type Renderer struct {
	color bool
}

// New returns a Renderer. color=false produces plain text.
func New(color bool) *Renderer {
	return &Renderer{color: color}
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

// Welcome returns the banner shown before the first message.
func (r *Renderer) Welcome() string {
	var b strings.Builder
	b.WriteString(r.style(titleStyle, "Myles · Contact Finder Assistant"))
	b.WriteString("\n\n")
	b.WriteString("I can help you find business contact information from websites.\n")
	b.WriteString("Try asking me to find contacts for a business, or upload a list\n")
	b.WriteString("of companies to search in bulk.\n\n")
	b.WriteString(r.style(labelStyle, "Try these examples:"))
	b.WriteString("\n")
	for _, q := range SampleQueries {
		fmt.Fprintf(&b, "  %q\n", q)
	}
	b.WriteString("\n")
	b.WriteString(r.style(hintStyle, "Type /help for commands."))
	b.WriteString("\n")
	return b.String()
}

// Turn renders one conversation turn.
func (r *Renderer) Turn(t conversation.Turn) string {
	var b strings.Builder

	if t.Role == conversation.RoleUser {
		b.WriteString(r.style(userHeaderStyle, "You"))
	} else {
		b.WriteString(r.style(botHeaderStyle, "Myles"))
	}
	b.WriteString("\n")
	b.WriteString(indent(t.Text, "  "))
	b.WriteString("\n")

	if c := t.ConfidenceText(); c != "" {
		fmt.Fprintf(&b, "  %s %s\n", r.style(labelStyle, "Confidence Rating:"), c)
	}

	if len(t.SourceLinks) > 0 {
		fmt.Fprintf(&b, "  %s\n", r.style(labelStyle, "Sources:"))
		for _, u := range t.SourceLinks {
			fmt.Fprintf(&b, "    - %s\n", r.style(linkStyle, u))
		}
	}

	switch {
	case t.HasProgress():
		fmt.Fprintf(&b, "  %s\n", r.style(labelStyle, "Companies:"))
		b.WriteString(r.Checklist(t.Progress))
	case len(t.Items) > 0:
		fmt.Fprintf(&b, "  %s\n", r.style(labelStyle, "Companies:"))
		for i, item := range t.Items {
			if i == maxListedCompanies {
				fmt.Fprintf(&b, "    ...and %d more\n", len(t.Items)-maxListedCompanies)
				break
			}
			fmt.Fprintf(&b, "    - %s\n", item)
		}
	}

	if t.ResultFile != "" {
		fmt.Fprintf(&b, "  %s %s\n", r.style(labelStyle, "Download Results CSV:"),
			r.style(hintStyle, "myles download "+t.ResultFile))
	}
	return b.String()
}

// Checklist renders one line per tracked item, first maxListedCompanies
// only, with completed items ticked.
func (r *Renderer) Checklist(s progress.Snapshot) string {
	var b strings.Builder
	items := s.Items()
	for i, item := range items {
		if i == maxListedCompanies {
			fmt.Fprintf(&b, "    ...and %d more\n", len(items)-maxListedCompanies)
			break
		}
		if s.Done(item) {
			fmt.Fprintf(&b, "    %s %s\n", r.style(doneStyle, "✓"), item)
		} else {
			fmt.Fprintf(&b, "    %s %s\n", r.style(pendingStyle, "·"), r.style(pendingStyle, item))
		}
	}
	return b.String()
}

// Progress renders a one-line batch summary naming the latest completion.
func (r *Renderer) Progress(s progress.Snapshot, latest string) string {
	line := fmt.Sprintf("[%d/%d]", s.Completed(), s.Total())
	if latest != "" {
		line += " " + r.style(doneStyle, "✓") + " " + latest
	}
	return line
}

// Error renders a local (non-conversation) error line.
func (r *Renderer) Error(msg string) string {
	return r.style(errorStyle, "✗") + " " + msg + "\n"
}

// Hint renders a dim informational line.
func (r *Renderer) Hint(msg string) string {
	return r.style(hintStyle, msg) + "\n"
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// IsTerminal reports whether w is a character device.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
