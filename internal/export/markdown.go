package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// MarkdownExporter writes a readable transcript.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(t *Transcript, w io.Writer) error {
	var b strings.Builder

	title := t.Title
	if title == "" {
		title = "Session " + t.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Session:** %s  \n", t.ID)
	fmt.Fprintf(&b, "**Started:** %s  \n", t.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Turns:** %d\n\n", len(t.Turns))

	for _, turn := range t.Turns {
		b.WriteString("---\n\n")
		fmt.Fprintf(&b, "**%s** (%s)\n\n", speaker(turn.Role), turn.CreatedAt.UTC().Format("15:04:05"))
		b.WriteString(escapeMarkdown(turn.Text))
		b.WriteString("\n\n")

		if turn.Confidence != nil {
			fmt.Fprintf(&b, "Confidence Rating: %s\n\n", strconv.FormatFloat(*turn.Confidence, 'f', 1, 64))
		}
		if len(turn.Sources) > 0 {
			b.WriteString("Sources:\n\n")
			for _, src := range turn.Sources {
				fmt.Fprintf(&b, "- <%s>\n", src)
			}
			b.WriteString("\n")
		}
		if len(turn.Companies) > 0 {
			fmt.Fprintf(&b, "Companies (%d): %s\n\n", len(turn.Companies), strings.Join(turn.Companies, ", "))
		}
		if turn.ResultFile != "" {
			fmt.Fprintf(&b, "Results: `%s`\n\n", turn.ResultFile)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (e *MarkdownExporter) Extension() string { return "md" }

func speaker(role string) string {
	if role == "user" {
		return "You"
	}
	return "Myles"
}

func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCode := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			continue
		}
		line = strings.ReplaceAll(line, "**", `\*\*`)
		line = strings.ReplaceAll(line, "__", `\_\_`)
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}
