package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/iksnae/chief-of-staff/internal"
)

// MarkdownExporter renders a session as a readable Markdown report.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(session *internal.Session, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# Session %s\n\n", session.ID)
	_, _ = fmt.Fprintf(w, "**Trigger:** %s  \n", session.Trigger)
	_, _ = fmt.Fprintf(w, "**Status:** %s  \n", session.Status)
	if session.Metadata.StartedAt != "" {
		_, _ = fmt.Fprintf(w, "**Started:** %s  \n", session.Metadata.StartedAt)
	}
	if session.Metadata.CompletedAt != "" {
		_, _ = fmt.Fprintf(w, "**Completed:** %s  \n", session.Metadata.CompletedAt)
	}
	_, _ = fmt.Fprintf(w, "**Tool calls:** %d  \n", session.Metadata.ToolCalls)
	_, _ = fmt.Fprintf(w, "**Cost:** $%.4f\n\n", session.Metadata.CostUSD)

	if session.Metadata.Error != "" {
		_, _ = fmt.Fprintf(w, "> **Error:** %s\n\n", session.Metadata.Error)
	}
	if session.Summary != "" {
		_, _ = fmt.Fprintf(w, "## Summary\n\n%s\n\n", session.Summary)
	}

	if len(session.Messages) == 0 {
		return nil
	}
	_, _ = fmt.Fprintf(w, "---\n\n## Transcript\n\n")

	for i, msg := range session.Messages {
		heading := msg.Actor
		if msg.Tool != "" {
			heading = fmt.Sprintf("%s `%s`", msg.Actor, msg.Tool)
		}
		if msg.Status != "" {
			heading += " [" + msg.Status + "]"
		}
		timestamp := ""
		if msg.Timestamp != "" {
			timestamp = fmt.Sprintf(" (%s)", msg.Timestamp)
		}

		_, _ = fmt.Fprintf(w, "**%s:**%s\n\n%s\n\n", heading, timestamp, escapeMarkdown(msg.Content))

		if i < len(session.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}
	return nil
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "```"):
			inCodeBlock = !inCodeBlock
		case !inCodeBlock:
			line = strings.ReplaceAll(line, "**", "\\*\\*")
			lines[i] = strings.ReplaceAll(line, "__", "\\_\\_")
		}
	}
	return strings.Join(lines, "\n")
}

func (e *MarkdownExporter) Extension() string {
	return "md"
}
