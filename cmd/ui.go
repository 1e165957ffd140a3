package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/chief-of-staff/internal"
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)
)

// renderMarkdown renders assistant output for the terminal. Plain text is
// returned when stdout is not a terminal or rendering fails.
func renderMarkdown(text string) string {
	if !internal.IsTerminal() {
		return text
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// statusStyle colors a session, action or approval status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "executed", "approved", "checked", "ok", "low":
		return successStyle
	case "running", "pending", "pending_approval", "checking", "pending_sweep", "medium":
		return warningStyle
	case "failed", "error", "rejected", "cancelled", "high":
		return errorStyle
	}
	if strings.HasPrefix(status, "error") {
		return errorStyle
	}
	return infoStyle
}

// table writes rows as aligned columns with a styled header.
func table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}
	line := func(cells []string, style func(int, string) string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			pad := widths[i] - lipgloss.Width(cell)
			parts[i] = style(i, cell) + strings.Repeat(" ", max(pad, 0))
		}
		_, _ = fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	line(header, func(_ int, c string) string { return headerStyle.Render(c) })
	for _, row := range rows {
		line(row, func(_ int, c string) string { return c })
	}
}

func shortTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("Jan 02 15:04")
}

func ellipsis(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func usd(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}
