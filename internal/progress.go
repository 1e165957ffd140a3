package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 100 * time.Millisecond

// ProgressStep is one step of a multi-step command such as init.
type ProgressStep struct {
	Message string
	Fn      func(ctx context.Context) error
}

// ShowProgress runs fn behind a spinner on stderr. Without a terminal the
// message is logged and fn runs plainly.
func ShowProgress(ctx context.Context, message string, fn func(ctx context.Context) error) error {
	if !isTerminal(os.Stderr) {
		LogInfo(message)
		return fn(ctx)
	}
	return spin(ctx, os.Stderr, message, fn)
}

// ShowProgressWithSteps runs steps in order, stopping at the first failure.
func ShowProgressWithSteps(ctx context.Context, steps []ProgressStep) error {
	for i, step := range steps {
		msg := fmt.Sprintf("[%d/%d] %s", i+1, len(steps), step.Message)
		if err := ShowProgress(ctx, msg, step.Fn); err != nil {
			return fmt.Errorf("%s: %w", step.Message, err)
		}
	}
	return nil
}

// spin animates a spinner on w while fn runs, then prints a check or cross.
func spin(ctx context.Context, w io.Writer, message string, fn func(ctx context.Context) error) error {
	stop := make(chan struct{})
	spinnerDone := make(chan struct{})

	go func() {
		defer close(spinnerDone)
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			_, _ = fmt.Fprintf(w, "\r%s %s", progressStyle.Render(spinnerFrames[i%len(spinnerFrames)]), message)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	err := fn(ctx)
	close(stop)
	<-spinnerDone

	if err != nil {
		_, _ = fmt.Fprintf(w, "\r%s %s\n", errorStyle.Render("✗"), message)
		return err
	}
	_, _ = fmt.Fprintf(w, "\r%s %s\n", successStyle.Render("✓"), message)
	return nil
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return isTerminal(os.Stdout)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	if isTerminal(os.Stdout) {
		fmt.Printf("%s %s\n", successStyle.Render("✓"), message)
	} else {
		fmt.Println(message)
	}
}

// PrintError prints an error message
func PrintError(message string) {
	if isTerminal(os.Stderr) {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("✗"), message)
	} else {
		fmt.Fprintf(os.Stderr, "%s\n", message)
	}
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	if isTerminal(os.Stdout) {
		fmt.Printf("%s %s\n", progressStyle.Render("ℹ"), message)
	} else {
		fmt.Println(message)
	}
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	if isTerminal(os.Stderr) {
		fmt.Fprintf(os.Stderr, "%s %s\n", warningStyle.Render("⚠"), message)
	} else {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", message)
	}
}
