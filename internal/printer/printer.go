package printer

import (
	"fmt"
	"os"
	"strings"

	"github.com/dyluth/drey/pkg/journal"
	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	dim    = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Printf("⚠️  %s", msg)
	} else {
		yellow.Print(msg)
	}
}

// Dim prints low-emphasis detail such as timestamps and offsets
func Dim(format string, a ...any) {
	dim.Printf(format, a...)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Printf("→ %s", fmt.Sprintf(format, a...))
}

// NotificationStatus renders a notification status with its conventional
// color: unseen demands attention, in_progress is routine, resolved is done.
func NotificationStatus(status journal.NotificationStatus) string {
	switch status {
	case journal.NotificationUnseen:
		return yellow.Sprint(string(status))
	case journal.NotificationInProgress:
		return cyan.Sprint(string(status))
	case journal.NotificationResolved:
		return green.Sprint(string(status))
	default:
		return string(status)
	}
}

// CandidateState renders a readiness state with its conventional color.
func CandidateState(state journal.CandidateState) string {
	switch state {
	case journal.CandidateReady, journal.CandidateDone:
		return green.Sprint(string(state))
	case journal.CandidateFailed:
		return red.Sprint(string(state))
	case journal.CandidateQueued, journal.CandidateProcessing:
		return cyan.Sprint(string(state))
	default:
		return string(state)
	}
}

// Error creates a formatted error message with title, explanation, and suggestions
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)

	fmt.Fprintf(os.Stderr, "%s\n", explanation)

	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(os.Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(os.Stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Println(a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}
