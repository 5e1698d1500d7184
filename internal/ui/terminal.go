package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// ShouldUseColor follows the NO_COLOR and CLICOLOR conventions:
// NO_COLOR disables color, CLICOLOR_FORCE enables it even without a TTY,
// CLICOLOR=0 disables it, otherwise color is used on a terminal.
func ShouldUseColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	return IsTerminal(os.Stdout)
}

// ConfigureColor sets the lipgloss color profile from the environment.
// The CLI calls it once at startup.
func ConfigureColor() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	if os.Getenv("CLICOLOR_FORCE") != "" && !IsTerminal(os.Stdout) {
		lipgloss.SetColorProfile(termenv.ANSI256)
	}
}
