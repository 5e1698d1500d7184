// Package ui renders bdsync results for the terminal.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/bdsync/internal/tracker"
)

// Ayu theme color palette
// Dark: https://terminalcolors.com/themes/ayu/dark/
// Light: https://terminalcolors.com/themes/ayu/light/
var (
	// Semantic status colors (Ayu theme - adaptive light/dark)
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300", // ayu light bright green
		Dark:  "#c2d94c", // ayu dark bright green
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49", // ayu light bright yellow
		Dark:  "#ffb454", // ayu dark bright yellow
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171", // ayu light bright red
		Dark:  "#f07178", // ayu dark bright red
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99", // ayu light muted
		Dark:  "#6c7680", // ayu dark muted
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6", // ayu light bright blue
		Dark:  "#59c2ff", // ayu dark bright blue
	}
)

// Status styles - consistent across all commands
var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
)

// HeaderStyle is used for issue ids and section titles.
var HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
)

const (
	TreeChild = "⎿ "
	TreeLast  = "└─ "
	Arrow     = "→"
)

// StatusStyle picks the style for a run status.
func StatusStyle(s tracker.Status) lipgloss.Style {
	switch s {
	case tracker.StatusSuccess:
		return PassStyle
	case tracker.StatusPartial:
		return WarnStyle
	default:
		return FailStyle
	}
}

// StatusIcon renders the icon for a run status.
func StatusIcon(s tracker.Status) string {
	switch s {
	case tracker.StatusSuccess:
		return PassStyle.Render(IconPass)
	case tracker.StatusPartial:
		return WarnStyle.Render(IconWarn)
	default:
		return FailStyle.Render(IconFail)
	}
}

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderHeader(s string) string { return HeaderStyle.Render(s) }
