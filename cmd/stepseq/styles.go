package main

import "github.com/charmbracelet/lipgloss"

// Result glyphs; they carry meaning without relying on color alone.
const (
	glyphPassed  = "✓"
	glyphFailed  = "✗"
	glyphWarning = "⚠"
	glyphError   = "!"
	glyphSkipped = "○"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

var (
	passStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	failStyle    = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	headerStyle  = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	skippedStyle = dimStyle
)

// statusStyle picks the style for a run or scenario status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "passed":
		return passStyle
	case "cancelled", "skipped":
		return warnStyle
	default:
		return failStyle
	}
}
