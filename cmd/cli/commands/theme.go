package commands

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorAccent  = lipgloss.Color("#f97316")
	colorGood    = lipgloss.Color("#22c55e")
	colorPending = lipgloss.Color("#eab308")
	colorBad     = lipgloss.Color("#ef4444")
	colorDone    = lipgloss.Color("#3b82f6")
	colorMuted   = lipgloss.Color("#6b7280")
	colorDim     = lipgloss.Color("#4b5563")
	colorText    = lipgloss.Color("#f9fafb")
)

// interactive reports whether stdout is a terminal. Tests and pipes get
// plain output.
var interactive = func() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// statusColors maps claim, verification and storage states to a badge color
var statusColors = map[string]lipgloss.Color{
	"claimable":           colorGood,
	"stacked-with-reward": colorGood,
	"normal":              colorGood,
	"claimed":             colorDone,
	"unverified":          colorPending,
	"pending":             colorPending,
	"warning":             colorPending,
	"critical":            colorBad,
	"error":               colorBad,
	"check-failed":        colorBad,
	"exceeded":            colorBad,
}

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	styleSection = lipgloss.NewStyle().Bold(true).Foreground(colorMuted).MarginTop(1)
	styleBrand   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleLabel   = lipgloss.NewStyle().Foreground(colorMuted).Width(14)
	styleValue   = lipgloss.NewStyle().Foreground(colorText)
	styleHint    = lipgloss.NewStyle().Foreground(colorDim)

	styleOK     = lipgloss.NewStyle().Foreground(colorGood)
	styleNotice = lipgloss.NewStyle().Foreground(colorDone)

	styleBox      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorDim).Padding(0, 1)
	styleAlertBox = styleBox.BorderForeground(colorBad)

	styleTableHead = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	styleTableCell = lipgloss.NewStyle().Foreground(colorText).Padding(0, 1)
	styleTableDim  = styleTableCell.Foreground(colorMuted)
)

// StatusBadge renders a status as a colored badge, or the bare word
// outside a terminal
func StatusBadge(status string) string {
	if !interactive() {
		return status
	}
	bg, ok := statusColors[status]
	if !ok {
		bg = colorMuted
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#000000")).
		Background(bg).
		Bold(ok).
		Padding(0, 1).
		Render(status)
}

// Logo returns the styled program name
func Logo() string {
	if !interactive() {
		return "cityclaims"
	}
	return styleBrand.Render("cityclaims")
}
