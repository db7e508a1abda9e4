package tui

import "github.com/charmbracelet/lipgloss"

// Palette follows the device's LED colours: green when a card is ready,
// amber while it is busy or interrupted, red on failure.
var (
	ledGreen = lipgloss.Color("#34d399")
	ledAmber = lipgloss.Color("#f59e0b")
	ledRed   = lipgloss.Color("#f43f5e")
	brand    = lipgloss.Color("#a78bfa")
	muted    = lipgloss.Color("#71717a")
	ink      = lipgloss.Color("#fafafa")
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(brand)
	routeStyle   = lipgloss.NewStyle().Foreground(muted)
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(ink).MarginTop(1)

	okStyle      = lipgloss.NewStyle().Foreground(ledGreen)
	errStyle     = lipgloss.NewStyle().Foreground(ledRed)
	cancelStyle  = lipgloss.NewStyle().Foreground(ledAmber)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	currentStyle = lipgloss.NewStyle().Bold(true).Foreground(ink)

	barFilled = lipgloss.NewStyle().Foreground(ledGreen)
	barEmpty  = lipgloss.NewStyle().Foreground(muted)

	hintStyle = lipgloss.NewStyle().Foreground(muted).MarginTop(1)
)

// Stage marks.
const (
	doneMark = "✓"
	failMark = "✗"
	waitMark = "·"
	skipMark = "–"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
