package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/palpable/imager/internal/pipeline"
)

// styleFunc is a single-string styling function.
type styleFunc func(string) string

// sf wraps a lipgloss.Style into a styleFunc.
func sf(s lipgloss.Style) styleFunc {
	return func(str string) string { return s.Render(str) }
}

func renderView(m Model) string {
	var b strings.Builder

	renderHeader(&b, m)
	renderProgressBar(&b, m)
	renderStages(&b, m)
	if m.Done {
		renderOutcome(&b, m)
	}
	renderFooter(&b, m)

	return b.String()
}

func renderHeader(b *strings.Builder, m Model) {
	b.WriteString(headerStyle.Render("Palpable Imager"))
	b.WriteString(" ")
	b.WriteString(routeStyle.Render(fmt.Sprintf("%s → %s", m.DeviceName, m.DriveLabel)))
	b.WriteString("\n")

	msg := m.Message
	switch {
	case m.Cancelling && !m.Done:
		msg = cancelStyle.Render("Cancelling...")
	case msg == "":
		msg = mutedStyle.Render("Starting...")
	case m.Done && m.Outcome.Phase == pipeline.PhaseFailed:
		msg = errStyle.Render(msg)
	default:
		msg = currentStyle.Render(msg)
	}
	fmt.Fprintf(b, "  %s\n", msg)
}

func renderProgressBar(b *strings.Builder, m Model) {
	barWidth := 40
	if m.Width > 0 && m.Width < 80 {
		barWidth = max(m.Width-30, 10)
	}
	frac := m.Global / 100
	filled := min(int(float64(barWidth)*frac), barWidth)
	filled = max(filled, 0)

	bar := barFilled.Render(strings.Repeat("█", filled)) +
		barEmpty.Render(strings.Repeat("░", barWidth-filled))

	fmt.Fprintf(b, "  %s %d%%\n", bar, int(m.Global))
}

func renderStages(b *strings.Builder, m Model) {
	b.WriteString(headingStyle.Render("  Stages"))
	b.WriteString("\n")

	for _, s := range m.Stages {
		var icon string
		var style styleFunc
		switch m.stageState(s) {
		case stageSkipped:
			icon = skipMark
			style = sf(mutedStyle)
		case stageFailed:
			icon = failMark
			style = sf(errStyle)
		case stageDone:
			icon = doneMark
			style = sf(okStyle)
		case stageActive:
			icon = currentSpinner(m.SpinnerFrame)
			style = sf(currentStyle)
		default:
			icon = waitMark
			style = sf(mutedStyle)
		}
		fmt.Fprintf(b, "    %s %s\n", style(icon), style(s.Name))
	}
}

func renderOutcome(b *strings.Builder, m Model) {
	b.WriteString("\n")
	switch m.Outcome.Phase {
	case pipeline.PhaseSucceeded:
		b.WriteString(okStyle.Render("  Flash complete!"))
	case pipeline.PhaseCancelled:
		b.WriteString(cancelStyle.Render("  Cancelled. The card was left unbootable; run flash again to retry."))
	case pipeline.PhaseFailed:
		b.WriteString(errStyle.Render("  Flash failed: " + m.Outcome.Error))
	}
	b.WriteString("\n")
}

func renderFooter(b *strings.Builder, m Model) {
	elapsed := formatDuration(time.Since(m.StartTime))
	hint := "ctrl+c: cancel"
	if m.Done {
		hint = "q: quit"
	}
	b.WriteString(hintStyle.Render(fmt.Sprintf("  elapsed: %s  |  %s", elapsed, hint)))
	b.WriteString("\n")
}

func currentSpinner(frame int) string {
	if frame < 0 {
		frame = -frame
	}
	return spinnerFrames[frame%len(spinnerFrames)]
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
