// Package tui provides a Bubble Tea terminal view of a running flash
// pipeline.
package tui

import (
	"github.com/palpable/imager/internal/pipeline"
	"github.com/palpable/imager/internal/progress"
)

// ProgressMsg carries the latest blended progress.
type ProgressMsg struct {
	Update progress.Update
}

// TickMsg is sent periodically to refresh the display.
type TickMsg struct{}

// DoneMsg signals that the run reached a terminal phase.
type DoneMsg struct {
	Outcome pipeline.Outcome
}
