package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/palpable/imager/internal/pipeline"
	"github.com/palpable/imager/internal/progress"
)

// RunFunc executes one pipeline run under ctx.
type RunFunc func(ctx context.Context) (pipeline.Outcome, error)

// RunFlash shows the flash view while runFn executes. Progress is read from
// agg. Interrupting the view cancels the run; RunFlash always waits for runFn
// to return before it does.
func RunFlash(ctx context.Context, agg *progress.Aggregator, runFn RunFunc, deviceName, driveLabel string, linked bool) (pipeline.Outcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewModel(deviceName, driveLabel, linked, cancel)
	p := tea.NewProgram(m)

	updates, unsubscribe := agg.Subscribe(16)
	go func() {
		for u := range updates {
			p.Send(ProgressMsg{Update: u})
		}
	}()

	type result struct {
		out pipeline.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := runFn(runCtx)
		unsubscribe()
		done <- result{out, err}
		p.Send(DoneMsg{Outcome: out})
	}()

	_, uiErr := p.Run()
	if uiErr != nil {
		cancel()
	}
	res := <-done

	if res.err != nil {
		return res.out, res.err
	}
	if uiErr != nil {
		return res.out, fmt.Errorf("TUI error: %w", uiErr)
	}
	return res.out, nil
}
