package handlers

import (
	"context"
	"errors"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned when input is needed but stdout is not a
// terminal.
var ErrNotInteractive = errors.New("input required; run in a terminal or pass the value as a flag")

// Prompt functions - can be replaced in tests.
var (
	// promptInput asks for a single line of text.
	promptInput = func(ctx context.Context, title, description string, validate func(string) error) (string, error) {
		var value string
		input := huh.NewInput().
			Title(title).
			Description(description).
			Value(&value)
		if validate != nil {
			input = input.Validate(validate)
		}
		if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx); err != nil {
			return "", err
		}
		return value, nil
	}

	// promptConfirm asks a yes/no question. No is the default.
	promptConfirm = func(ctx context.Context, title, description string) (bool, error) {
		var ok bool
		err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		)).RunWithContext(ctx)
		return ok, err
	}
)

// ask prompts for a value, refusing when there is no terminal.
func ask(ctx context.Context, title, description string, validate func(string) error) (string, error) {
	if !isTerminal() {
		return "", ErrNotInteractive
	}
	return promptInput(ctx, title, description, validate)
}
