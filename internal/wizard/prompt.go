package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/palpable/imager/internal/drives"
	"github.com/palpable/imager/internal/pipeline"
	"github.com/palpable/imager/internal/registry"
)

// ErrAborted is returned when the user leaves the wizard.
var ErrAborted = errors.New("wizard aborted")

const (
	actionFlash  = "flash"
	actionBack   = "back"
	actionCancel = "cancel"
)

// Prompter runs the wizard interactively, one form group per step.
type Prompter struct {
	gate   *Gate
	drives []drives.Drive
}

// NewPrompter returns a Prompter driving gate, offering the given drives.
func NewPrompter(gate *Gate, available []drives.Drive) *Prompter {
	return &Prompter{gate: gate, drives: available}
}

// Run walks the steps until the user confirms, and returns the claimed run
// request. The caller must call Gate.Finish once the run ends.
func (p *Prompter) Run(ctx context.Context) (pipeline.Request, error) {
	for {
		var err error
		switch p.gate.Step() {
		case StepIdentity:
			err = p.runIdentityGroup(ctx)
		case StepDrive:
			err = p.runDriveGroup(ctx)
		case StepConfirm:
			var done bool
			done, err = p.runConfirmGroup(ctx)
			if err == nil && done {
				return p.gate.Begin()
			}
		}
		if errors.Is(err, huh.ErrUserAborted) {
			return pipeline.Request{}, ErrAborted
		}
		if err != nil {
			return pipeline.Request{}, err
		}
	}
}

// runIdentityGroup asks for the device mode when existing devices can be
// chosen, then for the name or the selection.
func (p *Prompter) runIdentityGroup(ctx context.Context) error {
	t := p.gate.Target()
	mode := t.Mode

	if p.gate.SelectionEnabled() {
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[pipeline.DeviceMode]().
					Title("Device").
					Description("Register a new device or re-flash one you already have").
					Options(
						huh.NewOption("New device", pipeline.DeviceModeNew),
						huh.NewOption("Existing device", pipeline.DeviceModeExisting),
					).
					Value(&mode),
			).Title("Step 1 of 3: Device"),
		).RunWithContext(ctx)
		if err != nil {
			return err
		}
	} else {
		mode = pipeline.DeviceModeNew
	}
	if mode != t.Mode {
		p.gate.SetDeviceMode(mode)
	}

	if mode == pipeline.DeviceModeExisting {
		id := t.SelectedDeviceID
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Existing device").
					Options(deviceOptions(p.gate.Devices())...).
					Value(&id),
			).Title("Step 1 of 3: Device"),
		).RunWithContext(ctx)
		if err != nil {
			return err
		}
		if err := p.gate.SelectDevice(id); err != nil {
			return err
		}
	} else {
		name := t.Name
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Device name").
					Description("Shown in your account once the card boots").
					Placeholder("Living Room").
					Value(&name).
					Validate(validateName),
			).Title("Step 1 of 3: Device"),
		).RunWithContext(ctx)
		if err != nil {
			return err
		}
		p.gate.SetName(name)
	}

	return p.gate.Next()
}

func (p *Prompter) runDriveGroup(ctx context.Context) error {
	if len(p.drives) == 0 {
		return errors.New("no removable drives found; insert an SD card and try again")
	}

	device := p.gate.Target().Drive.Device
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("SD card").
				Description("Everything on the selected drive will be erased").
				Options(driveOptions(p.drives)...).
				Value(&device),
		).Title("Step 2 of 3: Drive"),
	).RunWithContext(ctx)
	if err != nil {
		return err
	}

	if device == "" {
		return p.gate.Back()
	}
	for _, d := range p.drives {
		if d.Device == device {
			p.gate.SelectDrive(d)
			break
		}
	}
	return p.gate.Next()
}

// runConfirmGroup shows the summary. It reports true when the user chose to
// flash.
func (p *Prompter) runConfirmGroup(ctx context.Context) (bool, error) {
	s := p.gate.Summary()
	action := actionFlash
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Summary").
				Description(fmt.Sprintf("Device: %s\nDrive:  %s", s.DeviceName, s.DriveLabel)),
			huh.NewSelect[string]().
				Title("Ready to flash?").
				Options(
					huh.NewOption("Flash", actionFlash),
					huh.NewOption("Back", actionBack),
					huh.NewOption("Cancel", actionCancel),
				).
				Value(&action),
		).Title("Step 3 of 3: Confirm"),
	).RunWithContext(ctx)
	if err != nil {
		return false, err
	}

	switch action {
	case actionBack:
		return false, p.gate.Back()
	case actionCancel:
		return false, ErrAborted
	default:
		return true, nil
	}
}

func deviceOptions(devices []registry.Device) []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(devices))
	for _, d := range devices {
		opts = append(opts, huh.NewOption(d.Label(), d.ID))
	}
	return opts
}

// driveOptions lists the drives followed by a back entry with an empty value.
func driveOptions(list []drives.Drive) []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(list)+1)
	for _, d := range list {
		label := d.Label()
		if d.ReadOnly {
			label += " [read-only]"
		}
		opts = append(opts, huh.NewOption(label, d.Device))
	}
	return append(opts, huh.NewOption("← Back", ""))
}

func validateName(s string) error {
	if len([]rune(s)) > 64 {
		return errors.New("name must be at most 64 characters")
	}
	if strings.TrimSpace(s) == "" {
		return errors.New("name is required")
	}
	return nil
}
