// Package wizard holds the three-step flash workflow: choose the device
// identity, choose the drive, confirm. The Gate enforces which transitions
// are allowed; the Prompter drives it from an interactive terminal.
package wizard

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/palpable/imager/internal/drives"
	"github.com/palpable/imager/internal/pipeline"
	"github.com/palpable/imager/internal/registry"
)

// Step is a wizard page, numbered from 1.
type Step int

// Wizard steps.
const (
	StepIdentity Step = iota + 1
	StepDrive
	StepConfirm
)

// Gate errors.
var (
	ErrIdentityRequired = errors.New("enter a device name or select an existing device")
	ErrDriveRequired    = errors.New("select a drive")
	ErrLastStep         = errors.New("already at the last step")
	ErrFirstStep        = errors.New("already at the first step")
	ErrStepSkipped      = errors.New("steps cannot be skipped")
	ErrInvalidStep      = errors.New("no such step")
	ErrUnknownDevice    = errors.New("device is not in the registry")
	ErrRunInProgress    = errors.New("a flash run is already in progress")
	ErrNotReady         = errors.New("not ready to flash")
)

// Target is what the user has entered so far.
type Target struct {
	Mode             pipeline.DeviceMode
	Name             string
	SelectedDeviceID string
	Drive            drives.Drive
}

// Summary is the confirmation page's view of the target.
type Summary struct {
	DeviceName string
	DriveLabel string
}

// Gate is the wizard state machine. It is safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	step    Step
	target  Target
	devices []registry.Device
	loaded  bool
	summary Summary
	running bool
}

// NewGate returns a gate at step 1 in new-device mode.
func NewGate() *Gate {
	return &Gate{step: StepIdentity}
}

// Step returns the current page.
func (g *Gate) Step() Step {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.step
}

// Target returns the entered data.
func (g *Gate) Target() Target {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

// Devices returns the devices offered for selection.
func (g *Gate) Devices() []registry.Device {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.devices)
}

// SelectionEnabled reports whether existing devices can be chosen: the
// registry must be loaded and non-empty.
func (g *Gate) SelectionEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selectionEnabledLocked()
}

func (g *Gate) selectionEnabledLocked() bool {
	return g.loaded && len(g.devices) > 0
}

// Summary returns the summary computed on the last entry to step 3.
func (g *Gate) Summary() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.summary
}

// Reset returns to step 1 and forgets the previous run's choices. The device
// list is kept.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.step = StepIdentity
	g.target = Target{}
	g.summary = Summary{}
	g.running = false
}

// SetDeviceMode switches between registering a new device and re-using an
// existing one. The other mode's input is cleared.
func (g *Gate) SetDeviceMode(m pipeline.DeviceMode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.target.Mode = m
	if m == pipeline.DeviceModeExisting {
		g.target.Name = ""
	} else {
		g.target.SelectedDeviceID = ""
	}
}

// SetName sets the new device's name.
func (g *Gate) SetName(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.target.Name = name
}

// SelectDevice selects an existing device. An empty id clears the selection.
func (g *Gate) SelectDevice(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id != "" && !slices.ContainsFunc(g.devices, func(d registry.Device) bool { return d.ID == id }) {
		return ErrUnknownDevice
	}
	g.target.SelectedDeviceID = id
	return nil
}

// SelectDrive sets the write target.
func (g *Gate) SelectDrive(d drives.Drive) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.target.Drive = d
}

// SyncDevices replaces the device list. A loaded, empty registry forces
// new-device mode; a selected device that is no longer listed is cleared.
func (g *Gate) SyncDevices(devices []registry.Device, loaded bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.devices = slices.Clone(devices)
	g.loaded = loaded

	if loaded && len(devices) == 0 {
		g.target.Mode = pipeline.DeviceModeNew
		g.target.SelectedDeviceID = ""
		return
	}
	id := g.target.SelectedDeviceID
	if id != "" && !slices.ContainsFunc(devices, func(d registry.Device) bool { return d.ID == id }) {
		g.target.SelectedDeviceID = ""
	}
}

// IdentityReady reports whether step 1 is complete.
func (g *Gate) IdentityReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.identityReadyLocked()
}

func (g *Gate) identityReadyLocked() bool {
	if g.target.Mode == pipeline.DeviceModeExisting {
		return g.target.SelectedDeviceID != "" && g.selectionEnabledLocked()
	}
	return strings.TrimSpace(g.target.Name) != ""
}

// Next advances one step if the current step is complete.
func (g *Gate) Next() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nextLocked()
}

func (g *Gate) nextLocked() error {
	switch g.step {
	case StepIdentity:
		if !g.identityReadyLocked() {
			return ErrIdentityRequired
		}
	case StepDrive:
		if g.target.Drive.Device == "" {
			return ErrDriveRequired
		}
	default:
		return ErrLastStep
	}
	g.step++
	if g.step == StepConfirm {
		g.summary = g.summaryLocked()
	}
	return nil
}

// Back returns to the previous step. Entered data is kept.
func (g *Gate) Back() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.step == StepIdentity {
		return ErrFirstStep
	}
	g.step--
	return nil
}

// GoTo jumps to step n. Backward jumps are always allowed; forward only one
// step, under the same checks as Next.
func (g *Gate) GoTo(n Step) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case n < StepIdentity || n > StepConfirm:
		return ErrInvalidStep
	case n <= g.step:
		g.step = n
		return nil
	case n == g.step+1:
		return g.nextLocked()
	default:
		return ErrStepSkipped
	}
}

func (g *Gate) summaryLocked() Summary {
	var s Summary
	if g.target.Mode == pipeline.DeviceModeExisting {
		s.DeviceName = "Unknown"
		for _, d := range g.devices {
			if d.ID == g.target.SelectedDeviceID {
				s.DeviceName = d.Name
				break
			}
		}
	} else {
		s.DeviceName = strings.TrimSpace(g.target.Name)
	}

	s.DriveLabel = "-"
	if g.target.Drive.Device != "" {
		s.DriveLabel = g.target.Drive.Label()
	}
	return s
}

// CanFlash reports whether the terminal action is enabled.
func (g *Gate) CanFlash() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canFlashLocked()
}

func (g *Gate) canFlashLocked() bool {
	return !g.running && g.step == StepConfirm && g.identityReadyLocked() && g.target.Drive.Device != ""
}

// Begin claims the terminal action and returns the run request. Only one
// claim is outstanding until Finish.
func (g *Gate) Begin() (pipeline.Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return pipeline.Request{}, ErrRunInProgress
	}
	if !g.canFlashLocked() {
		return pipeline.Request{}, ErrNotReady
	}
	g.running = true

	req := pipeline.Request{
		DeviceMode: g.target.Mode,
		Drive:      g.target.Drive,
	}
	if g.target.Mode == pipeline.DeviceModeExisting {
		req.DeviceID = g.target.SelectedDeviceID
	} else {
		req.Name = strings.TrimSpace(g.target.Name)
	}
	return req, nil
}

// Finish releases the claim taken by Begin.
func (g *Gate) Finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = false
}
