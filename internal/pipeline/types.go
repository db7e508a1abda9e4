package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/palpable/imager/internal/drives"
)

var (
	// ErrBusy is returned when a run is already active or still inside its
	// failure grace period.
	ErrBusy = errors.New("a flash run is already in progress")

	// ErrPrecondition is returned when a run is started without a drive or a
	// resolved device identity.
	ErrPrecondition = errors.New("flash preconditions not met")
)

// DeviceMode selects whether a run registers a new device or re-registers an
// existing one.
type DeviceMode int

// Device modes.
const (
	DeviceModeNew DeviceMode = iota
	DeviceModeExisting
)

func (m DeviceMode) String() string {
	switch m {
	case DeviceModeNew:
		return "new"
	case DeviceModeExisting:
		return "existing"
	default:
		return "unknown"
	}
}

// Phase is the lifecycle state of a run.
type Phase string

// Run phases.
const (
	PhaseIdle        Phase = "idle"
	PhaseRegistering Phase = "registering"
	PhaseDownloading Phase = "downloading"
	PhaseFlashing    Phase = "flashing"
	PhaseSucceeded   Phase = "succeeded"
	PhaseFailed      Phase = "failed"
	PhaseCancelled   Phase = "cancelled"
)

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseCancelled
}

// Request is everything a run needs from the wizard.
type Request struct {
	DeviceMode DeviceMode
	Name       string
	DeviceID   string
	Drive      drives.Drive
}

// IdentityReady reports whether the request names a device: a non-blank
// name for a new device, a selection for an existing one.
func (r Request) IdentityReady() bool {
	if r.DeviceMode == DeviceModeExisting {
		return r.DeviceID != ""
	}
	return strings.TrimSpace(r.Name) != ""
}

// Run is the state of the current or last run.
type Run struct {
	ID            string
	Phase         Phase
	ImagePath     string
	GlobalPercent float64
	StartedAt     time.Time
}

// Outcome is the terminal result of a run.
type Outcome struct {
	RunID string
	Phase Phase

	DeviceID string

	// PairingCode is set only when this run's registration minted one.
	PairingCode string

	// Linked is set when the run was authorized by a paired device, which
	// is already bound to the account.
	Linked bool

	ImagePath string
	Cached    bool

	// Error is the failure reason. It is empty for cancelled runs.
	Error string

	idle <-chan struct{}
}

// Wait blocks until the orchestrator is idle again. For failed runs that is
// after the failure grace period; otherwise it returns immediately.
func (o Outcome) Wait(ctx context.Context) error {
	if o.idle == nil {
		return nil
	}
	select {
	case <-o.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
