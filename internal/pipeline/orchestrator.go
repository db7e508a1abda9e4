// Package pipeline sequences a flash run: device registration, image
// acquisition and the image write, with one blended progress bar across the
// three stages.
//
// A run moves Idle → Registering → Downloading → Flashing and ends in
// Succeeded, Cancelled or Failed. Only one run is active at a time. A failed
// run keeps the orchestrator busy for a short grace period so the failure
// stays visible before a retry is allowed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/palpable/imager/internal/auth"
	"github.com/palpable/imager/internal/flash"
	"github.com/palpable/imager/internal/image"
	"github.com/palpable/imager/internal/progress"
	"github.com/palpable/imager/internal/registry"
)

// DefaultFailureGrace is how long a failed run stays visible.
const DefaultFailureGrace = 3 * time.Second

// Sessions is the part of the auth resolver a run needs.
type Sessions interface {
	Session() auth.Session
	BindDevice(id string)
	ClearPairing(ctx context.Context) error
}

// Registrar registers devices.
type Registrar interface {
	CreateOrUpdate(ctx context.Context, name, id string) (registry.Registration, error)
	Find(id string) (registry.Device, bool)
}

// Acquirer provides the image file.
type Acquirer interface {
	Acquire(ctx context.Context, report progress.Reporter) (image.Result, error)
}

// Writer flashes the image onto the drive.
type Writer interface {
	Write(ctx context.Context, imagePath, target string, report progress.Reporter) flash.Result
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Sessions Sessions
	Devices  Registrar
	Images   Acquirer
	Writer   Writer

	// Progress and Metrics are created when nil.
	Progress *progress.Aggregator
	Metrics  *Metrics

	// MetricsTextfile, when set, receives the metrics after every run.
	MetricsTextfile string

	FailureGrace time.Duration
	Log          logr.Logger
}

// Orchestrator runs the flash pipeline. It is safe for concurrent use.
type Orchestrator struct {
	sessions Sessions
	devices  Registrar
	images   Acquirer
	writer   Writer
	progress *progress.Aggregator
	metrics  *Metrics
	textfile string
	grace    time.Duration
	log      logr.Logger

	mu        sync.Mutex
	busy      bool
	run       *Run
	linkedRun bool
}

// New returns an idle Orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		sessions: d.Sessions,
		devices:  d.Devices,
		images:   d.Images,
		writer:   d.Writer,
		progress: d.Progress,
		metrics:  d.Metrics,
		textfile: d.MetricsTextfile,
		grace:    d.FailureGrace,
		log:      d.Log.WithName("pipeline"),
	}
	if o.progress == nil {
		o.progress = progress.New()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	if o.grace <= 0 {
		o.grace = DefaultFailureGrace
	}
	return o
}

// Progress returns the aggregator the orchestrator reports into.
func (o *Orchestrator) Progress() *progress.Aggregator {
	return o.progress
}

// Metrics returns the orchestrator's collectors.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// Idle reports that no run is active and retry is allowed.
func (o *Orchestrator) Idle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.busy
}

// Current returns the current or last run.
func (o *Orchestrator) Current() (Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return Run{Phase: PhaseIdle}, false
	}
	r := *o.run
	if !r.Phase.Terminal() {
		r.GlobalPercent = o.progress.Snapshot().Global
	}
	return r, true
}

// Run executes one flash run and blocks until it reaches a terminal phase.
// The error is non-nil only when the run could not start.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	sess := o.sessions.Session()
	if err := checkRequest(req, sess); err != nil {
		return Outcome{}, err
	}

	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return Outcome{}, ErrBusy
	}
	o.busy = true
	run := &Run{ID: uuid.NewString(), Phase: PhaseIdle, StartedAt: time.Now()}
	o.run = run
	o.linkedRun = false
	o.mu.Unlock()

	o.progress.Reset()
	log := o.log.WithValues("run", run.ID, "drive", req.Drive.Device, "auth", sess.Mode.String())
	log.Info("flash run started", "deviceMode", req.DeviceMode.String())

	out := o.execute(ctx, run, req, sess, log)
	out.RunID = run.ID

	o.metrics.recordRun(out.Phase)
	o.writeMetrics(log)

	switch out.Phase {
	case PhaseFailed:
		log.Info("flash run failed", "reason", out.Error, "grace", o.grace)
		o.progress.Begin(o.progress.Snapshot().Phase, "Error: "+out.Error, 0)
		idle := make(chan struct{})
		out.idle = idle
		time.AfterFunc(o.grace, func() {
			o.discard(run)
			close(idle)
		})
	case PhaseCancelled:
		log.Info("flash run cancelled")
		o.progress.Reset()
		o.release()
	default:
		log.Info("flash run succeeded", "deviceID", out.DeviceID, "linked", out.Linked, "cached", out.Cached,
			"duration", time.Since(run.StartedAt).Round(time.Millisecond))
		o.mu.Lock()
		o.linkedRun = out.Linked
		o.mu.Unlock()
		o.release()
	}
	return out, nil
}

// Reset discards a finished run. After a successful run authorized by a
// paired device the pairing is cleared so another card can be provisioned.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}
	linked := o.linkedRun
	o.run = nil
	o.linkedRun = false
	o.mu.Unlock()

	o.progress.Reset()
	if linked {
		return o.sessions.ClearPairing(ctx)
	}
	return nil
}

func checkRequest(req Request, sess auth.Session) error {
	if req.Drive.Device == "" {
		return fmt.Errorf("%w: no drive selected", ErrPrecondition)
	}
	switch sess.Mode {
	case auth.ModePairingCode:
		return nil
	case auth.ModeBrowserOAuth:
		if !req.IdentityReady() {
			return fmt.Errorf("%w: no device name or selection", ErrPrecondition)
		}
		return nil
	default:
		return fmt.Errorf("%w: not signed in", ErrPrecondition)
	}
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, req Request, sess auth.Session, log logr.Logger) Outcome {
	var out Outcome

	// Registering
	done := o.enter(run, PhaseRegistering, log)
	if sess.Mode == auth.ModePairingCode {
		o.progress.Begin(progress.PhaseRegistering, "Device already registered...", progress.RegistrationMark)
		out.DeviceID = sess.DeviceID
		out.Linked = true
		done(nil)
	} else {
		msg := "Registering device..."
		if req.DeviceMode == DeviceModeExisting {
			msg = "Updating device..."
		}
		o.progress.Begin(progress.PhaseRegistering, msg, progress.RegistrationMark)

		name, id := o.identity(req)
		reg, err := o.devices.CreateOrUpdate(ctx, name, id)
		done(err)
		if err != nil {
			return o.fail(run, out, registrationReason(err))
		}
		o.sessions.BindDevice(reg.DeviceID)
		out.DeviceID = reg.DeviceID
		out.PairingCode = reg.PairingCode
	}

	// Downloading
	done = o.enter(run, PhaseDownloading, log)
	o.progress.Begin(progress.PhaseDownloading, "Downloading image...", progress.DownloadStart)
	var completed bool
	res, err := o.images.Acquire(ctx, func(ev progress.Event) {
		if ev.Status == progress.StatusComplete {
			completed = true
		}
		o.progress.Download(ev)
	})
	if err == nil && !completed {
		err = fmt.Errorf("%w: no completion reported", image.ErrIncomplete)
	}
	done(err)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return o.cancel(run, out)
		}
		return o.fail(run, out, err.Error())
	}
	o.mu.Lock()
	run.ImagePath = res.Path
	o.mu.Unlock()
	out.ImagePath = res.Path
	out.Cached = res.Cached

	// Flashing
	done = o.enter(run, PhaseFlashing, log)
	o.progress.Begin(progress.PhaseFlashing, "Flashing to SD card...", progress.WriteStart)
	fr := o.writer.Write(ctx, res.Path, req.Drive.Device, o.progress.WriteReporter())
	switch {
	case fr.Success:
		done(nil)
	case fr.Cancelled:
		done(nil)
		return o.cancel(run, out)
	default:
		reason := fr.Error
		if reason == "" {
			reason = "failed to flash image"
		}
		done(errors.New(reason))
		return o.fail(run, out, reason)
	}

	o.setPhase(run, PhaseSucceeded, progress.Complete)
	out.Phase = PhaseSucceeded
	return out
}

// identity returns the name and ID sent to the registry. An existing device
// is re-registered under its cached name.
func (o *Orchestrator) identity(req Request) (string, string) {
	if req.DeviceMode != DeviceModeExisting {
		return strings.TrimSpace(req.Name), ""
	}
	name := "Device"
	if d, ok := o.devices.Find(req.DeviceID); ok && d.Name != "" {
		name = d.Name
	}
	return name, req.DeviceID
}

// enter moves the run into phase and returns a function that closes the
// phase, logging its result and recording its duration.
func (o *Orchestrator) enter(run *Run, phase Phase, log logr.Logger) func(error) {
	o.setPhase(run, phase, -1)
	start := time.Now()
	log.V(1).Info("phase started", "phase", string(phase))

	return func(err error) {
		d := time.Since(start)
		o.metrics.recordPhase(phase, d)
		if err != nil {
			log.V(1).Info("phase failed", "phase", string(phase), "error", err.Error())
			return
		}
		log.V(1).Info("phase completed", "phase", string(phase), "duration", d.Round(time.Millisecond))
	}
}

func (o *Orchestrator) setPhase(run *Run, phase Phase, global float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run.Phase = phase
	if global >= 0 {
		run.GlobalPercent = global
	}
}

func (o *Orchestrator) fail(run *Run, out Outcome, reason string) Outcome {
	o.setPhase(run, PhaseFailed, 0)
	out.Phase = PhaseFailed
	out.Error = reason
	out.PairingCode = ""
	return out
}

func (o *Orchestrator) cancel(run *Run, out Outcome) Outcome {
	o.setPhase(run, PhaseCancelled, 0)
	out.Phase = PhaseCancelled
	out.PairingCode = ""
	return out
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = false
}

// discard ends a failed run's grace period: the run is dropped and retry is
// allowed again.
func (o *Orchestrator) discard(run *Run) {
	o.mu.Lock()
	if o.run == run {
		o.run = nil
	}
	o.busy = false
	o.mu.Unlock()
	o.progress.Reset()
}

func (o *Orchestrator) writeMetrics(log logr.Logger) {
	if o.textfile == "" {
		return
	}
	if err := o.metrics.WriteTextfile(o.textfile); err != nil {
		log.Error(err, "failed to write metrics textfile", "path", o.textfile)
	}
}

// registrationReason prefers the registry's own message.
func registrationReason(err error) string {
	var regErr *registry.Error
	if errors.As(err, &regErr) {
		return regErr.Error()
	}
	return err.Error()
}
