package handlers

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/palpable/imager/internal/auth"
	"github.com/palpable/imager/internal/drives"
	"github.com/palpable/imager/internal/pipeline"
	"github.com/palpable/imager/internal/progress"
	"github.com/palpable/imager/internal/ui/tui"
	"github.com/palpable/imager/internal/util/async"
	"github.com/palpable/imager/internal/wizard"
)

// ErrNotSignedIn is returned when flashing without any authorization.
var ErrNotSignedIn = errors.New("not signed in; run 'imager login' or 'imager pair' first")

// noPairingCode is shown when a run minted no pairing code.
const noPairingCode = "------"

// FlashOptions are the flash command's flags. When the identity and the
// drive are both given the wizard is skipped.
type FlashOptions struct {
	Name     string
	DeviceID string
	Drive    string
	Yes      bool
	Plain    bool
}

// Factory function variables for flash - can be replaced in tests.
var (
	// runWizard walks the interactive steps and claims the run.
	runWizard = func(ctx context.Context, gate *wizard.Gate, available []drives.Drive) (pipeline.Request, error) {
		return wizard.NewPrompter(gate, available).Run(ctx)
	}

	// runWithView runs the pipeline behind the terminal progress view.
	runWithView = tui.RunFlash
)

// Flash provisions an SD card: it registers the device (unless paired),
// fetches the image and writes it to the selected drive.
func Flash(ctx context.Context, opts Options, fo FlashOptions) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	sess := app.Sessions.Session()
	if !sess.Authenticated() {
		return ErrNotSignedIn
	}

	var available []drives.Drive
	err = async.Run(ctx,
		async.Task{Name: "devices", Func: func(ctx context.Context) error {
			loadDevices(ctx, app, sess)
			return nil
		}},
		async.Task{Name: "drives", Func: func(ctx context.Context) (err error) {
			available, err = app.Drives.List(ctx)
			return err
		}},
	)
	if err != nil {
		return err
	}

	gate := wizard.NewGate()
	prepareGate(app, gate, sess)

	req, err := claimRun(ctx, gate, available, fo)
	if err != nil {
		return err
	}
	defer gate.Finish()

	summary := gate.Summary()
	app.Log.V(1).Info("starting flash", "device", summary.DeviceName, "drive", req.Drive.Device, "mode", req.DeviceMode.String())

	run := func(ctx context.Context) (pipeline.Outcome, error) {
		return app.Pipeline.Run(ctx, req)
	}

	var out pipeline.Outcome
	if isTerminal() && !fo.Plain {
		out, err = runWithView(ctx, app.Progress, run, summary.DeviceName, summary.DriveLabel, sess.Mode == auth.ModePairingCode)
	} else {
		out, err = runPlain(ctx, app.Progress, run)
	}
	if err != nil {
		return err
	}

	return finish(ctx, app, out)
}

// loadDevices fetches the device list under browser sign-in. A failure only
// disables picking an existing device.
func loadDevices(ctx context.Context, app *App, sess auth.Session) {
	if sess.Mode != auth.ModeBrowserOAuth {
		return
	}
	if _, err := app.Devices.Refresh(ctx); err != nil {
		app.Log.Error(err, "failed to load devices")
	}
}

// prepareGate offers the loaded devices. A paired imager already has its
// identity, so step 1 is filled in and passed.
func prepareGate(app *App, gate *wizard.Gate, sess auth.Session) {
	switch sess.Mode {
	case auth.ModeBrowserOAuth:
		gate.SyncDevices(app.Devices.Devices(), app.Devices.Loaded())
	case auth.ModePairingCode:
		gate.SetName("Device " + sess.DeviceID)
		_ = gate.Next()
	}
}

// claimRun fills the gate from flags and, when anything is missing, from the
// interactive wizard.
func claimRun(ctx context.Context, gate *wizard.Gate, available []drives.Drive, fo FlashOptions) (pipeline.Request, error) {
	if err := applyIdentity(gate, fo); err != nil {
		return pipeline.Request{}, err
	}

	var drive drives.Drive
	if fo.Drive != "" {
		i := slices.IndexFunc(available, func(d drives.Drive) bool { return d.Device == fo.Drive })
		if i < 0 {
			return pipeline.Request{}, fmt.Errorf("drive %s: %w", fo.Drive, drives.ErrNotFound)
		}
		drive = available[i]
		gate.SelectDrive(drive)
	}

	if gate.IdentityReady() && drive.Device != "" {
		if err := advance(gate); err != nil {
			return pipeline.Request{}, err
		}
		if err := confirmFlags(ctx, gate.Summary(), fo.Yes); err != nil {
			return pipeline.Request{}, err
		}
		return gate.Begin()
	}

	if !isTerminal() {
		return pipeline.Request{}, fmt.Errorf("%w (use --name or --device, and --drive)", ErrNotInteractive)
	}
	return runWizard(ctx, gate, available)
}

func applyIdentity(gate *wizard.Gate, fo FlashOptions) error {
	switch {
	case fo.DeviceID != "" && fo.Name != "":
		return errors.New("--name and --device are mutually exclusive")
	case fo.DeviceID != "":
		if !gate.SelectionEnabled() {
			return errors.New("--device needs browser sign-in and a loaded device list")
		}
		gate.SetDeviceMode(pipeline.DeviceModeExisting)
		if err := gate.SelectDevice(fo.DeviceID); err != nil {
			return fmt.Errorf("device %s: %w", fo.DeviceID, err)
		}
	case fo.Name != "":
		gate.SetName(fo.Name)
	}
	return nil
}

// advance moves the gate to the confirmation step.
func advance(gate *wizard.Gate) error {
	for gate.Step() < wizard.StepConfirm {
		if err := gate.Next(); err != nil {
			return err
		}
	}
	return nil
}

func confirmFlags(ctx context.Context, s wizard.Summary, yes bool) error {
	if yes {
		return nil
	}
	if !isTerminal() {
		return fmt.Errorf("%w (use --yes to flash without confirmation)", ErrNotInteractive)
	}
	ok, err := promptConfirm(ctx, fmt.Sprintf("Flash %s?", s.DriveLabel),
		fmt.Sprintf("Device: %s\nEverything on the drive will be erased.", s.DeviceName))
	if err != nil {
		return err
	}
	if !ok {
		return wizard.ErrAborted
	}
	return nil
}

// runPlain runs the pipeline printing one line per progress message.
func runPlain(ctx context.Context, agg *progress.Aggregator, run tui.RunFunc) (pipeline.Outcome, error) {
	updates, unsubscribe := agg.Subscribe(64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		var last string
		for u := range updates {
			if u.Message == "" || u.Message == last {
				continue
			}
			last = u.Message
			fmt.Fprintf(stdout, "[%3d%%] %s\n", int(u.Global), u.Message)
		}
	}()

	out, err := run(ctx)
	unsubscribe()
	<-printed
	return out, err
}

// finish reports the outcome. A successful run prints the pairing code the
// card will show, and resets the pipeline so a paired imager can provision
// another card.
func finish(ctx context.Context, app *App, out pipeline.Outcome) error {
	switch out.Phase {
	case pipeline.PhaseSucceeded:
		fmt.Fprintln(stdout, "✓ Flash complete")
		switch {
		case out.PairingCode != "":
			fmt.Fprintf(stdout, "Pairing code: %s\n", out.PairingCode)
		case out.Linked:
			fmt.Fprintln(stdout, "✓ Linked")
		default:
			fmt.Fprintf(stdout, "Pairing code: %s\n", noPairingCode)
		}
		if err := app.Pipeline.Reset(ctx); err != nil {
			app.Log.Error(err, "failed to reset after run")
		}
		return nil

	case pipeline.PhaseCancelled:
		fmt.Fprintln(stdout, "Flash cancelled.")
		return nil

	default:
		return fmt.Errorf("flash failed: %s", out.Error)
	}
}
