package handlers

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/palpable/imager/internal/registry"
)

// ErrDeleteDeclined is returned when the user does not confirm a deletion.
var ErrDeleteDeclined = errors.New("deletion cancelled")

// DevicesList prints the account's devices in server order.
func DevicesList(ctx context.Context, opts Options) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := requireBrowser(ctx, app); err != nil {
		return err
	}

	list := app.Devices.Devices()
	if len(list) == 0 {
		fmt.Fprintln(stdout, "No devices registered.")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS")
	for _, d := range list {
		status := d.Status
		if status == "" {
			status = "unknown"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Name, status)
	}
	return w.Flush()
}

// DevicesRename changes a device's name.
func DevicesRename(ctx context.Context, opts Options, id, name string) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := requireBrowser(ctx, app); err != nil {
		return err
	}
	if _, ok := app.Devices.Find(id); !ok {
		return fmt.Errorf("device %s not found", id)
	}

	if err := app.Devices.Rename(ctx, id, name); err != nil {
		return mutationError("rename", err)
	}

	fmt.Fprintf(stdout, "✓ Renamed %s to %q\n", id, name)
	return nil
}

// DevicesDelete removes a device after confirmation. yes skips the prompt.
func DevicesDelete(ctx context.Context, opts Options, id string, yes bool) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := requireBrowser(ctx, app); err != nil {
		return err
	}
	dev, ok := app.Devices.Find(id)
	if !ok {
		return fmt.Errorf("device %s not found", id)
	}

	if !yes {
		if !isTerminal() {
			return fmt.Errorf("%w (use --yes)", ErrNotInteractive)
		}
		ok, err := promptConfirm(ctx, fmt.Sprintf("Delete %s?", dev.Name), "The device will need to be registered again.")
		if err != nil {
			return err
		}
		if !ok {
			return ErrDeleteDeclined
		}
	}

	if err := app.Devices.Delete(ctx, id); err != nil {
		return mutationError("delete", err)
	}

	fmt.Fprintf(stdout, "✓ Deleted %s\n", dev.Name)
	return nil
}

// mutationError shows registry rejections verbatim.
func mutationError(op string, err error) error {
	var rerr *registry.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("%s rejected: %s", op, rerr.Error())
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
