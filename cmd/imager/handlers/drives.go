package handlers

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/palpable/imager/internal/drives"
)

// newDriveLister builds the lister for the drives command. all adds
// non-removable disks.
var newDriveLister = func(app *App, all bool) DriveLister {
	if all {
		return drives.NewLister(app.Log, drives.IncludeNonRemovable())
	}
	return app.Drives
}

// Drives prints the drives a card can be flashed onto.
func Drives(ctx context.Context, opts Options, all bool) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	list, err := newDriveLister(app, all).List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list drives: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(stdout, "No removable drives found. Insert an SD card and try again.")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tSIZE\tDESCRIPTION\tFLAGS")
	for _, d := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Device, drives.FormatBytes(d.Size), d.Description, driveFlags(d))
	}
	return w.Flush()
}

func driveFlags(d drives.Drive) string {
	switch {
	case d.ReadOnly:
		return "read-only"
	case !d.Removable:
		return "fixed"
	default:
		return "-"
	}
}
