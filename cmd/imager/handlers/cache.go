package handlers

import (
	"context"
	"fmt"
)

// CachePath prints the image cache directory.
func CachePath(ctx context.Context, opts Options) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Fprintln(stdout, app.Images.Dir())
	return nil
}

// CacheClear deletes cached images and their index entries.
func CacheClear(ctx context.Context, opts Options) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Images.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	fmt.Fprintf(stdout, "✓ Cleared %s\n", app.Images.Dir())
	return nil
}
