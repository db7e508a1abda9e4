package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/palpable/imager/internal/auth"
	"github.com/palpable/imager/internal/drives"
)

// Login signs in with the browser flow: it prints the authorization URL and
// exchanges the code the user pastes back. A code passed as an argument
// skips the prompt.
func Login(ctx context.Context, opts Options, code string) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Sessions.Session().Mode == auth.ModeBrowserOAuth {
		fmt.Fprintln(stdout, "Already signed in.")
		return nil
	}

	if code == "" {
		url, err := app.Sessions.StartBrowserLogin(ctx)
		if err != nil {
			return fmt.Errorf("failed to start sign-in: %w", err)
		}
		fmt.Fprintf(stdout, "Open this URL in your browser and sign in:\n\n  %s\n\n", url)

		if !isTerminal() {
			fmt.Fprintln(stdout, "Then finish with: imager login --code <code>")
			return nil
		}
		code, err = ask(ctx, "Authorization code", "Paste the code shown after signing in", requireValue)
		if err != nil {
			return err
		}
	}

	if _, err := app.Sessions.CompleteBrowserLogin(ctx, code); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}

	fmt.Fprintln(stdout, "✓ Signed in")
	return nil
}

// Logout clears browser sign-in and any paired device.
func Logout(ctx context.Context, opts Options) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Sessions.Logout(ctx); err != nil {
		return fmt.Errorf("logout incomplete: %w", err)
	}

	fmt.Fprintln(stdout, "✓ Signed out")
	return nil
}

// Pair authorizes the imager with a pairing code shown by an already
// registered device.
func Pair(ctx context.Context, opts Options, code string) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if code == "" {
		code, err = ask(ctx, "Pairing code", fmt.Sprintf("The %d-character code shown by your device", auth.CodeLength),
			func(s string) error { return auth.CheckCodeFormat(auth.NormalizeCode(s)) })
		if err != nil {
			return err
		}
	}

	sess, err := app.Sessions.PairWithCode(ctx, code)
	if err != nil {
		return pairingError(err)
	}

	fmt.Fprintf(stdout, "✓ Paired with device %s\n", sess.DeviceID)
	return nil
}

// pairingError turns pairing failures into messages for the terminal. Server
// rejections are shown as sent.
func pairingError(err error) error {
	var perr *auth.PairingError
	switch {
	case errors.Is(err, auth.ErrCodeLength), errors.Is(err, auth.ErrCodeExpired):
		return err
	case errors.As(err, &perr):
		return fmt.Errorf("pairing rejected: %s", perr.Message)
	default:
		return fmt.Errorf("pairing failed: %w", err)
	}
}

// Status prints the session and local state.
func Status(ctx context.Context, opts Options) error {
	app, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	sess := app.Sessions.Session()
	switch sess.Mode {
	case auth.ModeBrowserOAuth:
		fmt.Fprintln(stdout, "Auth:    signed in (browser)")
	case auth.ModePairingCode:
		fmt.Fprintf(stdout, "Auth:    paired with device %s\n", sess.DeviceID)
	default:
		fmt.Fprintln(stdout, "Auth:    not signed in")
	}

	fmt.Fprintf(stdout, "API:     %s\n", app.Config.API.URL)
	fmt.Fprintf(stdout, "State:   %s\n", app.Config.State.Path)
	fmt.Fprintf(stdout, "Cache:   %s\n", app.Images.Dir())

	entries, err := app.Images.Cached(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cache index: %w", err)
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "         %s (%s)\n", e.Version, drives.FormatBytes(e.Size))
	}
	return nil
}

func requireValue(s string) error {
	if s == "" {
		return errors.New("a value is required")
	}
	return nil
}
