// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command definitions
// in the commands package. Handlers are framework-agnostic and can be tested
// independently of the CLI framework.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-logr/logr"
	"github.com/mattn/go-isatty"

	"github.com/palpable/imager/internal/auth"
	"github.com/palpable/imager/internal/config"
	"github.com/palpable/imager/internal/drives"
	"github.com/palpable/imager/internal/flash"
	"github.com/palpable/imager/internal/image"
	"github.com/palpable/imager/internal/pipeline"
	"github.com/palpable/imager/internal/platform/s3"
	"github.com/palpable/imager/internal/progress"
	"github.com/palpable/imager/internal/registry"
	"github.com/palpable/imager/internal/store"
	"github.com/palpable/imager/internal/util/retry"
)

// ErrBrowserRequired is returned by commands that need browser sign-in.
var ErrBrowserRequired = errors.New("this command needs browser sign-in; run 'imager login' first")

// Options are the global flags.
type Options struct {
	ConfigPath string
	Verbose    bool
}

// Sessions is the auth surface the handlers use.
type Sessions interface {
	Session() auth.Session
	StartBrowserLogin(ctx context.Context) (string, error)
	CompleteBrowserLogin(ctx context.Context, code string) (auth.Session, error)
	PairWithCode(ctx context.Context, code string) (auth.Session, error)
	Logout(ctx context.Context) error
	ClearPairing(ctx context.Context) error
}

// Devices is the device registry surface the handlers use.
type Devices interface {
	Refresh(ctx context.Context) ([]registry.Device, error)
	Devices() []registry.Device
	Loaded() bool
	Find(id string) (registry.Device, bool)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
}

// Images is the image cache surface the handlers use.
type Images interface {
	Dir() string
	Cached(ctx context.Context) ([]image.CacheEntry, error)
	Clear(ctx context.Context) error
}

// DriveLister enumerates write targets.
type DriveLister interface {
	List(ctx context.Context) ([]drives.Drive, error)
}

// Runner executes flash runs.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error)
	Reset(ctx context.Context) error
}

// App is the wired engine for one CLI invocation.
type App struct {
	Config   *config.Config
	Sessions Sessions
	Devices  Devices
	Images   Images
	Drives   DriveLister
	Pipeline Runner
	Progress *progress.Aggregator
	Log      logr.Logger

	closers []io.Closer
}

// Close releases the state database.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// loadConfig loads the effective configuration.
	loadConfig = config.Load

	// newApp wires the engine from configuration.
	newApp = buildApp

	// isTerminal reports whether stdout is an interactive terminal.
	isTerminal = func() bool {
		return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	}

	// stdout receives user-facing output.
	stdout io.Writer = os.Stdout
)

// newLogger returns a logr.Logger backed by slog's text handler on stderr.
// Only errors are shown unless verbose is set.
func newLogger(verbose bool) logr.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return logr.FromSlogHandler(h)
}

// openApp loads configuration and wires the engine.
func openApp(ctx context.Context, opts Options) (*App, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, newLogger(opts.Verbose))
}

// buildApp opens the state database, resolves the session and builds every
// stage of the pipeline.
func buildApp(ctx context.Context, cfg *config.Config, log logr.Logger) (*App, error) {
	db, err := store.Open(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}

	browser := auth.NewOAuthBrowser(cfg.OAuth, db.Metadata)
	pairing := auth.NewPairingClient(cfg.API.URL, &http.Client{Timeout: cfg.API.Timeout}, db.Metadata, log)
	resolver := auth.NewResolver(browser, pairing, log)
	sess := resolver.Init(ctx)

	// The registry only accepts browser sign-in; a device token cannot list.
	var base *http.Client
	if sess.Mode == auth.ModeBrowserOAuth {
		base, err = browser.Client(ctx)
		if err != nil {
			log.Error(err, "failed to build authorized client")
		}
	}
	client := registry.NewHTTPClient(cfg.API.URL, base, cfg.API.Timeout, log,
		registry.WithRetry(retry.WithAttempts(cfg.API.Retries)),
		registry.WithUserAgent(cfg.API.UserAgent),
	)
	devices := registry.NewManager(client, log)

	source, err := newImageSource(ctx, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	acquirer := image.NewAcquirer(source, cfg.Image.CacheDir, db.Metadata, log)

	var listOpts []drives.Option
	if cfg.Flash.AllowNonRemovable {
		listOpts = append(listOpts, drives.IncludeNonRemovable())
	}

	orch := pipeline.New(pipeline.Deps{
		Sessions:        resolver,
		Devices:         devices,
		Images:          acquirer,
		Writer:          flash.NewWriter(cfg.Flash, log),
		MetricsTextfile: cfg.Metrics.Textfile,
		FailureGrace:    cfg.Flash.FailureGrace,
		Log:             log,
	})

	return &App{
		Config:   cfg,
		Sessions: resolver,
		Devices:  devices,
		Images:   acquirer,
		Drives:   drives.NewLister(log, listOpts...),
		Pipeline: orch,
		Progress: orch.Progress(),
		Log:      log,
		closers:  []io.Closer{db},
	}, nil
}

func newImageSource(ctx context.Context, cfg *config.Config, log logr.Logger) (image.Source, error) {
	opts := []retry.Option{retry.WithAttempts(cfg.API.Retries)}
	if cfg.Image.Source != config.SourceS3 {
		return image.NewHTTPSource(cfg.Image.ManifestURL, &http.Client{}, log, opts...), nil
	}

	s3cfg := cfg.Image.S3
	client, err := s3.NewClient(ctx, s3.Options{
		Endpoint:  s3cfg.Endpoint,
		Region:    s3cfg.Region,
		Bucket:    s3cfg.Bucket,
		AccessKey: s3cfg.AccessKey,
		SecretKey: s3cfg.SecretKey,
		PathStyle: s3cfg.Endpoint != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return image.NewS3Source(client, s3cfg.ManifestKey, opts...), nil
}

// requireBrowser loads the device list, which needs browser sign-in.
func requireBrowser(ctx context.Context, app *App) error {
	if app.Sessions.Session().Mode != auth.ModeBrowserOAuth {
		return ErrBrowserRequired
	}
	if _, err := app.Devices.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load devices: %w", err)
	}
	return nil
}
