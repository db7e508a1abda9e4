package handlers

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-logr/logr"

	"github.com/palpable/imager/internal/auth"
	"github.com/palpable/imager/internal/config"
	"github.com/palpable/imager/internal/drives"
	"github.com/palpable/imager/internal/image"
	"github.com/palpable/imager/internal/pipeline"
	"github.com/palpable/imager/internal/progress"
	"github.com/palpable/imager/internal/registry"
)

var sdb = drives.Drive{Device: "/dev/sdb", Size: 7_500_000_000, Description: "Generic SD/MMC", Removable: true}

type fakeSessions struct {
	session     auth.Session
	loginURL    string
	completed   string
	pairErr     error
	logouts     int
	clears      int
	completeErr error
}

func (f *fakeSessions) Session() auth.Session { return f.session }

func (f *fakeSessions) StartBrowserLogin(context.Context) (string, error) {
	return f.loginURL, nil
}

func (f *fakeSessions) CompleteBrowserLogin(_ context.Context, code string) (auth.Session, error) {
	if f.completeErr != nil {
		return f.session, f.completeErr
	}
	f.completed = code
	f.session = auth.Session{Mode: auth.ModeBrowserOAuth}
	return f.session, nil
}

func (f *fakeSessions) PairWithCode(_ context.Context, _ string) (auth.Session, error) {
	if f.pairErr != nil {
		return f.session, f.pairErr
	}
	f.session = auth.Session{Mode: auth.ModePairingCode, DeviceID: "D1"}
	return f.session, nil
}

func (f *fakeSessions) Logout(context.Context) error {
	f.logouts++
	f.session = auth.Session{}
	return nil
}

func (f *fakeSessions) ClearPairing(context.Context) error {
	f.clears++
	return nil
}

type fakeDevices struct {
	list      []registry.Device
	loaded    bool
	refreshed int
	renamed   map[string]string
	deleted   []string
	mutateErr error
}

func (f *fakeDevices) Refresh(context.Context) ([]registry.Device, error) {
	f.refreshed++
	f.loaded = true
	return f.list, nil
}

func (f *fakeDevices) Devices() []registry.Device { return f.list }
func (f *fakeDevices) Loaded() bool               { return f.loaded }

func (f *fakeDevices) Find(id string) (registry.Device, bool) {
	for _, d := range f.list {
		if d.ID == id {
			return d, true
		}
	}
	return registry.Device{}, false
}

func (f *fakeDevices) Rename(_ context.Context, id, name string) error {
	if f.mutateErr != nil {
		return f.mutateErr
	}
	if f.renamed == nil {
		f.renamed = map[string]string{}
	}
	f.renamed[id] = name
	return nil
}

func (f *fakeDevices) Delete(_ context.Context, id string) error {
	if f.mutateErr != nil {
		return f.mutateErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeImages struct {
	dir     string
	entries []image.CacheEntry
	cleared bool
}

func (f *fakeImages) Dir() string { return f.dir }

func (f *fakeImages) Cached(context.Context) ([]image.CacheEntry, error) {
	return f.entries, nil
}

func (f *fakeImages) Clear(context.Context) error {
	f.cleared = true
	return nil
}

type fakeDrives struct {
	list []drives.Drive
}

func (f *fakeDrives) List(context.Context) ([]drives.Drive, error) { return f.list, nil }

type fakeRunner struct {
	outcome pipeline.Outcome
	err     error
	during  func()
	reqs    []pipeline.Request
	resets  int
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (pipeline.Outcome, error) {
	f.reqs = append(f.reqs, req)
	if f.during != nil {
		f.during()
	}
	return f.outcome, f.err
}

func (f *fakeRunner) Reset(context.Context) error {
	f.resets++
	return nil
}

// fixture wires fakes into the handlers' factory variables.
type fixture struct {
	app      *App
	sessions *fakeSessions
	devices  *fakeDevices
	images   *fakeImages
	drives   *fakeDrives
	runner   *fakeRunner
	out      *bytes.Buffer
}

func newFixture(t *testing.T, sess auth.Session) *fixture {
	t.Helper()

	f := &fixture{
		sessions: &fakeSessions{session: sess, loginURL: "https://auth.example/authorize?state=x"},
		devices:  &fakeDevices{},
		images:   &fakeImages{dir: "/var/cache/palpable/images"},
		drives:   &fakeDrives{list: []drives.Drive{sdb}},
		runner:   &fakeRunner{outcome: pipeline.Outcome{Phase: pipeline.PhaseSucceeded}},
		out:      &bytes.Buffer{},
	}
	f.app = &App{
		Config:   config.Default(),
		Sessions: f.sessions,
		Devices:  f.devices,
		Images:   f.images,
		Drives:   f.drives,
		Pipeline: f.runner,
		Progress: progress.New(),
		Log:      logr.Discard(),
	}

	origLoad, origApp, origTerm, origOut := loadConfig, newApp, isTerminal, stdout
	origWizard, origView, origInput, origConfirm := runWizard, runWithView, promptInput, promptConfirm
	t.Cleanup(func() {
		loadConfig, newApp, isTerminal, stdout = origLoad, origApp, origTerm, origOut
		runWizard, runWithView, promptInput, promptConfirm = origWizard, origView, origInput, origConfirm
	})

	loadConfig = func(string) (*config.Config, error) { return config.Default(), nil }
	newApp = func(context.Context, *config.Config, logr.Logger) (*App, error) { return f.app, nil }
	isTerminal = func() bool { return false }
	stdout = f.out

	return f
}
