package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palpable/imager/internal/auth"
	"github.com/palpable/imager/internal/config"
	"github.com/palpable/imager/internal/drives"
	"github.com/palpable/imager/internal/registry"
)

var kitchen = registry.Device{ID: "D7", Name: "Kitchen", Status: "online"}

func TestDevicesList(t *testing.T) {
	f := newFixture(t, browser)
	f.devices.list = []registry.Device{kitchen, {ID: "D8", Name: "Garage"}}

	require.NoError(t, DevicesList(context.Background(), Options{}))

	assert.Equal(t, "ID  NAME     STATUS\nD7  Kitchen  online\nD8  Garage   unknown\n", f.out.String())
}

func TestDevicesList_Empty(t *testing.T) {
	f := newFixture(t, browser)

	require.NoError(t, DevicesList(context.Background(), Options{}))
	assert.Equal(t, "No devices registered.\n", f.out.String())
}

func TestDevices_RequireBrowser(t *testing.T) {
	for _, sess := range []auth.Session{{}, {Mode: auth.ModePairingCode, DeviceID: "D1"}} {
		t.Run(sess.Mode.String(), func(t *testing.T) {
			f := newFixture(t, sess)
			f.devices.list = []registry.Device{kitchen}

			assert.ErrorIs(t, DevicesList(context.Background(), Options{}), ErrBrowserRequired)
			assert.ErrorIs(t, DevicesRename(context.Background(), Options{}, "D7", "Den"), ErrBrowserRequired)
			assert.ErrorIs(t, DevicesDelete(context.Background(), Options{}, "D7", true), ErrBrowserRequired)
			assert.Zero(t, f.devices.refreshed)
		})
	}
}

func TestDevicesRename(t *testing.T) {
	f := newFixture(t, browser)
	f.devices.list = []registry.Device{kitchen}

	require.NoError(t, DevicesRename(context.Background(), Options{}, "D7", "Den"))
	assert.Equal(t, map[string]string{"D7": "Den"}, f.devices.renamed)
	assert.Contains(t, f.out.String(), `✓ Renamed D7 to "Den"`)
}

func TestDevicesRename_Errors(t *testing.T) {
	t.Run("unknown device", func(t *testing.T) {
		f := newFixture(t, browser)
		f.devices.list = []registry.Device{kitchen}
		require.EqualError(t, DevicesRename(context.Background(), Options{}, "D9", "Den"), "device D9 not found")
	})

	t.Run("server rejection", func(t *testing.T) {
		f := newFixture(t, browser)
		f.devices.list = []registry.Device{kitchen}
		f.devices.mutateErr = &registry.Error{Op: "update", Message: "name already taken"}
		require.EqualError(t, DevicesRename(context.Background(), Options{}, "D7", "Den"), "rename rejected: name already taken")
	})

	t.Run("transport failure", func(t *testing.T) {
		f := newFixture(t, browser)
		f.devices.list = []registry.Device{kitchen}
		f.devices.mutateErr = errors.New("timeout")
		require.EqualError(t, DevicesRename(context.Background(), Options{}, "D7", "Den"), "rename failed: timeout")
	})
}

func TestDevicesDelete(t *testing.T) {
	t.Run("yes skips confirmation", func(t *testing.T) {
		f := newFixture(t, browser)
		f.devices.list = []registry.Device{kitchen}

		require.NoError(t, DevicesDelete(context.Background(), Options{}, "D7", true))
		assert.Equal(t, []string{"D7"}, f.devices.deleted)
		assert.Contains(t, f.out.String(), "✓ Deleted Kitchen")
	})

	t.Run("no terminal needs yes", func(t *testing.T) {
		f := newFixture(t, browser)
		f.devices.list = []registry.Device{kitchen}

		require.ErrorIs(t, DevicesDelete(context.Background(), Options{}, "D7", false), ErrNotInteractive)
		assert.Empty(t, f.devices.deleted)
	})

	t.Run("declined", func(t *testing.T) {
		f := newFixture(t, browser)
		f.devices.list = []registry.Device{kitchen}
		isTerminal = func() bool { return true }
		promptConfirm = func(_ context.Context, title, _ string) (bool, error) {
			assert.Equal(t, "Delete Kitchen?", title)
			return false, nil
		}

		require.ErrorIs(t, DevicesDelete(context.Background(), Options{}, "D7", false), ErrDeleteDeclined)
		assert.Empty(t, f.devices.deleted)
	})

	t.Run("confirmed", func(t *testing.T) {
		f := newFixture(t, browser)
		f.devices.list = []registry.Device{kitchen}
		isTerminal = func() bool { return true }
		promptConfirm = func(context.Context, string, string) (bool, error) { return true, nil }

		require.NoError(t, DevicesDelete(context.Background(), Options{}, "D7", false))
		assert.Equal(t, []string{"D7"}, f.devices.deleted)
	})
}

func TestDrives(t *testing.T) {
	f := newFixture(t, auth.Session{})
	f.drives.list = []drives.Drive{
		sdb,
		{Device: "/dev/sdc", Size: 32_000_000_000, Description: "Locked Card", Removable: true, ReadOnly: true},
	}

	require.NoError(t, Drives(context.Background(), Options{}, false))

	out := f.out.String()
	assert.Contains(t, out, "DEVICE")
	assert.Contains(t, out, "/dev/sdb")
	assert.Contains(t, out, "7.0 GB")
	assert.Contains(t, out, "read-only")
}

func TestDrives_None(t *testing.T) {
	f := newFixture(t, auth.Session{})
	f.drives.list = nil

	require.NoError(t, Drives(context.Background(), Options{}, false))
	assert.Contains(t, f.out.String(), "No removable drives found.")
}

func TestDriveFlags(t *testing.T) {
	assert.Equal(t, "-", driveFlags(drives.Drive{Removable: true}))
	assert.Equal(t, "fixed", driveFlags(drives.Drive{}))
	assert.Equal(t, "read-only", driveFlags(drives.Drive{Removable: true, ReadOnly: true}))
}

func TestCache(t *testing.T) {
	f := newFixture(t, auth.Session{})

	require.NoError(t, CachePath(context.Background(), Options{}))
	assert.Equal(t, "/var/cache/palpable/images\n", f.out.String())

	f.out.Reset()
	require.NoError(t, CacheClear(context.Background(), Options{}))
	assert.True(t, f.images.cleared)
	assert.Contains(t, f.out.String(), "✓ Cleared /var/cache/palpable/images")
}

func TestOpenApp_ConfigError(t *testing.T) {
	newFixture(t, auth.Session{})
	loadConfig = func(string) (*config.Config, error) { return nil, errors.New("configuration validation failed: bad") }

	err := Status(context.Background(), Options{ConfigPath: "imager.yaml"})
	require.EqualError(t, err, "configuration validation failed: bad")
}
