package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// Manager owns the device cache and serializes mutations against the
// registry. It is safe for concurrent use.
//
// Every successful mutation bumps the cache generation and re-fetches the
// list before returning, so callers always read their own writes. The cache
// is never patched locally.
type Manager struct {
	client Client
	log    logr.Logger

	mutating atomic.Bool

	mu         sync.RWMutex
	devices    []Device
	loaded     bool
	generation uint64
	fetched    uint64
}

// NewManager returns a Manager with an unloaded cache.
func NewManager(client Client, log logr.Logger) *Manager {
	return &Manager{client: client, log: log.WithName("devices")}
}

// refreshAttempts bounds how often Refresh re-fetches when mutations keep
// landing while a list request is in flight.
const refreshAttempts = 3

// Refresh re-fetches the device list and replaces the cache. A response is
// only installed if no mutation completed while it was in flight; otherwise
// the list is fetched again.
func (m *Manager) Refresh(ctx context.Context) ([]Device, error) {
	for range refreshAttempts {
		m.mu.RLock()
		gen := m.generation
		m.mu.RUnlock()

		resp, err := m.client.ListDevices(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list devices: %w", err)
		}
		if !resp.Success {
			return nil, &Error{Op: "list", Message: resp.Error}
		}

		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			m.log.V(1).Info("discarding device list fetched before a change", "generation", gen)
			continue
		}
		m.devices = slices.Clone(resp.Devices)
		m.loaded = true
		m.fetched = gen
		devices := slices.Clone(m.devices)
		m.mu.Unlock()
		return devices, nil
	}
	return nil, ErrStaleList
}

// Devices returns the cached devices in server order.
func (m *Manager) Devices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.devices)
}

// Loaded reports whether the cache holds a successful fetch.
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Empty reports a loaded registry with no devices.
func (m *Manager) Empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded && len(m.devices) == 0
}

// Find looks a device up in the cache.
func (m *Manager) Find(id string) (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// Generation is incremented by every successful mutation.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Stale reports that a mutation happened after the last successful fetch.
func (m *Manager) Stale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetched != m.generation
}

// Pending reports an in-flight mutation.
func (m *Manager) Pending() bool {
	return m.mutating.Load()
}

// CreateOrUpdate registers a new device, or re-registers id when it is set.
func (m *Manager) CreateOrUpdate(ctx context.Context, name, id string) (Registration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Registration{}, ErrEmptyName
	}
	if !m.mutating.CompareAndSwap(false, true) {
		return Registration{}, ErrMutationPending
	}
	defer m.mutating.Store(false)

	resp, err := m.client.RegisterDevice(ctx, RegisterRequest{Name: name, ID: id})
	if err != nil {
		return Registration{}, fmt.Errorf("failed to register device: %w", err)
	}
	if !resp.Success {
		return Registration{}, &Error{Op: "register", Message: resp.Error}
	}

	m.log.Info("device registered", "deviceID", resp.DeviceID, "name", name, "pairingCode", resp.PairingCode != "")
	m.invalidate(ctx)
	return Registration{DeviceID: resp.DeviceID, PairingCode: resp.PairingCode}, nil
}

// Rename changes a device's name.
func (m *Manager) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if !m.mutating.CompareAndSwap(false, true) {
		return ErrMutationPending
	}
	defer m.mutating.Store(false)

	resp, err := m.client.UpdateDevice(ctx, UpdateRequest{ID: id, Name: name})
	if err != nil {
		return fmt.Errorf("failed to rename device: %w", err)
	}
	if !resp.Success {
		return &Error{Op: "update", Message: resp.Error}
	}

	m.log.Info("device renamed", "deviceID", id, "name", name)
	m.invalidate(ctx)
	return nil
}

// Delete removes a device. Confirming with the user is the caller's job.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if !m.mutating.CompareAndSwap(false, true) {
		return ErrMutationPending
	}
	defer m.mutating.Store(false)

	resp, err := m.client.DeleteDevice(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if !resp.Success {
		return &Error{Op: "delete", Message: resp.Error}
	}

	m.log.Info("device deleted", "deviceID", id)
	m.invalidate(ctx)
	return nil
}

// invalidate bumps the generation and re-fetches. A failed re-fetch drops the
// cache rather than keep showing pre-mutation data.
func (m *Manager) invalidate(ctx context.Context) {
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()

	if _, err := m.Refresh(ctx); err != nil {
		m.log.Error(err, "refresh after mutation failed")

		m.mu.Lock()
		m.devices = nil
		m.loaded = false
		m.mu.Unlock()
	}
}
