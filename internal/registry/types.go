// Package registry manages device identity records held by the remote device
// registry. The Manager keeps a read-through cache of the account's devices
// that is invalidated and re-fetched after every mutation.
package registry

import (
	"errors"
	"fmt"
)

// Device is a registered device as reported by the registry.
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Label renders the device for selection lists.
func (d Device) Label() string {
	status := d.Status
	if status == "" {
		status = "unknown"
	}
	return fmt.Sprintf("%s (%s)", d.Name, status)
}

// RegisterRequest creates a device, or re-registers an existing one when ID
// is set.
type RegisterRequest struct {
	Name string `json:"name"`
	ID   string `json:"deviceId,omitempty"`
}

// UpdateRequest renames a device.
type UpdateRequest struct {
	ID   string `json:"-"`
	Name string `json:"name"`
}

// ListResponse is the envelope of GET /api/devices.
type ListResponse struct {
	Success bool     `json:"success"`
	Devices []Device `json:"devices"`
	Error   string   `json:"error,omitempty"`
}

// RegisterResponse is the envelope of POST /api/devices/register.
type RegisterResponse struct {
	Success     bool   `json:"success"`
	DeviceID    string `json:"deviceId"`
	PairingCode string `json:"pairingCode,omitempty"`
	Error       string `json:"error,omitempty"`
}

// MutationResponse is the envelope of update and delete calls.
type MutationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Registration is the outcome of CreateOrUpdate. PairingCode is only set when
// the server minted one for this registration.
type Registration struct {
	DeviceID    string
	PairingCode string
}

var (
	// ErrMutationPending is returned when a mutation is already in flight.
	ErrMutationPending = errors.New("another device change is still in progress")

	// ErrStaleList is returned when every list fetch was overtaken by a
	// device change.
	ErrStaleList = errors.New("device list kept changing while it was fetched")

	// ErrEmptyName is returned for names that are blank after trimming.
	ErrEmptyName = errors.New("device name must not be empty")
)

// Error is a rejection reported by the registry. Message is the server's
// text, unmodified.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Op + " failed"
}
