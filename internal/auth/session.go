// Package auth resolves which of the two authorization paths, browser sign-in
// or a device pairing code, authorizes the imager, and keeps the resulting
// session.
//
// The two paths are mutually exclusive. When both report a valid session,
// browser sign-in wins.
package auth

import (
	"errors"
	"fmt"
)

// Mode is the active authorization path.
type Mode int

const (
	ModeNone Mode = iota
	ModeBrowserOAuth
	ModePairingCode
)

func (m Mode) String() string {
	switch m {
	case ModeBrowserOAuth:
		return "browser"
	case ModePairingCode:
		return "pairing-code"
	default:
		return "none"
	}
}

// Session is the resolved authorization state. DeviceID is only set under
// ModePairingCode, or under ModeBrowserOAuth once a device was registered.
type Session struct {
	Mode     Mode
	DeviceID string
}

// Authenticated reports whether any path authorizes the caller.
func (s Session) Authenticated() bool {
	return s.Mode != ModeNone
}

// CodeLength is the exact length of a pairing code.
const CodeLength = 6

var (
	// ErrCodeLength is returned for codes that are not exactly CodeLength
	// characters. No network call is made for such codes.
	ErrCodeLength = fmt.Errorf("pairing code must be %d characters", CodeLength)

	// ErrCodeExpired is returned when validation reports the code as expired.
	ErrCodeExpired = errors.New("pairing code has expired")

	// ErrNoPendingLogin is returned by OAuthBrowser.Complete without a
	// preceding Start, or once the started sign-in has expired.
	ErrNoPendingLogin = errors.New("no sign-in in progress; run 'imager login' to get a new URL")

	// ErrStateMismatch is returned when a pasted code carries the state of a
	// different sign-in.
	ErrStateMismatch = errors.New("authorization code belongs to a different sign-in")
)

// PairingError carries a server-side pairing rejection verbatim.
type PairingError struct {
	Stage   string // "validate" or "authenticate"
	Message string
}

func (e *PairingError) Error() string {
	return e.Message
}
