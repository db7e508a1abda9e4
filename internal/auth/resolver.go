package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
)

// BrowserState is the browser sign-in source's view.
type BrowserState struct {
	Authenticated bool
}

// BrowserAuth is the browser sign-in source.
type BrowserAuth interface {
	AuthState(ctx context.Context) (BrowserState, error)
	Start(ctx context.Context) (string, error)
	Complete(ctx context.Context, code string) error
	Logout(ctx context.Context) error
}

// Validation is the informational answer to a pairing code check.
type Validation struct {
	Valid   bool   `json:"valid"`
	Expired bool   `json:"expired"`
	Error   string `json:"error,omitempty"`
}

// AuthResult is the answer to a pairing authentication.
type AuthResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PairingState is the pairing source's view.
type PairingState struct {
	Paired   bool
	DeviceID string
}

// Pairing is the pairing-code source.
type Pairing interface {
	Validate(ctx context.Context, code string) (Validation, error)
	Authenticate(ctx context.Context, code string) (AuthResult, error)
	State(ctx context.Context) (PairingState, error)
	Clear(ctx context.Context) error
}

// Resolver owns the Session. It is safe for concurrent use.
type Resolver struct {
	browser BrowserAuth
	pairing Pairing
	log     logr.Logger

	mu      sync.Mutex
	session Session
}

// NewResolver returns a Resolver in ModeNone.
func NewResolver(browser BrowserAuth, pairing Pairing, log logr.Logger) *Resolver {
	return &Resolver{
		browser: browser,
		pairing: pairing,
		log:     log.WithName("auth"),
	}
}

// Init queries both sources and resolves the session. Browser sign-in is
// checked first and wins over a valid pairing. A source that fails to answer
// counts as not authenticated.
func (r *Resolver) Init(ctx context.Context) Session {
	s := r.resolve(ctx)

	r.mu.Lock()
	r.session = s
	r.mu.Unlock()

	r.log.V(1).Info("session resolved", "mode", s.Mode.String(), "deviceID", s.DeviceID)
	return s
}

func (r *Resolver) resolve(ctx context.Context) Session {
	if r.browser != nil {
		st, err := r.browser.AuthState(ctx)
		if err != nil {
			r.log.Error(err, "browser auth state unavailable")
		} else if st.Authenticated {
			return Session{Mode: ModeBrowserOAuth}
		}
	}

	if r.pairing != nil {
		st, err := r.pairing.State(ctx)
		if err != nil {
			r.log.Error(err, "pairing state unavailable")
		} else if st.Paired {
			return Session{Mode: ModePairingCode, DeviceID: st.DeviceID}
		}
	}

	return Session{Mode: ModeNone}
}

// Session returns a snapshot of the current session.
func (r *Resolver) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// NormalizeCode trims and upper-cases user input.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// CheckCodeFormat rejects codes that are not exactly CodeLength characters.
func CheckCodeFormat(code string) error {
	if len([]rune(code)) != CodeLength {
		return ErrCodeLength
	}
	return nil
}

// Validate checks a code with the server without changing any state.
func (r *Resolver) Validate(ctx context.Context, code string) (Validation, error) {
	code = NormalizeCode(code)
	if err := CheckCodeFormat(code); err != nil {
		return Validation{}, err
	}
	v, err := r.pairing.Validate(ctx, code)
	if err != nil {
		return Validation{}, fmt.Errorf("failed to validate pairing code: %w", err)
	}
	return v, nil
}

// PairWithCode validates and then authenticates a pairing code. An expired
// or invalid code never reaches authentication.
func (r *Resolver) PairWithCode(ctx context.Context, code string) (Session, error) {
	v, err := r.Validate(ctx, code)
	if err != nil {
		return r.Session(), err
	}
	if v.Expired {
		return r.Session(), ErrCodeExpired
	}
	if !v.Valid {
		msg := v.Error
		if msg == "" {
			msg = "invalid pairing code"
		}
		return r.Session(), &PairingError{Stage: "validate", Message: msg}
	}

	res, err := r.pairing.Authenticate(ctx, NormalizeCode(code))
	if err != nil {
		return r.Session(), fmt.Errorf("failed to authenticate pairing code: %w", err)
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "pairing failed"
		}
		return r.Session(), &PairingError{Stage: "authenticate", Message: msg}
	}

	st, err := r.pairing.State(ctx)
	if err != nil {
		return r.Session(), fmt.Errorf("failed to read pairing state: %w", err)
	}

	r.OnPairingSuccess(st.DeviceID)
	r.log.Info("paired with code", "deviceID", st.DeviceID)
	return r.Session(), nil
}

// OnBrowserAuthSuccess switches to browser sign-in. Any bound device is
// forgotten; it is set again after registration.
func (r *Resolver) OnBrowserAuthSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = Session{Mode: ModeBrowserOAuth}
}

// OnPairingSuccess switches to pairing-code mode bound to deviceID.
func (r *Resolver) OnPairingSuccess(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = Session{Mode: ModePairingCode, DeviceID: deviceID}
}

// BindDevice records the device registered during a browser sign-in run.
func (r *Resolver) BindDevice(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.DeviceID = id
}

// Logout clears both sources in a single transition. Both clears are always
// attempted and the session ends up in ModeNone even if one fails.
func (r *Resolver) Logout(ctx context.Context) error {
	var errs []error
	if r.browser != nil {
		if err := r.browser.Logout(ctx); err != nil {
			errs = append(errs, fmt.Errorf("browser logout: %w", err))
		}
	}
	if r.pairing != nil {
		if err := r.pairing.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear pairing: %w", err))
		}
	}

	r.mu.Lock()
	r.session = Session{Mode: ModeNone}
	r.mu.Unlock()

	return errors.Join(errs...)
}

// ClearPairing forgets the paired device so another card can be provisioned.
func (r *Resolver) ClearPairing(ctx context.Context) error {
	err := r.pairing.Clear(ctx)

	r.mu.Lock()
	if r.session.Mode == ModePairingCode {
		r.session = Session{Mode: ModeNone}
	}
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to clear pairing: %w", err)
	}
	return nil
}

// StartBrowserLogin returns the URL the user opens to sign in.
func (r *Resolver) StartBrowserLogin(ctx context.Context) (string, error) {
	return r.browser.Start(ctx)
}

// CompleteBrowserLogin exchanges the code pasted back by the user and
// switches the session to browser sign-in.
func (r *Resolver) CompleteBrowserLogin(ctx context.Context, code string) (Session, error) {
	if err := r.browser.Complete(ctx, strings.TrimSpace(code)); err != nil {
		return r.Session(), err
	}
	r.OnBrowserAuthSuccess()
	r.log.Info("signed in with browser")
	return r.Session(), nil
}
