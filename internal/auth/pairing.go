package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"

	"github.com/palpable/imager/internal/store"
)

const pairingTokenKey = "pairing:device"

// storedDevice is what a successful pairing leaves behind.
type storedDevice struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId"`
}

// PairingClient implements Pairing against the registry's pairing endpoints.
type PairingClient struct {
	baseURL string
	http    *http.Client
	meta    store.Metadata
	log     logr.Logger
	now     func() time.Time
}

// NewPairingClient returns a client for baseURL. A nil httpClient uses
// http.DefaultClient.
func NewPairingClient(baseURL string, httpClient *http.Client, meta store.Metadata, log logr.Logger) *PairingClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PairingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		meta:    meta,
		log:     log.WithName("pairing"),
		now:     time.Now,
	}
}

type pairingRequest struct {
	PairingCode string `json:"pairingCode"`
}

type pairingAuthResponse struct {
	Success     bool   `json:"success"`
	DeviceToken string `json:"deviceToken"`
	DeviceID    string `json:"deviceId"`
	Error       string `json:"error,omitempty"`
}

// Validate asks the server about a code. It never changes local state.
func (c *PairingClient) Validate(ctx context.Context, code string) (Validation, error) {
	var v Validation
	if err := c.post(ctx, "/api/pairing/validate", pairingRequest{PairingCode: code}, &v); err != nil {
		return Validation{}, err
	}
	return v, nil
}

// Authenticate exchanges a code for a device token and stores it.
func (c *PairingClient) Authenticate(ctx context.Context, code string) (AuthResult, error) {
	var resp pairingAuthResponse
	if err := c.post(ctx, "/api/pairing/auth", pairingRequest{PairingCode: code}, &resp); err != nil {
		return AuthResult{}, err
	}
	if !resp.Success {
		return AuthResult{Error: resp.Error}, nil
	}
	if resp.DeviceToken == "" {
		return AuthResult{Error: "server returned no device token"}, nil
	}

	dev := storedDevice{Token: resp.DeviceToken, DeviceID: resp.DeviceID}
	if err := store.SetJSON(ctx, c.meta, pairingTokenKey, dev); err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Success: true}, nil
}

// State reports the stored pairing. The token's claims are read without
// verification to find the device and expiry; the server verifies it on use.
func (c *PairingClient) State(ctx context.Context) (PairingState, error) {
	var dev storedDevice
	ok, err := store.GetJSON(ctx, c.meta, pairingTokenKey, &dev)
	if err != nil {
		return PairingState{}, err
	}
	if !ok || dev.Token == "" {
		return PairingState{}, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(dev.Token, claims); err != nil {
		// Opaque tokens carry no claims; trust the stored device id.
		c.log.V(1).Info("device token is not a JWT", "error", err.Error())
		return PairingState{Paired: true, DeviceID: dev.DeviceID}, nil
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && !exp.After(c.now()) {
		c.log.Info("device token expired", "expiredAt", exp.Time)
		return PairingState{}, nil
	}

	id := dev.DeviceID
	if claimed, ok := claims["device_id"].(string); ok && claimed != "" {
		id = claimed
	}
	return PairingState{Paired: true, DeviceID: id}, nil
}

// Clear forgets the stored device token.
func (c *PairingClient) Clear(ctx context.Context) error {
	return c.meta.Delete(ctx, pairingTokenKey)
}

func (c *PairingClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	// Rejections come back as JSON envelopes with 4xx codes; decode them too.
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unexpected response from %s (HTTP %d): %w", path, resp.StatusCode, err)
	}
	return nil
}
