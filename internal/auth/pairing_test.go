package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palpable/imager/internal/store"
)

func signedDeviceToken(t *testing.T, deviceID string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"device_id": deviceID,
		"exp":       exp.Unix(),
	})
	s, err := tok.SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return s
}

func pairingServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pairing/validate", func(w http.ResponseWriter, r *http.Request) {
		var req pairingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.PairingCode {
		case "ABC123":
			_ = json.NewEncoder(w).Encode(Validation{Valid: true})
		case "OLD000":
			_ = json.NewEncoder(w).Encode(Validation{Valid: false, Expired: true})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(Validation{Error: "Unknown code"})
		}
	})
	mux.HandleFunc("POST /api/pairing/auth", func(w http.ResponseWriter, r *http.Request) {
		var req pairingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.PairingCode != "ABC123" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(pairingAuthResponse{Error: "Invalid code"})
			return
		}
		_ = json.NewEncoder(w).Encode(pairingAuthResponse{Success: true, DeviceToken: token, DeviceID: "D1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPairingClient_Validate(t *testing.T) {
	t.Parallel()
	srv := pairingServer(t, "")
	c := NewPairingClient(srv.URL, srv.Client(), store.NewMemoryMetadata(), logr.Discard())
	ctx := context.Background()

	v, err := c.Validate(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, v.Valid)

	v, err = c.Validate(ctx, "OLD000")
	require.NoError(t, err)
	assert.True(t, v.Expired)

	v, err = c.Validate(ctx, "ZZZ999")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "Unknown code", v.Error)
}

func TestPairingClient_AuthenticateStoresToken(t *testing.T) {
	t.Parallel()
	token := signedDeviceToken(t, "D1", time.Now().Add(time.Hour))
	srv := pairingServer(t, token)
	meta := store.NewMemoryMetadata()
	c := NewPairingClient(srv.URL+"/", srv.Client(), meta, logr.Discard())
	ctx := context.Background()

	st, err := c.State(ctx)
	require.NoError(t, err)
	assert.False(t, st.Paired)

	res, err := c.Authenticate(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, res.Success)

	st, err = c.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, PairingState{Paired: true, DeviceID: "D1"}, st)

	var dev storedDevice
	ok, err := store.GetJSON(ctx, meta, pairingTokenKey, &dev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, token, dev.Token)

	require.NoError(t, c.Clear(ctx))
	st, err = c.State(ctx)
	require.NoError(t, err)
	assert.False(t, st.Paired)
}

func TestPairingClient_AuthenticateRejected(t *testing.T) {
	t.Parallel()
	srv := pairingServer(t, "unused")
	meta := store.NewMemoryMetadata()
	c := NewPairingClient(srv.URL, srv.Client(), meta, logr.Discard())

	res, err := c.Authenticate(context.Background(), "NOPE00")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid code", res.Error)

	keys, err := meta.List(context.Background(), pairingTokenKey)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPairingClient_StateClaims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token string
		want  PairingState
	}{
		{
			name:  "claim device id wins",
			token: signedDeviceToken(t, "D-claim", now.Add(time.Hour)),
			want:  PairingState{Paired: true, DeviceID: "D-claim"},
		},
		{
			name:  "expired token is not paired",
			token: signedDeviceToken(t, "D-claim", now.Add(-time.Minute)),
			want:  PairingState{},
		},
		{
			name:  "opaque token falls back to stored id",
			token: "opaque-device-token",
			want:  PairingState{Paired: true, DeviceID: "D-stored"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			meta := store.NewMemoryMetadata()
			require.NoError(t, store.SetJSON(ctx, meta, pairingTokenKey, storedDevice{Token: tt.token, DeviceID: "D-stored"}))

			c := NewPairingClient("http://unused", nil, meta, logr.Discard())
			c.now = func() time.Time { return now }

			st, err := c.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st)
		})
	}
}

func TestPairingClient_ResolverEndToEnd(t *testing.T) {
	t.Parallel()
	srv := pairingServer(t, signedDeviceToken(t, "D1", time.Now().Add(time.Hour)))
	c := NewPairingClient(srv.URL, srv.Client(), store.NewMemoryMetadata(), logr.Discard())
	r := NewResolver(&fakeBrowser{}, c, logr.Discard())

	_, err := r.PairWithCode(context.Background(), "old000")
	require.ErrorIs(t, err, ErrCodeExpired)

	s, err := r.PairWithCode(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, Session{Mode: ModePairingCode, DeviceID: "D1"}, s)

	// a fresh resolver picks the pairing up from storage
	r2 := NewResolver(&fakeBrowser{}, c, logr.Discard())
	assert.Equal(t, s, r2.Init(context.Background()))
}
