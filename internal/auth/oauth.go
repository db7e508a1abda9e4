package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/palpable/imager/internal/config"
	"github.com/palpable/imager/internal/store"
)

const (
	oauthTokenKey   = "oauth:token"
	oauthPendingKey = "oauth:pending"

	// pendingLoginTTL bounds how long a started sign-in can be completed.
	pendingLoginTTL = 15 * time.Minute
)

// pendingLogin is a started sign-in. It is persisted so the code can be
// pasted into a later invocation.
type pendingLogin struct {
	Verifier  string    `json:"verifier"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"startedAt"`
}

// OAuthBrowser implements BrowserAuth with an out-of-band authorization code
// flow: Start returns a URL, the user signs in and pastes the code back into
// Complete, possibly from another process. PKCE protects the exchange.
type OAuthBrowser struct {
	cfg  *oauth2.Config
	meta store.Metadata
	now  func() time.Time
}

// NewOAuthBrowser builds the browser sign-in source. Tokens live in meta.
func NewOAuthBrowser(c config.OAuthConfig, meta store.Metadata) *OAuthBrowser {
	return &OAuthBrowser{
		cfg: &oauth2.Config{
			ClientID:    c.ClientID,
			RedirectURL: c.RedirectURL,
			Scopes:      c.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   c.AuthURL,
				TokenURL:  c.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		meta: meta,
		now:  time.Now,
	}
}

// Start begins a sign-in and returns the authorization URL. A previously
// started sign-in is replaced.
func (b *OAuthBrowser) Start(ctx context.Context) (string, error) {
	p := pendingLogin{
		Verifier:  oauth2.GenerateVerifier(),
		State:     uuid.NewString(),
		StartedAt: b.now(),
	}
	if err := store.SetJSON(ctx, b.meta, oauthPendingKey, p); err != nil {
		return "", fmt.Errorf("failed to save sign-in: %w", err)
	}

	return b.cfg.AuthCodeURL(p.State,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(p.Verifier),
	), nil
}

// Complete exchanges the pasted authorization code and persists the token.
// The code may be pasted as "code#state", in which case the state must match
// the started sign-in. A failed exchange keeps the sign-in open for another
// attempt.
func (b *OAuthBrowser) Complete(ctx context.Context, code string) error {
	var p pendingLogin
	ok, err := store.GetJSON(ctx, b.meta, oauthPendingKey, &p)
	if err != nil {
		return err
	}
	if !ok || p.Verifier == "" || b.now().Sub(p.StartedAt) > pendingLoginTTL {
		return ErrNoPendingLogin
	}

	code, state, hasState := strings.Cut(strings.TrimSpace(code), "#")
	if code == "" {
		return fmt.Errorf("authorization code is empty")
	}
	if hasState && state != p.State {
		return ErrStateMismatch
	}

	tok, err := b.cfg.Exchange(ctx, code, oauth2.VerifierOption(p.Verifier))
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := store.SetJSON(ctx, b.meta, oauthTokenKey, tok); err != nil {
		return err
	}
	return b.meta.Delete(ctx, oauthPendingKey)
}

// AuthState reports a stored token that is still valid or can be refreshed.
func (b *OAuthBrowser) AuthState(ctx context.Context) (BrowserState, error) {
	tok, err := b.token(ctx)
	if err != nil {
		return BrowserState{}, err
	}
	if tok == nil {
		return BrowserState{}, nil
	}
	return BrowserState{Authenticated: tok.Valid() || tok.RefreshToken != ""}, nil
}

// Logout forgets the stored token and any started sign-in.
func (b *OAuthBrowser) Logout(ctx context.Context) error {
	return errors.Join(
		b.meta.Delete(ctx, oauthTokenKey),
		b.meta.Delete(ctx, oauthPendingKey),
	)
}

// Client returns an HTTP client that authorizes requests with the stored
// token, refreshing and re-persisting it as needed.
func (b *OAuthBrowser) Client(ctx context.Context) (*http.Client, error) {
	tok, err := b.token(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, fmt.Errorf("not signed in")
	}

	src := &persistingSource{
		ctx:  context.WithoutCancel(ctx),
		base: b.cfg.TokenSource(ctx, tok),
		meta: b.meta,
		last: tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

func (b *OAuthBrowser) token(ctx context.Context) (*oauth2.Token, error) {
	var tok oauth2.Token
	ok, err := store.GetJSON(ctx, b.meta, oauthTokenKey, &tok)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

// persistingSource saves refreshed tokens back to the state database.
type persistingSource struct {
	ctx  context.Context
	base oauth2.TokenSource
	meta store.Metadata

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := store.SetJSON(s.ctx, s.meta, oauthTokenKey, tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
