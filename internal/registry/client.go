package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/palpable/imager/internal/util/retry"
)

// Client talks to the remote registry.
type Client interface {
	ListDevices(ctx context.Context) (ListResponse, error)
	RegisterDevice(ctx context.Context, req RegisterRequest) (RegisterResponse, error)
	UpdateDevice(ctx context.Context, req UpdateRequest) (MutationResponse, error)
	DeleteDevice(ctx context.Context, id string) (MutationResponse, error)
}

const maxResponseBytes = 1 << 20

// HTTPClient implements Client over the registry's JSON API.
type HTTPClient struct {
	baseURL   string
	http      *http.Client
	log       logr.Logger
	retryOpts []retry.Option
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithRetry sets the retry policy for idempotent reads.
func WithRetry(opts ...retry.Option) HTTPOption {
	return func(c *HTTPClient) {
		c.retryOpts = opts
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(c *HTTPClient) {
		if t, ok := c.http.Transport.(*requestTransport); ok {
			t.userAgent = ua
		}
	}
}

// NewHTTPClient returns a client for baseURL. base carries authorization
// (an OAuth client, for instance); nil uses a plain client with timeout.
func NewHTTPClient(baseURL string, base *http.Client, timeout time.Duration, log logr.Logger, opts ...HTTPOption) *HTTPClient {
	hc := &http.Client{Timeout: timeout}
	if base != nil {
		copied := *base
		hc = &copied
		if hc.Timeout == 0 {
			hc.Timeout = timeout
		}
	}
	log = log.WithName("registry")
	hc.Transport = &requestTransport{base: hc.Transport, log: log, userAgent: "palpable-imager"}

	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		log:     log,
		retryOpts: []retry.Option{
			retry.WithAttempts(3),
			retry.WithInitialDelay(250 * time.Millisecond),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListDevices fetches the account's devices. Transport failures and 5xx
// responses are retried; 4xx responses are not.
func (c *HTTPClient) ListDevices(ctx context.Context) (ListResponse, error) {
	var out ListResponse
	op := func(ctx context.Context) error {
		out = ListResponse{}
		status, err := c.do(ctx, "list", http.MethodGet, "/api/devices", nil, &out)
		if err != nil && status >= 400 && status < 500 {
			return retry.Fatal(err)
		}
		return err
	}

	opts := append([]retry.Option{retry.WithNotify(func(attempt int, err error, next time.Duration) {
		c.log.V(1).Info("retrying device list", "attempt", attempt, "next", next, "error", err.Error())
	})}, c.retryOpts...)

	if err := retry.Do(ctx, op, opts...); err != nil {
		return ListResponse{}, err
	}
	return out, nil
}

// RegisterDevice creates or re-registers a device. Mutations are not retried.
func (c *HTTPClient) RegisterDevice(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	var out RegisterResponse
	if _, err := c.do(ctx, "register", http.MethodPost, "/api/devices/register", req, &out); err != nil {
		return RegisterResponse{}, err
	}
	return out, nil
}

// UpdateDevice renames a device.
func (c *HTTPClient) UpdateDevice(ctx context.Context, req UpdateRequest) (MutationResponse, error) {
	var out MutationResponse
	if _, err := c.do(ctx, "update", http.MethodPatch, "/api/devices/"+url.PathEscape(req.ID), req, &out); err != nil {
		return MutationResponse{}, err
	}
	return out, nil
}

// DeleteDevice removes a device.
func (c *HTTPClient) DeleteDevice(ctx context.Context, id string) (MutationResponse, error) {
	var out MutationResponse
	if _, err := c.do(ctx, "delete", http.MethodDelete, "/api/devices/"+url.PathEscape(id), nil, &out); err != nil {
		return MutationResponse{}, err
	}
	return out, nil
}

// do performs one request and decodes the JSON envelope into out. Rejections
// arrive as envelopes with 4xx codes and decode like successes; only bodies
// that are not an envelope produce an error. A 5xx envelope's message comes
// back as *Error for op. The status code is returned for retry
// classification.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		var env struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			return resp.StatusCode, &Error{Op: op, Message: env.Error}
		}
		return resp.StatusCode, fmt.Errorf("%s %s: server error (HTTP %d)", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%s %s: unexpected response (HTTP %d): %w", method, path, resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

// requestTransport stamps every request with a request id and user agent and
// logs the exchange at debug level.
type requestTransport struct {
	base      http.RoundTripper
	log       logr.Logger
	userAgent string
}

func (t *requestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	req = req.Clone(req.Context())
	id := uuid.NewString()
	req.Header.Set("X-Request-ID", id)
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		t.log.V(1).Info("request failed", "method", req.Method, "path", req.URL.Path, "requestID", id, "error", err.Error())
		return nil, err
	}
	t.log.V(1).Info("request", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode,
		"requestID", id, "duration", time.Since(start))
	return resp, nil
}
