package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"

	"github.com/palpable/imager/internal/platform/s3"
	"github.com/palpable/imager/internal/util/retry"
)

const maxManifestBytes = 1 << 20

// HTTPSource reads a JSON manifest over HTTP(S). A relative image URL is
// resolved against the manifest's URL.
type HTTPSource struct {
	manifestURL string
	http        *http.Client
	log         logr.Logger
	retryOpts   []retry.Option
}

// NewHTTPSource returns a source for manifestURL. A nil client uses one with
// no overall timeout, since image downloads are long.
func NewHTTPSource(manifestURL string, client *http.Client, log logr.Logger, opts ...retry.Option) *HTTPSource {
	if client == nil {
		client = &http.Client{}
	}
	if len(opts) == 0 {
		opts = []retry.Option{retry.WithAttempts(3), retry.WithInitialDelay(time.Second)}
	}
	return &HTTPSource{manifestURL: manifestURL, http: client, log: log.WithName("http-source"), retryOpts: opts}
}

// Latest fetches the manifest, retrying transport and server errors.
func (s *HTTPSource) Latest(ctx context.Context) (Release, error) {
	var rel Release
	err := retry.Do(ctx, func(ctx context.Context) error {
		data, err := s.get(ctx, s.manifestURL)
		if err != nil {
			return err
		}
		rel, err = ParseManifest(data)
		return retry.Fatal(err)
	}, s.retryOpts...)
	if err != nil {
		return Release{}, err
	}

	if rel.URL == "" {
		return Release{}, fmt.Errorf("%w: url is required", ErrBadManifest)
	}
	resolved, err := s.resolve(rel.URL)
	if err != nil {
		return Release{}, err
	}
	rel.URL = resolved
	s.log.V(1).Info("release manifest fetched", "version", rel.Version, "url", rel.URL)
	return rel, nil
}

// Open starts the image download.
func (s *HTTPSource) Open(ctx context.Context, rel Release) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rel.URL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to download image: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

func (s *HTTPSource) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("failed to fetch manifest: HTTP %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Fatal(fmt.Errorf("failed to fetch manifest: HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return data, nil
}

func (s *HTTPSource) resolve(ref string) (string, error) {
	base, err := url.Parse(s.manifestURL)
	if err != nil {
		return "", fmt.Errorf("invalid manifest url: %w", err)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: invalid image url: %w", ErrBadManifest, err)
	}
	return base.ResolveReference(u).String(), nil
}

// objectStore is the part of the S3 client the source needs.
type objectStore interface {
	ReadObject(ctx context.Context, key string) ([]byte, error)
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

var _ objectStore = (*s3.Client)(nil)

// S3Source reads the manifest and image from an S3-compatible bucket. The
// manifest's "key" names the image object; it defaults to the filename.
type S3Source struct {
	store       objectStore
	manifestKey string
	retryOpts   []retry.Option
}

// NewS3Source returns a source reading manifestKey from store.
func NewS3Source(store objectStore, manifestKey string, opts ...retry.Option) *S3Source {
	if len(opts) == 0 {
		opts = []retry.Option{retry.WithAttempts(3), retry.WithInitialDelay(time.Second)}
	}
	return &S3Source{store: store, manifestKey: manifestKey, retryOpts: opts}
}

// Latest reads the manifest object.
func (s *S3Source) Latest(ctx context.Context) (Release, error) {
	var rel Release
	err := retry.Do(ctx, func(ctx context.Context) error {
		data, err := s.store.ReadObject(ctx, s.manifestKey)
		if errors.Is(err, s3.ErrNotFound) {
			return retry.Fatal(err)
		}
		if err != nil {
			return err
		}
		rel, err = ParseManifest(data)
		return retry.Fatal(err)
	}, s.retryOpts...)
	if err != nil {
		return Release{}, err
	}
	if rel.Key == "" {
		rel.Key = rel.Filename
	}
	return rel, nil
}

// Open streams the image object.
func (s *S3Source) Open(ctx context.Context, rel Release) (io.ReadCloser, int64, error) {
	return s.store.Open(ctx, rel.Key)
}
