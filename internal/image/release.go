// Package image acquires the provisioning disk image: it looks up the latest
// release, reuses a verified cached copy when one exists, and otherwise
// downloads and verifies a fresh one.
package image

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrChecksum is returned when a downloaded image does not match the
	// release's SHA-256.
	ErrChecksum = errors.New("image checksum mismatch")

	// ErrIncomplete is returned when a download ends short of the advertised
	// size, or a stage finished without reporting completion.
	ErrIncomplete = errors.New("image download incomplete")

	// ErrBadManifest is returned for manifests missing required fields.
	ErrBadManifest = errors.New("invalid release manifest")
)

// Release describes one published image.
type Release struct {
	Version  string `json:"version"`
	URL      string `json:"url,omitempty"`
	Key      string `json:"key,omitempty"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size,omitempty"`
	Filename string `json:"filename"`
}

// Source knows where releases live.
type Source interface {
	// Latest returns the current release.
	Latest(ctx context.Context) (Release, error)
	// Open streams the release's image. Size is -1 when unknown.
	Open(ctx context.Context, rel Release) (io.ReadCloser, int64, error)
}

// ParseManifest decodes and checks a release manifest.
func ParseManifest(data []byte) (Release, error) {
	var rel Release
	if err := json.Unmarshal(data, &rel); err != nil {
		return Release{}, fmt.Errorf("%w: %w", ErrBadManifest, err)
	}
	if err := rel.validate(); err != nil {
		return Release{}, err
	}
	rel.SHA256 = strings.ToLower(rel.SHA256)
	return rel, nil
}

func (r Release) validate() error {
	if r.Filename == "" {
		return fmt.Errorf("%w: filename is required", ErrBadManifest)
	}
	if base := filepath.Base(r.Filename); base != r.Filename || base == "." || base == ".." {
		return fmt.Errorf("%w: filename %q must not contain a path", ErrBadManifest, r.Filename)
	}
	sum, err := hex.DecodeString(r.SHA256)
	if err != nil || len(sum) != 32 {
		return fmt.Errorf("%w: sha256 must be 64 hex characters", ErrBadManifest)
	}
	if r.Size < 0 {
		return fmt.Errorf("%w: negative size", ErrBadManifest)
	}
	return nil
}
