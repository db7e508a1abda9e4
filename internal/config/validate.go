package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the configuration for errors and returns all problems found.
func (c *Config) Validate() error {
	var errs []error

	if err := validateURL("api.url", c.API.URL); err != nil {
		errs = append(errs, err)
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive"))
	}
	if c.API.Retries < 0 {
		errs = append(errs, fmt.Errorf("api.retries must not be negative"))
	}

	switch c.Image.Source {
	case SourceHTTP:
		if err := validateURL("image.manifestUrl", c.Image.ManifestURL); err != nil {
			errs = append(errs, err)
		}
	case SourceS3:
		if c.Image.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("image.s3.bucket is required for the s3 source"))
		}
		if c.Image.S3.ManifestKey == "" {
			errs = append(errs, fmt.Errorf("image.s3.manifestKey is required for the s3 source"))
		}
		if c.Image.S3.Endpoint != "" {
			if err := validateURL("image.s3.endpoint", c.Image.S3.Endpoint); err != nil {
				errs = append(errs, err)
			}
		}
	default:
		errs = append(errs, fmt.Errorf("image.source must be %q or %q, got %q", SourceHTTP, SourceS3, c.Image.Source))
	}

	if c.Image.CacheDir == "" {
		errs = append(errs, fmt.Errorf("image.cacheDir is required"))
	}
	if c.Flash.BlockSize < 512 || c.Flash.BlockSize%512 != 0 {
		errs = append(errs, fmt.Errorf("flash.blockSize must be a positive multiple of 512, got %d", c.Flash.BlockSize))
	}
	if c.Flash.FailureGrace < 0 {
		errs = append(errs, fmt.Errorf("flash.failureGrace must not be negative"))
	}
	if c.State.Path == "" {
		errs = append(errs, fmt.Errorf("state.path is required"))
	}

	return errors.Join(errs...)
}

// OAuthEnabled reports whether browser sign-in is configured.
func (c *Config) OAuthEnabled() bool {
	return c.OAuth.ClientID != "" && c.OAuth.AuthURL != "" && c.OAuth.TokenURL != ""
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", field)
	}
	return nil
}
