package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides configuration values from environment variables.
// Unset or unparsable variables leave the current value untouched.
//
// Environment Variables:
//   - IMAGER_API_URL
//   - IMAGER_API_TIMEOUT (duration)
//   - IMAGER_API_RETRIES
//   - IMAGER_IMAGE_SOURCE (http|s3)
//   - IMAGER_MANIFEST_URL
//   - IMAGER_CACHE_DIR
//   - IMAGER_S3_ENDPOINT, IMAGER_S3_BUCKET, IMAGER_S3_ACCESS_KEY, IMAGER_S3_SECRET_KEY
//   - IMAGER_FAILURE_GRACE (duration)
//   - IMAGER_BLOCK_SIZE (bytes)
//   - IMAGER_STATE_PATH
//   - IMAGER_METRICS_TEXTFILE
func applyEnv(cfg *Config) {
	cfg.API.URL = parseString("IMAGER_API_URL", cfg.API.URL)
	cfg.API.Timeout = parseDuration("IMAGER_API_TIMEOUT", cfg.API.Timeout)
	cfg.API.Retries = parseInt("IMAGER_API_RETRIES", cfg.API.Retries)

	cfg.Image.Source = strings.ToLower(parseString("IMAGER_IMAGE_SOURCE", cfg.Image.Source))
	cfg.Image.ManifestURL = parseString("IMAGER_MANIFEST_URL", cfg.Image.ManifestURL)
	cfg.Image.CacheDir = parseString("IMAGER_CACHE_DIR", cfg.Image.CacheDir)
	cfg.Image.S3.Endpoint = parseString("IMAGER_S3_ENDPOINT", cfg.Image.S3.Endpoint)
	cfg.Image.S3.Bucket = parseString("IMAGER_S3_BUCKET", cfg.Image.S3.Bucket)
	cfg.Image.S3.AccessKey = parseString("IMAGER_S3_ACCESS_KEY", cfg.Image.S3.AccessKey)
	cfg.Image.S3.SecretKey = parseString("IMAGER_S3_SECRET_KEY", cfg.Image.S3.SecretKey)

	cfg.Flash.FailureGrace = parseDuration("IMAGER_FAILURE_GRACE", cfg.Flash.FailureGrace)
	cfg.Flash.BlockSize = parseInt("IMAGER_BLOCK_SIZE", cfg.Flash.BlockSize)

	cfg.State.Path = parseString("IMAGER_STATE_PATH", cfg.State.Path)
	cfg.Metrics.Textfile = parseString("IMAGER_METRICS_TEXTFILE", cfg.Metrics.Textfile)
}

func parseString(envVar, current string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return current
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the current value is returned.
func parseDuration(envVar string, current time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return current
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return current
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the current value is returned.
func parseInt(envVar string, current int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return current
	}

	i, err := strconv.Atoi(val)
	if err != nil {
		return current
	}

	return i
}
