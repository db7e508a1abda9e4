package config

import (
	"os"
	"path/filepath"
	"time"
)

// Image source kinds.
const (
	SourceHTTP = "http"
	SourceS3   = "s3"
)

// DefaultBlockSize is the write stage's copy unit.
const DefaultBlockSize = 4 << 20

// Config is the complete imager configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	OAuth   OAuthConfig   `yaml:"oauth"`
	Image   ImageConfig   `yaml:"image"`
	Flash   FlashConfig   `yaml:"flash"`
	State   StateConfig   `yaml:"state"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// APIConfig points at the device registry and pairing API.
type APIConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	Retries   int           `yaml:"retries"`
	UserAgent string        `yaml:"userAgent"`
}

// OAuthConfig describes the browser sign-in client.
type OAuthConfig struct {
	ClientID    string   `yaml:"clientId"`
	AuthURL     string   `yaml:"authUrl"`
	TokenURL    string   `yaml:"tokenUrl"`
	RedirectURL string   `yaml:"redirectUrl"`
	Scopes      []string `yaml:"scopes"`
}

// ImageConfig selects where the provisioning image comes from and where it
// is cached.
type ImageConfig struct {
	Source      string   `yaml:"source"`
	ManifestURL string   `yaml:"manifestUrl"`
	S3          S3Config `yaml:"s3"`
	CacheDir    string   `yaml:"cacheDir"`
}

// S3Config locates the release manifest and image in S3-compatible storage.
type S3Config struct {
	Endpoint    string `yaml:"endpoint"`
	Region      string `yaml:"region"`
	Bucket      string `yaml:"bucket"`
	ManifestKey string `yaml:"manifestKey"`
	AccessKey   string `yaml:"accessKey"`
	SecretKey   string `yaml:"secretKey"`
}

// FlashConfig tunes the write stage and the pipeline's failure handling.
type FlashConfig struct {
	BlockSize         int           `yaml:"blockSize"`
	FailureGrace      time.Duration `yaml:"failureGrace"`
	AllowNonRemovable bool          `yaml:"allowNonRemovable"`
	TempDir           string        `yaml:"tempDir"`
}

// StateConfig locates the local session database.
type StateConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the optional node-exporter textfile output.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			URL:       "https://api.palpable.dev",
			Timeout:   30 * time.Second,
			Retries:   3,
			UserAgent: "palpable-imager",
		},
		OAuth: OAuthConfig{
			ClientID:    "palpable-imager",
			AuthURL:     "https://palpable.dev/oauth/authorize",
			TokenURL:    "https://api.palpable.dev/oauth/token",
			RedirectURL: "urn:ietf:wg:oauth:2.0:oob",
			Scopes:      []string{"devices"},
		},
		Image: ImageConfig{
			Source:      SourceHTTP,
			ManifestURL: "https://releases.palpable.dev/os/latest.json",
			S3: S3Config{
				Region:      "eu-central",
				ManifestKey: "os/latest.json",
			},
			CacheDir: filepath.Join(userDir(os.UserCacheDir), "palpable", "images"),
		},
		Flash: FlashConfig{
			BlockSize:    DefaultBlockSize,
			FailureGrace: 3 * time.Second,
		},
		State: StateConfig{
			Path: filepath.Join(userDir(os.UserConfigDir), "palpable", "imager.db"),
		},
	}
}

// userDir resolves a per-user directory, falling back to the temp dir when
// the environment does not define one.
func userDir(fn func() (string, error)) string {
	dir, err := fn()
	if err != nil || dir == "" {
		return os.TempDir()
	}
	return dir
}
