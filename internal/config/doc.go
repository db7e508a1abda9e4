// Package config defines the imager's runtime configuration.
//
// The [Config] struct is loaded from an optional YAML file (imager.yaml in the
// working directory or the user config directory), filled with defaults, and
// finally overridden by IMAGER_* environment variables. It covers the
// registry API endpoint, browser sign-in, the image source and cache, and the
// flash stage's tuning knobs.
package config
