// Package config provides production-grade configuration management for
// chromefp. It supports JSON-based configuration loading with safe defaults
// for the Chrome-fingerprint-preserving session engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SolveMode selects how the Challenge Solver reacts to interactive
// (human-in-the-loop) challenges.
type SolveMode string

const (
	// SolveAuto solves JS interstitials and managed waits automatically and
	// fails interactive challenges outright.
	SolveAuto SolveMode = "auto"
	// SolveOff disables the Challenge Solver entirely; any detected
	// challenge is surfaced to the caller unresolved.
	SolveOff SolveMode = "off"
	// SolveExternalInteractive behaves like SolveAuto but delegates
	// interactive challenges to a caller-supplied InteractiveResolver.
	SolveExternalInteractive SolveMode = "external_interactive"
)

// Duration wraps time.Duration with JSON marshaling to/from Go duration
// strings ("30s", "1m"), the representation used for every
// duration-valued configuration field.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalJSON implements json.Unmarshaler. It accepts either a duration
// string ("30s") or a bare JSON number of nanoseconds, for compatibility
// with configs generated programmatically.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: parse duration %q: %w", s, err)
		}
		d.Duration = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("config: duration must be a string or integer nanosecond count: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

// Config holds every tunable parameter exposed when constructing a new
// Session. The struct is closed: LoadConfig rejects unknown fields so
// a typo in a config file is caught at load time rather than silently
// ignored.
type Config struct {
	// Profile names a built-in FingerprintProfile, e.g.
	// "chrome-124-desktop-windows". Required.
	Profile string `json:"profile"`

	// MaxConcurrency bounds the Concurrency Gate's permit pool. Default 1000.
	MaxConcurrency int `json:"max_concurrency"`

	// RatePerSecond is the steady-state token bucket fill rate per origin.
	// Default 5.0.
	RatePerSecond float64 `json:"rate_per_second"`

	// RateBurst is the token bucket's burst capacity per origin. Default 10.
	RateBurst int `json:"rate_burst"`

	// DefaultDeadline bounds a request that supplies no explicit deadline.
	// Default 30s.
	DefaultDeadline Duration `json:"default_deadline"`

	// OriginWhitelist, if non-empty, rejects any request to a host not in
	// the set with OriginDenied before any network activity.
	OriginWhitelist []string `json:"origin_whitelist,omitempty"`

	// ChallengeSolve selects the Solver's behavior toward interactive
	// challenges. Default SolveAuto.
	ChallengeSolve SolveMode `json:"challenge_solve"`

	// FollowRedirects is the maximum number of redirects a request
	// follows before failing with TooManyRedirects. Default 10.
	FollowRedirects int `json:"follow_redirects"`

	// IdleConnectionTimeout bounds how long a pooled connection may sit
	// idle before it is closed. Default 90s.
	IdleConnectionTimeout Duration `json:"idle_connection_timeout"`

	// SandboxMemoryLimit is the JS Sandbox's memory ceiling in bytes.
	// Default 50 MiB.
	SandboxMemoryLimit int64 `json:"sandbox_memory_limit"`

	// SandboxWallTime is the JS Sandbox's wall-clock execution ceiling.
	// Default 10s.
	SandboxWallTime Duration `json:"sandbox_wall_time"`

	// ProxyURL is an optional upstream HTTP CONNECT proxy
	// ("http://host:port") applied to every connection the Transport
	// dials. Empty means direct. SOCKS5 proxies are not supported.
	ProxyURL string `json:"proxy_url,omitempty"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a
// Config. Unknown fields are rejected.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %q: %w", filename, err)
	}
	return cfg, nil
}

// DefaultConfig returns a *Config pre-filled with sane defaults. Callers
// are free to mutate the returned struct; each call returns a fresh
// independent copy.
func DefaultConfig() *Config {
	return &Config{
		Profile:               "chrome-124-desktop-windows",
		MaxConcurrency:        1000,
		RatePerSecond:         5.0,
		RateBurst:             10,
		DefaultDeadline:       Duration{30 * time.Second},
		ChallengeSolve:        SolveAuto,
		FollowRedirects:       10,
		IdleConnectionTimeout: Duration{90 * time.Second},
		SandboxMemoryLimit:    50 * 1024 * 1024,
		SandboxWallTime:       Duration{10 * time.Second},
	}
}

// Validate checks that every field holds a value the rest of the core can
// act on. It is called automatically by LoadConfig and should be called
// explicitly by any caller that builds a Config by hand.
func (c *Config) Validate() error {
	if c.Profile == "" {
		return fmt.Errorf("config: profile is required")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("config: max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.RatePerSecond <= 0 {
		return fmt.Errorf("config: rate_per_second must be positive, got %v", c.RatePerSecond)
	}
	if c.RateBurst <= 0 {
		return fmt.Errorf("config: rate_burst must be positive, got %d", c.RateBurst)
	}
	if c.DefaultDeadline.Duration <= 0 {
		return fmt.Errorf("config: default_deadline must be positive, got %v", c.DefaultDeadline.Duration)
	}
	if c.FollowRedirects < 0 {
		return fmt.Errorf("config: follow_redirects must be >= 0, got %d", c.FollowRedirects)
	}
	switch c.ChallengeSolve {
	case SolveAuto, SolveOff, SolveExternalInteractive:
	default:
		return fmt.Errorf("config: unknown challenge_solve mode %q", c.ChallengeSolve)
	}
	if c.SandboxMemoryLimit <= 0 {
		return fmt.Errorf("config: sandbox_memory_limit must be positive, got %d", c.SandboxMemoryLimit)
	}
	if c.SandboxWallTime.Duration <= 0 {
		return fmt.Errorf("config: sandbox_wall_time must be positive, got %v", c.SandboxWallTime.Duration)
	}
	return nil
}
