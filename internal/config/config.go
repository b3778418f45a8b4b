// Package config holds the recognized configuration surface of the sync core.
package config

import (
	"time"

	"github.com/driftsync/driftsync/internal/errors"
)

// Config holds every tunable the core recognizes. Zero values are invalid;
// start from Default and override.
type Config struct {
	// MaxQueueSize caps the number of pending mutations (default 100).
	MaxQueueSize int

	// MaxRetries bounds retry attempts per mutation beyond the first
	// (default 3). A mutation is dead-lettered once its retry count would
	// exceed this.
	MaxRetries int

	// AttemptsPerPass bounds how many times one mutation is attempted within
	// a single drain pass, with backoff between attempts (default 3). The
	// durable MaxRetries budget applies across passes.
	AttemptsPerPass int

	// PoorLatencyThreshold is the round-trip time above which a successful
	// probe classifies the link as Poor (default 2s).
	PoorLatencyThreshold time.Duration

	// PoorFailureThreshold is the number of consecutive probe failures
	// before the link is classified as Poor (default 3).
	PoorFailureThreshold int

	// ProbeInterval is how often the latency probe samples (default 30s).
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe request (default 5s).
	ProbeTimeout time.Duration

	// PoorRemoteTimeout bounds remote reads while the link is Poor
	// (default 5s).
	PoorRemoteTimeout time.Duration

	// OnlineRemoteTimeout bounds remote reads while the link is Online
	// (default 30s).
	OnlineRemoteTimeout time.Duration

	// HealthEndpoint is the URL the latency probe samples.
	HealthEndpoint string
}

// Default returns the configuration the core ships with.
func Default() *Config {
	return &Config{
		MaxQueueSize:         100,
		MaxRetries:           3,
		AttemptsPerPass:      3,
		PoorLatencyThreshold: 2 * time.Second,
		PoorFailureThreshold: 3,
		ProbeInterval:        30 * time.Second,
		ProbeTimeout:         5 * time.Second,
		PoorRemoteTimeout:    5 * time.Second,
		OnlineRemoteTimeout:  30 * time.Second,
		HealthEndpoint:       "",
	}
}

// Validate rejects malformed configuration before any component is built.
func (c *Config) Validate() error {
	if c.MaxQueueSize <= 0 {
		return errors.New(errors.ErrInvalidConfig, "max queue size must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New(errors.ErrInvalidConfig, "max retries must not be negative")
	}
	if c.AttemptsPerPass <= 0 {
		return errors.New(errors.ErrInvalidConfig, "attempts per pass must be positive")
	}
	if c.PoorLatencyThreshold <= 0 {
		return errors.New(errors.ErrInvalidConfig, "poor latency threshold must be positive")
	}
	if c.PoorFailureThreshold <= 0 {
		return errors.New(errors.ErrInvalidConfig, "poor failure threshold must be positive")
	}
	if c.ProbeInterval <= 0 {
		return errors.New(errors.ErrInvalidConfig, "probe interval must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return errors.New(errors.ErrInvalidConfig, "probe timeout must be positive")
	}
	if c.PoorRemoteTimeout <= 0 {
		return errors.New(errors.ErrInvalidConfig, "poor remote timeout must be positive")
	}
	if c.OnlineRemoteTimeout <= 0 {
		return errors.New(errors.ErrInvalidConfig, "online remote timeout must be positive")
	}
	return nil
}
