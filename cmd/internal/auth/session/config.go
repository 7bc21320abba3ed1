package session

import (
	"fmt"
	"time"
)

// Config defines runtime configuration for the session engine.
type Config struct {
	// RefreshTTL is the lifetime of a grant from its creation or last rotation.
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL"`

	// StoreTimeout bounds every store call. The caller's context still applies.
	StoreTimeout time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT"`

	// ReuseDetection revokes every session of a user when a rotated-away
	// refresh token is presented again.
	ReuseDetection bool `yaml:"reuse_detection" env:"REUSE_DETECTION"`

	// ReuseGrace is how long after a rotation the retired token is treated as a
	// lost concurrent refresh rather than a replay. Zero disables the window.
	ReuseGrace time.Duration `yaml:"reuse_grace" env:"REUSE_GRACE"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RefreshTTL:     7 * 24 * time.Hour,
		StoreTimeout:   5 * time.Second,
		ReuseDetection: true,
		ReuseGrace:     10 * time.Second,
	}
}

// Validate returns an ErrConfig-wrapped error describing the first invalid field.
func (c Config) Validate() error {
	if c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: refresh ttl must be positive", ErrConfig)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("%w: store timeout must be positive", ErrConfig)
	}
	if c.ReuseGrace < 0 {
		return fmt.Errorf("%w: reuse grace must not be negative", ErrConfig)
	}
	return nil
}
