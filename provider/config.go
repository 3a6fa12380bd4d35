package provider

import (
	"errors"
	"time"
)

// Config carries the key lifecycle policy parameters.
type Config struct {
	// LocalSystemID identifies this key provider.
	LocalSystemID string

	// RemoteSystemIDs lists the remote systems allowed to request keys.
	// Entries may contain * glob patterns, e.g. "KP_Dev_*".
	RemoteSystemIDs []string

	// Algorithm is the TLS cipher suite advertised on /capabilities.
	Algorithm string

	DefaultKeySize     int
	MinKeySize         int
	MaxKeySize         int
	DefaultEntropyBits int

	// KeyExpiry bounds the lifetime of unused keys.
	KeyExpiry time.Duration

	// EnableZeroization destroys a key on its first authorized read.
	EnableZeroization bool
}

// DefaultConfig returns the policy defaults.
func DefaultConfig() Config {
	return Config{
		Algorithm:          "TLS_DHE_PSK_WITH_AES_256_CBC_SHA384",
		DefaultKeySize:     256,
		MinKeySize:         128,
		MaxKeySize:         512,
		DefaultEntropyBits: 256,
		KeyExpiry:          time.Hour,
		EnableZeroization:  true,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.LocalSystemID == "" {
		return errors.New("local system ID must not be empty")
	}
	if len(c.RemoteSystemIDs) == 0 {
		return errors.New("at least one remote system ID is required")
	}
	if c.DefaultKeySize < c.MinKeySize {
		return errors.New("default key size must be >= min key size")
	}
	if c.DefaultKeySize > c.MaxKeySize {
		return errors.New("default key size must be <= max key size")
	}
	if c.KeyExpiry <= 0 {
		return errors.New("key expiry must be positive")
	}
	return nil
}
