package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/quiin/skipd/interfaces"
)

// Factory creates key stores from location URI strings.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a new factory instance.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StoreFor creates a key store from a location URI.
//
// Supported schemes:
//   - mem:// - In-process storage, lost on restart
//   - postgres:// - PostgreSQL via pgx (the full URI is passed to the driver)
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) StoreFor(ctx context.Context, locationURI string) (interfaces.KeyStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid store location URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemoryStore(f.log), nil
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, locationURI, f.log)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", u.Scheme)
	}
}
