package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/quiin/skipd/interfaces"
	"github.com/quiin/skipd/metrics"
)

// KeyProvider implements the key lifecycle policy over a shared KeyStore.
type KeyProvider struct {
	cfg   Config
	store interfaces.KeyStore
	log   *slog.Logger

	// random and now are injectable for tests.
	random io.Reader
	now    func() time.Time
}

// New creates a key provider. The configuration must already be validated.
func New(cfg Config, store interfaces.KeyStore, log *slog.Logger) *KeyProvider {
	return &KeyProvider{
		cfg:    cfg,
		store:  store,
		log:    log,
		random: rand.Reader,
		now:    time.Now,
	}
}

// WithClock overrides the provider's clock. Intended for tests.
func (p *KeyProvider) WithClock(now func() time.Time) *KeyProvider {
	p.now = now
	return p
}

// WithRandom overrides the entropy source. Intended for tests.
func (p *KeyProvider) WithRandom(r io.Reader) *KeyProvider {
	p.random = r
	return p
}

// Config returns the provider's policy configuration.
func (p *KeyProvider) Config() Config {
	return p.cfg
}

// GeneratedKey is the result of a key generation request.
type GeneratedKey struct {
	KeyID    interfaces.KeyID
	Material []byte
}

// GenerateKey draws fresh random key material of sizeBits and persists a
// pending-sync record owned by remoteSystemID. sizeBits must be a multiple
// of 8 within the configured bounds.
func (p *KeyProvider) GenerateKey(ctx context.Context, remoteSystemID string, sizeBits int) (GeneratedKey, error) {
	if !p.ValidRemoteSystem(remoteSystemID) {
		return GeneratedKey{}, interfaces.ErrInvalidRemoteSystem
	}

	if sizeBits < p.cfg.MinKeySize || sizeBits > p.cfg.MaxKeySize || sizeBits%8 != 0 {
		return GeneratedKey{}, fmt.Errorf("%w: %d bits (bounds [%d, %d], multiple of 8)",
			interfaces.ErrInvalidKeySize, sizeBits, p.cfg.MinKeySize, p.cfg.MaxKeySize)
	}

	material := make([]byte, sizeBits/8)
	if _, err := io.ReadFull(p.random, material); err != nil {
		return GeneratedKey{}, fmt.Errorf("%w: %v", interfaces.ErrEntropyUnavailable, err)
	}

	var keyID interfaces.KeyID
	if _, err := io.ReadFull(p.random, keyID[:]); err != nil {
		return GeneratedKey{}, fmt.Errorf("%w: %v", interfaces.ErrEntropyUnavailable, err)
	}

	record := interfaces.KeyRecord{
		KeyID:               keyID,
		Material:            material,
		OwnerRemoteSystemID: remoteSystemID,
		SizeBits:            sizeBits,
		CreatedAt:           p.now(),
		PendingSync:         true,
	}
	if err := p.store.Insert(ctx, record); err != nil {
		return GeneratedKey{}, fmt.Errorf("failed to store new key: %w", err)
	}

	metrics.KeysGenerated.Inc()
	p.log.Info("New key generated", "keyID", keyID.String(), "sizeBits", sizeBits, "remoteSystemID", remoteSystemID)
	return GeneratedKey{KeyID: keyID, Material: material}, nil
}

// RetrieveKey looks up a key by its hex-encoded 128-bit identifier. When
// zeroization is enabled the record is destroyed as part of the read: the
// first successful retrieval wins, and a second one finds nothing.
func (p *KeyProvider) RetrieveKey(ctx context.Context, keyID string, remoteSystemID string) (GeneratedKey, error) {
	if !p.ValidRemoteSystem(remoteSystemID) {
		return GeneratedKey{}, interfaces.ErrInvalidRemoteSystem
	}

	id, err := interfaces.NewKeyIDFromHex(keyID)
	if err != nil {
		return GeneratedKey{}, err
	}

	var record interfaces.KeyRecord
	if p.cfg.EnableZeroization {
		record, err = p.store.Take(ctx, id)
	} else {
		record, err = p.store.GetByID(ctx, id)
	}
	if err != nil {
		return GeneratedKey{}, err
	}

	if p.cfg.EnableZeroization {
		metrics.KeysZeroized.Inc()
		p.log.Info("Key zeroized after use", "keyID", id.String())
	}
	p.log.Info("Key retrieved", "keyID", id.String(), "remoteSystemID", remoteSystemID)
	return GeneratedKey{KeyID: record.KeyID, Material: record.Material}, nil
}

// ExpireKeys removes all records older than the configured expiry. It is a
// best-effort sweep run before servicing requests; a retrieval racing the
// sweep is resolved by first successful read wins.
func (p *KeyProvider) ExpireKeys(ctx context.Context) {
	removed, err := p.store.DeleteOlderThan(ctx, p.cfg.KeyExpiry)
	if err != nil {
		p.log.Error("Failed to remove expired keys", "err", err)
		return
	}
	if removed > 0 {
		metrics.KeysExpired.Add(float64(removed))
		p.log.Info("Expired keys removed", "count", removed)
	}
}

// Entropy draws bits of random data and returns its upper-case hex
// encoding. bits must be a multiple of 8 within [8, 2048].
func (p *KeyProvider) Entropy(bits int) (string, error) {
	if bits < 8 || bits > 2048 || bits%8 != 0 {
		return "", fmt.Errorf("%w: minentropy %d (bounds [8, 2048], multiple of 8)",
			interfaces.ErrInvalidKeySize, bits)
	}

	buf := make([]byte, bits/8)
	if _, err := io.ReadFull(p.random, buf); err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrEntropyUnavailable, err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// Capabilities describes what this key provider offers.
type Capabilities struct {
	Entropy        bool     `json:"entropy"`
	Key            bool     `json:"key"`
	Algorithm      string   `json:"algorithm"`
	LocalSystemID  string   `json:"localSystemID"`
	RemoteSystemID []string `json:"remoteSystemID"`
}

// Capabilities returns the capability description served on /capabilities.
func (p *KeyProvider) Capabilities() Capabilities {
	return Capabilities{
		Entropy:        true,
		Key:            true,
		Algorithm:      p.cfg.Algorithm,
		LocalSystemID:  p.cfg.LocalSystemID,
		RemoteSystemID: p.cfg.RemoteSystemIDs,
	}
}

// ValidRemoteSystem reports whether the remote system ID matches one of the
// configured IDs. Entries may use * glob patterns.
func (p *KeyProvider) ValidRemoteSystem(remoteSystemID string) bool {
	if remoteSystemID == "" {
		return false
	}
	for _, valid := range p.cfg.RemoteSystemIDs {
		if valid == remoteSystemID {
			return true
		}
		if strings.Contains(valid, "*") {
			if ok, err := path.Match(valid, remoteSystemID); err == nil && ok {
				return true
			}
		}
	}
	return false
}
