package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quiin/skipd/interfaces"
	"github.com/quiin/skipd/metrics"
	"github.com/quiin/skipd/registry"
	"github.com/quiin/skipd/skipcrypto"
)

// loopRetryDelay is how long a loop sleeps after an iteration-level error
// before trying again. The loops run for the life of the process and never
// terminate on iteration errors.
const loopRetryDelay = 5 * time.Second

// Config carries the synchronizer's timing and retry parameters.
type Config struct {
	LocalSystemID     string
	Enabled           bool
	SyncInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxRetryAttempts  int
	SyncTimeout       time.Duration

	// KeyExpiry is used to recompute expiresAt on outbound key payloads.
	KeyExpiry time.Duration
}

// DefaultConfig returns the synchronization defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		SyncInterval:      30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		MaxRetryAttempts:  3,
		SyncTimeout:       10 * time.Second,
		KeyExpiry:         time.Hour,
	}
}

// Synchronizer orchestrates the key-sync and heartbeat loops and handles
// inbound peer messages. It owns no key or peer state itself; all shared
// state lives in the KeyStore and PeerRegistry, which are safe for the
// loops and inbound handlers to touch concurrently.
type Synchronizer struct {
	cfg      Config
	store    interfaces.KeyStore
	registry *registry.PeerRegistry
	codec    *skipcrypto.Codec
	tr       interfaces.Transport
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// now and backoff are injectable for tests.
	now     func() time.Time
	backoff func(attempt int) time.Duration
}

// New creates a synchronizer over the shared store and registry.
func New(cfg Config, store interfaces.KeyStore, reg *registry.PeerRegistry, codec *skipcrypto.Codec, tr interfaces.Transport, log *slog.Logger) *Synchronizer {
	return &Synchronizer{
		cfg:      cfg,
		store:    store,
		registry: reg,
		codec:    codec,
		tr:       tr,
		log:      log,
		now:      time.Now,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1+attempt) * time.Second
		},
	}
}

// Start launches the key-sync and heartbeat loops. It is a no-op when
// synchronization is disabled, and both loops run until Stop is called or
// the parent context is cancelled.
func (s *Synchronizer) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("Synchronization disabled")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return // already running
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.runLoop(ctx, "key-sync", s.cfg.SyncInterval, s.SyncWithPeers)
	go s.runLoop(ctx, "heartbeat", s.cfg.HeartbeatInterval, s.SendHeartbeats)
	s.log.Info("Synchronizer started", "localSystemID", s.cfg.LocalSystemID)
}

// Stop cancels both loops and waits for in-flight iterations to abandon
// their work. Partial sends are safe to abandon: the affected records stay
// pending and sync is idempotent by key ID.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.log.Info("Synchronizer stopped")
}

func (s *Synchronizer) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("Loop iteration failed", "loop", name, "err", err)
			if !sleepCtx(ctx, loopRetryDelay) {
				return
			}
		}

		select {
		case <-ctx.Done():
			s.log.Info("Loop cancelled", "loop", name)
			return
		case <-ticker.C:
		}
	}
}

// SyncWithPeers runs one key-sync cycle: a fan-out over all online peers
// and a fan-in barrier before the cycle ends. One peer's failure never
// aborts another's attempt.
func (s *Synchronizer) SyncWithPeers(ctx context.Context) error {
	peers := s.registry.ListOnline()
	if len(peers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer interfaces.Peer) {
			defer wg.Done()
			s.syncWithPeer(ctx, peer)
		}(peer)
	}
	wg.Wait()
	return nil
}

func (s *Synchronizer) syncWithPeer(ctx context.Context, peer interfaces.Peer) {
	pending, err := s.store.FindPendingFor(ctx, peer.SystemID)
	if err != nil {
		s.log.Error("Failed to gather pending keys", "peer", peer.SystemID, "err", err)
		s.registry.MarkError(peer.SystemID)
		metrics.ObservePeerStatus(peer.SystemID, string(interfaces.PeerStatusError))
		return
	}

	for _, record := range pending {
		err := s.sendKeyToPeer(ctx, peer, record)
		switch {
		case err == nil:
			if err := s.store.MarkSynced(ctx, record.KeyID); err != nil {
				s.log.Error("Failed to clear pending-sync flag", "keyID", record.KeyID.String(), "err", err)
				continue
			}
			s.registry.MarkReachable(peer.SystemID)
			s.log.Info("Key synchronized with peer", "keyID", record.KeyID.String(), "peer", peer.SystemID)

		case errors.Is(err, interfaces.ErrMessageRejected):
			// Terminal for this message; the record stays pending but the
			// peer is reachable, so keep trying the rest of the batch.
			s.log.Warn("Peer rejected key sync", "keyID", record.KeyID.String(), "peer", peer.SystemID, "err", err)

		default:
			// Transport failure: the record stays pending for a future cycle
			// and the rest of this peer's batch is abandoned.
			s.log.Error("Failed to sync key with peer", "keyID", record.KeyID.String(), "peer", peer.SystemID, "err", err)
			s.registry.MarkError(peer.SystemID)
			metrics.ObservePeerStatus(peer.SystemID, string(interfaces.PeerStatusError))
			return
		}
	}
}

func (s *Synchronizer) sendKeyToPeer(ctx context.Context, peer interfaces.Peer, record interfaces.KeyRecord) error {
	encrypted, err := s.codec.EncryptMaterial(record.Material)
	if err != nil {
		return fmt.Errorf("failed to encrypt key material: %w", err)
	}

	createdAt := unixSeconds(record.CreatedAt)
	payload, err := json.Marshal(interfaces.KeySyncPayload{
		KeyID:               record.KeyID,
		EncryptedMaterial:   encrypted,
		OwnerRemoteSystemID: record.OwnerRemoteSystemID,
		SizeBits:            record.SizeBits,
		CreatedAt:           createdAt,
		// Recomputed at send time from the expiry policy, never copied
		// from a previous payload.
		ExpiresAt: createdAt + s.cfg.KeyExpiry.Seconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode key sync payload: %w", err)
	}

	message, err := s.newMessage(peer, interfaces.MessageTypeKeySync, payload)
	if err != nil {
		return err
	}

	err = s.sendWithRetry(ctx, peer, message)
	s.observeSent(interfaces.MessageTypeKeySync, err)
	return err
}

// SendHeartbeats runs one heartbeat cycle over every configured peer
// regardless of its current status; a successful heartbeat is the only
// recovery path for offline and errored peers.
func (s *Synchronizer) SendHeartbeats(ctx context.Context) error {
	peers := s.registry.List()
	if len(peers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer interfaces.Peer) {
			defer wg.Done()
			s.sendHeartbeatToPeer(ctx, peer)
		}(peer)
	}
	wg.Wait()
	return nil
}

func (s *Synchronizer) sendHeartbeatToPeer(ctx context.Context, peer interfaces.Peer) {
	payload, err := json.Marshal(interfaces.HeartbeatPayload{Status: "online"})
	if err != nil {
		s.log.Error("Failed to encode heartbeat payload", "err", err)
		return
	}

	message, err := s.newMessage(peer, interfaces.MessageTypeHeartbeat, payload)
	if err != nil {
		s.log.Error("Failed to build heartbeat", "peer", peer.SystemID, "err", err)
		return
	}

	err = s.sendWithRetry(ctx, peer, message)
	s.observeSent(interfaces.MessageTypeHeartbeat, err)
	if err != nil {
		s.log.Warn("Heartbeat failed", "peer", peer.SystemID, "err", err)
		s.registry.MarkOffline(peer.SystemID)
		metrics.ObservePeerStatus(peer.SystemID, string(interfaces.PeerStatusOffline))
		return
	}

	s.registry.MarkOnline(peer.SystemID, s.now())
	metrics.ObservePeerStatus(peer.SystemID, string(interfaces.PeerStatusOnline))
}

// sendWithRetry pushes one message with bounded linear backoff. Timeout,
// connection and protocol transport errors are treated identically; a
// protocol-level rejection by the peer is terminal and never retried.
func (s *Synchronizer) sendWithRetry(ctx context.Context, peer interfaces.Peer, message *interfaces.SyncMessage) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetryAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
		err := s.tr.Send(sendCtx, peer, message)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, interfaces.ErrMessageRejected) {
			return err
		}

		lastErr = err
		s.log.Warn("Send attempt failed", "peer", peer.SystemID, "attempt", attempt+1, "err", err)

		if attempt < s.cfg.MaxRetryAttempts-1 {
			if !sleepCtx(ctx, s.backoff(attempt)) {
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", s.cfg.MaxRetryAttempts, lastErr)
}

func (s *Synchronizer) newMessage(peer interfaces.Peer, msgType interfaces.MessageType, payload json.RawMessage) (*interfaces.SyncMessage, error) {
	message := &interfaces.SyncMessage{
		MessageID:  uuid.NewString(),
		SenderID:   s.cfg.LocalSystemID,
		ReceiverID: peer.SystemID,
		Type:       msgType,
		Timestamp:  unixSeconds(s.now()),
		Payload:    payload,
	}

	signature, err := skipcrypto.SignMessage(message, peer.SharedSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	message.Signature = signature
	return message, nil
}

// Status describes the synchronizer for the diagnostics endpoint.
type Status struct {
	SyncEnabled   bool                         `json:"sync_enabled"`
	LocalSystemID string                       `json:"local_system_id"`
	PeerCount     int                          `json:"peer_count"`
	Peers         map[string]registry.PeerInfo `json:"peers"`
}

// Status returns the current synchronization status snapshot.
func (s *Synchronizer) Status() Status {
	peers := s.registry.Status()
	return Status{
		SyncEnabled:   s.cfg.Enabled,
		LocalSystemID: s.cfg.LocalSystemID,
		PeerCount:     len(peers),
		Peers:         peers,
	}
}

func (s *Synchronizer) observeSent(msgType interfaces.MessageType, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SyncMessagesSent.WithLabelValues(string(msgType), result).Inc()
}

// sleepCtx sleeps for d unless the context is cancelled first. It reports
// whether the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
