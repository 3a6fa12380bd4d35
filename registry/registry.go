package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quiin/skipd/interfaces"
)

// PeerRegistry is the authoritative table of configured peers. It is safe
// for concurrent use from the synchronizer loops and inbound handlers.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]*interfaces.Peer
	log   *slog.Logger
}

// NewPeerRegistry creates an empty registry.
func NewPeerRegistry(log *slog.Logger) *PeerRegistry {
	return &PeerRegistry{
		peers: make(map[string]*interfaces.Peer),
		log:   log,
	}
}

// AddPeer registers a peer for synchronization. New peers start in the
// unknown state until the first heartbeat outcome.
func (r *PeerRegistry) AddPeer(systemID, endpoint string, port int, sharedSecret string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers[systemID] = &interfaces.Peer{
		SystemID:     systemID,
		Endpoint:     endpoint,
		Port:         port,
		SharedSecret: sharedSecret,
		Status:       interfaces.PeerStatusUnknown,
	}
	r.log.Info("Peer KP added", "systemID", systemID, "endpoint", endpoint, "port", port)
}

// RemovePeer deletes a peer. This is an administrative action.
func (r *PeerRegistry) RemovePeer(systemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[systemID]; ok {
		delete(r.peers, systemID)
		r.log.Info("Peer KP removed", "systemID", systemID)
	}
}

// Get returns a copy of the peer, or ErrUnknownPeer.
func (r *PeerRegistry) Get(systemID string) (interfaces.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.peers[systemID]
	if !ok {
		return interfaces.Peer{}, fmt.Errorf("%w: %s", interfaces.ErrUnknownPeer, systemID)
	}
	return *peer, nil
}

// List returns copies of all configured peers.
func (r *PeerRegistry) List() []interfaces.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]interfaces.Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, *peer)
	}
	return peers
}

// ListOnline returns copies of peers currently in the online state. Only
// online peers are eligible for key-sync; heartbeats still reach every peer
// so that offline and errored peers can recover.
func (r *PeerRegistry) ListOnline() []interfaces.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]interfaces.Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		if peer.Status == interfaces.PeerStatusOnline {
			peers = append(peers, *peer)
		}
	}
	return peers
}

// MarkOnline records a successful heartbeat or key push.
func (r *PeerRegistry) MarkOnline(systemID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[systemID]
	if !ok {
		return
	}
	peer.Status = interfaces.PeerStatusOnline
	peer.LastHeartbeatAt = &at
}

// MarkReachable records a successful key push. The peer becomes online but
// the heartbeat timestamp is left to the heartbeat loop.
func (r *PeerRegistry) MarkReachable(systemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[systemID]
	if !ok {
		return
	}
	peer.Status = interfaces.PeerStatusOnline
}

// MarkOffline records a heartbeat failure.
func (r *PeerRegistry) MarkOffline(systemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[systemID]
	if !ok {
		return
	}
	peer.Status = interfaces.PeerStatusOffline
	peer.LastHeartbeatAt = nil
}

// MarkError records a failure during a key-sync attempt, distinct from a
// plain connectivity failure.
func (r *PeerRegistry) MarkError(systemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[systemID]
	if !ok {
		return
	}
	peer.Status = interfaces.PeerStatusError
}

// SetCapabilities stores the peer's last-seen capability set.
func (r *PeerRegistry) SetCapabilities(systemID string, capabilities json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[systemID]
	if !ok {
		return
	}
	peer.Capabilities = append(json.RawMessage(nil), capabilities...)
}

// PeerInfo is the diagnostic view of one peer exposed on the sync status
// endpoint. The shared secret never leaves the registry.
type PeerInfo struct {
	Endpoint        string          `json:"endpoint"`
	Status          string          `json:"status"`
	LastHeartbeatAt *float64        `json:"lastHeartbeat,omitempty"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
}

// Status returns the diagnostic view of every configured peer, keyed by
// system ID.
func (r *PeerRegistry) Status() map[string]PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]PeerInfo, len(r.peers))
	for systemID, peer := range r.peers {
		info := PeerInfo{
			Endpoint:     fmt.Sprintf("%s:%d", peer.Endpoint, peer.Port),
			Status:       string(peer.Status),
			Capabilities: peer.Capabilities,
		}
		if peer.LastHeartbeatAt != nil {
			ts := float64(peer.LastHeartbeatAt.UnixNano()) / float64(time.Second)
			info.LastHeartbeatAt = &ts
		}
		status[systemID] = info
	}
	return status
}

// LoadPeers loads peer configuration from a JSON document.
//
// The document must contain a "peers" array with entries that include:
//   - "systemId": unique system identifier of the peer
//   - "endpoint": hostname or address
//   - "port": sync port
//   - "sharedSecret": per-peer secret used for message authentication
func LoadPeers(r io.Reader) ([]interfaces.Peer, error) {
	var data struct {
		Peers []struct {
			SystemID     string `json:"systemId"`
			Endpoint     string `json:"endpoint"`
			Port         int    `json:"port"`
			SharedSecret string `json:"sharedSecret"`
		} `json:"peers"`
	}

	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode peers JSON: %w", err)
	}

	peers := make([]interfaces.Peer, 0, len(data.Peers))
	for _, p := range data.Peers {
		if p.SystemID == "" || p.Endpoint == "" || p.Port == 0 {
			return nil, fmt.Errorf("incomplete peer entry: %+v", p)
		}
		if p.SharedSecret == "" {
			return nil, fmt.Errorf("peer %s has no shared secret", p.SystemID)
		}
		peers = append(peers, interfaces.Peer{
			SystemID:     p.SystemID,
			Endpoint:     p.Endpoint,
			Port:         p.Port,
			SharedSecret: p.SharedSecret,
			Status:       interfaces.PeerStatusUnknown,
		})
	}
	return peers, nil
}
