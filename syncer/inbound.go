package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quiin/skipd/interfaces"
	"github.com/quiin/skipd/metrics"
	"github.com/quiin/skipd/skipcrypto"
)

// maxClockSkew is the freshness window for inbound messages. Anything
// older or newer is rejected as a replay or clock-skew artifact, no matter
// how valid its signature is.
const maxClockSkew = 300 * time.Second

// HandleMessage runs the inbound validation pipeline and dispatches the
// message by type. The returned result is always a protocol-level
// acknowledgement; validation failures are reported to the caller for the
// wire response but never back to the original sender in detail, and they
// are terminal for the message.
func (s *Synchronizer) HandleMessage(ctx context.Context, message *interfaces.SyncMessage) interfaces.SyncResult {
	result := s.handleMessage(ctx, message)
	s.observeReceived(message.Type, result)
	return result
}

func (s *Synchronizer) handleMessage(ctx context.Context, message *interfaces.SyncMessage) interfaces.SyncResult {
	peer, err := s.registry.Get(message.SenderID)
	if err != nil {
		s.log.Warn("Message from unknown peer", "senderID", message.SenderID)
		return interfaces.SyncError("Unknown peer")
	}

	if !skipcrypto.VerifySignature(message, peer.SharedSecret) {
		s.log.Warn("Invalid message signature", "senderID", message.SenderID)
		return interfaces.SyncError("Invalid signature")
	}

	skew := unixSeconds(s.now()) - message.Timestamp
	if skew > maxClockSkew.Seconds() || -skew > maxClockSkew.Seconds() {
		s.log.Warn("Expired message", "senderID", message.SenderID, "skewSeconds", skew)
		return interfaces.SyncError("Message expired")
	}

	switch message.Type {
	case interfaces.MessageTypeHeartbeat:
		return s.handleHeartbeat(message)
	case interfaces.MessageTypeKeySync:
		return s.handleKeySync(ctx, message)
	case interfaces.MessageTypeCapabilityExchange:
		return s.handleCapabilityExchange(message)
	default:
		// Only reachable for messages that bypassed ParseMessageType at the
		// deserialization boundary.
		s.log.Warn("Unknown message type", "type", string(message.Type))
		return interfaces.SyncError("Unknown message type")
	}
}

func (s *Synchronizer) handleHeartbeat(message *interfaces.SyncMessage) interfaces.SyncResult {
	s.registry.MarkOnline(message.SenderID, s.now())
	metrics.ObservePeerStatus(message.SenderID, string(interfaces.PeerStatusOnline))
	s.log.Debug("Heartbeat received", "peer", message.SenderID)
	return interfaces.SyncOK("Heartbeat acknowledged")
}

func (s *Synchronizer) handleKeySync(ctx context.Context, message *interfaces.SyncMessage) interfaces.SyncResult {
	var payload interfaces.KeySyncPayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		s.log.Warn("Malformed key sync payload", "peer", message.SenderID, "err", err)
		return interfaces.SyncError("Malformed key sync payload")
	}

	material, err := s.codec.DecryptMaterial(payload.EncryptedMaterial)
	if err != nil {
		s.log.Warn("Failed to decrypt key material", "peer", message.SenderID, "keyID", payload.KeyID.String(), "err", err)
		return interfaces.SyncError("Failed to decrypt key material")
	}

	record := interfaces.KeyRecord{
		KeyID:               payload.KeyID,
		Material:            material,
		OwnerRemoteSystemID: payload.OwnerRemoteSystemID,
		SizeBits:            payload.SizeBits,
		CreatedAt:           timeFromUnixSeconds(payload.CreatedAt),
		PendingSync:         false,
		ReceivedFrom:        message.SenderID,
	}
	if err := s.store.Insert(ctx, record); err != nil {
		s.log.Error("Failed to store synchronized key", "keyID", payload.KeyID.String(), "err", err)
		return interfaces.SyncError("Failed to store key")
	}

	s.log.Info("Key received from peer", "keyID", payload.KeyID.String(), "peer", message.SenderID)
	return interfaces.SyncOK("Key synchronized")
}

func (s *Synchronizer) handleCapabilityExchange(message *interfaces.SyncMessage) interfaces.SyncResult {
	s.registry.SetCapabilities(message.SenderID, message.Payload)
	s.log.Info("Peer capabilities updated", "peer", message.SenderID)
	return interfaces.SyncOK("Capabilities updated")
}

func (s *Synchronizer) observeReceived(msgType interfaces.MessageType, result interfaces.SyncResult) {
	label := "ok"
	if !result.IsOK() {
		label = "error"
	}
	metrics.SyncMessagesReceived.WithLabelValues(string(msgType), label).Inc()
}

func timeFromUnixSeconds(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second)))
}
