package interfaces

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// KeyID is a 128-bit key identifier, hex-encoded on the wire and in storage.
type KeyID [16]byte

// NewKeyIDFromHex parses a 32-character hex string into a KeyID.
func NewKeyIDFromHex(source string) (KeyID, error) {
	if len(source) != 32 {
		return KeyID{}, ErrMalformedKeyID
	}

	idBytes, err := hex.DecodeString(source)
	if err != nil {
		return KeyID{}, ErrMalformedKeyID
	}

	var id KeyID
	copy(id[:], idBytes)
	return id, nil
}

// String returns the hex representation.
func (id KeyID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 16-byte identifier.
func (id KeyID) Bytes() []byte {
	return id[:]
}

// MarshalJSON encodes the ID as a hex string.
func (id KeyID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes the ID from a hex string.
func (id *KeyID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewKeyIDFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// KeyRecord is a stored symmetric key. Exactly one logical owner holds a
// record (the KeyStore); every other component works on copies and never
// retains the material beyond a single operation.
type KeyRecord struct {
	KeyID               KeyID
	Material            []byte
	OwnerRemoteSystemID string
	SizeBits            int
	CreatedAt           time.Time
	PendingSync         bool
	ReceivedFrom        string
}

// PeerStatus tracks the liveness of a configured peer.
type PeerStatus string

const (
	PeerStatusUnknown PeerStatus = "unknown"
	PeerStatusOnline  PeerStatus = "online"
	PeerStatusOffline PeerStatus = "offline"
	PeerStatusError   PeerStatus = "error"
)

// Peer is a configured remote key provider. Peers are created at
// configuration load and mutated only through the registry; removal is an
// administrative action, never automatic.
type Peer struct {
	SystemID        string          `json:"systemId"`
	Endpoint        string          `json:"endpoint"`
	Port            int             `json:"port"`
	SharedSecret    string          `json:"sharedSecret"`
	Status          PeerStatus      `json:"status"`
	LastHeartbeatAt *time.Time      `json:"lastHeartbeatAt,omitempty"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
}

// MessageType is the closed set of sync message kinds. Unknown values exist
// only at the deserialization boundary; see ParseMessageType.
type MessageType string

const (
	MessageTypeKeySync            MessageType = "key_sync"
	MessageTypeHeartbeat          MessageType = "heartbeat"
	MessageTypeCapabilityExchange MessageType = "capability_exchange"
)

// ParseMessageType validates a wire-level type string.
func ParseMessageType(s string) (MessageType, error) {
	switch t := MessageType(s); t {
	case MessageTypeKeySync, MessageTypeHeartbeat, MessageTypeCapabilityExchange:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMessageType, s)
	}
}

// SyncMessage is the envelope exchanged between key providers. It is
// constructed, signed, sent and discarded; messages are never persisted.
// The signature is an HMAC-SHA256 hex digest over the canonical encoding of
// all other fields, keyed by the receiver's view of the sender's shared
// secret.
type SyncMessage struct {
	MessageID  string          `json:"messageId"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	Type       MessageType     `json:"type"`
	Timestamp  float64         `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
	Signature  string          `json:"signature,omitempty"`
}

// KeySyncPayload carries one encrypted key record.
// ExpiresAt is recomputed from the key expiry policy at the moment of send,
// never copied from the original record.
type KeySyncPayload struct {
	KeyID               KeyID   `json:"keyId"`
	EncryptedMaterial   string  `json:"encryptedMaterial"`
	OwnerRemoteSystemID string  `json:"ownerRemoteSystemId"`
	SizeBits            int     `json:"sizeBits"`
	CreatedAt           float64 `json:"createdAt"`
	ExpiresAt           float64 `json:"expiresAt"`
}

// HeartbeatPayload is the fixed heartbeat message body.
type HeartbeatPayload struct {
	Status string `json:"status"`
}

// SyncResult is the protocol-level outcome of handling an inbound sync
// message. The transport layer converts it into a wire acknowledgement;
// protocol-level errors still travel over HTTP 200.
type SyncResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SyncOK builds a success acknowledgement.
func SyncOK(message string) SyncResult {
	return SyncResult{Status: "ok", Message: message}
}

// SyncError builds an error acknowledgement.
func SyncError(message string) SyncResult {
	return SyncResult{Status: "error", Message: message}
}

// IsOK reports whether the result acknowledges success.
func (r SyncResult) IsOK() bool {
	return r.Status == "ok"
}

var (
	// ErrInvalidKeySize is returned when a requested key size is out of the
	// configured bounds or not a multiple of 8.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrMalformedKeyID is returned when a key identifier is not a 32-character
	// hex string.
	ErrMalformedKeyID = errors.New("malformed keyId")

	// ErrKeyNotFound is returned when the requested key is not in the store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidRemoteSystem is returned when the remoteSystemID does not match
	// any configured remote system pattern.
	ErrInvalidRemoteSystem = errors.New("invalid remoteSystemID")

	// ErrUnknownPeer is returned when an inbound message names an unconfigured
	// sender.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrInvalidSignature is returned when an inbound message fails HMAC
	// verification.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMessageExpired is returned when an inbound message timestamp is
	// outside the freshness window.
	ErrMessageExpired = errors.New("message expired")

	// ErrUnknownMessageType is returned at the deserialization boundary for
	// unrecognized message kinds.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrMessageRejected is returned by a transport when the peer acknowledged
	// delivery but rejected the message at the protocol level. Rejected
	// messages are terminal: they must not be retried.
	ErrMessageRejected = errors.New("message rejected by peer")

	// ErrEntropyUnavailable is returned when the random generator cannot
	// produce the requested entropy.
	ErrEntropyUnavailable = errors.New("random generator unavailable")
)
