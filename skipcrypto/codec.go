package skipcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/quiin/skipd/interfaces"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfSalt is the fixed application-wide KDF salt. Every node in the
	// deployment uses the same salt; the derived key varies only with the
	// local system ID.
	kdfSalt = "skip_sync_salt_2024"

	kdfIterations = 100000
	cipherKeyLen  = 32

	gcmNonceSize = 12
)

// DeriveLocalCipherKey derives the node's 256-bit transport cipher key from
// its system identifier using PBKDF2-SHA256.
func DeriveLocalCipherKey(localSystemID string) []byte {
	password := []byte(localSystemID + "_sync_key")
	return pbkdf2.Key(password, []byte(kdfSalt), kdfIterations, cipherKeyLen, sha256.New)
}

// Codec encrypts and decrypts key material for transport using the local
// node cipher key. A Codec is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a codec for the given local system identifier.
func NewCodec(localSystemID string) (*Codec, error) {
	return NewCodecWithKey(DeriveLocalCipherKey(localSystemID))
}

// NewCodecWithKey creates a codec from a raw 256-bit cipher key.
func NewCodecWithKey(cipherKey []byte) (*Codec, error) {
	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// EncryptMaterial encrypts key material with AES-256-GCM and returns the
// base64 encoding of nonce||ciphertext. A fresh nonce is drawn per call.
func (c *Codec) EncryptMaterial(material []byte) (string, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, material, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptMaterial reverses EncryptMaterial, verifying the authentication tag.
func (c *Codec) DecryptMaterial(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 material: %w", err)
	}

	if len(sealed) < gcmNonceSize {
		return nil, errors.New("encrypted material too short")
	}

	material, err := c.aead.Open(nil, sealed[:gcmNonceSize], sealed[gcmNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt material: %w", err)
	}
	return material, nil
}

// canonicalMessage produces the deterministic serialization used as signing
// input: a JSON object with lexically sorted keys and the signature field
// cleared. The payload is embedded as its decoded value so that key order
// inside the payload is canonical as well.
func canonicalMessage(message *interfaces.SyncMessage) ([]byte, error) {
	var payload any
	if len(message.Payload) > 0 {
		if err := json.Unmarshal(message.Payload, &payload); err != nil {
			return nil, fmt.Errorf("invalid message payload: %w", err)
		}
	}

	// json.Marshal emits map keys in sorted order.
	return json.Marshal(map[string]any{
		"messageId":  message.MessageID,
		"senderId":   message.SenderID,
		"receiverId": message.ReceiverID,
		"type":       string(message.Type),
		"timestamp":  message.Timestamp,
		"payload":    payload,
		"signature":  nil,
	})
}

// SignMessage computes the HMAC-SHA256 hex digest of the canonical message
// encoding, keyed by the shared secret configured for the receiving peer.
func SignMessage(message *interfaces.SyncMessage, sharedSecret string) (string, error) {
	canonical, err := canonicalMessage(message)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(sharedSecret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks a message signature in constant time. It returns
// false on any mismatch or malformed input, never an error.
func VerifySignature(message *interfaces.SyncMessage, sharedSecret string) bool {
	if message.Signature == "" {
		return false
	}

	expected, err := SignMessage(message, sharedSecret)
	if err != nil {
		return false
	}

	return hmac.Equal([]byte(message.Signature), []byte(expected))
}
