package skipcrypto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/quiin/skipd/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveLocalCipherKey(t *testing.T) {
	key := DeriveLocalCipherKey("KP_Test_Node1")
	require.Len(t, key, 32)

	// Deterministic for the same system ID, distinct across IDs.
	assert.Equal(t, key, DeriveLocalCipherKey("KP_Test_Node1"))
	assert.NotEqual(t, key, DeriveLocalCipherKey("KP_Test_Node2"))
}

func TestEncryptDecryptMaterial(t *testing.T) {
	codec, err := NewCodec("KP_Test_Node1")
	require.NoError(t, err)

	testCases := []struct {
		name     string
		material []byte
	}{
		{
			name:     "128-bit key",
			material: []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f},
		},
		{
			name:     "256-bit key",
			material: make([]byte, 32),
		},
		{
			name:     "512-bit key",
			material: make([]byte, 64),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encrypted, err := codec.EncryptMaterial(tc.material)
			require.NoError(t, err)

			decrypted, err := codec.DecryptMaterial(encrypted)
			require.NoError(t, err)
			require.Equal(t, tc.material, decrypted)
		})
	}
}

func TestDecryptMaterialWrongNode(t *testing.T) {
	codecA, err := NewCodec("KP_Node_A")
	require.NoError(t, err)
	codecB, err := NewCodec("KP_Node_B")
	require.NoError(t, err)

	encrypted, err := codecA.EncryptMaterial([]byte("some key material"))
	require.NoError(t, err)

	_, err = codecB.DecryptMaterial(encrypted)
	require.Error(t, err)
}

func TestDecryptMaterialMalformed(t *testing.T) {
	codec, err := NewCodec("KP_Node_A")
	require.NoError(t, err)

	_, err = codec.DecryptMaterial("not base64!!")
	require.Error(t, err)

	_, err = codec.DecryptMaterial("c2hvcnQ=") // valid base64, shorter than a nonce
	require.Error(t, err)
}

func testMessage(t *testing.T) *interfaces.SyncMessage {
	t.Helper()

	payload, err := json.Marshal(interfaces.HeartbeatPayload{Status: "online"})
	require.NoError(t, err)

	return &interfaces.SyncMessage{
		MessageID:  "8e7a1f0c-9a55-4a57-8e0e-0df0266e56c2",
		SenderID:   "KP_Node_A",
		ReceiverID: "KP_Node_B",
		Type:       interfaces.MessageTypeHeartbeat,
		Timestamp:  float64(time.Now().Unix()),
		Payload:    payload,
	}
}

func TestSignVerifyRoundtrip(t *testing.T) {
	msg := testMessage(t)

	sig, err := SignMessage(msg, "shared-secret-1")
	require.NoError(t, err)
	require.Len(t, sig, 64) // hex SHA-256 digest

	msg.Signature = sig
	assert.True(t, VerifySignature(msg, "shared-secret-1"))
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	msg := testMessage(t)

	sig, err := SignMessage(msg, "shared-secret-1")
	require.NoError(t, err)
	msg.Signature = sig

	assert.False(t, VerifySignature(msg, "shared-secret-2"))
}

func TestVerifySignatureMutatedFields(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*interfaces.SyncMessage)
	}{
		{"messageId", func(m *interfaces.SyncMessage) { m.MessageID = "tampered" }},
		{"senderId", func(m *interfaces.SyncMessage) { m.SenderID = "KP_Evil" }},
		{"receiverId", func(m *interfaces.SyncMessage) { m.ReceiverID = "KP_Evil" }},
		{"type", func(m *interfaces.SyncMessage) { m.Type = interfaces.MessageTypeKeySync }},
		{"timestamp", func(m *interfaces.SyncMessage) { m.Timestamp += 1 }},
		{"payload", func(m *interfaces.SyncMessage) { m.Payload = []byte(`{"status":"offline"}`) }},
	}

	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			msg := testMessage(t)
			sig, err := SignMessage(msg, "shared-secret-1")
			require.NoError(t, err)
			msg.Signature = sig

			tc.mutate(msg)
			assert.False(t, VerifySignature(msg, "shared-secret-1"))
		})
	}
}

func TestVerifySignatureMissing(t *testing.T) {
	msg := testMessage(t)
	assert.False(t, VerifySignature(msg, "shared-secret-1"))
}

func TestCanonicalMessageStable(t *testing.T) {
	msg := testMessage(t)

	first, err := canonicalMessage(msg)
	require.NoError(t, err)
	second, err := canonicalMessage(msg)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// The signature field never contributes to the canonical form.
	msg.Signature = "deadbeef"
	signed, err := canonicalMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, first, signed)
}
