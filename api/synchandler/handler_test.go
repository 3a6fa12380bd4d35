package synchandler

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiin/skipd/interfaces"
	"github.com/quiin/skipd/registry"
	"github.com/quiin/skipd/skipcrypto"
	"github.com/quiin/skipd/storage"
	"github.com/quiin/skipd/syncer"
)

// node bundles one synchronizer with its store and registry for wire tests.
type node struct {
	sync  *syncer.Synchronizer
	store *storage.MemoryStore
	reg   *registry.PeerRegistry
}

func newNode(t *testing.T, systemID string, cipherKey []byte, tr interfaces.Transport) *node {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore(log)
	reg := registry.NewPeerRegistry(log)

	codec, err := skipcrypto.NewCodecWithKey(cipherKey)
	require.NoError(t, err)

	cfg := syncer.DefaultConfig()
	cfg.LocalSystemID = systemID
	return &node{
		sync:  syncer.New(cfg, store, reg, codec, tr, log),
		store: store,
		reg:   reg,
	}
}

func serveNode(t *testing.T, n *node) (host string, port int) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	NewHandler(n.sync, log).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err = strconv.Atoi(parsed.Port())
	require.NoError(t, err)
	return parsed.Hostname(), port
}

func signedMessage(t *testing.T, sender, receiver, secret string, msgType interfaces.MessageType, payload json.RawMessage) *interfaces.SyncMessage {
	t.Helper()

	message := &interfaces.SyncMessage{
		MessageID:  uuid.NewString(),
		SenderID:   sender,
		ReceiverID: receiver,
		Type:       msgType,
		Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
		Payload:    payload,
	}
	signature, err := skipcrypto.SignMessage(message, secret)
	require.NoError(t, err)
	message.Signature = signature
	return message
}

func TestHandleSyncMalformedBody(t *testing.T) {
	n := newNode(t, "KP_Primary", skipcrypto.DeriveLocalCipherKey("KP_Primary"), nil)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	NewHandler(n.sync, log).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader("{not json")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var result interfaces.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.IsOK())
}

func TestHandleSyncUnknownType(t *testing.T) {
	n := newNode(t, "KP_Primary", skipcrypto.DeriveLocalCipherKey("KP_Primary"), nil)
	n.reg.AddPeer("KP_Backup", "backup.example", 8443, "secret")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	NewHandler(n.sync, log).RegisterRoutes(router)

	msg := signedMessage(t, "KP_Backup", "KP_Primary", "secret", interfaces.MessageType("key_revoke"), json.RawMessage(`{}`))
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(string(body))))

	// Protocol-level rejection still answers 200.
	require.Equal(t, http.StatusOK, rec.Code)
	var result interfaces.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.IsOK())
	assert.Equal(t, "Unknown message type", result.Message)
}

func TestHandleSyncHeartbeat(t *testing.T) {
	n := newNode(t, "KP_Primary", skipcrypto.DeriveLocalCipherKey("KP_Primary"), nil)
	n.reg.AddPeer("KP_Backup", "backup.example", 8443, "secret")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	NewHandler(n.sync, log).RegisterRoutes(router)

	msg := signedMessage(t, "KP_Backup", "KP_Primary", "secret", interfaces.MessageTypeHeartbeat, json.RawMessage(`{"status":"online"}`))
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code)

	var result interfaces.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.IsOK())
	assert.Equal(t, "Heartbeat acknowledged", result.Message)

	peer, err := n.reg.Get("KP_Backup")
	require.NoError(t, err)
	assert.Equal(t, interfaces.PeerStatusOnline, peer.Status)
}

func TestClientRejectionIsErrMessageRejected(t *testing.T) {
	n := newNode(t, "KP_Backup", skipcrypto.DeriveLocalCipherKey("KP_Backup"), nil)
	// No peers registered: every message is rejected as unknown peer.
	host, port := serveNode(t, n)

	client := NewClient("KP_Primary")
	peer := interfaces.Peer{SystemID: "KP_Backup", Endpoint: host, Port: port, SharedSecret: "secret"}
	msg := signedMessage(t, "KP_Primary", "KP_Backup", "secret", interfaces.MessageTypeHeartbeat, json.RawMessage(`{"status":"online"}`))

	err := client.Send(context.Background(), peer, msg)
	require.ErrorIs(t, err, interfaces.ErrMessageRejected)
	assert.Contains(t, err.Error(), "Unknown peer")
}

func TestClientTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	client := NewClient("KP_Primary")
	peer := interfaces.Peer{SystemID: "KP_Backup", Endpoint: parsed.Hostname(), Port: port, SharedSecret: "secret"}
	msg := signedMessage(t, "KP_Primary", "KP_Backup", "secret", interfaces.MessageTypeHeartbeat, json.RawMessage(`{"status":"online"}`))

	err = client.Send(context.Background(), peer, msg)
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrMessageRejected)
}

func TestClientSetsDiagnosticHeaders(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interfaces.SyncOK("Heartbeat acknowledged"))
	}))
	defer server.Close()

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	client := NewClient("KP_Primary")
	peer := interfaces.Peer{SystemID: "KP_Backup", Endpoint: parsed.Hostname(), Port: port, SharedSecret: "secret"}
	msg := signedMessage(t, "KP_Primary", "KP_Backup", "secret", interfaces.MessageTypeHeartbeat, json.RawMessage(`{"status":"online"}`))

	require.NoError(t, client.Send(context.Background(), peer, msg))
	assert.Equal(t, "SKIP-Sync/KP_Primary", gotHeaders.Get("User-Agent"))
	assert.Equal(t, "1.0", gotHeaders.Get("X-SKIP-Version"))
	assert.Equal(t, "KP_Primary", gotHeaders.Get("X-SKIP-Sender"))
	assert.Contains(t, gotHeaders.Get("Content-Type"), "application/json")
}

func TestTwoNodesOverHTTP(t *testing.T) {
	// Both nodes share the material cipher key, as a deployment with a
	// common cipher identity would.
	cipherKey := skipcrypto.DeriveLocalCipherKey("KP_Cluster")

	nodeB := newNode(t, "KP_Backup", cipherKey, nil)
	nodeB.reg.AddPeer("KP_Primary", "primary.example", 8443, "shared_secret")
	host, port := serveNode(t, nodeB)

	nodeA := newNode(t, "KP_Primary", cipherKey, NewClient("KP_Primary"))
	nodeA.reg.AddPeer("KP_Backup", host, port, "shared_secret")

	require.NoError(t, nodeA.sync.SendHeartbeats(context.Background()))
	peer, err := nodeA.reg.Get("KP_Backup")
	require.NoError(t, err)
	require.Equal(t, interfaces.PeerStatusOnline, peer.Status)

	material := make([]byte, 32)
	_, err = rand.Read(material)
	require.NoError(t, err)
	keyID, err := interfaces.NewKeyIDFromHex("deadbeefdeadbeefdeadbeefdeadbeef")
	require.NoError(t, err)
	require.NoError(t, nodeA.store.Insert(context.Background(), interfaces.KeyRecord{
		KeyID:               keyID,
		Material:            material,
		OwnerRemoteSystemID: "KP_Backup",
		SizeBits:            256,
		CreatedAt:           time.Now(),
		PendingSync:         true,
	}))

	require.NoError(t, nodeA.sync.SyncWithPeers(context.Background()))

	record, err := nodeB.store.GetByID(context.Background(), keyID)
	require.NoError(t, err)
	assert.Equal(t, material, record.Material)
	assert.Equal(t, "KP_Primary", record.ReceivedFrom)
	assert.False(t, record.PendingSync)
}
