package kphandler

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/quiin/skipd/interfaces"
	"github.com/quiin/skipd/provider"
	"github.com/quiin/skipd/syncer"
)

// SyncStatusReporter exposes the synchronization snapshot for the
// diagnostics endpoint.
type SyncStatusReporter interface {
	Status() syncer.Status
}

// Handler serves the key provider HTTP surface: capability discovery, key
// generation and retrieval, and entropy requests. Expired keys are swept
// before every key and entropy request so a caller can never observe a key
// past its lifetime.
type Handler struct {
	provider *provider.KeyProvider
	sync     SyncStatusReporter
	log      *slog.Logger
}

// NewHandler creates an HTTP handler over the key provider. The sync
// reporter may be nil when synchronization is not configured.
func NewHandler(kp *provider.KeyProvider, sync SyncStatusReporter, log *slog.Logger) *Handler {
	return &Handler{
		provider: kp,
		sync:     sync,
		log:      log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/capabilities", h.HandleCapabilities)
	r.Get("/key", h.HandleGenerateKey)
	r.Get("/key/{keyId}", h.HandleRetrieveKey)
	r.Get("/entropy", h.HandleEntropy)
	r.Get("/status/sync", h.HandleSyncStatus)
}

// KeyResponse carries a generated or retrieved key. Both fields are
// lower-case hex.
type KeyResponse struct {
	KeyID string `json:"keyId"`
	Key   string `json:"key"`
}

// EntropyResponse carries drawn entropy as upper-case hex together with
// the number of bits it satisfies.
type EntropyResponse struct {
	RandomStr  string `json:"randomStr"`
	MinEntropy int    `json:"minentropy"`
}

// ErrorResponse is the JSON body of every non-200 answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HandleCapabilities responds with this provider's capability description.
//
// URL format: GET /capabilities
func (h *Handler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.provider.Capabilities())
}

// HandleGenerateKey generates a new key for the requesting remote system.
//
// URL format: GET /key?remoteSystemID={id}&size={bits}
// The remoteSystemID must match one of the configured remote system ID
// patterns. size defaults to the configured key size when omitted.
func (h *Handler) HandleGenerateKey(w http.ResponseWriter, r *http.Request) {
	h.provider.ExpireKeys(r.Context())

	sizeBits := h.provider.Config().DefaultKeySize
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid size parameter: "+raw)
			return
		}
		sizeBits = parsed
	}

	generated, err := h.provider.GenerateKey(r.Context(), r.URL.Query().Get("remoteSystemID"), sizeBits)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, KeyResponse{
		KeyID: generated.KeyID.String(),
		Key:   hex.EncodeToString(generated.Material),
	})
}

// HandleRetrieveKey looks up a previously generated or synchronized key.
// With zeroization enabled the key is destroyed by this read and a second
// retrieval fails.
//
// URL format: GET /key/{keyId}?remoteSystemID={id}
func (h *Handler) HandleRetrieveKey(w http.ResponseWriter, r *http.Request) {
	h.provider.ExpireKeys(r.Context())

	retrieved, err := h.provider.RetrieveKey(r.Context(), r.PathValue("keyId"), r.URL.Query().Get("remoteSystemID"))
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, KeyResponse{
		KeyID: retrieved.KeyID.String(),
		Key:   hex.EncodeToString(retrieved.Material),
	})
}

// HandleEntropy draws random data from the provider's entropy source.
//
// URL format: GET /entropy?minentropy={bits}
// minentropy defaults to the configured entropy size when omitted.
func (h *Handler) HandleEntropy(w http.ResponseWriter, r *http.Request) {
	h.provider.ExpireKeys(r.Context())

	bits := h.provider.Config().DefaultEntropyBits
	if raw := r.URL.Query().Get("minentropy"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid minentropy parameter: "+raw)
			return
		}
		bits = parsed
	}

	randomStr, err := h.provider.Entropy(bits)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, EntropyResponse{
		RandomStr:  randomStr,
		MinEntropy: bits,
	})
}

// HandleSyncStatus reports the synchronization state for diagnostics.
//
// URL format: GET /status/sync
func (h *Handler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		h.writeJSON(w, http.StatusOK, syncer.Status{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.sync.Status())
}

// writeProviderError maps provider errors to the protocol's status codes.
// Unknown keys answer 400, not 404; 404 is reserved for unknown routes.
func (h *Handler) writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrInvalidKeySize),
		errors.Is(err, interfaces.ErrMalformedKeyID),
		errors.Is(err, interfaces.ErrKeyNotFound),
		errors.Is(err, interfaces.ErrInvalidRemoteSystem):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrEntropyUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error("Request failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal storage error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
