package synchandler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/quiin/skipd/interfaces"
	"github.com/quiin/skipd/syncer"
)

// Handler receives peer synchronization messages. The message body is the
// only trust boundary: headers are diagnostic and never authenticated, and
// every protocol-level outcome answers HTTP 200 so a peer can distinguish
// a rejection from a transport failure.
type Handler struct {
	sync *syncer.Synchronizer
	log  *slog.Logger
}

// NewHandler creates the sync endpoint handler.
func NewHandler(sync *syncer.Synchronizer, log *slog.Logger) *Handler {
	return &Handler{
		sync: sync,
		log:  log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sync", h.HandleSync)
}

// HandleSync processes one inbound peer message.
//
// URL format: POST /sync with a JSON SyncMessage body.
// A body that does not decode answers 400; everything past decoding is a
// protocol-level result carried in a 200 response.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	var message interfaces.SyncMessage
	if err := json.NewDecoder(r.Body).Decode(&message); err != nil {
		h.log.Warn("Undecodable sync message", "remoteAddr", r.RemoteAddr, "err", err)
		h.writeResult(w, http.StatusBadRequest, interfaces.SyncError("Malformed message body"))
		return
	}

	if _, err := interfaces.ParseMessageType(string(message.Type)); err != nil {
		h.writeResult(w, http.StatusOK, interfaces.SyncError("Unknown message type"))
		return
	}

	result := h.sync.HandleMessage(r.Context(), &message)
	h.writeResult(w, http.StatusOK, result)
}

func (h *Handler) writeResult(w http.ResponseWriter, status int, result interfaces.SyncResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.log.Error("Failed to encode sync result", "err", err)
	}
}
