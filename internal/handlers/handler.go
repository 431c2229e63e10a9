package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kretoffer/encode-now-backend/internal/relay"
	"github.com/kretoffer/encode-now-backend/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	relay  *relay.Service
	db     store.DataStore
	redis  *store.RedisStore
	logger zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil when the relay runs
// as a single instance.
func NewHandler(svc *relay.Service, db store.DataStore, redis *store.RedisStore, logger zerolog.Logger) *Handler {
	return &Handler{relay: svc, db: db, redis: redis, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// relayError translates a relay.Service error into a response.
func (h *Handler) relayError(w http.ResponseWriter, r *http.Request, err error) {
	switch relay.KindOf(err) {
	case relay.KindValidation:
		h.Error(w, http.StatusBadRequest, message(err))
	case relay.KindDuplicate:
		h.Error(w, http.StatusConflict, "duplicate message: this ciphertext was already sent to the recipient")
	case relay.KindNotFound:
		h.Error(w, http.StatusNotFound, message(err))
	default:
		h.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("relay request failed")
		h.Error(w, http.StatusInternalServerError, "failed to process request")
	}
}

// message returns the client-facing part of a relay error.
func message(err error) string {
	var re *relay.Error
	if errors.As(err, &re) && re.Msg != "" {
		return re.Msg
	}
	return err.Error()
}
