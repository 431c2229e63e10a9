package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/kretoffer/encode-now-backend/internal/models"
	"github.com/kretoffer/encode-now-backend/internal/relay"
)

// Headers naming the parties of a submitted message.
const (
	HeaderSenderKey    = "X-Sender-Public-Key"
	HeaderRecipientKey = "X-Recipient-Public-Key"
)

// SubmitResponse represents the submit message response.
type SubmitResponse struct {
	MessageID int64 `json:"message_id"`
}

// MessageResponse represents a message in API responses. Ciphertext is
// base64 encoded.
type MessageResponse struct {
	ID          int64  `json:"id"`
	SenderID    int64  `json:"sender_id"`
	RecipientID int64  `json:"recipient_id"`
	Ciphertext  []byte `json:"ciphertext"`
}

func toResponses(msgs []models.Message) []MessageResponse {
	out := make([]MessageResponse, len(msgs))
	for i, msg := range msgs {
		out[i] = MessageResponse{
			ID:          msg.ID,
			SenderID:    msg.SenderID,
			RecipientID: msg.RecipientID,
			Ciphertext:  msg.Ciphertext,
		}
	}
	return out
}

// SubmitMessage handles storing a ciphertext for a recipient. The raw
// request body is the ciphertext.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	ciphertext, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	id, err := h.relay.Submit(
		r.Context(),
		r.Header.Get(HeaderSenderKey),
		r.Header.Get(HeaderRecipientKey),
		ciphertext,
	)
	if err != nil {
		h.relayError(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, SubmitResponse{MessageID: id})
}

// GetMessages handles history queries for a public key.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var q relay.HistoryQuery
	var err error

	if q.SinceID, err = optionalID(query.Get("since_id")); err != nil {
		h.Error(w, http.StatusBadRequest, "since_id must be an integer")
		return
	}
	if q.UntilID, err = optionalID(query.Get("until_id")); err != nil {
		h.Error(w, http.StatusBadRequest, "until_id must be an integer")
		return
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			h.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = l
	}

	msgs, err := h.relay.FetchHistory(r.Context(), query.Get("public_key"), q)
	if err != nil {
		h.relayError(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, toResponses(msgs))
}

// optionalID parses an optional integer query parameter.
func optionalID(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
