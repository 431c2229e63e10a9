package handlers

import (
	"net/http"
)

// PollMessages handles long-polling for new messages. It responds as soon
// as a message arrives for the key, or with an empty list on timeout.
func (h *Handler) PollMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.relay.WaitForLive(r.Context(), r.URL.Query().Get("public_key"))
	if err != nil {
		h.relayError(w, r, err)
		return
	}

	// The client went away while we waited.
	if r.Context().Err() != nil {
		return
	}

	h.JSON(w, http.StatusOK, toResponses(msgs))
}
