// Package relay is a Go client for the message relay HTTP API.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a relay server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new relay client. The HTTP timeout is long enough to
// cover a full server-side long poll.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 75 * time.Second},
	}
}

// Message is a relayed message as returned by the server.
type Message struct {
	ID          int64  `json:"id"`
	SenderID    int64  `json:"sender_id"`
	RecipientID int64  `json:"recipient_id"`
	Ciphertext  []byte `json:"ciphertext"`
}

// HistoryOptions selects a page of history. Zero values are unset.
type HistoryOptions struct {
	SinceID int64
	UntilID int64
	Limit   int
}

// APIError is a non-2xx response from the relay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Status, e.Message)
}

// IsDuplicate reports whether err is the relay rejecting a replayed message.
func IsDuplicate(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// IsNotFound reports whether err is the relay not knowing a public key.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// do performs an HTTP request and decodes a JSON response into out.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errResp) != nil || errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// Send posts ciphertext from senderKey to recipientKey and returns the
// message id.
func (c *Client) Send(ctx context.Context, senderKey, recipientKey string, ciphertext []byte) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/messages/", bytes.NewReader(ciphertext))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sender-Public-Key", senderKey)
	req.Header.Set("X-Recipient-Public-Key", recipientKey)

	var resp struct {
		MessageID int64 `json:"message_id"`
	}
	if err := c.do(req, &resp); err != nil {
		return 0, err
	}
	return resp.MessageID, nil
}

// History returns messages sent or received by publicKey, oldest first.
func (c *Client) History(ctx context.Context, publicKey string, opts HistoryOptions) ([]Message, error) {
	params := url.Values{}
	params.Set("public_key", publicKey)
	if opts.SinceID > 0 {
		params.Set("since_id", strconv.FormatInt(opts.SinceID, 10))
	}
	if opts.UntilID > 0 {
		params.Set("until_id", strconv.FormatInt(opts.UntilID, 10))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/messages/?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var msgs []Message
	if err := c.do(req, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Poll waits for new messages addressed to publicKey. An empty result means
// the server-side wait timed out.
func (c *Client) Poll(ctx context.Context, publicKey string) ([]Message, error) {
	params := url.Values{}
	params.Set("public_key", publicKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/poll/messages?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var msgs []Message
	if err := c.do(req, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Checks  map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
}

// Health checks server health. A degraded server is reported as an
// *APIError with status 503.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
