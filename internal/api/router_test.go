package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kretoffer/encode-now-backend/internal/handlers"
	"github.com/kretoffer/encode-now-backend/internal/hub"
	"github.com/kretoffer/encode-now-backend/internal/relay"
	"github.com/kretoffer/encode-now-backend/internal/store"
)

// Base64 keys with characters that need query escaping.
const (
	aliceKey = "QWxpY2Ur/2FsaWNlK2FsaWNlK2FsaWNlK2FsaWNlKw=="
	bobKey   = "Ym9iL2JvYi9ib2IvYm9iL2JvYi9ib2IvYm9iL2JvYi8="
)

func newTestServer(t *testing.T, pollTimeout time.Duration) *httptest.Server {
	t.Helper()
	ds, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	svc := relay.NewService(ds, hub.NewLocal(pollTimeout, zerolog.Nop()), zerolog.Nop(), relay.Options{})
	h := handlers.NewHandler(svc, ds, nil, zerolog.Nop())

	srv := httptest.NewServer(NewRouter(zerolog.Nop(), h, RouterConfig{MaxBodyBytes: 1024}))
	t.Cleanup(srv.Close)
	return srv
}

func submit(t *testing.T, srv *httptest.Server, from, to string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/messages/", bytes.NewReader(body))
	require.NoError(t, err)
	if from != "" {
		req.Header.Set(handlers.HeaderSenderKey, from)
	}
	if to != "" {
		req.Header.Set(handlers.HeaderRecipientKey, to)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string, params url.Values) *http.Response {
	t.Helper()
	u := srv.URL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	resp, err := srv.Client().Get(u)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeMessages(t *testing.T, resp *http.Response) []handlers.MessageResponse {
	t.Helper()
	var msgs []handlers.MessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	return msgs
}

func errorBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func TestSubmitAndHistory(t *testing.T) {
	srv := newTestServer(t, time.Second)

	resp := submit(t, srv, aliceKey, bobKey, []byte{0x01, 0x02, 0xff})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sent handlers.SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))
	assert.Positive(t, sent.MessageID)

	resp = get(t, srv, "/messages/", url.Values{"public_key": {bobKey}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decodeMessages(t, resp)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.MessageID, msgs[0].ID)
	assert.Equal(t, []byte{0x01, 0x02, 0xff}, msgs[0].Ciphertext)
	assert.NotEqual(t, msgs[0].SenderID, msgs[0].RecipientID)
}

func TestSubmitErrors(t *testing.T) {
	srv := newTestServer(t, time.Second)

	tests := []struct {
		name   string
		from   string
		to     string
		body   []byte
		status int
	}{
		{"empty body", aliceKey, bobKey, nil, http.StatusBadRequest},
		{"missing sender", "", bobKey, []byte("x"), http.StatusBadRequest},
		{"missing recipient", aliceKey, "", []byte("x"), http.StatusBadRequest},
		{"too large", aliceKey, bobKey, bytes.Repeat([]byte("x"), 2048), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := submit(t, srv, tt.from, tt.to, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, errorBody(t, resp))
		})
	}
}

func TestSubmitDuplicateConflict(t *testing.T) {
	srv := newTestServer(t, time.Second)

	require.Equal(t, http.StatusOK, submit(t, srv, aliceKey, bobKey, []byte("again")).StatusCode)

	resp := submit(t, srv, aliceKey, bobKey, []byte("again"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, errorBody(t, resp), "duplicate")

	resp = get(t, srv, "/messages/", url.Values{"public_key": {bobKey}})
	assert.Len(t, decodeMessages(t, resp), 1)
}

func TestHistoryQueryErrors(t *testing.T) {
	srv := newTestServer(t, time.Second)

	tests := []struct {
		name   string
		params url.Values
	}{
		{"missing key", url.Values{}},
		{"both anchors", url.Values{"public_key": {aliceKey}, "since_id": {"1"}, "until_id": {"9"}}},
		{"bad since", url.Values{"public_key": {aliceKey}, "since_id": {"abc"}}},
		{"bad until", url.Values{"public_key": {aliceKey}, "until_id": {"1.5"}}},
		{"zero limit", url.Values{"public_key": {aliceKey}, "limit": {"0"}}},
		{"negative limit", url.Values{"public_key": {aliceKey}, "limit": {"-3"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := get(t, srv, "/messages/", tt.params)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHistoryUnknownKeyIsEmpty(t *testing.T) {
	srv := newTestServer(t, time.Second)

	resp := get(t, srv, "/messages", url.Values{"public_key": {"unknown"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw))
}

func TestHistoryPaging(t *testing.T) {
	srv := newTestServer(t, time.Second)

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, submit(t, srv, aliceKey, bobKey, []byte(fmt.Sprintf("m%d", i))).StatusCode)
	}

	all := decodeMessages(t, get(t, srv, "/messages/", url.Values{"public_key": {aliceKey}}))
	require.Len(t, all, 5)

	page := decodeMessages(t, get(t, srv, "/messages/", url.Values{
		"public_key": {aliceKey},
		"since_id":   {fmt.Sprint(all[1].ID)},
		"limit":      {"2"},
	}))
	require.Len(t, page, 2)
	assert.Equal(t, all[2].ID, page[0].ID)
	assert.Equal(t, all[3].ID, page[1].ID)

	page = decodeMessages(t, get(t, srv, "/messages/", url.Values{
		"public_key": {aliceKey},
		"until_id":   {fmt.Sprint(all[1].ID)},
	}))
	require.Len(t, page, 1)
	assert.Equal(t, all[0].ID, page[0].ID)
}

func TestPollUnknownKey(t *testing.T) {
	srv := newTestServer(t, time.Second)

	resp := get(t, srv, "/poll/messages", url.Values{"public_key": {"stranger"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, srv, "/poll/messages", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPollTimesOutEmpty(t *testing.T) {
	srv := newTestServer(t, 50*time.Millisecond)
	require.Equal(t, http.StatusOK, submit(t, srv, aliceKey, bobKey, []byte("warm")).StatusCode)

	resp := get(t, srv, "/poll/messages", url.Values{"public_key": {bobKey}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeMessages(t, resp))
}

func TestPollReceivesLiveMessage(t *testing.T) {
	srv := newTestServer(t, 5*time.Second)
	require.Equal(t, http.StatusOK, submit(t, srv, aliceKey, bobKey, []byte("warm")).StatusCode)

	done := make(chan []handlers.MessageResponse, 1)
	go func() {
		resp, err := srv.Client().Get(srv.URL + "/poll/messages?" + url.Values{"public_key": {bobKey}}.Encode())
		if err != nil {
			done <- nil
			return
		}
		defer resp.Body.Close()
		var msgs []handlers.MessageResponse
		_ = json.NewDecoder(resp.Body).Decode(&msgs)
		done <- msgs
	}()

	// Keep sending distinct messages until the poll picks one up; the
	// first may land before the poll has registered.
	deadline := time.After(3 * time.Second)
	for i := 0; ; i++ {
		require.Equal(t, http.StatusOK, submit(t, srv, aliceKey, bobKey, []byte(fmt.Sprintf("live-%d", i))).StatusCode)
		select {
		case msgs := <-done:
			require.NotEmpty(t, msgs)
			assert.True(t, strings.HasPrefix(string(msgs[0].Ciphertext), "live-"))
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("poll never returned a message")
		}
	}
}

func TestHealthAndRoot(t *testing.T) {
	srv := newTestServer(t, time.Second)

	resp := get(t, srv, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health handlers.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["database"].Status)
	assert.Equal(t, "skip", health.Checks["redis"].Status)

	resp = get(t, srv, "/api", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp = get(t, srv, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", errorBody(t, resp))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, time.Second)
	get(t, srv, "/api", nil)

	resp := get(t, srv, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "relay_http_requests_total")
}
