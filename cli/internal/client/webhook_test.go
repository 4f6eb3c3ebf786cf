package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookwire/hookwire/common/signature"
)

func TestSend_SignsBody(t *testing.T) {
	body := []byte(`{"user":{"id":1,"username":"test"}}`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webhook", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "user_created", r.Header.Get(HeaderEvent))
		assert.Equal(t, "42", r.Header.Get(HeaderEventID))
		assert.Equal(t, "https://forum.example.com", r.Header.Get(HeaderInstance))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.NoError(t, signature.Validate(raw, r.Header.Get(HeaderSignature), "s3cret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"queued","message_id":"abc"}`))
	}))
	defer server.Close()

	c := NewWebhookClient(server.URL, "s3cret")
	res, err := c.Send(context.Background(), Webhook{
		EventType: "user_created",
		EventID:   "42",
		Instance:  "https://forum.example.com",
		Body:      body,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, "queued", res.Status)
	assert.Equal(t, "abc", res.MessageID)
}

func TestSend_RejectionIsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(HeaderEventID))
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid signature"}`))
	}))
	defer server.Close()

	res, err := NewWebhookClient(server.URL, "wrong").Send(context.Background(), Webhook{EventType: "ping", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.False(t, res.Accepted())
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "invalid signature", res.Error)
}

func TestSend_NonJSONReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	res, err := NewWebhookClient(server.URL, "s").Send(context.Background(), Webhook{EventType: "ping", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "upstream down", res.Error)
}

func TestSend_TransportError(t *testing.T) {
	_, err := NewWebhookClient("http://127.0.0.1:1", "s").Send(context.Background(), Webhook{EventType: "ping", Body: []byte(`{}`)})
	assert.Error(t, err)
}
