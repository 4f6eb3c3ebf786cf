package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookwire/hookwire/cli/internal/client"
	"github.com/hookwire/hookwire/common/models"
)

func TestGenerate_PayloadShapes(t *testing.T) {
	g := NewGenerator(1, "https://forum.example.com")

	tests := []struct {
		eventType string
		key       string
	}{
		{models.EventTypeUserCreated, "user"},
		{models.EventTypeUserDestroyed, "user"},
		{models.EventTypeNotification, "notification"},
		{models.EventTypePostCreated, "post"},
		{models.EventTypeTopicCreated, "topic"},
		{models.EventTypePing, "ping"},
	}
	for _, tt := range tests {
		w, err := g.Generate(tt.eventType)
		require.NoError(t, err, tt.eventType)

		var payload map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(w.Body, &payload))
		assert.Contains(t, payload, tt.key)
		assert.Equal(t, tt.eventType, w.EventType)
		assert.Equal(t, "https://forum.example.com", w.Instance)
	}
}

func TestGenerate_UserHasIDAndUsername(t *testing.T) {
	w, err := NewGenerator(7, "").Generate(models.EventTypeUserCreated)
	require.NoError(t, err)

	var payload struct {
		User struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body, &payload))
	assert.Positive(t, payload.User.ID)
	assert.NotEmpty(t, payload.User.Username)
}

func TestGenerate_SequentialIDs(t *testing.T) {
	g := NewGenerator(3, "")
	a, _ := g.Generate(models.EventTypePing)
	b, _ := g.Generate(models.EventTypePing)
	assert.Equal(t, "1", a.EventID)
	assert.Equal(t, "2", b.EventID)
}

func TestGenerate_UnknownType(t *testing.T) {
	_, err := NewGenerator(1, "").Generate("nope")
	assert.Error(t, err)
}

type fakeSender struct {
	statuses []int
	errAt    int
	calls    int
}

func (s *fakeSender) Send(_ context.Context, w client.Webhook) (*client.Result, error) {
	s.calls++
	if s.calls == s.errAt {
		return nil, errors.New("connection refused")
	}
	status := http.StatusOK
	if len(s.statuses) > 0 {
		status = s.statuses[(s.calls-1)%len(s.statuses)]
	}
	return &client.Result{StatusCode: status}, nil
}

func TestRunner_Summary(t *testing.T) {
	sender := &fakeSender{statuses: []int{http.StatusOK, http.StatusForbidden}, errAt: 5}
	r, err := NewRunner(Config{Count: 6, Seed: 42, EventTypes: []string{models.EventTypeUserCreated}}, sender)
	require.NoError(t, err)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, sum.Sent)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Accepted)
	assert.Equal(t, 3, sum.Rejected)
	assert.Equal(t, 6, sum.ByType[models.EventTypeUserCreated])
}

func TestRunner_RejectsBadConfig(t *testing.T) {
	_, err := NewRunner(Config{Count: 0}, &fakeSender{})
	assert.Error(t, err)

	_, err = NewRunner(Config{Count: 1, EventTypes: []string{"bogus"}}, &fakeSender{})
	assert.Error(t, err)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := NewRunner(Config{Count: 10, Seed: 1}, &fakeSender{})
	require.NoError(t, err)

	sum, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Sent)
}
