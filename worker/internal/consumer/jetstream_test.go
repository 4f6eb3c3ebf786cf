package consumer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookwire/hookwire/common/logging"
	"github.com/hookwire/hookwire/common/messaging"
	hwnats "github.com/hookwire/hookwire/common/messaging/nats"
	"github.com/hookwire/hookwire/common/models"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)

	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second), "nats server not ready")

	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func streamMsgs(t *testing.T, c *hwnats.Client, name string) uint64 {
	t.Helper()
	stream, err := c.JetStream().Stream(context.Background(), name)
	require.NoError(t, err)
	info, err := stream.Info(context.Background())
	require.NoError(t, err)
	return info.State.Msgs
}

func TestConsumer_JetStreamDeadLettersAfterFourFailures(t *testing.T) {
	srv := runServer(t)
	ctx := context.Background()

	cfg := hwnats.DefaultConfig()
	cfg.URL = srv.ClientURL()
	cfg.Topology = messaging.DefaultTopology("discourse_events")
	client, err := hwnats.Connect(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, client.EnsureTopology(ctx))
	t.Cleanup(func() { _ = client.Close() })

	var calls atomic.Int32
	c := New(routerFunc(func(_ context.Context, ev *models.WebhookEvent) (models.ProcessingOutcome, error) {
		calls.Add(1)
		err := errors.New("downstream unavailable")
		return models.Failed(ev.Headers.EventID, ev.EventType, err), err
	}), Config{
		MaxRetries:        3,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          50 * time.Millisecond,
		ProcessingTimeout: time.Second,
	}, logging.NewWithWriter(&bytes.Buffer{}, slog.LevelInfo, "json"))

	require.NoError(t, c.Start(ctx, client))
	t.Cleanup(func() { _ = c.Stop() })

	require.NoError(t, client.PublishMsg(ctx, &messaging.Message{
		ID:   "env-1",
		Data: envelope(t),
		Metadata: map[string]string{
			messaging.HeaderEventType: models.EventTypeUserCreated,
		},
	}))

	require.Eventually(t, func() bool {
		return streamMsgs(t, client, hwnats.DeadLetterStreamName("discourse_events")) == 1
	}, 5*time.Second, 20*time.Millisecond)

	// a dead-lettered message must never come back
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, uint64(0), streamMsgs(t, client, hwnats.StreamName("discourse_events")))
}
