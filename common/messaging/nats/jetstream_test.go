package nats

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookwire/hookwire/common/messaging"
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

func connect(t *testing.T, srv *server.Server, mutate func(*Config)) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.URL = srv.ClientURL()
	cfg.Topology = messaging.DefaultTopology("discourse_events")
	cfg.Topology.AckWait = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, c.EnsureTopology(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func streamMsgs(t *testing.T, c *Client, name string) uint64 {
	t.Helper()
	stream, err := c.JetStream().Stream(context.Background(), name)
	require.NoError(t, err)
	info, err := stream.Info(context.Background())
	require.NoError(t, err)
	return info.State.Msgs
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "DISCOURSE_EVENTS", StreamName("discourse_events"))
	assert.Equal(t, "DISCOURSE_EVENTS_DLQ", DeadLetterStreamName("discourse_events"))
	assert.Equal(t, "A_B-C", StreamName("a.b-c"))
}

func TestConnect_FailsFast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond

	_, err := Connect(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPublish_DeduplicatesByID(t *testing.T) {
	srv := runServer(t)
	c := connect(t, srv, nil)
	ctx := context.Background()

	msg := &messaging.Message{ID: "env-1", Data: []byte(`{"id":"env-1"}`)}
	require.NoError(t, c.PublishMsg(ctx, msg))
	require.NoError(t, c.PublishMsg(ctx, msg))

	assert.Equal(t, uint64(1), streamMsgs(t, c, "DISCOURSE_EVENTS"))
}

func TestPublish_RejectNewWhenFull(t *testing.T) {
	srv := runServer(t)
	c := connect(t, srv, func(cfg *Config) {
		cfg.Topology.MaxLength = 1
		cfg.Topology.Overflow = messaging.OverflowRejectNew
	})
	ctx := context.Background()

	require.NoError(t, c.PublishMsg(ctx, &messaging.Message{ID: "a", Data: []byte(`{}`)}))
	err := c.PublishMsg(ctx, &messaging.Message{ID: "b", Data: []byte(`{}`)})
	assert.ErrorIs(t, err, messaging.ErrPublishRejected)
}

func TestPublish_AfterCloseIsNotConnected(t *testing.T) {
	srv := runServer(t)
	c := connect(t, srv, nil)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.PublishMsg(context.Background(), &messaging.Message{ID: "x", Data: []byte(`{}`)})
	assert.ErrorIs(t, err, messaging.ErrNotConnected)
	assert.False(t, c.IsConnected())
}

func TestConsume_RetryThenDeadLetter(t *testing.T) {
	srv := runServer(t)
	c := connect(t, srv, nil)
	ctx := context.Background()

	const maxRetries = 3
	var (
		mu       sync.Mutex
		attempts []int
	)

	sub, err := c.Consume(ctx, func(ctx context.Context, d messaging.Delivery) {
		mu.Lock()
		attempts = append(attempts, d.Attempt())
		mu.Unlock()

		if d.Attempt() >= maxRetries {
			assert.NoError(t, d.DeadLetter(ctx, "handler failed"))
			return
		}
		assert.NoError(t, d.Retry(ctx, 10*time.Millisecond))
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, c.PublishMsg(ctx, &messaging.Message{
		ID:       "env-1",
		Data:     []byte(`{"id":"env-1"}`),
		Metadata: map[string]string{messaging.HeaderEventType: "user_created"},
	}))

	require.Eventually(t, func() bool {
		return streamMsgs(t, c, "DISCOURSE_EVENTS_DLQ") == 1
	}, 5*time.Second, 20*time.Millisecond)

	// give the server a chance to redeliver if it was going to
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 3}, attempts)
	mu.Unlock()
	assert.Equal(t, uint64(0), streamMsgs(t, c, "DISCOURSE_EVENTS"))

	stream, err := c.JetStream().Stream(ctx, "DISCOURSE_EVENTS_DLQ")
	require.NoError(t, err)
	raw, err := stream.GetLastMsgForSubject(ctx, "discourse_events.dlq")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"env-1"}`, string(raw.Data))
	assert.Equal(t, "handler failed", raw.Header.Get(messaging.HeaderDLQReason))
	assert.Equal(t, "3", raw.Header.Get(messaging.HeaderDLQAttempt))
	assert.Equal(t, "user_created", raw.Header.Get(messaging.HeaderEventType))
}

func TestConsume_OneDeliveryAtATime(t *testing.T) {
	srv := runServer(t)
	c := connect(t, srv, nil)
	ctx := context.Background()

	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		handled atomic.Int32
	)

	sub, err := c.Consume(ctx, func(ctx context.Context, d messaging.Delivery) {
		n := active.Add(1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		handled.Add(1)
		assert.NoError(t, d.Ack(ctx))
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.PublishMsg(ctx, &messaging.Message{ID: id, Data: []byte(`{}`)}))
	}

	require.Eventually(t, func() bool { return handled.Load() == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, uint64(0), streamMsgs(t, c, "DISCOURSE_EVENTS"))
}

func TestUnsubscribe_WaitsForInFlight(t *testing.T) {
	srv := runServer(t)
	c := connect(t, srv, nil)
	ctx := context.Background()

	started := make(chan struct{})
	var finished atomic.Bool

	sub, err := c.Consume(ctx, func(ctx context.Context, d messaging.Delivery) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		_ = d.Ack(ctx)
	})
	require.NoError(t, err)

	require.NoError(t, c.PublishMsg(ctx, &messaging.Message{ID: "slow", Data: []byte(`{}`)}))
	<-started

	require.NoError(t, sub.Unsubscribe())
	assert.True(t, finished.Load())
	assert.False(t, sub.IsValid())
	assert.Equal(t, "discourse_events", sub.Queue())
}

func TestDisconnected_ClosedOnServerShutdown(t *testing.T) {
	srv := runServer(t)
	c := connect(t, srv, nil)
	require.True(t, c.IsConnected())

	srv.Shutdown()

	select {
	case <-c.Disconnected():
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect was not signalled")
	}
	assert.False(t, c.IsConnected())
}
