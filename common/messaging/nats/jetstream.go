package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hookwire/hookwire/common/messaging"
)

var _ messaging.Broker = (*Client)(nil)

// deadLetterMaxAge is how long dead-lettered messages are kept for
// inspection.
const deadLetterMaxAge = 7 * 24 * time.Hour

// EnsureTopology creates or updates the work-queue stream and, when enabled,
// the dead-letter stream.
func (c *Client) EnsureTopology(ctx context.Context) error {
	topo := c.cfg.Topology

	discard := jetstream.DiscardOld
	if topo.Overflow == messaging.OverflowRejectNew {
		discard = jetstream.DiscardNew
	}

	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName(topo.Queue),
		Subjects:   []string{topo.Queue},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     topo.MessageTTL,
		MaxMsgs:    topo.MaxLength,
		Discard:    discard,
		Duplicates: c.cfg.DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", StreamName(topo.Queue), err)
	}

	if !topo.DeadLetter {
		return nil
	}

	dlq := messaging.DeadLetterQueue(topo.Queue)
	_, err = c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      DeadLetterStreamName(topo.Queue),
		Subjects:  []string{dlq},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    deadLetterMaxAge,
		MaxMsgs:   topo.MaxLength,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", DeadLetterStreamName(topo.Queue), err)
	}
	return nil
}

// PublishMsg stores msg on the queue stream and waits for the server
// acknowledgement. msg.ID is used as the deduplication id.
func (c *Client) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	return c.publish(ctx, c.cfg.Topology.Queue, msg)
}

func (c *Client) publish(ctx context.Context, subject string, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return messaging.ErrNotConnected
	}

	natsMsg := &nats.Msg{
		Subject: subject,
		Data:    msg.Data,
		Header:  make(nats.Header),
	}
	for k, v := range msg.Metadata {
		natsMsg.Header.Set(k, v)
	}

	var opts []jetstream.PublishOpt
	if msg.ID != "" {
		natsMsg.Header.Set(messaging.HeaderMessageID, msg.ID)
		opts = append(opts, jetstream.WithMsgID(msg.ID))
	}

	if _, err := c.js.PublishMsg(ctx, natsMsg, opts...); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrNoServers) {
			return messaging.ErrNotConnected
		}
		return fmt.Errorf("%w: %v", messaging.ErrPublishRejected, err)
	}
	return nil
}

// Consume attaches to the durable consumer and hands deliveries to handler
// one at a time.
func (c *Client) Consume(ctx context.Context, handler messaging.DeliveryHandler) (messaging.Subscription, error) {
	topo := c.cfg.Topology
	streamName := StreamName(topo.Queue)

	ackWait := topo.AckWait
	if ackWait <= 0 {
		ackWait = messaging.DefaultTopology(topo.Queue).AckWait
	}

	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          c.cfg.ConsumerName,
		Durable:       c.cfg.ConsumerName,
		FilterSubject: topo.Queue,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    -1,
		MaxAckPending: c.cfg.MaxAckPending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", c.cfg.ConsumerName, err)
	}

	// in-flight handlers finish even when the caller's context ends
	handlerCtx := context.WithoutCancel(ctx)

	sub := &subscription{queue: topo.Queue}
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if !sub.begin() {
			// stopping: leave it for redelivery
			_ = msg.Nak()
			return
		}
		defer sub.inflight.Done()

		handler(handlerCtx, &delivery{client: c, msg: msg})
	}, jetstream.PullMaxMessages(1), jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		c.logger.Debug("Consume error", slog.String("error", err.Error()))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	sub.cc = cc

	if err := c.track(sub); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	c.logger.Info("Consuming queue", slog.String("consumer", c.cfg.ConsumerName))
	return sub, nil
}
