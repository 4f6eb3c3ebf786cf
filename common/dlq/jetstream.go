// Package dlq inspects and replays the JetStream dead-letter stream.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/hookwire/hookwire/common/messaging"
	hwnats "github.com/hookwire/hookwire/common/messaging/nats"
	"github.com/hookwire/hookwire/common/models"
)

// ErrEmpty is returned by Replay when there is nothing to replay.
var ErrEmpty = errors.New("dlq: no dead-lettered messages")

// FailedEvent is one dead-lettered message.
type FailedEvent struct {
	Sequence  uint64                `json:"sequence" yaml:"sequence"`
	MessageID string                `json:"message_id" yaml:"message_id"`
	EventType string                `json:"event_type" yaml:"event_type"`
	Reason    string                `json:"reason" yaml:"reason"`
	Attempts  int                   `json:"attempts" yaml:"attempts"`
	StoredAt  time.Time             `json:"stored_at" yaml:"stored_at"`
	Envelope  *models.QueueEnvelope `json:"envelope,omitempty" yaml:"envelope,omitempty"`
	Raw       string                `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// Stats summarizes the dead-letter stream.
type Stats struct {
	Stream   string    `json:"stream" yaml:"stream"`
	Messages uint64    `json:"messages" yaml:"messages"`
	Bytes    uint64    `json:"bytes" yaml:"bytes"`
	FirstSeq uint64    `json:"first_seq" yaml:"first_seq"`
	LastSeq  uint64    `json:"last_seq" yaml:"last_seq"`
	Oldest   time.Time `json:"oldest,omitempty" yaml:"oldest,omitempty"`
}

// JetStreamQueue reads the dead-letter stream of a queue.
type JetStreamQueue struct {
	client *hwnats.Client
	stream jetstream.Stream
	logger *slog.Logger
}

// NewJetStreamQueue binds to the dead-letter stream of client's queue. The
// stream must already exist.
func NewJetStreamQueue(ctx context.Context, client *hwnats.Client, logger *slog.Logger) (*JetStreamQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	name := hwnats.DeadLetterStreamName(client.Queue())
	stream, err := client.JetStream().Stream(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get dlq stream %s: %w", name, err)
	}

	return &JetStreamQueue{
		client: client,
		stream: stream,
		logger: logger.With(slog.String("component", "dlq")),
	}, nil
}

// Stats returns the dead-letter stream state.
func (q *JetStreamQueue) Stats(ctx context.Context) (Stats, error) {
	info, err := q.stream.Info(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("dlq stream info: %w", err)
	}

	return Stats{
		Stream:   info.Config.Name,
		Messages: info.State.Msgs,
		Bytes:    info.State.Bytes,
		FirstSeq: info.State.FirstSeq,
		LastSeq:  info.State.LastSeq,
		Oldest:   info.State.FirstTime,
	}, nil
}

// List returns up to limit dead-lettered messages, oldest first.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	msgs, err := q.fetch(ctx, limit)
	if err != nil {
		return nil, err
	}

	events := make([]FailedEvent, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, toFailedEvent(msg))
	}
	return events, nil
}

// Replay republishes up to limit dead-lettered messages to the work queue
// and removes them from the dead-letter stream. It returns the number
// replayed.
func (q *JetStreamQueue) Replay(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	msgs, err := q.fetch(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, ErrEmpty
	}

	replayed := 0
	for _, msg := range msgs {
		metadata := make(map[string]string)
		for k := range msg.Header {
			switch k {
			case messaging.HeaderDLQReason, messaging.HeaderDLQAttempt, messaging.HeaderMessageID:
				continue
			}
			metadata[k] = msg.Header.Get(k)
		}

		// a fresh id so publish deduplication does not drop the replay
		id := msg.Header.Get(messaging.HeaderMessageID)
		if id != "" {
			id = id + ".replay." + strconv.FormatUint(msg.Sequence, 10)
		}

		err := q.client.PublishMsg(ctx, &messaging.Message{
			ID:        id,
			Data:      msg.Data,
			Metadata:  metadata,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			return replayed, fmt.Errorf("replay sequence %d: %w", msg.Sequence, err)
		}
		if err := q.stream.DeleteMsg(ctx, msg.Sequence); err != nil {
			return replayed, fmt.Errorf("delete sequence %d: %w", msg.Sequence, err)
		}
		replayed++
	}

	q.logger.Info("Replayed dead-lettered messages", slog.Int("count", replayed))
	return replayed, nil
}

// Purge removes all messages from the dead-letter stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.Info("Purged dead-letter stream")
	return nil
}

func (q *JetStreamQueue) fetch(ctx context.Context, limit int) ([]*jetstream.RawStreamMsg, error) {
	info, err := q.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("dlq stream info: %w", err)
	}
	if info.State.Msgs == 0 {
		return nil, nil
	}

	var out []*jetstream.RawStreamMsg
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq && len(out) < limit; seq++ {
		msg, err := q.stream.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get sequence %d: %w", seq, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func toFailedEvent(msg *jetstream.RawStreamMsg) FailedEvent {
	attempts, _ := strconv.Atoi(msg.Header.Get(messaging.HeaderDLQAttempt))

	failed := FailedEvent{
		Sequence:  msg.Sequence,
		MessageID: msg.Header.Get(messaging.HeaderMessageID),
		EventType: msg.Header.Get(messaging.HeaderEventType),
		Reason:    msg.Header.Get(messaging.HeaderDLQReason),
		Attempts:  attempts + 1,
		StoredAt:  msg.Time,
	}

	env, err := models.DecodeEnvelope(msg.Data)
	if err != nil {
		failed.Raw = string(msg.Data)
		return failed
	}
	failed.Envelope = env
	if failed.EventType == "" {
		failed.EventType = env.Event.EventType
	}
	if failed.MessageID == "" {
		failed.MessageID = env.ID
	}
	return failed
}
