package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/hookwire/hookwire/common/messaging"
)

// confirmTracker matches publisher confirms to publishes by delivery tag.
// Tags start at 1 once the channel is in confirm mode and grow by one per
// successful basic.publish. The stream is always drained so a late confirm
// never blocks the channel.
type confirmTracker struct {
	mu      sync.Mutex
	next    uint64
	waiters map[uint64]chan bool
	closed  bool
}

func newConfirmTracker() *confirmTracker {
	return &confirmTracker{waiters: make(map[uint64]chan bool)}
}

// expect reserves the tag of the next publish. Callers serialize publishes.
func (t *confirmTracker) expect() (uint64, <-chan bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	w := make(chan bool, 1)
	if t.closed {
		close(w)
		return t.next, w
	}
	t.waiters[t.next] = w
	return t.next, w
}

// cancel releases tag when the publish never reached the broker.
func (t *confirmTracker) cancel(tag uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.waiters, tag)
	if tag == t.next {
		t.next--
	}
}

// forget drops the waiter for tag; its confirm is discarded on arrival.
func (t *confirmTracker) forget(tag uint64) {
	t.mu.Lock()
	delete(t.waiters, tag)
	t.mu.Unlock()
}

// run consumes confirms until the stream closes, then releases every waiter.
func (t *confirmTracker) run(confirms <-chan amqp.Confirmation) {
	for c := range confirms {
		t.mu.Lock()
		w, ok := t.waiters[c.DeliveryTag]
		delete(t.waiters, c.DeliveryTag)
		t.mu.Unlock()

		if ok {
			w <- c.Ack
		}
	}

	t.mu.Lock()
	t.closed = true
	for tag, w := range t.waiters {
		close(w)
		delete(t.waiters, tag)
	}
	t.mu.Unlock()
}

// await blocks until the confirm for tag arrives, timeout passes or ctx is
// done.
func (t *confirmTracker) await(ctx context.Context, tag uint64, w <-chan bool, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack, ok := <-w:
		if !ok {
			return messaging.ErrNotConnected
		}
		if !ack {
			return messaging.ErrPublishRejected
		}
		return nil
	case <-timer.C:
		t.forget(tag)
		return fmt.Errorf("%w: confirm %d timed out", messaging.ErrPublishRejected, tag)
	case <-ctx.Done():
		t.forget(tag)
		return ctx.Err()
	}
}
