package intakestats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Collector accumulates intake stats in memory and flushes them to Redis
// periodically. Safe for concurrent use.
type Collector struct {
	client        *Client
	flushInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	batches map[string]*Batch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector starts a collector flushing every flushInterval.
func NewCollector(client *Client, flushInterval time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Collector{
		client:        client,
		flushInterval: flushInterval,
		logger:        logger.With(slog.String("component", "intake-stats")),
		batches:       make(map[string]*Batch),
		ctx:           ctx,
		cancel:        cancel,
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c
}

// Record counts one accepted webhook. An empty source is recorded as
// UnknownSource.
func (c *Collector) Record(source, eventType, clientIP string) {
	if source == "" {
		source = UnknownSource
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	batch, ok := c.batches[source]
	if !ok {
		batch = NewBatch(source)
		c.batches[source] = batch
	}
	batch.Add(eventType, clientIP)
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	batches := c.batches
	c.batches = make(map[string]*Batch)
	c.mu.Unlock()

	if len(batches) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flushed := 0
	total := int64(0)

	for _, batch := range batches {
		if err := c.client.FlushBatch(ctx, batch); err != nil {
			c.logger.Error("Failed to flush intake stats",
				slog.String("source", batch.Source),
				slog.Int64("count", batch.Count),
				slog.String("error", err.Error()),
			)
			// keep it for the next flush
			c.mu.Lock()
			if existing, ok := c.batches[batch.Source]; ok {
				existing.Merge(batch)
			} else {
				c.batches[batch.Source] = batch
			}
			c.mu.Unlock()
			continue
		}
		flushed++
		total += batch.Count
	}

	if flushed > 0 {
		c.logger.Debug("Flushed intake stats",
			slog.Int("sources", flushed),
			slog.Int64("total_events", total),
		)
	}
}

// FlushNow forces an immediate flush.
func (c *Collector) FlushNow() {
	c.flush()
}

// Stop stops the flush loop after a final flush.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Pending returns the per-source counts not yet flushed.
func (c *Collector) Pending() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.batches))
	for source, batch := range c.batches {
		out[source] = batch.Count
	}
	return out
}
