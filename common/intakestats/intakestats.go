// Package intakestats keeps Redis-backed statistics about accepted webhooks,
// keyed by the Discourse instance that sent them.
//
// Designed for multiple gateway replicas writing concurrently. Any process
// with access to Redis can read the stats.
//
// Redis key structure:
//
//	hookwire:intake:stats:{source}                - hash with current stats
//	hookwire:intake:types:{source}                - hash of event type -> count
//	hookwire:intake:hourly:{source}:{YYYYMMDDHH}  - count for one hour (expires 48h)
//	hookwire:intake:ips:{source}:{YYYYMMDD}       - set of client IPs for one day (expires 7d)
//	hookwire:intake:gateways:{source}             - hash of gateway id -> last seen
package intakestats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "hookwire:intake:"

// UnknownSource is recorded when a webhook carries no instance header.
const UnknownSource = "unknown"

// Stats are the intake statistics of one source.
type Stats struct {
	Source         string            `json:"source" yaml:"source"`
	LastSeenAt     *time.Time        `json:"last_seen_at,omitempty" yaml:"last_seen_at,omitempty"`
	LastIP         string            `json:"last_ip,omitempty" yaml:"last_ip,omitempty"`
	LastEventType  string            `json:"last_event_type,omitempty" yaml:"last_event_type,omitempty"`
	TotalEvents    int64             `json:"total_events" yaml:"total_events"`
	EventsLastHour int64             `json:"events_last_hour" yaml:"events_last_hour"`
	EventsLast24h  int64             `json:"events_last_24h" yaml:"events_last_24h"`
	UniqueIPsToday int64             `json:"unique_ips_today" yaml:"unique_ips_today"`
	EventTypes     map[string]int64  `json:"event_types,omitempty" yaml:"event_types,omitempty"`
	Gateways       map[string]string `json:"gateways,omitempty" yaml:"gateways,omitempty"`
	RetrievedAt    time.Time         `json:"retrieved_at" yaml:"retrieved_at"`
}

// Client reads and writes intake statistics.
type Client struct {
	redis     *redis.Client
	gatewayID string
	owned     bool
}

// NewClient connects to redisURL. gatewayID should be unique per gateway
// replica (hostname, pod name).
func NewClient(redisURL, gatewayID string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Client{redis: client, gatewayID: gatewayID, owned: true}, nil
}

// NewClientFromRedis creates a client on an existing connection. Close
// leaves that connection open.
func NewClientFromRedis(client *redis.Client, gatewayID string) *Client {
	return &Client{redis: client, gatewayID: gatewayID}
}

// Batch accumulates webhooks from one source between flushes.
type Batch struct {
	Source        string
	Count         int64
	EventTypes    map[string]int64
	ClientIPs     map[string]struct{}
	LastIP        string
	LastEventType string
}

func NewBatch(source string) *Batch {
	return &Batch{
		Source:     source,
		EventTypes: make(map[string]int64),
		ClientIPs:  make(map[string]struct{}),
	}
}

// Add records one webhook.
func (b *Batch) Add(eventType, clientIP string) {
	b.Count++
	b.EventTypes[eventType]++
	b.LastEventType = eventType
	if clientIP != "" {
		b.ClientIPs[clientIP] = struct{}{}
		b.LastIP = clientIP
	}
}

// Merge folds other into b. other is the older batch.
func (b *Batch) Merge(other *Batch) {
	b.Count += other.Count
	for t, n := range other.EventTypes {
		b.EventTypes[t] += n
	}
	for ip := range other.ClientIPs {
		b.ClientIPs[ip] = struct{}{}
	}
	if b.LastIP == "" {
		b.LastIP = other.LastIP
	}
	if b.LastEventType == "" {
		b.LastEventType = other.LastEventType
	}
}

// FlushBatch writes batch to Redis in one pipeline.
func (c *Client) FlushBatch(ctx context.Context, batch *Batch) error {
	if batch.Count == 0 {
		return nil
	}

	now := time.Now()
	nowUnix := strconv.FormatInt(now.Unix(), 10)
	dayKey := now.Format("20060102")

	pipe := c.redis.Pipeline()

	statsKey := keyPrefix + "stats:" + batch.Source
	fields := map[string]any{
		"last_seen_at":    nowUnix,
		"last_event_type": batch.LastEventType,
	}
	if batch.LastIP != "" {
		fields["last_ip"] = batch.LastIP
	}
	pipe.HSet(ctx, statsKey, fields)
	pipe.HIncrBy(ctx, statsKey, "total_events", batch.Count)

	typesKey := keyPrefix + "types:" + batch.Source
	for t, n := range batch.EventTypes {
		pipe.HIncrBy(ctx, typesKey, t, n)
	}

	hourlyKey := hourKey(batch.Source, now)
	pipe.IncrBy(ctx, hourlyKey, batch.Count)
	pipe.Expire(ctx, hourlyKey, 48*time.Hour)

	if len(batch.ClientIPs) > 0 {
		ipsKey := keyPrefix + "ips:" + batch.Source + ":" + dayKey
		ips := make([]any, 0, len(batch.ClientIPs))
		for ip := range batch.ClientIPs {
			ips = append(ips, ip)
		}
		pipe.SAdd(ctx, ipsKey, ips...)
		pipe.Expire(ctx, ipsKey, 7*24*time.Hour)
	}

	gatewaysKey := keyPrefix + "gateways:" + batch.Source
	pipe.HSet(ctx, gatewaysKey, c.gatewayID, nowUnix)
	pipe.Expire(ctx, gatewaysKey, 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to flush intake batch: %w", err)
	}
	return nil
}

// GetStats reads the statistics of source.
func (c *Client) GetStats(ctx context.Context, source string) (*Stats, error) {
	now := time.Now()

	pipe := c.redis.Pipeline()
	statsCmd := pipe.HGetAll(ctx, keyPrefix+"stats:"+source)
	typesCmd := pipe.HGetAll(ctx, keyPrefix+"types:"+source)

	hourlyCmds := make([]*redis.StringCmd, 24)
	for i := range hourlyCmds {
		hourlyCmds[i] = pipe.Get(ctx, hourKey(source, now.Add(-time.Duration(i)*time.Hour)))
	}

	ipsCmd := pipe.SCard(ctx, keyPrefix+"ips:"+source+":"+now.Format("20060102"))
	gatewaysCmd := pipe.HGetAll(ctx, keyPrefix+"gateways:"+source)

	// missing hourly keys surface as redis.Nil
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get intake stats: %w", err)
	}

	stats := &Stats{
		Source:      source,
		RetrievedAt: now,
		EventTypes:  make(map[string]int64),
		Gateways:    make(map[string]string),
	}

	if m, err := statsCmd.Result(); err == nil {
		if v, ok := m["last_seen_at"]; ok {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				t := time.Unix(unix, 0).UTC()
				stats.LastSeenAt = &t
			}
		}
		stats.LastIP = m["last_ip"]
		stats.LastEventType = m["last_event_type"]
		stats.TotalEvents, _ = strconv.ParseInt(m["total_events"], 10, 64)
	}

	if m, err := typesCmd.Result(); err == nil {
		for t, v := range m {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				stats.EventTypes[t] = n
			}
		}
	}

	if n, err := hourlyCmds[0].Int64(); err == nil {
		stats.EventsLastHour = n
	}
	for _, cmd := range hourlyCmds {
		if n, err := cmd.Int64(); err == nil {
			stats.EventsLast24h += n
		}
	}

	if n, err := ipsCmd.Result(); err == nil {
		stats.UniqueIPsToday = n
	}

	if m, err := gatewaysCmd.Result(); err == nil {
		for id, v := range m {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				stats.Gateways[id] = time.Unix(unix, 0).UTC().Format(time.RFC3339)
			}
		}
	}

	return stats, nil
}

// ListSources returns the sources seen within since.
func (c *Client) ListSources(ctx context.Context, since time.Duration) ([]string, error) {
	prefix := keyPrefix + "stats:"
	cutoff := time.Now().Add(-since).Unix()

	var sources []string
	iter := c.redis.Scan(ctx, 0, prefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		lastSeen, err := c.redis.HGet(ctx, key, "last_seen_at").Int64()
		if err == nil && lastSeen >= cutoff {
			sources = append(sources, strings.TrimPrefix(key, prefix))
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sources: %w", err)
	}
	return sources, nil
}

// Close closes the Redis connection if the client opened it.
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.redis.Close()
}

func hourKey(source string, t time.Time) string {
	return keyPrefix + "hourly:" + source + ":" + t.Format("2006010215")
}
