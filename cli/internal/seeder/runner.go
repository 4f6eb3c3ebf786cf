package seeder

import (
	"context"
	"fmt"
	"time"

	"github.com/hookwire/hookwire/cli/internal/client"
)

// Sender delivers one webhook.
type Sender interface {
	Send(ctx context.Context, w client.Webhook) (*client.Result, error)
}

// Config controls a seeding run.
type Config struct {
	Count      int
	EventTypes []string
	Interval   time.Duration
	Seed       int64
	Instance   string
}

// Summary counts the outcome of a run.
type Summary struct {
	Sent     int            `json:"sent" yaml:"sent"`
	Accepted int            `json:"accepted" yaml:"accepted"`
	Rejected int            `json:"rejected" yaml:"rejected"`
	Failed   int            `json:"failed" yaml:"failed"`
	ByStatus map[int]int    `json:"by_status,omitempty" yaml:"by_status,omitempty"`
	ByType   map[string]int `json:"by_type" yaml:"by_type"`
}

// Runner sends generated events.
type Runner struct {
	cfg      Config
	sender   Sender
	gen      *Generator
	Progress func(i int, w client.Webhook, res *client.Result, err error)
}

func NewRunner(cfg Config, sender Sender) (*Runner, error) {
	if cfg.Count < 1 {
		return nil, fmt.Errorf("count must be at least 1")
	}
	if len(cfg.EventTypes) == 0 {
		cfg.EventTypes = EventTypes
	}
	gen := NewGenerator(cfg.Seed, cfg.Instance)
	for _, t := range cfg.EventTypes {
		if _, err := gen.Generate(t); err != nil {
			return nil, err
		}
	}
	// restart ids after validating the types
	gen = NewGenerator(cfg.Seed, cfg.Instance)

	return &Runner{cfg: cfg, sender: sender, gen: gen}, nil
}

// Run sends cfg.Count events, stopping early when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	sum := Summary{
		ByStatus: make(map[int]int),
		ByType:   make(map[string]int),
	}

	for i := 0; i < r.cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		w, err := r.gen.Generate(r.gen.Pick(r.cfg.EventTypes))
		if err != nil {
			return sum, err
		}

		res, err := r.sender.Send(ctx, w)
		sum.Sent++
		sum.ByType[w.EventType]++
		switch {
		case err != nil:
			sum.Failed++
		case res.Accepted():
			sum.Accepted++
			sum.ByStatus[res.StatusCode]++
		default:
			sum.Rejected++
			sum.ByStatus[res.StatusCode]++
		}
		if r.Progress != nil {
			r.Progress(i, w, res, err)
		}

		if r.cfg.Interval > 0 && i < r.cfg.Count-1 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(r.cfg.Interval):
			}
		}
	}
	return sum, nil
}
