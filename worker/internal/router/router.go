// Package router dispatches webhook events to processors.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hookwire/hookwire/common/models"
)

// Processor handles one class of events. Implementations must be idempotent
// on (event id, event type): a delivery can be redelivered after it was
// already processed.
type Processor interface {
	Process(ctx context.Context, event *models.WebhookEvent) (models.ProcessingOutcome, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, event *models.WebhookEvent) (models.ProcessingOutcome, error)

func (f ProcessorFunc) Process(ctx context.Context, event *models.WebhookEvent) (models.ProcessingOutcome, error) {
	return f(ctx, event)
}

// Predicate decides whether a route handles an event type.
type Predicate func(eventType string) bool

// Exact matches one event type.
func Exact(eventType string) Predicate {
	return func(t string) bool { return t == eventType }
}

// Prefix matches every event type starting with prefix.
func Prefix(prefix string) Predicate {
	return func(t string) bool { return strings.HasPrefix(t, prefix) }
}

// Any matches every event type.
func Any() Predicate {
	return func(string) bool { return true }
}

// Route binds a predicate to a processor.
type Route struct {
	Name      string
	Match     Predicate
	Processor Processor
}

// FallbackRoute is the name reported when no route matched.
const FallbackRoute = "fallback"

var ErrNoFallback = errors.New("router: fallback processor is required")

// Router evaluates routes in order; the first match wins and unmatched
// events go to the fallback.
type Router struct {
	routes   []Route
	fallback Processor
}

// New builds a router. The fallback is mandatory.
func New(fallback Processor, routes ...Route) (*Router, error) {
	if fallback == nil {
		return nil, ErrNoFallback
	}
	for i, r := range routes {
		if r.Match == nil || r.Processor == nil {
			return nil, fmt.Errorf("router: route %d (%q) needs a predicate and a processor", i, r.Name)
		}
	}
	return &Router{
		routes:   append([]Route(nil), routes...),
		fallback: fallback,
	}, nil
}

// Resolve returns the name and processor for eventType.
func (r *Router) Resolve(eventType string) (string, Processor) {
	for _, route := range r.routes {
		if route.Match(eventType) {
			return route.Name, route.Processor
		}
	}
	return FallbackRoute, r.fallback
}

// Route dispatches event and returns the processor's result unchanged. It
// never retries.
func (r *Router) Route(ctx context.Context, event *models.WebhookEvent) (models.ProcessingOutcome, error) {
	_, p := r.Resolve(event.EventType)
	return p.Process(ctx, event)
}
