// Package seeder generates fake Discourse webhooks and sends them to a gateway.
package seeder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/hookwire/hookwire/cli/internal/client"
	"github.com/hookwire/hookwire/common/models"
)

// EventTypes are the event types the generator knows payloads for.
var EventTypes = []string{
	models.EventTypeUserCreated,
	models.EventTypeUserUpdated,
	models.EventTypeUserDestroyed,
	models.EventTypeNotification,
	models.EventTypePostCreated,
	models.EventTypeTopicCreated,
	models.EventTypePing,
}

// Generator builds Discourse-shaped payloads.
type Generator struct {
	faker    *gofakeit.Faker
	instance string
	nextID   int64
}

// NewGenerator returns a generator. A zero seed seeds from the clock.
func NewGenerator(seed int64, instance string) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		faker:    gofakeit.New(seed),
		instance: instance,
		nextID:   1,
	}
}

// Generate builds one webhook of eventType.
func (g *Generator) Generate(eventType string) (client.Webhook, error) {
	var payload map[string]any

	switch eventType {
	case models.EventTypeUserCreated, models.EventTypeUserUpdated, models.EventTypeUserDestroyed:
		payload = map[string]any{"user": g.user()}
	case models.EventTypeNotification:
		payload = map[string]any{"notification": g.notification()}
	case models.EventTypePostCreated:
		payload = map[string]any{"post": g.post()}
	case models.EventTypeTopicCreated:
		payload = map[string]any{"topic": g.topic()}
	case models.EventTypePing:
		payload = map[string]any{"ping": "OK"}
	default:
		return client.Webhook{}, fmt.Errorf("unknown event type %q", eventType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return client.Webhook{}, err
	}

	id := g.nextID
	g.nextID++
	return client.Webhook{
		EventType: eventType,
		EventID:   strconv.FormatInt(id, 10),
		Instance:  g.instance,
		Body:      body,
	}, nil
}

// Pick returns a random event type from types.
func (g *Generator) Pick(types []string) string {
	return g.faker.RandomString(types)
}

func (g *Generator) user() map[string]any {
	return map[string]any{
		"id":          g.faker.Number(1, 100000),
		"username":    g.faker.Username(),
		"name":        g.faker.Name(),
		"email":       g.faker.Email(),
		"trust_level": g.faker.Number(0, 4),
		"admin":       false,
		"moderator":   g.faker.Bool(),
		"created_at":  g.timestamp(),
	}
}

func (g *Generator) notification() map[string]any {
	return map[string]any{
		"id":                g.faker.Number(1, 1000000),
		"user_id":           g.faker.Number(1, 100000),
		"notification_type": g.faker.Number(1, 38),
		"read":              g.faker.Bool(),
		"created_at":        g.timestamp(),
		"data": map[string]any{
			"topic_title":           g.faker.Sentence(5),
			"display_username":      g.faker.Username(),
			"original_post_type":    1,
			"original_post_id":      g.faker.Number(1, 1000000),
			"original_username":     g.faker.Username(),
			"revision_number":       nil,
			"display_name":          g.faker.Name(),
			"notification_category": "mention",
		},
	}
}

func (g *Generator) post() map[string]any {
	raw := g.faker.Paragraph(1, 3, 12, " ")
	return map[string]any{
		"id":          g.faker.Number(1, 1000000),
		"topic_id":    g.faker.Number(1, 100000),
		"post_number": g.faker.Number(1, 200),
		"username":    g.faker.Username(),
		"raw":         raw,
		"cooked":      "<p>" + raw + "</p>",
		"created_at":  g.timestamp(),
	}
}

func (g *Generator) topic() map[string]any {
	title := g.faker.Sentence(6)
	return map[string]any{
		"id":          g.faker.Number(1, 100000),
		"title":       title,
		"slug":        g.faker.Username(),
		"posts_count": 1,
		"category_id": g.faker.Number(1, 40),
		"created_at":  g.timestamp(),
		"created_by": map[string]any{
			"id":       g.faker.Number(1, 100000),
			"username": g.faker.Username(),
		},
	}
}

func (g *Generator) timestamp() string {
	return g.faker.DateRange(time.Now().AddDate(0, -1, 0), time.Now()).UTC().Format(time.RFC3339)
}
