// Package processors holds the event processors the worker routes to. They
// only log what they would act on; no downstream action is taken.
package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hookwire/hookwire/common/logging"
	"github.com/hookwire/hookwire/common/models"
	"github.com/hookwire/hookwire/worker/internal/router"
)

// ErrMalformedPayload is returned when a payload lacks the object its event
// type requires.
var ErrMalformedPayload = errors.New("malformed event payload")

// Route names.
const (
	RouteUser         = "user"
	RouteNotification = "notification"
)

// UserPrefix selects every user lifecycle event.
const UserPrefix = "user_"

// NewRouter builds the default routing table: user events by prefix, then
// notifications, then the generic fallback.
func NewRouter(logger *logging.Logger) (*router.Router, error) {
	return router.New(NewGeneric(logger),
		router.Route{Name: RouteUser, Match: router.Prefix(UserPrefix), Processor: NewUser(logger)},
		router.Route{Name: RouteNotification, Match: router.Exact(models.EventTypeNotification), Processor: NewNotification(logger)},
	)
}

// User handles user_* events.
type User struct {
	logger *logging.Logger
}

func NewUser(logger *logging.Logger) *User {
	return &User{logger: componentLogger(logger, "user-processor")}
}

type userPayload struct {
	User *struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

func (p *User) Process(ctx context.Context, event *models.WebhookEvent) (models.ProcessingOutcome, error) {
	var payload userPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.User == nil {
		err = fmt.Errorf("%w: expected user object", ErrMalformedPayload)
		return models.Failed(event.Headers.EventID, event.EventType, err), err
	}

	p.logger.InfoContext(ctx, "Processing user event",
		logging.EventType(event.EventType),
		logging.EventID(event.Headers.EventID),
		slog.Int64("user_id", payload.User.ID),
		slog.String("username", payload.User.Username),
	)
	return models.Succeeded(event.Headers.EventID, event.EventType), nil
}

// Notification handles notification_created events.
type Notification struct {
	logger *logging.Logger
}

func NewNotification(logger *logging.Logger) *Notification {
	return &Notification{logger: componentLogger(logger, "notification-processor")}
}

type notificationPayload struct {
	Notification *struct {
		ID               int64 `json:"id"`
		UserID           int64 `json:"user_id"`
		NotificationType int   `json:"notification_type"`
		Read             bool  `json:"read"`
	} `json:"notification"`
}

func (p *Notification) Process(ctx context.Context, event *models.WebhookEvent) (models.ProcessingOutcome, error) {
	var payload notificationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.Notification == nil {
		err = fmt.Errorf("%w: expected notification object", ErrMalformedPayload)
		return models.Failed(event.Headers.EventID, event.EventType, err), err
	}

	p.logger.InfoContext(ctx, "Processing notification",
		logging.EventID(event.Headers.EventID),
		slog.Int64("notification_id", payload.Notification.ID),
		slog.Int64("user_id", payload.Notification.UserID),
		slog.Int("notification_type", payload.Notification.NotificationType),
	)
	return models.Succeeded(event.Headers.EventID, event.EventType), nil
}

// Generic accepts any event.
type Generic struct {
	logger *logging.Logger
}

func NewGeneric(logger *logging.Logger) *Generic {
	return &Generic{logger: componentLogger(logger, "generic-processor")}
}

func (p *Generic) Process(ctx context.Context, event *models.WebhookEvent) (models.ProcessingOutcome, error) {
	p.logger.DebugContext(ctx, "No dedicated processor, event accepted",
		logging.EventType(event.EventType),
		logging.EventID(event.Headers.EventID),
		logging.Instance(event.Headers.Instance),
	)
	return models.Succeeded(event.Headers.EventID, event.EventType), nil
}

func componentLogger(logger *logging.Logger, component string) *logging.Logger {
	if logger == nil {
		logger = logging.Default()
	}
	return logger.With(logging.Component(component))
}
