package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across services.
const (
	FieldService       = "service"
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldIP            = "ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatus        = "status"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldEventID       = "event_id"
	FieldEventType     = "event_type"
	FieldMessageID     = "message_id"
	FieldAttempt       = "attempt"
	FieldReason        = "reason"
	FieldQueue         = "queue"
	FieldInstance      = "instance"
	FieldSecurityEvent = "security_event"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute for a component within a service.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// IP returns a slog attribute for the client IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for d in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error. A nil error logs as "".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// EventID returns a slog attribute for the sender's event id.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for the webhook event type.
func EventType(eventType string) slog.Attr {
	return slog.String(FieldEventType, eventType)
}

// MessageID returns a slog attribute for a queue envelope id.
func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// Attempt returns a slog attribute for a delivery retry count.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Reason returns a slog attribute for a rejection or failure reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}

// Queue returns a slog attribute for a queue name.
func Queue(name string) slog.Attr {
	return slog.String(FieldQueue, name)
}

// Instance returns a slog attribute for the sending instance.
func Instance(instance string) slog.Attr {
	return slog.String(FieldInstance, instance)
}
