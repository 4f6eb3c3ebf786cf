package logging

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestStringFields(t *testing.T) {
	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value string
	}{
		{"service", Service("gateway"), FieldService, "gateway"},
		{"component", Component("consumer"), FieldComponent, "consumer"},
		{"ip", IP("192.168.1.1"), FieldIP, "192.168.1.1"},
		{"method", Method("POST"), FieldMethod, "POST"},
		{"path", Path("/webhook"), FieldPath, "/webhook"},
		{"event id", EventID("42"), FieldEventID, "42"},
		{"event type", EventType("user_created"), FieldEventType, "user_created"},
		{"message id", MessageID("0c7a"), FieldMessageID, "0c7a"},
		{"reason", Reason("signature-mismatch"), FieldReason, "signature-mismatch"},
		{"queue", Queue("discourse_events"), FieldQueue, "discourse_events"},
		{"instance", Instance("https://forum.example.com"), FieldInstance, "https://forum.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.key {
				t.Errorf("expected key %q, got %q", tt.key, tt.attr.Key)
			}
			if tt.attr.Value.String() != tt.value {
				t.Errorf("expected value %q, got %q", tt.value, tt.attr.Value.String())
			}
		})
	}
}

func TestStatus(t *testing.T) {
	attr := Status(503)
	if attr.Key != FieldStatus {
		t.Errorf("expected key %q, got %q", FieldStatus, attr.Key)
	}
	if attr.Value.Int64() != 503 {
		t.Errorf("expected value 503, got %d", attr.Value.Int64())
	}
}

func TestDuration(t *testing.T) {
	attr := Duration(1500 * time.Millisecond)
	if attr.Key != FieldDuration {
		t.Errorf("expected key %q, got %q", FieldDuration, attr.Key)
	}
	if attr.Value.Int64() != 1500 {
		t.Errorf("expected value 1500, got %d", attr.Value.Int64())
	}
}

func TestAttempt(t *testing.T) {
	attr := Attempt(3)
	if attr.Key != FieldAttempt || attr.Value.Int64() != 3 {
		t.Errorf("unexpected attempt attr %v", attr)
	}
}

func TestError(t *testing.T) {
	attr := Error(errors.New("broker unavailable"))
	if attr.Key != FieldError {
		t.Errorf("expected key %q, got %q", FieldError, attr.Key)
	}
	if attr.Value.String() != "broker unavailable" {
		t.Errorf("expected value %q, got %q", "broker unavailable", attr.Value.String())
	}

	if got := Error(nil).Value.String(); got != "" {
		t.Errorf("expected empty value for nil error, got %q", got)
	}
}
