package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hookwire/hookwire/common/messaging"
	"github.com/hookwire/hookwire/common/middleware"
	"github.com/hookwire/hookwire/gateway/internal/service"
)

// Mock service for testing
type mockWebhookService struct {
	outcome  service.Outcome
	calls    int
	body     []byte
	clientIP string
}

func (m *mockWebhookService) Handle(ctx context.Context, headers http.Header, rawBody []byte) service.Outcome {
	m.calls++
	m.body = rawBody
	m.clientIP = middleware.GetClientIP(ctx)
	return m.outcome
}

type mockLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (m *mockLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.keys = append(m.keys, key)
	return m.allowed, m.err
}

func (m *mockLimiter) Close() error { return nil }

type mockState bool

func (m mockState) IsConnected() bool { return bool(m) }

func TestHandleWebhook_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		outcome    service.Outcome
		wantStatus int
		wantBody   string
	}{
		{
			name:       "accepted",
			outcome:    service.Outcome{Kind: service.Accepted, MessageID: "env-1"},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"queued","message_id":"env-1"}`,
		},
		{
			name:       "bad request",
			outcome:    service.Outcome{Kind: service.BadRequest, Err: service.ErrMissingSignature},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"missing signature header"}`,
		},
		{
			name:       "forbidden",
			outcome:    service.Outcome{Kind: service.Forbidden, Err: errors.New("mismatch")},
			wantStatus: http.StatusForbidden,
			wantBody:   `{"error":"invalid signature"}`,
		},
		{
			name:       "internal error",
			outcome:    service.Outcome{Kind: service.InternalError, Err: errors.New("boom")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal server error"}`,
		},
		{
			name:       "service unavailable",
			outcome:    service.Outcome{Kind: service.ServiceUnavailable, Err: service.ErrQueueUnavailable},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"queue unavailable"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWebhookService{outcome: tt.outcome}
			handler := NewWebhookHandler(svc, Options{InstanceHeader: "X-Discourse-Instance"})

			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"a":1}`))
			rr := httptest.NewRecorder()
			handler.HandleWebhook(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if got := strings.TrimSpace(rr.Body.String()); got != tt.wantBody {
				t.Errorf("Expected body %s, got %s", tt.wantBody, got)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected JSON content type, got %q", ct)
			}
		})
	}
}

func TestHandleWebhook_PassesRawBody(t *testing.T) {
	svc := &mockWebhookService{outcome: service.Outcome{Kind: service.Accepted, MessageID: "x"}}
	handler := NewWebhookHandler(svc, Options{})

	raw := "{\"user\":  {\"id\": 1}}\n"
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(raw))
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	handler.HandleWebhook(httptest.NewRecorder(), req)

	if string(svc.body) != raw {
		t.Errorf("Expected raw body %q, got %q", raw, svc.body)
	}
	if svc.clientIP != "203.0.113.5" {
		t.Errorf("Expected client ip in context, got %q", svc.clientIP)
	}
}

func TestHandleWebhook_EmptyBodyIsNotNil(t *testing.T) {
	svc := &mockWebhookService{outcome: service.Outcome{Kind: service.BadRequest, Err: errors.New("x")}}
	handler := NewWebhookHandler(svc, Options{})

	req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
	handler.HandleWebhook(httptest.NewRecorder(), req)

	if svc.body == nil {
		t.Error("Expected empty non-nil body for an empty request")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestHandleWebhook_UnreadableBodyIsNil(t *testing.T) {
	svc := &mockWebhookService{outcome: service.Outcome{Kind: service.InternalError, Err: service.ErrNoBody}}
	handler := NewWebhookHandler(svc, Options{})

	req := httptest.NewRequest(http.MethodPost, "/webhook", io.NopCloser(failingReader{}))
	rr := httptest.NewRecorder()
	handler.HandleWebhook(rr, req)

	if svc.body != nil {
		t.Errorf("Expected nil body, got %q", svc.body)
	}
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rr.Code)
	}
}

func TestHandleWebhook_TooLarge(t *testing.T) {
	svc := &mockWebhookService{}
	handler := NewWebhookHandler(svc, Options{MaxBodySize: 16})

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(bytes.Repeat([]byte("a"), 64)))
	rr := httptest.NewRecorder()
	handler.HandleWebhook(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
	if svc.calls != 0 {
		t.Errorf("Expected service not to be called, got %d calls", svc.calls)
	}
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	svc := &mockWebhookService{}
	handler := NewWebhookHandler(svc, Options{})

	rr := httptest.NewRecorder()
	handler.HandleWebhook(rr, httptest.NewRequest(http.MethodGet, "/webhook", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rr.Code)
	}
	if svc.calls != 0 {
		t.Error("Expected service not to be called")
	}
}

func TestHandleWebhook_RateLimit(t *testing.T) {
	t.Run("limited by instance", func(t *testing.T) {
		svc := &mockWebhookService{}
		limiter := &mockLimiter{allowed: false}
		handler := NewWebhookHandler(svc, Options{InstanceHeader: "X-Discourse-Instance", Limiter: limiter})

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
		req.Header.Set("X-Discourse-Instance", "https://forum.example.com")
		rr := httptest.NewRecorder()
		handler.HandleWebhook(rr, req)

		if rr.Code != http.StatusTooManyRequests {
			t.Errorf("Expected status 429, got %d", rr.Code)
		}
		if svc.calls != 0 {
			t.Error("Expected service not to be called")
		}
		if len(limiter.keys) != 1 || limiter.keys[0] != "https://forum.example.com" {
			t.Errorf("Expected instance key, got %v", limiter.keys)
		}
	})

	t.Run("falls back to client ip", func(t *testing.T) {
		limiter := &mockLimiter{allowed: true}
		svc := &mockWebhookService{outcome: service.Outcome{Kind: service.Accepted}}
		handler := NewWebhookHandler(svc, Options{InstanceHeader: "X-Discourse-Instance", Limiter: limiter})

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
		req.RemoteAddr = "192.0.2.10:4567"
		handler.HandleWebhook(httptest.NewRecorder(), req)

		if len(limiter.keys) != 1 || limiter.keys[0] != "192.0.2.10" {
			t.Errorf("Expected client ip key, got %v", limiter.keys)
		}
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		limiter := &mockLimiter{err: errors.New("redis down")}
		svc := &mockWebhookService{outcome: service.Outcome{Kind: service.Accepted, MessageID: "m"}}
		handler := NewWebhookHandler(svc, Options{Limiter: limiter})

		rr := httptest.NewRecorder()
		handler.HandleWebhook(rr, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`)))

		if rr.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rr.Code)
		}
	})
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      messaging.ConnectionState
		wantStatus int
		wantHealth string
	}{
		{name: "connected", state: mockState(true), wantStatus: http.StatusOK, wantHealth: "healthy"},
		{name: "disconnected", state: mockState(false), wantStatus: http.StatusServiceUnavailable, wantHealth: "degraded"},
		{name: "no broker", state: nil, wantStatus: http.StatusServiceUnavailable, wantHealth: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewWebhookHandler(&mockWebhookService{}, Options{Broker: tt.state})

			rr := httptest.NewRecorder()
			handler.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rr.Code)
			}

			var body messaging.HealthStatus
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if body.Status != tt.wantHealth {
				t.Errorf("Expected status %q, got %q", tt.wantHealth, body.Status)
			}
			if body.Service != "gateway" {
				t.Errorf("Expected service gateway, got %q", body.Service)
			}
		})
	}
}

type recordedStat struct {
	source, eventType, ip string
}

type mockStats struct {
	records []recordedStat
}

func (m *mockStats) Record(source, eventType, clientIP string) {
	m.records = append(m.records, recordedStat{source, eventType, clientIP})
}

func TestHandleWebhook_RecordsAcceptedStats(t *testing.T) {
	stats := &mockStats{}
	opts := Options{
		EventHeader:    "X-Discourse-Event",
		InstanceHeader: "X-Discourse-Instance",
		Stats:          stats,
	}

	accepted := NewWebhookHandler(&mockWebhookService{outcome: service.Outcome{Kind: service.Accepted, MessageID: "m"}}, opts)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	req.RemoteAddr = "192.0.2.7:5555"
	req.Header.Set("X-Discourse-Event", "user_created")
	req.Header.Set("X-Discourse-Instance", "https://forum.example.com")
	accepted.HandleWebhook(httptest.NewRecorder(), req)

	rejected := NewWebhookHandler(&mockWebhookService{outcome: service.Outcome{Kind: service.Forbidden, Err: errors.New("x")}}, opts)
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	rejected.HandleWebhook(httptest.NewRecorder(), req)

	if len(stats.records) != 1 {
		t.Fatalf("Expected 1 recorded webhook, got %d", len(stats.records))
	}
	want := recordedStat{"https://forum.example.com", "user_created", "192.0.2.7"}
	if stats.records[0] != want {
		t.Errorf("Expected %+v, got %+v", want, stats.records[0])
	}
}
