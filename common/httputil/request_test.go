package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote addr with port", remoteAddr: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "x-forwarded-for first entry", remoteAddr: "10.0.0.1:5555", headers: map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18"}, want: "203.0.113.195"},
		{name: "x-real-ip", remoteAddr: "10.0.0.1:5555", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, want: "198.51.100.7"},
		{name: "forwarded wins over real ip", remoteAddr: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, want: "1.1.1.1"},
		{name: "ipv6 with port", remoteAddr: "[::1]:8080", want: "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}
