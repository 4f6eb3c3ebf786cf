package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP address from the request. It checks, in
// order, the first entry of X-Forwarded-For, X-Real-IP and RemoteAddr, and
// strips any port.
func GetClientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = strings.TrimSpace(strings.Split(xff, ",")[0])
	} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip = strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
