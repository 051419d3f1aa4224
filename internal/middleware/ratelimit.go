package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/trafficwatch/sos-assistant/backend/pkg/utils"
)

// Limiter decides whether a key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// RateLimit 按客户端 IP 限流；limiter 为 nil 时不做限制。
func RateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !limiter.Allow(r.Context(), key) {
				slog.Warn("rate limited", "client", key, "path", r.URL.Path)
				utils.RespondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey relies on chi's RealIP having rewritten RemoteAddr.
func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
