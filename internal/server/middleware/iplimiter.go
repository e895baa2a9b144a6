package middleware

import (
	"log/slog"
	"net/http"

	"github.com/classlab/realtime/pkg/config"
)

// IPConnectionCounter reports how many sockets a remote address holds.
type IPConnectionCounter func(ip string) int

// NewIPConnectionLimiter rejects upgrades from addresses that already hold
// the configured number of connections. Identity is unknown at upgrade
// time (authentication is in-band), so the limit is keyed by IP.
//
// The count is read before the connection is tracked, so a burst of
// simultaneous upgrades from one address can briefly overshoot the cap.
// The limit is a soft abuse brake, not an accounting guarantee.
func NewIPConnectionLimiter(logger *slog.Logger, counter IPConnectionCounter, cfg config.RateLimitConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxConnsPerIP <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if count := counter(reqMeta.IP); count >= cfg.MaxConnsPerIP {
				logger.Warn("Connection limit reached for address",
					slog.String("ip", reqMeta.IP),
					slog.Int("count", count),
				)
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
