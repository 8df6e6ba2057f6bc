package ratelimit

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
)

// AddressFunc resolves the caller address used as the bucket key.
type AddressFunc func(r *http.Request) string

// ClientAddress keys on the TCP peer, or on the last X-Forwarded-For hop
// when the service runs behind a trusted proxy. The last hop is the one that
// proxy appended; anything left of it came from the caller.
func ClientAddress(trustProxy bool) AddressFunc {
	return func(r *http.Request) string {
		if trustProxy {
			if ip := lastForwardedHop(r.Header.Values("X-Forwarded-For")); ip != "" {
				return ip
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

func lastForwardedHop(values []string) string {
	for i := len(values) - 1; i >= 0; i-- {
		hops := strings.Split(values[i], ",")
		for j := len(hops) - 1; j >= 0; j-- {
			if ip := strings.TrimSpace(hops[j]); ip != "" {
				return ip
			}
		}
	}
	return ""
}

// Middleware admits requests against tier before calling next. Admitted and
// rejected responses both carry RateLimit-* headers; rejections answer 429
// with Retry-After. A store failure is logged and the request is let through.
func (l *Limiter) Middleware(tier Tier, addr AddressFunc, responder *apierr.Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Admit(r.Context(), addr(r), tier)
			if err != nil && !errors.Is(err, ErrRateLimited) {
				l.logger.Errorw("rate limit store failed, admitting request", "tier", tier.Name, "err", err)
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(tier.Max))
			h.Set("RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
			h.Set("RateLimit-Reset", strconv.Itoa(int(math.Ceil(d.ResetIn.Seconds()))))
			if err != nil {
				responder.Write(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
