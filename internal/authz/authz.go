// Package authz gates HTTP handlers on a verified bearer token and, for
// admin-only routes, on the admin claim.
package authz

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/token"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/utilities"
)

var ErrForbidden = apierr.ErrForbidden

// Verifier resolves a raw token into its claims.
type Verifier interface {
	Verify(raw string) (*token.Claims, error)
}

// Observer is told why a request was turned away.
type Observer interface {
	Rejected(ctx context.Context, reason string)
}

type claimsContextKey struct{}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// ClaimsFromContext returns the claims attached by Authenticate.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*token.Claims)
	return c, ok && c != nil
}

// Gate builds the two middlewares. It is safe for concurrent use.
type Gate struct {
	verifier  Verifier
	responder *apierr.Responder
	observer  Observer
	logger    *zap.SugaredLogger
}

func NewGate(v Verifier, responder *apierr.Responder, observer Observer, logger *zap.SugaredLogger) *Gate {
	return &Gate{verifier: v, responder: responder, observer: observer, logger: utilities.Nop(logger)}
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	if g.observer != nil {
		g.observer.Rejected(r.Context(), reason)
	}
	g.responder.Write(w, r, err)
}

// Authenticate verifies the bearer token and stores its claims in the
// request context. Every token failure answers 401; the cause is only logged.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := token.Extract(r.Header.Get("Authorization"))
		if err == nil {
			var claims *token.Claims
			claims, err = g.verifier.Verify(raw)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
				return
			}
		}
		reason := reasonFor(err)
		g.logger.Debugw("authentication failed", "path", r.URL.Path, "reason", reason, "err", err)
		g.reject(w, r, reason, err)
	})
}

// RequireAdmin admits only requests whose claims carry the admin flag. It
// must sit behind Authenticate; without claims in the context it answers 401.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			g.logger.Errorw("admin gate reached without authentication", "path", r.URL.Path)
			g.reject(w, r, "missing_token", apierr.ErrMissingToken)
			return
		}
		if !claims.IsAdmin {
			g.logger.Warnw("access denied: admin permissions required", "user_id", claims.ID, "path", r.URL.Path)
			g.reject(w, r, "forbidden", ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminOnly chains Authenticate then RequireAdmin.
func (g *Gate) AdminOnly(next http.Handler) http.Handler {
	return g.Authenticate(g.RequireAdmin(next))
}

func reasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apierr.ErrExpired):
		return "expired"
	case errors.Is(err, apierr.ErrMissingToken):
		return "missing_token"
	default:
		return "invalid_signature"
	}
}
