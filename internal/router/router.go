package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/account"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/authz"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/validate"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs every request with a request id, echoed back in X-Request-ID.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Infow("http request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			if h.Get("Content-Security-Policy") == "" {
				h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RecoverMiddleware turns a panic into a generic 500.
func RecoverMiddleware(responder *apierr.Responder, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Errorw("panic serving request", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
					responder.Write(w, r, fmt.Errorf("panic: %v", rec))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// validatePrompt checks the prompt text and hands the body on with the prompt
// trimmed. Other fields pass through untouched.
func validatePrompt(responder *apierr.Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var fields map[string]json.RawMessage
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&fields); err != nil || fields == nil {
				responder.Write(w, r, fmt.Errorf("%w: invalid payload", apierr.ErrValidation))
				return
			}
			var p validate.PromptText
			if raw, ok := fields["prompt"]; ok {
				if err := json.Unmarshal(raw, &p.Prompt); err != nil {
					responder.Write(w, r, fmt.Errorf("%w: invalid payload", apierr.ErrValidation))
					return
				}
			}
			if err := validate.Prompt(&p); err != nil {
				responder.Write(w, r, err)
				return
			}
			trimmed, err := json.Marshal(p.Prompt)
			if err != nil {
				responder.Write(w, r, err)
				return
			}
			fields["prompt"] = trimmed
			body, err := json.Marshal(fields)
			if err != nil {
				responder.Write(w, r, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the components the routes are wired to.
type Deps struct {
	Logger    *zap.SugaredLogger
	Responder *apierr.Responder
	Accounts  *account.Handler
	Gate      *authz.Gate
	Limiter   *ratelimit.Limiter
	Address   ratelimit.AddressFunc
	// Prompts is the downstream prompt service. When nil the route is not mounted.
	Prompts http.Handler
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
// Every /api route passes the general tier first; auth and prompt routes then
// pass their own tier before the authorization gates.
func RegisterRoutes(d Deps) http.Handler {
	logger := utilities.Nop(d.Logger)
	tier := func(t ratelimit.Tier) func(http.Handler) http.Handler {
		return d.Limiter.Middleware(t, d.Address, d.Responder)
	}
	authTier := tier(ratelimit.Auth)

	api := http.NewServeMux()
	api.Handle("POST /api/users/register", authTier(http.HandlerFunc(d.Accounts.Register)))
	api.Handle("POST /api/users/login", authTier(http.HandlerFunc(d.Accounts.Login)))
	api.Handle("POST /api/users/check", authTier(http.HandlerFunc(d.Accounts.Check)))
	api.Handle("GET /api/users", d.Gate.AdminOnly(http.HandlerFunc(d.Accounts.List)))
	api.Handle("GET /api/users/{id}", d.Gate.Authenticate(http.HandlerFunc(d.Accounts.Get)))
	api.Handle("POST /api/users/create-admin", d.Gate.AdminOnly(http.HandlerFunc(d.Accounts.CreateAdmin)))
	if d.Prompts != nil {
		api.Handle("POST /api/prompts", tier(ratelimit.Prompt)(d.Gate.Authenticate(validatePrompt(d.Responder)(d.Prompts))))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/api/", tier(ratelimit.General)(api))

	// wrap with recovery and security headers, then logging outermost
	return LoggingMiddleware(logger)(SecurityHeadersMiddleware()(RecoverMiddleware(d.Responder, logger)(mux)))
}
