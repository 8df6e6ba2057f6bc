package apierr

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation"
	"go.uber.org/zap"
)

// FieldError is one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Body is the JSON shape of every error response.
type Body struct {
	Error             string       `json:"error"`
	Kind              Kind         `json:"kind"`
	Errors            []FieldError `json:"errors,omitempty"`
	RetryAfterSeconds int          `json:"retryAfterSeconds,omitempty"`
}

// Responder writes taxonomy errors as localized JSON responses.
type Responder struct {
	locale string
	logger *zap.SugaredLogger
}

func NewResponder(defaultLocale string, logger *zap.SugaredLogger) *Responder {
	if !SupportedLocale(defaultLocale) {
		defaultLocale = LocaleHebrew
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Responder{locale: defaultLocale, logger: logger}
}

// Locale picks the response language for r.
func (rs *Responder) Locale(r *http.Request) string {
	fallback := LocaleHebrew
	if rs != nil {
		fallback = rs.locale
	}
	if r == nil {
		return fallback
	}
	return negotiate(r.Header.Get("Accept-Language"), fallback)
}

// Status maps err to its HTTP status code and kind.
func Status(err error) (int, Kind) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, KindValidation
	case errors.Is(err, ErrDuplicateAccount):
		return http.StatusBadRequest, KindDuplicateAccount
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusBadRequest, KindInvalidCredentials
	case IsAuthFailure(err):
		return http.StatusUnauthorized, KindAuthRequired
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, KindForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, KindRateLimited
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, KindNotFound
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// Write renders err. Errors outside the taxonomy are logged and replaced by a
// generic message.
func (rs *Responder) Write(w http.ResponseWriter, r *http.Request, err error) {
	if rs == nil {
		rs = NewResponder(LocaleHebrew, nil)
	}
	status, kind := Status(err)
	locale := rs.Locale(r)
	body := Body{Kind: kind, Error: Message(locale, string(kind))}

	switch kind {
	case KindInternal:
		path := ""
		if r != nil {
			path = r.URL.Path
		}
		rs.logger.Errorw("internal error", "path", path, "err", err)
	case KindValidation:
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			body.Errors = fieldErrors(locale, verrs)
		}
	case KindRateLimited:
		var rl *RateLimitError
		if errors.As(err, &rl) {
			secs := RetryAfterSeconds(rl)
			body.RetryAfterSeconds = secs
			body.Error = Message(locale, "rate_limited."+rl.Tier)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	WriteJSON(w, status, body)
}

// RetryAfterSeconds rounds the remaining window up to whole seconds, never below 1.
func RetryAfterSeconds(e *RateLimitError) int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func fieldErrors(locale string, verrs validation.Errors) []FieldError {
	fields := make([]string, 0, len(verrs))
	for f := range verrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := make([]FieldError, 0, len(fields))
	for _, f := range fields {
		if verrs[f] == nil {
			continue
		}
		out = append(out, FieldError{Field: f, Message: Message(locale, verrs[f].Error())})
	}
	return out
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
