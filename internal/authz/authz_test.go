package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/token"
)

type recordingObserver struct {
	mu      sync.Mutex
	reasons []string
}

func (o *recordingObserver) Rejected(_ context.Context, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons = append(o.reasons, reason)
}

type fixture struct {
	gate   *Gate
	tokens *token.Service
	clock  *clockwork.FakeClock
	obs    *recordingObserver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tokens, err := token.NewService([]byte("secret"), clock)
	require.NoError(t, err)
	obs := &recordingObserver{}
	return fixture{
		gate:   NewGate(tokens, apierr.NewResponder(apierr.LocaleEnglish, nil), obs, nil),
		tokens: tokens,
		clock:  clock,
		obs:    obs,
	}
}

func (f fixture) bearer(t *testing.T, admin bool) string {
	t.Helper()
	raw, err := f.tokens.Issue(entity.Account{ID: "7", Name: "Dana", Phone: "0501234567", IsAdmin: admin})
	require.NoError(t, err)
	return "Bearer " + raw
}

func claimsEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_ = json.NewEncoder(w).Encode(c)
	})
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func kindOf(t *testing.T, rec *httptest.ResponseRecorder) apierr.Kind {
	t.Helper()
	var b apierr.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	return b.Kind
}

func TestAuthenticate_AttachesClaims(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.gate.Authenticate(claimsEcho()), f.bearer(t, false))

	require.Equal(t, http.StatusOK, rec.Code)
	var c token.Claims
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "7", c.ID)
	assert.Equal(t, "Dana", c.Name)
	assert.Equal(t, "0501234567", c.Phone)
}

func TestAuthenticate_Failures(t *testing.T) {
	f := newFixture(t)
	expired := f.bearer(t, false)
	f.clock.Advance(token.TTL)

	cases := map[string]struct {
		header string
		reason string
	}{
		"missing":   {"", "missing_token"},
		"no scheme": {"abc", "missing_token"},
		"garbage":   {"Bearer not-a-token", "invalid_signature"},
		"expired":   {expired, "expired"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			f.obs.reasons = nil
			rec := serve(f.gate.Authenticate(claimsEcho()), c.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, apierr.KindAuthRequired, kindOf(t, rec))
			assert.Equal(t, []string{c.reason}, f.obs.reasons)
		})
	}
}

func TestAdminOnly(t *testing.T) {
	f := newFixture(t)
	h := f.gate.AdminOnly(claimsEcho())

	rec := serve(h, f.bearer(t, false))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apierr.KindForbidden, kindOf(t, rec))

	rec = serve(h, f.bearer(t, true))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin_WithoutAuthenticateNeverAdmits(t *testing.T) {
	f := newFixture(t)
	called := false
	h := f.gate.RequireAdmin(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := serve(h, f.bearer(t, true))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestClaimsFromContext_Empty(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)
	_, ok = ClaimsFromContext(WithClaims(context.Background(), nil))
	assert.False(t, ok)
}
