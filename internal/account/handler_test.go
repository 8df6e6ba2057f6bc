package account

import (
	"bytes"
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

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/authz"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/token"
)

type outcomes struct {
	mu       sync.Mutex
	login    []string
	register []string
}

func (o *outcomes) Login(_ context.Context, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.login = append(o.login, outcome)
}

func (o *outcomes) Register(_ context.Context, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.register = append(o.register, outcome)
}

type handlerFixture struct {
	svc    *Service
	tokens *token.Service
	h      *Handler
	obs    *outcomes
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	svc := newTestService(t)
	tokens, err := token.NewService([]byte("handler-test-secret"), clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	obs := &outcomes{}
	h := NewHandler(svc, tokens, apierr.NewResponder(apierr.LocaleEnglish, nil), obs, nil)
	return &handlerFixture{svc: svc, tokens: tokens, h: h, obs: obs}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func creds(name, phone, pw string) map[string]string {
	return map[string]string{"name": name, "phone": phone, "password": pw}
}

func TestHandler_RegisterReturnsTokenAndUser(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postJSON(t, f.h.Register, creds(" Dana ", "0501234567", "Aa1!aaaa"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Dana", resp.User.Name)
	assert.False(t, resp.User.IsAdmin)

	claims, err := f.tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.ID)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Equal(t, []string{"success"}, f.obs.register)
}

func TestHandler_RegisterValidationAndDuplicate(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postJSON(t, f.h.Register, creds("D", "050", "weak"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body apierr.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apierr.KindValidation, body.Kind)
	assert.NotEmpty(t, body.Errors)

	require.Equal(t, http.StatusCreated, postJSON(t, f.h.Register, creds("Dana", "0501234567", "Aa1!aaaa")).Code)
	rec = postJSON(t, f.h.Register, creds("Dana", "0501234567", "Aa1!aaaa"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apierr.KindDuplicateAccount, body.Kind)
}

func TestHandler_RegisterRejectsGarbage(t *testing.T) {
	f := newHandlerFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.h.Register(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_LoginFailuresAreIndistinguishable(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusCreated, postJSON(t, f.h.Register, creds("Dana", "0501234567", "Aa1!aaaa")).Code)

	wrongPw := postJSON(t, f.h.Login, creds("Dana", "0501234567", "Bb2@bbbb"))
	unknown := postJSON(t, f.h.Login, creds("Eli", "0501234567", "Aa1!aaaa"))
	assert.Equal(t, wrongPw.Code, unknown.Code)
	assert.JSONEq(t, wrongPw.Body.String(), unknown.Body.String())

	ok := postJSON(t, f.h.Login, creds("Dana", "0501234567", "Aa1!aaaa"))
	require.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, []string{string(apierr.KindInvalidCredentials), string(apierr.KindInvalidCredentials), "success"}, f.obs.login)
}

func TestHandler_Check(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postJSON(t, f.h.Check, map[string]string{"name": "Dana", "phone": "0501234567"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"exists":false,"isAdmin":false}`, rec.Body.String())

	require.Equal(t, http.StatusCreated, postJSON(t, f.h.Register, creds("Dana", "0501234567", "Aa1!aaaa")).Code)
	rec = postJSON(t, f.h.Check, map[string]string{"name": "Dana", "phone": "0501234567"})
	var resp CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Exists)
	require.NotNil(t, resp.User)
	assert.Equal(t, "Dana", resp.User.Name)
}

func TestHandler_CreateAdminPromotes(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusCreated, postJSON(t, f.h.Register, creds("Dana", "0501234567", "Aa1!aaaa")).Code)

	rec := postJSON(t, f.h.CreateAdmin, creds("Dana", "0501234567", "Aa1!aaaa"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.User.IsAdmin)

	a, err := f.svc.Verify(context.Background(), "Dana", "0501234567", "Aa1!aaaa")
	require.NoError(t, err)
	assert.True(t, a.IsAdmin)
}

func TestHandler_CreateAdminNewAccountIsCreated(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postJSON(t, f.h.CreateAdmin, creds("Root", "0500000000", "Rr1!rrrr"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.User.IsAdmin)
	assert.Equal(t, "Root", resp.User.Name)

	// same phone again only resets the password
	rec = postJSON(t, f.h.CreateAdmin, creds("Root", "0500000000", "Zz9#zzzz"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_GetOwnAccountOnly(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	dana, err := f.svc.Register(ctx, "Dana", "0501234567", "Aa1!aaaa")
	require.NoError(t, err)
	eli, err := f.svc.Register(ctx, "Eli", "0507654321", "Aa1!aaaa")
	require.NoError(t, err)

	get := func(id string, claims *token.Claims) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/users/"+id, nil)
		req.SetPathValue("id", id)
		if claims != nil {
			req = req.WithContext(authz.WithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		f.h.Get(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, get(dana.ID, &token.Claims{ID: dana.ID}).Code)
	assert.Equal(t, http.StatusForbidden, get(eli.ID, &token.Claims{ID: dana.ID}).Code)
	assert.Equal(t, http.StatusOK, get(eli.ID, &token.Claims{ID: dana.ID, IsAdmin: true}).Code)
	assert.Equal(t, http.StatusNotFound, get("missing", &token.Claims{ID: "x", IsAdmin: true}).Code)
	assert.Equal(t, http.StatusUnauthorized, get(dana.ID, nil).Code)
}

func TestHandler_List(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "Dana", "0501234567", "Aa1!aaaa")
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "Eli", "0507654321", "Aa1!aaaa")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.h.List(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var users []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 2)
	assert.Equal(t, "Dana", users[0]["name"])
	assert.NotContains(t, rec.Body.String(), "passwordHash")
}
