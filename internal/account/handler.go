package account

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/authz"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/validate"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/utilities"
)

const maxBodyBytes = 1 << 20

// TokenIssuer signs a session token for an account.
type TokenIssuer interface {
	Issue(a entity.Account) (string, error)
}

// Observer counts login and registration outcomes.
type Observer interface {
	Login(ctx context.Context, outcome string)
	Register(ctx context.Context, outcome string)
}

// Handler exposes HTTP endpoints for account operations.
type Handler struct {
	svc       *Service
	tokens    TokenIssuer
	responder *apierr.Responder
	observer  Observer
	logger    *zap.SugaredLogger
}

func NewHandler(svc *Service, tokens TokenIssuer, responder *apierr.Responder, observer Observer, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, tokens: tokens, responder: responder, observer: observer, logger: utilities.Nop(logger)}
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string               `json:"token"`
	User  entity.PublicAccount `json:"user"`
}

// CheckResponse is returned by the existence check.
type CheckResponse struct {
	Exists  bool                  `json:"exists"`
	IsAdmin bool                  `json:"isAdmin"`
	User    *entity.PublicAccount `json:"user,omitempty"`
}

// UserResponse wraps a single account.
type UserResponse struct {
	User entity.PublicAccount `json:"user"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		return fmt.Errorf("%w: invalid payload", apierr.ErrValidation)
	}
	return nil
}

func recordOutcome(ctx context.Context, record func(context.Context, string), err error) {
	outcome := "success"
	if err != nil {
		_, kind := apierr.Status(err)
		outcome = string(kind)
	}
	record(ctx, outcome)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request, status int, a *entity.Account) {
	tok, err := h.tokens.Issue(*a)
	if err != nil {
		h.responder.Write(w, r, fmt.Errorf("issue token: %w", err))
		return
	}
	apierr.WriteJSON(w, status, AuthResponse{Token: tok, User: a.Public()})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req validate.Credentials
	err := h.decode(w, r, &req)
	if err == nil {
		err = validate.Registration(&req)
	}
	var a *entity.Account
	if err == nil {
		a, err = h.svc.Register(r.Context(), req.Name, req.Phone, req.Password)
	}
	if h.observer != nil {
		recordOutcome(r.Context(), h.observer.Register, err)
	}
	if err != nil {
		h.logger.Debugw("register failed", "err", err)
		h.responder.Write(w, r, err)
		return
	}
	h.issue(w, r, http.StatusCreated, a)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req validate.Credentials
	err := h.decode(w, r, &req)
	if err == nil {
		err = validate.Login(&req)
	}
	var a *entity.Account
	if err == nil {
		a, err = h.svc.Verify(r.Context(), req.Name, req.Phone, req.Password)
	}
	if h.observer != nil {
		recordOutcome(r.Context(), h.observer.Login, err)
	}
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		h.responder.Write(w, r, err)
		return
	}
	h.logger.Infow("user logged in", "account_id", a.ID)
	h.issue(w, r, http.StatusOK, a)
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req validate.Lookup
	err := h.decode(w, r, &req)
	if err == nil {
		err = validate.Check(&req)
	}
	if err != nil {
		h.responder.Write(w, r, err)
		return
	}
	a, exists, err := h.svc.Check(r.Context(), req.Name, req.Phone)
	if err != nil {
		h.responder.Write(w, r, err)
		return
	}
	resp := CheckResponse{Exists: exists}
	if exists {
		pub := a.Public()
		resp.IsAdmin = a.IsAdmin
		resp.User = &pub
	}
	apierr.WriteJSON(w, http.StatusOK, resp)
}

// CreateAdmin promotes the accounts holding the given phone (200), or creates
// a new admin (201). The route must be mounted behind the admin gate.
func (h *Handler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req validate.Credentials
	err := h.decode(w, r, &req)
	if err == nil {
		err = validate.Registration(&req)
	}
	var (
		a       *entity.Account
		created bool
	)
	if err == nil {
		a, created, err = h.svc.PromoteToAdmin(r.Context(), req.Name, req.Phone, req.Password)
	}
	if err != nil {
		h.responder.Write(w, r, err)
		return
	}
	if claims, ok := authz.ClaimsFromContext(r.Context()); ok {
		h.logger.Infow("admin created", "by", claims.ID, "account_id", a.ID, "new_account", created)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	apierr.WriteJSON(w, status, UserResponse{User: a.Public()})
}

// List returns every account. Admin only.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.List(r.Context())
	if err != nil {
		h.responder.Write(w, r, err)
		return
	}
	out := make([]entity.PublicAccount, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Public())
	}
	apierr.WriteJSON(w, http.StatusOK, out)
}

// Get returns one account. Callers may read their own account; admins any.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	claims, ok := authz.ClaimsFromContext(r.Context())
	if !ok {
		h.responder.Write(w, r, apierr.ErrMissingToken)
		return
	}
	if !claims.IsAdmin && claims.ID != id {
		h.responder.Write(w, r, apierr.ErrForbidden)
		return
	}
	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.responder.Write(w, r, err)
		return
	}
	apierr.WriteJSON(w, http.StatusOK, UserResponse{User: a.Public()})
}
