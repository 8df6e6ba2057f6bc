// Package apiclient calls the auth endpoints on behalf of a client session.
// The session is injected; the client attaches its bearer token and logs it
// out when the server no longer accepts that token.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/session"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/utilities"
)

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// Language is sent as Accept-Language when set.
	Language string
}

type Client struct {
	baseURL  string
	http     *http.Client
	language string
	session  *session.Manager
	logger   *zap.SugaredLogger
}

func New(cfg Config, sess *session.Manager, logger *zap.SugaredLogger) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     hc,
		language: cfg.Language,
		session:  sess,
		logger:   utilities.Nop(logger),
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status     int
	Kind       apierr.Kind
	Message    string
	Fields     []apierr.FieldError
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Kind, e.Message)
}

// Unwrap lets callers match the server's error kinds with errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Kind {
	case apierr.KindValidation:
		return apierr.ErrValidation
	case apierr.KindDuplicateAccount:
		return apierr.ErrDuplicateAccount
	case apierr.KindInvalidCredentials:
		return apierr.ErrInvalidCredentials
	case apierr.KindForbidden:
		return apierr.ErrForbidden
	case apierr.KindRateLimited:
		return apierr.ErrRateLimited
	case apierr.KindNotFound:
		return apierr.ErrNotFound
	default:
		return nil
	}
}

// Do sends a JSON request and decodes a 2xx JSON answer into out. It waits
// for the session to finish hydrating before reading the token.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	if err := c.session.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.language != "" {
		req.Header.Set("Accept-Language", c.language)
	}
	withToken := c.session.Authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && withToken {
		c.logger.Infow("token rejected, signing out", "path", path)
		if err := c.session.Logout(ctx); err != nil {
			c.logger.Warnw("logout after 401 failed", "err", err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var b apierr.Body
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&b); err == nil {
		apiErr.Kind, apiErr.Message, apiErr.Fields = b.Kind, b.Error, b.Errors
		if b.RetryAfterSeconds > 0 {
			apiErr.RetryAfter = time.Duration(b.RetryAfterSeconds) * time.Second
		}
	} else {
		apiErr.Message = resp.Status
	}
	if apiErr.RetryAfter == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

type credentials struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string          `json:"token"`
	User  session.Account `json:"user"`
}

// CheckResult is the answer to an existence check.
type CheckResult struct {
	Exists  bool             `json:"exists"`
	IsAdmin bool             `json:"isAdmin"`
	User    *session.Account `json:"user,omitempty"`
}

// Register creates an account and signs the session in with it.
func (c *Client) Register(ctx context.Context, name, phone, password string) (session.Account, error) {
	return c.authenticate(ctx, "/api/users/register", credentials{name, phone, password})
}

// Login signs the session in.
func (c *Client) Login(ctx context.Context, name, phone, password string) (session.Account, error) {
	return c.authenticate(ctx, "/api/users/login", credentials{name, phone, password})
}

func (c *Client) authenticate(ctx context.Context, path string, in credentials) (session.Account, error) {
	var out authResponse
	if err := c.Do(ctx, http.MethodPost, path, in, &out); err != nil {
		return session.Account{}, err
	}
	if err := c.session.Login(ctx, out.User, out.Token); err != nil {
		return session.Account{}, err
	}
	return out.User, nil
}

func (c *Client) Check(ctx context.Context, name, phone string) (CheckResult, error) {
	var out CheckResult
	err := c.Do(ctx, http.MethodPost, "/api/users/check", map[string]string{"name": name, "phone": phone}, &out)
	return out, err
}

// Logout ends the session locally. Tokens are stateless, so the server is
// not involved.
func (c *Client) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}
