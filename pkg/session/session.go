// Package session holds the client side of an authenticated session: the
// current token and account snapshot, restored from session-scoped storage
// on startup and purged on logout.
//
// A Manager starts in Hydrating. Until Hydrate finishes, the token and the
// account are not readable; consumers wait on Ready before deciding whether
// the user is signed in.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/utilities"
)

type State int

const (
	Hydrating State = iota
	Anonymous
	Authenticated
)

func (s State) String() string {
	switch s {
	case Hydrating:
		return "hydrating"
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Storage keys, shared with the web client.
const (
	KeyToken     = "token"
	KeyUser      = "user"
	KeyUserName  = "userName"
	KeyUserPhone = "userPhone"
	KeyIsAdmin   = "isAdmin"
)

var (
	ErrNotHydrated = errors.New("session: still hydrating")
	ErrEmptyToken  = errors.New("session: empty token")
)

// Account is the snapshot of the signed-in account kept with the token.
type Account struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	IsAdmin bool   `json:"isAdmin"`
}

// Storage is a session-scoped key/value store.
type Storage interface {
	// Get returns ok=false when key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context) error
}

type Manager struct {
	storage Storage
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	state    State
	token    string
	account  Account
	started  bool
	ready    chan struct{}
	markOnce sync.Once
}

func NewManager(storage Storage, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		storage: storage,
		logger:  utilities.Nop(logger),
		state:   Hydrating,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once hydration has completed.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Wait blocks until hydration completes or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) markReady() {
	m.markOnce.Do(func() { close(m.ready) })
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Hydrate restores a previously persisted session. Missing or corrupt data
// is purged and leaves the manager Anonymous. Only the first call does work.
func (m *Manager) Hydrate(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()
	defer m.markReady()

	tok, acct, err := m.restore(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Hydrating {
		// logged out while the read was in flight
		return nil
	}
	if err != nil || tok == "" {
		m.state = Anonymous
		return err
	}
	m.state, m.token, m.account = Authenticated, tok, acct
	return nil
}

func (m *Manager) restore(ctx context.Context) (string, Account, error) {
	tok, okTok, err := m.storage.Get(ctx, KeyToken)
	if err != nil {
		return "", Account{}, fmt.Errorf("read %s: %w", KeyToken, err)
	}
	raw, okUser, err := m.storage.Get(ctx, KeyUser)
	if err != nil {
		return "", Account{}, fmt.Errorf("read %s: %w", KeyUser, err)
	}
	if !okTok && !okUser {
		return "", Account{}, nil
	}

	var acct Account
	corrupt := !okTok || tok == "" || !okUser || raw == "" || raw == "undefined" || raw == "null"
	if !corrupt {
		if err := json.Unmarshal([]byte(raw), &acct); err != nil {
			m.logger.Warnw("stored session account is unreadable", "err", err)
			corrupt = true
		} else if strings.TrimSpace(acct.Name) == "" || strings.TrimSpace(acct.Phone) == "" {
			m.logger.Warnw("stored session account is incomplete")
			corrupt = true
		}
	}
	if corrupt {
		if err := m.storage.Clear(ctx); err != nil {
			return "", Account{}, fmt.Errorf("purge corrupt session: %w", err)
		}
		return "", Account{}, nil
	}
	return tok, acct, nil
}

// Login records a new session. It fails with ErrNotHydrated before Hydrate
// has completed.
func (m *Manager) Login(ctx context.Context, acct Account, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Hydrating {
		return ErrNotHydrated
	}

	if err := m.persist(ctx, acct, token); err != nil {
		if cerr := m.storage.Clear(ctx); cerr != nil {
			m.logger.Warnw("clear after failed persist", "err", cerr)
		}
		return err
	}
	m.state, m.token, m.account = Authenticated, token, acct
	return nil
}

func (m *Manager) persist(ctx context.Context, acct Account, token string) error {
	user, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	pairs := [][2]string{
		{KeyToken, token},
		{KeyUser, string(user)},
		{KeyUserName, acct.Name},
		{KeyUserPhone, acct.Phone},
		{KeyIsAdmin, strconv.FormatBool(acct.IsAdmin)},
	}
	for _, p := range pairs {
		if err := m.storage.Set(ctx, p[0], p[1]); err != nil {
			return fmt.Errorf("persist %s: %w", p[0], err)
		}
	}
	return nil
}

// Logout moves to Anonymous from any state and purges persisted data. A
// hydration still in flight finishes as Anonymous.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.state, m.token, m.account = Anonymous, "", Account{}
	m.mu.Unlock()
	m.markReady()

	if err := m.storage.Clear(ctx); err != nil {
		return fmt.Errorf("purge session: %w", err)
	}
	return nil
}

// Current returns the account and token. ok is false when anonymous.
func (m *Manager) Current() (acct Account, token string, ok bool, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch m.state {
	case Hydrating:
		return Account{}, "", false, ErrNotHydrated
	case Authenticated:
		return m.account, m.token, true, nil
	default:
		return Account{}, "", false, nil
	}
}

func (m *Manager) IsAuthenticated() bool {
	return m.State() == Authenticated
}

// IsAdmin reports the admin flag of the stored account snapshot.
func (m *Manager) IsAdmin() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == Authenticated && m.account.IsAdmin
}

// AuthHeader returns the Authorization header for the current token, or an
// empty header when there is none.
func (m *Manager) AuthHeader() http.Header {
	h := http.Header{}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == Authenticated && m.token != "" {
		h.Set("Authorization", "Bearer "+m.token)
	}
	return h
}

// Authorize copies AuthHeader onto req and reports whether a token was attached.
func (m *Manager) Authorize(req *http.Request) bool {
	h := m.AuthHeader()
	v := h.Get("Authorization")
	if v == "" {
		return false
	}
	req.Header.Set("Authorization", v)
	return true
}
