package session

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dana = Account{ID: "42", Name: "Dana", Phone: "0501234567"}

func hydrated(t *testing.T, st Storage) *Manager {
	t.Helper()
	m := NewManager(st, nil)
	require.NoError(t, m.Hydrate(context.Background()))
	return m
}

func TestManager_StartsHydratingAndHidesState(t *testing.T) {
	m := NewManager(NewMemoryStorage(), nil)
	assert.Equal(t, Hydrating, m.State())

	_, _, _, err := m.Current()
	assert.ErrorIs(t, err, ErrNotHydrated)
	assert.ErrorIs(t, m.Login(context.Background(), dana, "tok"), ErrNotHydrated)
	assert.Empty(t, m.AuthHeader())

	select {
	case <-m.Ready():
		t.Fatal("ready before hydration")
	default:
	}
}

func TestManager_EmptyStorageHydratesAnonymous(t *testing.T) {
	m := hydrated(t, NewMemoryStorage())
	assert.Equal(t, Anonymous, m.State())
	<-m.Ready()

	_, _, ok, err := m.Current()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, m.AuthHeader().Get("Authorization"))
}

func TestManager_LoginPersistsAndSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStorage()
	m := hydrated(t, st)

	require.NoError(t, m.Login(ctx, dana, "tok-1"))
	assert.Equal(t, Authenticated, m.State())
	assert.Equal(t, "Bearer tok-1", m.AuthHeader().Get("Authorization"))

	for key, want := range map[string]string{
		KeyToken:     "tok-1",
		KeyUserName:  "Dana",
		KeyUserPhone: "0501234567",
		KeyIsAdmin:   "false",
	} {
		got, ok, err := st.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	restarted := hydrated(t, st)
	acct, tok, ok, err := restarted.Current()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, dana, acct)
}

func TestManager_AdminComesFromAccountSnapshot(t *testing.T) {
	ctx := context.Background()
	m := hydrated(t, NewMemoryStorage())
	require.NoError(t, m.Login(ctx, dana, "tok-1"))
	assert.False(t, m.IsAdmin())

	admin := dana
	admin.IsAdmin = true
	require.NoError(t, m.Login(ctx, admin, "tok-2"))
	assert.True(t, m.IsAdmin())
	assert.Equal(t, "Bearer tok-2", m.AuthHeader().Get("Authorization"))
}

func TestManager_LogoutPurgesAndStaysAnonymousAfterRestart(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStorage()
	m := hydrated(t, st)
	require.NoError(t, m.Login(ctx, dana, "tok-1"))

	require.NoError(t, m.Logout(ctx))
	assert.Equal(t, Anonymous, m.State())
	_, ok, _ := st.Get(ctx, KeyToken)
	assert.False(t, ok)

	assert.Equal(t, Anonymous, hydrated(t, st).State())
}

func TestManager_CorruptDataIsPurged(t *testing.T) {
	cases := map[string]map[string]string{
		"token only":     {KeyToken: "tok"},
		"user only":      {KeyUser: `{"name":"Dana"}`},
		"undefined user": {KeyToken: "tok", KeyUser: "undefined"},
		"bad json":       {KeyToken: "tok", KeyUser: "{nope", KeyUserName: "Dana"},
		"empty token":    {KeyToken: "", KeyUser: `{"name":"Dana"}`},
		"null user":      {KeyToken: "tok", KeyUser: "null"},
		"nameless user":  {KeyToken: "tok", KeyUser: `{"name":"","phone":"0501234567"}`},
		"phoneless user": {KeyToken: "tok", KeyUser: `{"name":"Dana"}`},
		"empty object":   {KeyToken: "tok", KeyUser: "{}"},
	}
	for name, stored := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := NewMemoryStorage()
			for k, v := range stored {
				require.NoError(t, st.Set(ctx, k, v))
			}

			m := hydrated(t, st)
			assert.Equal(t, Anonymous, m.State())
			for k := range stored {
				_, ok, err := st.Get(ctx, k)
				require.NoError(t, err)
				assert.False(t, ok, "key %s should be purged", k)
			}
		})
	}
}

// blockingStorage holds Get until release is closed.
type blockingStorage struct {
	*MemoryStorage
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStorage) Get(ctx context.Context, key string) (string, bool, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.MemoryStorage.Get(ctx, key)
}

func TestManager_LogoutDuringHydrationWins(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage()
	require.NoError(t, mem.Set(ctx, KeyToken, "tok"))
	require.NoError(t, mem.Set(ctx, KeyUser, `{"name":"Dana","phone":"0501234567"}`))
	st := &blockingStorage{MemoryStorage: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}

	m := NewManager(st, nil)
	done := make(chan error, 1)
	go func() { done <- m.Hydrate(ctx) }()

	select {
	case <-st.entered:
	case <-time.After(time.Second):
		t.Fatal("hydration never read storage")
	}
	require.NoError(t, m.Logout(ctx))
	close(st.release)
	require.NoError(t, <-done)

	assert.Equal(t, Anonymous, m.State())
	assert.Empty(t, m.AuthHeader().Get("Authorization"))
}

func TestManager_HydrateOnlyOnce(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStorage()
	m := hydrated(t, st)
	require.NoError(t, m.Login(ctx, dana, "tok"))

	require.NoError(t, m.Hydrate(ctx))
	assert.Equal(t, Authenticated, m.State())
}

func TestManager_WaitHonoursContext(t *testing.T) {
	m := NewManager(NewMemoryStorage(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)

	require.NoError(t, m.Hydrate(context.Background()))
	assert.NoError(t, m.Wait(context.Background()))
}

func TestManager_Authorize(t *testing.T) {
	m := hydrated(t, NewMemoryStorage())
	req, err := http.NewRequest(http.MethodGet, "http://example.test", nil)
	require.NoError(t, err)
	assert.False(t, m.Authorize(req))

	require.NoError(t, m.Login(context.Background(), dana, "tok"))
	assert.True(t, m.Authorize(req))
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
}

func TestManager_EmptyTokenRejected(t *testing.T) {
	m := hydrated(t, NewMemoryStorage())
	assert.ErrorIs(t, m.Login(context.Background(), dana, ""), ErrEmptyToken)
	assert.Equal(t, Anonymous, m.State())
}

type failingStorage struct{ *MemoryStorage }

func (failingStorage) Set(context.Context, string, string) error { return errors.New("disk full") }

func TestManager_LoginPersistFailureKeepsState(t *testing.T) {
	m := hydrated(t, failingStorage{NewMemoryStorage()})
	assert.Error(t, m.Login(context.Background(), dana, "tok"))
	assert.Equal(t, Anonymous, m.State())
}

func TestSQLiteStorage_RestartAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	st, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	m := hydrated(t, st)
	require.NoError(t, m.Login(ctx, dana, "tok-1"))
	require.NoError(t, st.Set(ctx, KeyToken, "tok-2"))
	require.NoError(t, st.Close())

	st, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	restarted := hydrated(t, st)
	acct, tok, ok, err := restarted.Current()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, "Dana", acct.Name)

	require.NoError(t, restarted.Logout(ctx))
	_, ok, err = st.Get(ctx, KeyUser)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStorage_InMemory(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, ok, err := st.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Set(ctx, "k", "old"))
	require.NoError(t, st.Set(ctx, "k", "new"))
	v, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", v)
}
