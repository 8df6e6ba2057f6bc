package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/account/entity"
)

type namePhone struct{ name, phone string }

// MemoryRepo keeps accounts in process memory. It backs local development
// (STORE_DRIVER=memory) and tests.
type MemoryRepo struct {
	mu    sync.RWMutex
	byID  map[string]*entity.Account
	byKey map[namePhone]string
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:  make(map[string]*entity.Account),
		byKey: make(map[namePhone]string),
		now:   time.Now,
	}
}

func (r *MemoryRepo) Create(_ context.Context, a *entity.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := namePhone{a.Name, a.Phone}
	if _, ok := r.byKey[k]; ok {
		return ErrConflict
	}
	now := r.now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	r.byID[a.ID] = &cp
	r.byKey[k] = a.ID
	return nil
}

func (r *MemoryRepo) GetByNamePhone(_ context.Context, name, phone string) (*entity.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[namePhone{name, phone}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*entity.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepo) List(_ context.Context) ([]entity.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entity.Account, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, *a)
	}
	sortOldestFirst(out)
	return out, nil
}

func (r *MemoryRepo) UpsertAdminByPhone(_ context.Context, candidate *entity.Account) (*entity.Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var matched []entity.Account
	for _, a := range r.byID {
		if a.Phone != candidate.Phone {
			continue
		}
		a.PasswordHash = candidate.PasswordHash
		a.IsAdmin = true
		a.UpdatedAt = now
		matched = append(matched, *a)
	}
	if len(matched) > 0 {
		sortOldestFirst(matched)
		return &matched[0], false, nil
	}

	k := namePhone{candidate.Name, candidate.Phone}
	if _, ok := r.byKey[k]; ok {
		return nil, false, ErrConflict
	}
	a := *candidate
	a.IsAdmin = true
	a.CreatedAt, a.UpdatedAt = now, now
	stored := a
	r.byID[a.ID] = &stored
	r.byKey[k] = a.ID
	return &a, true, nil
}

func sortOldestFirst(accounts []entity.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
}
