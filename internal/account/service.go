// Package account is the credential store: it registers accounts, verifies
// passwords, and promotes accounts to admin.
package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-learning-auth/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/utilities"
)

var (
	ErrDuplicateAccount   = apierr.ErrDuplicateAccount
	ErrInvalidCredentials = apierr.ErrInvalidCredentials
	ErrNotFound           = apierr.ErrNotFound
)

// Repository is the persistence the store needs; see repo.AccountRepo and repo.MemoryRepo.
type Repository interface {
	Create(ctx context.Context, a *entity.Account) error
	GetByNamePhone(ctx context.Context, name, phone string) (*entity.Account, error)
	GetByID(ctx context.Context, id string) (*entity.Account, error)
	List(ctx context.Context) ([]entity.Account, error)
	UpsertAdminByPhone(ctx context.Context, candidate *entity.Account) (*entity.Account, bool, error)
}

// PasswordHasher runs hashing off the calling goroutine; see password.Pool.
type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	Verify(ctx context.Context, hash, plain string) (bool, error)
}

// IDSource hands out account ids.
type IDSource interface {
	NewID() string
}

// Service orchestrates the credential flows.
type Service struct {
	repo   Repository
	hasher PasswordHasher
	ids    IDSource
	logger *zap.SugaredLogger

	dummyMu   sync.Mutex
	dummyHash string
}

func NewService(r Repository, hasher PasswordHasher, ids IDSource, logger *zap.SugaredLogger) *Service {
	return &Service{repo: r, hasher: hasher, ids: ids, logger: utilities.Nop(logger)}
}

// Register creates a non-admin account. It fails with ErrDuplicateAccount when
// (name, phone) is taken.
func (s *Service) Register(ctx context.Context, name, phone, plain string) (*entity.Account, error) {
	if _, err := s.repo.GetByNamePhone(ctx, name, phone); err == nil {
		return nil, ErrDuplicateAccount
	} else if !errors.Is(err, accountrepo.ErrNotFound) {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	hash, err := s.hasher.Hash(ctx, plain)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a := &entity.Account{ID: s.ids.NewID(), Name: name, Phone: phone, PasswordHash: hash}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, accountrepo.ErrConflict) {
			return nil, ErrDuplicateAccount
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.Infow("account registered", "account_id", a.ID)
	return a, nil
}

// Verify checks credentials. An unknown account and a wrong password both
// return ErrInvalidCredentials, and both pay for one hash comparison.
func (s *Service) Verify(ctx context.Context, name, phone, plain string) (*entity.Account, error) {
	a, err := s.repo.GetByNamePhone(ctx, name, phone)
	if err != nil {
		if !errors.Is(err, accountrepo.ErrNotFound) {
			return nil, fmt.Errorf("lookup account: %w", err)
		}
		s.burnComparison(ctx, plain)
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(ctx, a.PasswordHash, plain)
	if err != nil {
		return nil, fmt.Errorf("compare password for account %s: %w", a.ID, err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

// burnComparison compares against a throwaway hash so a missing account costs
// as much as a wrong password.
func (s *Service) burnComparison(ctx context.Context, plain string) {
	hash, err := s.placeholderHash(ctx)
	if err != nil {
		s.logger.Warnw("could not prepare placeholder hash", "err", err)
		return
	}
	_, _ = s.hasher.Verify(ctx, hash, plain)
}

// placeholderHash builds the throwaway hash on first use. The build ignores
// the caller's cancellation and is retried on the next call if it fails.
func (s *Service) placeholderHash(ctx context.Context) (string, error) {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyHash != "" {
		return s.dummyHash, nil
	}
	h, err := s.hasher.Hash(context.WithoutCancel(ctx), "placeholder-password")
	if err != nil {
		return "", err
	}
	s.dummyHash = h
	return h, nil
}

// PromoteToAdmin resets the password of the accounts holding phone and marks
// them admin, or creates a new admin account named name when none exists.
// Tokens already issued keep their old admin claim until they expire.
// created reports whether a new account was inserted.
func (s *Service) PromoteToAdmin(ctx context.Context, name, phone, newPassword string) (a *entity.Account, created bool, err error) {
	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}
	a, created, err = s.repo.UpsertAdminByPhone(ctx, &entity.Account{ID: s.ids.NewID(), Name: name, Phone: phone, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, accountrepo.ErrConflict) {
			return nil, false, ErrDuplicateAccount
		}
		return nil, false, fmt.Errorf("promote account: %w", err)
	}
	s.logger.Infow("account promoted to admin", "account_id", a.ID, "created", created)
	return a, created, nil
}

// Check reports whether an account with (name, phone) exists.
func (s *Service) Check(ctx context.Context, name, phone string) (*entity.Account, bool, error) {
	a, err := s.repo.GetByNamePhone(ctx, name, phone)
	if err != nil {
		if errors.Is(err, accountrepo.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup account: %w", err)
	}
	return a, true, nil
}

func (s *Service) Get(ctx context.Context, id string) (*entity.Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, accountrepo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context) ([]entity.Account, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}
