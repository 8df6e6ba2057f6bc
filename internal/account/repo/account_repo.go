package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/account/entity"
)

var (
	ErrNotFound = errors.New("account not found")
	// ErrConflict means (name, phone) is already taken.
	ErrConflict = errors.New("account already exists")
)

const uniqueViolation = "23505"

const accountColumns = `id, name, phone, password_hash, is_admin, created_at, updated_at`

// AccountRepo provides data access for the accounts table using sqlx.
// The table is created by the migrations in pkg/database.
type AccountRepo struct {
	db *sqlx.DB
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo { return &AccountRepo{db: db} }

func mapWriteErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

// Create inserts a; created_at and updated_at are filled from the row.
func (r *AccountRepo) Create(ctx context.Context, a *entity.Account) error {
	const q = `INSERT INTO accounts (id, name, phone, password_hash, is_admin)
		VALUES (:id, :name, :phone, :password_hash, :is_admin) RETURNING created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, a)
	if err != nil {
		return fmt.Errorf("insert account: %w", mapWriteErr(err))
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("insert account: %w", mapWriteErr(err))
		}
		return errors.New("insert account: no row returned")
	}
	if err := rows.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("scan inserted account: %w", err)
	}
	return nil
}

// GetByNamePhone returns the account for the (name, phone) natural key.
func (r *AccountRepo) GetByNamePhone(ctx context.Context, name, phone string) (*entity.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE name=$1 AND phone=$2`
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, name, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account by name and phone: %w", err)
	}
	return &a, nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account by id: %w", err)
	}
	return &a, nil
}

// List returns every account, oldest first.
func (r *AccountRepo) List(ctx context.Context) ([]entity.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, id`
	var out []entity.Account
	if err := r.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

// UpsertAdminByPhone resets the password of every account holding
// candidate.Phone and marks them admin. When none exists candidate is
// inserted as a new admin. It returns the oldest affected account and
// whether it was inserted.
func (r *AccountRepo) UpsertAdminByPhone(ctx context.Context, candidate *entity.Account) (*entity.Account, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin promote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const update = `UPDATE accounts SET password_hash=$2, is_admin=true, updated_at=NOW()
		WHERE phone=$1 RETURNING ` + accountColumns
	var updated []entity.Account
	if err := tx.SelectContext(ctx, &updated, update, candidate.Phone, candidate.PasswordHash); err != nil {
		return nil, false, fmt.Errorf("promote existing accounts: %w", err)
	}

	var out entity.Account
	created := len(updated) == 0
	if !created {
		sortOldestFirst(updated)
		out = updated[0]
	} else {
		const insert = `INSERT INTO accounts (id, name, phone, password_hash, is_admin)
			VALUES ($1, $2, $3, $4, true) RETURNING ` + accountColumns
		if err := tx.GetContext(ctx, &out, insert, candidate.ID, candidate.Name, candidate.Phone, candidate.PasswordHash); err != nil {
			return nil, false, fmt.Errorf("insert admin account: %w", mapWriteErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit promote: %w", err)
	}
	return &out, created, nil
}
