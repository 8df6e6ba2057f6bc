package entity

import "time"

// Account is a registered principal, a row in the `accounts` table.
// (name, phone) is unique and is what callers log in with.
type Account struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Phone        string    `db:"phone"`
	PasswordHash string    `db:"password_hash"`
	IsAdmin      bool      `db:"is_admin"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// PublicAccount is the projection returned to clients; it never carries the hash.
type PublicAccount struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	IsAdmin bool   `json:"isAdmin"`
}

func (a Account) Public() PublicAccount {
	return PublicAccount{ID: a.ID, Name: a.Name, Phone: a.Phone, IsAdmin: a.IsAdmin}
}
