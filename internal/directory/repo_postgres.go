package directory

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresDirectory reads user records from the shared users table.
// This service never writes users; account management owns that table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Lookup(ctx context.Context, userID string) (User, error) {
	const q = `
SELECT id, name, email, COALESCE(avatar, ''), role
FROM users
WHERE id = $1
`
	var u User
	if err := d.db.QueryRowContext(ctx, q, userID).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Avatar,
		&u.Role,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}
