package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, email, first_name, last_name, phone, avatar, role, student_id,
	password_hash, auth_methods, password_reset_token, password_reset_expiry,
	version, created_at, updated_at`

// PostgresBackend stores accounts in the accounts table. auth_methods is a
// JSONB array; a NULL value marks a legacy row.
type PostgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgresBackend creates a PostgresBackend.
func NewPostgresBackend(db *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// FindByEmail expects an already-normalized email.
func (r *PostgresBackend) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = $1`, email)
}

func (r *PostgresBackend) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *PostgresBackend) FindByResetToken(ctx context.Context, digest string, now time.Time) (*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts
		WHERE password_reset_token = $1 AND password_reset_expiry > $2`
	return r.scanOne(ctx, q, digest, now)
}

func (r *PostgresBackend) FindNeedingRepair(ctx context.Context) ([]*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts
		WHERE auth_methods IS NULL
		   OR (password_hash <> '' AND NOT auth_methods @> '[{"kind":"local"}]'::jsonb)
		   OR (password_hash = '' AND auth_methods @> '[{"kind":"local"}]'::jsonb)`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query legacy accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Insert adds a new row. A unique violation on the email index maps to
// ErrDuplicateEmail.
func (r *PostgresBackend) Insert(ctx context.Context, a *Account) error {
	q := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.db.Exec(ctx, q,
		a.ID, a.Email, a.FirstName, a.LastName, a.Phone, a.Avatar, string(a.Role), a.StudentID,
		a.PasswordHash, a.AuthMethods, nullString(a.PasswordResetToken), a.PasswordResetExpiry,
		a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Update writes every mutable column when the stored version matches.
func (r *PostgresBackend) Update(ctx context.Context, a *Account, expectedVersion int64) error {
	q := `
		UPDATE accounts SET
			email = $2, first_name = $3, last_name = $4, phone = $5, avatar = $6,
			role = $7, student_id = $8, password_hash = $9, auth_methods = $10,
			password_reset_token = $11, password_reset_expiry = $12,
			version = $13, updated_at = $14
		WHERE id = $1 AND version = $15`
	tag, err := r.db.Exec(ctx, q,
		a.ID, a.Email, a.FirstName, a.LastName, a.Phone, a.Avatar,
		string(a.Role), a.StudentID, a.PasswordHash, a.AuthMethods,
		nullString(a.PasswordResetToken), a.PasswordResetExpiry,
		a.Version, a.UpdatedAt, expectedVersion,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, a.ID); errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (r *PostgresBackend) scanOne(ctx context.Context, q string, args ...any) (*Account, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrAccountNotFound
	}
	a, err := scanAccount(rows)
	if err != nil {
		return nil, err
	}
	return a, rows.Err()
}

func scanAccount(rows pgx.Rows) (*Account, error) {
	var (
		a          Account
		role       string
		resetToken *string
	)
	if err := rows.Scan(
		&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.Phone, &a.Avatar, &role, &a.StudentID,
		&a.PasswordHash, &a.AuthMethods, &resetToken, &a.PasswordResetExpiry,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Role = Role(role)
	if resetToken != nil {
		a.PasswordResetToken = *resetToken
	}
	return &a, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
