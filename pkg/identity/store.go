package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
	"github.com/quayside-labs/saaskit/pkg/storage/postgres"
)

// Store persists users.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, email, password_digest, verified, app_admin, otp_secret, otp_required_for_sign_in, created_at, updated_at`

// Create inserts a new user. Email is normalized before writing; a duplicate
// address surfaces as a field-attributable validation error, not a raw
// constraint violation.
func (s *Store) Create(ctx context.Context, user *User) error {
	user.Email = NormalizeEmail(user.Email)
	now := time.Now().UTC()

	query := `
		INSERT INTO users (email, password_digest, verified, app_admin, otp_secret, otp_required_for_sign_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		user.Email, user.PasswordDigest, user.Verified, user.AppAdmin,
		user.OTPSecret, user.OTPRequiredForSignIn, now, now,
	).Scan(&user.ID)
	if postgres.IsUniqueViolation(err) {
		return errdefs.Validation("email", "has already been taken")
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// ByID retrieves a user by id.
func (s *Store) ByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// ByEmail retrieves a user by address, case-insensitively.
func (s *Store) ByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, NormalizeEmail(email)))
}

// UpdateEmail changes the address and clears the verified flag in the same
// statement; a changed address must always be re-confirmed.
func (s *Store) UpdateEmail(ctx context.Context, userID int64, newEmail string) error {
	if err := ValidateEmail(newEmail); err != nil {
		return err
	}

	query := `UPDATE users SET email = $1, verified = FALSE, updated_at = $2 WHERE id = $3`
	result, err := s.db.ExecContext(ctx, query, NormalizeEmail(newEmail), time.Now().UTC(), userID)
	if postgres.IsUniqueViolation(err) {
		return errdefs.Validation("email", "has already been taken")
	}
	if err != nil {
		return fmt.Errorf("failed to update email: %w", err)
	}
	return requireRow(result, "user")
}

// UpdatePassword replaces the password digest. Session invalidation is the
// caller's job (identity does not know about sessions).
func (s *Store) UpdatePassword(ctx context.Context, userID int64, digest string) error {
	query := `UPDATE users SET password_digest = $1, updated_at = $2 WHERE id = $3`
	result, err := s.db.ExecContext(ctx, query, digest, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRow(result, "user")
}

// MarkVerified flips the verified flag on.
func (s *Store) MarkVerified(ctx context.Context, userID int64) error {
	query := `UPDATE users SET verified = TRUE, updated_at = $1 WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to mark verified: %w", err)
	}
	return requireRow(result, "user")
}

// ActivateWithPassword sets the password credential and marks the user
// verified in one statement, so a failed write leaves both untouched.
func (s *Store) ActivateWithPassword(ctx context.Context, userID int64, digest string) error {
	query := `UPDATE users SET password_digest = $1, verified = TRUE, updated_at = $2 WHERE id = $3`
	result, err := s.db.ExecContext(ctx, query, digest, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}
	return requireRow(result, "user")
}

// SetOTP stores a second-factor secret and whether sign-in requires it.
// Passing an empty secret with required=false disables the second factor.
func (s *Store) SetOTP(ctx context.Context, userID int64, secret string, required bool) error {
	query := `UPDATE users SET otp_secret = $1, otp_required_for_sign_in = $2, updated_at = $3 WHERE id = $4`
	result, err := s.db.ExecContext(ctx, query, secret, required, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to set OTP: %w", err)
	}
	return requireRow(result, "user")
}

// Delete removes a user. Owned accounts, memberships and sessions go with it
// via foreign key cascades.
func (s *Store) Delete(ctx context.Context, userID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireRow(result, "user")
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	var otpSecret sql.NullString
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordDigest, &user.Verified, &user.AppAdmin,
		&otpSecret, &user.OTPRequiredForSignIn, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	user.OTPSecret = otpSecret.String
	return user, nil
}

func requireRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return errdefs.NotFound(what)
	}
	return nil
}
