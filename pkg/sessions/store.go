package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
)

// Store persists sessions.
type Store struct {
	db *sql.DB
}

// NewStore creates a session store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const sessionColumns = `id, user_id, account_id, token_hash, user_agent, ip_address, created_at, last_active_at`

// Create inserts the session and assigns its id.
func (s *Store) Create(ctx context.Context, session *Session) error {
	now := time.Now().UTC()
	session.CreatedAt = now
	session.LastActiveAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, account_id, token_hash, user_agent, ip_address, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, session.UserID, nullableAccount(session.AccountID), session.TokenHash,
		session.UserAgent, session.IPAddress, now, now).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// ByTokenHash retrieves the session for a token hash.
func (s *Store) ByTokenHash(ctx context.Context, hash string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, hash)
	return scanSession(row)
}

// ByID retrieves a session.
func (s *Store) ByID(ctx context.Context, id int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// ListForUser retrieves the user's live sessions, most recently active first.
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY last_active_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session := &Session{}
		var accountID sql.NullInt64
		if err := rows.Scan(&session.ID, &session.UserID, &accountID, &session.TokenHash,
			&session.UserAgent, &session.IPAddress, &session.CreatedAt, &session.LastActiveAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		session.AccountID = accountID.Int64
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Touch advances last_active_at.
func (s *Store) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// SetAccount records the explicitly selected account. Zero clears the
// selection back to the default-account rule.
func (s *Store) SetAccount(ctx context.Context, id, accountID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET account_id = $1 WHERE id = $2`, nullableAccount(accountID), id)
	if err != nil {
		return fmt.Errorf("failed to set session account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return errdefs.NotFound("session")
	}
	return nil
}

// Delete removes one session.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return errdefs.NotFound("session")
	}
	return nil
}

// DeleteAllForUser removes every session for a user and returns the token
// hashes of the removed rows so caches can be purged.
func (s *Store) DeleteAllForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1 RETURNING token_hash`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return collectHashes(rows)
}

// DeleteAllForUserExcept removes every session for a user but the named one.
func (s *Store) DeleteAllForUserExcept(ctx context.Context, userID, keepID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND id <> $2 RETURNING token_hash`, userID, keepID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return collectHashes(rows)
}

// DeleteIdleBefore removes sessions whose last activity predates the cutoff
// and returns their token hashes.
func (s *Store) DeleteIdleBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM sessions WHERE last_active_at < $1 RETURNING token_hash`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to delete idle sessions: %w", err)
	}
	return collectHashes(rows)
}

// CountActive reports the number of live sessions, for the metrics gauge.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func collectHashes(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan token hash: %w", err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

func scanSession(row *sql.Row) (*Session, error) {
	session := &Session{}
	var accountID sql.NullInt64
	err := row.Scan(&session.ID, &session.UserID, &accountID, &session.TokenHash,
		&session.UserAgent, &session.IPAddress, &session.CreatedAt, &session.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("session")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session.AccountID = accountID.Int64
	return session, nil
}

func nullableAccount(accountID int64) any {
	if accountID == 0 {
		return nil
	}
	return accountID
}
