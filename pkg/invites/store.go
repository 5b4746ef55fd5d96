package invites

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
)

// Store persists invitations.
type Store struct {
	db *sql.DB
}

// NewStore creates an invitation store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const invitationColumns = `id, account_id, email, roles, invited_by, invited_at, expires_at, accepted_at, accepted_by`

// Upsert writes the invitation for (account, email). Re-inviting refreshes
// roles and expiry and clears any previous acceptance marker.
func (s *Store) Upsert(ctx context.Context, invitation *Invitation) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (account_id, email, roles, invited_by, invited_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, email) DO UPDATE SET
			roles = excluded.roles,
			invited_by = excluded.invited_by,
			invited_at = excluded.invited_at,
			expires_at = excluded.expires_at,
			accepted_at = NULL,
			accepted_by = NULL
		RETURNING id
	`, invitation.AccountID, invitation.Email, invitation.Roles, nullableID(invitation.InvitedBy),
		invitation.InvitedAt, invitation.ExpiresAt).Scan(&invitation.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert invitation: %w", err)
	}
	return nil
}

// ByID retrieves an invitation.
func (s *Store) ByID(ctx context.Context, id int64) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)
	return scanInvitation(row)
}

// ByAccountAndEmail retrieves the invitation for (account, email).
func (s *Store) ByAccountAndEmail(ctx context.Context, accountID int64, email string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE account_id = $1 AND email = $2`, accountID, email)
	return scanInvitation(row)
}

// ListForAccount retrieves an account's invitations, oldest first.
func (s *Store) ListForAccount(ctx context.Context, accountID int64) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE account_id = $1 ORDER BY id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		invitation, err := scanInvitationRows(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, invitation)
	}
	return invitations, rows.Err()
}

// MarkAccepted records who redeemed the invitation and when.
func (s *Store) MarkAccepted(ctx context.Context, id, userID int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET accepted_at = $1, accepted_by = $2 WHERE id = $3
	`, at.UTC(), userID, id)
	if err != nil {
		return fmt.Errorf("failed to mark invitation accepted: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return errdefs.NotFound("invitation")
	}
	return nil
}

// Delete removes an invitation.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invitations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invitation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return errdefs.NotFound("invitation")
	}
	return nil
}

// DeleteExpired removes unaccepted invitations whose expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE expires_at < $1 AND accepted_at IS NULL`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired invitations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func scanInvitation(row *sql.Row) (*Invitation, error) {
	invitation := &Invitation{}
	var invitedBy, acceptedBy sql.NullInt64
	var acceptedAt sql.NullTime
	err := row.Scan(&invitation.ID, &invitation.AccountID, &invitation.Email, &invitation.Roles,
		&invitedBy, &invitation.InvitedAt, &invitation.ExpiresAt, &acceptedAt, &acceptedBy)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("invitation")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	applyNullables(invitation, invitedBy, acceptedAt, acceptedBy)
	return invitation, nil
}

func scanInvitationRows(rows *sql.Rows) (*Invitation, error) {
	invitation := &Invitation{}
	var invitedBy, acceptedBy sql.NullInt64
	var acceptedAt sql.NullTime
	err := rows.Scan(&invitation.ID, &invitation.AccountID, &invitation.Email, &invitation.Roles,
		&invitedBy, &invitation.InvitedAt, &invitation.ExpiresAt, &acceptedAt, &acceptedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}
	applyNullables(invitation, invitedBy, acceptedAt, acceptedBy)
	return invitation, nil
}

func applyNullables(invitation *Invitation, invitedBy sql.NullInt64, acceptedAt sql.NullTime, acceptedBy sql.NullInt64) {
	invitation.InvitedBy = invitedBy.Int64
	invitation.AcceptedBy = acceptedBy.Int64
	if acceptedAt.Valid {
		at := acceptedAt.Time
		invitation.AcceptedAt = &at
	}
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
