package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
	"github.com/quayside-labs/saaskit/pkg/storage/postgres"
)

// Store persists accounts and the membership ledger.
type Store struct {
	db *sql.DB
}

// NewStore creates an account store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateWithOwner inserts an account and seeds the owner's membership row
// ({admin, member}) in one transaction. This is the only way to create an
// account, so no call site can forget the owner's ledger row.
func (s *Store) CreateWithOwner(ctx context.Context, ownerID int64, name string, personal bool) (*Account, *Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	account := &Account{
		Name:      name,
		Personal:  personal,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (name, personal, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, account.Name, account.Personal, account.OwnerID, now, now).Scan(&account.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create account: %w", err)
	}

	membership := &Membership{
		AccountID: account.ID,
		UserID:    ownerID,
		Roles:     OwnerRoles(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO account_memberships (account_id, user_id, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, membership.AccountID, membership.UserID, membership.Roles, now, now).Scan(&membership.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to seed owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit account creation: %w", err)
	}

	return account, membership, nil
}

// Get retrieves an account by id.
func (s *Store) Get(ctx context.Context, id int64) (*Account, error) {
	account := &Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, personal, owner_id, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id).Scan(&account.ID, &account.Name, &account.Personal, &account.OwnerID,
		&account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("account")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// SetPersonal flips the personal flag. Callers go through the service so the
// conversion preconditions hold.
func (s *Store) SetPersonal(ctx context.Context, accountID int64, personal bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET personal = $1, updated_at = $2 WHERE id = $3
	`, personal, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return requireRow(result, "account")
}

// Delete removes the account, its memberships, and detaches sessions that
// pointed at it. The sessions themselves survive and re-resolve to the
// user's first account on the next request.
func (s *Store) Delete(ctx context.Context, accountID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET account_id = NULL WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to detach sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM account_memberships WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to delete memberships: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if err := requireRow(result, "account"); err != nil {
		return err
	}

	return tx.Commit()
}

// Membership retrieves the unique ledger row for (account, user). Absence is
// not an error: it returns (nil, nil), meaning "not a member".
func (s *Store) Membership(ctx context.Context, accountID, userID int64) (*Membership, error) {
	membership := &Membership{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, user_id, roles, created_at, updated_at
		FROM account_memberships
		WHERE account_id = $1 AND user_id = $2
	`, accountID, userID).Scan(&membership.ID, &membership.AccountID, &membership.UserID,
		&membership.Roles, &membership.CreatedAt, &membership.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return membership, nil
}

// AddMember establishes membership with find-or-create-or-fetch semantics:
// the insert races through the unique index with ON CONFLICT DO NOTHING, and
// a lost race falls back to fetching the existing row. Concurrent callers
// never see a raw constraint violation. The bool reports whether this call
// created the row.
func (s *Store) AddMember(ctx context.Context, accountID, userID int64, roles RoleSet) (*Membership, bool, error) {
	now := time.Now().UTC()
	membership := &Membership{
		AccountID: accountID,
		UserID:    userID,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO account_memberships (account_id, user_id, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, user_id) DO NOTHING
		RETURNING id
	`, accountID, userID, roles, now, now).Scan(&membership.ID)
	if err == nil {
		return membership, true, nil
	}
	if err != sql.ErrNoRows {
		if postgres.IsUniqueViolation(err) {
			// Drivers that surface the conflict instead of swallowing it.
			existing, ferr := s.Membership(ctx, accountID, userID)
			if ferr != nil {
				return nil, false, ferr
			}
			if existing != nil {
				return existing, false, nil
			}
			return nil, false, errdefs.ConstraintViolation("membership already exists")
		}
		return nil, false, fmt.Errorf("failed to add member: %w", err)
	}

	// Conflict: the row already existed.
	existing, err := s.Membership(ctx, accountID, userID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errdefs.ConstraintViolation("membership already exists")
	}
	return existing, false, nil
}

// Grant merges the named role into the row's role set, leaving other roles
// untouched, and persists the result.
func (s *Store) Grant(ctx context.Context, accountID, userID int64, role Role) (*Membership, error) {
	return s.mutateRoles(ctx, accountID, userID, func(rs RoleSet) RoleSet {
		return rs.With(role)
	})
}

// Revoke clears the named role, leaving other roles untouched.
func (s *Store) Revoke(ctx context.Context, accountID, userID int64, role Role) (*Membership, error) {
	return s.mutateRoles(ctx, accountID, userID, func(rs RoleSet) RoleSet {
		return rs.Without(role)
	})
}

func (s *Store) mutateRoles(ctx context.Context, accountID, userID int64, mutate func(RoleSet) RoleSet) (*Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	membership := &Membership{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, account_id, user_id, roles, created_at, updated_at
		FROM account_memberships
		WHERE account_id = $1 AND user_id = $2
	`, accountID, userID).Scan(&membership.ID, &membership.AccountID, &membership.UserID,
		&membership.Roles, &membership.CreatedAt, &membership.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("membership")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	membership.Roles = mutate(membership.Roles)
	membership.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE account_memberships SET roles = $1, updated_at = $2 WHERE id = $3
	`, membership.Roles, membership.UpdatedAt, membership.ID); err != nil {
		return nil, fmt.Errorf("failed to update roles: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role change: %w", err)
	}
	return membership, nil
}

// RemoveMember deletes the ledger row for (account, user).
func (s *Store) RemoveMember(ctx context.Context, accountID, userID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM account_memberships WHERE account_id = $1 AND user_id = $2
	`, accountID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return requireRow(result, "membership")
}

// CountMembers reports the number of ledger rows for an account.
func (s *Store) CountMembers(ctx context.Context, accountID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM account_memberships WHERE account_id = $1`, accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// ListMembers retrieves all ledger rows for an account joined with user
// identity, oldest first.
func (s *Store) ListMembers(ctx context.Context, accountID int64) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.account_id, m.user_id, m.roles, m.created_at, m.updated_at,
		       u.email, u.verified
		FROM account_memberships m
		JOIN users u ON m.user_id = u.id
		WHERE m.account_id = $1
		ORDER BY m.id ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		if err := rows.Scan(
			&member.ID, &member.AccountID, &member.UserID, &member.Roles,
			&member.CreatedAt, &member.UpdatedAt, &member.Email, &member.Verified,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// ListForUser retrieves the accounts a user belongs to, in stable id order.
// The first entry is the fallback tenant when a session has no explicit
// account selected.
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.personal, a.owner_id, a.created_at, a.updated_at
		FROM accounts a
		JOIN account_memberships m ON a.id = m.account_id
		WHERE m.user_id = $1
		ORDER BY a.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account := &Account{}
		if err := rows.Scan(&account.ID, &account.Name, &account.Personal,
			&account.OwnerID, &account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// PersonalFor retrieves the user's first owned personal account, or
// (nil, nil) when they have none. Ordering by id keeps the choice stable.
func (s *Store) PersonalFor(ctx context.Context, userID int64) (*Account, error) {
	account := &Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, personal, owner_id, created_at, updated_at
		FROM accounts
		WHERE owner_id = $1 AND personal = TRUE
		ORDER BY id ASC
		LIMIT 1
	`, userID).Scan(&account.ID, &account.Name, &account.Personal, &account.OwnerID,
		&account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get personal account: %w", err)
	}
	return account, nil
}

// Roles reports the role flags for (account, user) in the shape the
// authorization resolver consumes. found is false when no ledger row exists.
func (s *Store) Roles(ctx context.Context, accountID, userID int64) (admin, member, found bool, err error) {
	membership, err := s.Membership(ctx, accountID, userID)
	if err != nil {
		return false, false, false, err
	}
	if membership == nil {
		return false, false, false, nil
	}
	return membership.Roles.Admin, membership.Roles.Member, true, nil
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
