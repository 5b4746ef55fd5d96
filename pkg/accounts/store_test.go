package accounts

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Minimal schema mirroring the production migrations.
	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			password_digest TEXT,
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			app_admin BOOLEAN NOT NULL DEFAULT FALSE,
			otp_secret TEXT,
			otp_required_for_sign_in BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			personal BOOLEAN NOT NULL DEFAULT FALSE,
			owner_id INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE account_memberships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			roles TEXT NOT NULL DEFAULT '{"admin": false, "member": true}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(account_id, user_id)
		);

		CREATE TABLE sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			account_id INTEGER,
			token_hash TEXT NOT NULL UNIQUE,
			user_agent TEXT,
			ip_address TEXT,
			created_at TIMESTAMP NOT NULL,
			last_active_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)
	return db
}

func createTestUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()
	now := time.Now().UTC()
	var id int64
	err := db.QueryRow(`
		INSERT INTO users (email, verified, created_at, updated_at)
		VALUES ($1, TRUE, $2, $3) RETURNING id
	`, email, now, now).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestStoreCreateWithOwner(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	ownerID := createTestUser(t, db, "owner@example.com")

	account, membership, err := store.CreateWithOwner(ctx, ownerID, "Acme", false)
	require.NoError(t, err)
	assert.NotZero(t, account.ID)
	assert.Equal(t, "Acme", account.Name)
	assert.False(t, account.Personal)
	assert.Equal(t, ownerID, account.OwnerID)

	// The owner's ledger row is created in the same transaction.
	require.NotNil(t, membership)
	assert.Equal(t, account.ID, membership.AccountID)
	assert.Equal(t, ownerID, membership.UserID)
	assert.Equal(t, OwnerRoles(), membership.Roles)

	stored, err := store.Membership(ctx, account.ID, ownerID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, OwnerRoles(), stored.Roles)
}

func TestStoreGet(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	ownerID := createTestUser(t, db, "owner@example.com")

	created, _, err := store.CreateWithOwner(ctx, ownerID, "Acme", true)
	require.NoError(t, err)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, got.Personal)
	assert.False(t, got.Team())

	_, err = store.Get(ctx, 9999)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestStoreMembershipAbsenceIsNotAnError(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	membership, err := store.Membership(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Nil(t, membership)
}

func TestStoreAddMember(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	ownerID := createTestUser(t, db, "owner@example.com")
	memberID := createTestUser(t, db, "member@example.com")

	account, _, err := store.CreateWithOwner(ctx, ownerID, "Acme", false)
	require.NoError(t, err)

	t.Run("creates the ledger row", func(t *testing.T) {
		membership, created, err := store.AddMember(ctx, account.ID, memberID, DefaultMemberRoles())
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotZero(t, membership.ID)
		assert.Equal(t, DefaultMemberRoles(), membership.Roles)
	})

	t.Run("repeated add returns the existing row untouched", func(t *testing.T) {
		before, err := store.Membership(ctx, account.ID, memberID)
		require.NoError(t, err)

		membership, created, err := store.AddMember(ctx, account.ID, memberID, OwnerRoles())
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, before.ID, membership.ID)
		// Roles from the losing insert are discarded.
		assert.Equal(t, DefaultMemberRoles(), membership.Roles)
	})

	t.Run("same user can join several accounts", func(t *testing.T) {
		other, _, err := store.CreateWithOwner(ctx, memberID, "Side Project", false)
		require.NoError(t, err)

		_, created, err := store.AddMember(ctx, other.ID, ownerID, DefaultMemberRoles())
		require.NoError(t, err)
		assert.True(t, created)
	})
}

func TestStoreGrantRevoke(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	ownerID := createTestUser(t, db, "owner@example.com")
	memberID := createTestUser(t, db, "member@example.com")

	account, _, err := store.CreateWithOwner(ctx, ownerID, "Acme", false)
	require.NoError(t, err)
	_, _, err = store.AddMember(ctx, account.ID, memberID, DefaultMemberRoles())
	require.NoError(t, err)

	t.Run("grant merges without clobbering", func(t *testing.T) {
		membership, err := store.Grant(ctx, account.ID, memberID, RoleAdmin)
		require.NoError(t, err)
		assert.True(t, membership.Roles.Admin)
		assert.True(t, membership.Roles.Member, "member role must survive the grant")
	})

	t.Run("revoke clears one role only", func(t *testing.T) {
		membership, err := store.Revoke(ctx, account.ID, memberID, RoleMember)
		require.NoError(t, err)
		assert.True(t, membership.Roles.Admin, "admin role must survive the revoke")
		assert.False(t, membership.Roles.Member)
	})

	t.Run("revoking everything keeps the row", func(t *testing.T) {
		membership, err := store.Revoke(ctx, account.ID, memberID, RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, RoleSet{}, membership.Roles)

		stored, err := store.Membership(ctx, account.ID, memberID)
		require.NoError(t, err)
		require.NotNil(t, stored, "a roleless membership row still exists")
	})

	t.Run("missing membership is NotFound", func(t *testing.T) {
		_, err := store.Grant(ctx, account.ID, 9999, RoleAdmin)
		assert.True(t, errdefs.IsNotFound(err))
	})
}

func TestStoreRemoveMemberAndCount(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	ownerID := createTestUser(t, db, "owner@example.com")
	memberID := createTestUser(t, db, "member@example.com")

	account, _, err := store.CreateWithOwner(ctx, ownerID, "Acme", false)
	require.NoError(t, err)
	_, _, err = store.AddMember(ctx, account.ID, memberID, DefaultMemberRoles())
	require.NoError(t, err)

	count, err := store.CountMembers(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.RemoveMember(ctx, account.ID, memberID))

	count, err = store.CountMembers(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.True(t, errdefs.IsNotFound(store.RemoveMember(ctx, account.ID, memberID)))
}

func TestStoreListMembers(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	ownerID := createTestUser(t, db, "owner@example.com")
	memberID := createTestUser(t, db, "member@example.com")

	account, _, err := store.CreateWithOwner(ctx, ownerID, "Acme", false)
	require.NoError(t, err)
	_, _, err = store.AddMember(ctx, account.ID, memberID, DefaultMemberRoles())
	require.NoError(t, err)

	members, err := store.ListMembers(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	assert.Equal(t, "owner@example.com", members[0].Email)
	assert.Equal(t, OwnerRoles(), members[0].Roles)
	assert.Equal(t, "member@example.com", members[1].Email)
	assert.True(t, members[1].Verified)
}

func TestStoreListForUser(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	userID := createTestUser(t, db, "user@example.com")
	otherID := createTestUser(t, db, "other@example.com")

	personal, _, err := store.CreateWithOwner(ctx, userID, "user@example.com", true)
	require.NoError(t, err)
	team, _, err := store.CreateWithOwner(ctx, otherID, "Acme", false)
	require.NoError(t, err)
	_, _, err = store.AddMember(ctx, team.ID, userID, DefaultMemberRoles())
	require.NoError(t, err)

	accounts, err := store.ListForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	// Stable id order: the personal account was created first, so it is the
	// fallback tenant.
	assert.Equal(t, personal.ID, accounts[0].ID)
	assert.Equal(t, team.ID, accounts[1].ID)
}

func TestStorePersonalFor(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	userID := createTestUser(t, db, "user@example.com")

	account, err := store.PersonalFor(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, account)

	_, _, err = store.CreateWithOwner(ctx, userID, "Team", false)
	require.NoError(t, err)
	personal, _, err := store.CreateWithOwner(ctx, userID, "user@example.com", true)
	require.NoError(t, err)

	account, err = store.PersonalFor(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, personal.ID, account.ID)
}

func TestStoreDeleteDetachesSessions(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	ownerID := createTestUser(t, db, "owner@example.com")

	account, _, err := store.CreateWithOwner(ctx, ownerID, "Acme", false)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = db.Exec(`
		INSERT INTO sessions (user_id, account_id, token_hash, created_at, last_active_at)
		VALUES ($1, $2, 'hash', $3, $4)
	`, ownerID, account.ID, now, now)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, account.ID))

	_, err = store.Get(ctx, account.ID)
	assert.True(t, errdefs.IsNotFound(err))

	membership, err := store.Membership(ctx, account.ID, ownerID)
	require.NoError(t, err)
	assert.Nil(t, membership)

	// The session row survives with its account pointer cleared.
	var accountID sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT account_id FROM sessions WHERE token_hash = 'hash'`).Scan(&accountID))
	assert.False(t, accountID.Valid)

	assert.True(t, errdefs.IsNotFound(store.Delete(ctx, account.ID)))
}

func TestStoreRolesAdapter(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	ownerID := createTestUser(t, db, "owner@example.com")
	memberID := createTestUser(t, db, "member@example.com")

	account, _, err := store.CreateWithOwner(ctx, ownerID, "Acme", false)
	require.NoError(t, err)
	_, _, err = store.AddMember(ctx, account.ID, memberID, DefaultMemberRoles())
	require.NoError(t, err)

	admin, member, found, err := store.Roles(ctx, account.ID, ownerID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, admin)
	assert.True(t, member)

	admin, member, found, err = store.Roles(ctx, account.ID, memberID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, admin)
	assert.True(t, member)

	_, _, found, err = store.Roles(ctx, account.ID, 9999)
	require.NoError(t, err)
	assert.False(t, found)
}
