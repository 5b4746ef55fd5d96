package sessions

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

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			password_digest TEXT NOT NULL DEFAULT '',
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
			user_agent TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			last_active_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)
	return db
}

func newTestSession(t *testing.T, store *Store, userID int64) (*Session, string) {
	t.Helper()
	token, err := NewToken()
	require.NoError(t, err)
	session := &Session{
		UserID:    userID,
		TokenHash: HashToken(token),
		UserAgent: "test-agent",
		IPAddress: "127.0.0.1",
	}
	require.NoError(t, store.Create(context.Background(), session))
	return session, token
}

func TestTokenShape(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)
	assert.True(t, ValidTokenShape(token))
	assert.False(t, ValidTokenShape("sess_"))
	assert.False(t, ValidTokenShape("bearer_abc"))
	assert.False(t, ValidTokenShape(""))

	// Tokens are unique and their hashes are stable.
	other, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
	assert.Equal(t, HashToken(token), HashToken(token))
	assert.NotEqual(t, HashToken(token), HashToken(other))
}

func TestStoreCreateAndLookup(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	session, token := newTestSession(t, store, 1)
	assert.NotZero(t, session.ID)
	assert.Zero(t, session.AccountID, "new sessions carry no explicit account")

	found, err := store.ByTokenHash(ctx, HashToken(token))
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)
	assert.Equal(t, "test-agent", found.UserAgent)

	// The raw token never matches; only its hash is stored.
	_, err = store.ByTokenHash(ctx, token)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestStoreSetAccount(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	session, _ := newTestSession(t, store, 1)

	require.NoError(t, store.SetAccount(ctx, session.ID, 7))
	found, err := store.ByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), found.AccountID)

	// Zero clears back to the default-account rule.
	require.NoError(t, store.SetAccount(ctx, session.ID, 0))
	found, err = store.ByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, found.AccountID)

	assert.True(t, errdefs.IsNotFound(store.SetAccount(ctx, 9999, 7)))
}

func TestStoreTouch(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	session, _ := newTestSession(t, store, 1)
	later := session.LastActiveAt.Add(10 * time.Minute)

	require.NoError(t, store.Touch(ctx, session.ID, later))
	found, err := store.ByID(ctx, session.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, later, found.LastActiveAt, time.Second)
}

func TestStoreListForUser(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	oldest, _ := newTestSession(t, store, 1)
	newest, _ := newTestSession(t, store, 1)
	newTestSession(t, store, 2)

	require.NoError(t, store.Touch(ctx, newest.ID, time.Now().UTC().Add(time.Hour)))

	sessions, err := store.ListForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newest.ID, sessions[0].ID, "most recently active first")
	assert.Equal(t, oldest.ID, sessions[1].ID)
}

func TestStoreBulkRevocation(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	keep, _ := newTestSession(t, store, 1)
	second, _ := newTestSession(t, store, 1)
	third, _ := newTestSession(t, store, 1)
	other, _ := newTestSession(t, store, 2)

	t.Run("except keeps the named session", func(t *testing.T) {
		hashes, err := store.DeleteAllForUserExcept(ctx, 1, keep.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{second.TokenHash, third.TokenHash}, hashes)

		_, err = store.ByID(ctx, keep.ID)
		assert.NoError(t, err)
	})

	t.Run("all removes everything for the user", func(t *testing.T) {
		hashes, err := store.DeleteAllForUser(ctx, 1)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{keep.TokenHash}, hashes)

		// Other users are untouched.
		_, err = store.ByID(ctx, other.ID)
		assert.NoError(t, err)
	})
}

func TestStoreDeleteIdleBefore(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	idle, _ := newTestSession(t, store, 1)
	active, _ := newTestSession(t, store, 1)

	require.NoError(t, store.Touch(ctx, idle.ID, time.Now().UTC().Add(-48*time.Hour)))

	hashes, err := store.DeleteIdleBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{idle.TokenHash}, hashes)

	_, err = store.ByID(ctx, active.ID)
	assert.NoError(t, err)

	count, err := store.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
