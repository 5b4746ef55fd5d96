package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/saaskit/pkg/accounts"
	"github.com/quayside-labs/saaskit/pkg/authz"
	"github.com/quayside-labs/saaskit/pkg/events"
	"github.com/quayside-labs/saaskit/pkg/featureflags"
	"github.com/quayside-labs/saaskit/pkg/identity"
	"github.com/quayside-labs/saaskit/pkg/invites"
	"github.com/quayside-labs/saaskit/pkg/observability"
	"github.com/quayside-labs/saaskit/pkg/sessions"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "digest:" + password, nil }
func (plainHasher) Verify(password, digest string) (bool, error) {
	return digest == "digest:"+password, nil
}

// capturingMailer records the last token sent per purpose and address so
// tests can walk the emailed link flows.
type capturingMailer struct {
	tokens map[identity.TokenPurpose]map[string]string
}

func newCapturingMailer() *capturingMailer {
	return &capturingMailer{tokens: map[identity.TokenPurpose]map[string]string{}}
}

func (m *capturingMailer) SendToken(_ context.Context, email string, purpose identity.TokenPurpose, token string) error {
	if m.tokens[purpose] == nil {
		m.tokens[purpose] = map[string]string{}
	}
	m.tokens[purpose][email] = token
	return nil
}

func (m *capturingMailer) last(t *testing.T, purpose identity.TokenPurpose, email string) string {
	t.Helper()
	token := m.tokens[purpose][email]
	require.NotEmpty(t, token, "no %s token was mailed to %s", purpose, email)
	return token
}

type apiFixture struct {
	db      *sql.DB
	handler http.Handler
	mailer  *capturingMailer
	flags   *featureflags.Static
}

func setupAPI(t *testing.T) *apiFixture {
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
		CREATE TABLE invitations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			email TEXT NOT NULL,
			roles TEXT NOT NULL DEFAULT '{"admin": false, "member": true}',
			invited_by INTEGER,
			invited_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			accepted_at TIMESTAMP,
			accepted_by INTEGER,
			UNIQUE(account_id, email)
		);
	`)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	bus := events.NewBus(logger)
	mailer := newCapturingMailer()
	flags := &featureflags.Static{Flags: featureflags.DefaultFlags()}

	users := identity.NewStore(db)
	accountStore := accounts.NewStore(db)
	resolver := authz.NewResolver(accountStore)
	signer := identity.NewTokenSigner("api-test-secret")
	hasher := plainHasher{}

	sessionSvc := sessions.NewService(sessions.NewStore(db), sessions.NewCache(nil, metrics),
		users, accountStore, resolver, hasher, flags, metrics)
	identitySvc := identity.NewService(users, hasher, signer, mailer, sessionSvc, bus, metrics)
	accountSvc := accounts.NewService(accountStore, resolver, flags, bus, metrics)
	inviteSvc := invites.NewService(invites.NewStore(db), users, accountStore, resolver,
		signer, hasher, mailer, bus, metrics)

	server := NewServer(Deps{
		Identity: identitySvc,
		Sessions: sessionSvc,
		Accounts: accountSvc,
		Invites:  inviteSvc,
		Flags:    flags,
		Logger:   logger,
		Metrics:  metrics,
	})

	return &apiFixture{db: db, handler: server.Handler(), mailer: mailer, flags: flags}
}

// do performs a request against the full middleware chain. An empty token
// leaves the request anonymous.
func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (f *apiFixture) decodeList(t *testing.T, rec *httptest.ResponseRecorder) []interface{} {
	t.Helper()
	var out []interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// userID reads a user's id straight from the database.
func (f *apiFixture) userID(t *testing.T, email string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, f.db.QueryRow(`SELECT id FROM users WHERE email = $1`, email).Scan(&id))
	return id
}

// register creates a user through the API and returns their id.
func (f *apiFixture) register(t *testing.T, email, password string) int64 {
	t.Helper()
	rec := f.do(t, "POST", "/auth/register", "", map[string]string{
		"email":                 email,
		"password":              password,
		"password_confirmation": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := f.decode(t, rec)
	user := body["user"].(map[string]interface{})
	return int64(user["id"].(float64))
}

// signIn authenticates through the API and returns the session token.
func (f *apiFixture) signIn(t *testing.T, email, password string) string {
	t.Helper()
	rec := f.do(t, "POST", "/auth/sessions", "", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := f.decode(t, rec)
	token := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}
