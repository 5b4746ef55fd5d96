// Package requestctx resolves the authenticated state of one HTTP request
// exactly once: cookie token to session, session to user, user to current
// account. Handlers read the result from the request context; nothing is
// shared across requests, so state can never leak between them.
package requestctx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/quayside-labs/saaskit/pkg/accounts"
	"github.com/quayside-labs/saaskit/pkg/contextkeys"
	"github.com/quayside-labs/saaskit/pkg/identity"
	"github.com/quayside-labs/saaskit/pkg/observability"
	"github.com/quayside-labs/saaskit/pkg/sessions"
)

// CookieName is where the browser keeps the session token.
const CookieName = "saaskit_session"

// Current is the per-request resolved state. A nil User means the request is
// anonymous; a nil Account means the user belongs to no account yet.
type Current struct {
	Session *sessions.Session
	User    *identity.User
	Account *accounts.Account
}

// SignedIn reports whether the request carries a live session.
func (c *Current) SignedIn() bool {
	return c != nil && c.User != nil
}

// FromContext returns the resolved state, never nil.
func FromContext(ctx context.Context) *Current {
	if current, ok := ctx.Value(contextkeys.CurrentKey).(*Current); ok && current != nil {
		return current
	}
	return &Current{}
}

// WithCurrent stores resolved state on a context, for tests and internal
// calls that bypass the middleware.
func WithCurrent(ctx context.Context, current *Current) context.Context {
	return contextkeys.WithCurrent(ctx, current)
}

// Middleware resolves the session cookie into Current and stores it on the
// request context. Resolution failures of any kind leave the request
// anonymous; handlers that require auth reject it downstream.
func Middleware(service *sessions.Service, users *identity.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current := resolve(r, service, users)
			ctx := WithCurrent(r.Context(), current)
			if current.SignedIn() {
				ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(current.User.ID, 10))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolve(r *http.Request, service *sessions.Service, users *identity.Store) *Current {
	token := bearerToken(r)
	if token == "" {
		return &Current{}
	}

	ctx := r.Context()
	logger := observability.FromContext(ctx)

	session, err := service.Resolve(ctx, token)
	if err != nil {
		return &Current{}
	}
	user, err := users.ByID(ctx, session.UserID)
	if err != nil {
		// A session whose user vanished is dead weight.
		logger.WithField("session_id", session.ID).Warn("session refers to a missing user")
		return &Current{}
	}
	account, err := service.CurrentAccount(ctx, user, session)
	if err != nil {
		logger.WithError(err).Warn("failed to resolve current account")
		return &Current{Session: session, User: user}
	}
	return &Current{Session: session, User: user, Account: account}
}

// bearerToken extracts the session token from the cookie, or from the
// Authorization header for API clients.
func bearerToken(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// SetCookie writes the session cookie.
func SetCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
