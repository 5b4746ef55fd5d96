// Package api exposes the HTTP surface: registration, sessions, accounts,
// membership, and invitations. Handlers stay thin; every rule lives in the
// services and reaches the wire through httputil.WriteDomainError.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quayside-labs/saaskit/pkg/accounts"
	"github.com/quayside-labs/saaskit/pkg/featureflags"
	"github.com/quayside-labs/saaskit/pkg/httputil"
	"github.com/quayside-labs/saaskit/pkg/identity"
	"github.com/quayside-labs/saaskit/pkg/invites"
	"github.com/quayside-labs/saaskit/pkg/observability"
	"github.com/quayside-labs/saaskit/pkg/requestctx"
	"github.com/quayside-labs/saaskit/pkg/sessions"
)

// Deps carries everything the server needs. All fields are required except
// SecureCookies, which defaults to off for local development.
type Deps struct {
	Identity *identity.Service
	Sessions *sessions.Service
	Accounts *accounts.Service
	Invites  *invites.Service
	Flags    featureflags.Source

	Logger        *observability.Logger
	Metrics       *observability.Metrics
	SecureCookies bool
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	deps    Deps
	metrics *observability.Metrics

	authHandlers       *AuthHandlers
	accountHandlers    *AccountHandlers
	invitationHandlers *InvitationHandlers
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		metrics: deps.Metrics,
	}

	s.authHandlers = NewAuthHandlers(deps.Identity, deps.Sessions, deps.Accounts, deps.Flags, deps.SecureCookies)
	s.accountHandlers = NewAccountHandlers(deps.Accounts)
	s.invitationHandlers = NewInvitationHandlers(deps.Invites, deps.Accounts, deps.Sessions, deps.SecureCookies)

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.authHandlers.RegisterRoutes(s.router)
	s.accountHandlers.RegisterRoutes(s.router)
	s.invitationHandlers.RegisterRoutes(s.router)
}

// Router returns the bare router, for tests that want to hit a single
// handler without the middleware chain.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in the full middleware chain:
// panic recovery, request IDs, logging, metrics, and session resolution.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = requestctx.Middleware(s.deps.Sessions, s.deps.Identity.Store())(h)
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler("api", h)
	}
	h = httputil.LoggingMiddleware(h)
	h = httputil.RequestIDMiddleware(h)
	h = httputil.RecoveryMiddleware(h)
	return h
}

// requireUser rejects anonymous requests. Handlers call it first and bail
// when the second return is false.
func requireUser(w http.ResponseWriter, r *http.Request) (*requestctx.Current, bool) {
	current := requestctx.FromContext(r.Context())
	if !current.SignedIn() {
		httputil.WriteUnauthorized(w, "sign in required")
		return nil, false
	}
	return current, true
}
