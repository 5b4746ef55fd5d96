package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quayside-labs/saaskit/pkg/accounts"
	"github.com/quayside-labs/saaskit/pkg/httputil"
	"github.com/quayside-labs/saaskit/pkg/invites"
	"github.com/quayside-labs/saaskit/pkg/requestctx"
	"github.com/quayside-labs/saaskit/pkg/sessions"
)

// InvitationHandlers handles invitation HTTP requests
type InvitationHandlers struct {
	invites       *invites.Service
	accounts      *accounts.Service
	sessions      *sessions.Service
	secureCookies bool
}

// NewInvitationHandlers creates a new invitation handlers instance
func NewInvitationHandlers(inviteSvc *invites.Service, accountSvc *accounts.Service, sessionSvc *sessions.Service, secureCookies bool) *InvitationHandlers {
	return &InvitationHandlers{
		invites:       inviteSvc,
		accounts:      accountSvc,
		sessions:      sessionSvc,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers invitation routes
func (h *InvitationHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/accounts/{id}/invitations", h.issue).Methods("POST")
	router.HandleFunc("/accounts/{id}/invitations", h.list).Methods("GET")
	router.HandleFunc("/invitations/{id}", h.revoke).Methods("DELETE")

	// Accept is the one public route: the caller proves themselves with
	// the emailed token, not a session.
	router.HandleFunc("/invitations/{id}/accept", h.accept).Methods("POST")
}

// issue handles POST /accounts/{id}/invitations
func (h *InvitationHandlers) issue(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email"`
		Admin bool   `json:"admin"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	roles := accounts.DefaultMemberRoles()
	if req.Admin {
		roles = roles.With(accounts.RoleAdmin)
	}
	invitation, err := h.invites.Issue(r.Context(), current.User, accountID, req.Email, roles)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, invitation)
}

// list handles GET /accounts/{id}/invitations
func (h *InvitationHandlers) list(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	invitations, err := h.invites.ListForAccount(r.Context(), current.User, accountID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, invitations)
}

// revoke handles DELETE /invitations/{id}
func (h *InvitationHandlers) revoke(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	invitationID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.invites.Revoke(r.Context(), current.User, invitationID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// accept handles POST /invitations/{id}/accept
func (h *InvitationHandlers) accept(w http.ResponseWriter, r *http.Request) {
	invitationID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Token                string `json:"token"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, membership, err := h.invites.Accept(r.Context(), invitationID, req.Token, req.Password, req.PasswordConfirmation)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	// Accepting an invitation signs the invitee straight in.
	session, token, err := h.sessions.Start(r.Context(), user.ID, r.UserAgent(), httputil.ClientIP(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	requestctx.SetCookie(w, token, h.secureCookies)

	httputil.WriteSuccess(w, map[string]interface{}{
		"user":       user,
		"membership": membership,
		"session":    session,
		"token":      token,
	})
}
