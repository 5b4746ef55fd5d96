package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quayside-labs/saaskit/pkg/accounts"
	"github.com/quayside-labs/saaskit/pkg/httputil"
	"github.com/quayside-labs/saaskit/pkg/identity"
)

// AccountHandlers handles account and membership HTTP requests
type AccountHandlers struct {
	accounts *accounts.Service
}

// NewAccountHandlers creates a new account handlers instance
func NewAccountHandlers(accountSvc *accounts.Service) *AccountHandlers {
	return &AccountHandlers{accounts: accountSvc}
}

// RegisterRoutes registers account routes
func (h *AccountHandlers) RegisterRoutes(router *mux.Router) {
	// Account routes
	router.HandleFunc("/accounts", h.createTeam).Methods("POST")
	router.HandleFunc("/accounts", h.listAccounts).Methods("GET")
	router.HandleFunc("/accounts/personal", h.createPersonal).Methods("POST")
	router.HandleFunc("/accounts/{id}", h.getAccount).Methods("GET")
	router.HandleFunc("/accounts/{id}", h.destroyAccount).Methods("DELETE")
	router.HandleFunc("/accounts/{id}/team", h.convertToTeam).Methods("POST")
	router.HandleFunc("/accounts/{id}/personal", h.convertToPersonal).Methods("POST")

	// Membership routes
	router.HandleFunc("/accounts/{id}/members", h.listMembers).Methods("GET")
	router.HandleFunc("/accounts/{id}/members", h.addMember).Methods("POST")
	router.HandleFunc("/accounts/{id}/members/{user_id}", h.removeMember).Methods("DELETE")
	router.HandleFunc("/accounts/{id}/members/{user_id}/roles/{role}", h.grantRole).Methods("PUT")
	router.HandleFunc("/accounts/{id}/members/{user_id}/roles/{role}", h.revokeRole).Methods("DELETE")
}

// createTeam handles POST /accounts
func (h *AccountHandlers) createTeam(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	account, err := h.accounts.CreateTeam(r.Context(), current.User, req.Name)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, account)
}

// createPersonal handles POST /accounts/personal
func (h *AccountHandlers) createPersonal(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.CreatePersonal(r.Context(), current.User)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, account)
}

// listAccounts handles GET /accounts
func (h *AccountHandlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.accounts.ListForUser(r.Context(), current.User)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// getAccount handles GET /accounts/{id}
func (h *AccountHandlers) getAccount(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	account, err := h.accounts.Get(r.Context(), current.User, accountID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, account)
}

// destroyAccount handles DELETE /accounts/{id}
func (h *AccountHandlers) destroyAccount(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.accounts.Destroy(r.Context(), current.User, accountID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// convertToTeam handles POST /accounts/{id}/team
func (h *AccountHandlers) convertToTeam(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	account, err := h.accounts.ConvertToTeam(r.Context(), current.User, accountID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, account)
}

// convertToPersonal handles POST /accounts/{id}/personal
func (h *AccountHandlers) convertToPersonal(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	account, err := h.accounts.ConvertToPersonal(r.Context(), current.User, accountID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, account)
}

// listMembers handles GET /accounts/{id}/members
func (h *AccountHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	members, err := h.accounts.ListMembers(r.Context(), current.User, accountID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

// addMember handles POST /accounts/{id}/members
func (h *AccountHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		UserID int64 `json:"user_id"`
		Admin  bool  `json:"admin"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	roles := accounts.DefaultMemberRoles()
	if req.Admin {
		roles = roles.With(accounts.RoleAdmin)
	}
	membership, err := h.accounts.AddMember(r.Context(), current.User, accountID, req.UserID, roles)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, membership)
}

// removeMember handles DELETE /accounts/{id}/members/{user_id}
func (h *AccountHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.accounts.RemoveMember(r.Context(), current.User, accountID, userID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// grantRole handles PUT /accounts/{id}/members/{user_id}/roles/{role}
func (h *AccountHandlers) grantRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.accounts.GrantRole)
}

// revokeRole handles DELETE /accounts/{id}/members/{user_id}/roles/{role}
func (h *AccountHandlers) revokeRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.accounts.RevokeRole)
}

type roleChange func(ctx context.Context, actor *identity.User, accountID, userID int64, role accounts.Role) (*accounts.Membership, error)

func (h *AccountHandlers) changeRole(w http.ResponseWriter, r *http.Request, apply roleChange) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	roleName, err := httputil.ParsePathString(r, "role")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	role, err := accounts.ParseRole(roleName)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	membership, err := apply(r.Context(), current.User, accountID, userID, role)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, membership)
}
