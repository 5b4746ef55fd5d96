package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quayside-labs/saaskit/pkg/accounts"
	"github.com/quayside-labs/saaskit/pkg/featureflags"
	"github.com/quayside-labs/saaskit/pkg/httputil"
	"github.com/quayside-labs/saaskit/pkg/identity"
	"github.com/quayside-labs/saaskit/pkg/observability"
	"github.com/quayside-labs/saaskit/pkg/requestctx"
	"github.com/quayside-labs/saaskit/pkg/sessions"
)

// AuthHandlers handles registration, credentials, and session lifecycle
type AuthHandlers struct {
	identity      *identity.Service
	sessions      *sessions.Service
	accounts      *accounts.Service
	flags         featureflags.Source
	secureCookies bool
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(identitySvc *identity.Service, sessionSvc *sessions.Service, accountSvc *accounts.Service, flags featureflags.Source, secureCookies bool) *AuthHandlers {
	return &AuthHandlers{
		identity:      identitySvc,
		sessions:      sessionSvc,
		accounts:      accountSvc,
		flags:         flags,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	// Registration and the current user
	router.HandleFunc("/auth/register", h.register).Methods("POST")
	router.HandleFunc("/auth/me", h.me).Methods("GET")
	router.HandleFunc("/auth/me/email", h.changeEmail).Methods("PUT")
	router.HandleFunc("/auth/me/password", h.changePassword).Methods("PUT")

	// Session routes
	router.HandleFunc("/auth/sessions", h.signIn).Methods("POST")
	router.HandleFunc("/auth/sessions", h.listSessions).Methods("GET")
	router.HandleFunc("/auth/sessions/current", h.signOut).Methods("DELETE")
	router.HandleFunc("/auth/sessions/current/account", h.switchAccount).Methods("PUT")
	router.HandleFunc("/auth/sessions/others", h.revokeOtherSessions).Methods("DELETE")
	router.HandleFunc("/auth/sessions/{id:[0-9]+}", h.revokeSession).Methods("DELETE")

	// Emailed token flows
	router.HandleFunc("/auth/verification", h.requestVerification).Methods("POST")
	router.HandleFunc("/auth/verification", h.verifyEmail).Methods("PUT")
	router.HandleFunc("/auth/password_reset", h.requestPasswordReset).Methods("POST")
	router.HandleFunc("/auth/password_reset", h.resetPassword).Methods("PUT")

	// Two-factor routes
	router.HandleFunc("/auth/otp", h.startOTP).Methods("POST")
	router.HandleFunc("/auth/otp", h.confirmOTP).Methods("PUT")
	router.HandleFunc("/auth/otp", h.disableOTP).Methods("DELETE")
}

// register handles POST /auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email                string `json:"email"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	user, err := h.identity.Register(ctx, req.Email, req.Password, req.PasswordConfirmation)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	// Everyone starts with a personal account unless the deployment has
	// turned them off.
	var account *accounts.Account
	if h.flags.Current().PersonalAccounts {
		account, err = h.accounts.CreatePersonal(ctx, user)
		if err != nil {
			httputil.WriteDomainError(w, err)
			return
		}
	}

	if err := h.identity.RequestEmailVerification(ctx, user); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to send verification email")
	}

	// Registration signs the user straight in.
	session, token, err := h.sessions.Start(ctx, user.ID, r.UserAgent(), httputil.ClientIP(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	requestctx.SetCookie(w, token, h.secureCookies)

	httputil.WriteCreated(w, map[string]interface{}{
		"user":    user,
		"account": account,
		"session": session,
		"token":   token,
	})
}

// me handles GET /auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"user":    current.User,
		"account": current.Account,
	})
}

// changeEmail handles PUT /auth/me/email
func (h *AuthHandlers) changeEmail(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Email           string `json:"email"`
		CurrentPassword string `json:"current_password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.identity.ChangeEmail(r.Context(), current.User, req.Email, req.CurrentPassword)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// changePassword handles PUT /auth/me/password
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		CurrentPassword      string `json:"current_password"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	// The acting session survives; everything else is revoked.
	err := h.identity.ChangePassword(r.Context(), current.User, req.CurrentPassword,
		req.Password, req.PasswordConfirmation, current.Session.ID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// signIn handles POST /auth/sessions
func (h *AuthHandlers) signIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		OTPCode  string `json:"otp_code"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, token, err := h.sessions.SignIn(r.Context(), sessions.SignInInput{
		Email:     req.Email,
		Password:  req.Password,
		OTPCode:   req.OTPCode,
		UserAgent: r.UserAgent(),
		IPAddress: httputil.ClientIP(r),
	})
	if err != nil {
		if errors.Is(err, sessions.ErrBadCredentials) {
			httputil.WriteUnauthorized(w, err.Error())
			return
		}
		httputil.WriteDomainError(w, err)
		return
	}

	requestctx.SetCookie(w, token, h.secureCookies)
	httputil.WriteCreated(w, map[string]interface{}{
		"session": session,
		"token":   token,
	})
}

// listSessions handles GET /auth/sessions
func (h *AuthHandlers) listSessions(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.sessions.ListForUser(r.Context(), current.User.ID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"sessions": list,
		"current":  current.Session.ID,
	})
}

// signOut handles DELETE /auth/sessions/current
func (h *AuthHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.sessions.SignOut(r.Context(), current.Session); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	requestctx.ClearCookie(w, h.secureCookies)
	httputil.WriteNoContent(w)
}

// switchAccount handles PUT /auth/sessions/current/account
func (h *AuthHandlers) switchAccount(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		AccountID int64 `json:"account_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.sessions.SwitchAccount(r.Context(), current.User, current.Session, req.AccountID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// revokeOtherSessions handles DELETE /auth/sessions/others
func (h *AuthHandlers) revokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	revoked, err := h.sessions.RevokeOthers(r.Context(), current.User.ID, current.Session.ID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int{"revoked": revoked})
}

// revokeSession handles DELETE /auth/sessions/{id}
func (h *AuthHandlers) revokeSession(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.sessions.Revoke(r.Context(), current.User.ID, sessionID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if sessionID == current.Session.ID {
		requestctx.ClearCookie(w, h.secureCookies)
	}
	httputil.WriteNoContent(w)
}

// requestVerification handles POST /auth/verification
func (h *AuthHandlers) requestVerification(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.identity.RequestEmailVerification(r.Context(), current.User); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// verifyEmail handles PUT /auth/verification
func (h *AuthHandlers) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.identity.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// requestPasswordReset handles POST /auth/password_reset
func (h *AuthHandlers) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	// Always 204 so the response never reveals whether the address exists.
	if err := h.identity.RequestPasswordReset(r.Context(), req.Email); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to send password reset email")
	}
	httputil.WriteNoContent(w)
}

// resetPassword handles PUT /auth/password_reset
func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token                string `json:"token"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.identity.ResetPassword(r.Context(), req.Token, req.Password, req.PasswordConfirmation)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// startOTP handles POST /auth/otp
func (h *AuthHandlers) startOTP(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	secret, err := h.identity.StartOTPEnrollment(r.Context(), current.User)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"secret": secret})
}

// confirmOTP handles PUT /auth/otp
func (h *AuthHandlers) confirmOTP(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.identity.ConfirmOTP(r.Context(), current.User, req.Secret, req.Code); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// disableOTP handles DELETE /auth/otp
func (h *AuthHandlers) disableOTP(w http.ResponseWriter, r *http.Request) {
	current, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.identity.DisableOTP(r.Context(), current.User, req.CurrentPassword); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
