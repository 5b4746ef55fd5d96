package sessions

import (
	"context"
	"time"

	"github.com/quayside-labs/saaskit/pkg/accounts"
	"github.com/quayside-labs/saaskit/pkg/authz"
	"github.com/quayside-labs/saaskit/pkg/errdefs"
	"github.com/quayside-labs/saaskit/pkg/featureflags"
	"github.com/quayside-labs/saaskit/pkg/identity"
	"github.com/quayside-labs/saaskit/pkg/observability"
)

// touchInterval throttles last_active_at writes so a busy session does not
// turn every request into an UPDATE.
const touchInterval = time.Minute

// SignInInput carries one sign-in attempt.
type SignInInput struct {
	Email     string
	Password  string
	OTPCode   string
	UserAgent string
	IPAddress string
}

// Service orchestrates session lifecycle: sign-in, per-request resolution,
// account switching, and revocation.
type Service struct {
	store    *Store
	cache    *Cache
	users    *identity.Store
	accounts *accounts.Store
	resolver *authz.Resolver
	hasher   identity.PasswordHasher
	flags    featureflags.Source
	metrics  *observability.Metrics
}

// NewService creates a session service.
func NewService(store *Store, cache *Cache, users *identity.Store, accountStore *accounts.Store, resolver *authz.Resolver, hasher identity.PasswordHasher, flags featureflags.Source, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		users:    users,
		accounts: accountStore,
		resolver: resolver,
		hasher:   hasher,
		flags:    flags,
		metrics:  metrics,
	}
}

// SignIn verifies credentials and opens a session. Every failure mode
// collapses to ErrBadCredentials so the response never reveals whether the
// email exists, the password was wrong, or the second factor failed.
func (s *Service) SignIn(ctx context.Context, input SignInInput) (*Session, string, error) {
	user, err := s.users.ByEmail(ctx, identity.NormalizeEmail(input.Email))
	if err != nil {
		if errdefs.IsNotFound(err) {
			s.metrics.SignInsTotal.WithLabelValues("bad_credentials").Inc()
			return nil, "", ErrBadCredentials
		}
		return nil, "", err
	}

	// Invited users have no digest until they activate.
	if user.PasswordDigest == "" {
		s.metrics.SignInsTotal.WithLabelValues("bad_credentials").Inc()
		return nil, "", ErrBadCredentials
	}
	ok, err := s.hasher.Verify(input.Password, user.PasswordDigest)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		s.metrics.SignInsTotal.WithLabelValues("bad_credentials").Inc()
		return nil, "", ErrBadCredentials
	}

	if user.OTPRequiredForSignIn {
		if !identity.ValidateTOTP(user.OTPSecret, input.OTPCode, time.Now()) {
			s.metrics.SignInsTotal.WithLabelValues("bad_otp").Inc()
			return nil, "", ErrBadCredentials
		}
	}

	session, token, err := s.Start(ctx, user.ID, input.UserAgent, input.IPAddress)
	if err != nil {
		return nil, "", err
	}
	s.metrics.SignInsTotal.WithLabelValues("success").Inc()
	return session, token, nil
}

// Start opens a session without checking credentials. Callers own the proof
// of identity: sign-in verifies the password first, registration and
// invitation acceptance have just established it. When personal accounts
// are enabled the new session starts on the user's personal account;
// otherwise account_id stays null until an explicit switch.
func (s *Service) Start(ctx context.Context, userID int64, userAgent, ipAddress string) (*Session, string, error) {
	token, err := NewToken()
	if err != nil {
		return nil, "", err
	}
	session := &Session{
		UserID:    userID,
		TokenHash: HashToken(token),
		UserAgent: userAgent,
		IPAddress: ipAddress,
	}
	if s.flags.Current().PersonalAccounts {
		personal, err := s.accounts.PersonalFor(ctx, userID)
		if err != nil {
			return nil, "", err
		}
		if personal != nil {
			session.AccountID = personal.ID
		}
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, "", err
	}
	s.cache.Set(ctx, session)

	s.metrics.SessionsCreated.Inc()
	s.metrics.SessionsActive.Inc()
	return session, token, nil
}

// Resolve maps a bearer token to its session, consulting the cache before
// the database. Activity is recorded at most once per touchInterval.
func (s *Service) Resolve(ctx context.Context, token string) (*Session, error) {
	if !ValidTokenShape(token) {
		return nil, errdefs.NotFound("session")
	}
	hash := HashToken(token)

	session, cached := s.cache.Get(ctx, hash)
	if !cached {
		var err error
		session, err = s.store.ByTokenHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, session)
	}

	if now := time.Now().UTC(); now.Sub(session.LastActiveAt) > touchInterval {
		if err := s.store.Touch(ctx, session.ID, now); err != nil {
			return nil, err
		}
		session.LastActiveAt = now
		s.cache.Set(ctx, session)
	}
	return session, nil
}

// CurrentAccount resolves the tenant for a request. An explicit selection
// wins while it is still accessible; otherwise the user's first account is
// used without persisting anything, so the fallback tracks membership
// changes on its own.
func (s *Service) CurrentAccount(ctx context.Context, user *identity.User, session *Session) (*accounts.Account, error) {
	if session.AccountID != 0 {
		ok, err := s.resolver.CanAccess(ctx, user, session.AccountID)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.accounts.Get(ctx, session.AccountID)
		}
	}

	list, err := s.accounts.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// SwitchAccount persists an explicit account selection. The user must be
// able to access the target account.
func (s *Service) SwitchAccount(ctx context.Context, user *identity.User, session *Session, accountID int64) error {
	if err := s.resolver.RequireAccess(ctx, user, accountID); err != nil {
		if errdefs.IsForbidden(err) {
			s.metrics.AuthDenialsTotal.WithLabelValues("switch_account").Inc()
		}
		return err
	}
	if err := s.store.SetAccount(ctx, session.ID, accountID); err != nil {
		return err
	}
	session.AccountID = accountID
	s.cache.Set(ctx, session)
	return nil
}

// SignOut revokes one session.
func (s *Service) SignOut(ctx context.Context, session *Session) error {
	if err := s.store.Delete(ctx, session.ID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, session.TokenHash)
	s.metrics.SessionsRevoked.WithLabelValues("sign_out").Inc()
	s.metrics.SessionsActive.Dec()
	return nil
}

// ListForUser lists the user's live sessions for the security page.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*Session, error) {
	return s.store.ListForUser(ctx, userID)
}

// Revoke deletes one of the user's sessions by id. Sessions belonging to
// other users read as NotFound.
func (s *Service) Revoke(ctx context.Context, userID, sessionID int64) error {
	session, err := s.store.ByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return errdefs.NotFound("session")
	}
	if err := s.store.Delete(ctx, session.ID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, session.TokenHash)
	s.metrics.SessionsRevoked.WithLabelValues("revoke").Inc()
	s.metrics.SessionsActive.Dec()
	return nil
}

// RevokeOthers revokes every session of the user except the current one.
func (s *Service) RevokeOthers(ctx context.Context, userID, keepID int64) (int, error) {
	hashes, err := s.store.DeleteAllForUserExcept(ctx, userID, keepID)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, hashes, "revoke_others")
	return len(hashes), nil
}

// RevokeAll revokes every session of the user. Credential changes call this
// so stolen cookies die with the old password.
func (s *Service) RevokeAll(ctx context.Context, userID int64, cause string) (int, error) {
	hashes, err := s.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, hashes, cause)
	return len(hashes), nil
}

// PurgeIdle revokes sessions idle for longer than idleTTL.
func (s *Service) PurgeIdle(ctx context.Context, idleTTL time.Duration) (int, error) {
	hashes, err := s.store.DeleteIdleBefore(ctx, time.Now().UTC().Add(-idleTTL))
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, hashes, "idle")
	return len(hashes), nil
}

func (s *Service) invalidate(ctx context.Context, hashes []string, cause string) {
	s.cache.InvalidateMany(ctx, hashes)
	for range hashes {
		s.metrics.SessionsRevoked.WithLabelValues(cause).Inc()
		s.metrics.SessionsActive.Dec()
	}
}
