package identity

import (
	"context"
	"time"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
	"github.com/quayside-labs/saaskit/pkg/events"
	"github.com/quayside-labs/saaskit/pkg/observability"
)

// SessionRevoker kills a user's live sessions. Implemented by the session
// service; declared here so credential changes can revoke without identity
// importing the sessions package.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID int64, cause string) (int, error)
	RevokeOthers(ctx context.Context, userID, keepID int64) (int, error)
}

// Service orchestrates user credential flows: registration, email
// verification, password changes and resets, and second-factor enrollment.
type Service struct {
	store   *Store
	hasher  PasswordHasher
	signer  *TokenSigner
	mailer  Mailer
	revoker SessionRevoker
	bus     *events.Bus
	metrics *observability.Metrics
}

// NewService creates an identity service.
func NewService(store *Store, hasher PasswordHasher, signer *TokenSigner, mailer Mailer, revoker SessionRevoker, bus *events.Bus, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		hasher:  hasher,
		signer:  signer,
		mailer:  mailer,
		revoker: revoker,
		bus:     bus,
		metrics: metrics,
	}
}

// Store exposes the underlying store for wiring.
func (s *Service) Store() *Store {
	return s.store
}

// Register creates an unverified user and mails a verification token. The
// account can sign in right away; verification only gates flows that demand
// a confirmed address.
func (s *Service) Register(ctx context.Context, email, password, confirmation string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password, confirmation); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &User{Email: email, PasswordDigest: digest}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}

	if err := s.sendToken(ctx, user, PurposeEmailVerification, EmailVerificationTokenTTL); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.Event{
		Name:    events.UserRegistered,
		ActorID: user.ID,
		UserID:  user.ID,
		Payload: map[string]any{"email": user.Email},
	})
	return user, nil
}

// RequestEmailVerification re-mails a verification token.
func (s *Service) RequestEmailVerification(ctx context.Context, user *User) error {
	if user.Verified {
		return errdefs.InvalidState("email is already verified")
	}
	return s.sendToken(ctx, user, PurposeEmailVerification, EmailVerificationTokenTTL)
}

// VerifyEmail redeems a verification token and marks the address confirmed.
// Any defect in the token, including one issued before an email change,
// reads as the same invalid-or-expired error.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*User, error) {
	user, err := s.redeem(ctx, token, PurposeEmailVerification)
	if err != nil {
		return nil, err
	}

	if !user.Verified {
		if err := s.store.MarkVerified(ctx, user.ID); err != nil {
			return nil, err
		}
		user.Verified = true
		s.bus.Publish(ctx, events.Event{
			Name:    events.EmailVerified,
			ActorID: user.ID,
			UserID:  user.ID,
		})
	}
	return user, nil
}

// ChangeEmail updates the address after re-checking the current password.
// The user drops back to unverified and gets a fresh verification token;
// outstanding tokens die with the old address because the signer keys on it.
func (s *Service) ChangeEmail(ctx context.Context, user *User, newEmail, currentPassword string) (*User, error) {
	if err := s.checkCurrentPassword(currentPassword, user); err != nil {
		return nil, err
	}

	if err := s.store.UpdateEmail(ctx, user.ID, newEmail); err != nil {
		return nil, err
	}

	updated, err := s.store.ByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.sendToken(ctx, updated, PurposeEmailVerification, EmailVerificationTokenTTL); err != nil {
		return nil, err
	}
	return updated, nil
}

// ChangePassword replaces the password after re-checking the current one,
// then revokes the user's sessions. The session performing the change
// survives when keepSessionID is non-zero; pass zero to revoke everything.
func (s *Service) ChangePassword(ctx context.Context, user *User, current, password, confirmation string, keepSessionID int64) error {
	if err := s.checkCurrentPassword(current, user); err != nil {
		return err
	}
	if err := ValidatePassword(password, confirmation); err != nil {
		return err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, user.ID, digest); err != nil {
		return err
	}

	if keepSessionID != 0 {
		if _, err := s.revoker.RevokeOthers(ctx, user.ID, keepSessionID); err != nil {
			return err
		}
	} else if _, err := s.revoker.RevokeAll(ctx, user.ID, "password_change"); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.Event{
		Name:    events.PasswordChanged,
		ActorID: user.ID,
		UserID:  user.ID,
	})
	return nil
}

// RequestPasswordReset mails a reset token. An unknown address is reported
// as success so the endpoint cannot be used to probe for registered emails.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.store.ByEmail(ctx, email)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.sendToken(ctx, user, PurposePasswordReset, PasswordResetTokenTTL)
}

// ResetPassword redeems a reset token, sets the new password, and revokes
// every live session.
func (s *Service) ResetPassword(ctx context.Context, token, password, confirmation string) (*User, error) {
	user, err := s.redeem(ctx, token, PurposePasswordReset)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(password, confirmation); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdatePassword(ctx, user.ID, digest); err != nil {
		return nil, err
	}

	if _, err := s.revoker.RevokeAll(ctx, user.ID, "password_reset"); err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, events.Event{
		Name:    events.PasswordChanged,
		ActorID: user.ID,
		UserID:  user.ID,
	})
	return user, nil
}

// StartOTPEnrollment generates a fresh second-factor secret for the user to
// load into an authenticator app. Nothing is persisted until ConfirmOTP
// proves the app produces valid codes.
func (s *Service) StartOTPEnrollment(ctx context.Context, user *User) (string, error) {
	return GenerateOTPSecret()
}

// ConfirmOTP verifies a code against the pending secret and switches the
// second factor on.
func (s *Service) ConfirmOTP(ctx context.Context, user *User, secret, code string) error {
	if !ValidateTOTP(secret, code, time.Now()) {
		return errdefs.Validation("otp_code", "is invalid")
	}
	if err := s.store.SetOTP(ctx, user.ID, secret, true); err != nil {
		return err
	}
	user.OTPSecret = secret
	user.OTPRequiredForSignIn = true
	return nil
}

// DisableOTP switches the second factor off after re-checking the password.
func (s *Service) DisableOTP(ctx context.Context, user *User, currentPassword string) error {
	if err := s.checkCurrentPassword(currentPassword, user); err != nil {
		return err
	}
	if err := s.store.SetOTP(ctx, user.ID, "", false); err != nil {
		return err
	}
	user.OTPSecret = ""
	user.OTPRequiredForSignIn = false
	return nil
}

func (s *Service) checkCurrentPassword(password string, user *User) error {
	if user.PasswordDigest == "" {
		return errdefs.Validation("current_password", "is incorrect")
	}
	ok, err := s.hasher.Verify(password, user.PasswordDigest)
	if err != nil {
		return err
	}
	if !ok {
		return errdefs.Validation("current_password", "is incorrect")
	}
	return nil
}

// redeem resolves and fully verifies a purpose token, returning the user it
// was issued to. Every failure collapses to ErrTokenInvalid.
func (s *Service) redeem(ctx context.Context, token string, purpose TokenPurpose) (*User, error) {
	userID, err := s.signer.PeekUserID(token)
	if err != nil {
		s.metrics.TokenFailuresTotal.Inc()
		return nil, errdefs.ErrTokenInvalid
	}
	user, err := s.store.ByID(ctx, userID)
	if err != nil {
		s.metrics.TokenFailuresTotal.Inc()
		return nil, errdefs.ErrTokenInvalid
	}
	if err := s.signer.Verify(token, user, purpose); err != nil {
		s.metrics.TokenFailuresTotal.Inc()
		return nil, err
	}
	return user, nil
}

func (s *Service) sendToken(ctx context.Context, user *User, purpose TokenPurpose, ttl time.Duration) error {
	token, err := s.signer.Issue(user, purpose, ttl)
	if err != nil {
		return err
	}
	return s.mailer.SendToken(ctx, user.Email, purpose, token)
}
