package invites

import (
	"context"
	"time"

	"github.com/quayside-labs/saaskit/pkg/accounts"
	"github.com/quayside-labs/saaskit/pkg/authz"
	"github.com/quayside-labs/saaskit/pkg/errdefs"
	"github.com/quayside-labs/saaskit/pkg/events"
	"github.com/quayside-labs/saaskit/pkg/identity"
	"github.com/quayside-labs/saaskit/pkg/observability"
)

// Service runs the invitation flow end to end.
type Service struct {
	store    *Store
	users    *identity.Store
	accounts *accounts.Store
	resolver *authz.Resolver
	signer   *identity.TokenSigner
	hasher   identity.PasswordHasher
	mailer   identity.Mailer
	bus      *events.Bus
	metrics  *observability.Metrics
}

// NewService creates an invitation service.
func NewService(store *Store, users *identity.Store, accountStore *accounts.Store, resolver *authz.Resolver, signer *identity.TokenSigner, hasher identity.PasswordHasher, mailer identity.Mailer, bus *events.Bus, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		users:    users,
		accounts: accountStore,
		resolver: resolver,
		signer:   signer,
		hasher:   hasher,
		mailer:   mailer,
		bus:      bus,
		metrics:  metrics,
	}
}

// Issue invites an email address into a team account. An invitee with no
// user record gets one created on the spot, unverified and without a
// password, so the invitation token has an identity to bind to. Re-inviting
// an address refreshes the pending invitation.
func (s *Service) Issue(ctx context.Context, actor *identity.User, accountID int64, email string, roles accounts.RoleSet) (*Invitation, error) {
	if err := s.resolver.RequireAdmin(ctx, actor, accountID); err != nil {
		s.metrics.AuthDenialsTotal.WithLabelValues("account_admin").Inc()
		return nil, err
	}

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Personal {
		return nil, errdefs.InvalidState("personal accounts cannot have additional members")
	}

	if err := identity.ValidateEmail(email); err != nil {
		return nil, err
	}
	email = identity.NormalizeEmail(email)

	user, err := s.users.ByEmail(ctx, email)
	if errdefs.IsNotFound(err) {
		user = &identity.User{Email: email}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	existing, err := s.accounts.Membership(ctx, accountID, user.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errdefs.Validation("email", "is already a member of this account")
	}

	now := time.Now().UTC()
	invitation := &Invitation{
		AccountID: accountID,
		Email:     email,
		Roles:     roles,
		InvitedBy: actor.ID,
		InvitedAt: now,
		ExpiresAt: now.Add(identity.InvitationTokenTTL),
	}
	if err := s.store.Upsert(ctx, invitation); err != nil {
		return nil, err
	}

	token, err := s.signer.Issue(user, identity.PurposeInvitation, identity.InvitationTokenTTL)
	if err != nil {
		return nil, err
	}
	if err := s.mailer.SendToken(ctx, email, identity.PurposeInvitation, token); err != nil {
		return nil, err
	}

	s.metrics.InvitationsTotal.WithLabelValues("issued").Inc()
	s.bus.Publish(ctx, events.Event{
		Name:      events.InvitationIssued,
		AccountID: accountID,
		ActorID:   actor.ID,
		UserID:    user.ID,
		Payload:   map[string]any{"email": email, "roles": roles.Names()},
	})
	return invitation, nil
}

// Accept redeems an invitation token. An invitee without a verified
// credential supplies a password and comes out activated and verified in
// one step; a verified user just gains the membership. A token that is
// forged, expired, already redeemed, or stale after an email change reads
// as the same invalid-or-expired error.
func (s *Service) Accept(ctx context.Context, invitationID int64, token, password, confirmation string) (*identity.User, *accounts.Membership, error) {
	userID, err := s.signer.PeekUserID(token)
	if err != nil {
		return nil, nil, s.tokenFailure()
	}
	user, err := s.users.ByID(ctx, userID)
	if err != nil {
		return nil, nil, s.tokenFailure()
	}
	if err := s.signer.Verify(token, user, identity.PurposeInvitation); err != nil {
		return nil, nil, s.tokenFailure()
	}

	invitation, err := s.store.ByID(ctx, invitationID)
	if err != nil {
		return nil, nil, s.tokenFailure()
	}
	if invitation.Email != user.Email || !invitation.Pending(time.Now().UTC()) {
		return nil, nil, s.tokenFailure()
	}

	if !user.Verified {
		// The password set here also confirms the address, since the token
		// arrived through it. This covers users invited straight into
		// existence and registered users who never verified their email.
		if err := identity.ValidatePassword(password, confirmation); err != nil {
			return nil, nil, err
		}
		digest, err := s.hasher.Hash(password)
		if err != nil {
			return nil, nil, err
		}
		if err := s.users.ActivateWithPassword(ctx, user.ID, digest); err != nil {
			return nil, nil, err
		}
		user.PasswordDigest = digest
		user.Verified = true
	}

	membership, _, err := s.accounts.AddMember(ctx, invitation.AccountID, user.ID, invitation.Roles)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.MarkAccepted(ctx, invitation.ID, user.ID, time.Now().UTC()); err != nil {
		return nil, nil, err
	}

	s.metrics.InvitationsTotal.WithLabelValues("accepted").Inc()
	s.metrics.MembershipChangesTotal.WithLabelValues("added").Inc()
	s.bus.Publish(ctx, events.Event{
		Name:      events.InvitationAccepted,
		AccountID: invitation.AccountID,
		ActorID:   user.ID,
		UserID:    user.ID,
		Payload:   map[string]any{"email": invitation.Email},
	})
	return user, membership, nil
}

// ListForAccount lists an account's invitations. Admin-only.
func (s *Service) ListForAccount(ctx context.Context, actor *identity.User, accountID int64) ([]*Invitation, error) {
	if err := s.resolver.RequireAdmin(ctx, actor, accountID); err != nil {
		s.metrics.AuthDenialsTotal.WithLabelValues("account_admin").Inc()
		return nil, err
	}
	return s.store.ListForAccount(ctx, accountID)
}

// Revoke withdraws a pending invitation. Admin-only.
func (s *Service) Revoke(ctx context.Context, actor *identity.User, invitationID int64) error {
	invitation, err := s.store.ByID(ctx, invitationID)
	if err != nil {
		return err
	}
	if err := s.resolver.RequireAdmin(ctx, actor, invitation.AccountID); err != nil {
		s.metrics.AuthDenialsTotal.WithLabelValues("account_admin").Inc()
		return err
	}
	if invitation.AcceptedAt != nil {
		return errdefs.InvalidState("invitation has already been accepted")
	}

	if err := s.store.Delete(ctx, invitationID); err != nil {
		return err
	}
	s.metrics.InvitationsTotal.WithLabelValues("revoked").Inc()
	return nil
}

// PurgeExpired removes unaccepted invitations past their expiry. The
// janitor calls this on a schedule.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.InvitationsTotal.WithLabelValues("expired").Add(float64(n))
	}
	return n, nil
}

func (s *Service) tokenFailure() error {
	s.metrics.TokenFailuresTotal.Inc()
	return errdefs.ErrTokenInvalid
}
