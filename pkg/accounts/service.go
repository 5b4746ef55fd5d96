package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/quayside-labs/saaskit/pkg/authz"
	"github.com/quayside-labs/saaskit/pkg/errdefs"
	"github.com/quayside-labs/saaskit/pkg/events"
	"github.com/quayside-labs/saaskit/pkg/featureflags"
	"github.com/quayside-labs/saaskit/pkg/identity"
	"github.com/quayside-labs/saaskit/pkg/observability"
)

// MaxAccountNameLength bounds account names.
const MaxAccountNameLength = 100

// Service wraps the store with authorization gates, conversion rules, and
// event publishing. Handlers call the service, never the store.
type Service struct {
	store    *Store
	resolver *authz.Resolver
	flags    featureflags.Source
	bus      *events.Bus
	metrics  *observability.Metrics
}

// NewService creates an account service.
func NewService(store *Store, resolver *authz.Resolver, flags featureflags.Source, bus *events.Bus, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		flags:    flags,
		bus:      bus,
		metrics:  metrics,
	}
}

// Store exposes the underlying store for wiring (the authz ledger and the
// request context middleware read it directly).
func (s *Service) Store() *Store {
	return s.store
}

func validateAccountName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errdefs.Validation("name", "can't be blank")
	}
	if len(name) > MaxAccountNameLength {
		return "", errdefs.Validationf("name", "is too long (maximum is %d characters)", MaxAccountNameLength)
	}
	return name, nil
}

// CreateTeam creates a team account owned by the given user. The owner is
// seeded into the membership ledger with {admin, member}.
func (s *Service) CreateTeam(ctx context.Context, owner *identity.User, name string) (*Account, error) {
	name, err := validateAccountName(name)
	if err != nil {
		return nil, err
	}

	account, _, err := s.store.CreateWithOwner(ctx, owner.ID, name, false)
	if err != nil {
		return nil, err
	}

	s.metrics.AccountsTotal.Inc()
	s.bus.Publish(ctx, events.Event{
		Name:      events.AccountCreated,
		AccountID: account.ID,
		ActorID:   owner.ID,
		UserID:    owner.ID,
		Payload:   map[string]any{"name": account.Name, "personal": false},
	})
	return account, nil
}

// PersonalAccountName is the default name of a registration-time personal
// account. The owner can rename it afterwards.
const PersonalAccountName = "Personal"

// CreatePersonal creates the user's personal account. Registration calls
// this when the personal accounts flag is on.
func (s *Service) CreatePersonal(ctx context.Context, owner *identity.User) (*Account, error) {
	if !s.flags.Current().PersonalAccounts {
		return nil, errdefs.Forbidden("personal accounts are disabled")
	}

	account, _, err := s.store.CreateWithOwner(ctx, owner.ID, PersonalAccountName, true)
	if err != nil {
		return nil, err
	}

	s.metrics.AccountsTotal.Inc()
	s.bus.Publish(ctx, events.Event{
		Name:      events.AccountCreated,
		AccountID: account.ID,
		ActorID:   owner.ID,
		UserID:    owner.ID,
		Payload:   map[string]any{"name": account.Name, "personal": true},
	})
	return account, nil
}

// Get retrieves an account the actor can access.
func (s *Service) Get(ctx context.Context, actor *identity.User, accountID int64) (*Account, error) {
	if err := s.resolver.RequireAccess(ctx, actor, accountID); err != nil {
		s.metrics.AuthDenialsTotal.WithLabelValues("account_access").Inc()
		return nil, err
	}
	return s.store.Get(ctx, accountID)
}

// ListForUser retrieves the actor's accounts in stable order.
func (s *Service) ListForUser(ctx context.Context, actor *identity.User) ([]*Account, error) {
	return s.store.ListForUser(ctx, actor.ID)
}

// ConvertToTeam turns a personal account into a team account. Only the owner
// may convert; the membership ledger is untouched.
func (s *Service) ConvertToTeam(ctx context.Context, actor *identity.User, accountID int64) (*Account, error) {
	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if actor.ID != account.OwnerID {
		s.metrics.AuthDenialsTotal.WithLabelValues("convert").Inc()
		return nil, errdefs.Forbidden("only the account owner can convert it")
	}
	if !account.Personal {
		return nil, errdefs.InvalidState("account is already a team account")
	}

	if err := s.store.SetPersonal(ctx, accountID, false); err != nil {
		return nil, err
	}
	account.Personal = false

	s.metrics.AccountConversionsTotal.WithLabelValues("to_team").Inc()
	s.bus.Publish(ctx, events.Event{
		Name:      events.AccountConverted,
		AccountID: account.ID,
		ActorID:   actor.ID,
		Payload:   map[string]any{"direction": "to_team"},
	})
	return account, nil
}

// ConvertToPersonal turns a team account back into a personal one. Only the
// owner may convert, the account must hold no members besides the owner, and
// the personal accounts flag must be on.
func (s *Service) ConvertToPersonal(ctx context.Context, actor *identity.User, accountID int64) (*Account, error) {
	if !s.flags.Current().PersonalAccounts {
		return nil, errdefs.Forbidden("personal accounts are disabled")
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if actor.ID != account.OwnerID {
		s.metrics.AuthDenialsTotal.WithLabelValues("convert").Inc()
		return nil, errdefs.Forbidden("only the account owner can convert it")
	}
	if account.Personal {
		return nil, errdefs.InvalidState("account is already personal")
	}

	count, err := s.store.CountMembers(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if count > 1 {
		return nil, errdefs.PreconditionFailed("remove other members before converting to a personal account")
	}

	if err := s.store.SetPersonal(ctx, accountID, true); err != nil {
		return nil, err
	}
	account.Personal = true

	s.metrics.AccountConversionsTotal.WithLabelValues("to_personal").Inc()
	s.bus.Publish(ctx, events.Event{
		Name:      events.AccountConverted,
		AccountID: account.ID,
		ActorID:   actor.ID,
		Payload:   map[string]any{"direction": "to_personal"},
	})
	return account, nil
}

// Destroy deletes an account. Only the owner may destroy it. Sessions that
// pointed at the account survive and fall back to the user's first remaining
// account.
func (s *Service) Destroy(ctx context.Context, actor *identity.User, accountID int64) error {
	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if actor.ID != account.OwnerID {
		s.metrics.AuthDenialsTotal.WithLabelValues("destroy").Inc()
		return errdefs.Forbidden("only the account owner can delete it")
	}

	if err := s.store.Delete(ctx, accountID); err != nil {
		return err
	}

	s.metrics.AccountsTotal.Dec()
	s.bus.Publish(ctx, events.Event{
		Name:      events.AccountDestroyed,
		AccountID: accountID,
		ActorID:   actor.ID,
		Payload:   map[string]any{"name": account.Name},
	})
	return nil
}

// ListMembers retrieves the account's membership ledger for any member.
func (s *Service) ListMembers(ctx context.Context, actor *identity.User, accountID int64) ([]*Member, error) {
	if err := s.resolver.RequireAccess(ctx, actor, accountID); err != nil {
		s.metrics.AuthDenialsTotal.WithLabelValues("account_access").Inc()
		return nil, err
	}
	return s.store.ListMembers(ctx, accountID)
}

// AddMember establishes membership for a user. Admin-only; personal accounts
// hold exactly their owner.
func (s *Service) AddMember(ctx context.Context, actor *identity.User, accountID, userID int64, roles RoleSet) (*Membership, error) {
	if err := s.resolver.RequireAdmin(ctx, actor, accountID); err != nil {
		s.metrics.AuthDenialsTotal.WithLabelValues("account_admin").Inc()
		return nil, err
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Personal {
		return nil, errdefs.InvalidState("personal accounts cannot have additional members")
	}

	membership, created, err := s.store.AddMember(ctx, accountID, userID, roles)
	if err != nil {
		return nil, err
	}
	if created {
		s.metrics.MembershipChangesTotal.WithLabelValues("added").Inc()
		s.bus.Publish(ctx, events.Event{
			Name:      events.MembershipChanged,
			AccountID: accountID,
			ActorID:   actor.ID,
			UserID:    userID,
			Payload:   map[string]any{"op": "added", "roles": membership.Roles.Names()},
		})
	}
	return membership, nil
}

// GrantRole merges a role into a member's role set. Admin-only.
func (s *Service) GrantRole(ctx context.Context, actor *identity.User, accountID, userID int64, role Role) (*Membership, error) {
	return s.changeRole(ctx, actor, accountID, userID, role, "granted", s.store.Grant)
}

// RevokeRole removes a role from a member's role set, leaving the membership
// row and its other roles in place. Admin-only.
func (s *Service) RevokeRole(ctx context.Context, actor *identity.User, accountID, userID int64, role Role) (*Membership, error) {
	return s.changeRole(ctx, actor, accountID, userID, role, "revoked", s.store.Revoke)
}

func (s *Service) changeRole(
	ctx context.Context,
	actor *identity.User,
	accountID, userID int64,
	role Role,
	op string,
	apply func(context.Context, int64, int64, Role) (*Membership, error),
) (*Membership, error) {
	if err := s.resolver.RequireAdmin(ctx, actor, accountID); err != nil {
		s.metrics.AuthDenialsTotal.WithLabelValues("account_admin").Inc()
		return nil, err
	}

	membership, err := apply(ctx, accountID, userID, role)
	if err != nil {
		return nil, err
	}

	s.metrics.MembershipChangesTotal.WithLabelValues("role_" + op).Inc()
	s.bus.Publish(ctx, events.Event{
		Name:      events.MembershipChanged,
		AccountID: accountID,
		ActorID:   actor.ID,
		UserID:    userID,
		Payload: map[string]any{
			"op":    fmt.Sprintf("role_%s", op),
			"role":  string(role),
			"roles": membership.Roles.Names(),
		},
	})
	return membership, nil
}

// RemoveMember deletes a member's ledger row. Admin-only; admins cannot
// remove themselves and nobody removes the account owner.
func (s *Service) RemoveMember(ctx context.Context, actor *identity.User, accountID, userID int64) error {
	if err := s.resolver.RequireAdmin(ctx, actor, accountID); err != nil {
		s.metrics.AuthDenialsTotal.WithLabelValues("account_admin").Inc()
		return err
	}
	if actor.ID == userID {
		return errdefs.Forbidden("cannot remove yourself from the account")
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if account.OwnerID == userID {
		return errdefs.Forbidden("cannot remove the account owner")
	}

	if err := s.store.RemoveMember(ctx, accountID, userID); err != nil {
		return err
	}

	s.metrics.MembershipChangesTotal.WithLabelValues("removed").Inc()
	s.bus.Publish(ctx, events.Event{
		Name:      events.MembershipChanged,
		AccountID: accountID,
		ActorID:   actor.ID,
		UserID:    userID,
		Payload:   map[string]any{"op": "removed"},
	})
	return nil
}
