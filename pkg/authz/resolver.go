// Package authz answers "may this user act on this account" from the
// membership ledger. It holds no state of its own: every answer is derived
// from the user's application-admin flag and the ledger row for the
// (account, user) pair, so a role change takes effect on the next check.
package authz

import (
	"context"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
	"github.com/quayside-labs/saaskit/pkg/identity"
)

// Ledger is the slice of the membership store the resolver needs.
type Ledger interface {
	// Roles reports the role flags for (account, user). found is false when
	// no membership row exists.
	Roles(ctx context.Context, accountID, userID int64) (admin, member, found bool, err error)
}

// Resolver evaluates access questions against the ledger.
type Resolver struct {
	ledger Ledger
}

// NewResolver creates a resolver backed by the given ledger.
func NewResolver(ledger Ledger) *Resolver {
	return &Resolver{ledger: ledger}
}

// CanAccess reports whether the user may act inside the account at all.
// Application admins can access every account; everyone else needs a
// membership row, whatever its roles.
func (r *Resolver) CanAccess(ctx context.Context, user *identity.User, accountID int64) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.AppAdmin {
		return true, nil
	}
	_, _, found, err := r.ledger.Roles(ctx, accountID, user.ID)
	if err != nil {
		return false, err
	}
	return found, nil
}

// AccountAdminFor reports whether the user administers the account: either
// an application admin, or a member whose ledger row carries the admin role.
func (r *Resolver) AccountAdminFor(ctx context.Context, user *identity.User, accountID int64) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.AppAdmin {
		return true, nil
	}
	admin, _, found, err := r.ledger.Roles(ctx, accountID, user.ID)
	if err != nil {
		return false, err
	}
	return found && admin, nil
}

// RequireAccess is CanAccess with a Forbidden error instead of a bool, for
// call sites that want to fail straight through.
func (r *Resolver) RequireAccess(ctx context.Context, user *identity.User, accountID int64) error {
	ok, err := r.CanAccess(ctx, user, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return errdefs.Forbidden("not a member of this account")
	}
	return nil
}

// RequireAdmin is AccountAdminFor with a Forbidden error instead of a bool.
func (r *Resolver) RequireAdmin(ctx context.Context, user *identity.User, accountID int64) error {
	ok, err := r.AccountAdminFor(ctx, user, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return errdefs.Forbidden("admin role required")
	}
	return nil
}
