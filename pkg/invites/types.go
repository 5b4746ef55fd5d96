// Package invites manages account invitations: an admin invites an email
// address, the recipient redeems a signed token, and a membership ledger row
// is established. Invitees without an account get one created inline, parked
// unverified until they accept.
package invites

import (
	"time"

	"github.com/quayside-labs/saaskit/pkg/accounts"
)

// Invitation is one outstanding or accepted invitation. (account, email) is
// unique: re-inviting the same address refreshes the existing row instead of
// stacking duplicates.
type Invitation struct {
	ID        int64            `json:"id"`
	AccountID int64            `json:"account_id"`
	Email     string           `json:"email"`
	Roles     accounts.RoleSet `json:"roles"`
	InvitedBy int64            `json:"invited_by,omitempty"`
	InvitedAt time.Time        `json:"invited_at"`
	ExpiresAt time.Time        `json:"expires_at"`

	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy int64      `json:"accepted_by,omitempty"`
}

// Pending reports whether the invitation can still be redeemed.
func (i *Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}
