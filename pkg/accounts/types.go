package accounts

import "time"

// Account is the tenant boundary. Every account is exactly one of personal
// (a single effective member, the owner) or team (owner plus arbitrary
// members); the Personal flag is the whole distinction.
type Account struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Personal  bool      `json:"personal"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Team reports whether the account is a team. Personal and team are
// mutually exclusive and exhaustive.
func (a *Account) Team() bool {
	return !a.Personal
}

// Membership is one row of the membership ledger: a user's roles within an
// account. At most one row exists per (account, user) pair.
type Membership struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	UserID    int64     `json:"user_id"`
	Roles     RoleSet   `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports the admin flag of this row.
func (m *Membership) IsAdmin() bool {
	return m.Roles.Admin
}

// IsMember reports the member flag of this row.
func (m *Membership) IsMember() bool {
	return m.Roles.Member
}

// Member is a ledger row joined with user identity for listings.
type Member struct {
	Membership
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}
