package accounts

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
)

// Role names a single grantable permission. The vocabulary is closed: the
// two constants below are the only valid values.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ParseRole validates a role name from untrusted input.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleMember:
		return Role(s), nil
	default:
		return "", errdefs.Validationf("roles", "unknown role %q", s)
	}
}

// RoleSet is the closed set of permissions a membership carries. Fields are
// compile-time checked; the JSON codec keeps the wire/storage contract
// strict so stray keys or non-boolean values are rejected as a whole.
type RoleSet struct {
	Admin  bool
	Member bool
}

// DefaultMemberRoles is what an invited user receives.
func DefaultMemberRoles() RoleSet {
	return RoleSet{Member: true}
}

// OwnerRoles is what an account owner is seeded with.
func OwnerRoles() RoleSet {
	return RoleSet{Admin: true, Member: true}
}

// Has reports whether the named role is granted.
func (rs RoleSet) Has(role Role) bool {
	switch role {
	case RoleAdmin:
		return rs.Admin
	case RoleMember:
		return rs.Member
	default:
		return false
	}
}

// With returns a copy with the named role merged in as granted. Other roles
// are untouched.
func (rs RoleSet) With(role Role) RoleSet {
	switch role {
	case RoleAdmin:
		rs.Admin = true
	case RoleMember:
		rs.Member = true
	}
	return rs
}

// Without returns a copy with the named role revoked. Other roles are
// untouched.
func (rs RoleSet) Without(role Role) RoleSet {
	switch role {
	case RoleAdmin:
		rs.Admin = false
	case RoleMember:
		rs.Member = false
	}
	return rs
}

// Names lists the granted roles in a stable order, for logs and audit
// payloads.
func (rs RoleSet) Names() []string {
	names := []string{}
	if rs.Admin {
		names = append(names, string(RoleAdmin))
	}
	if rs.Member {
		names = append(names, string(RoleMember))
	}
	return names
}

// MarshalJSON always emits both keys explicitly.
func (rs RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]bool{
		"admin":  rs.Admin,
		"member": rs.Member,
	})
}

// UnmarshalJSON rejects the whole document on any unknown key or non-boolean
// value; a role map is applied all-or-nothing.
func (rs *RoleSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errdefs.Validation("roles", "must be an object of role flags")
	}

	parsed := RoleSet{}
	for key, value := range raw {
		var flag bool
		if err := json.Unmarshal(bytes.TrimSpace(value), &flag); err != nil {
			return errdefs.Validationf("roles", "role %q must be true or false", key)
		}
		switch Role(key) {
		case RoleAdmin:
			parsed.Admin = flag
		case RoleMember:
			parsed.Member = flag
		default:
			return errdefs.Validationf("roles", "unknown role %q", key)
		}
	}

	*rs = parsed
	return nil
}

// Value implements driver.Valuer; roles are stored as a JSON document.
func (rs RoleSet) Value() (driver.Value, error) {
	data, err := json.Marshal(rs)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner with the same strictness as UnmarshalJSON.
// A row that fails here means the invariant was bypassed at write time and
// is a programmer error.
func (rs *RoleSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return rs.UnmarshalJSON(v)
	case string:
		return rs.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into RoleSet", src)
	}
}
