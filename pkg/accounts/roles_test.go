package accounts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input   string
		want    Role
		wantErr bool
	}{
		{"admin", RoleAdmin, false},
		{"member", RoleMember, false},
		{"owner", "", true},
		{"Admin", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if tt.wantErr {
				assert.True(t, errdefs.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleSetMerge(t *testing.T) {
	rs := DefaultMemberRoles()
	assert.False(t, rs.Has(RoleAdmin))
	assert.True(t, rs.Has(RoleMember))

	// Granting admin must not disturb member.
	rs = rs.With(RoleAdmin)
	assert.True(t, rs.Has(RoleAdmin))
	assert.True(t, rs.Has(RoleMember))

	// Revoking member must not disturb admin.
	rs = rs.Without(RoleMember)
	assert.True(t, rs.Has(RoleAdmin))
	assert.False(t, rs.Has(RoleMember))

	// Operations are idempotent.
	assert.Equal(t, rs, rs.With(RoleAdmin))
	assert.Equal(t, rs, rs.Without(RoleMember))
}

func TestRoleSetNames(t *testing.T) {
	assert.Equal(t, []string{"admin", "member"}, OwnerRoles().Names())
	assert.Equal(t, []string{"member"}, DefaultMemberRoles().Names())
	assert.Equal(t, []string{}, RoleSet{}.Names())
}

func TestRoleSetJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(OwnerRoles())
	require.NoError(t, err)
	assert.JSONEq(t, `{"admin": true, "member": true}`, string(raw))

	var rs RoleSet
	require.NoError(t, json.Unmarshal(raw, &rs))
	assert.Equal(t, OwnerRoles(), rs)
}

func TestRoleSetUnmarshalStrict(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
		want  RoleSet
	}{
		{"both granted", `{"admin": true, "member": true}`, true, OwnerRoles()},
		{"member only", `{"member": true}`, true, DefaultMemberRoles()},
		{"empty object", `{}`, true, RoleSet{}},
		{"explicit false", `{"admin": false, "member": true}`, true, DefaultMemberRoles()},
		{"unknown role key", `{"admin": true, "editor": true}`, false, RoleSet{}},
		{"non-boolean value", `{"admin": "yes"}`, false, RoleSet{}},
		{"numeric value", `{"member": 1}`, false, RoleSet{}},
		{"not an object", `["admin"]`, false, RoleSet{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rs RoleSet
			err := json.Unmarshal([]byte(tt.input), &rs)
			if !tt.ok {
				require.Error(t, err)
				// Nothing may be applied from a rejected document.
				assert.Equal(t, RoleSet{}, rs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rs)
		})
	}
}

func TestRoleSetScanValue(t *testing.T) {
	value, err := DefaultMemberRoles().Value()
	require.NoError(t, err)

	var fromString RoleSet
	require.NoError(t, fromString.Scan(value))
	assert.Equal(t, DefaultMemberRoles(), fromString)

	var fromBytes RoleSet
	require.NoError(t, fromBytes.Scan([]byte(`{"admin": true, "member": false}`)))
	assert.True(t, fromBytes.Admin)
	assert.False(t, fromBytes.Member)

	var rs RoleSet
	assert.Error(t, rs.Scan(42))
}
