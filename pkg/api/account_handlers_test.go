package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountLifecycle(t *testing.T) {
	f := setupAPI(t)
	f.register(t, "owner@example.com", "password123")
	token := f.signIn(t, "owner@example.com", "password123")

	rec := f.do(t, "POST", "/accounts", token, map[string]string{"name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	team := f.decode(t, rec)
	teamID := int64(team["id"].(float64))
	assert.Equal(t, false, team["personal"])

	t.Run("blank name", func(t *testing.T) {
		rec := f.do(t, "POST", "/accounts", token, map[string]string{"name": "   "})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("list includes personal and team", func(t *testing.T) {
		rec := f.do(t, "GET", "/accounts", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, f.decodeList(t, rec), 2)
	})

	t.Run("get by id", func(t *testing.T) {
		rec := f.do(t, "GET", fmt.Sprintf("/accounts/%d", teamID), token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Acme", f.decode(t, rec)["name"])
	})

	t.Run("outsider cannot see the account", func(t *testing.T) {
		f.register(t, "outsider@example.com", "password123")
		outsiderToken := f.signIn(t, "outsider@example.com", "password123")

		rec := f.do(t, "GET", fmt.Sprintf("/accounts/%d", teamID), outsiderToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("destroy", func(t *testing.T) {
		rec := f.do(t, "POST", "/accounts", token, map[string]string{"name": "Doomed"})
		require.Equal(t, http.StatusCreated, rec.Code)
		doomedID := int64(f.decode(t, rec)["id"].(float64))

		rec = f.do(t, "DELETE", fmt.Sprintf("/accounts/%d", doomedID), token, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(t, "GET", fmt.Sprintf("/accounts/%d", doomedID), token, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, "membership died with the account")
	})
}

func TestMembershipEndpoints(t *testing.T) {
	f := setupAPI(t)
	f.register(t, "owner@example.com", "password123")
	memberID := f.register(t, "member@example.com", "password123")
	ownerToken := f.signIn(t, "owner@example.com", "password123")

	rec := f.do(t, "POST", "/accounts", ownerToken, map[string]string{"name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code)
	teamID := int64(f.decode(t, rec)["id"].(float64))
	base := fmt.Sprintf("/accounts/%d", teamID)

	t.Run("add member", func(t *testing.T) {
		rec := f.do(t, "POST", base+"/members", ownerToken, map[string]interface{}{
			"user_id": memberID,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		roles := f.decode(t, rec)["roles"].(map[string]interface{})
		assert.Equal(t, false, roles["admin"])
		assert.Equal(t, true, roles["member"])
	})

	t.Run("member list includes both", func(t *testing.T) {
		rec := f.do(t, "GET", base+"/members", ownerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, f.decodeList(t, rec), 2)
	})

	t.Run("plain member cannot add others", func(t *testing.T) {
		intruderID := f.register(t, "intruder@example.com", "password123")
		memberToken := f.signIn(t, "member@example.com", "password123")

		rec := f.do(t, "POST", base+"/members", memberToken, map[string]interface{}{
			"user_id": intruderID,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("grant and revoke admin", func(t *testing.T) {
		path := fmt.Sprintf("%s/members/%d/roles/admin", base, memberID)

		rec := f.do(t, "PUT", path, ownerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		roles := f.decode(t, rec)["roles"].(map[string]interface{})
		assert.Equal(t, true, roles["admin"])

		rec = f.do(t, "DELETE", path, ownerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		roles = f.decode(t, rec)["roles"].(map[string]interface{})
		assert.Equal(t, false, roles["admin"])
	})

	t.Run("unknown role name", func(t *testing.T) {
		rec := f.do(t, "PUT", fmt.Sprintf("%s/members/%d/roles/superuser", base, memberID), ownerToken, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("owner cannot be removed", func(t *testing.T) {
		ownerID := f.userID(t, "owner@example.com")
		memberToken := f.signIn(t, "member@example.com", "password123")
		// Promote the member so the gate being tested is the owner rule.
		rec := f.do(t, "PUT", fmt.Sprintf("%s/members/%d/roles/admin", base, memberID), ownerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, "DELETE", fmt.Sprintf("%s/members/%d", base, ownerID), memberToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("remove member", func(t *testing.T) {
		rec := f.do(t, "DELETE", fmt.Sprintf("%s/members/%d", base, memberID), ownerToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		rec = f.do(t, "GET", base+"/members", ownerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, f.decodeList(t, rec), 1)
	})
}

func TestConversionEndpoints(t *testing.T) {
	f := setupAPI(t)
	f.register(t, "owner@example.com", "password123")
	token := f.signIn(t, "owner@example.com", "password123")

	// Find the personal account created at registration.
	rec := f.do(t, "GET", "/accounts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	personal := f.decodeList(t, rec)[0].(map[string]interface{})
	personalID := int64(personal["id"].(float64))
	require.Equal(t, true, personal["personal"])

	t.Run("personal to team and back", func(t *testing.T) {
		rec := f.do(t, "POST", fmt.Sprintf("/accounts/%d/team", personalID), token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, false, f.decode(t, rec)["personal"])

		rec = f.do(t, "POST", fmt.Sprintf("/accounts/%d/personal", personalID), token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, f.decode(t, rec)["personal"])
	})

	t.Run("converting a personal account again conflicts", func(t *testing.T) {
		rec := f.do(t, "POST", fmt.Sprintf("/accounts/%d/personal", personalID), token, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("team with other members cannot go personal", func(t *testing.T) {
		memberID := f.register(t, "member@example.com", "password123")

		rec := f.do(t, "POST", "/accounts", token, map[string]string{"name": "Crowded"})
		require.Equal(t, http.StatusCreated, rec.Code)
		teamID := int64(f.decode(t, rec)["id"].(float64))

		rec = f.do(t, "POST", fmt.Sprintf("/accounts/%d/members", teamID), token, map[string]interface{}{
			"user_id": memberID,
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do(t, "POST", fmt.Sprintf("/accounts/%d/personal", teamID), token, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
