package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
)

func TestTokenRoundTrip(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	user := &User{ID: 42, Email: "user@example.com"}

	token, err := signer.Issue(user, PurposeInvitation, InvitationTokenTTL)
	require.NoError(t, err)

	uid, err := signer.PeekUserID(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)

	assert.NoError(t, signer.Verify(token, user, PurposeInvitation))
}

func TestTokenPurposeBinding(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	user := &User{ID: 42, Email: "user@example.com"}

	token, err := signer.Issue(user, PurposeEmailVerification, EmailVerificationTokenTTL)
	require.NoError(t, err)

	err = signer.Verify(token, user, PurposePasswordReset)
	assert.True(t, errdefs.IsTokenInvalid(err))
	err = signer.Verify(token, user, PurposeInvitation)
	assert.True(t, errdefs.IsTokenInvalid(err))
}

func TestTokenExpiry(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	user := &User{ID: 42, Email: "user@example.com"}

	token, err := signer.Issue(user, PurposePasswordReset, -time.Minute)
	require.NoError(t, err)

	err = signer.Verify(token, user, PurposePasswordReset)
	assert.True(t, errdefs.IsTokenInvalid(err))
}

func TestTokenDiesWithEmailChange(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	user := &User{ID: 42, Email: "old@example.com"}

	token, err := signer.Issue(user, PurposeInvitation, InvitationTokenTTL)
	require.NoError(t, err)
	require.NoError(t, signer.Verify(token, user, PurposeInvitation))

	user.Email = "new@example.com"
	err = signer.Verify(token, user, PurposeInvitation)
	assert.True(t, errdefs.IsTokenInvalid(err))
}

func TestTokenTampering(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	user := &User{ID: 42, Email: "user@example.com"}

	token, err := signer.Issue(user, PurposeInvitation, InvitationTokenTTL)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", strings.ReplaceAll(token, ".", "")},
		{"garbage body", "!!!." + strings.SplitN(token, ".", 2)[1]},
		{"garbage signature", strings.SplitN(token, ".", 2)[0] + ".!!!"},
		{"flipped signature", token[:len(token)-2] + "xx"},
		{"other signer", func() string {
			other, _ := NewTokenSigner("other-secret").Issue(user, PurposeInvitation, InvitationTokenTTL)
			return other
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := signer.Verify(tt.token, user, PurposeInvitation)
			assert.True(t, errdefs.IsTokenInvalid(err))
		})
	}
}

func TestTokenWrongUser(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	issued := &User{ID: 42, Email: "user@example.com"}
	other := &User{ID: 43, Email: "user@example.com"}

	token, err := signer.Issue(issued, PurposeInvitation, InvitationTokenTTL)
	require.NoError(t, err)

	err = signer.Verify(token, other, PurposeInvitation)
	assert.True(t, errdefs.IsTokenInvalid(err))
}

// All failure modes must be indistinguishable: one sentinel, one message.
func TestTokenFailuresAreUniform(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	user := &User{ID: 42, Email: "user@example.com"}

	expired, err := signer.Issue(user, PurposeInvitation, -time.Minute)
	require.NoError(t, err)
	wrongPurpose, err := signer.Issue(user, PurposeEmailVerification, time.Hour)
	require.NoError(t, err)

	failures := []error{
		signer.Verify("garbage", user, PurposeInvitation),
		signer.Verify(expired, user, PurposeInvitation),
		signer.Verify(wrongPurpose, user, PurposeInvitation),
	}
	for _, err := range failures {
		require.Error(t, err)
		assert.Equal(t, errdefs.ErrTokenInvalid.Error(), err.Error())
	}
}

func TestPeekUserIDDoesNotVerify(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	user := &User{ID: 42, Email: "user@example.com"}

	// Peek works even on an expired token; only Verify decides validity.
	token, err := signer.Issue(user, PurposeInvitation, -time.Minute)
	require.NoError(t, err)

	uid, err := signer.PeekUserID(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)

	_, err = signer.PeekUserID("garbage")
	assert.True(t, errdefs.IsTokenInvalid(err))
}
