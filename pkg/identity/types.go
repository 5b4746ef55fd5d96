// Package identity manages users and their credentials: argon2id password
// digests, email verification state, and signed single-purpose tokens.
package identity

import (
	"net/mail"
	"strings"
	"time"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
)

// MinPasswordLength is the smallest accepted password.
const MinPasswordLength = 8

// User represents a person (or instance superuser) known to the system.
type User struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	PasswordDigest string     `json:"-"`
	Verified       bool       `json:"verified"`
	AppAdmin       bool       `json:"app_admin"`

	// 2FA material. When OTPRequiredForSignIn is set, sign-in demands a
	// valid TOTP code on top of the password.
	OTPSecret            string `json:"-"`
	OTPRequiredForSignIn bool   `json:"otp_required_for_sign_in"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail lowercases and trims an address. Uniqueness is enforced on
// the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks address shape.
func ValidateEmail(email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return errdefs.Validation("email", "is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errdefs.Validation("email", "is not a valid address")
	}
	return nil
}

// ValidatePassword checks the password policy and confirmation match.
func ValidatePassword(password, confirmation string) error {
	if password == "" {
		return errdefs.Validation("password", "is required")
	}
	if len(password) < MinPasswordLength {
		return errdefs.Validationf("password", "must be at least %d characters", MinPasswordLength)
	}
	if password != confirmation {
		return errdefs.Validation("password_confirmation", "does not match password")
	}
	return nil
}
