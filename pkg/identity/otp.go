package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"time"
)

// TOTP per RFC 6238: HMAC-SHA1, 30 second steps, 6 digits, one step of
// clock skew in both directions. Authenticator apps expect exactly these
// parameters.
const (
	otpStep   = 30 * time.Second
	otpDigits = 6
	otpSkew   = 1
)

var otpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateOTPSecret creates a new base32 secret for enrolling an
// authenticator app.
func GenerateOTPSecret() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate OTP secret: %w", err)
	}
	return otpEncoding.EncodeToString(raw), nil
}

// ValidateTOTP checks a one-time code against the secret at the given time.
// An empty secret or malformed code never validates.
func ValidateTOTP(secret, code string, at time.Time) bool {
	if secret == "" || len(code) != otpDigits {
		return false
	}
	key, err := otpEncoding.DecodeString(secret)
	if err != nil {
		return false
	}

	counter := uint64(at.Unix()) / uint64(otpStep.Seconds())
	for delta := -otpSkew; delta <= otpSkew; delta++ {
		expected := hotp(key, counter+uint64(delta))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", value%1000000)
}
