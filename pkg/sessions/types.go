// Package sessions manages server-side login sessions. A browser holds an
// opaque bearer token; the server stores only its SHA-256 hash, so a leaked
// database dump cannot be replayed as live credentials.
package sessions

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenPrefix marks session tokens so they are recognizable in logs that
// accidentally capture one, without revealing anything about the session.
const TokenPrefix = "sess_"

// ErrBadCredentials is returned for every sign-in failure: unknown email,
// wrong password, or a missing second factor all look identical to the
// caller.
var ErrBadCredentials = errors.New("invalid email or password")

// Session is one live login. AccountID is set to the user's personal
// account at creation when personal accounts are enabled, and replaced by
// explicit switches. Zero means no selection: the session then rides on the
// user's first account, resolved per request and never written back.
type Session struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	AccountID    int64     `json:"account_id,omitempty"`
	TokenHash    string    `json:"-"`
	UserAgent    string    `json:"user_agent,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// NewToken generates an opaque session token.
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken derives the storage key for a token. Only the hash ever touches
// the database or the cache.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidTokenShape cheaply rejects tokens that cannot possibly be ours before
// any storage lookup.
func ValidTokenShape(token string) bool {
	return strings.HasPrefix(token, TokenPrefix) && len(token) > len(TokenPrefix)
}
