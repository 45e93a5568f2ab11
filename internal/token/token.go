// Package token issues and verifies the opaque per-registration secrets that
// drive guest self-service cancellation. Only the digest is ever persisted;
// the token itself is handed to the registrant once and never stored.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// Credential pairs the one-time token with the digest that gets persisted.
type Credential struct {
	Token string
	Hash  string
}

// Issue generates a fresh high-entropy credential.
func Issue() (Credential, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return Credential{}, fmt.Errorf("generate cancel token: %w", err)
	}
	t := base64.RawURLEncoding.EncodeToString(b)
	return Credential{Token: t, Hash: Hash(t)}, nil
}

// Hash returns the hex digest of a presented token, the value matched against
// the stored cancel_token_hash.
func Hash(presented string) string {
	sum := sha256.Sum256([]byte(presented))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether a presented token matches a stored digest. The
// guest-cancel path does the equivalent check by looking the registration up
// by Hash(token) in the store; Verify covers callers that already hold the
// row's digest.
func Verify(presented, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(presented)), []byte(storedHash)) == 1
}
