package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// NewState returns an unguessable OAuth "state" value: 32 bytes from
// crypto/rand, base64url without padding. One per authorization request.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StateMatches compares the state stored at redirect time with the one
// returned by the provider. Empty values never match.
func StateMatches(stored, returned string) bool {
	if stored == "" || returned == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(returned)) == 1
}
