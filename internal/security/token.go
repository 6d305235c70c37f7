package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	MinTokenBytes = 32
	maxTokenBytes = 128
)

// GenerateSessionToken returns n random bytes, hex-encoded. n below
// MinTokenBytes is raised to it.
func GenerateSessionToken(n int) (string, error) {
	if n < MinTokenBytes {
		n = MinTokenBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// WellFormedToken reports whether s could have been produced by
// GenerateSessionToken. Lower-case hex only.
func WellFormedToken(s string) bool {
	if len(s) < 2*MinTokenBytes || len(s) > 2*maxTokenBytes || len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// TokenPrefix is safe to log or show to the owner.
func TokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
