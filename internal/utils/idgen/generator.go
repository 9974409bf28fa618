// Package idgen generates opaque, prefixed record identifiers such as
// "conv_a3f8d2k9p1m4n7q2" and "msg_x7y2z5w8r3t6u9v1".
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const idCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSecureID returns a cryptographically random identifier of the
// form "<prefix>_<length lowercase alphanumerics>".
func GenerateSecureID(prefix string, length int) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("idgen: empty prefix")
	}
	if length <= 0 {
		return "", fmt.Errorf("idgen: invalid length %d", length)
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("idgen: read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = idCharset[int(b)%len(idCharset)]
	}
	return prefix + "_" + string(buf), nil
}

// ValidateIDFormat reports whether id is a well-formed identifier for the
// expected prefix: "<prefix>_" followed by one or more charset characters.
func ValidateIDFormat(id, expectedPrefix string) bool {
	suffix, ok := strings.CutPrefix(id, expectedPrefix+"_")
	if !ok || suffix == "" {
		return false
	}
	for _, char := range suffix {
		if !((char >= 'a' && char <= 'z') || (char >= '0' && char <= '9')) {
			return false
		}
	}
	return true
}
