package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// personalCodeEmblem prefixes every generated personal magic code.
const personalCodeEmblem = "🏥"

// FallbackPersonalCode derives a personal magic code locally when the
// authoritative generator is unreachable. Deterministic given (name, year):
// emblem, then the first name token uppercased with non-letters stripped,
// then the four-digit year.
func FallbackPersonalCode(fullName string, year int) string {
	name := strings.TrimSpace(fullName)
	first := name
	if idx := strings.IndexByte(name, ' '); idx >= 0 {
		first = name[:idx]
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(first) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		clean = "USER"
	}
	return fmt.Sprintf("%s%s%04d", personalCodeEmblem, clean, year)
}

// NewSessionToken returns an unguessable opaque session token backed by 128
// bits of system entropy.
func NewSessionToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// newDeviceTokenHash mints the opaque stored credential of a device token.
func newDeviceTokenHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
