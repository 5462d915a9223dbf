package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// IdentityLength is the size of an account identity in bytes.
const IdentityLength = 20

// Identity is a fixed-size account identifier. The zero value is the
// reserved "no one" identity: it never owns tokens, never authorizes
// anything, and is rejected as a transfer destination.
type Identity [IdentityLength]byte

// ZeroIdentity is the all-zero sentinel identity.
var ZeroIdentity = Identity{}

// IsZero reports whether the identity is the all-zero sentinel.
func (id Identity) IsZero() bool {
	return id == ZeroIdentity
}

// String returns the 0x-prefixed lowercase hex form.
func (id Identity) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler so identities render as
// hex strings in JSON values and map keys.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentity parses a 40-char hex identity, with or without the 0x
// prefix.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	h := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(h) != IdentityLength*2 {
		return id, fmt.Errorf("identity must be %d hex chars, got %d", IdentityLength*2, len(h))
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return id, fmt.Errorf("decode identity hex: %w", err)
	}
	copy(id[:], raw)
	return id, nil
}
