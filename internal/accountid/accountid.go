package accountid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"echomint-registry/internal/domain"
)

// PublicKeyLength is the size of an ed25519 public key in bytes.
const PublicKeyLength = 32

// FromPublicKey derives the registry identity for an ed25519 public key.
// Formula: SHA256(pubkey), truncated to the rightmost IdentityLength bytes.
// The key must be a valid curve point; off-curve blobs are rejected.
func FromPublicKey(pub []byte) (domain.Identity, error) {
	var id domain.Identity
	if len(pub) != PublicKeyLength {
		return id, fmt.Errorf("public key must be %d bytes, got %d", PublicKeyLength, len(pub))
	}
	if !isOnCurve(pub) {
		return id, fmt.Errorf("public key is not a valid ed25519 point")
	}
	hash := sha256.Sum256(pub)
	copy(id[:], hash[sha256.Size-domain.IdentityLength:])
	return id, nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// Parse resolves a caller string into an identity. Three forms are
// accepted, tried in order: a 40-char hex identity (0x optional), a
// 64-char hex ed25519 public key, and a base58 ed25519 public key.
// Public keys go through FromPublicKey; a string that parses as a bare
// identity is never reinterpreted as a key.
func Parse(s string) (domain.Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Identity{}, fmt.Errorf("empty caller identity")
	}
	if id, err := domain.ParseIdentity(s); err == nil {
		return id, nil
	}
	h := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(h) == PublicKeyLength*2 {
		if pub, err := hex.DecodeString(h); err == nil {
			return FromPublicKey(pub)
		}
	}
	if pub, err := base58.Decode(s); err == nil && len(pub) == PublicKeyLength {
		return FromPublicKey(pub)
	}
	return domain.Identity{}, fmt.Errorf("unrecognized caller identity %q", s)
}
