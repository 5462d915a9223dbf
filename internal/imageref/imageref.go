package imageref

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"echomint-registry/internal/domain"
)

// Scheme is the reference scheme artwork URLs are expected to carry.
const Scheme = "ipfs://"

// cidV0Length is the length of a base58 CIDv0 string ("Qm...").
const cidV0Length = 46

// IsPlaceholder reports whether the reference is the mint placeholder.
func IsPlaceholder(url string) bool {
	return url == domain.PlaceholderImageURL
}

// Validate checks that the reference is an ipfs:// CIDv0 URL. The
// registry itself accepts any string; callers use this to flag
// references the artwork pipeline will not resolve.
func Validate(url string) error {
	rest, ok := strings.CutPrefix(url, Scheme)
	if !ok {
		return fmt.Errorf("reference does not use the %s scheme", Scheme)
	}
	return validateCIDv0(rest)
}

// validateCIDv0 checks a base58btc sha2-256 CIDv0: 46 chars starting
// "Qm", decoding to a 34-byte multihash with prefix 0x12 0x20.
func validateCIDv0(cid string) error {
	if len(cid) != cidV0Length {
		return fmt.Errorf("cid must be %d chars, got %d", cidV0Length, len(cid))
	}
	if !strings.HasPrefix(cid, "Qm") {
		return fmt.Errorf("cid v0 must start with Qm")
	}
	raw, err := base58.Decode(cid)
	if err != nil {
		return fmt.Errorf("decode cid base58: %w", err)
	}
	if len(raw) != 34 || raw[0] != 0x12 || raw[1] != 0x20 {
		return fmt.Errorf("cid does not wrap a sha2-256 multihash")
	}
	return nil
}
