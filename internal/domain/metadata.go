package domain

import "fmt"

// PlaceholderImageURL is the artwork reference assigned at mint, kept
// until the curator publishes generated artwork for the token.
const PlaceholderImageURL = "ipfs://placeholder"

// TokenMetadata holds the descriptive state of a minted token.
// Timestamps are Unix milliseconds from the host clock.
type TokenMetadata struct {
	Name        string    // display name, derived at mint
	Coin        string    // tracked coin symbol, e.g. "BTC"
	Mood        MoodState // current sentiment label
	ImageURL    string    // artwork reference, ipfs:// by convention
	CreatedAt   int64     // mint timestamp (ms)
	LastUpdated int64     // last metadata mutation timestamp (ms)
}

// TokenName derives the display name assigned at mint, e.g.
// "BTC Echo #007" for token id 7. IDs of 1000 and above widen past
// three digits rather than truncate.
func TokenName(coin string, id TokenID) string {
	return fmt.Sprintf("%s Echo #%03d", coin, id)
}
