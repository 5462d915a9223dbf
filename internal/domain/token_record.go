package domain

// TokenRecord is the indexer read model for a token: current owner plus
// metadata, one row per minted token, kept in step with the registry.
// Corresponds to the registry_tokens table in PostgreSQL.
type TokenRecord struct {
	TokenID     TokenID   // PK, dense mint-order id
	Owner       Identity  // current owner
	Name        string    // display name, derived at mint
	Coin        string    // tracked coin symbol
	Mood        MoodState // current sentiment label
	ImageURL    string    // artwork reference
	CreatedAt   int64     // mint timestamp (ms)
	LastUpdated int64     // last metadata mutation timestamp (ms)
}
