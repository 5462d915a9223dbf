package domain

// ActivityPoint is the flattened analytics row derived from an archived
// event. TokenID is nil for events not tied to a single token.
// Corresponds to the registry_activity table in ClickHouse.
type ActivityPoint struct {
	Seq         uint64    // archive sequence number
	Kind        EventKind // event kind
	TokenID     *TokenID  // token concerned (nullable)
	TimestampMs int64     // emission timestamp (ms)
}
