package domain

// TokenID identifies a minted token. IDs are assigned densely from zero
// in mint order: a registry that has minted n tokens has used exactly
// the ids [0, n).
type TokenID uint64
