package registry

import "echomint-registry/internal/domain"

// OperatorGrant identifies one owner-to-operator grant in a snapshot.
type OperatorGrant struct {
	Owner    domain.Identity
	Operator domain.Identity
}

// Snapshot is a deep copy of registry state, safe to inspect after the
// owning node releases its lock. ScannedTokens carries the raw
// TokensOfOwner result per identity so verifiers can compare the index
// slots against true holdings.
type Snapshot struct {
	Curator       domain.Identity
	TotalSupply   uint64
	Owners        map[domain.TokenID]domain.Identity
	Metadata      map[domain.TokenID]domain.TokenMetadata
	Balances      map[domain.Identity]uint64
	Approvals     map[domain.TokenID]domain.Identity
	Operators     map[OperatorGrant]bool
	ScannedTokens map[domain.Identity][]domain.TokenID
}

// Snapshot returns a deep copy of the full registry state.
func (r *Registry) Snapshot() *Snapshot {
	snap := &Snapshot{
		Curator:       r.curator,
		TotalSupply:   r.totalSupply,
		Owners:        make(map[domain.TokenID]domain.Identity, len(r.owners)),
		Metadata:      make(map[domain.TokenID]domain.TokenMetadata, len(r.metadata)),
		Balances:      make(map[domain.Identity]uint64, len(r.ownedCounts)),
		Approvals:     make(map[domain.TokenID]domain.Identity, len(r.approvals)),
		Operators:     make(map[OperatorGrant]bool, len(r.operators)),
		ScannedTokens: make(map[domain.Identity][]domain.TokenID),
	}
	for id, owner := range r.owners {
		snap.Owners[id] = owner
	}
	for id, meta := range r.metadata {
		snap.Metadata[id] = meta
	}
	for owner, count := range r.ownedCounts {
		snap.Balances[owner] = count
	}
	for id, approved := range r.approvals {
		snap.Approvals[id] = approved
	}
	for key, approved := range r.operators {
		snap.Operators[OperatorGrant{Owner: key.owner, Operator: key.operator}] = approved
	}
	scanned := make(map[domain.Identity]bool, len(r.ownedCounts))
	for owner := range r.ownedCounts {
		scanned[owner] = true
	}
	for _, owner := range r.owners {
		scanned[owner] = true
	}
	for owner := range scanned {
		snap.ScannedTokens[owner] = r.TokensOfOwner(owner)
	}
	return snap
}

// OwnedSet derives the true holdings per identity from the owners map.
// Unlike ScannedTokens it is immune to index-slot drift.
func (s *Snapshot) OwnedSet() map[domain.Identity]map[domain.TokenID]bool {
	owned := make(map[domain.Identity]map[domain.TokenID]bool)
	for id, owner := range s.Owners {
		if owned[owner] == nil {
			owned[owner] = make(map[domain.TokenID]bool)
		}
		owned[owner][id] = true
	}
	return owned
}
