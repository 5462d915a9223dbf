package verification

import (
	"fmt"
	"sort"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/registry"
	"echomint-registry/internal/replay"
)

// Divergence is a mismatch between live registry state and state
// rebuilt from the archive.
type Divergence struct {
	Field    string      `json:"field"`
	Expected interface{} `json:"expected"` // live value
	Actual   interface{} `json:"actual"`   // rebuilt value
}

// CompareWithRebuilt compares a live snapshot against state rebuilt
// from the event archive: supply, per-token ownership, balances,
// approvals, operator grants, coins, and the moods of tokens changed
// after mint. Initial moods are not carried by any event and are not
// compared.
func CompareWithRebuilt(snap *registry.Snapshot, rebuilt *replay.State) []Divergence {
	var divergences []Divergence

	if snap.TotalSupply != rebuilt.TotalSupply {
		divergences = append(divergences, Divergence{
			Field:    "TotalSupply",
			Expected: snap.TotalSupply,
			Actual:   rebuilt.TotalSupply,
		})
	}

	for id, owner := range snap.Owners {
		ro, ok := rebuilt.Owners[id]
		if !ok {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Owner[%d]", id),
				Expected: owner.String(),
				Actual:   nil,
			})
		} else if ro != owner {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Owner[%d]", id),
				Expected: owner.String(),
				Actual:   ro.String(),
			})
		}
	}
	for id, ro := range rebuilt.Owners {
		if _, ok := snap.Owners[id]; !ok {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Owner[%d]", id),
				Expected: nil,
				Actual:   ro.String(),
			})
		}
	}

	// Absent balance entries count as zero on both sides
	for _, owner := range unionIdentities(snap.Balances, rebuilt.Balances) {
		live := snap.Balances[owner]
		reb := rebuilt.Balances[owner]
		if live != reb {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Balance[%s]", owner),
				Expected: live,
				Actual:   reb,
			})
		}
	}

	// Grants to the zero identity stay present, so presence and value
	// both matter
	for id, approved := range snap.Approvals {
		ra, ok := rebuilt.Approvals[id]
		if !ok {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Approval[%d]", id),
				Expected: approved.String(),
				Actual:   nil,
			})
		} else if ra != approved {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Approval[%d]", id),
				Expected: approved.String(),
				Actual:   ra.String(),
			})
		}
	}
	for id, ra := range rebuilt.Approvals {
		if _, ok := snap.Approvals[id]; !ok {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Approval[%d]", id),
				Expected: nil,
				Actual:   ra.String(),
			})
		}
	}

	// Absent operator grants count as false on both sides
	for _, grant := range unionGrants(snap.Operators, rebuilt.Operators) {
		live := snap.Operators[grant]
		reb := rebuilt.Operators[grant]
		if live != reb {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Operator[%s->%s]", grant.Owner, grant.Operator),
				Expected: live,
				Actual:   reb,
			})
		}
	}

	for id, meta := range snap.Metadata {
		coin, ok := rebuilt.Coins[id]
		if !ok {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Coin[%d]", id),
				Expected: meta.Coin,
				Actual:   nil,
			})
		} else if coin != meta.Coin {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Coin[%d]", id),
				Expected: meta.Coin,
				Actual:   coin,
			})
		}
	}

	for id, mood := range rebuilt.Moods {
		meta, ok := snap.Metadata[id]
		if !ok {
			// Missing token already reported through ownership
			continue
		}
		if meta.Mood != mood {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Mood[%d]", id),
				Expected: string(meta.Mood),
				Actual:   string(mood),
			})
		}
	}

	sort.Slice(divergences, func(i, j int) bool {
		return divergences[i].Field < divergences[j].Field
	})
	return divergences
}

// CompareWithMirror compares state rebuilt from the event archive
// against token read model rows fetched for the rebuilt token set.
// Expected carries the archive-derived value and Actual the mirror
// value; a nil record reports the whole row as missing. Display names
// are re-derived from the archived coin. Tokens whose MINTED event
// fell into an archive gap have no known coin and skip the coin and
// name checks; the gap itself is reported by the rebuild.
func CompareWithMirror(rebuilt *replay.State, records map[domain.TokenID]*domain.TokenRecord) []Divergence {
	var divergences []Divergence

	for id, owner := range rebuilt.Owners {
		rec := records[id]
		if rec == nil {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Mirror[%d]", id),
				Expected: owner.String(),
				Actual:   nil,
			})
			continue
		}
		if rec.Owner != owner {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Owner[%d]", id),
				Expected: owner.String(),
				Actual:   rec.Owner.String(),
			})
		}
		if coin, ok := rebuilt.Coins[id]; ok {
			if rec.Coin != coin {
				divergences = append(divergences, Divergence{
					Field:    fmt.Sprintf("Coin[%d]", id),
					Expected: coin,
					Actual:   rec.Coin,
				})
			}
			if name := domain.TokenName(coin, id); rec.Name != name {
				divergences = append(divergences, Divergence{
					Field:    fmt.Sprintf("Name[%d]", id),
					Expected: name,
					Actual:   rec.Name,
				})
			}
		}
		if mood, ok := rebuilt.Moods[id]; ok && rec.Mood != mood {
			divergences = append(divergences, Divergence{
				Field:    fmt.Sprintf("Mood[%d]", id),
				Expected: string(mood),
				Actual:   string(rec.Mood),
			})
		}
	}

	sort.Slice(divergences, func(i, j int) bool {
		return divergences[i].Field < divergences[j].Field
	})
	return divergences
}

func unionIdentities(a, b map[domain.Identity]uint64) []domain.Identity {
	seen := make(map[domain.Identity]bool, len(a)+len(b))
	for id := range a {
		seen[id] = true
	}
	for id := range b {
		seen[id] = true
	}
	ids := make([]domain.Identity, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

func unionGrants(a, b map[registry.OperatorGrant]bool) []registry.OperatorGrant {
	seen := make(map[registry.OperatorGrant]bool, len(a)+len(b))
	for g := range a {
		seen[g] = true
	}
	for g := range b {
		seen[g] = true
	}
	grants := make([]registry.OperatorGrant, 0, len(seen))
	for g := range seen {
		grants = append(grants, g)
	}
	return grants
}
