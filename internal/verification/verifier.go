// Package verification checks registry state against its structural
// invariants and against state rebuilt from the event archive.
package verification

import (
	"fmt"
	"sort"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/registry"
)

// Severity classifies a finding.
type Severity string

// Finding severities. Warnings describe tolerated drift; errors are
// broken invariants.
const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Violation is one failed structural check on a snapshot.
type Violation struct {
	Severity Severity `json:"severity"`
	Check    string   `json:"check"`
	Detail   string   `json:"detail"`
}

// ErrorCount returns the number of error-severity violations.
func ErrorCount(violations []Violation) int {
	n := 0
	for _, v := range violations {
		if v.Severity == SeverityError {
			n++
		}
	}
	return n
}

// CheckSnapshot validates the structural invariants of a registry
// snapshot: dense token ids below the supply, metadata paired with
// ownership in both directions, balances matching true holdings, and
// approvals referencing live tokens. Per-owner index slots are allowed
// to drift from true holdings after transfers, so index skew is
// reported as a warning rather than an error.
func CheckSnapshot(snap *registry.Snapshot) []Violation {
	var violations []Violation

	for id := range snap.Owners {
		if uint64(id) >= snap.TotalSupply {
			violations = append(violations, Violation{
				Severity: SeverityError,
				Check:    "token_id_range",
				Detail:   fmt.Sprintf("token %d is owned but supply is %d", id, snap.TotalSupply),
			})
		}
	}
	for id := uint64(0); id < snap.TotalSupply; id++ {
		if _, ok := snap.Owners[domain.TokenID(id)]; !ok {
			violations = append(violations, Violation{
				Severity: SeverityError,
				Check:    "token_id_range",
				Detail:   fmt.Sprintf("token %d below supply %d has no owner", id, snap.TotalSupply),
			})
		}
	}

	for id := range snap.Owners {
		if _, ok := snap.Metadata[id]; !ok {
			violations = append(violations, Violation{
				Severity: SeverityError,
				Check:    "metadata_pairing",
				Detail:   fmt.Sprintf("token %d has an owner but no metadata", id),
			})
		}
	}
	for id := range snap.Metadata {
		if _, ok := snap.Owners[id]; !ok {
			violations = append(violations, Violation{
				Severity: SeverityError,
				Check:    "metadata_pairing",
				Detail:   fmt.Sprintf("token %d has metadata but no owner", id),
			})
		}
	}

	owned := snap.OwnedSet()
	for owner, balance := range snap.Balances {
		if uint64(len(owned[owner])) != balance {
			violations = append(violations, Violation{
				Severity: SeverityError,
				Check:    "balance_consistency",
				Detail: fmt.Sprintf("identity %s has balance %d but owns %d tokens",
					owner, balance, len(owned[owner])),
			})
		}
	}
	for owner, tokens := range owned {
		if _, ok := snap.Balances[owner]; !ok && len(tokens) > 0 {
			violations = append(violations, Violation{
				Severity: SeverityError,
				Check:    "balance_consistency",
				Detail:   fmt.Sprintf("identity %s owns %d tokens but has no balance entry", owner, len(tokens)),
			})
		}
	}

	for id := range snap.Approvals {
		if _, ok := snap.Owners[id]; !ok {
			violations = append(violations, Violation{
				Severity: SeverityError,
				Check:    "approval_target",
				Detail:   fmt.Sprintf("approval recorded on token %d which has no owner", id),
			})
		}
	}

	for owner, scanned := range snap.ScannedTokens {
		if indexSkewed(scanned, owned[owner]) {
			violations = append(violations, Violation{
				Severity: SeverityWarning,
				Check:    "owner_index_skew",
				Detail: fmt.Sprintf("identity %s index scan %v differs from true holdings %v",
					owner, scanned, sortedTokenIDs(owned[owner])),
			})
		}
	}

	sortViolations(violations)
	return violations
}

// indexSkewed reports whether the scanned index slots differ from the
// true holdings as a set.
func indexSkewed(scanned []domain.TokenID, owned map[domain.TokenID]bool) bool {
	if len(scanned) != len(owned) {
		return true
	}
	for _, id := range scanned {
		if !owned[id] {
			return true
		}
	}
	return false
}

func sortedTokenIDs(set map[domain.TokenID]bool) []domain.TokenID {
	ids := make([]domain.TokenID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// sortViolations orders findings for stable reports; map iteration
// would otherwise shuffle them between runs.
func sortViolations(violations []Violation) {
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Check != violations[j].Check {
			return violations[i].Check < violations[j].Check
		}
		return violations[i].Detail < violations[j].Detail
	})
}
