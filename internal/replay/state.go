// Package replay rebuilds registry state by folding the archived event
// stream in sequence order.
package replay

import (
	"fmt"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/registry"
)

// State is ownership state folded from archived events. Supply is the
// count of MINTED events; ownership and balances follow the TRANSFER
// stream. No event carries a token's initial mood, so Moods holds only
// tokens whose mood changed after mint.
type State struct {
	TotalSupply uint64
	Owners      map[domain.TokenID]domain.Identity
	Balances    map[domain.Identity]uint64
	Approvals   map[domain.TokenID]domain.Identity
	Operators   map[registry.OperatorGrant]bool
	Moods       map[domain.TokenID]domain.MoodState
	Coins       map[domain.TokenID]string
}

// NewState returns an empty fold state.
func NewState() *State {
	return &State{
		Owners:    make(map[domain.TokenID]domain.Identity),
		Balances:  make(map[domain.Identity]uint64),
		Approvals: make(map[domain.TokenID]domain.Identity),
		Operators: make(map[registry.OperatorGrant]bool),
		Moods:     make(map[domain.TokenID]domain.MoodState),
		Coins:     make(map[domain.TokenID]string),
	}
}

// Apply folds one event into the state. Events must arrive in sequence
// order; Apply itself does not check ordering. A malformed event stops
// the fold with an error rather than producing a silently wrong state.
func (s *State) Apply(e *domain.Event) error {
	if e == nil {
		return fmt.Errorf("nil event")
	}

	switch e.Kind {
	case domain.EventTransfer:
		t := e.Transfer
		if t == nil {
			return fmt.Errorf("event seq %d: missing transfer payload", e.Seq)
		}
		if t.To == nil {
			return fmt.Errorf("event seq %d: transfer without destination", e.Seq)
		}
		if t.From == nil {
			// Mint transfer: the token enters circulation
			s.Owners[t.TokenID] = *t.To
			s.Balances[*t.To]++
			return nil
		}
		s.Owners[t.TokenID] = *t.To
		if b := s.Balances[*t.From]; b > 0 {
			s.Balances[*t.From] = b - 1
		}
		s.Balances[*t.To]++
		// An owner-changing transfer clears any single approval
		delete(s.Approvals, t.TokenID)
		return nil

	case domain.EventApproval:
		a := e.Approval
		if a == nil {
			return fmt.Errorf("event seq %d: missing approval payload", e.Seq)
		}
		// A grant to the zero identity stays present rather than
		// clearing the slot
		s.Approvals[a.TokenID] = a.Approved
		return nil

	case domain.EventApprovalForAll:
		a := e.ApprovalForAll
		if a == nil {
			return fmt.Errorf("event seq %d: missing approval_for_all payload", e.Seq)
		}
		// Revocations store false rather than deleting the grant
		s.Operators[registry.OperatorGrant{Owner: a.Owner, Operator: a.Operator}] = a.Approved
		return nil

	case domain.EventMinted:
		m := e.Minted
		if m == nil {
			return fmt.Errorf("event seq %d: missing minted payload", e.Seq)
		}
		s.TotalSupply++
		s.Coins[m.TokenID] = m.Coin
		return nil

	case domain.EventMoodUpdated:
		m := e.MoodUpdated
		if m == nil {
			return fmt.Errorf("event seq %d: missing mood_updated payload", e.Seq)
		}
		s.Moods[m.TokenID] = m.NewMood
		return nil
	}

	return fmt.Errorf("event seq %d: unknown kind %q", e.Seq, e.Kind)
}
