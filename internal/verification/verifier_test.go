package verification

import (
	"testing"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/registry"
	"echomint-registry/internal/replay"
)

var (
	curator = domain.Identity{0xCC}
	alice   = domain.Identity{0xA1}
	bob     = domain.Identity{0xB0}
	carol   = domain.Identity{0xCA}
)

// scriptedSession drives a registry through a representative mix of
// operations, archiving every emitted event with sequence numbers the
// way the node assigns them, and returns the registry together with
// the archived stream.
func scriptedSession(t *testing.T) (*registry.Registry, []*domain.Event) {
	t.Helper()

	reg := registry.New(curator)
	var archived []*domain.Event
	now := int64(1000)

	step := func(events []domain.Event, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("operation failed: %v", err)
		}
		for i := range events {
			e := events[i]
			e.Seq = uint64(len(archived) + 1)
			archived = append(archived, &e)
		}
		now += 1000
	}
	mint := func(to domain.Identity, coin string, mood domain.MoodState) domain.TokenID {
		t.Helper()
		id, events, err := reg.Mint(to, now, to, coin, mood)
		step(events, err)
		return id
	}

	t0 := mint(alice, "BTC", domain.MoodBullish)
	t1 := mint(bob, "ETH", domain.MoodNeutral)
	t2 := mint(alice, "SOL", domain.MoodBearish)

	// Single approval, spent by the approved identity
	ev, err := reg.Approve(alice, now, carol, t0)
	step(ev, err)
	ev, err = reg.Transfer(carol, now, bob, t0)
	step(ev, err)

	// Operator grant, used for a transfer, then revoked
	ev, err = reg.SetApprovalForAll(bob, now, carol, true)
	step(ev, err)
	ev, err = reg.Transfer(carol, now, alice, t1)
	step(ev, err)
	ev, err = reg.SetApprovalForAll(bob, now, carol, false)
	step(ev, err)

	// Curator mood change and a grant to the zero identity
	ev, err = reg.UpdateMood(curator, now, t2, domain.MoodVolatile)
	step(ev, err)
	ev, err = reg.Approve(alice, now, domain.Identity{}, t2)
	step(ev, err)

	return reg, archived
}

// fold applies an archived stream to a fresh replay state.
func fold(t *testing.T, events []*domain.Event) *replay.State {
	t.Helper()
	state := replay.NewState()
	for _, e := range events {
		if err := state.Apply(e); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
	return state
}

func countSeverity(violations []Violation, sev Severity) int {
	n := 0
	for _, v := range violations {
		if v.Severity == sev {
			n++
		}
	}
	return n
}

func hasCheck(violations []Violation, check string) bool {
	for _, v := range violations {
		if v.Check == check {
			return true
		}
	}
	return false
}

func findDivergence(divs []Divergence, field string) *Divergence {
	for i := range divs {
		if divs[i].Field == field {
			return &divs[i]
		}
	}
	return nil
}

func TestCheckSnapshot_CleanRegistry(t *testing.T) {
	reg := registry.New(curator)
	if _, _, err := reg.Mint(alice, 1000, alice, "BTC", domain.MoodBullish); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if _, _, err := reg.Mint(bob, 2000, bob, "ETH", domain.MoodNeutral); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	violations := CheckSnapshot(reg.Snapshot())
	if len(violations) != 0 {
		t.Errorf("Expected 0 violations, got %d: %v", len(violations), violations)
	}
}

func TestCheckSnapshot_DetectsCorruption(t *testing.T) {
	// A hand-built snapshot violating every structural check at once:
	// token 7 owned above supply 1, token 0 unowned, metadata without
	// an owner, a wrong balance, and an approval on a missing token.
	snap := &registry.Snapshot{
		Curator:     curator,
		TotalSupply: 1,
		Owners: map[domain.TokenID]domain.Identity{
			7: alice,
		},
		Metadata: map[domain.TokenID]domain.TokenMetadata{
			3: {Name: "BTC Echo #003", Coin: "BTC"},
		},
		Balances: map[domain.Identity]uint64{
			alice: 5,
		},
		Approvals: map[domain.TokenID]domain.Identity{
			9: bob,
		},
		Operators:     map[registry.OperatorGrant]bool{},
		ScannedTokens: map[domain.Identity][]domain.TokenID{},
	}

	violations := CheckSnapshot(snap)

	for _, check := range []string{
		"token_id_range",
		"metadata_pairing",
		"balance_consistency",
		"approval_target",
	} {
		if !hasCheck(violations, check) {
			t.Errorf("expected a %s violation, got %v", check, violations)
		}
	}
	if countSeverity(violations, SeverityWarning) != 0 {
		t.Errorf("expected only errors, got %v", violations)
	}
}

func TestCheckSnapshot_IndexSkewIsWarning(t *testing.T) {
	reg := registry.New(curator)
	t0, _, err := reg.Mint(alice, 1000, alice, "BTC", domain.MoodBullish)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if _, _, err := reg.Mint(alice, 2000, alice, "ETH", domain.MoodNeutral); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	// Transferring the first token leaves its index slot in place, so
	// alice's scan now reports the departed token instead of the held
	// one.
	if _, err := reg.Transfer(alice, 3000, bob, t0); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	violations := CheckSnapshot(reg.Snapshot())

	if !hasCheck(violations, "owner_index_skew") {
		t.Fatalf("expected an owner_index_skew warning, got %v", violations)
	}
	if countSeverity(violations, SeverityError) != 0 {
		t.Errorf("index skew must not be an error: %v", violations)
	}
}

func TestCompareWithRebuilt_Equivalence(t *testing.T) {
	reg, archived := scriptedSession(t)
	rebuilt := fold(t, archived)

	divergences := CompareWithRebuilt(reg.Snapshot(), rebuilt)
	if len(divergences) != 0 {
		t.Errorf("Expected 0 divergences, got %d: %v", len(divergences), divergences)
	}
}

func TestCompareWithRebuilt_DetectsDrift(t *testing.T) {
	reg, archived := scriptedSession(t)
	rebuilt := fold(t, archived)
	snap := reg.Snapshot()

	rebuilt.TotalSupply--
	rebuilt.Owners[0] = carol
	rebuilt.Balances[alice]++
	delete(rebuilt.Approvals, 2)
	rebuilt.Operators[registry.OperatorGrant{Owner: bob, Operator: carol}] = true
	rebuilt.Moods[2] = domain.MoodBullish
	rebuilt.Coins[1] = "DOGE"

	divergences := CompareWithRebuilt(snap, rebuilt)

	for _, field := range []string{
		"TotalSupply",
		"Owner[0]",
		"Balance[" + alice.String() + "]",
		"Approval[2]",
		"Operator[" + bob.String() + "->" + carol.String() + "]",
		"Mood[2]",
		"Coin[1]",
	} {
		if findDivergence(divergences, field) == nil {
			t.Errorf("expected a divergence on %s, got %v", field, divergences)
		}
	}
}

func TestCompareWithMirror(t *testing.T) {
	reg, archived := scriptedSession(t)
	rebuilt := fold(t, archived)

	// Mirror rows built from live registry state, the way the node
	// writes them
	records := make(map[domain.TokenID]*domain.TokenRecord)
	for id := range rebuilt.Owners {
		owner, _ := reg.OwnerOf(id)
		meta, _ := reg.Metadata(id)
		records[id] = &domain.TokenRecord{
			TokenID:  id,
			Owner:    owner,
			Name:     meta.Name,
			Coin:     meta.Coin,
			Mood:     meta.Mood,
			ImageURL: meta.ImageURL,
		}
	}

	if divs := CompareWithMirror(rebuilt, records); len(divs) != 0 {
		t.Fatalf("Expected 0 divergences, got %d: %v", len(divs), divs)
	}

	records[0].Owner = carol
	records[0].Name = "BTC Echo #999"
	records[2].Mood = domain.MoodBullish
	delete(records, 1)

	divergences := CompareWithMirror(rebuilt, records)
	for _, field := range []string{"Owner[0]", "Name[0]", "Mirror[1]", "Mood[2]"} {
		if findDivergence(divergences, field) == nil {
			t.Errorf("expected a divergence on %s, got %v", field, divergences)
		}
	}
	if findDivergence(divergences, "Coin[0]") != nil {
		t.Errorf("untouched coin must not diverge: %v", divergences)
	}
}

func TestCompareWithRebuilt_TruncatedArchive(t *testing.T) {
	reg, archived := scriptedSession(t)

	// Fold everything except the trailing mood change and zero-approval
	rebuilt := fold(t, archived[:len(archived)-2])

	divergences := CompareWithRebuilt(reg.Snapshot(), rebuilt)
	if len(divergences) == 0 {
		t.Fatal("expected divergences from a truncated archive")
	}
	if findDivergence(divergences, "Mood[2]") != nil {
		t.Errorf("moods absent from the rebuilt state must not diverge: %v", divergences)
	}
	if findDivergence(divergences, "Approval[2]") == nil {
		t.Errorf("expected the missing approval to diverge: %v", divergences)
	}
}
