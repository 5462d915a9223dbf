package domain

import "testing"

func TestTokenName(t *testing.T) {
	cases := []struct {
		coin string
		id   TokenID
		want string
	}{
		{"BTC", 0, "BTC Echo #000"},
		{"BTC", 7, "BTC Echo #007"},
		{"ETH", 42, "ETH Echo #042"},
		{"SOL", 999, "SOL Echo #999"},
		{"DOGE", 1000, "DOGE Echo #1000"}, // widens, never truncates
	}
	for _, c := range cases {
		if got := TokenName(c.coin, c.id); got != c.want {
			t.Errorf("TokenName(%q, %d) = %q, want %q", c.coin, c.id, got, c.want)
		}
	}
}

func TestMoodStateIsValid(t *testing.T) {
	for _, m := range []MoodState{
		MoodBullish, MoodBearish, MoodNeutral, MoodVolatile,
		MoodPositiveSentiment, MoodNegativeSentiment,
	} {
		if !m.IsValid() {
			t.Errorf("%s should be valid", m)
		}
	}
	if MoodState("EUPHORIC").IsValid() {
		t.Error("unknown label should not be valid")
	}
	if MoodState("").IsValid() {
		t.Error("empty label should not be valid")
	}
}

func TestEventTokenRef(t *testing.T) {
	id := TokenID(3)
	ev := &Event{Kind: EventTransfer, Transfer: &TransferEvent{To: &Identity{1}, TokenID: id}}
	ref := ev.TokenRef()
	if ref == nil || *ref != id {
		t.Fatalf("TokenRef = %v, want %d", ref, id)
	}

	op := &Event{Kind: EventApprovalForAll, ApprovalForAll: &ApprovalForAllEvent{Approved: true}}
	if op.TokenRef() != nil {
		t.Error("APPROVAL_FOR_ALL should have no token ref")
	}

	malformed := &Event{Kind: EventMinted}
	if malformed.TokenRef() != nil {
		t.Error("event without payload should have no token ref")
	}
}
