package memory

import (
	"context"
	"errors"
	"testing"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/storage"
)

func mintedEvent(seq uint64, at int64, tokenID domain.TokenID, owner domain.Identity) *domain.Event {
	return &domain.Event{
		Kind: domain.EventMinted,
		Seq:  seq,
		At:   at,
		Minted: &domain.MintedEvent{
			TokenID: tokenID,
			Owner:   owner,
			Coin:    "BTC",
		},
	}
}

func transferEvent(seq uint64, at int64, tokenID domain.TokenID, from, to domain.Identity) *domain.Event {
	return &domain.Event{
		Kind: domain.EventTransfer,
		Seq:  seq,
		At:   at,
		Transfer: &domain.TransferEvent{
			From:    &from,
			To:      &to,
			TokenID: tokenID,
		},
	}
}

func operatorEvent(seq uint64, at int64, owner, operator domain.Identity, approved bool) *domain.Event {
	return &domain.Event{
		Kind: domain.EventApprovalForAll,
		Seq:  seq,
		At:   at,
		ApprovalForAll: &domain.ApprovalForAllEvent{
			Owner:    owner,
			Operator: operator,
			Approved: approved,
		},
	}
}

func TestEventStore_AppendAndGetAll(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	owner := domain.Identity{0xA1}

	// Append out of order; reads must come back sorted by seq.
	if err := store.Append(ctx, mintedEvent(3, 3000, 2, owner)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, mintedEvent(1, 1000, 0, owner)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, mintedEvent(2, 2000, 1, owner)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("GetAll returned %d events, want 3", len(events))
	}
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d has seq %d, want %d", i, e.Seq, i+1)
		}
	}
	if events[0].Minted == nil || events[0].Minted.TokenID != 0 {
		t.Errorf("payload mismatch: %+v", events[0])
	}
}

func TestEventStore_DuplicateSeq(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	owner := domain.Identity{0xA1}
	if err := store.Append(ctx, mintedEvent(1, 1000, 0, owner)); err != nil {
		t.Fatalf("First append failed: %v", err)
	}
	err := store.Append(ctx, transferEvent(1, 2000, 0, owner, domain.Identity{0xB0}))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	// Original survives the rejected append.
	events, _ := store.GetAll(ctx)
	if len(events) != 1 || events[0].Kind != domain.EventMinted {
		t.Errorf("archive disturbed by rejected append: %+v", events)
	}
}

func TestEventStore_InvalidInput(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	if err := store.Append(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil event: expected ErrInvalidInput, got %v", err)
	}

	unassigned := mintedEvent(0, 1000, 0, domain.Identity{0xA1})
	if err := store.Append(ctx, unassigned); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("zero seq: expected ErrInvalidInput, got %v", err)
	}

	mismatched := &domain.Event{Kind: domain.EventMinted, Seq: 1, At: 1000}
	if err := store.Append(ctx, mismatched); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing payload: expected ErrInvalidInput, got %v", err)
	}
}

func TestEventStore_GetBySeqRange(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	owner := domain.Identity{0xA1}
	for seq := uint64(1); seq <= 5; seq++ {
		if err := store.Append(ctx, mintedEvent(seq, int64(seq)*1000, domain.TokenID(seq-1), owner)); err != nil {
			t.Fatalf("Append %d failed: %v", seq, err)
		}
	}

	events, err := store.GetBySeqRange(ctx, 2, 4)
	if err != nil {
		t.Fatalf("GetBySeqRange failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (bounds are inclusive)", len(events))
	}
	if events[0].Seq != 2 || events[2].Seq != 4 {
		t.Errorf("range = [%d, %d], want [2, 4]", events[0].Seq, events[2].Seq)
	}

	empty, err := store.GetBySeqRange(ctx, 10, 20)
	if err != nil {
		t.Fatalf("GetBySeqRange failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("out-of-range query returned %d events", len(empty))
	}
}

func TestEventStore_GetByToken(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	alice := domain.Identity{0xA1}
	bob := domain.Identity{0xB0}

	store.Append(ctx, mintedEvent(1, 1000, 0, alice))
	store.Append(ctx, mintedEvent(2, 2000, 1, alice))
	store.Append(ctx, transferEvent(3, 3000, 0, alice, bob))
	// Operator grants carry no token and must never match.
	store.Append(ctx, operatorEvent(4, 4000, alice, bob, true))

	events, err := store.GetByToken(ctx, 0)
	if err != nil {
		t.Fatalf("GetByToken failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events for token 0, want 2", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 3 {
		t.Errorf("seqs = %d, %d, want 1, 3", events[0].Seq, events[1].Seq)
	}

	none, _ := store.GetByToken(ctx, 42)
	if len(none) != 0 {
		t.Errorf("unknown token returned %d events", len(none))
	}
}

func TestEventStore_LastSeq(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	seq, err := store.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("empty archive LastSeq = %d, want 0", seq)
	}

	store.Append(ctx, mintedEvent(7, 1000, 0, domain.Identity{0xA1}))
	store.Append(ctx, mintedEvent(3, 2000, 1, domain.Identity{0xA1}))

	seq, _ = store.LastSeq(ctx)
	if seq != 7 {
		t.Errorf("LastSeq = %d, want 7", seq)
	}
}

func TestEventStore_ReturnsCopy(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	alice := domain.Identity{0xA1}
	original := mintedEvent(1, 1000, 0, alice)
	if err := store.Append(ctx, original); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Mutating the appended event must not reach the archive.
	original.Minted.Coin = "DOGE"

	events, _ := store.GetAll(ctx)
	if events[0].Minted.Coin != "BTC" {
		t.Error("archive aliases caller memory on append")
	}

	// Mutating a fetched event must not reach the archive either.
	events[0].Minted.Coin = "DOGE"
	again, _ := store.GetAll(ctx)
	if again[0].Minted.Coin != "BTC" {
		t.Error("archive aliases returned events")
	}
}
