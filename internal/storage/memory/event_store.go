package memory

import (
	"context"
	"sort"
	"sync"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu      sync.RWMutex
	bySeq   map[uint64]*domain.Event
	lastSeq uint64
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		bySeq: make(map[uint64]*domain.Event),
	}
}

// Append adds one archived event. Returns ErrDuplicateKey if the sequence number is taken.
func (s *EventStore) Append(_ context.Context, e *domain.Event) error {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySeq[e.Seq]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy
	s.bySeq[e.Seq] = cloneEvent(e)
	if e.Seq > s.lastSeq {
		s.lastSeq = e.Seq
	}

	return nil
}

// GetAll retrieves the full archive ordered by sequence ASC.
func (s *EventStore) GetAll(_ context.Context) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Event, 0, len(s.bySeq))
	for _, e := range s.bySeq {
		result = append(result, cloneEvent(e))
	}
	sortEventsBySeq(result)

	return result, nil
}

// GetBySeqRange retrieves events with sequence in [start, end] (inclusive).
func (s *EventStore) GetBySeqRange(_ context.Context, start, end uint64) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for seq, e := range s.bySeq {
		if seq >= start && seq <= end {
			result = append(result, cloneEvent(e))
		}
	}
	sortEventsBySeq(result)

	return result, nil
}

// GetByToken retrieves all events concerning one token, ordered by sequence ASC.
func (s *EventStore) GetByToken(_ context.Context, tokenID domain.TokenID) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.bySeq {
		if ref := e.TokenRef(); ref != nil && *ref == tokenID {
			result = append(result, cloneEvent(e))
		}
	}
	sortEventsBySeq(result)

	return result, nil
}

// LastSeq returns the highest archived sequence number, zero when empty.
func (s *EventStore) LastSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastSeq, nil
}

// sortEventsBySeq sorts events by sequence ASC.
func sortEventsBySeq(events []*domain.Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Seq < events[j].Seq
	})
}

// cloneEvent copies an event including its payload so stored state
// never aliases caller memory.
func cloneEvent(e *domain.Event) *domain.Event {
	c := *e
	switch {
	case e.Transfer != nil:
		p := *e.Transfer
		if e.Transfer.From != nil {
			from := *e.Transfer.From
			p.From = &from
		}
		if e.Transfer.To != nil {
			to := *e.Transfer.To
			p.To = &to
		}
		c.Transfer = &p
	case e.Approval != nil:
		p := *e.Approval
		c.Approval = &p
	case e.ApprovalForAll != nil:
		p := *e.ApprovalForAll
		c.ApprovalForAll = &p
	case e.Minted != nil:
		p := *e.Minted
		c.Minted = &p
	case e.MoodUpdated != nil:
		p := *e.MoodUpdated
		c.MoodUpdated = &p
	}
	return &c
}

// Verify interface compliance at compile time.
var _ storage.EventStore = (*EventStore)(nil)
