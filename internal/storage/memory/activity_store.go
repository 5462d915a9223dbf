package memory

import (
	"context"
	"sort"
	"sync"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/storage"
)

// ActivityStore is an in-memory implementation of storage.ActivityStore.
type ActivityStore struct {
	mu   sync.RWMutex
	data []*domain.ActivityPoint
	seqs map[uint64]bool
}

// NewActivityStore creates a new in-memory activity store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{
		data: make([]*domain.ActivityPoint, 0),
		seqs: make(map[uint64]bool),
	}
}

// InsertBulk adds multiple points. Fails the entire batch on any duplicate sequence number.
func (s *ActivityStore) InsertBulk(_ context.Context, points []*domain.ActivityPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicates (both existing and intra-batch)
	batchSeqs := make(map[uint64]bool)
	for _, p := range points {
		if p == nil || p.Seq == 0 {
			return storage.ErrInvalidInput
		}
		if s.seqs[p.Seq] || batchSeqs[p.Seq] {
			return storage.ErrDuplicateKey
		}
		batchSeqs[p.Seq] = true
	}

	// Insert all
	for _, p := range points {
		pCopy := *p
		if p.TokenID != nil {
			id := *p.TokenID
			pCopy.TokenID = &id
		}
		s.data = append(s.data, &pCopy)
		s.seqs[p.Seq] = true
	}

	return nil
}

// GetByToken retrieves all points for a token, ordered by timestamp ASC.
func (s *ActivityStore) GetByToken(_ context.Context, tokenID domain.TokenID) ([]*domain.ActivityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ActivityPoint
	for _, p := range s.data {
		if p.TokenID != nil && *p.TokenID == tokenID {
			result = append(result, copyPoint(p))
		}
	}
	sortActivityPoints(result)

	return result, nil
}

// GetByTimeRange retrieves points within [start, end] ms (inclusive).
func (s *ActivityStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.ActivityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ActivityPoint
	for _, p := range s.data {
		if p.TimestampMs >= start && p.TimestampMs <= end {
			result = append(result, copyPoint(p))
		}
	}
	sortActivityPoints(result)

	return result, nil
}

// CountByKind aggregates point counts per event kind within [start, end] ms.
func (s *ActivityStore) CountByKind(_ context.Context, start, end int64) (map[domain.EventKind]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.EventKind]uint64)
	for _, p := range s.data {
		if p.TimestampMs >= start && p.TimestampMs <= end {
			counts[p.Kind]++
		}
	}

	return counts, nil
}

// copyPoint copies a point including its nullable token id.
func copyPoint(p *domain.ActivityPoint) *domain.ActivityPoint {
	pCopy := *p
	if p.TokenID != nil {
		id := *p.TokenID
		pCopy.TokenID = &id
	}
	return &pCopy
}

// sortActivityPoints sorts points by (timestamp, seq).
func sortActivityPoints(points []*domain.ActivityPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].TimestampMs != points[j].TimestampMs {
			return points[i].TimestampMs < points[j].TimestampMs
		}
		return points[i].Seq < points[j].Seq
	})
}

// Verify interface compliance at compile time.
var _ storage.ActivityStore = (*ActivityStore)(nil)
