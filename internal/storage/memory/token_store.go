package memory

import (
	"context"
	"sort"
	"sync"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	data map[domain.TokenID]*domain.TokenRecord
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		data: make(map[domain.TokenID]*domain.TokenRecord),
	}
}

// Upsert writes the current row for a token, replacing any previous one.
func (s *TokenStore) Upsert(_ context.Context, rec *domain.TokenRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy
	recCopy := *rec
	s.data[rec.TokenID] = &recCopy

	return nil
}

// GetByID retrieves a token row. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByID(_ context.Context, tokenID domain.TokenID) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[tokenID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	recCopy := *rec
	return &recCopy, nil
}

// GetByOwner retrieves all rows currently owned by an identity, ordered by token id ASC.
func (s *TokenStore) GetByOwner(_ context.Context, owner domain.Identity) ([]*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TokenRecord
	for _, rec := range s.data {
		if rec.Owner == owner {
			recCopy := *rec
			result = append(result, &recCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TokenID < result[j].TokenID
	})

	return result, nil
}

// Count returns the number of rows mirrored.
func (s *TokenStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.data)), nil
}

// Verify interface compliance at compile time.
var _ storage.TokenStore = (*TokenStore)(nil)
