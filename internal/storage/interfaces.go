package storage

import (
	"context"

	"echomint-registry/internal/domain"
)

// EventStore provides access to the append-only registry event archive.
// Sequence numbers start at 1 and are assigned by the node before
// appending; the archive never reassigns them.
type EventStore interface {
	// Append adds one archived event. Returns ErrDuplicateKey if the
	// sequence number is already taken, ErrInvalidInput for nil events,
	// unassigned (zero) sequence numbers, or payloads that do not match
	// the event kind.
	Append(ctx context.Context, e *domain.Event) error

	// GetAll retrieves the full archive ordered by sequence ASC.
	GetAll(ctx context.Context) ([]*domain.Event, error)

	// GetBySeqRange retrieves events with sequence in [start, end] (inclusive),
	// ordered by sequence ASC.
	GetBySeqRange(ctx context.Context, start, end uint64) ([]*domain.Event, error)

	// GetByToken retrieves all events concerning one token, ordered by
	// sequence ASC. Operator grants carry no token and never appear.
	GetByToken(ctx context.Context, tokenID domain.TokenID) ([]*domain.Event, error)

	// LastSeq returns the highest archived sequence number, zero for an
	// empty archive.
	LastSeq(ctx context.Context) (uint64, error)
}

// TokenStore provides access to the registry_tokens read model.
type TokenStore interface {
	// Upsert writes the current row for a token, replacing any previous
	// one. Returns ErrInvalidInput for nil records.
	Upsert(ctx context.Context, rec *domain.TokenRecord) error

	// GetByID retrieves a token row. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tokenID domain.TokenID) (*domain.TokenRecord, error)

	// GetByOwner retrieves all rows currently owned by an identity,
	// ordered by token id ASC.
	GetByOwner(ctx context.Context, owner domain.Identity) ([]*domain.TokenRecord, error)

	// Count returns the number of rows mirrored.
	Count(ctx context.Context) (uint64, error)
}

// ActivityStore provides access to registry_activity analytics storage.
type ActivityStore interface {
	// InsertBulk adds multiple points. Fails the entire batch on any
	// duplicate sequence number.
	InsertBulk(ctx context.Context, points []*domain.ActivityPoint) error

	// GetByToken retrieves all points for a token, ordered by timestamp ASC.
	GetByToken(ctx context.Context, tokenID domain.TokenID) ([]*domain.ActivityPoint, error)

	// GetByTimeRange retrieves points within [start, end] ms (inclusive),
	// ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.ActivityPoint, error)

	// CountByKind aggregates point counts per event kind within
	// [start, end] ms (inclusive).
	CountByKind(ctx context.Context, start, end int64) (map[domain.EventKind]uint64, error)
}

// ValidateEvent checks that an event is archivable: non-nil, an
// assigned sequence number, and a payload matching its kind. Returns
// ErrInvalidInput otherwise.
func ValidateEvent(e *domain.Event) error {
	if e == nil || e.Seq == 0 {
		return ErrInvalidInput
	}
	var ok bool
	switch e.Kind {
	case domain.EventTransfer:
		ok = e.Transfer != nil
	case domain.EventApproval:
		ok = e.Approval != nil
	case domain.EventApprovalForAll:
		ok = e.ApprovalForAll != nil
	case domain.EventMinted:
		ok = e.Minted != nil
	case domain.EventMoodUpdated:
		ok = e.MoodUpdated != nil
	}
	if !ok {
		return ErrInvalidInput
	}
	return nil
}
