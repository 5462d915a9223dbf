package clickhouse

import (
	"context"
	"fmt"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/storage"
)

// ActivityStore implements storage.ActivityStore using ClickHouse.
//
// MergeTree does not enforce uniqueness at insert time, so duplicate
// sequence numbers are rejected by explicit checks before the batch insert.
type ActivityStore struct {
	conn *Conn
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(conn *Conn) *ActivityStore {
	return &ActivityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ActivityStore = (*ActivityStore)(nil)

// InsertBulk adds multiple points. Fails the entire batch on any duplicate
// sequence number.
func (s *ActivityStore) InsertBulk(ctx context.Context, points []*domain.ActivityPoint) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[uint64]struct{})
	for _, p := range points {
		if p == nil || p.Seq == 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[p.Seq]; exists {
			return storage.ErrDuplicateKey
		}
		seen[p.Seq] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, p := range points {
		exists, err := s.exists(ctx, p.Seq)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO registry_activity (
			seq, kind, token_id, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		// Pass nil directly for the Nullable token_id column
		err = batch.Append(
			p.Seq, string(p.Kind), toNullableTokenID(p.TokenID), uint64(p.TimestampMs),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByToken retrieves all points for a token, ordered by timestamp ASC.
func (s *ActivityStore) GetByToken(ctx context.Context, tokenID domain.TokenID) ([]*domain.ActivityPoint, error) {
	query := `
		SELECT seq, kind, token_id, timestamp_ms
		FROM registry_activity
		WHERE token_id = ?
		ORDER BY timestamp_ms ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(tokenID))
	if err != nil {
		return nil, fmt.Errorf("query by token: %w", err)
	}
	defer rows.Close()

	return scanActivityPoints(rows)
}

// GetByTimeRange retrieves points within [start, end] ms (inclusive).
func (s *ActivityStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.ActivityPoint, error) {
	query := `
		SELECT seq, kind, token_id, timestamp_ms
		FROM registry_activity
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanActivityPoints(rows)
}

// CountByKind aggregates point counts per event kind within [start, end] ms.
func (s *ActivityStore) CountByKind(ctx context.Context, start, end int64) (map[domain.EventKind]uint64, error) {
	query := `
		SELECT kind, count(*)
		FROM registry_activity
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		GROUP BY kind
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventKind]uint64)
	for rows.Next() {
		var kind string
		var count uint64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[domain.EventKind(kind)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate count rows: %w", err)
	}

	return counts, nil
}

// exists checks if a point with the given sequence number exists.
func (s *ActivityStore) exists(ctx context.Context, seq uint64) (bool, error) {
	query := `
		SELECT count(*) FROM registry_activity
		WHERE seq = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, seq).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// toNullableTokenID converts *TokenID to *uint64 for ClickHouse Nullable(UInt64).
func toNullableTokenID(id *domain.TokenID) *uint64 {
	if id == nil {
		return nil
	}
	u := uint64(*id)
	return &u
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanActivityPoints scans multiple rows.
func scanActivityPoints(rows chRows) ([]*domain.ActivityPoint, error) {
	var points []*domain.ActivityPoint

	for rows.Next() {
		var p domain.ActivityPoint
		var kind string
		var tokenID *uint64
		var timestampMs uint64

		err := rows.Scan(&p.Seq, &kind, &tokenID, &timestampMs)
		if err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}

		p.Kind = domain.EventKind(kind)
		p.TimestampMs = int64(timestampMs)

		// Convert Nullable(UInt64) to *TokenID
		if tokenID != nil {
			id := domain.TokenID(*tokenID)
			p.TokenID = &id
		}

		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}

	return points, nil
}
