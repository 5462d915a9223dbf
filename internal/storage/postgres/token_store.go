package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// Upsert writes the current row for a token, replacing any previous one.
func (s *TokenStore) Upsert(ctx context.Context, rec *domain.TokenRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO registry_tokens (
			token_id, owner_id, name, coin, mood, image_url, created_at_ms, last_updated_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			coin = EXCLUDED.coin,
			mood = EXCLUDED.mood,
			image_url = EXCLUDED.image_url,
			created_at_ms = EXCLUDED.created_at_ms,
			last_updated_ms = EXCLUDED.last_updated_ms
	`

	_, err := s.pool.Exec(ctx, query,
		int64(rec.TokenID),
		rec.Owner.String(),
		rec.Name,
		rec.Coin,
		string(rec.Mood),
		rec.ImageURL,
		rec.CreatedAt,
		rec.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert token record: %w", err)
	}
	return nil
}

// GetByID retrieves a token row. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByID(ctx context.Context, tokenID domain.TokenID) (*domain.TokenRecord, error) {
	query := `
		SELECT token_id, owner_id, name, coin, mood, image_url, created_at_ms, last_updated_ms
		FROM registry_tokens
		WHERE token_id = $1
	`

	row := s.pool.QueryRow(ctx, query, int64(tokenID))
	rec, err := scanTokenRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token record by id: %w", err)
	}
	return rec, nil
}

// GetByOwner retrieves all rows currently owned by an identity, ordered by token id ASC.
func (s *TokenStore) GetByOwner(ctx context.Context, owner domain.Identity) ([]*domain.TokenRecord, error) {
	query := `
		SELECT token_id, owner_id, name, coin, mood, image_url, created_at_ms, last_updated_ms
		FROM registry_tokens
		WHERE owner_id = $1
		ORDER BY token_id ASC
	`

	rows, err := s.pool.Query(ctx, query, owner.String())
	if err != nil {
		return nil, fmt.Errorf("get token records by owner: %w", err)
	}
	defer rows.Close()

	var recs []*domain.TokenRecord
	for rows.Next() {
		rec, err := scanTokenRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token record row: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token record rows: %w", err)
	}

	return recs, nil
}

// Count returns the number of rows mirrored.
func (s *TokenStore) Count(ctx context.Context) (uint64, error) {
	query := `SELECT COUNT(*) FROM registry_tokens`

	var count int64
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count token records: %w", err)
	}
	return uint64(count), nil
}

// scanTokenRecord scans a single row into TokenRecord.
func scanTokenRecord(row pgx.Row) (*domain.TokenRecord, error) {
	var rec domain.TokenRecord
	var tokenID int64
	var ownerID, mood string

	err := row.Scan(
		&tokenID,
		&ownerID,
		&rec.Name,
		&rec.Coin,
		&mood,
		&rec.ImageURL,
		&rec.CreatedAt,
		&rec.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	rec.TokenID = domain.TokenID(tokenID)
	rec.Mood = domain.MoodState(mood)

	owner, err := domain.ParseIdentity(ownerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner identity: %w", err)
	}
	rec.Owner = owner

	return &rec, nil
}
