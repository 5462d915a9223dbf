package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
//
// The event union is flattened into one row per event; payload columns not
// used by the event's kind stay NULL and are ignored on read.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `
	seq, kind, at_ms, token_id, from_id, to_id,
	owner_id, approved_id, operator_id, operator_approved, coin, mood
`

// Append adds one archived event. Returns ErrDuplicateKey if seq exists.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}

	r := flattenEvent(e)

	query := `
		INSERT INTO registry_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		r.seq, r.kind, r.atMs, r.tokenID, r.fromID, r.toID,
		r.ownerID, r.approvedID, r.operatorID, r.operatorApproved, r.coin, r.mood,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// GetAll retrieves the full archive ordered by sequence ASC.
func (s *EventStore) GetAll(ctx context.Context) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM registry_events
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetBySeqRange retrieves events with sequence in [start, end] (inclusive).
func (s *EventStore) GetBySeqRange(ctx context.Context, start, end uint64) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM registry_events
		WHERE seq >= $1 AND seq <= $2
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, int64(start), int64(end))
	if err != nil {
		return nil, fmt.Errorf("get events by seq range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByToken retrieves all events concerning one token, ordered by seq ASC.
// Operator grants carry no token id and never match.
func (s *EventStore) GetByToken(ctx context.Context, tokenID domain.TokenID) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM registry_events
		WHERE token_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, int64(tokenID))
	if err != nil {
		return nil, fmt.Errorf("get events by token: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LastSeq returns the highest archived sequence number, zero for an empty archive.
func (s *EventStore) LastSeq(ctx context.Context) (uint64, error) {
	query := `SELECT COALESCE(MAX(seq), 0) FROM registry_events`

	var last int64
	if err := s.pool.QueryRow(ctx, query).Scan(&last); err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return uint64(last), nil
}

// eventRow is the flattened column form of a registry event.
type eventRow struct {
	seq              int64
	kind             string
	atMs             int64
	tokenID          *int64
	fromID           *string
	toID             *string
	ownerID          *string
	approvedID       *string
	operatorID       *string
	operatorApproved *bool
	coin             *string
	mood             *string
}

// flattenEvent maps an event onto its row columns. The event must already
// be validated: the payload matching the kind is non-nil.
func flattenEvent(e *domain.Event) eventRow {
	r := eventRow{
		seq:  int64(e.Seq),
		kind: string(e.Kind),
		atMs: e.At,
	}

	switch e.Kind {
	case domain.EventTransfer:
		t := e.Transfer
		r.tokenID = int64Ptr(int64(t.TokenID))
		r.fromID = identityColumn(t.From)
		r.toID = identityColumn(t.To)
	case domain.EventApproval:
		a := e.Approval
		r.tokenID = int64Ptr(int64(a.TokenID))
		r.ownerID = stringPtr(a.Owner.String())
		r.approvedID = stringPtr(a.Approved.String())
	case domain.EventApprovalForAll:
		g := e.ApprovalForAll
		r.ownerID = stringPtr(g.Owner.String())
		r.operatorID = stringPtr(g.Operator.String())
		r.operatorApproved = boolPtr(g.Approved)
	case domain.EventMinted:
		m := e.Minted
		r.tokenID = int64Ptr(int64(m.TokenID))
		r.ownerID = stringPtr(m.Owner.String())
		r.coin = stringPtr(m.Coin)
	case domain.EventMoodUpdated:
		u := e.MoodUpdated
		r.tokenID = int64Ptr(int64(u.TokenID))
		r.mood = stringPtr(string(u.NewMood))
	}

	return r
}

// event rebuilds the domain event from row columns.
func (r *eventRow) event() (*domain.Event, error) {
	e := &domain.Event{
		Kind: domain.EventKind(r.kind),
		Seq:  uint64(r.seq),
		At:   r.atMs,
	}

	switch e.Kind {
	case domain.EventTransfer:
		from, err := identityPtrFromColumn(r.fromID)
		if err != nil {
			return nil, fmt.Errorf("from_id: %w", err)
		}
		to, err := identityPtrFromColumn(r.toID)
		if err != nil {
			return nil, fmt.Errorf("to_id: %w", err)
		}
		tokenID, err := tokenIDFromColumn(r.tokenID)
		if err != nil {
			return nil, err
		}
		e.Transfer = &domain.TransferEvent{From: from, To: to, TokenID: tokenID}
	case domain.EventApproval:
		owner, err := identityFromColumn(r.ownerID)
		if err != nil {
			return nil, fmt.Errorf("owner_id: %w", err)
		}
		approved, err := identityFromColumn(r.approvedID)
		if err != nil {
			return nil, fmt.Errorf("approved_id: %w", err)
		}
		tokenID, err := tokenIDFromColumn(r.tokenID)
		if err != nil {
			return nil, err
		}
		e.Approval = &domain.ApprovalEvent{Owner: owner, Approved: approved, TokenID: tokenID}
	case domain.EventApprovalForAll:
		owner, err := identityFromColumn(r.ownerID)
		if err != nil {
			return nil, fmt.Errorf("owner_id: %w", err)
		}
		operator, err := identityFromColumn(r.operatorID)
		if err != nil {
			return nil, fmt.Errorf("operator_id: %w", err)
		}
		approved := r.operatorApproved != nil && *r.operatorApproved
		e.ApprovalForAll = &domain.ApprovalForAllEvent{Owner: owner, Operator: operator, Approved: approved}
	case domain.EventMinted:
		owner, err := identityFromColumn(r.ownerID)
		if err != nil {
			return nil, fmt.Errorf("owner_id: %w", err)
		}
		tokenID, err := tokenIDFromColumn(r.tokenID)
		if err != nil {
			return nil, err
		}
		var coin string
		if r.coin != nil {
			coin = *r.coin
		}
		e.Minted = &domain.MintedEvent{TokenID: tokenID, Owner: owner, Coin: coin}
	case domain.EventMoodUpdated:
		tokenID, err := tokenIDFromColumn(r.tokenID)
		if err != nil {
			return nil, err
		}
		var mood string
		if r.mood != nil {
			mood = *r.mood
		}
		e.MoodUpdated = &domain.MoodUpdatedEvent{TokenID: tokenID, NewMood: domain.MoodState(mood)}
	default:
		return nil, fmt.Errorf("unknown event kind %q", r.kind)
	}

	return e, nil
}

// scanEvents scans multiple rows into a slice of Event.
func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var events []*domain.Event

	for rows.Next() {
		var r eventRow

		err := rows.Scan(
			&r.seq, &r.kind, &r.atMs, &r.tokenID, &r.fromID, &r.toID,
			&r.ownerID, &r.approvedID, &r.operatorID, &r.operatorApproved, &r.coin, &r.mood,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		e, err := r.event()
		if err != nil {
			return nil, fmt.Errorf("decode event row seq %d: %w", r.seq, err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}

func identityColumn(id *domain.Identity) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func identityPtrFromColumn(v *string) (*domain.Identity, error) {
	if v == nil {
		return nil, nil
	}
	id, err := domain.ParseIdentity(*v)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func identityFromColumn(v *string) (domain.Identity, error) {
	if v == nil {
		return domain.Identity{}, fmt.Errorf("missing identity column")
	}
	return domain.ParseIdentity(*v)
}

func tokenIDFromColumn(v *int64) (domain.TokenID, error) {
	if v == nil {
		return 0, fmt.Errorf("missing token_id column")
	}
	return domain.TokenID(*v), nil
}

func int64Ptr(v int64) *int64    { return &v }
func stringPtr(s string) *string { return &s }
func boolPtr(b bool) *bool       { return &b }
