// Package node hosts the registry state machine. The node serializes
// all access, stamps operations with the host clock, assigns archive
// sequence numbers, and pushes every emitted event to the event
// archive, the token read model, the activity buffer, and the live
// feed.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/imageref"
	"echomint-registry/internal/observability"
	"echomint-registry/internal/registry"
	"echomint-registry/internal/storage"
)

// Publisher receives every archived event for live fan-out.
type Publisher interface {
	Publish(e *domain.Event)
}

// Options for creating a Node.
type Options struct {
	// Required
	Registry   *registry.Registry
	EventStore storage.EventStore

	// Optional sinks
	TokenStore    storage.TokenStore    // Current-state read model
	ActivityStore storage.ActivityStore // Analytics mirror
	Feed          Publisher             // Live event fan-out

	Clock             func() int64  // Default: time.Now().UnixMilli
	ActivityBatchSize int           // Default: 64 - flush early past this many buffered points
	FlushInterval     time.Duration // Default: 5s - periodic activity flush
	Logger            *log.Logger
}

// Node owns one registry instance for its lifetime. Mutations take the
// write lock; queries take the read lock, so reads never observe a
// half-applied operation. Archive and mirror write failures are logged
// and counted but never rolled back: the in-memory registry is the
// source of truth, and archive gaps surface in replay verification.
type Node struct {
	mu       sync.RWMutex
	registry *registry.Registry
	events   storage.EventStore
	tokens   storage.TokenStore
	activity storage.ActivityStore
	feed     Publisher
	clock    func() int64
	logger   *log.Logger

	// Counters below are written under mu
	nextSeq       uint64 // Last assigned sequence number
	archivedSeq   uint64 // Last sequence successfully archived
	eventsEmitted uint64
	archiveErrors uint64
	mirrorErrors  uint64

	activityBatchSize int
	flushInterval     time.Duration

	bufMu   sync.Mutex
	buffer  []*domain.ActivityPoint
	flushCh chan struct{}
}

// New creates a node hosting the given registry. The sequence counter
// resumes after the highest sequence already in the archive, so a node
// restarted over an existing archive never reuses a number.
func New(ctx context.Context, opts Options) (*Node, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.EventStore == nil {
		return nil, errors.New("event store is required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().UnixMilli() }
	}

	activityBatchSize := opts.ActivityBatchSize
	if activityBatchSize == 0 {
		activityBatchSize = 64
	}

	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	lastSeq, err := opts.EventStore.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last archived seq: %w", err)
	}

	return &Node{
		registry:          opts.Registry,
		events:            opts.EventStore,
		tokens:            opts.TokenStore,
		activity:          opts.ActivityStore,
		feed:              opts.Feed,
		clock:             clock,
		logger:            logger,
		nextSeq:           lastSeq,
		archivedSeq:       lastSeq,
		activityBatchSize: activityBatchSize,
		flushInterval:     flushInterval,
		flushCh:           make(chan struct{}, 1),
	}, nil
}

// Mint creates a new token owned by to and returns its id.
func (n *Node) Mint(ctx context.Context, caller, to domain.Identity, coin string, initialMood domain.MoodState) (domain.TokenID, error) {
	start := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()

	tokenID, events, err := n.registry.Mint(caller, n.clock(), to, coin, initialMood)
	if err != nil {
		observability.RecordOp("mint", "error", time.Since(start).Seconds())
		return 0, err
	}

	n.commit(ctx, events, tokenID)
	observability.RecordOp("mint", "ok", time.Since(start).Seconds())
	return tokenID, nil
}

// Transfer moves a token to a new owner on behalf of caller.
func (n *Node) Transfer(ctx context.Context, caller, to domain.Identity, tokenID domain.TokenID) error {
	start := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()

	events, err := n.registry.Transfer(caller, n.clock(), to, tokenID)
	if err != nil {
		observability.RecordOp("transfer", "error", time.Since(start).Seconds())
		return err
	}

	n.commit(ctx, events, tokenID)
	observability.RecordOp("transfer", "ok", time.Since(start).Seconds())
	return nil
}

// Approve grants to the right to transfer the token.
func (n *Node) Approve(ctx context.Context, caller, to domain.Identity, tokenID domain.TokenID) error {
	start := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()

	events, err := n.registry.Approve(caller, n.clock(), to, tokenID)
	if err != nil {
		observability.RecordOp("approve", "error", time.Since(start).Seconds())
		return err
	}

	n.commit(ctx, events)
	observability.RecordOp("approve", "ok", time.Since(start).Seconds())
	return nil
}

// SetApprovalForAll grants or revokes operator rights over all of the
// caller's tokens.
func (n *Node) SetApprovalForAll(ctx context.Context, caller, operator domain.Identity, approved bool) error {
	start := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()

	events, err := n.registry.SetApprovalForAll(caller, n.clock(), operator, approved)
	if err != nil {
		observability.RecordOp("set_approval_for_all", "error", time.Since(start).Seconds())
		return err
	}

	n.commit(ctx, events)
	observability.RecordOp("set_approval_for_all", "ok", time.Since(start).Seconds())
	return nil
}

// UpdateMood sets the sentiment label on a token. Curator only.
func (n *Node) UpdateMood(ctx context.Context, caller domain.Identity, tokenID domain.TokenID, newMood domain.MoodState) error {
	start := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()

	events, err := n.registry.UpdateMood(caller, n.clock(), tokenID, newMood)
	if err != nil {
		observability.RecordOp("update_mood", "error", time.Since(start).Seconds())
		return err
	}

	n.commit(ctx, events, tokenID)
	observability.RecordOp("update_mood", "ok", time.Since(start).Seconds())
	return nil
}

// UpdateImage sets the artwork reference on a token. Curator only.
// Image changes emit no event but still refresh the token read model.
func (n *Node) UpdateImage(ctx context.Context, caller domain.Identity, tokenID domain.TokenID, newImageURL string) error {
	start := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()

	events, err := n.registry.UpdateImage(caller, n.clock(), tokenID, newImageURL)
	if err != nil {
		observability.RecordOp("update_image", "error", time.Since(start).Seconds())
		return err
	}

	// The registry accepts any reference string. References the artwork
	// pipeline cannot resolve are logged and counted, never rejected.
	if !imageref.IsPlaceholder(newImageURL) {
		if verr := imageref.Validate(newImageURL); verr != nil {
			n.logger.Printf("Token %d image reference will not resolve: %v", tokenID, verr)
			observability.RecordNonIPFSImageRef()
		}
	}

	n.commit(ctx, events, tokenID)
	observability.RecordOp("update_image", "ok", time.Since(start).Seconds())
	return nil
}

// commit pushes the events of one successful operation to every sink:
// sequence assignment, archive append, activity buffer, live feed, and
// the read-model rows for the touched tokens. Called with the write
// lock held. A failed archive append still consumes its sequence
// number, leaving a gap for replay verification to report.
func (n *Node) commit(ctx context.Context, events []domain.Event, touched ...domain.TokenID) {
	for i := range events {
		e := &events[i]
		n.nextSeq++
		e.Seq = n.nextSeq

		if err := n.events.Append(ctx, e); err != nil {
			n.logger.Printf("Error archiving event seq %d (%s): %v", e.Seq, e.Kind, err)
			n.archiveErrors++
			observability.RecordArchiveAppendError()
		} else {
			n.archivedSeq = e.Seq
			observability.SetLastArchivedSeq(e.Seq)
		}

		observability.RecordEvent(string(e.Kind))
		n.bufferActivity(e)

		if n.feed != nil {
			n.feed.Publish(e)
		}
	}
	n.eventsEmitted += uint64(len(events))

	seen := make(map[domain.TokenID]bool, len(touched))
	for _, id := range touched {
		if seen[id] {
			continue
		}
		seen[id] = true
		n.mirrorToken(ctx, id)
	}

	observability.SetTotalSupply(n.registry.TotalSupply())
}

// mirrorToken rewrites the read-model row for one token from current
// registry state.
func (n *Node) mirrorToken(ctx context.Context, tokenID domain.TokenID) {
	if n.tokens == nil {
		return
	}

	owner, ok := n.registry.OwnerOf(tokenID)
	if !ok {
		return
	}
	meta, ok := n.registry.Metadata(tokenID)
	if !ok {
		return
	}

	rec := &domain.TokenRecord{
		TokenID:     tokenID,
		Owner:       owner,
		Name:        meta.Name,
		Coin:        meta.Coin,
		Mood:        meta.Mood,
		ImageURL:    meta.ImageURL,
		CreatedAt:   meta.CreatedAt,
		LastUpdated: meta.LastUpdated,
	}

	if err := n.tokens.Upsert(ctx, rec); err != nil {
		n.logger.Printf("Error mirroring token %d: %v", tokenID, err)
		n.mirrorErrors++
		observability.RecordMirrorWriteError()
	}
}

// bufferActivity queues one analytics point and nudges the flush loop
// once the buffer passes the batch size.
func (n *Node) bufferActivity(e *domain.Event) {
	if n.activity == nil {
		return
	}

	p := &domain.ActivityPoint{
		Seq:         e.Seq,
		Kind:        e.Kind,
		TokenID:     e.TokenRef(),
		TimestampMs: e.At,
	}

	n.bufMu.Lock()
	n.buffer = append(n.buffer, p)
	size := len(n.buffer)
	n.bufMu.Unlock()

	observability.SetActivityBufferSize(size)

	if size >= n.activityBatchSize {
		select {
		case n.flushCh <- struct{}{}:
		default:
		}
	}
}

// Run drains the activity buffer on a ticker until ctx is cancelled,
// flushing one final time on shutdown. It blocks until then.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Println("Starting registry node...")

	flushTicker := time.NewTicker(n.flushInterval)
	defer flushTicker.Stop()

	n.logger.Printf("Node started, activity batch size: %d, flush interval: %v", n.activityBatchSize, n.flushInterval)

	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled, so the final flush gets its own
			// deadline
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n.flushActivity(flushCtx)
			cancel()
			n.logger.Println("Node stopping...")
			return ctx.Err()

		case <-n.flushCh:
			n.flushActivity(ctx)

		case <-flushTicker.C:
			n.flushActivity(ctx)
		}
	}
}

// flushActivity writes all buffered points in one bulk insert. On a
// duplicate the batch is dropped; points from a previous partial write
// would otherwise wedge the buffer forever. Other failures keep the
// points for the next attempt.
func (n *Node) flushActivity(ctx context.Context) {
	if n.activity == nil {
		return
	}

	n.bufMu.Lock()
	points := n.buffer
	n.buffer = nil
	n.bufMu.Unlock()

	if len(points) == 0 {
		return
	}

	if err := n.activity.InsertBulk(ctx, points); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			n.logger.Printf("Dropping %d activity points: %v", len(points), err)
			observability.RecordActivityFlush("dropped", 0)
			observability.SetActivityBufferSize(n.bufferedPoints())
			return
		}

		n.logger.Printf("Error flushing %d activity points, will retry: %v", len(points), err)
		observability.RecordActivityFlush("error", 0)
		n.bufMu.Lock()
		n.buffer = append(points, n.buffer...)
		size := len(n.buffer)
		n.bufMu.Unlock()
		observability.SetActivityBufferSize(size)
		return
	}

	observability.RecordActivityFlush("ok", len(points))
	observability.SetActivityBufferSize(n.bufferedPoints())
}

func (n *Node) bufferedPoints() int {
	n.bufMu.Lock()
	defer n.bufMu.Unlock()
	return len(n.buffer)
}

// TotalSupply returns the number of tokens ever minted.
func (n *Node) TotalSupply() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registry.TotalSupply()
}

// OwnerOf returns the current owner of the token.
func (n *Node) OwnerOf(tokenID domain.TokenID) (domain.Identity, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registry.OwnerOf(tokenID)
}

// BalanceOf returns the number of tokens owned.
func (n *Node) BalanceOf(owner domain.Identity) uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registry.BalanceOf(owner)
}

// Metadata returns the token's metadata.
func (n *Node) Metadata(tokenID domain.TokenID) (domain.TokenMetadata, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registry.Metadata(tokenID)
}

// GetApproved returns the approved identity for the token if a grant
// is recorded.
func (n *Node) GetApproved(tokenID domain.TokenID) (domain.Identity, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registry.GetApproved(tokenID)
}

// IsApprovedForAll reports whether operator holds a live grant from
// owner.
func (n *Node) IsApprovedForAll(owner, operator domain.Identity) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registry.IsApprovedForAll(owner, operator)
}

// TokensOfOwner returns the ids recorded in the owner's index slots.
func (n *Node) TokensOfOwner(owner domain.Identity) []domain.TokenID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registry.TokensOfOwner(owner)
}

// Curator returns the curator identity.
func (n *Node) Curator() domain.Identity {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registry.Curator()
}

// Snapshot copies the full registry state for verification.
func (n *Node) Snapshot() *registry.Snapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registry.Snapshot()
}

// Stats is a point-in-time snapshot of node counters.
type Stats struct {
	TotalSupply     uint64 `json:"total_supply"`
	EventsEmitted   uint64 `json:"events_emitted"`
	LastAssignedSeq uint64 `json:"last_assigned_seq"`
	LastArchivedSeq uint64 `json:"last_archived_seq"`
	ArchiveErrors   uint64 `json:"archive_errors"`
	MirrorErrors    uint64 `json:"mirror_errors"`
	ActivityBuffer  int    `json:"activity_buffer"`
}

// Stats returns current node statistics.
func (n *Node) Stats() Stats {
	n.mu.RLock()
	s := Stats{
		TotalSupply:     n.registry.TotalSupply(),
		EventsEmitted:   n.eventsEmitted,
		LastAssignedSeq: n.nextSeq,
		LastArchivedSeq: n.archivedSeq,
		ArchiveErrors:   n.archiveErrors,
		MirrorErrors:    n.mirrorErrors,
	}
	n.mu.RUnlock()

	s.ActivityBuffer = n.bufferedPoints()
	return s
}
