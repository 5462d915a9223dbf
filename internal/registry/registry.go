package registry

import (
	"math"

	"echomint-registry/internal/domain"
)

// ownedKey addresses one slot in an owner's append-ordered token index.
type ownedKey struct {
	owner domain.Identity
	index uint64
}

// operatorKey addresses one operator grant.
type operatorKey struct {
	owner    domain.Identity
	operator domain.Identity
}

// Registry is the EchoMint ownership and metadata state machine. One
// instance lives for the node's lifetime, with the curator identity
// fixed at construction. Mutating operations take the authenticated
// caller and the host clock reading explicitly, mutate nothing on
// error, and return the events they emit in emission order.
//
// Registry is not safe for concurrent use; the owning node serializes
// all access.
type Registry struct {
	curator     domain.Identity
	totalSupply uint64
	owners      map[domain.TokenID]domain.Identity
	ownedTokens map[ownedKey]domain.TokenID
	ownedCounts map[domain.Identity]uint64
	metadata    map[domain.TokenID]domain.TokenMetadata
	approvals   map[domain.TokenID]domain.Identity
	operators   map[operatorKey]bool
}

// New creates an empty registry with curator fixed for its lifetime.
func New(curator domain.Identity) *Registry {
	return &Registry{
		curator:     curator,
		owners:      make(map[domain.TokenID]domain.Identity),
		ownedTokens: make(map[ownedKey]domain.TokenID),
		ownedCounts: make(map[domain.Identity]uint64),
		metadata:    make(map[domain.TokenID]domain.TokenMetadata),
		approvals:   make(map[domain.TokenID]domain.Identity),
		operators:   make(map[operatorKey]bool),
	}
}

// Mint creates a new token owned by to and returns its id. Minting is
// open to every caller. The id is the current total supply, the name
// derives from coin and id, the image starts at the placeholder, and
// both timestamps are set to now. Emits Transfer (from nobody) followed
// by Minted.
func (r *Registry) Mint(caller domain.Identity, now int64, to domain.Identity, coin string, initialMood domain.MoodState) (domain.TokenID, []domain.Event, error) {
	tokenID := domain.TokenID(r.totalSupply)
	if _, exists := r.owners[tokenID]; exists {
		return 0, nil, ErrTokenAlreadyExists
	}
	meta := domain.TokenMetadata{
		Name:        domain.TokenName(coin, tokenID),
		Coin:        coin,
		Mood:        initialMood,
		ImageURL:    domain.PlaceholderImageURL,
		CreatedAt:   now,
		LastUpdated: now,
	}
	r.owners[tokenID] = to
	r.metadata[tokenID] = meta
	count := r.ownedCounts[to]
	r.ownedTokens[ownedKey{owner: to, index: count}] = tokenID
	if count < math.MaxUint64 {
		r.ownedCounts[to] = count + 1
	}
	if r.totalSupply < math.MaxUint64 {
		r.totalSupply++
	}
	events := []domain.Event{
		{Kind: domain.EventTransfer, At: now, Transfer: &domain.TransferEvent{From: nil, To: &to, TokenID: tokenID}},
		{Kind: domain.EventMinted, At: now, Minted: &domain.MintedEvent{TokenID: tokenID, Owner: to, Coin: coin}},
	}
	return tokenID, events, nil
}

// UpdateMood sets the sentiment label on a token. Curator only; the
// gate is checked before existence, so a non-curator probing an absent
// id sees ErrNotOwner rather than ErrTokenNotFound.
func (r *Registry) UpdateMood(caller domain.Identity, now int64, tokenID domain.TokenID, newMood domain.MoodState) ([]domain.Event, error) {
	if caller != r.curator {
		return nil, ErrNotOwner
	}
	meta, ok := r.metadata[tokenID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	meta.Mood = newMood
	meta.LastUpdated = now
	r.metadata[tokenID] = meta
	events := []domain.Event{
		{Kind: domain.EventMoodUpdated, At: now, MoodUpdated: &domain.MoodUpdatedEvent{TokenID: tokenID, NewMood: newMood}},
	}
	return events, nil
}

// UpdateImage sets the artwork reference on a token. Curator only, with
// the same gate order as UpdateMood. Image changes emit no event.
func (r *Registry) UpdateImage(caller domain.Identity, now int64, tokenID domain.TokenID, newImageURL string) ([]domain.Event, error) {
	if caller != r.curator {
		return nil, ErrNotOwner
	}
	meta, ok := r.metadata[tokenID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	meta.ImageURL = newImageURL
	meta.LastUpdated = now
	r.metadata[tokenID] = meta
	return nil, nil
}

// Transfer moves a token to a new owner. The caller must be the owner,
// the approved identity, or an operator for the owner. Any single
// approval is cleared. The old owner's index slots are not compacted:
// the departed token's slot stays in place and only the count shrinks,
// so TokensOfOwner can drift from true holdings until later appends
// overwrite the slots. BalanceOf stays exact throughout.
func (r *Registry) Transfer(caller domain.Identity, now int64, to domain.Identity, tokenID domain.TokenID) ([]domain.Event, error) {
	owner, ok := r.owners[tokenID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if !r.isApprovedOrOwner(caller, tokenID, owner) {
		return nil, ErrNotApproved
	}
	if to.IsZero() {
		return nil, ErrTransferToZeroAddress
	}
	delete(r.approvals, tokenID)
	if fromCount := r.ownedCounts[owner]; fromCount > 0 {
		r.ownedCounts[owner] = fromCount - 1
	}
	toCount := r.ownedCounts[to]
	r.ownedTokens[ownedKey{owner: to, index: toCount}] = tokenID
	if toCount < math.MaxUint64 {
		r.ownedCounts[to] = toCount + 1
	}
	r.owners[tokenID] = to
	events := []domain.Event{
		{Kind: domain.EventTransfer, At: now, Transfer: &domain.TransferEvent{From: &owner, To: &to, TokenID: tokenID}},
	}
	return events, nil
}

// Approve grants to the right to transfer the token. Only the owner or
// an operator for the owner may grant it; an approved identity cannot
// re-delegate. Approving the zero identity records a grant to zero
// rather than clearing the slot.
func (r *Registry) Approve(caller domain.Identity, now int64, to domain.Identity, tokenID domain.TokenID) ([]domain.Event, error) {
	owner, ok := r.owners[tokenID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if caller != owner && !r.operators[operatorKey{owner: owner, operator: caller}] {
		return nil, ErrNotApproved
	}
	r.approvals[tokenID] = to
	events := []domain.Event{
		{Kind: domain.EventApproval, At: now, Approval: &domain.ApprovalEvent{Owner: owner, Approved: to, TokenID: tokenID}},
	}
	return events, nil
}

// SetApprovalForAll grants or revokes operator rights over all of the
// caller's tokens, present and future. Never fails; revocation stores
// false rather than deleting the grant.
func (r *Registry) SetApprovalForAll(caller domain.Identity, now int64, operator domain.Identity, approved bool) ([]domain.Event, error) {
	r.operators[operatorKey{owner: caller, operator: operator}] = approved
	events := []domain.Event{
		{Kind: domain.EventApprovalForAll, At: now, ApprovalForAll: &domain.ApprovalForAllEvent{Owner: caller, Operator: operator, Approved: approved}},
	}
	return events, nil
}

// isApprovedOrOwner reports whether spender may move the token: it is
// the owner, holds the single approval, or holds an operator grant from
// the owner.
func (r *Registry) isApprovedOrOwner(spender domain.Identity, tokenID domain.TokenID, owner domain.Identity) bool {
	if spender == owner {
		return true
	}
	if approved, ok := r.approvals[tokenID]; ok && approved == spender {
		return true
	}
	return r.operators[operatorKey{owner: owner, operator: spender}]
}

// OwnerOf returns the current owner of the token.
func (r *Registry) OwnerOf(tokenID domain.TokenID) (domain.Identity, bool) {
	owner, ok := r.owners[tokenID]
	return owner, ok
}

// TotalSupply returns the number of tokens ever minted. It never
// decreases; the next mint takes id TotalSupply.
func (r *Registry) TotalSupply() uint64 {
	return r.totalSupply
}

// BalanceOf returns the number of tokens owned, zero for identities
// never seen.
func (r *Registry) BalanceOf(owner domain.Identity) uint64 {
	return r.ownedCounts[owner]
}

// Metadata returns the token's metadata.
func (r *Registry) Metadata(tokenID domain.TokenID) (domain.TokenMetadata, bool) {
	meta, ok := r.metadata[tokenID]
	return meta, ok
}

// GetApproved returns the approved identity for the token if a grant is
// recorded. A grant to the zero identity reports (zero, true).
func (r *Registry) GetApproved(tokenID domain.TokenID) (domain.Identity, bool) {
	approved, ok := r.approvals[tokenID]
	return approved, ok
}

// IsApprovedForAll reports whether operator holds a live grant from
// owner.
func (r *Registry) IsApprovedForAll(owner, operator domain.Identity) bool {
	return r.operators[operatorKey{owner: owner, operator: operator}]
}

// TokensOfOwner returns the ids recorded in the owner's index slots
// below the current balance, skipping empty slots. Because transfers do
// not compact slots the result can include departed tokens and omit
// held ones; BalanceOf is the authoritative count.
func (r *Registry) TokensOfOwner(owner domain.Identity) []domain.TokenID {
	count := r.ownedCounts[owner]
	tokens := make([]domain.TokenID, 0, count)
	for i := uint64(0); i < count; i++ {
		if tokenID, ok := r.ownedTokens[ownedKey{owner: owner, index: i}]; ok {
			tokens = append(tokens, tokenID)
		}
	}
	return tokens
}

// Curator returns the identity fixed at construction.
func (r *Registry) Curator() domain.Identity {
	return r.curator
}
