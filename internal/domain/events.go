package domain

// EventKind represents the type of registry event.
type EventKind string

// Event kind constants.
const (
	EventTransfer       EventKind = "TRANSFER"
	EventApproval       EventKind = "APPROVAL"
	EventApprovalForAll EventKind = "APPROVAL_FOR_ALL"
	EventMinted         EventKind = "MINTED"
	EventMoodUpdated    EventKind = "MOOD_UPDATED"
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known event kind.
func (k EventKind) IsValid() bool {
	switch k {
	case EventTransfer, EventApproval, EventApprovalForAll, EventMinted, EventMoodUpdated:
		return true
	}
	return false
}

// Event is a unified registry event. Exactly one payload pointer is set
// based on Kind. Seq is assigned when the event is archived; zero means
// not yet archived. At is the host clock reading (ms) at emission.
type Event struct {
	Kind EventKind `json:"kind"`
	Seq  uint64    `json:"seq"`
	At   int64     `json:"at"`

	Transfer       *TransferEvent       `json:"transfer,omitempty"`
	Approval       *ApprovalEvent       `json:"approval,omitempty"`
	ApprovalForAll *ApprovalForAllEvent `json:"approval_for_all,omitempty"`
	Minted         *MintedEvent         `json:"minted,omitempty"`
	MoodUpdated    *MoodUpdatedEvent    `json:"mood_updated,omitempty"`
}

// TransferEvent records an ownership change. From is nil for mints; To
// is always set (transfers to the zero identity are rejected upstream).
type TransferEvent struct {
	From    *Identity `json:"from"`
	To      *Identity `json:"to"`
	TokenID TokenID   `json:"token_id"`
}

// ApprovalEvent records a single-token approval grant.
type ApprovalEvent struct {
	Owner    Identity `json:"owner"`
	Approved Identity `json:"approved"`
	TokenID  TokenID  `json:"token_id"`
}

// ApprovalForAllEvent records an operator grant or revocation.
type ApprovalForAllEvent struct {
	Owner    Identity `json:"owner"`
	Operator Identity `json:"operator"`
	Approved bool     `json:"approved"`
}

// MintedEvent records the creation of a token.
type MintedEvent struct {
	TokenID TokenID  `json:"token_id"`
	Owner   Identity `json:"owner"`
	Coin    string   `json:"coin"`
}

// MoodUpdatedEvent records a curator mood change.
type MoodUpdatedEvent struct {
	TokenID TokenID   `json:"token_id"`
	NewMood MoodState `json:"new_mood"`
}

// TokenRef returns the token the event concerns, or nil for events not
// tied to a single token (APPROVAL_FOR_ALL or a malformed payload).
func (e *Event) TokenRef() *TokenID {
	switch e.Kind {
	case EventTransfer:
		if e.Transfer != nil {
			id := e.Transfer.TokenID
			return &id
		}
	case EventApproval:
		if e.Approval != nil {
			id := e.Approval.TokenID
			return &id
		}
	case EventMinted:
		if e.Minted != nil {
			id := e.Minted.TokenID
			return &id
		}
	case EventMoodUpdated:
		if e.MoodUpdated != nil {
			id := e.MoodUpdated.TokenID
			return &id
		}
	}
	return nil
}
