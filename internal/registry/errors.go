package registry

import "errors"

// Operation errors. This is the closed set of failures registry
// operations return; callers match them with errors.Is.
var (
	// ErrNotOwner is returned when a curator-only operation is invoked
	// by any other caller.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotApproved is returned when the caller is neither owner,
	// approved identity, nor operator for the operation it attempted.
	ErrNotApproved = errors.New("caller is not approved")

	// ErrTokenNotFound is returned when the referenced token has never
	// been minted.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenAlreadyExists is returned if a mint would reuse a live
	// token id. Unreachable while ids derive from the supply counter;
	// kept as a guard.
	ErrTokenAlreadyExists = errors.New("token already exists")

	// ErrNotAllowed is reserved for callers distinguishing permission
	// failures from the specific cases above. No operation currently
	// returns it.
	ErrNotAllowed = errors.New("operation not allowed")

	// ErrTransferToZeroAddress is returned when a transfer names the
	// zero identity as destination.
	ErrTransferToZeroAddress = errors.New("transfer to zero address")
)
