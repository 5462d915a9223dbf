package replay

import "errors"

// ErrOutOfOrder is returned when the archive yields events whose
// sequence numbers are not strictly ascending.
var ErrOutOfOrder = errors.New("archive events out of sequence order")
