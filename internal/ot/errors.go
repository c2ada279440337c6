package ot

import "errors"

// Closed error-kind set for the kernel (spec §7).
var (
	// ErrNonInvertible is returned by Inverse when the operation lacks the
	// data captured by Apply (e.g. a Delete whose DeletedContent was never
	// populated).
	ErrNonInvertible = errors.New("ot: operation is not invertible")

	// ErrInvalidPosition signals a structurally invalid position/length.
	ErrInvalidPosition = errors.New("ot: invalid position or length")

	// ErrOutOfRange signals a position/length beyond the document bounds.
	ErrOutOfRange = errors.New("ot: operation out of document range")
)
