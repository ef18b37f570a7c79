package voucher

import "errors"

var (
	// ErrNoAmounts is returned when a document has no resolved amounts to book
	ErrNoAmounts = errors.New("document has no resolved amounts")
	// ErrZeroAmount is returned for documents whose gross amount is zero
	ErrZeroAmount = errors.New("document gross amount is zero")
	// ErrUnknownDirection is returned for documents that are neither sales nor purchases
	ErrUnknownDirection = errors.New("unknown document direction")
)
