package swap

import "errors"

// Sentinel errors, surfaced verbatim to RPC callers via errors.Is.
var (
	ErrSwapNotFound       = errors.New("swap: not found")
	ErrInvalidOffer       = errors.New("swap: invalid offer")
	ErrInvalidState       = errors.New("swap: operation not valid in current state")
	ErrExpired            = errors.New("swap: expired")
	ErrInvariantViolation = errors.New("swap: invariant violation")
	ErrUnrecoverable      = errors.New("swap: unrecoverable, manual intervention required")
)
