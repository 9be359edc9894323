package bridge

import "errors"

// Sentinel errors. Semantic errors (everything except transient I/O,
// which this package does not itself perform) are surfaced to the
// caller verbatim via errors.Is, never retried.
var (
	// ErrPaused is returned by token registration, deposit-proof
	// submission, minting, and withdrawal request, signing and execution
	// while the bridge is under emergency pause. Validator additions and
	// removals are not blocked.
	ErrPaused = errors.New("bridge: paused")

	// ErrQuorumNotMet indicates an operation needs more validator
	// signatures; this is a status, not a failure.
	ErrQuorumNotMet = errors.New("bridge: quorum not met")

	// ErrInsufficientBalance is returned synchronously by withdrawal
	// requests that exceed the requester's balance.
	ErrInsufficientBalance = errors.New("bridge: insufficient balance")

	// ErrExpired is returned for withdrawals signed or executed past
	// their expiry.
	ErrExpired = errors.New("bridge: expired")

	// ErrProofInvalid is returned for deposit proofs that fail signature,
	// quorum, replay, or token-registration checks. Never retried.
	ErrProofInvalid = errors.New("bridge: proof invalid")

	// ErrInvariantViolation indicates an internal bug such as a detected
	// supply mismatch; callers should treat this as fatal.
	ErrInvariantViolation = errors.New("bridge: invariant violation")

	// ErrTokenNotRegistered is returned when an operation references an
	// unregistered wrapped-token symbol.
	ErrTokenNotRegistered = errors.New("bridge: token not registered")

	// ErrTokenAlreadyRegistered is returned by RegisterWrappedToken for a
	// symbol already in use.
	ErrTokenAlreadyRegistered = errors.New("bridge: token already registered")

	// ErrDuplicateProof is returned when a DepositProof's source
	// transaction hash has already been submitted (replay protection).
	ErrDuplicateProof = errors.New("bridge: duplicate deposit proof")

	// ErrValidatorNotActive is returned when a signature comes from an
	// unknown or deactivated validator.
	ErrValidatorNotActive = errors.New("bridge: validator not active")

	// ErrWithdrawalNotFound/ErrProofNotFound cover unknown identifiers.
	ErrWithdrawalNotFound = errors.New("bridge: withdrawal not found")
	ErrProofNotFound      = errors.New("bridge: proof not found")
)
