// Package swap implements the two-party cross-chain atomic swap state
// machine. It drives a
// SwapOffer from creation through funding, preimage propagation, and
// claim to a terminal Completed/Refunded/Failed/Expired state, consuming
// chainmonitor events and htlc scripts/witnesses along the way.
package swap

import (
	"time"

	"github.com/google/uuid"

	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/htlc"
)

// SafetyBuffer is the minimum gap between the initiator's and
// participant's locktimes: it
// guarantees the participant always has time to claim with a revealed
// preimage before the initiator's refund path opens.
const SafetyBuffer = 24 * time.Hour

// InitiatorFundingDeadline is how far before participant_locktime the
// initiator must have funded; past that point the offer auto-fails.
const InitiatorFundingDeadline = 48 * time.Hour

// ClaimRetrySafetyWindow is how far before initiator_locktime the
// coordinator gives up retrying a stuck claim transaction and transitions
// to Failed.
const ClaimRetrySafetyWindow = 6 * time.Hour

// Role distinguishes which side of a swap this coordinator instance is
// playing, since the two parties observe different chain legs and only
// the initiator ever holds the preimage.
type Role uint8

const (
	RoleInitiator Role = iota
	RoleParticipant
)

func (r Role) String() string {
	if r == RoleParticipant {
		return "participant"
	}
	return "initiator"
}

// SwapState is a swap's lifecycle state. ParticipantClaimed means the
// participant has claimed the initiator's HTLC (revealing the
// preimage); InitiatorClaimed means the initiator has broadcast their
// claim of the participant's HTLC using that preimage but it has not
// yet confirmed. The two are kept distinct from Completed so fee-bumped
// claim retries have somewhere to live before confirmation.
type SwapState uint8

const (
	OfferCreated SwapState = iota
	OfferAccepted
	ParticipantHtlcFunded
	InitiatorHtlcFunded
	ParticipantClaimed
	InitiatorClaimed
	Completed
	Refunded
	Failed
	Expired
)

func (s SwapState) String() string {
	switch s {
	case OfferCreated:
		return "OfferCreated"
	case OfferAccepted:
		return "OfferAccepted"
	case ParticipantHtlcFunded:
		return "ParticipantHtlcFunded"
	case InitiatorHtlcFunded:
		return "InitiatorHtlcFunded"
	case ParticipantClaimed:
		return "ParticipantClaimed"
	case InitiatorClaimed:
		return "InitiatorClaimed"
	case Completed:
		return "Completed"
	case Refunded:
		return "Refunded"
	case Failed:
		return "Failed"
	case Expired:
		return "Expired"
	default:
		return "Unknown"
	}
}

func (s SwapState) Terminal() bool {
	switch s {
	case Completed, Refunded, Failed, Expired:
		return true
	default:
		return false
	}
}

// SwapOffer is the cross-party-visible swap proposal. The
// preimage that PaymentHash commits to is never a field here — it is
// generated and held locally by the initiator's coordinator and
// transmitted only implicitly, by appearing in a claim transaction.
type SwapOffer struct {
	SwapID uuid.UUID

	InitiatorChain   chainmodel.ChainId
	ParticipantChain chainmodel.ChainId

	InitiatorAmount   uint64
	ParticipantAmount uint64

	PaymentHash   htlc.PaymentHash
	HashAlgorithm htlc.HashAlgorithm

	InitiatorPubkey   []byte
	ParticipantPubkey []byte // nil until AcceptOffer

	InitiatorLocktime   time.Time
	ParticipantLocktime time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Validate checks the amounts and the 24h safety-buffer invariant.
func (o SwapOffer) Validate() error {
	if o.InitiatorAmount == 0 || o.ParticipantAmount == 0 {
		return ErrInvalidOffer
	}
	if len(o.PaymentHash) == 0 {
		return ErrInvalidOffer
	}
	if o.InitiatorLocktime.Sub(o.ParticipantLocktime) < SafetyBuffer {
		return ErrInvalidOffer
	}
	if !o.ExpiresAt.After(o.CreatedAt) {
		return ErrInvalidOffer
	}
	return nil
}

// SwapInfo is the read view returned by get_swap_info/list_active, carrying the offer, current state and this
// coordinator's role.
type SwapInfo struct {
	Offer SwapOffer
	State SwapState
	Role  Role

	// FundingTxHash/Vout per leg, populated once observed.
	InitiatorFundingTx     chainmodel.Hash256
	InitiatorFundingVout   uint32
	ParticipantFundingTx   chainmodel.Hash256
	ParticipantFundingVout uint32

	// Preimage is populated once captured (initiator always has it from
	// offer creation; both roles learn it once revealed on-chain).
	Preimage *htlc.Preimage

	// ClaimTxHash is the initiator's most recent claim broadcast on the
	// participant chain; ClaimAttempts counts the original plus any
	// fee-bumped replacements.
	ClaimTxHash   chainmodel.Hash256
	ClaimAttempts uint32

	FailureReason string
	UpdatedAt     time.Time
}
