// Package bridge implements the custody-free wrapped-token bridge:
// deposit-proof verification, the wrapped-token mint/burn ledger, and
// M-of-N validator threshold signing for withdrawals.
package bridge

import (
	"time"

	"github.com/google/uuid"
	"github.com/intcoin/bridge/chainmodel"
)

// WrappedToken is a 1:1 on-INTcoin representation of a native asset
// locked on another chain. Identity is Symbol (unique per bridge
// instance).
type WrappedToken struct {
	Symbol      string
	OriginChain chainmodel.ChainId
	Decimals    uint8

	// TotalSupply is derived state: Σ(consumed deposits) − Σ(requested
	// withdrawals that have not expired), since a withdrawal burns at
	// request time and an expiry refunds it. The ledger, not callers,
	// mutates it.
	TotalSupply uint64
}

// DepositProof attests a deposit observed on a remote chain, signed by a
// quorum of validators.
type DepositProof struct {
	ProofID            uuid.UUID
	SourceTxHash       chainmodel.Hash256
	SourceChain        chainmodel.ChainId
	BlockNumber        uint64
	Depositor          []byte
	RecipientOnIntcoin []byte
	Amount             uint64
	Token              string // WrappedToken symbol
	ValidatorSigs      []ValidatorSignature

	Consumed  bool
	CreatedAt time.Time
}

// ValidatorSignature pairs a signature with the validator public key
// that produced it, so duplicate signers and deactivated validators can
// be identified and excluded from a quorum count.
type ValidatorSignature struct {
	ValidatorPubkey []byte
	Signature       []byte
}

// WithdrawalStatus is the lifecycle state of a WithdrawalRequest.
type WithdrawalStatus uint8

const (
	WithdrawalPending WithdrawalStatus = iota
	WithdrawalValidated
	WithdrawalExecuted
	WithdrawalExpired
)

func (s WithdrawalStatus) String() string {
	switch s {
	case WithdrawalPending:
		return "Pending"
	case WithdrawalValidated:
		return "Validated"
	case WithdrawalExecuted:
		return "Executed"
	case WithdrawalExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// WithdrawalRequest is a user-initiated burn of wrapped tokens pending
// validator co-signature before the native asset is released on the
// target chain.
type WithdrawalRequest struct {
	WithdrawalID uuid.UUID
	Requester    []byte
	Destination  []byte
	Amount       uint64
	Token        string
	BridgeFee    uint64

	Status        WithdrawalStatus
	ValidatorSigs []ValidatorSignature
	TargetTxHash  chainmodel.Hash256

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Validator is a member of the bridge's signing federation. Identity is
// PublicKey.
type Validator struct {
	PublicKey       []byte
	Address         []byte
	Stake           uint64
	Active          bool
	JoinedAt        time.Time
	Reputation      uint32
	SignaturesCount uint64
}

func pubkeyKey(pubkey []byte) string { return string(pubkey) }
