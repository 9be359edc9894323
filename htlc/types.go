// Package htlc builds Hash Time-Lock Contract scripts and spend-time
// witnesses for each chain the atomic swap coordinator and bridge can
// target, and provides the hash-algorithm abstraction a contract's
// payment_hash is defined over. The builders are table-driven per
// target chain and hash algorithm.
package htlc

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for BTC-compatible HASH160 contracts
	"golang.org/x/crypto/sha3"
)

// Preimage is 32 bytes of uniformly random entropy. Knowing it proves
// the right to claim an HTLC. A preimage must never be reused across
// swaps: PaymentHash collisions would let one claim unlock multiple
// contracts.
type Preimage [32]byte

// HashAlgorithm names the digest a contract's PaymentHash is computed
// under. The algorithm is part of the contract: using the wrong one at
// claim time silently produces the wrong hash, so callers must keep
// build-time and claim-time algorithm choice in sync.
type HashAlgorithm uint8

const (
	HashSHA256 HashAlgorithm = iota
	HashRIPEMD160
	HashSHA3256
)

func (a HashAlgorithm) String() string {
	switch a {
	case HashSHA256:
		return "SHA-256"
	case HashRIPEMD160:
		return "RIPEMD-160"
	case HashSHA3256:
		return "SHA3-256"
	default:
		return "unknown"
	}
}

// PaymentHash is H(preimage) under a contract's declared HashAlgorithm.
type PaymentHash []byte

// HashPreimage computes H(preimage) under the given algorithm.
func HashPreimage(preimage Preimage, algorithm HashAlgorithm) (PaymentHash, error) {
	switch algorithm {
	case HashSHA256:
		h := sha256.Sum256(preimage[:])
		return h[:], nil
	case HashRIPEMD160:
		h := ripemd160.New()
		if _, err := h.Write(preimage[:]); err != nil {
			return nil, fmt.Errorf("htlc: ripemd160 write: %w", err)
		}
		return h.Sum(nil), nil
	case HashSHA3256:
		h := sha3.Sum256(preimage[:])
		return h[:], nil
	default:
		return nil, fmt.Errorf("htlc: unknown hash algorithm %d", algorithm)
	}
}

// VerifyPreimage reports whether preimage hashes (under algorithm) to
// expected. The caller is responsible for using the same algorithm the
// contract was built with; a mismatched algorithm here simply produces a
// mismatched hash rather than an explicit error: algorithm consistency
// is the caller's job.
func VerifyPreimage(preimage Preimage, expected PaymentHash, algorithm HashAlgorithm) (bool, error) {
	got, err := HashPreimage(preimage, algorithm)
	if err != nil {
		return false, err
	}
	if len(got) != len(expected) {
		return false, nil
	}
	for i := range got {
		if got[i] != expected[i] {
			return false, nil
		}
	}
	return true, nil
}

// LocktimeKind distinguishes an absolute block-height locktime from an
// absolute Unix-time locktime.
type LocktimeKind uint8

const (
	LocktimeBlockHeight LocktimeKind = iota
	LocktimeUnixTime
)

// SignatureScheme selects the signature-verification opcode a contract's
// claim/refund paths check. Exactly one scheme is declared per contract
// (and, for the bridge, per bridge instance) rather than inferred.
type SignatureScheme uint8

const (
	SigSchemeECDSA SignatureScheme = iota
	SigSchemeDilithium
)

// HTLCContract describes a single hash-and-timelock spend condition: pay
// to RecipientPubkey if the claimant presents a preimage of PaymentHash,
// else return to RefundPubkey after Locktime.
type HTLCContract struct {
	RecipientPubkey []byte
	RefundPubkey    []byte
	PaymentHash     PaymentHash
	HashAlgorithm   HashAlgorithm
	Locktime        uint64
	LocktimeKind    LocktimeKind
	SignatureScheme SignatureScheme
}

// Script is an opaque, chain-specific locking script.
type Script []byte

// ClaimWitness is the spend-time data blob for the claim path:
// (preimage, recipient signature).
type ClaimWitness struct {
	Preimage  Preimage
	Signature []byte
}

// RefundWitness is the spend-time data blob for the refund path:
// (refund signature).
type RefundWitness struct {
	Signature []byte
}

// BuildClaimWitness produces the claim-path witness stack.
func BuildClaimWitness(preimage Preimage, sig []byte) ClaimWitness {
	return ClaimWitness{Preimage: preimage, Signature: sig}
}

// BuildRefundWitness produces the refund-path witness stack.
func BuildRefundWitness(sig []byte) RefundWitness {
	return RefundWitness{Signature: sig}
}

// DilithiumVerifier is a pluggable post-quantum signature verifier. The
// htlc package wires OP_CHECKDILITHIUMSIG into INTcoin scripts (design
// note (c)) but does not bundle an implementation: post-quantum
// signature verification is an external collaborator, same as remote
// chain consensus. This package only declares the interface; no
// function here accepts or calls an implementation.
type DilithiumVerifier interface {
	Verify(pubkey, message, signature []byte) (bool, error)
}
