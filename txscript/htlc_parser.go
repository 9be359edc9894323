// Package txscript provides INTcoin script parsing utilities for
// extracting parameters from hash time-locked contract scripts.
package txscript

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Opcodes the HTLC template is assembled from. Values match the
// Bitcoin script opcode space; OP_CHECKDILITHIUMSIG and OP_SHA3_256 are
// INTcoin extensions.
const (
	OP_IF                  byte = 0x63
	OP_ELSE                byte = 0x67
	OP_ENDIF               byte = 0x68
	OP_DROP                byte = 0x75
	OP_EQUALVERIFY         byte = 0x88
	OP_RIPEMD160           byte = 0xa6
	OP_SHA256              byte = 0xa8
	OP_CHECKSIG            byte = 0xac
	OP_CHECKDILITHIUMSIG   byte = 0xb0
	OP_CHECKLOCKTIMEVERIFY byte = 0xb1
	OP_SHA3_256            byte = 0xb2
)

// HTLCScriptParams contains extracted parameters from an HTLC locking
// script.
type HTLCScriptParams struct {
	HashOpcode      byte
	PaymentHash     []byte
	RecipientPubkey []byte
	SignatureOpcode byte
	Locktime        uint64
	RefundPubkey    []byte
}

// scriptReader walks a script byte stream, consuming opcodes and data
// pushes.
type scriptReader struct {
	script []byte
	pos    int
}

func (r *scriptReader) done() bool { return r.pos >= len(r.script) }

func (r *scriptReader) readOpcode() (byte, error) {
	if r.done() {
		return 0, errors.New("unexpected end of script")
	}
	op := r.script[r.pos]
	r.pos++
	return op, nil
}

// readPush consumes a data push. Direct pushes (0x01-0x4b length
// prefix), OP_PUSHDATA1 (0x4c) and small-integer opcodes (OP_1..OP_16)
// are supported; that covers every push the HTLC template emits.
func (r *scriptReader) readPush() ([]byte, error) {
	op, err := r.readOpcode()
	if err != nil {
		return nil, err
	}
	switch {
	case op >= 0x01 && op <= 0x4b:
		if r.pos+int(op) > len(r.script) {
			return nil, errors.New("push extends past end of script")
		}
		data := r.script[r.pos : r.pos+int(op)]
		r.pos += int(op)
		return data, nil
	case op == 0x4c: // OP_PUSHDATA1
		if r.done() {
			return nil, errors.New("truncated OP_PUSHDATA1")
		}
		n := int(r.script[r.pos])
		r.pos++
		if r.pos+n > len(r.script) {
			return nil, errors.New("push extends past end of script")
		}
		data := r.script[r.pos : r.pos+n]
		r.pos += n
		return data, nil
	case op == 0x00: // OP_0
		return nil, nil
	case op >= 0x51 && op <= 0x60: // OP_1..OP_16
		return []byte{op - 0x50}, nil
	default:
		return nil, fmt.Errorf("expected data push, found opcode 0x%02x", op)
	}
}

func (r *scriptReader) expectOpcode(want byte) error {
	op, err := r.readOpcode()
	if err != nil {
		return err
	}
	if op != want {
		return fmt.Errorf("expected opcode 0x%02x, found 0x%02x", want, op)
	}
	return nil
}

// ExtractHTLCParams parses an HTLC locking script of the form
//
//	OP_IF
//	  <hash_op> <payment_hash> OP_EQUALVERIFY
//	  <recipient_pubkey> <sig_op>
//	OP_ELSE
//	  <locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	  <refund_pubkey> <sig_op>
//	OP_ENDIF
//
// and returns its parameters. Both ECDSA (OP_CHECKSIG) and post-quantum
// (OP_CHECKDILITHIUMSIG) branches are recognized, as are all three hash
// opcodes.
func ExtractHTLCParams(script []byte) (*HTLCScriptParams, error) {
	r := &scriptReader{script: script}

	if err := r.expectOpcode(OP_IF); err != nil {
		return nil, fmt.Errorf("not an HTLC script: %v", err)
	}

	hashOp, err := r.readOpcode()
	if err != nil {
		return nil, err
	}
	switch hashOp {
	case OP_SHA256, OP_RIPEMD160, OP_SHA3_256:
	default:
		return nil, fmt.Errorf("unrecognized hash opcode 0x%02x", hashOp)
	}

	paymentHash, err := r.readPush()
	if err != nil {
		return nil, fmt.Errorf("invalid payment hash push: %v", err)
	}
	if len(paymentHash) != 32 && len(paymentHash) != 20 {
		return nil, fmt.Errorf("invalid payment hash length: expected 20 or 32, got %d", len(paymentHash))
	}

	if err := r.expectOpcode(OP_EQUALVERIFY); err != nil {
		return nil, err
	}

	recipient, err := r.readPush()
	if err != nil {
		return nil, fmt.Errorf("invalid recipient pubkey push: %v", err)
	}

	sigOp, err := r.readOpcode()
	if err != nil {
		return nil, err
	}
	if sigOp != OP_CHECKSIG && sigOp != OP_CHECKDILITHIUMSIG {
		return nil, fmt.Errorf("unrecognized signature opcode 0x%02x", sigOp)
	}

	if err := r.expectOpcode(OP_ELSE); err != nil {
		return nil, err
	}

	locktimeBytes, err := r.readPush()
	if err != nil {
		return nil, fmt.Errorf("invalid locktime push: %v", err)
	}
	locktime, err := decodeLocktime(locktimeBytes)
	if err != nil {
		return nil, err
	}

	if err := r.expectOpcode(OP_CHECKLOCKTIMEVERIFY); err != nil {
		return nil, err
	}
	if err := r.expectOpcode(OP_DROP); err != nil {
		return nil, err
	}

	refund, err := r.readPush()
	if err != nil {
		return nil, fmt.Errorf("invalid refund pubkey push: %v", err)
	}

	refundSigOp, err := r.readOpcode()
	if err != nil {
		return nil, err
	}
	if refundSigOp != sigOp {
		return nil, fmt.Errorf("claim and refund signature opcodes differ: 0x%02x vs 0x%02x", sigOp, refundSigOp)
	}

	if err := r.expectOpcode(OP_ENDIF); err != nil {
		return nil, err
	}
	if !r.done() {
		return nil, fmt.Errorf("%d trailing bytes after OP_ENDIF", len(script)-r.pos)
	}

	return &HTLCScriptParams{
		HashOpcode:      hashOp,
		PaymentHash:     paymentHash,
		RecipientPubkey: recipient,
		SignatureOpcode: sigOp,
		Locktime:        locktime,
		RefundPubkey:    refund,
	}, nil
}

// decodeLocktime accepts either the 8-byte little-endian push INTcoin
// scripts use or the minimally-encoded script number a
// txscript.ScriptBuilder emits for BTC-family scripts.
func decodeLocktime(b []byte) (uint64, error) {
	switch {
	case len(b) == 0:
		return 0, nil
	case len(b) == 8:
		return binary.LittleEndian.Uint64(b), nil
	case len(b) <= 8:
		var v uint64
		for i, by := range b {
			v |= uint64(by) << (8 * i)
		}
		// Script numbers carry the sign in the high bit of the last
		// byte; locktimes are never negative.
		if b[len(b)-1]&0x80 != 0 {
			return 0, errors.New("negative locktime")
		}
		return v, nil
	default:
		return 0, fmt.Errorf("invalid locktime length: expected at most 8 bytes, got %d", len(b))
	}
}

// ExtractClaimWitness extracts the preimage and recipient signature from
// a claim-path witness: [preimage] [signature] [1].
func ExtractClaimWitness(witness [][]byte) (preimage, signature []byte, err error) {
	if len(witness) < 2 {
		return nil, nil, errors.New("insufficient witness items for claim")
	}
	preimage = witness[0]
	if len(preimage) != 32 {
		return nil, nil, fmt.Errorf("invalid preimage length: expected 32, got %d", len(preimage))
	}
	signature = witness[1]
	if len(signature) == 0 {
		return nil, nil, errors.New("empty claim signature")
	}
	return preimage, signature, nil
}

// ExtractRefundWitness extracts the refund signature from a refund-path
// witness: [signature] [0].
func ExtractRefundWitness(witness [][]byte) ([]byte, error) {
	if len(witness) < 1 {
		return nil, errors.New("insufficient witness items for refund")
	}
	if len(witness[0]) == 0 {
		return nil, errors.New("empty refund signature")
	}
	return witness[0], nil
}

// DetectHTLCOpcode scans a script for the INTcoin-specific opcodes the
// HTLC layer can emit, reporting the first one found.
func DetectHTLCOpcode(script []byte) (byte, bool) {
	htlcOpcodes := []byte{
		OP_CHECKDILITHIUMSIG,
		OP_SHA3_256,
		OP_CHECKLOCKTIMEVERIFY,
	}

	for _, opcode := range htlcOpcodes {
		for _, scriptByte := range script {
			if scriptByte == opcode {
				return opcode, true
			}
		}
	}

	return 0, false
}
