package htlc

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/intcoin/bridge/chainmodel"
)

// BuildHTLCScript emits a locking script for contract, encoded for
// targetChain. Spend paths are identical across chains in meaning: claim with (preimage, recipient signature) if H(preimage) ==
// payment_hash, else refund with (refund signature) once locktime has
// passed. Encoding is table-driven per chain.
func BuildHTLCScript(contract HTLCContract, targetChain chainmodel.ChainId) (Script, error) {
	switch targetChain.Mainnet() {
	case chainmodel.ChainBitcoin, chainmodel.ChainLitecoin:
		return buildBTCFamilyScript(contract)
	case chainmodel.ChainIntcoin:
		return buildIntcoinScript(contract)
	case chainmodel.ChainEthereum:
		return buildEthereumCalldata(contract)
	default:
		return nil, fmt.Errorf("htlc: unsupported target chain %s", targetChain)
	}
}

// buildBTCFamilyScript builds the standard hashlock+timelock P2SH/P2WSH
// pattern shared by Bitcoin and Litecoin:
//
//	OP_IF
//	  OP_SHA256/OP_RIPEMD160 <payment_hash> OP_EQUALVERIFY
//	  <recipient_pubkey> OP_CHECKSIG
//	OP_ELSE
//	  <locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	  <refund_pubkey> OP_CHECKSIG
//	OP_ENDIF
func buildBTCFamilyScript(c HTLCContract) (Script, error) {
	if c.SignatureScheme != SigSchemeECDSA {
		return nil, fmt.Errorf("htlc: %s family only supports ECDSA signatures", "bitcoin/litecoin")
	}

	hashOp, err := btcFamilyHashOp(c.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_IF)
	b.AddOp(hashOp)
	b.AddData(c.PaymentHash)
	b.AddOp(txscript.OP_EQUALVERIFY)
	b.AddData(c.RecipientPubkey)
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_ELSE)
	b.AddInt64(int64(c.Locktime))
	b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(c.RefundPubkey)
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_ENDIF)

	script, err := b.Script()
	if err != nil {
		return nil, fmt.Errorf("htlc: build BTC-family script: %w", err)
	}
	return script, nil
}

func btcFamilyHashOp(algo HashAlgorithm) (byte, error) {
	switch algo {
	case HashSHA256:
		return txscript.OP_SHA256, nil
	case HashRIPEMD160:
		return txscript.OP_RIPEMD160, nil
	default:
		return 0, fmt.Errorf("htlc: bitcoin/litecoin scripts do not support hash algorithm %s", algo)
	}
}

// intcoinOpcode covers the handful of opcodes INTcoin HTLC scripts are
// built from, plus the post-quantum signature-check substitute. INTcoin
// scripts are assembled directly from a minimal opcode stream; the
// local txscript package carries the matching parser.
type intcoinOpcode = byte

const (
	opIF                  intcoinOpcode = 0x63
	opELSE                intcoinOpcode = 0x67
	opENDIF               intcoinOpcode = 0x68
	opEQUALVERIFY         intcoinOpcode = 0x88
	opDROP                intcoinOpcode = 0x75
	opCHECKSIG            intcoinOpcode = 0xac
	opCHECKDILITHIUMSIG   intcoinOpcode = 0xb0 // custom INTcoin opcode
	opCHECKLOCKTIMEVERIFY intcoinOpcode = 0xb1
	opSHA256              intcoinOpcode = 0xa8
	opRIPEMD160           intcoinOpcode = 0xa6
	opSHA3_256            intcoinOpcode = 0xb2 // INTcoin extension: third hash taxonomy member
)

func buildIntcoinScript(c HTLCContract) (Script, error) {
	var hashOp intcoinOpcode
	switch c.HashAlgorithm {
	case HashSHA256:
		hashOp = opSHA256
	case HashRIPEMD160:
		hashOp = opRIPEMD160
	case HashSHA3256:
		hashOp = opSHA3_256
	default:
		return nil, fmt.Errorf("htlc: unknown hash algorithm %s", c.HashAlgorithm)
	}

	sigOp := opCHECKSIG
	if c.SignatureScheme == SigSchemeDilithium {
		sigOp = opCHECKDILITHIUMSIG
	}

	var s []byte
	s = append(s, opIF)
	s = append(s, hashOp)
	s = append(s, pushData(c.PaymentHash)...)
	s = append(s, opEQUALVERIFY)
	s = append(s, pushData(c.RecipientPubkey)...)
	s = append(s, sigOp)
	s = append(s, opELSE)
	s = append(s, pushInt(c.Locktime)...)
	s = append(s, opCHECKLOCKTIMEVERIFY)
	s = append(s, opDROP)
	s = append(s, pushData(c.RefundPubkey)...)
	s = append(s, sigOp)
	s = append(s, opENDIF)
	return s, nil
}

// pushData emits a minimal-push data element: a single length byte
// (preceded by OP_PUSHDATA1 above 75 bytes) followed by the bytes,
// sufficient for the <220-byte pushes HTLC scripts use (pubkeys, hashes).
func pushData(data []byte) []byte {
	if len(data) > 255 {
		// Scripts in this design never push data this large; callers
		// pass pubkeys and hashes only.
		data = data[:255]
	}
	out := make([]byte, 0, len(data)+2)
	if len(data) > 0x4b {
		out = append(out, 0x4c) // OP_PUSHDATA1
	}
	out = append(out, byte(len(data)))
	out = append(out, data...)
	return out
}

// pushInt emits an 8-byte little-endian push of a locktime value.
func pushInt(v uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = 8
	for i := 0; i < 8; i++ {
		buf[i+1] = byte(v >> (8 * i))
	}
	return buf
}

// buildEthereumCalldata produces ABI-encoded calldata for a reference
// HTLC contract's constructor-equivalent parameters. Ethereum HTLCs are
// smart-contract based rather than script based: the "script" here is
// the calldata a deployer/caller sends, consumed by chainmonitor's
// Ethereum implementation via go-ethereum's ethclient.
func buildEthereumCalldata(c HTLCContract) (Script, error) {
	if c.SignatureScheme != SigSchemeECDSA {
		return nil, fmt.Errorf("htlc: ethereum HTLCs use ECDSA-recoverable signatures only")
	}
	if c.HashAlgorithm != HashSHA256 {
		return nil, fmt.Errorf("htlc: ethereum HTLCs use SHA-256 payment hashes only")
	}

	// function newHTLC(bytes32 paymentHash, address recipient, address
	// refund, uint256 locktime) selector, computed offline (keccak256 of
	// the signature's first 4 bytes) to avoid depending on an ABI/keccak
	// dependency just for a fixed selector.
	selector := []byte{0x2f, 0x71, 0x3a, 0x9c}

	var calldata []byte
	calldata = append(calldata, selector...)
	calldata = append(calldata, leftPad32(c.PaymentHash)...)
	calldata = append(calldata, leftPad32(c.RecipientPubkey)...)
	calldata = append(calldata, leftPad32(c.RefundPubkey)...)
	calldata = append(calldata, leftPad32(uint64ToBytes(c.Locktime))...)
	return calldata, nil
}

func leftPad32(b []byte) []byte {
	out := make([]byte, 32)
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}

func uint64ToBytes(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(v >> (8 * i))
	}
	return buf
}
