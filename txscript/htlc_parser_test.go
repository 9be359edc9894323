package txscript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestHTLCScript(hashOp byte, paymentHash []byte, recipient []byte, sigOp byte, locktime []byte, refund []byte) []byte {
	var s []byte
	s = append(s, OP_IF, hashOp, byte(len(paymentHash)))
	s = append(s, paymentHash...)
	s = append(s, OP_EQUALVERIFY, byte(len(recipient)))
	s = append(s, recipient...)
	s = append(s, sigOp, OP_ELSE, byte(len(locktime)))
	s = append(s, locktime...)
	s = append(s, OP_CHECKLOCKTIMEVERIFY, OP_DROP, byte(len(refund)))
	s = append(s, refund...)
	s = append(s, sigOp, OP_ENDIF)
	return s
}

func TestExtractHTLCParams_Roundtrip(t *testing.T) {
	paymentHash := make([]byte, 32)
	for i := range paymentHash {
		paymentHash[i] = byte(i)
	}
	recipient := make([]byte, 33)
	recipient[0] = 0x02
	refund := make([]byte, 33)
	refund[0] = 0x03
	locktime := []byte{0x40, 0xe2, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00} // 123456

	script := buildTestHTLCScript(OP_SHA256, paymentHash, recipient, OP_CHECKSIG, locktime, refund)

	params, err := ExtractHTLCParams(script)
	require.NoError(t, err)
	require.Equal(t, byte(OP_SHA256), params.HashOpcode)
	require.Equal(t, paymentHash, params.PaymentHash)
	require.Equal(t, recipient, params.RecipientPubkey)
	require.Equal(t, refund, params.RefundPubkey)
	require.Equal(t, uint64(123456), params.Locktime)
	require.Equal(t, byte(OP_CHECKSIG), params.SignatureOpcode)
}

func TestExtractHTLCParams_DilithiumBranch(t *testing.T) {
	paymentHash := make([]byte, 32)
	recipient := make([]byte, 33)
	refund := make([]byte, 33)
	locktime := []byte{0x01}

	script := buildTestHTLCScript(OP_SHA3_256, paymentHash, recipient, OP_CHECKDILITHIUMSIG, locktime, refund)

	params, err := ExtractHTLCParams(script)
	require.NoError(t, err)
	require.Equal(t, byte(OP_SHA3_256), params.HashOpcode)
	require.Equal(t, byte(OP_CHECKDILITHIUMSIG), params.SignatureOpcode)
	require.Equal(t, uint64(1), params.Locktime)
}

func TestExtractHTLCParams_MinimalScriptNumLocktime(t *testing.T) {
	paymentHash := make([]byte, 20) // RIPEMD-160 sized
	recipient := make([]byte, 33)
	refund := make([]byte, 33)
	locktime := []byte{0x00, 0xca, 0x9a, 0x3b} // 1_000_000_000 minimally encoded

	script := buildTestHTLCScript(OP_RIPEMD160, paymentHash, recipient, OP_CHECKSIG, locktime, refund)

	params, err := ExtractHTLCParams(script)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000_000), params.Locktime)
	require.Len(t, params.PaymentHash, 20)
}

func TestExtractHTLCParams_RejectsNonHTLC(t *testing.T) {
	_, err := ExtractHTLCParams([]byte{0x76, 0xa9, 0x14}) // P2PKH prefix
	require.Error(t, err)

	_, err = ExtractHTLCParams(nil)
	require.Error(t, err)
}

func TestExtractHTLCParams_RejectsTruncated(t *testing.T) {
	paymentHash := make([]byte, 32)
	recipient := make([]byte, 33)
	refund := make([]byte, 33)
	script := buildTestHTLCScript(OP_SHA256, paymentHash, recipient, OP_CHECKSIG, []byte{0x01}, refund)

	_, err := ExtractHTLCParams(script[:len(script)-1])
	require.Error(t, err)
}

func TestExtractHTLCParams_RejectsMismatchedSigOpcodes(t *testing.T) {
	paymentHash := make([]byte, 32)
	recipient := make([]byte, 33)
	refund := make([]byte, 33)
	script := buildTestHTLCScript(OP_SHA256, paymentHash, recipient, OP_CHECKSIG, []byte{0x01}, refund)
	script[len(script)-2] = OP_CHECKDILITHIUMSIG

	_, err := ExtractHTLCParams(script)
	require.Error(t, err)
}

func TestExtractClaimWitness(t *testing.T) {
	preimage := make([]byte, 32)
	sig := []byte{0x30, 0x44}

	p, s, err := ExtractClaimWitness([][]byte{preimage, sig, {0x01}})
	require.NoError(t, err)
	require.Equal(t, preimage, p)
	require.Equal(t, sig, s)

	_, _, err = ExtractClaimWitness([][]byte{preimage})
	require.Error(t, err)

	_, _, err = ExtractClaimWitness([][]byte{preimage[:31], sig})
	require.Error(t, err)
}

func TestExtractRefundWitness(t *testing.T) {
	sig := []byte{0x30, 0x44}
	got, err := ExtractRefundWitness([][]byte{sig, {}})
	require.NoError(t, err)
	require.Equal(t, sig, got)

	_, err = ExtractRefundWitness(nil)
	require.Error(t, err)
}

func TestDetectHTLCOpcode(t *testing.T) {
	op, found := DetectHTLCOpcode([]byte{0x51, OP_CHECKDILITHIUMSIG})
	require.True(t, found)
	require.Equal(t, byte(OP_CHECKDILITHIUMSIG), op)

	_, found = DetectHTLCOpcode([]byte{0x51, 0x52})
	require.False(t, found)
}
