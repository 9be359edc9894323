package bridge

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// MuSig2Verifier checks a single aggregated BIP-340 signature against
// an aggregate public key, for SignatureSchemeMuSig2 instances: the
// quorum signs jointly off-band (see crypto/musig2) and submits one
// signature verified once against pubkey, the aggregate key of the
// signing subset, rather than N independent signatures.
type MuSig2Verifier struct{}

func (MuSig2Verifier) Verify(pubkey, message, signature []byte) bool {
	pk, err := schnorr.ParsePubKey(pubkey)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pk)
}
