package bridge

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// ECDSAVerifier checks each signer's signature independently against the
// secp256k1 curve, the default scheme (SignatureSchemeECDSA) per design
// note (c). Every validator and requester signature in this package is a
// DER-encoded ECDSA signature over the SHA-256 digest of the message.
type ECDSAVerifier struct{}

func (ECDSAVerifier) Verify(pubkey, message, signature []byte) bool {
	pk, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pk)
}
