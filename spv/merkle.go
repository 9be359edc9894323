package spv

import (
	"crypto/sha256"
	"fmt"

	"github.com/intcoin/bridge/chainmodel"
)

// MerkleProof is an ordered sequence of sibling hashes plus the leaf's
// 0-based index, verifiable against a known merkle root.
// Bit-order convention:
// at level i, bit i of Index selects which side the *proof's* sibling
// sits on relative to the hash computed so far — 0 means the sibling is
// on the right (our running hash is the left operand), 1 means the
// sibling is on the left. This is the standard Bitcoin/BIP37 merkle
// branch convention. Worked example for a 4-leaf tree with leaves
// [A B C D], index=2 (leaf C):
//
//	proof = [D, H(A,B)]
//	level 0: bit0(2) = 0 -> left=C,  right=D       -> H(C,D)
//	level 1: bit1(2) = 1 -> left=H(A,B), right=H(C,D) -> root
type MerkleProof struct {
	Siblings []chainmodel.Hash256
	Index    uint32
}

// VerifyMerkleInclusion recomputes the merkle root from a leaf hash and
// its proof, and reports whether it matches the given root.
func VerifyMerkleInclusion(leaf chainmodel.Hash256, root chainmodel.Hash256, proof MerkleProof) bool {
	computed := leaf
	idx := proof.Index
	for _, sibling := range proof.Siblings {
		if idx&1 == 0 {
			computed = hashPair(computed, sibling)
		} else {
			computed = hashPair(sibling, computed)
		}
		idx >>= 1
	}
	return computed == root
}

func hashPair(left, right chainmodel.Hash256) chainmodel.Hash256 {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	first := sha256.Sum256(buf[:])
	second := sha256.Sum256(first[:])
	return chainmodel.Hash256(second)
}

// VerifyTransactionInclusion is the HeaderChain-bound convenience form of
// VerifyMerkleInclusion used by callers (the bridge engine, the swap
// coordinator) that only have a block hash, not the header's merkle root,
// in hand. It returns an error (rather than false) when the block itself
// is unknown, so the caller can distinguish "proof is wrong" from
// "we don't have this header yet".
func (hc *HeaderChain) VerifyTransactionInclusion(txHash, blockHash chainmodel.Hash256, proof MerkleProof) (bool, error) {
	header, ok := hc.GetHeader(blockHash)
	if !ok {
		return false, fmt.Errorf("spv: unknown block header %s", blockHash)
	}
	return VerifyMerkleInclusion(txHash, header.MerkleRoot, proof), nil
}
