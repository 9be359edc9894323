package spv

import (
	"crypto/sha256"
	"testing"

	"github.com/intcoin/bridge/chainmodel"
	"github.com/stretchr/testify/require"
)

func leafHash(b byte) chainmodel.Hash256 {
	return chainmodel.Hash256(sha256.Sum256([]byte{b}))
}

// TestVerifyMerkleInclusion_FourLeaf exercises the worked example from the
// MerkleProof doc comment: 4 leaves, proving leaf index 2 (C).
func TestVerifyMerkleInclusion_FourLeaf(t *testing.T) {
	a, b, c, d := leafHash('A'), leafHash('B'), leafHash('C'), leafHash('D')

	ab := hashPair(a, b)
	cd := hashPair(c, d)
	root := hashPair(ab, cd)

	proof := MerkleProof{
		Siblings: []chainmodel.Hash256{d, ab},
		Index:    2,
	}

	require.True(t, VerifyMerkleInclusion(c, root, proof))
}

func TestVerifyMerkleInclusion_WrongRootFails(t *testing.T) {
	a, b := leafHash('A'), leafHash('B')
	root := hashPair(a, b)

	proof := MerkleProof{Siblings: []chainmodel.Hash256{b}, Index: 0}
	require.True(t, VerifyMerkleInclusion(a, root, proof))

	badProof := MerkleProof{Siblings: []chainmodel.Hash256{a}, Index: 0}
	require.False(t, VerifyMerkleInclusion(a, root, badProof))
}

func TestVerifyMerkleInclusion_AllIndices(t *testing.T) {
	leaves := []chainmodel.Hash256{leafHash('A'), leafHash('B'), leafHash('C'), leafHash('D')}
	l01 := hashPair(leaves[0], leaves[1])
	l23 := hashPair(leaves[2], leaves[3])
	root := hashPair(l01, l23)

	siblingsFor := [][]chainmodel.Hash256{
		{leaves[1], l23},
		{leaves[0], l23},
		{leaves[3], l01},
		{leaves[2], l01},
	}
	for idx, leaf := range leaves {
		proof := MerkleProof{Siblings: siblingsFor[idx], Index: uint32(idx)}
		require.Truef(t, VerifyMerkleInclusion(leaf, root, proof), "index %d", idx)
	}
}
