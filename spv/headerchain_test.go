package spv

import (
	"testing"
	"time"

	"github.com/intcoin/bridge/chainmodel"
	"github.com/stretchr/testify/require"
)

// easyBits is a compact target that accepts almost any hash, so tests
// don't need to grind proof-of-work.
const easyBits = 0x207fffff

// grind increments the nonce until the header's hash satisfies its own
// compact target; with easyBits this takes a couple of tries.
func grind(h BlockHeader) BlockHeader {
	for !powHashLEQTarget(h.Hash(), h.Bits) {
		h.Nonce++
	}
	return h
}

func mkGenesis() BlockHeader {
	return grind(BlockHeader{
		Version:    1,
		Timestamp:  time.Now().Add(-24 * time.Hour),
		Bits:       easyBits,
		Height:     0,
		MerkleRoot: chainmodel.Hash256{0xaa},
	})
}

func extend(prev BlockHeader, n int) []BlockHeader {
	return extendSalted(prev, n, 0)
}

// extendSalted builds a linked, PoW-valid chain of n headers on top of
// prev; salt differentiates otherwise-identical forks.
func extendSalted(prev BlockHeader, n int, salt byte) []BlockHeader {
	out := make([]BlockHeader, 0, n)
	cur := prev
	for i := 0; i < n; i++ {
		h := grind(BlockHeader{
			Version:    1,
			PrevHash:   cur.Hash(),
			MerkleRoot: chainmodel.Hash256{salt, byte(i + 1), byte(i >> 8)},
			Timestamp:  cur.Timestamp.Add(10 * time.Minute),
			Bits:       easyBits,
		})
		out = append(out, h)
		cur = h
	}
	return out
}

func TestSubmitHeaders_ExtendsTip(t *testing.T) {
	genesis := mkGenesis()
	hc := NewHeaderChain(chainmodel.ChainBitcoin, genesis)

	batch := extend(genesis, 5)
	require.NoError(t, hc.SubmitHeaders(batch))

	tip := hc.Tip()
	require.Equal(t, batch[len(batch)-1].Hash(), tip.Hash())
	require.EqualValues(t, 5, tip.Height)
}

func TestSubmitHeaders_RejectsBrokenLinkage(t *testing.T) {
	genesis := mkGenesis()
	hc := NewHeaderChain(chainmodel.ChainBitcoin, genesis)

	batch := extend(genesis, 3)
	batch[2].PrevHash = chainmodel.Hash256{0xff} // break linkage
	require.Error(t, hc.SubmitHeaders(batch))

	// Rejected batch must not have partially applied.
	require.Equal(t, genesis.Hash(), hc.Tip().Hash())
}

func TestSubmitHeaders_RejectsUnconnectedFirstHeader(t *testing.T) {
	genesis := mkGenesis()
	hc := NewHeaderChain(chainmodel.ChainBitcoin, genesis)

	orphan := BlockHeader{
		Version:    1,
		PrevHash:   chainmodel.Hash256{0x01, 0x02},
		MerkleRoot: chainmodel.Hash256{0x03},
		Timestamp:  time.Now(),
		Bits:       easyBits,
	}
	require.Error(t, hc.SubmitHeaders([]BlockHeader{orphan}))
}

func TestSubmitHeaders_RejectsFutureTimestamp(t *testing.T) {
	genesis := mkGenesis()
	hc := NewHeaderChain(chainmodel.ChainBitcoin, genesis)

	batch := extend(genesis, 1)
	batch[0].Timestamp = time.Now().Add(3 * time.Hour)
	require.Error(t, hc.SubmitHeaders(batch))
}

func TestAddCheckpoint_ConflictRejected(t *testing.T) {
	genesis := mkGenesis()
	hc := NewHeaderChain(chainmodel.ChainBitcoin, genesis)

	h1 := chainmodel.Hash256{0x01}
	h2 := chainmodel.Hash256{0x02}
	require.NoError(t, hc.AddCheckpoint(100, h1))
	require.NoError(t, hc.AddCheckpoint(100, h1)) // idempotent re-add ok
	require.Error(t, hc.AddCheckpoint(100, h2))   // conflicting hash rejected
}

func TestReorgAtExactMaxDepthAccepted(t *testing.T) {
	genesis := mkGenesis()
	hc := NewHeaderChain(chainmodel.ChainBitcoin, genesis)

	// Current best chain puts the fork point (genesis) exactly
	// MaxReorgDepth behind the tip.
	mainBatch := extend(genesis, MaxReorgDepth)
	require.NoError(t, hc.SubmitHeaders(mainBatch))

	// A longer fork from genesis has more work and a fork depth of
	// exactly MaxReorgDepth: accepted, and the tip switches.
	forkBatch := extendSalted(genesis, MaxReorgDepth+1, 0xDD)
	require.NoError(t, hc.SubmitHeaders(forkBatch))
	require.Equal(t, uint64(MaxReorgDepth+1), hc.Tip().Height)
}

func TestReorgDepthBoundary(t *testing.T) {
	genesis := mkGenesis()
	hc := NewHeaderChain(chainmodel.ChainBitcoin, genesis)

	// Build the current best chain out far enough that a fork at genesis
	// sits MaxReorgDepth+5 blocks behind the tip, past the reorg limit.
	mainBatch := extend(genesis, MaxReorgDepth+5)
	require.NoError(t, hc.SubmitHeaders(mainBatch))

	// A fork from genesis with more work must be rejected: depth from tip
	// to genesis is MaxReorgDepth+5 > MaxReorgDepth.
	forkBatch := extendSalted(genesis, MaxReorgDepth+10, 0xEE)
	require.Error(t, hc.SubmitHeaders(forkBatch))
}
