package spv

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/intcoin/bridge/chainmodel"
)

// chainNode is the header plus its derived, cached chain-level metadata.
type chainNode struct {
	header BlockHeader
	work   *big.Int // cumulative work of the chain ending at this header
}

// HeaderChain holds the best known header chain for a single remote (or
// local INTcoin) chain, validates new headers as they arrive, and answers
// merkle-inclusion queries against accepted headers. Header acceptance is
// serialized under a single mutex, so no two reorgs ever interleave;
// read-mostly lookups use the same lock since the header set is small
// enough that RWMutex contention isn't a concern in practice.
type HeaderChain struct {
	mu sync.RWMutex

	chain    chainmodel.ChainId
	nodes    map[chainmodel.Hash256]*chainNode
	byHeight map[uint64]chainmodel.Hash256
	tip      chainmodel.Hash256
	genesis  chainmodel.Hash256

	checkpoints map[uint64]chainmodel.Hash256

	persister Persister
}

// NewHeaderChain creates an empty header chain seeded with a known
// genesis/checkpoint header for the given remote chain.
func NewHeaderChain(chain chainmodel.ChainId, genesis BlockHeader) *HeaderChain {
	hc := &HeaderChain{
		chain:       chain,
		nodes:       make(map[chainmodel.Hash256]*chainNode),
		byHeight:    make(map[uint64]chainmodel.Hash256),
		checkpoints: make(map[uint64]chainmodel.Hash256),
	}
	h := genesis.Hash()
	hc.nodes[h] = &chainNode{header: genesis, work: calcWork(genesis.Bits)}
	hc.byHeight[genesis.Height] = h
	hc.tip = h
	hc.genesis = h
	return hc
}

// AddCheckpoint registers a hardcoded (height, hash) pair that any future
// header at that height must match regardless of work. Adding a
// checkpoint that conflicts with an existing one at the same height
// fails.
func (hc *HeaderChain) AddCheckpoint(height uint64, hash chainmodel.Hash256) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if existing, ok := hc.checkpoints[height]; ok && existing != hash {
		return fmt.Errorf("spv: checkpoint conflict at height %d: have %s, got %s", height, existing, hash)
	}
	hc.checkpoints[height] = hash
	return nil
}

// SubmitHeaders appends a sequence of headers to the chain. The whole
// batch is rejected if the first header does not connect to a known
// header, any header's PoW fails its own target, any timestamp is too
// far in the future, or the batch's internal linkage is broken. On
// acceptance, the batch extends or replaces the best chain per the
// reorg policy.
func (hc *HeaderChain) SubmitHeaders(headers []BlockHeader) error {
	if len(headers) == 0 {
		return fmt.Errorf("spv: empty header batch")
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()

	now := time.Now()

	// Validate internal linkage and per-header PoW/timestamp shape before
	// touching any state, so a bad batch never partially applies.
	first := headers[0]
	parent, ok := hc.nodes[first.PrevHash]
	if !ok {
		return fmt.Errorf("spv: first header does not connect to a known tip (prev %s)", first.PrevHash)
	}
	for i, h := range headers {
		if err := validateHeaderShape(h, now); err != nil {
			return fmt.Errorf("spv: header %d: %w", i, err)
		}
		if i > 0 && h.PrevHash != headers[i-1].Hash() {
			return fmt.Errorf("spv: header %d does not chain from header %d", i, i-1)
		}
	}

	// Build the candidate extension and check checkpoints along the way.
	candidateWork := new(big.Int).Set(parent.work)
	height := parent.header.Height
	candidateNodes := make([]*chainNode, 0, len(headers))
	for _, h := range headers {
		height++
		hCopy := h
		hCopy.Height = height
		hash := hCopy.Hash()

		if cpHash, ok := hc.checkpoints[height]; ok && cpHash != hash {
			return fmt.Errorf("spv: header at height %d fails checkpoint (want %s, got %s)", height, cpHash, hash)
		}

		candidateWork = new(big.Int).Add(candidateWork, calcWork(hCopy.Bits))
		candidateNodes = append(candidateNodes, &chainNode{header: hCopy, work: new(big.Int).Set(candidateWork)})
	}

	currentTip := hc.nodes[hc.tip]

	// Find the fork point between the candidate and the current best
	// chain by walking back from the parent.
	forkDepth, err := hc.distanceFromTip(first.PrevHash)
	if err != nil {
		return fmt.Errorf("spv: cannot evaluate fork depth: %w", err)
	}
	if forkDepth > MaxReorgDepth {
		return fmt.Errorf("spv: candidate fork point is %d blocks behind tip, exceeds max reorg depth %d", forkDepth, MaxReorgDepth)
	}

	// Always store the new nodes so later batches building on top of them
	// (e.g. a deeper but not-yet-winning fork) can still be validated.
	for _, n := range candidateNodes {
		hash := n.header.Hash()
		hc.nodes[hash] = n
	}

	// Switch the best chain only if candidate has strictly more work than
	// the current tip; equal work keeps the current chain.
	if candidateWork.Cmp(currentTip.work) > 0 {
		hc.reorgTo(candidateNodes[len(candidateNodes)-1].header.Hash())
	}

	hc.persistBatch(candidateNodes)

	return nil
}

// distanceFromTip returns how many blocks back from the current tip the
// given hash sits on the current best chain, or an error if it is not on
// that chain at all (a brand-new fork with no common ancestor recorded).
func (hc *HeaderChain) distanceFromTip(hash chainmodel.Hash256) (int, error) {
	cur := hc.tip
	depth := 0
	for {
		if cur == hash {
			return depth, nil
		}
		node, ok := hc.nodes[cur]
		if !ok {
			return 0, fmt.Errorf("missing node %s while walking back from tip", cur)
		}
		if cur == hc.genesis {
			return 0, fmt.Errorf("hash %s not found on best chain", hash)
		}
		cur = node.header.PrevHash
		depth++
		if depth > MaxReorgDepth*4 {
			return 0, fmt.Errorf("hash %s not found within bounded walk-back", hash)
		}
	}
}

// reorgTo makes newTip, and everything behind it back to the fork point,
// the active chain by rebuilding the byHeight index along that path.
func (hc *HeaderChain) reorgTo(newTip chainmodel.Hash256) {
	// Walk back from newTip collecting the new active path until we hit a
	// hash whose height's byHeight entry already points at this path
	// (i.e. the fork point).
	type step struct {
		hash   chainmodel.Hash256
		height uint64
	}
	var path []step
	cur := newTip
	for {
		node := hc.nodes[cur]
		path = append(path, step{hash: cur, height: node.header.Height})
		if cur == hc.genesis {
			break
		}
		if existing, ok := hc.byHeight[node.header.Height-1]; ok && existing == node.header.PrevHash {
			// Parent already on active chain below this height: the
			// remainder of the path is unchanged.
			break
		}
		cur = node.header.PrevHash
	}
	for _, s := range path {
		hc.byHeight[s.height] = s.hash
	}
	hc.tip = newTip
}

// GetHeader looks up a header by its hash.
func (hc *HeaderChain) GetHeader(hash chainmodel.Hash256) (BlockHeader, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	n, ok := hc.nodes[hash]
	if !ok {
		return BlockHeader{}, false
	}
	return n.header, true
}

// GetHeaderAtHeight looks up the active chain's header at a given height.
func (hc *HeaderChain) GetHeaderAtHeight(height uint64) (BlockHeader, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	hash, ok := hc.byHeight[height]
	if !ok {
		return BlockHeader{}, false
	}
	return hc.nodes[hash].header, true
}

// Tip returns the current best header.
func (hc *HeaderChain) Tip() BlockHeader {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.nodes[hc.tip].header
}

// CumulativeWork returns the total work backing a known header, used by
// callers (and tests) to verify the "tip never loses to a known header"
// invariant.
func (hc *HeaderChain) CumulativeWork(hash chainmodel.Hash256) (*big.Int, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	n, ok := hc.nodes[hash]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(n.work), true
}
