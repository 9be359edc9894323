package spv

import (
	"fmt"
	"time"

	"github.com/intcoin/bridge/chainmodel"
)

// Persister receives accepted headers and tip changes so the header
// chain survives restarts. Package storage provides the goleveldb-backed
// implementation; the zero value of a HeaderChain has no persister and
// keeps everything in memory.
type Persister interface {
	SaveHeader(chain chainmodel.ChainId, hash chainmodel.Hash256, header BlockHeader) error
	SaveTip(chain chainmodel.ChainId, hash chainmodel.Hash256) error
}

// SetPersister attaches p; every subsequently accepted header and tip
// change is written through. Persist failures are logged, never fatal:
// the in-memory chain remains authoritative and a restart re-syncs from
// the last durable tip.
func (hc *HeaderChain) SetPersister(p Persister) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.persister = p
}

// persistBatch writes accepted nodes and the current tip through the
// persister, if one is attached. Caller holds hc.mu; the persister is a
// passive key-value sink, never a component that calls back in.
func (hc *HeaderChain) persistBatch(nodes []*chainNode) {
	if hc.persister == nil {
		return
	}
	for _, n := range nodes {
		hash := n.header.Hash()
		if err := hc.persister.SaveHeader(hc.chain, hash, n.header); err != nil {
			log.Errorf("spv(%s): persist header %s: %v", hc.chain, hash, err)
			return
		}
	}
	if err := hc.persister.SaveTip(hc.chain, hc.tip); err != nil {
		log.Errorf("spv(%s): persist tip %s: %v", hc.chain, hc.tip, err)
	}
}

// headerRecordLen is the serialized header (80 bytes) plus the derived
// height (8 bytes LE).
const headerRecordLen = 88

// Bytes encodes the header for persistence: the 80-byte hash preimage
// followed by the derived height.
func (h BlockHeader) Bytes() []byte {
	buf := h.serialize()
	var height [8]byte
	for i := 0; i < 8; i++ {
		height[i] = byte(h.Height >> (8 * i))
	}
	return append(buf, height[:]...)
}

// HeaderFromBytes decodes a header previously encoded with Bytes.
func HeaderFromBytes(b []byte) (BlockHeader, error) {
	if len(b) != headerRecordLen {
		return BlockHeader{}, fmt.Errorf("spv: header record must be %d bytes, got %d", headerRecordLen, len(b))
	}
	var h BlockHeader
	h.Version = int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	copy(h.PrevHash[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	ts := uint32(b[68]) | uint32(b[69])<<8 | uint32(b[70])<<16 | uint32(b[71])<<24
	h.Timestamp = time.Unix(int64(ts), 0).UTC()
	h.Bits = uint32(b[72]) | uint32(b[73])<<8 | uint32(b[74])<<16 | uint32(b[75])<<24
	h.Nonce = uint32(b[76]) | uint32(b[77])<<8 | uint32(b[78])<<16 | uint32(b[79])<<24
	for i := 0; i < 8; i++ {
		h.Height |= uint64(b[80+i]) << (8 * i)
	}
	return h, nil
}
