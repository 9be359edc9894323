// Package spv maintains a best header-only chain for a remote chain (or
// for INTcoin itself) and serves merkle inclusion proofs against it,
// without downloading full blocks. The chain monitor and the bridge
// engine both rely on it to accept remote-chain events without trusting
// a single RPC endpoint.
package spv

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"

	"github.com/intcoin/bridge/chainmodel"
)

// MaxReorgDepth bounds how deep a candidate chain's fork point may be
// before it is rejected as a deep-fork attack.
const MaxReorgDepth = 100

// MaxFutureDrift is how far into the future (relative to local wall
// clock) a header's timestamp may be before the header is rejected.
const MaxFutureDrift = 2 * time.Hour

// BlockHeader is a remote or local chain's block header. Identity is the
// hash of the header; cumulative work is derived and cached by the
// HeaderChain, not stored here.
type BlockHeader struct {
	Version    int32
	PrevHash   chainmodel.Hash256
	MerkleRoot chainmodel.Hash256
	Timestamp  time.Time
	Bits       uint32 // compact difficulty target
	Nonce      uint32

	// Height is derived at acceptance time from the header's position in
	// the chain, not part of the header's own hash preimage.
	Height uint64
}

// serialize produces the 80-byte (plus height-independent) preimage hashed
// to produce the header's identity, Bitcoin-header-compatible in layout.
func (h BlockHeader) serialize() []byte {
	buf := make([]byte, 0, 80)
	var v [4]byte
	putUint32LE(v[:], uint32(h.Version))
	buf = append(buf, v[:]...)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	var ts [4]byte
	putUint32LE(ts[:], uint32(h.Timestamp.Unix()))
	buf = append(buf, ts[:]...)
	var bits [4]byte
	putUint32LE(bits[:], h.Bits)
	buf = append(buf, bits[:]...)
	var nonce [4]byte
	putUint32LE(nonce[:], h.Nonce)
	buf = append(buf, nonce[:]...)
	return buf
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Hash computes the header's identity hash: double-SHA256 over the
// serialized header, matching Bitcoin-family PoW hashing.
func (h BlockHeader) Hash() chainmodel.Hash256 {
	first := sha256.Sum256(h.serialize())
	second := sha256.Sum256(first[:])
	return chainmodel.Hash256(second)
}

// powHashLEQTarget reports whether the header's PoW hash is numerically at
// or below the target implied by its compact Bits field.
func powHashLEQTarget(hash chainmodel.Hash256, bits uint32) bool {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return false
	}
	// hash is stored little-endian internally; big.Int wants big-endian.
	be := make([]byte, 32)
	for i, b := range hash {
		be[31-i] = b
	}
	hashInt := new(big.Int).SetBytes(be)
	return hashInt.Cmp(target) <= 0
}

// CompactToBig expands a compact ("nBits") difficulty representation into
// the full target, using the same mantissa/exponent layout Bitcoin uses.
func CompactToBig(bits uint32) *big.Int {
	mantissa := bits & 0x007fffff
	exponent := bits >> 24

	var result *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		result = big.NewInt(int64(mantissa))
	} else {
		result = big.NewInt(int64(mantissa))
		result.Lsh(result, uint(8*(exponent-3)))
	}

	if bits&0x00800000 != 0 {
		result.Neg(result)
	}
	return result
}

// BigToCompact is the inverse of CompactToBig, used when computing the
// work a header's target represents.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// calcWork returns the work represented by a single header: ~2^256 / (target+1).
func calcWork(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	oneLsh256 := new(big.Int).Lsh(big.NewInt(1), 256)
	return new(big.Int).Div(oneLsh256, denom)
}

// headerValidationError is returned for malformed individual headers; the
// caller (SubmitHeaders) rejects the whole batch on any such error per
// the whole submitted batch is rejected.
type headerValidationError struct {
	reason string
}

func (e *headerValidationError) Error() string { return "spv: invalid header: " + e.reason }

func validateHeaderShape(h BlockHeader, now time.Time) error {
	if h.Timestamp.After(now.Add(MaxFutureDrift)) {
		return &headerValidationError{reason: fmt.Sprintf("timestamp %s more than %s in the future", h.Timestamp, MaxFutureDrift)}
	}
	hash := h.Hash()
	if !powHashLEQTarget(hash, h.Bits) {
		return &headerValidationError{reason: fmt.Sprintf("hash %s exceeds target for bits %08x", hash, h.Bits)}
	}
	return nil
}
