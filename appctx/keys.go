package appctx

import (
	"crypto/rand"
	"fmt"
	"os"
)

// loadPreimageKey reads the 32-byte key protecting swap preimages at
// rest. With no key file configured a fresh ephemeral key is generated:
// preimages then survive only as long as the process, which is safe
// (the swap fails rather than losing funds if a preimage is lost before
// the claim, since the counterparty's refund path remains) but costs
// the ability to resume in-flight swaps across restarts.
func loadPreimageKey(path string) ([32]byte, error) {
	var key [32]byte
	if path == "" {
		if _, err := rand.Read(key[:]); err != nil {
			return key, fmt.Errorf("appctx: generate ephemeral preimage key: %w", err)
		}
		return key, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return key, fmt.Errorf("appctx: read preimage key file: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("appctx: preimage key must be exactly 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
