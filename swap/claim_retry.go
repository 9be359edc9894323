package swap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/intcoin/bridge/chainmodel"
)

// FeeBumper is an optional TxBuilder capability: produce a replacement
// for a stuck transaction paying a higher fee, by whatever mechanism the
// chain's policy supports (RBF on BTC-family chains, CPFP where the
// original is final, a re-priced gas field on Ethereum). attempt is
// 1-based over the replacements, letting implementations escalate fees.
type FeeBumper interface {
	BumpFee(chain chainmodel.ChainId, rawHex string, attempt uint32) (string, error)
}

// claimConfirmTimeout bounds the confirmation lookup a retry tick makes
// per pending claim.
const claimConfirmTimeout = 10 * time.Second

// retryPendingClaims re-broadcasts fee-bumped replacements for initiator
// claim transactions that have not confirmed, until
// initiator_locktime − ClaimRetrySafetyWindow. The Failed transition at
// that cutoff is handled by checkExpirations.
func (c *Coordinator) retryPendingClaims(ctx context.Context) {
	bumper, ok := c.txBuilder.(FeeBumper)
	if !ok {
		return
	}

	type pending struct {
		swapID  uuid.UUID
		chain   chainmodel.ChainId
		claimTx chainmodel.Hash256
		lastRaw string
		attempt uint32
	}

	now := c.now()

	c.mu.Lock()
	var candidates []pending
	for id, rec := range c.swaps {
		if rec.info.State != InitiatorClaimed || rec.info.Role != RoleInitiator {
			continue
		}
		if rec.lastClaimRaw == "" {
			continue
		}
		if now.After(rec.info.Offer.InitiatorLocktime.Add(-ClaimRetrySafetyWindow)) {
			continue
		}
		candidates = append(candidates, pending{
			swapID:  id,
			chain:   rec.info.Offer.ParticipantChain,
			claimTx: rec.info.ClaimTxHash,
			lastRaw: rec.lastClaimRaw,
			attempt: rec.info.ClaimAttempts,
		})
	}
	c.mu.Unlock()

	for _, p := range candidates {
		mon, ok := c.monitors.Get(p.chain)
		if !ok {
			continue
		}

		confCtx, cancel := context.WithTimeout(ctx, claimConfirmTimeout)
		confs, err := mon.GetConfirmations(confCtx, p.claimTx)
		cancel()
		if err == nil && confs > 0 {
			continue // confirming; spend event will complete the swap
		}

		bumped, err := bumper.BumpFee(p.chain, p.lastRaw, p.attempt)
		if err != nil {
			log.Warnf("Swap %s: fee bump attempt %d failed: %v", p.swapID, p.attempt, err)
			continue
		}
		txHash, err := mon.BroadcastTransaction(ctx, bumped)
		if err != nil {
			log.Warnf("Swap %s: broadcast of fee-bumped claim failed: %v", p.swapID, err)
			continue
		}

		c.mu.Lock()
		if rec, ok := c.swaps[p.swapID]; ok && rec.info.State == InitiatorClaimed {
			rec.lastClaimRaw = bumped
			rec.info.ClaimTxHash = txHash
			rec.info.ClaimAttempts++
			rec.info.UpdatedAt = c.now()
		}
		c.mu.Unlock()

		log.Infof("Swap %s: rebroadcast claim with bumped fee (attempt %d), tx %s", p.swapID, p.attempt+1, txHash)
	}
}
