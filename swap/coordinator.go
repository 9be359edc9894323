package swap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/chainmonitor"
	"github.com/intcoin/bridge/htlc"
)

// TxBuilder assembles and signs the chain-specific transactions a swap
// leg needs: the funding transaction that pays into the HTLC script, and
// the claim/refund transactions that spend out of it. Like
// htlc.DilithiumVerifier and bridge.SignatureVerifier, this is a
// pluggable external collaborator — wallet key custody and chain-native
// transaction assembly are out of this subsystem's scope.
type TxBuilder interface {
	BuildFundingTransaction(chain chainmodel.ChainId, script htlc.Script, amount uint64) (rawHex string, err error)
	BuildClaimTransaction(chain chainmodel.ChainId, contract htlc.HTLCContract, fundingTxHash chainmodel.Hash256, fundingVout uint32, witness htlc.ClaimWitness) (rawHex string, err error)
	BuildRefundTransaction(chain chainmodel.ChainId, contract htlc.HTLCContract, fundingTxHash chainmodel.Hash256, fundingVout uint32, witness htlc.RefundWitness) (rawHex string, err error)
}

// monitorSource is the subset of *chainmonitor.Manager the coordinator
// needs: per-chain lookup for watch registration and broadcast.
type monitorSource interface {
	Get(chain chainmodel.ChainId) (chainmonitor.ChainMonitor, bool)
}

type swapRecord struct {
	info SwapInfo

	// Claim-retry context: the last broadcast claim transaction and its
	// signature, kept so fee-bumped replacements can be produced until
	// the safety window closes.
	claimSig     []byte
	lastClaimRaw string
}

// Coordinator drives SwapOffers through the two-party swap state machine.
// One Coordinator instance represents one party's view of its swaps;
// each party runs its own, exchanging SwapOffer values out of band (the
// swap RPC surface, package rpc) and learning the other leg's chain
// activity only through chainmonitor events.
type Coordinator struct {
	mu sync.Mutex

	swaps      map[uuid.UUID]*swapRecord
	watchIndex map[string]uuid.UUID // hex(paymentHash) -> swapID

	monitors  monitorSource
	txBuilder TxBuilder
	preimages PreimageStore
	algorithm htlc.HashAlgorithm

	confirmationsRequired map[chainmodel.ChainId]uint32

	now func() time.Time
}

// Config holds the per-bridge-instance choices a Coordinator needs at
// construction: the hash algorithm new offers use, and how many
// confirmations each chain requires before a funding observation
// advances the state machine.
type Config struct {
	HashAlgorithm         htlc.HashAlgorithm
	ConfirmationsRequired map[chainmodel.ChainId]uint32
}

// NewCoordinator constructs a Coordinator. monitors supplies per-chain
// ChainMonitor lookup; txBuilder assembles chain-specific transactions;
// preimages persists secrets encrypted at rest.
func NewCoordinator(cfg Config, monitors monitorSource, txBuilder TxBuilder, preimages PreimageStore) *Coordinator {
	confs := cfg.ConfirmationsRequired
	if confs == nil {
		confs = map[chainmodel.ChainId]uint32{}
	}
	return &Coordinator{
		swaps:                 make(map[uuid.UUID]*swapRecord),
		watchIndex:            make(map[string]uuid.UUID),
		monitors:              monitors,
		txBuilder:             txBuilder,
		preimages:             preimages,
		algorithm:             cfg.HashAlgorithm,
		confirmationsRequired: confs,
		now:                   time.Now,
	}
}

func (c *Coordinator) confirmationsFor(chain chainmodel.ChainId) uint32 {
	if n, ok := c.confirmationsRequired[chain.Mainnet()]; ok {
		return n
	}
	return 1
}

func watchIndexKey(h htlc.PaymentHash) string { return hex.EncodeToString(h) }

// CreateOffer generates a fresh preimage, computes its payment hash, and
// returns a SwapOffer ready to transmit to a counterparty. The preimage is stored locally and never placed in
// the returned offer.
func (c *Coordinator) CreateOffer(initiatorChain, participantChain chainmodel.ChainId, initiatorAmount, participantAmount uint64, initiatorPubkey []byte, locktime time.Duration) (SwapOffer, error) {
	var preimage htlc.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return SwapOffer{}, fmt.Errorf("swap: generate preimage: %w", err)
	}
	paymentHash, err := htlc.HashPreimage(preimage, c.algorithm)
	if err != nil {
		return SwapOffer{}, fmt.Errorf("swap: hash preimage: %w", err)
	}

	now := c.now()
	initiatorLocktime := now.Add(locktime)
	participantLocktime := initiatorLocktime.Add(-SafetyBuffer)

	offer := SwapOffer{
		SwapID:              uuid.New(),
		InitiatorChain:      initiatorChain,
		ParticipantChain:    participantChain,
		InitiatorAmount:     initiatorAmount,
		ParticipantAmount:   participantAmount,
		PaymentHash:         paymentHash,
		HashAlgorithm:       c.algorithm,
		InitiatorPubkey:     initiatorPubkey,
		InitiatorLocktime:   initiatorLocktime,
		ParticipantLocktime: participantLocktime,
		CreatedAt:           now,
		ExpiresAt:           participantLocktime,
	}
	if err := offer.Validate(); err != nil {
		return SwapOffer{}, err
	}

	if err := c.preimages.Put(offer.SwapID, preimage); err != nil {
		return SwapOffer{}, err
	}

	c.mu.Lock()
	c.swaps[offer.SwapID] = &swapRecord{info: SwapInfo{
		Offer:     offer,
		State:     OfferCreated,
		Role:      RoleInitiator,
		UpdatedAt: now,
	}}
	c.watchIndex[watchIndexKey(offer.PaymentHash)] = offer.SwapID
	c.mu.Unlock()

	log.Infof("Swap %s: offer created (%s %d <-> %s %d)", offer.SwapID, offer.InitiatorChain, offer.InitiatorAmount, offer.ParticipantChain, offer.ParticipantAmount)
	return offer, nil
}

// AcceptOffer validates a received offer's amounts and locktimes and
// records acceptance. Called on the participant's own Coordinator to
// register a new local swap record, or on the initiator's Coordinator
// (once the participant's acceptance is learned via the swap RPC
// surface) to advance its existing record — both paths share this
// method since the transition is identical.
func (c *Coordinator) AcceptOffer(offer SwapOffer, participantPubkey []byte) (SwapOffer, error) {
	offer.ParticipantPubkey = participantPubkey
	if err := offer.Validate(); err != nil {
		return SwapOffer{}, err
	}
	if c.now().After(offer.ExpiresAt) {
		return SwapOffer{}, ErrExpired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, exists := c.swaps[offer.SwapID]
	if !exists {
		rec = &swapRecord{info: SwapInfo{Offer: offer, Role: RoleParticipant}}
		c.swaps[offer.SwapID] = rec
		c.watchIndex[watchIndexKey(offer.PaymentHash)] = offer.SwapID
	} else if rec.info.State != OfferCreated {
		return SwapOffer{}, ErrInvalidState
	}

	rec.info.Offer = offer
	rec.info.State = OfferAccepted
	rec.info.UpdatedAt = c.now()

	log.Infof("Swap %s: offer accepted", offer.SwapID)
	return offer, nil
}

// GetSwapInfo returns the current info for swapID.
func (c *Coordinator) GetSwapInfo(swapID uuid.UUID) (SwapInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.swaps[swapID]
	if !ok {
		return SwapInfo{}, ErrSwapNotFound
	}
	return rec.info, nil
}

// ListActive returns every swap not yet in a terminal state (swap.list_active RPC).
func (c *Coordinator) ListActive() []SwapInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SwapInfo, 0, len(c.swaps))
	for _, rec := range c.swaps {
		if !rec.info.State.Terminal() {
			out = append(out, rec.info)
		}
	}
	return out
}

// FundParticipantLeg is the participant's action of publishing their
// HTLC to participant_chain, paying the initiator on reveal of the
// preimage.
func (c *Coordinator) FundParticipantLeg(ctx context.Context, swapID uuid.UUID) (chainmodel.Hash256, error) {
	c.mu.Lock()
	rec, ok := c.swaps[swapID]
	if !ok {
		c.mu.Unlock()
		return chainmodel.Hash256{}, ErrSwapNotFound
	}
	if rec.info.Role != RoleParticipant || rec.info.State != OfferAccepted {
		c.mu.Unlock()
		return chainmodel.Hash256{}, ErrInvalidState
	}
	offer := rec.info.Offer
	c.mu.Unlock()

	contract := htlc.HTLCContract{
		RecipientPubkey: offer.InitiatorPubkey,
		RefundPubkey:    offer.ParticipantPubkey,
		PaymentHash:     offer.PaymentHash,
		HashAlgorithm:   offer.HashAlgorithm,
		Locktime:        uint64(offer.ParticipantLocktime.Unix()),
		LocktimeKind:    htlc.LocktimeUnixTime,
	}

	return c.fundLeg(ctx, swapID, offer.ParticipantChain, contract, offer.ParticipantAmount, offer.ParticipantPubkey, offer.InitiatorPubkey)
}

// FundInitiatorLeg is the initiator's action of publishing their HTLC to
// initiator_chain, taken once the participant's funding has been
// observed at sufficient depth.
func (c *Coordinator) FundInitiatorLeg(ctx context.Context, swapID uuid.UUID) (chainmodel.Hash256, error) {
	c.mu.Lock()
	rec, ok := c.swaps[swapID]
	if !ok {
		c.mu.Unlock()
		return chainmodel.Hash256{}, ErrSwapNotFound
	}
	if rec.info.Role != RoleInitiator || rec.info.State != ParticipantHtlcFunded {
		c.mu.Unlock()
		return chainmodel.Hash256{}, ErrInvalidState
	}
	offer := rec.info.Offer
	c.mu.Unlock()

	contract := htlc.HTLCContract{
		RecipientPubkey: offer.ParticipantPubkey,
		RefundPubkey:    offer.InitiatorPubkey,
		PaymentHash:     offer.PaymentHash,
		HashAlgorithm:   offer.HashAlgorithm,
		Locktime:        uint64(offer.InitiatorLocktime.Unix()),
		LocktimeKind:    htlc.LocktimeUnixTime,
	}

	txHash, err := c.fundLeg(ctx, swapID, offer.InitiatorChain, contract, offer.InitiatorAmount, offer.InitiatorPubkey, offer.ParticipantPubkey)
	if err != nil {
		return chainmodel.Hash256{}, err
	}

	c.mu.Lock()
	rec.info.State = InitiatorHtlcFunded
	rec.info.UpdatedAt = c.now()
	c.mu.Unlock()
	return txHash, nil
}

func (c *Coordinator) fundLeg(ctx context.Context, swapID uuid.UUID, chain chainmodel.ChainId, contract htlc.HTLCContract, amount uint64, selfPubkey, counterpartyPubkey []byte) (chainmodel.Hash256, error) {
	script, err := htlc.BuildHTLCScript(contract, chain)
	if err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("swap: build HTLC script: %w", err)
	}
	rawHex, err := c.txBuilder.BuildFundingTransaction(chain, script, amount)
	if err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("swap: build funding tx: %w", err)
	}

	mon, ok := c.monitors.Get(chain)
	if !ok {
		return chainmodel.Hash256{}, fmt.Errorf("swap: no chain monitor registered for %s", chain)
	}
	if err := mon.WatchHTLC(contract.PaymentHash, contract.HashAlgorithm, contract.RecipientPubkey, contract.RefundPubkey, contract.Locktime); err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("swap: register watch: %w", err)
	}
	txHash, err := mon.BroadcastTransaction(ctx, rawHex)
	if err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("swap: broadcast funding tx: %w", err)
	}
	return txHash, nil
}

// ClaimParticipantLeg is the initiator's action of spending the
// participant's HTLC using the captured preimage, taken from
// ParticipantClaimed.
func (c *Coordinator) ClaimParticipantLeg(ctx context.Context, swapID uuid.UUID, signature []byte) (chainmodel.Hash256, error) {
	c.mu.Lock()
	rec, ok := c.swaps[swapID]
	if !ok {
		c.mu.Unlock()
		return chainmodel.Hash256{}, ErrSwapNotFound
	}
	if rec.info.Role != RoleInitiator || rec.info.State != ParticipantClaimed {
		c.mu.Unlock()
		return chainmodel.Hash256{}, ErrInvalidState
	}
	offer := rec.info.Offer
	preimage := rec.info.Preimage
	fundingTx, fundingVout := rec.info.ParticipantFundingTx, rec.info.ParticipantFundingVout
	c.mu.Unlock()

	if preimage == nil {
		return chainmodel.Hash256{}, fmt.Errorf("swap: %w: preimage not yet captured", ErrInvalidState)
	}

	contract := htlc.HTLCContract{
		RecipientPubkey: offer.InitiatorPubkey,
		RefundPubkey:    offer.ParticipantPubkey,
		PaymentHash:     offer.PaymentHash,
		HashAlgorithm:   offer.HashAlgorithm,
		Locktime:        uint64(offer.ParticipantLocktime.Unix()),
		LocktimeKind:    htlc.LocktimeUnixTime,
	}
	witness := htlc.BuildClaimWitness(*preimage, signature)

	rawHex, err := c.txBuilder.BuildClaimTransaction(offer.ParticipantChain, contract, fundingTx, fundingVout, witness)
	if err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("swap: build claim tx: %w", err)
	}
	mon, ok := c.monitors.Get(offer.ParticipantChain)
	if !ok {
		return chainmodel.Hash256{}, fmt.Errorf("swap: no chain monitor registered for %s", offer.ParticipantChain)
	}
	txHash, err := mon.BroadcastTransaction(ctx, rawHex)
	if err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("swap: broadcast claim tx: %w", err)
	}

	c.mu.Lock()
	rec.info.State = InitiatorClaimed
	rec.info.ClaimTxHash = txHash
	rec.info.ClaimAttempts = 1
	rec.claimSig = signature
	rec.lastClaimRaw = rawHex
	rec.info.UpdatedAt = c.now()
	c.mu.Unlock()

	log.Infof("Swap %s: initiator claimed participant leg, tx %s", swapID, txHash)
	return txHash, nil
}

// RefundLeg broadcasts a refund transaction for the caller's own leg once
// its locktime has passed.
func (c *Coordinator) RefundLeg(ctx context.Context, swapID uuid.UUID, signature []byte) (chainmodel.Hash256, error) {
	c.mu.Lock()
	rec, ok := c.swaps[swapID]
	if !ok {
		c.mu.Unlock()
		return chainmodel.Hash256{}, ErrSwapNotFound
	}
	offer := rec.info.Offer
	role := rec.info.Role
	state := rec.info.State
	c.mu.Unlock()

	now := c.now()
	var (
		chain       chainmodel.ChainId
		contract    htlc.HTLCContract
		fundingTx   chainmodel.Hash256
		fundingVout uint32
	)

	switch role {
	case RoleParticipant:
		if state.Terminal() || state == ParticipantClaimed || state == InitiatorClaimed {
			return chainmodel.Hash256{}, ErrInvalidState
		}
		if now.Before(offer.ParticipantLocktime) {
			return chainmodel.Hash256{}, fmt.Errorf("swap: %w: participant locktime not yet reached", ErrInvalidState)
		}
		chain = offer.ParticipantChain
		contract = htlc.HTLCContract{
			RecipientPubkey: offer.InitiatorPubkey,
			RefundPubkey:    offer.ParticipantPubkey,
			PaymentHash:     offer.PaymentHash,
			HashAlgorithm:   offer.HashAlgorithm,
			Locktime:        uint64(offer.ParticipantLocktime.Unix()),
			LocktimeKind:    htlc.LocktimeUnixTime,
		}
		c.mu.Lock()
		fundingTx, fundingVout = rec.info.ParticipantFundingTx, rec.info.ParticipantFundingVout
		c.mu.Unlock()
	case RoleInitiator:
		if state != InitiatorHtlcFunded {
			return chainmodel.Hash256{}, ErrInvalidState
		}
		if now.Before(offer.InitiatorLocktime) {
			return chainmodel.Hash256{}, fmt.Errorf("swap: %w: initiator locktime not yet reached", ErrInvalidState)
		}
		chain = offer.InitiatorChain
		contract = htlc.HTLCContract{
			RecipientPubkey: offer.ParticipantPubkey,
			RefundPubkey:    offer.InitiatorPubkey,
			PaymentHash:     offer.PaymentHash,
			HashAlgorithm:   offer.HashAlgorithm,
			Locktime:        uint64(offer.InitiatorLocktime.Unix()),
			LocktimeKind:    htlc.LocktimeUnixTime,
		}
		c.mu.Lock()
		fundingTx, fundingVout = rec.info.InitiatorFundingTx, rec.info.InitiatorFundingVout
		c.mu.Unlock()
	}

	witness := htlc.BuildRefundWitness(signature)
	rawHex, err := c.txBuilder.BuildRefundTransaction(chain, contract, fundingTx, fundingVout, witness)
	if err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("swap: build refund tx: %w", err)
	}
	mon, ok := c.monitors.Get(chain)
	if !ok {
		return chainmodel.Hash256{}, fmt.Errorf("swap: no chain monitor registered for %s", chain)
	}
	txHash, err := mon.BroadcastTransaction(ctx, rawHex)
	if err != nil {
		return chainmodel.Hash256{}, fmt.Errorf("swap: broadcast refund tx: %w", err)
	}

	c.mu.Lock()
	rec.info.State = Refunded
	rec.info.UpdatedAt = now
	c.mu.Unlock()

	log.Infof("Swap %s: %s refunded, tx %s", swapID, role, txHash)
	return txHash, nil
}

// Run fans in every monitor's event stream and drives state transitions,
// serializing all swap-state mutations behind the coordinator's single
// mutex so that, per swap_id, transitions remain totally ordered even though multiple chains are polled concurrently.
func (c *Coordinator) Run(ctx context.Context, monitors ...chainmonitor.ChainMonitor) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, mon := range monitors {
		mon := mon
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev, ok := <-mon.Events():
					if !ok {
						return nil
					}
					c.handleEvent(ev)
				}
			}
		})
	}
	return g.Wait()
}

// handleEvent routes a single chainmonitor event to its swap (by
// payment hash) and applies the corresponding state transition.
func (c *Coordinator) handleEvent(ev chainmonitor.Event) {
	if ev.Kind == chainmonitor.EventNewBlock {
		c.checkExpirations()
		c.retryPendingClaims(context.Background())
		return
	}

	c.mu.Lock()
	swapID, ok := c.watchIndex[watchIndexKey(ev.PaymentHash)]
	if !ok {
		c.mu.Unlock()
		return
	}
	rec := c.swaps[swapID]
	c.mu.Unlock()
	if rec == nil {
		return
	}

	switch ev.Kind {
	case chainmonitor.EventHTLCFunded:
		c.handleFunded(rec, ev)
	case chainmonitor.EventHTLCSpent:
		c.handleSpent(rec, ev)
	}
}

func (c *Coordinator) handleFunded(rec *swapRecord, ev chainmonitor.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	offer := rec.info.Offer
	required := c.confirmationsFor(ev.Chain)
	if ev.Confirmations < required {
		return
	}

	switch {
	case ev.Chain.Mainnet() == offer.ParticipantChain.Mainnet() && rec.info.State == OfferAccepted:
		rec.info.ParticipantFundingTx = ev.TxHash
		rec.info.ParticipantFundingVout = ev.Vout
		rec.info.State = ParticipantHtlcFunded
		rec.info.UpdatedAt = c.now()
		log.Infof("Swap %s: participant HTLC funded at depth %d", offer.SwapID, ev.Confirmations)
	case ev.Chain.Mainnet() == offer.InitiatorChain.Mainnet() && rec.info.State == ParticipantHtlcFunded:
		rec.info.InitiatorFundingTx = ev.TxHash
		rec.info.InitiatorFundingVout = ev.Vout
		rec.info.State = InitiatorHtlcFunded
		rec.info.UpdatedAt = c.now()
		log.Infof("Swap %s: initiator HTLC funded at depth %d", offer.SwapID, ev.Confirmations)
	}
}

// handleSpent captures a revealed preimage as soon as any spend of the
// initiator-chain HTLC is observed at depth ≥ 1, without waiting for
// full confirmation.
func (c *Coordinator) handleSpent(rec *swapRecord, ev chainmonitor.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	offer := rec.info.Offer

	switch {
	case ev.Chain.Mainnet() == offer.InitiatorChain.Mainnet() && rec.info.State == InitiatorHtlcFunded:
		if ev.Preimage == nil {
			return
		}
		if err := c.preimages.Put(offer.SwapID, *ev.Preimage); err != nil {
			log.Errorf("Swap %s: failed to persist captured preimage: %v", offer.SwapID, err)
		}
		p := *ev.Preimage
		rec.info.Preimage = &p
		rec.info.State = ParticipantClaimed
		rec.info.UpdatedAt = c.now()
		log.Infof("Swap %s: preimage captured from initiator-chain spend", offer.SwapID)
	case ev.Chain.Mainnet() == offer.ParticipantChain.Mainnet() && rec.info.State == InitiatorClaimed:
		rec.info.State = Completed
		rec.info.UpdatedAt = c.now()
		log.Infof("Swap %s: completed", offer.SwapID)
	}
}

// checkExpirations runs the tie-breaking/timeout rules over
// every non-terminal swap: the initiator-funding deadline, and (left to
// the caller, since broadcasting a refund needs a signature) flags swaps
// whose refund path has opened.
func (c *Coordinator) checkExpirations() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.swaps {
		offer := rec.info.Offer
		switch rec.info.State {
		case OfferAccepted, ParticipantHtlcFunded:
			if rec.info.Role == RoleInitiator && now.After(offer.ParticipantLocktime.Add(-InitiatorFundingDeadline)) {
				rec.info.State = Failed
				rec.info.FailureReason = "initiator failed to fund within participant_locktime-48h"
				rec.info.UpdatedAt = now
				log.Warnf("Swap %s: failed, %s", offer.SwapID, rec.info.FailureReason)
			}
		case InitiatorClaimed:
			if now.After(offer.InitiatorLocktime.Add(-ClaimRetrySafetyWindow)) {
				rec.info.State = Failed
				rec.info.FailureReason = "claim transaction did not confirm before safety window elapsed"
				rec.info.UpdatedAt = now
				log.Errorf("Swap %s: failed, %s", offer.SwapID, rec.info.FailureReason)
			}
		}
	}
}
