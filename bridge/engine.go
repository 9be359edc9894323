package bridge

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/intcoin/bridge/chainmodel"
)

// balanceKey identifies a single (address, token) balance cell.
type balanceKey struct {
	address string
	token   string
}

// Engine is the bridge ledger and validator-signing state machine. All
// mutations are linearizable under a single mutex; RPC-server goroutines call
// in concurrently and hold the lock only per-request, never across an
// outbound call; the engine never calls back into another component
// while holding mu.
type Engine struct {
	mu sync.Mutex

	cfg    Config
	paused bool

	tokens     map[string]*WrappedToken
	balances   map[balanceKey]uint64
	validators map[string]*Validator // keyed by pubkeyKey

	proofsBySourceTx map[chainmodel.Hash256]*DepositProof
	proofsByID       map[uuid.UUID]*DepositProof
	withdrawals      map[uuid.UUID]*WithdrawalRequest

	// feesAccrued tracks, per token, the cumulative bridge fees owed to
	// the configured treasury address on the origin chain: the payout
	// transaction sends amount−fee to the destination and fee to the
	// treasury, so fees never re-enter the wrapped supply.
	feesAccrued map[string]uint64

	verifier SignatureVerifier
	now      func() time.Time

	observer ActivityObserver
}

// ActivityObserver receives ledger-activity notifications, feeding the
// bridge monitor's validator-liveness and volume-anomaly checks without
// the engine importing it (no cross-component back-pointer; the
// observer must not call back into the engine). Each RecordDeposit/
// RecordWithdrawal call reports exactly one transaction.
type ActivityObserver interface {
	RecordValidatorActivity(pubkey []byte)
	RecordDeposit(amount uint64)
	RecordWithdrawal(amount uint64)
}

// SetActivityObserver attaches obs; call once at startup wiring time.
func (e *Engine) SetActivityObserver(obs ActivityObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = obs
}

// SignatureVerifier abstracts how a single validator's signature over a
// message is checked, so the engine doesn't hardcode one curve. See
// ecdsa_verifier.go and musig2_verifier.go for the two wired schemes.
type SignatureVerifier interface {
	Verify(pubkey, message, signature []byte) bool
}

// NewEngine constructs a bridge Engine. now defaults to time.Now; tests
// inject a fixed clock to make expiry assertions deterministic.
func NewEngine(cfg Config, verifier SignatureVerifier) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:              cfg,
		tokens:           make(map[string]*WrappedToken),
		balances:         make(map[balanceKey]uint64),
		validators:       make(map[string]*Validator),
		proofsBySourceTx: make(map[chainmodel.Hash256]*DepositProof),
		proofsByID:       make(map[uuid.UUID]*DepositProof),
		withdrawals:      make(map[uuid.UUID]*WithdrawalRequest),
		feesAccrued:      make(map[string]uint64),
		verifier:         verifier,
		now:              time.Now,
	}, nil
}

// RegisterWrappedToken registers a new wrapped token; symbol must be
// unique.
func (e *Engine) RegisterWrappedToken(token WrappedToken) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return ErrPaused
	}
	if _, exists := e.tokens[token.Symbol]; exists {
		return fmt.Errorf("%w: %s", ErrTokenAlreadyRegistered, token.Symbol)
	}
	token.TotalSupply = 0
	e.tokens[token.Symbol] = &token
	log.Infof("Bridge: registered wrapped token %s (origin %s, decimals %d)",
		token.Symbol, token.OriginChain, token.Decimals)
	return nil
}

// GetWrappedToken returns a registered token's current record.
func (e *Engine) GetWrappedToken(symbol string) (WrappedToken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tokens[symbol]
	if !ok {
		return WrappedToken{}, fmt.Errorf("%w: %s", ErrTokenNotRegistered, symbol)
	}
	return *t, nil
}

// GetBalance returns address's balance of token (0 if never credited).
func (e *Engine) GetBalance(address []byte, symbol string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[balanceKey{address: string(address), token: symbol}]
}

// GetSupply returns the current total supply of a wrapped token.
func (e *Engine) GetSupply(symbol string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tokens[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTokenNotRegistered, symbol)
	}
	return t.TotalSupply, nil
}

// activeValidatorCount counts currently-active validators.
func (e *Engine) activeValidatorCount() int {
	n := 0
	for _, v := range e.validators {
		if v.Active {
			n++
		}
	}
	return n
}

// countDistinctActiveSignatures validates and deduplicates a signature
// list against message, returning how many distinct, currently-active
// validators signed. Invalid signatures and signatures from inactive or
// unknown validators are silently excluded: a validator removed
// mid-request drops their signature from the count.
func (e *Engine) countDistinctActiveSignatures(message []byte, sigs []ValidatorSignature) int {
	seen := make(map[string]bool, len(sigs))
	count := 0
	for _, sig := range sigs {
		key := pubkeyKey(sig.ValidatorPubkey)
		if seen[key] {
			continue
		}
		v, ok := e.validators[key]
		if !ok || !v.Active {
			continue
		}
		if !e.verifier.Verify(sig.ValidatorPubkey, message, sig.Signature) {
			continue
		}
		seen[key] = true
		count++
	}
	return count
}

// AddValidator registers (or reactivates) a bridge validator.
func (e *Engine) AddValidator(v Validator) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v.Stake < e.cfg.MinValidatorStake {
		return fmt.Errorf("bridge: validator stake %d below minimum %d", v.Stake, e.cfg.MinValidatorStake)
	}
	v.Active = true
	if v.JoinedAt.IsZero() {
		v.JoinedAt = e.now()
	}
	e.validators[pubkeyKey(v.PublicKey)] = &v
	return nil
}

// RemoveValidator deactivates a validator. In-flight signatures from a
// removed validator are dropped automatically the next time quorum is
// recomputed, since countDistinctActiveSignatures only counts currently
// active signers.
func (e *Engine) RemoveValidator(pubkey []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.validators[pubkeyKey(pubkey)]
	if !ok {
		return ErrValidatorNotActive
	}
	v.Active = false
	return nil
}

// Tokens returns a snapshot of every registered wrapped token.
func (e *Engine) Tokens() []WrappedToken {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]WrappedToken, 0, len(e.tokens))
	for _, t := range e.tokens {
		out = append(out, *t)
	}
	return out
}

// Validators returns a snapshot of all registered validators.
func (e *Engine) Validators() []Validator {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Validator, 0, len(e.validators))
	for _, v := range e.validators {
		out = append(out, *v)
	}
	return out
}

// depositProofMessage is the byte message validators sign over for a
// deposit proof: binding source chain, tx hash, recipient and amount so
// a signature cannot be replayed against a different deposit.
func depositProofMessage(p DepositProof) []byte {
	msg := fmt.Sprintf("deposit:%d:%s:%d:%x:%d:%s",
		p.SourceChain, p.SourceTxHash, p.BlockNumber, p.RecipientOnIntcoin, p.Amount, p.Token)
	return []byte(msg)
}

// SubmitDepositProof accepts proof if at least min_validators distinct,
// currently-active validators signed it validly (duplicate, invalid and
// inactive-signer entries are not counted), the token is registered, and
// the source transaction hasn't been submitted before.
func (e *Engine) SubmitDepositProof(proof DepositProof) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return uuid.Nil, ErrPaused
	}
	if _, exists := e.proofsBySourceTx[proof.SourceTxHash]; exists {
		return uuid.Nil, fmt.Errorf("%w: %w: source tx %s already submitted", ErrProofInvalid, ErrDuplicateProof, proof.SourceTxHash)
	}
	if _, ok := e.tokens[proof.Token]; !ok {
		return uuid.Nil, fmt.Errorf("%w: %w: %s", ErrProofInvalid, ErrTokenNotRegistered, proof.Token)
	}

	distinct := e.countDistinctActiveSignatures(depositProofMessage(proof), proof.ValidatorSigs)
	if distinct < int(e.cfg.MinValidators) {
		return uuid.Nil, fmt.Errorf("%w: got %d of %d required validator signatures", ErrProofInvalid, distinct, e.cfg.MinValidators)
	}
	if e.observer != nil {
		for _, sig := range proof.ValidatorSigs {
			e.observer.RecordValidatorActivity(sig.ValidatorPubkey)
		}
	}

	proof.ProofID = uuid.New()
	proof.CreatedAt = e.now()
	proof.Consumed = false

	e.proofsBySourceTx[proof.SourceTxHash] = &proof
	e.proofsByID[proof.ProofID] = &proof

	log.Infof("Bridge: accepted deposit proof %s for %d %s (source tx %s)",
		proof.ProofID, proof.Amount, proof.Token, proof.SourceTxHash)
	return proof.ProofID, nil
}

// Mint credits recipient's balance and increases token's total supply
// from a valid, unconsumed deposit proof. The proof is marked consumed
// atomically with the balance/supply update.
func (e *Engine) Mint(proofID uuid.UUID, recipient []byte, amount uint64, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return ErrPaused
	}

	proof, ok := e.proofsByID[proofID]
	if !ok {
		return ErrProofNotFound
	}
	if proof.Consumed {
		return fmt.Errorf("%w: proof %s already consumed", ErrProofInvalid, proofID)
	}
	if proof.Token != symbol || proof.Amount != amount || string(proof.RecipientOnIntcoin) != string(recipient) {
		return fmt.Errorf("%w: mint parameters do not match proof %s", ErrProofInvalid, proofID)
	}

	token, ok := e.tokens[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTokenNotRegistered, symbol)
	}

	newSupply, err := addUint64(token.TotalSupply, amount)
	if err != nil {
		return fmt.Errorf("bridge: mint would overflow total supply: %w", err)
	}

	key := balanceKey{address: string(recipient), token: symbol}
	newBalance, err := addUint64(e.balances[key], amount)
	if err != nil {
		return fmt.Errorf("bridge: mint would overflow recipient balance: %w", err)
	}

	proof.Consumed = true
	token.TotalSupply = newSupply
	e.balances[key] = newBalance

	if e.observer != nil {
		e.observer.RecordDeposit(amount)
	}

	log.Infof("Bridge: minted %d %s to %x (proof %s)", amount, symbol, recipient, proofID)
	return nil
}

// RequestWithdrawal verifies requesterSig, checks sufficient balance,
// debits balance and supply immediately (symmetric burn-on-request), and
// records a Pending withdrawal.
func (e *Engine) RequestWithdrawal(requester, destination []byte, amount uint64, symbol string, requesterSig []byte) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return uuid.Nil, ErrPaused
	}

	token, ok := e.tokens[symbol]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrTokenNotRegistered, symbol)
	}

	msg := withdrawalRequestMessage(requester, destination, amount, symbol)
	if !e.verifier.Verify(requester, msg, requesterSig) {
		return uuid.Nil, fmt.Errorf("bridge: invalid requester signature")
	}

	key := balanceKey{address: string(requester), token: symbol}
	balance := e.balances[key]
	if balance < amount {
		return uuid.Nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance, amount)
	}

	fee := amount * uint64(e.cfg.FeeBasisPoints) / 10000

	withdrawal := &WithdrawalRequest{
		WithdrawalID: uuid.New(),
		Requester:    requester,
		Destination:  destination,
		Amount:       amount,
		Token:        symbol,
		BridgeFee:    fee,
		Status:       WithdrawalPending,
		CreatedAt:    e.now(),
		ExpiresAt:    e.now().Add(time.Duration(e.cfg.WithdrawalTimeout) * time.Second),
	}

	e.balances[key] = balance - amount
	token.TotalSupply -= amount
	e.withdrawals[withdrawal.WithdrawalID] = withdrawal

	if e.observer != nil {
		e.observer.RecordWithdrawal(amount)
	}

	log.Infof("Bridge: withdrawal %s requested: %d %s to %x (fee %d)",
		withdrawal.WithdrawalID, amount, symbol, destination, fee)
	return withdrawal.WithdrawalID, nil
}

func withdrawalRequestMessage(requester, destination []byte, amount uint64, symbol string) []byte {
	return []byte(fmt.Sprintf("withdraw:%x:%x:%d:%s", requester, destination, amount, symbol))
}

func withdrawalSignMessage(id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("withdrawal-sign:%s", id))
}

// SignWithdrawal appends a validator signature and transitions the
// withdrawal to Validated once quorum is met.
func (e *Engine) SignWithdrawal(withdrawalID uuid.UUID, validatorSig ValidatorSignature) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return ErrPaused
	}

	w, ok := e.withdrawals[withdrawalID]
	if !ok {
		return ErrWithdrawalNotFound
	}
	if w.Status == WithdrawalExpired {
		return ErrExpired
	}
	if e.now().After(w.ExpiresAt) {
		e.expireWithdrawal(w)
		return ErrExpired
	}

	v, ok := e.validators[pubkeyKey(validatorSig.ValidatorPubkey)]
	if !ok || !v.Active {
		return ErrValidatorNotActive
	}
	if !e.verifier.Verify(validatorSig.ValidatorPubkey, withdrawalSignMessage(withdrawalID), validatorSig.Signature) {
		return fmt.Errorf("bridge: invalid validator signature")
	}

	w.ValidatorSigs = append(w.ValidatorSigs, validatorSig)
	v.SignaturesCount++
	if e.observer != nil {
		e.observer.RecordValidatorActivity(validatorSig.ValidatorPubkey)
	}

	distinct := e.countDistinctActiveSignatures(withdrawalSignMessage(withdrawalID), w.ValidatorSigs)
	if distinct >= int(e.cfg.MinValidators) && w.Status == WithdrawalPending {
		w.Status = WithdrawalValidated
		log.Infof("Bridge: withdrawal %s reached quorum (%d/%d)", withdrawalID, distinct, e.cfg.MinValidators)
	}
	return nil
}

// Broadcaster publishes a signed withdrawal transaction to the target
// chain and returns its transaction hash. Implemented by chainmonitor.
type Broadcaster interface {
	BroadcastTransaction(chain chainmodel.ChainId, rawHex string) (chainmodel.Hash256, error)
}

// ExecuteWithdrawal broadcasts the target-chain payout for a Validated,
// unexpired withdrawal via broadcaster, and transitions it to Executed.
// A broadcast failure leaves the withdrawal Validated and retryable.
func (e *Engine) ExecuteWithdrawal(withdrawalID uuid.UUID, targetChain chainmodel.ChainId, rawTxHex string, broadcaster Broadcaster) (chainmodel.Hash256, error) {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return chainmodel.Hash256{}, ErrPaused
	}
	w, ok := e.withdrawals[withdrawalID]
	if !ok {
		e.mu.Unlock()
		return chainmodel.Hash256{}, ErrWithdrawalNotFound
	}
	if e.now().After(w.ExpiresAt) {
		e.expireWithdrawal(w)
		e.mu.Unlock()
		return chainmodel.Hash256{}, ErrExpired
	}
	if w.Status != WithdrawalValidated {
		e.mu.Unlock()
		if w.Status == WithdrawalPending {
			return chainmodel.Hash256{}, ErrQuorumNotMet
		}
		return chainmodel.Hash256{}, fmt.Errorf("bridge: withdrawal %s not in Validated state (is %s)", withdrawalID, w.Status)
	}
	e.mu.Unlock()

	// Broadcast outside the lock: never call out to another collaborator
	// while holding the engine's mutex.
	txHash, err := broadcaster.BroadcastTransaction(targetChain, rawTxHex)
	if err != nil {
		// Stays Validated; caller may retry.
		return chainmodel.Hash256{}, fmt.Errorf("bridge: broadcast failed, withdrawal remains retryable: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	w.Status = WithdrawalExecuted
	w.TargetTxHash = txHash
	e.feesAccrued[w.Token] += w.BridgeFee
	log.Infof("Bridge: withdrawal %s executed, target tx %s (fee %d to treasury)", withdrawalID, txHash, w.BridgeFee)
	return txHash, nil
}

// AccruedFees returns the cumulative bridge fees collected for symbol,
// owed to the treasury address.
func (e *Engine) AccruedFees(symbol string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feesAccrued[symbol]
}

// expireWithdrawal transitions w to Expired and credits the burnt amount
// back to the requester, undoing the earlier burn symmetrically. Caller must hold e.mu.
func (e *Engine) expireWithdrawal(w *WithdrawalRequest) {
	if w.Status == WithdrawalExpired || w.Status == WithdrawalExecuted {
		return
	}
	w.Status = WithdrawalExpired

	token := e.tokens[w.Token]
	key := balanceKey{address: string(w.Requester), token: w.Token}
	e.balances[key] += w.Amount
	if token != nil {
		token.TotalSupply += w.Amount
	}
	log.Warnf("Bridge: withdrawal %s expired, refunded %d %s to requester", w.WithdrawalID, w.Amount, w.Token)
}

// GetWithdrawal returns a withdrawal's current record, transparently
// expiring it first if its timeout has passed.
func (e *Engine) GetWithdrawal(withdrawalID uuid.UUID) (WithdrawalRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.withdrawals[withdrawalID]
	if !ok {
		return WithdrawalRequest{}, ErrWithdrawalNotFound
	}
	if w.Status != WithdrawalExecuted && e.now().After(w.ExpiresAt) {
		e.expireWithdrawal(w)
	}
	return *w, nil
}

// ListWithdrawals returns every withdrawal requested by requester (or,
// if requester is nil, every withdrawal known to the engine), newest
// first, expiring any that have timed out as it goes. Used by the
// bridge.list_transactions RPC method.
func (e *Engine) ListWithdrawals(requester []byte) []WithdrawalRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]WithdrawalRequest, 0, len(e.withdrawals))
	for _, w := range e.withdrawals {
		if requester != nil && string(w.Requester) != string(requester) {
			continue
		}
		if w.Status != WithdrawalExecuted && e.now().After(w.ExpiresAt) {
			e.expireWithdrawal(w)
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// EmergencyPause blocks token registration, deposit-proof submission,
// minting, and withdrawal request, signing and execution until resumed.
// Validator additions and removals are not blocked.
func (e *Engine) EmergencyPause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	log.Warnf("Bridge: emergency pause engaged")
}

// EmergencyResume lifts an emergency pause.
func (e *Engine) EmergencyResume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	log.Infof("Bridge: emergency pause lifted")
}

// IsPaused reports the current pause state. Views remain available while
// paused.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Config returns the engine's current configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// addUint64 adds two uint64s, returning an error instead of silently
// wrapping on overflow.
func addUint64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("uint64 addition overflow: %d + %d", a, b)
	}
	return a + b, nil
}
