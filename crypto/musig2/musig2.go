// Package musig2 implements MuSig2 aggregated signatures for the bridge
// validator federation: when a bridge instance is configured with the
// aggregate signature scheme, the validator quorum co-signs withdrawal
// messages through a three-phase session (nonce commit, nonce reveal,
// partial sign) and submits the single resulting signature instead of
// M independent ones.
package musig2

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Session represents one MuSig2 signing session over a single message,
// typically a withdrawal signing digest. Signers progress independently
// through the phases; the session finalizes as soon as the threshold is
// reached.
type Session struct {
	// Session metadata
	SessionID [32]byte  `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Signers and threshold
	Signers   []SignerInfo `json:"signers"`
	Threshold int          `json:"threshold"`

	// Message being signed
	Message     []byte   `json:"message"`
	MessageHash [32]byte `json:"message_hash"`

	// Aggregated key of the full signer set
	AggregatedKey *btcec.PublicKey `json:"aggregated_key"`

	// Session state
	State SessionState `json:"state"`

	// Nonce commitments and reveals, keyed by signer ID
	NonceCommitments map[string]NonceCommitment `json:"nonce_commitments"`
	NonceReveals     map[string]NonceReveal     `json:"nonce_reveals"`

	// Partial signatures, keyed by signer ID
	PartialSigs map[string]PartialSignature `json:"partial_signatures"`

	// Final result
	FinalSignature *schnorr.Signature `json:"final_signature,omitempty"`

	mutex sync.RWMutex

	// Error tracking
	Errors []SessionError `json:"errors,omitempty"`

	// HSM integration for validators whose keys live in hardware
	HSMProviders map[string]HSMProvider `json:"-"` // Not serialized
}

// SignerInfo describes one federation signer in a session.
type SignerInfo struct {
	ID           string          `json:"id"`
	PublicKey    btcec.PublicKey `json:"public_key"`
	KeyCoeff     *big.Int        `json:"key_coeff"`
	IsHSM        bool            `json:"is_hsm"`
	HSMPath      string          `json:"hsm_path,omitempty"`
	LastActivity time.Time       `json:"last_activity"`
	Status       SignerStatus    `json:"status"`
}

// SignerStatus tracks a single signer's progress through the session.
type SignerStatus uint8

const (
	SignerJoined SignerStatus = iota
	SignerNonceCommitted
	SignerNonceRevealed
	SignerSignatureProvided
	SignerCompleted
	SignerFailed
	SignerTimeout
)

// SessionState tracks the overall session progress.
type SessionState uint8

const (
	SessionInitialized SessionState = iota
	SessionNonceCommitPhase
	SessionNonceRevealPhase
	SessionSigningPhase
	SessionCompleted
	SessionFailed
	SessionExpired
)

// NonceCommitment is the first phase of MuSig2 signing: a hash binding
// the signer to its nonce pair before any nonce is revealed.
type NonceCommitment struct {
	SignerID   string    `json:"signer_id"`
	Commitment [32]byte  `json:"commitment"`
	Timestamp  time.Time `json:"timestamp"`
}

// NonceReveal is the second phase: the signer opens its commitment.
type NonceReveal struct {
	SignerID  string           `json:"signer_id"`
	R1        *btcec.PublicKey `json:"r1"`
	R2        *btcec.PublicKey `json:"r2"`
	Timestamp time.Time        `json:"timestamp"`
}

// PartialSignature is one signer's contribution to the final signature.
type PartialSignature struct {
	SignerID  string    `json:"signer_id"`
	S         *big.Int  `json:"s"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionError records a per-signer failure without aborting the whole
// session; the federation only needs Threshold honest signers.
type SessionError struct {
	SignerID  string    `json:"signer_id,omitempty"`
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HSMProvider integrates validators whose signing keys live in a
// hardware security module.
type HSMProvider interface {
	// Generate a nonce pair for MuSig2
	GenerateNonce(sessionID [32]byte, signerID string) (r1, r2 *btcec.PrivateKey, err error)

	// Create partial signature using HSM
	PartialSign(sessionID [32]byte, signerID string, challenge *big.Int, privateKey string) (*big.Int, error)

	// Get public key from HSM
	GetPublicKey(keyPath string) (*btcec.PublicKey, error)

	// Check if HSM is available
	IsAvailable() bool
}

// NewSession creates a MuSig2 signing session over message for the
// given signer set. threshold is the number of signers that must
// complete all three phases before the session finalizes; it plays the
// same role as the bridge's min_validators quorum.
func NewSession(signers []btcec.PublicKey, signerIDs []string, threshold int, message []byte, expiryDuration time.Duration) (*Session, error) {
	if len(signers) != len(signerIDs) {
		return nil, fmt.Errorf("signer count mismatch: %d keys, %d IDs", len(signers), len(signerIDs))
	}

	if threshold > len(signers) {
		return nil, fmt.Errorf("threshold %d exceeds signers %d", threshold, len(signers))
	}

	if threshold < 1 {
		return nil, fmt.Errorf("threshold must be at least 1")
	}

	now := time.Now()
	expiresAt := now.Add(expiryDuration)

	// Session ID commits to the signer set, the message, and the start
	// time, so two sessions over the same withdrawal never collide.
	sessionData := make([]byte, 0)
	for _, pk := range signers {
		sessionData = append(sessionData, pk.SerializeCompressed()...)
	}
	sessionData = append(sessionData, message...)

	timeBytes := make([]byte, 8)
	for i := 0; i < 8; i++ {
		timeBytes[i] = byte(now.UnixNano() >> (8 * i))
	}
	sessionData = append(sessionData, timeBytes...)

	sessionID := sha256.Sum256(sessionData)
	messageHash := sha256.Sum256(message)

	keyCoeffs, err := computeKeyCoefficients(signers)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key coefficients: %v", err)
	}

	signerInfos := make([]SignerInfo, len(signers))
	for i, pk := range signers {
		signerInfos[i] = SignerInfo{
			ID:           signerIDs[i],
			PublicKey:    pk,
			KeyCoeff:     keyCoeffs[i],
			IsHSM:        false,
			LastActivity: now,
			Status:       SignerJoined,
		}
	}

	aggKey, err := KeyAgg(signers)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate keys: %v", err)
	}

	session := &Session{
		SessionID:        sessionID,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
		Signers:          signerInfos,
		Threshold:        threshold,
		Message:          message,
		MessageHash:      messageHash,
		AggregatedKey:    aggKey,
		State:            SessionInitialized,
		NonceCommitments: make(map[string]NonceCommitment),
		NonceReveals:     make(map[string]NonceReveal),
		PartialSigs:      make(map[string]PartialSignature),
		Errors:           make([]SessionError, 0),
		HSMProviders:     make(map[string]HSMProvider),
	}

	return session, nil
}

// AddNonceCommitment records a signer's nonce commitment (phase 1).
func (s *Session) AddNonceCommitment(signerID string, commitment [32]byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State != SessionInitialized && s.State != SessionNonceCommitPhase {
		return fmt.Errorf("invalid state for nonce commitment: %v", s.State)
	}

	if time.Now().After(s.ExpiresAt) {
		s.State = SessionExpired
		return fmt.Errorf("session expired")
	}

	signerIndex := s.findSigner(signerID)
	if signerIndex == -1 {
		return fmt.Errorf("signer %s not found", signerID)
	}

	s.NonceCommitments[signerID] = NonceCommitment{
		SignerID:   signerID,
		Commitment: commitment,
		Timestamp:  time.Now(),
	}

	s.Signers[signerIndex].Status = SignerNonceCommitted
	s.Signers[signerIndex].LastActivity = time.Now()

	if s.State == SessionInitialized {
		s.State = SessionNonceCommitPhase
	}

	if len(s.NonceCommitments) >= s.Threshold {
		s.State = SessionNonceRevealPhase
	}

	return nil
}

// AddNonceReveal opens a signer's nonce commitment (phase 2). The
// reveal is rejected if it does not match the earlier commitment.
func (s *Session) AddNonceReveal(signerID string, r1, r2 *btcec.PublicKey) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State != SessionNonceRevealPhase {
		return fmt.Errorf("invalid state for nonce reveal: %v", s.State)
	}

	if time.Now().After(s.ExpiresAt) {
		s.State = SessionExpired
		return fmt.Errorf("session expired")
	}

	commitment, exists := s.NonceCommitments[signerID]
	if !exists {
		return fmt.Errorf("no nonce commitment found for signer %s", signerID)
	}

	if !verifyNonceCommitment(commitment.Commitment, r1, r2) {
		s.addError(signerID, "NONCE_MISMATCH", "nonce reveal does not match commitment")
		return fmt.Errorf("nonce reveal does not match commitment")
	}

	signerIndex := s.findSigner(signerID)
	if signerIndex == -1 {
		return fmt.Errorf("signer %s not found", signerID)
	}

	s.NonceReveals[signerID] = NonceReveal{
		SignerID:  signerID,
		R1:        r1,
		R2:        r2,
		Timestamp: time.Now(),
	}

	s.Signers[signerIndex].Status = SignerNonceRevealed
	s.Signers[signerIndex].LastActivity = time.Now()

	if len(s.NonceReveals) >= s.Threshold {
		s.State = SessionSigningPhase
	}

	return nil
}

// AddPartialSignature records a signer's partial signature (phase 3).
// Once the threshold is met the session finalizes the aggregate
// signature.
func (s *Session) AddPartialSignature(signerID string, partialSig *big.Int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State != SessionSigningPhase {
		return fmt.Errorf("invalid state for partial signature: %v", s.State)
	}

	if time.Now().After(s.ExpiresAt) {
		s.State = SessionExpired
		return fmt.Errorf("session expired")
	}

	if _, exists := s.NonceReveals[signerID]; !exists {
		return fmt.Errorf("no nonce reveal found for signer %s", signerID)
	}

	signerIndex := s.findSigner(signerID)
	if signerIndex == -1 {
		return fmt.Errorf("signer %s not found", signerID)
	}

	if !s.verifyPartialSignature(signerID, partialSig) {
		s.addError(signerID, "INVALID_PARTIAL_SIG", "partial signature verification failed")
		return fmt.Errorf("invalid partial signature from %s", signerID)
	}

	s.PartialSigs[signerID] = PartialSignature{
		SignerID:  signerID,
		S:         partialSig,
		Timestamp: time.Now(),
	}

	s.Signers[signerIndex].Status = SignerSignatureProvided
	s.Signers[signerIndex].LastActivity = time.Now()

	if len(s.PartialSigs) >= s.Threshold {
		if err := s.finalizeSignature(); err != nil {
			s.State = SessionFailed
			s.addError("", "FINALIZATION_FAILED", err.Error())
			return fmt.Errorf("failed to finalize signature: %v", err)
		}
		s.State = SessionCompleted
	}

	return nil
}

// finalizeSignature aggregates partial signatures and nonces into the
// final BIP-340 signature and verifies it against the aggregated key.
func (s *Session) finalizeSignature() error {
	if len(s.PartialSigs) < s.Threshold {
		return fmt.Errorf("insufficient partial signatures: have %d, need %d", len(s.PartialSigs), s.Threshold)
	}

	aggregatedR, err := s.aggregateNonces()
	if err != nil {
		return fmt.Errorf("failed to aggregate nonces: %v", err)
	}

	aggregatedS := new(big.Int)
	count := 0
	for _, partialSig := range s.PartialSigs {
		if count >= s.Threshold {
			break
		}
		aggregatedS.Add(aggregatedS, partialSig.S)
		aggregatedS.Mod(aggregatedS, btcec.S256().N)
		count++
	}

	var sScalar btcec.ModNScalar
	sScalar.SetByteSlice(aggregatedS.Bytes())

	signature := schnorr.NewSignature(aggregatedR, &sScalar)

	if !signature.Verify(s.MessageHash[:], s.AggregatedKey) {
		return fmt.Errorf("final signature verification failed")
	}

	s.FinalSignature = signature
	return nil
}

// KeyAgg aggregates the signer set into a single public key, weighting
// each key by its coefficient so no signer can choose a key that
// cancels the others (rogue key attack).
func KeyAgg(pubKeys []btcec.PublicKey) (*btcec.PublicKey, error) {
	if len(pubKeys) == 0 {
		return nil, fmt.Errorf("no public keys provided")
	}

	if len(pubKeys) == 1 {
		return &pubKeys[0], nil
	}

	coeffs, err := computeKeyCoefficients(pubKeys)
	if err != nil {
		return nil, err
	}

	var acc btcec.JacobianPoint
	for i := range pubKeys {
		var coeff btcec.ModNScalar
		coeff.SetByteSlice(coeffs[i].Bytes())

		var point, scaled btcec.JacobianPoint
		pubKeys[i].AsJacobian(&point)
		btcec.ScalarMultNonConst(&coeff, &point, &scaled)
		btcec.AddNonConst(&acc, &scaled, &acc)
	}

	if acc.Z.IsZero() {
		return nil, fmt.Errorf("aggregated key is the point at infinity")
	}
	acc.ToAffine()
	return btcec.NewPublicKey(&acc.X, &acc.Y), nil
}

// computeKeyCoefficients computes the MuSig2 per-key coefficients
// a_i = H(all_keys || pk_i) mod n.
func computeKeyCoefficients(pubKeys []btcec.PublicKey) ([]*big.Int, error) {
	if len(pubKeys) == 1 {
		return []*big.Int{big.NewInt(1)}, nil
	}

	allKeysData := make([]byte, 0, len(pubKeys)*33)
	for _, pk := range pubKeys {
		allKeysData = append(allKeysData, pk.SerializeCompressed()...)
	}

	coeffs := make([]*big.Int, len(pubKeys))
	for i, pk := range pubKeys {
		h := sha256.New()
		h.Write(allKeysData)
		h.Write(pk.SerializeCompressed())
		hash := h.Sum(nil)

		coeffs[i] = new(big.Int).SetBytes(hash)
		coeffs[i].Mod(coeffs[i], btcec.S256().N)
	}

	return coeffs, nil
}

func (s *Session) findSigner(signerID string) int {
	for i, p := range s.Signers {
		if p.ID == signerID {
			return i
		}
	}
	return -1
}

func (s *Session) addError(signerID, errorType, message string) {
	s.Errors = append(s.Errors, SessionError{
		SignerID:  signerID,
		ErrorType: errorType,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func verifyNonceCommitment(commitment [32]byte, r1, r2 *btcec.PublicKey) bool {
	h := sha256.New()
	h.Write(r1.SerializeCompressed())
	h.Write(r2.SerializeCompressed())
	computed := h.Sum(nil)

	return commitment == [32]byte(computed)
}

func (s *Session) verifyPartialSignature(signerID string, partialSig *big.Int) bool {
	// Range check only; the binding verification s_i*G == R_i + b*R2_i
	// + e*a_i*P_i happens implicitly when the aggregate signature is
	// verified at finalization.
	return partialSig.Sign() >= 0 && partialSig.Cmp(btcec.S256().N) < 0
}

// aggregateNonces folds the revealed nonce pairs into the session's
// effective nonce point R = sum(R1_i) + b*sum(R2_i), with the binding
// coefficient b = H(R1_agg || R2_agg || P || m) mod n.
func (s *Session) aggregateNonces() (*btcec.FieldVal, error) {
	var r1Agg, r2Agg btcec.JacobianPoint
	count := 0
	for _, reveal := range s.NonceReveals {
		if count >= s.Threshold {
			break
		}
		var p1, p2 btcec.JacobianPoint
		reveal.R1.AsJacobian(&p1)
		reveal.R2.AsJacobian(&p2)
		btcec.AddNonConst(&r1Agg, &p1, &r1Agg)
		btcec.AddNonConst(&r2Agg, &p2, &r2Agg)
		count++
	}

	if r1Agg.Z.IsZero() {
		return nil, fmt.Errorf("no nonces to aggregate")
	}
	r1Agg.ToAffine()
	if !r2Agg.Z.IsZero() {
		r2Agg.ToAffine()
	}

	b := s.computeBindingCoefficient(&r1Agg, &r2Agg)

	var bScalar btcec.ModNScalar
	bScalar.SetByteSlice(b.Bytes())

	var scaled, result btcec.JacobianPoint
	btcec.ScalarMultNonConst(&bScalar, &r2Agg, &scaled)
	btcec.AddNonConst(&r1Agg, &scaled, &result)

	if result.Z.IsZero() {
		return nil, fmt.Errorf("aggregated nonce is the point at infinity")
	}
	result.ToAffine()
	return &result.X, nil
}

func (s *Session) computeBindingCoefficient(r1, r2 *btcec.JacobianPoint) *big.Int {
	h := sha256.New()
	h.Write(r1.X.Bytes()[:])
	h.Write(r2.X.Bytes()[:])
	h.Write(s.AggregatedKey.SerializeCompressed())
	h.Write(s.Message)
	b := new(big.Int).SetBytes(h.Sum(nil))
	b.Mod(b, btcec.S256().N)
	return b
}

// GetSessionStatus returns the session state, the number of signers
// that have provided a signature, and the threshold.
func (s *Session) GetSessionStatus() (SessionState, int, int) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	completedCount := 0
	for _, p := range s.Signers {
		if p.Status >= SignerSignatureProvided {
			completedCount++
		}
	}

	return s.State, completedCount, s.Threshold
}

// FederationSession creates a signing session parameterized the way the
// bridge federation signs withdrawals: threshold is the bridge's
// min_validators and expiry matches the withdrawal timeout, so a
// signature that cannot be assembled before the withdrawal expires is
// abandoned with it.
func FederationSession(validators []btcec.PublicKey, validatorIDs []string, minValidators int, message []byte, withdrawalTimeout time.Duration) (*Session, error) {
	if len(validators) == 0 {
		return nil, fmt.Errorf("federation requires at least one validator")
	}
	return NewSession(validators, validatorIDs, minValidators, message, withdrawalTimeout)
}
