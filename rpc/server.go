package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/intcoin/bridge/bridge"
	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/htlc"
	"github.com/intcoin/bridge/swap"
)

// handlerFunc decodes params, calls into the bridge/swap collaborators,
// and returns a JSON-serializable result.
type handlerFunc func(params json.RawMessage) (interface{}, error)

// Server dispatches bridge.* and swap.* JSON-RPC 2.0 requests to a
// bridge.Engine and swap.Coordinator, one handler per method.
type Server struct {
	bridgeEngine *bridge.Engine
	coordinator  *swap.Coordinator
	handlers     map[string]handlerFunc
}

// NewServer builds a Server wired to engine and coordinator and
// registers every bridge.*/swap.* method.
func NewServer(engine *bridge.Engine, coordinator *swap.Coordinator) *Server {
	s := &Server{bridgeEngine: engine, coordinator: coordinator}
	s.handlers = map[string]handlerFunc{
		"bridge.deposit":           s.handleBridgeDeposit,
		"bridge.withdraw":          s.handleBridgeWithdraw,
		"bridge.get_balance":       s.handleGetBridgeBalance,
		"bridge.list_transactions": s.handleListBridgeTransactions,
		"bridge.info":              s.handleGetBridgeInfo,
		"swap.create_offer":        s.handleCreateOffer,
		"swap.accept_offer":        s.handleAcceptOffer,
		"swap.get_info":            s.handleGetSwapInfo,
		"swap.list_active":         s.handleListActive,
	}
	return s
}

// Dispatch handles a single Request and always returns a Response (never
// an error return), matching JSON-RPC 2.0's envelope-carries-the-error
// convention.
func (s *Server) Dispatch(req Request) Response {
	resp := Response{Jsonrpc: "2.0", ID: req.ID}

	handler, ok := s.handlers[req.Method]
	if !ok {
		resp.Error = &Error{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}

	result, err := handler(req.Params)
	if err != nil {
		resp.Error = &Error{Code: ErrCodeInternal, Message: err.Error()}
		return resp
	}
	resp.Result = result
	return resp
}

func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return fmt.Errorf("rpc: %w: missing params", errInvalidParams)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("rpc: %w: %v", errInvalidParams, err)
	}
	return nil
}

func decodeHexBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func (s *Server) handleBridgeDeposit(params json.RawMessage) (interface{}, error) {
	var cmd BridgeDepositCmd
	if err := decodeParams(params, &cmd); err != nil {
		return nil, err
	}

	chain, err := chainmodel.ParseChainId(cmd.Chain)
	if err != nil {
		return nil, err
	}
	txHash, err := chainmodel.Hash256FromHex(cmd.TxHash)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid tx_hash: %w", err)
	}
	depositor, err := decodeHexBytes(cmd.Depositor)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid depositor: %w", err)
	}
	recipient, err := decodeHexBytes(cmd.Recipient)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid recipient: %w", err)
	}

	sigs := make([]bridge.ValidatorSignature, 0, len(cmd.ValidatorSigs))
	for _, sp := range cmd.ValidatorSigs {
		pubkey, err := decodeHexBytes(sp.ValidatorPubkeyHex)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid validator pubkey: %w", err)
		}
		sig, err := decodeHexBytes(sp.SignatureHex)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid validator signature: %w", err)
		}
		sigs = append(sigs, bridge.ValidatorSignature{ValidatorPubkey: pubkey, Signature: sig})
	}

	proof := bridge.DepositProof{
		SourceTxHash:       txHash,
		SourceChain:        chain,
		BlockNumber:        cmd.BlockNumber,
		Depositor:          depositor,
		RecipientOnIntcoin: recipient,
		Amount:             cmd.Amount,
		Token:              cmd.Token,
		ValidatorSigs:      sigs,
	}

	proofID, err := s.bridgeEngine.SubmitDepositProof(proof)
	if err != nil {
		return nil, err
	}
	return BridgeDepositResult{
		ProofID: proofID.String(),
		Status:  "validated",
		Amount:  cmd.Amount,
		Token:   cmd.Token,
	}, nil
}

func (s *Server) handleBridgeWithdraw(params json.RawMessage) (interface{}, error) {
	var cmd BridgeWithdrawCmd
	if err := decodeParams(params, &cmd); err != nil {
		return nil, err
	}

	requester, err := decodeHexBytes(cmd.Requester)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid requester: %w", err)
	}
	destination, err := decodeHexBytes(cmd.Destination)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid destination: %w", err)
	}
	sig, err := decodeHexBytes(cmd.Signature)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid signature: %w", err)
	}

	withdrawalID, err := s.bridgeEngine.RequestWithdrawal(requester, destination, cmd.Amount, cmd.Token, sig)
	if err != nil {
		return nil, err
	}
	return BridgeWithdrawResult{
		WithdrawalID:       withdrawalID.String(),
		Status:             "pending",
		RequiredSignatures: s.bridgeEngine.Config().MinValidators,
		CurrentSignatures:  0,
	}, nil
}

func (s *Server) handleGetBridgeBalance(params json.RawMessage) (interface{}, error) {
	var cmd GetBridgeBalanceCmd
	if err := decodeParams(params, &cmd); err != nil {
		return nil, err
	}
	address, err := decodeHexBytes(cmd.Address)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid address: %w", err)
	}

	symbols := cmd.Tokens
	if len(symbols) == 0 {
		for _, t := range s.bridgeEngine.Tokens() {
			symbols = append(symbols, t.Symbol)
		}
	}
	balances := make(map[string]uint64, len(symbols))
	for _, symbol := range symbols {
		balances[symbol] = s.bridgeEngine.GetBalance(address, symbol)
	}
	return GetBridgeBalanceResult{Address: cmd.Address, Balances: balances}, nil
}

func (s *Server) handleListBridgeTransactions(params json.RawMessage) (interface{}, error) {
	var cmd ListBridgeTransactionsCmd
	// Params are optional for this method; an empty body lists everything.
	if len(params) > 0 {
		if err := decodeParams(params, &cmd); err != nil {
			return nil, err
		}
	}

	var requester []byte
	if cmd.Address != "" {
		var err error
		requester, err = decodeHexBytes(cmd.Address)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid address: %w", err)
		}
	}

	withdrawals := s.bridgeEngine.ListWithdrawals(requester)
	if cmd.Limit > 0 && len(withdrawals) > cmd.Limit {
		withdrawals = withdrawals[:cmd.Limit]
	}

	out := make([]BridgeTransactionView, 0, len(withdrawals))
	for _, w := range withdrawals {
		out = append(out, BridgeTransactionView{
			WithdrawalID: w.WithdrawalID.String(),
			Destination:  hex.EncodeToString(w.Destination),
			Amount:       w.Amount,
			Token:        w.Token,
			Fee:          w.BridgeFee,
			Status:       w.Status.String(),
		})
	}
	return ListBridgeTransactionsResult{Transactions: out}, nil
}

func (s *Server) handleGetBridgeInfo(params json.RawMessage) (interface{}, error) {
	validators := s.bridgeEngine.Validators()
	active := 0
	for _, v := range validators {
		if v.Active {
			active++
		}
	}

	tokens := s.bridgeEngine.Tokens()
	symbols := make([]string, 0, len(tokens))
	for _, t := range tokens {
		symbols = append(symbols, t.Symbol)
	}

	cfg := s.bridgeEngine.Config()
	status := "active"
	if s.bridgeEngine.IsPaused() {
		status = "paused"
	}
	return GetBridgeInfoResult{
		Status: status,
		Validators: BridgeValidatorsInfo{
			Total:     len(validators),
			Active:    active,
			Threshold: cfg.MinValidators,
		},
		Tokens: symbols,
		ConfirmationsPerChain: map[string]uint32{
			"bitcoin":  cfg.MinConfirmationsBTC,
			"ethereum": cfg.MinConfirmationsETH,
			"litecoin": cfg.MinConfirmationsLTC,
		},
		FeeBasisPoints:    cfg.FeeBasisPoints,
		MinValidatorStake: cfg.MinValidatorStake,
		WithdrawalTimeout: cfg.WithdrawalTimeout,
	}, nil
}

func (s *Server) handleCreateOffer(params json.RawMessage) (interface{}, error) {
	var cmd CreateOfferCmd
	if err := decodeParams(params, &cmd); err != nil {
		return nil, err
	}

	initiatorChain, err := chainmodel.ParseChainId(cmd.InitiatorChain)
	if err != nil {
		return nil, err
	}
	participantChain, err := chainmodel.ParseChainId(cmd.ParticipantChain)
	if err != nil {
		return nil, err
	}
	initiatorPubkey, err := decodeHexBytes(cmd.InitiatorPubkey)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid initiator_pubkey: %w", err)
	}

	offer, err := s.coordinator.CreateOffer(initiatorChain, participantChain, cmd.InitiatorAmount, cmd.ParticipantAmount, initiatorPubkey, time.Duration(cmd.LocktimeHours)*time.Hour)
	if err != nil {
		return nil, err
	}
	return CreateOfferResult{
		SwapID:              offer.SwapID.String(),
		PaymentHash:         hex.EncodeToString(offer.PaymentHash),
		InitiatorLocktime:   offer.InitiatorLocktime.Format(time.RFC3339),
		ParticipantLocktime: offer.ParticipantLocktime.Format(time.RFC3339),
		ExpiresAt:           offer.ExpiresAt.Format(time.RFC3339),
	}, nil
}

func (s *Server) handleAcceptOffer(params json.RawMessage) (interface{}, error) {
	var cmd AcceptOfferCmd
	if err := decodeParams(params, &cmd); err != nil {
		return nil, err
	}

	swapID, err := uuid.Parse(cmd.SwapID)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid swap_id: %w", err)
	}
	initiatorChain, err := chainmodel.ParseChainId(cmd.InitiatorChain)
	if err != nil {
		return nil, err
	}
	participantChain, err := chainmodel.ParseChainId(cmd.ParticipantChain)
	if err != nil {
		return nil, err
	}
	paymentHash, err := decodeHexBytes(cmd.PaymentHash)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid payment_hash: %w", err)
	}
	initiatorPubkey, err := decodeHexBytes(cmd.InitiatorPubkey)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid initiator_pubkey: %w", err)
	}
	participantPubkey, err := decodeHexBytes(cmd.ParticipantPubkey)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid participant_pubkey: %w", err)
	}
	initiatorLocktime, err := time.Parse(time.RFC3339, cmd.InitiatorLocktime)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid initiator_locktime: %w", err)
	}
	participantLocktime, err := time.Parse(time.RFC3339, cmd.ParticipantLocktime)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid participant_locktime: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339, cmd.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339, cmd.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid expires_at: %w", err)
	}

	offer := swap.SwapOffer{
		SwapID:              swapID,
		InitiatorChain:      initiatorChain,
		ParticipantChain:    participantChain,
		InitiatorAmount:     cmd.InitiatorAmount,
		ParticipantAmount:   cmd.ParticipantAmount,
		PaymentHash:         htlc.PaymentHash(paymentHash),
		InitiatorPubkey:     initiatorPubkey,
		InitiatorLocktime:   initiatorLocktime,
		ParticipantLocktime: participantLocktime,
		CreatedAt:           createdAt,
		ExpiresAt:           expiresAt,
	}

	accepted, err := s.coordinator.AcceptOffer(offer, participantPubkey)
	if err != nil {
		return nil, err
	}
	return AcceptOfferResult{SwapID: accepted.SwapID.String(), Status: "accepted"}, nil
}

func (s *Server) handleGetSwapInfo(params json.RawMessage) (interface{}, error) {
	var cmd GetSwapInfoCmd
	if err := decodeParams(params, &cmd); err != nil {
		return nil, err
	}
	swapID, err := uuid.Parse(cmd.SwapID)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid swap_id: %w", err)
	}
	info, err := s.coordinator.GetSwapInfo(swapID)
	if err != nil {
		return nil, err
	}
	return GetSwapInfoResult{Swap: toSwapInfoView(info)}, nil
}

func (s *Server) handleListActive(params json.RawMessage) (interface{}, error) {
	infos := s.coordinator.ListActive()
	views := make([]SwapInfoView, 0, len(infos))
	for _, info := range infos {
		views = append(views, toSwapInfoView(info))
	}
	return ListActiveResult{Swaps: views}, nil
}

func toSwapInfoView(info swap.SwapInfo) SwapInfoView {
	return SwapInfoView{
		SwapID:        info.Offer.SwapID.String(),
		State:         info.State.String(),
		Role:          info.Role.String(),
		FailureReason: info.FailureReason,
		UpdatedAt:     info.UpdatedAt.Format(time.RFC3339),
	}
}
