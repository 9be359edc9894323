package rpc

// CreateOfferCmd defines the swap.create_offer JSON-RPC command.
type CreateOfferCmd struct {
	InitiatorChain    string `json:"initiator_chain"`
	ParticipantChain  string `json:"participant_chain"`
	InitiatorAmount   uint64 `json:"initiator_amount"`
	ParticipantAmount uint64 `json:"participant_amount"`
	InitiatorPubkey   string `json:"initiator_pubkey"`
	LocktimeHours     uint32 `json:"locktime_hours"`
}

// CreateOfferResult is the result of swap.create_offer.
type CreateOfferResult struct {
	SwapID              string `json:"swap_id"`
	PaymentHash         string `json:"payment_hash"`
	InitiatorLocktime   string `json:"initiator_locktime"`
	ParticipantLocktime string `json:"participant_locktime"`
	ExpiresAt           string `json:"expires_at"`
}

// AcceptOfferCmd defines the swap.accept_offer JSON-RPC command. It
// carries the full offer as received from the initiator out of band,
// plus the participant's own pubkey.
type AcceptOfferCmd struct {
	SwapID              string `json:"swap_id"`
	InitiatorChain      string `json:"initiator_chain"`
	ParticipantChain    string `json:"participant_chain"`
	InitiatorAmount     uint64 `json:"initiator_amount"`
	ParticipantAmount   uint64 `json:"participant_amount"`
	PaymentHash         string `json:"payment_hash"`
	InitiatorPubkey     string `json:"initiator_pubkey"`
	ParticipantPubkey   string `json:"participant_pubkey"`
	InitiatorLocktime   string `json:"initiator_locktime"`
	ParticipantLocktime string `json:"participant_locktime"`
	CreatedAt           string `json:"created_at"`
	ExpiresAt           string `json:"expires_at"`
}

// AcceptOfferResult is the result of swap.accept_offer.
type AcceptOfferResult struct {
	SwapID string `json:"swap_id"`
	Status string `json:"status"`
}

// GetSwapInfoCmd defines the swap.get_info JSON-RPC command.
type GetSwapInfoCmd struct {
	SwapID string `json:"swap_id"`
}

// SwapInfoView is the wire representation of swap.SwapInfo.
type SwapInfoView struct {
	SwapID        string `json:"swap_id"`
	State         string `json:"state"`
	Role          string `json:"role"`
	FailureReason string `json:"failure_reason,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

// GetSwapInfoResult is the result of swap.get_info.
type GetSwapInfoResult struct {
	Swap SwapInfoView `json:"swap"`
}

// ListActiveCmd defines the swap.list_active JSON-RPC command.
type ListActiveCmd struct{}

// ListActiveResult is the result of swap.list_active.
type ListActiveResult struct {
	Swaps []SwapInfoView `json:"swaps"`
}
