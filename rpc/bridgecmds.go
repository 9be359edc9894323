package rpc

// ValidatorSigParam is a hex-encoded validator signature, as carried over
// the wire in BridgeDepositCmd.ValidatorSigs.
type ValidatorSigParam struct {
	ValidatorPubkeyHex string `json:"validator_pubkey"`
	SignatureHex       string `json:"signature"`
}

// BridgeDepositCmd defines the bridge.deposit JSON-RPC command:
// "Submit a deposit proof to the bridge".
type BridgeDepositCmd struct {
	Chain         string              `json:"chain"`
	Token         string              `json:"token"`
	TxHash        string              `json:"tx_hash"`
	BlockNumber   uint64              `json:"block_number"`
	Depositor     string              `json:"depositor"`
	Recipient     string              `json:"recipient"`
	Amount        uint64              `json:"amount"`
	ValidatorSigs []ValidatorSigParam `json:"validator_sigs"`
}

// BridgeDepositResult is the result of bridge.deposit.
type BridgeDepositResult struct {
	ProofID string `json:"proof_id"`
	Status  string `json:"status"`
	Amount  uint64 `json:"amount"`
	Token   string `json:"token"`
}

// BridgeWithdrawCmd defines the bridge.withdraw JSON-RPC command.
type BridgeWithdrawCmd struct {
	Chain       string `json:"chain"`
	Token       string `json:"token"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
	Signature   string `json:"signature"`
	Requester   string `json:"requester"`
}

// BridgeWithdrawResult is the result of bridge.withdraw.
type BridgeWithdrawResult struct {
	WithdrawalID       string `json:"withdrawal_id"`
	Status             string `json:"status"`
	RequiredSignatures uint32 `json:"required_signatures"`
	CurrentSignatures  int    `json:"current_signatures"`
}

// GetBridgeBalanceCmd defines the bridge.get_balance JSON-RPC command.
type GetBridgeBalanceCmd struct {
	Address string   `json:"address"`
	Tokens  []string `json:"tokens,omitempty"`
}

// GetBridgeBalanceResult is the result of bridge.get_balance.
type GetBridgeBalanceResult struct {
	Address  string            `json:"address"`
	Balances map[string]uint64 `json:"balances"`
}

// ListBridgeTransactionsCmd defines the bridge.list_transactions command.
type ListBridgeTransactionsCmd struct {
	Address string `json:"address,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// BridgeTransactionView is a single entry of bridge.list_transactions.
type BridgeTransactionView struct {
	WithdrawalID string `json:"withdrawal_id"`
	Destination  string `json:"destination"`
	Amount       uint64 `json:"amount"`
	Token        string `json:"token"`
	Fee          uint64 `json:"fee"`
	Status       string `json:"status"`
}

// ListBridgeTransactionsResult is the result of bridge.list_transactions.
type ListBridgeTransactionsResult struct {
	Transactions []BridgeTransactionView `json:"transactions"`
}

// GetBridgeInfoCmd defines the bridge.info JSON-RPC command.
type GetBridgeInfoCmd struct{}

// BridgeValidatorsInfo summarizes the signing federation for bridge.info.
type BridgeValidatorsInfo struct {
	Total     int    `json:"total"`
	Active    int    `json:"active"`
	Threshold uint32 `json:"threshold"`
}

// GetBridgeInfoResult is the result of bridge.info.
type GetBridgeInfoResult struct {
	Status                string               `json:"status"` // active | paused
	Validators            BridgeValidatorsInfo `json:"validators"`
	Tokens                []string             `json:"tokens"`
	ConfirmationsPerChain map[string]uint32    `json:"confirmations_per_chain"`
	FeeBasisPoints        uint32               `json:"fee_basis_points"`
	MinValidatorStake     uint64               `json:"min_validator_stake"`
	WithdrawalTimeout     uint64               `json:"withdrawal_timeout"`
}
