package storage

import "fmt"

// Key builders for every persisted namespace. Kept in one
// file so the full key namespace is visible at a glance.

func HeaderKey(chain string, hash string) string {
	return fmt.Sprintf("headers/%s/%s", chain, hash)
}

func HeaderByHeightKey(chain string, height uint64) string {
	return fmt.Sprintf("headers/%s/by_height/%d", chain, height)
}

func HeaderTipKey(chain string) string {
	return fmt.Sprintf("headers/%s/tip", chain)
}

func SwapKey(swapID string) string {
	return fmt.Sprintf("swaps/%s", swapID)
}

func SwapPreimageKey(swapID string) string {
	return fmt.Sprintf("swaps/preimages/%s", swapID)
}

const SwapPrefix = "swaps/"

func BridgeTokenKey(symbol string) string {
	return fmt.Sprintf("bridge/tokens/%s", symbol)
}

func BridgeBalanceKey(addressHex, symbol string) string {
	return fmt.Sprintf("bridge/balances/%s/%s", addressHex, symbol)
}

func BridgeProofKey(proofID string) string {
	return fmt.Sprintf("bridge/proofs/%s", proofID)
}

func BridgeWithdrawalKey(withdrawalID string) string {
	return fmt.Sprintf("bridge/withdrawals/%s", withdrawalID)
}

func BridgeValidatorKey(pubkeyHex string) string {
	return fmt.Sprintf("bridge/validators/%s", pubkeyHex)
}

const BridgeWithdrawalPrefix = "bridge/withdrawals/"

const BridgeConfigKey = "bridge/config"
