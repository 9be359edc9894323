package chainmonitor

import (
	"fmt"

	"github.com/intcoin/bridge/chainmodel"
)

// NewIntcoinMonitor constructs the monitor for INTcoin's own node. The
// node exposes the same bitcoind-style JSON-RPC surface as the remote
// BTC-family chains, so the shared Monitor applies directly; only the
// rescan depth and the faster poll interval differ.
func NewIntcoinMonitor(chain chainmodel.ChainId, rpc RPCChain) (*Monitor, error) {
	if chain.Mainnet() != chainmodel.ChainIntcoin {
		return nil, fmt.Errorf("chainmonitor: NewIntcoinMonitor requires an INTcoin chain id, got %s", chain)
	}
	return NewMonitor(chain, rpc, RescanDepthINT, PollIntervalIntcoin), nil
}

// NewBtcMonitor constructs the Bitcoin monitor with the Bitcoin rescan
// depth and BTC-family poll interval.
func NewBtcMonitor(chain chainmodel.ChainId, rpc RPCChain) (*Monitor, error) {
	if chain.Mainnet() != chainmodel.ChainBitcoin {
		return nil, fmt.Errorf("chainmonitor: NewBtcMonitor requires a Bitcoin chain id, got %s", chain)
	}
	return NewMonitor(chain, rpc, RescanDepthBTC, PollIntervalBTCFamily), nil
}
