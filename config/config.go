// Package config parses the process-wide configuration for the
// cross-chain bridge daemon using github.com/jessevdk/go-flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/intcoin/bridge/bridge"
	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/htlc"
)

// ChainEndpoint describes how to reach one remote chain's RPC, built
// from the repeatable chain.<name>.<field>=value options.
type ChainEndpoint struct {
	Chain   string
	RPCHost string
	RPCUser string
	RPCPass string
	UseTLS  bool

	PollInterval time.Duration
}

// ChainMonitorConfig configures the chain monitors: rescan depths,
// poll intervals, and remote endpoints.
type ChainMonitorConfig struct {
	Chains map[string]string `long:"chain" description:"chain.<name>.<field>=value, repeatable"`

	RescanDepthBTC  uint32        `long:"rescandepthbtc" default:"6" description:"blocks to rescan on each Bitcoin poll"`
	RescanDepthLTC  uint32        `long:"rescandepthltc" default:"12" description:"blocks to rescan on each Litecoin poll"`
	RescanDepthETH  uint32        `long:"rescandeptheth" default:"12" description:"blocks to rescan on each Ethereum poll"`
	RescanDepthINT  uint32        `long:"rescandepthint" default:"12" description:"blocks to rescan on each INTcoin poll"`
	PollInterval    time.Duration `long:"pollinterval" default:"10s" description:"poll interval for BTC-family chains"`
	PollIntervalINT time.Duration `long:"pollintervalint" default:"2s" description:"poll interval for INTcoin"`

	EthHTLCContract string `long:"ethhtlccontract" description:"address of the reference HTLC contract watched on Ethereum"`
}

// SPVConfig configures the SPV header chains: the checkpoint map and
// reorg depth.
type SPVConfig struct {
	MaxReorgDepth uint32            `long:"maxreorgdepth" default:"100" description:"maximum chain reorg depth accepted"`
	Checkpoints   map[string]string `long:"checkpoint" description:"spv.checkpoint.<height>=<hash>, repeatable"`
}

// SwapConfig configures the atomic swap coordinator.
type SwapConfig struct {
	HashAlgorithm             string        `long:"hashalgorithm" default:"sha256" description:"payment hash algorithm: sha256, ripemd160, sha3-256"`
	SafetyBufferHours         uint32        `long:"safetybufferhours" default:"24" description:"minimum gap between initiator and participant locktimes"`
	FundingDeadlineHours      uint32        `long:"fundingdeadlinehours" default:"48" description:"hours after acceptance the initiator has to fund before auto-fail"`
	ClaimRetryWindow          time.Duration `long:"claimretrywindow" default:"6h" description:"safety window before initiator_locktime for claim retries"`
	PreimageEncryptionKeyFile string        `long:"preimagekeyfile" description:"path to the 32-byte AES-GCM key protecting preimages at rest"`
}

// BridgeConfig configures the bridge engine and its monitor.
type BridgeConfig struct {
	MinValidators       uint32        `long:"minvalidators" description:"M in the M-of-N validator quorum"`
	TotalValidators     uint32        `long:"totalvalidators" description:"N in the M-of-N validator quorum"`
	MinConfirmationsBTC uint32        `long:"minconfirmationsbtc" default:"6" description:"confirmations required before a BTC deposit proof is accepted"`
	MinConfirmationsETH uint32        `long:"minconfirmationseth" default:"12" description:"confirmations required before an ETH deposit proof is accepted"`
	MinConfirmationsLTC uint32        `long:"minconfirmationsltc" default:"12" description:"confirmations required before an LTC deposit proof is accepted"`
	FeeBasisPoints      uint32        `long:"feebasispoints" default:"10" description:"withdrawal fee in basis points"`
	MinValidatorStake   uint64        `long:"minvalidatorstake" description:"minimum stake for a validator to count toward quorum"`
	WithdrawalTimeout   time.Duration `long:"withdrawaltimeout" default:"72h" description:"time a validated withdrawal may sit unexecuted before expiry"`
	TreasuryAddress     string        `long:"treasuryaddress" description:"fee-collection address"`
	SignatureScheme     string        `long:"signaturescheme" default:"ecdsa" description:"withdrawal signature scheme: ecdsa, musig2"`

	SupplyCheckInterval   time.Duration `long:"supplycheckinterval" default:"5m" description:"bridge monitor supply-consistency check interval"`
	ValidatorOfflineAfter time.Duration `long:"validatorofflineafter" default:"15m" description:"time without activity before a validator is marked offline"`
}

// Config is the top-level daemon configuration.
type Config struct {
	DataDir string `long:"datadir" default:"./data" description:"directory for the leveldb store"`

	ChainMonitor ChainMonitorConfig `group:"Chain Monitor"`
	SPV          SPVConfig          `group:"SPV"`
	Swap         SwapConfig         `group:"Swap"`
	Bridge       BridgeConfig       `group:"Bridge"`
}

// Load parses args (typically os.Args[1:]) into a Config.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HashAlgorithmValue resolves the configured string to an htlc.HashAlgorithm.
func (c SwapConfig) HashAlgorithmValue() (htlc.HashAlgorithm, error) {
	switch strings.ToLower(c.HashAlgorithm) {
	case "sha256", "":
		return htlc.HashSHA256, nil
	case "ripemd160":
		return htlc.HashRIPEMD160, nil
	case "sha3-256", "sha3256":
		return htlc.HashSHA3256, nil
	default:
		return 0, fmt.Errorf("config: unknown hash algorithm %q", c.HashAlgorithm)
	}
}

// SignatureSchemeValue resolves the configured string to a
// bridge.SignatureScheme.
func (c BridgeConfig) SignatureSchemeValue() (bridge.SignatureScheme, error) {
	switch strings.ToLower(c.SignatureScheme) {
	case "ecdsa", "":
		return bridge.SignatureSchemeECDSA, nil
	case "musig2":
		return bridge.SignatureSchemeMuSig2, nil
	default:
		return 0, fmt.Errorf("config: unknown signature scheme %q", c.SignatureScheme)
	}
}

// ToBridgeConfig builds a bridge.Config from the parsed daemon config.
func (c BridgeConfig) ToBridgeConfig() (bridge.Config, error) {
	scheme, err := c.SignatureSchemeValue()
	if err != nil {
		return bridge.Config{}, err
	}
	return bridge.Config{
		MinValidators:       c.MinValidators,
		TotalValidators:     c.TotalValidators,
		MinConfirmationsBTC: c.MinConfirmationsBTC,
		MinConfirmationsETH: c.MinConfirmationsETH,
		MinConfirmationsLTC: c.MinConfirmationsLTC,
		FeeBasisPoints:      c.FeeBasisPoints,
		MinValidatorStake:   c.MinValidatorStake,
		WithdrawalTimeout:   uint64(c.WithdrawalTimeout.Seconds()),
		TreasuryAddress:     []byte(c.TreasuryAddress),
		SignatureScheme:     scheme,
	}, nil
}

// ResolveEndpoints builds the configured chain endpoints keyed by
// ChainId from the repeatable chain.<name>.<field>=value entries
// (fields: url, user, password, tls, poll_interval_seconds).
func (c ChainMonitorConfig) ResolveEndpoints() (map[chainmodel.ChainId]ChainEndpoint, error) {
	byName := make(map[string]*ChainEndpoint)
	for key, value := range c.Chains {
		name, field, ok := strings.Cut(key, ".")
		if !ok {
			return nil, fmt.Errorf("config: chain option %q must be chain.<name>.<field>", key)
		}
		ep, exists := byName[name]
		if !exists {
			ep = &ChainEndpoint{Chain: name}
			byName[name] = ep
		}
		switch field {
		case "url":
			ep.RPCHost = value
		case "user":
			ep.RPCUser = value
		case "password":
			ep.RPCPass = value
		case "tls":
			ep.UseTLS = value == "true" || value == "1"
		case "poll_interval_seconds":
			secs, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("config: chain.%s.poll_interval_seconds: %w", name, err)
			}
			ep.PollInterval = time.Duration(secs) * time.Second
		default:
			return nil, fmt.Errorf("config: unknown chain option field %q", field)
		}
	}

	out := make(map[chainmodel.ChainId]ChainEndpoint, len(byName))
	for name, ep := range byName {
		id, err := chainmodel.ParseChainId(name)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if ep.RPCHost == "" {
			return nil, fmt.Errorf("config: chain.%s.url is required", name)
		}
		out[id] = *ep
	}
	return out, nil
}

// ResolveCheckpoints parses the spv.checkpoint.<height>=<hash> map into
// height-keyed checkpoint hashes.
func (c SPVConfig) ResolveCheckpoints() (map[uint64]string, error) {
	out := make(map[uint64]string, len(c.Checkpoints))
	for k, v := range c.Checkpoints {
		height, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid checkpoint height %q: %w", k, err)
		}
		out[height] = v
	}
	return out, nil
}
