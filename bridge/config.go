package bridge

// SignatureScheme selects how validator withdrawal signatures are
// combined and verified. Exactly one scheme is declared per bridge
// instance: either per-validator plain signatures
// (the common case; each signer's signature is checked independently
// and counted toward quorum) or an aggregated MuSig2 signature (the
// quorum signs a single joint signature, verified once against the
// aggregate key of the signing subset).
type SignatureScheme uint8

const (
	SignatureSchemeECDSA SignatureScheme = iota
	SignatureSchemeMuSig2
)

// Config is the process-wide bridge configuration, populated at startup
// from the `bridge.*` options.
type Config struct {
	MinValidators   uint32
	TotalValidators uint32

	MinConfirmationsBTC uint32
	MinConfirmationsETH uint32
	MinConfirmationsLTC uint32

	FeeBasisPoints uint32 // 0-10000

	MinValidatorStake uint64
	WithdrawalTimeout uint64 // seconds
	TreasuryAddress   []byte
	SignatureScheme   SignatureScheme
}

// Validate checks the quorum threshold rule and fee bounds.
func (c Config) Validate() error {
	if c.TotalValidators == 0 {
		return errConfig("total_validators must be > 0")
	}
	if c.MinValidators == 0 {
		return errConfig("min_validators must be > 0")
	}
	if c.MinValidators > c.TotalValidators {
		return errConfig("min_validators must be <= total_validators")
	}
	if c.FeeBasisPoints > 10000 {
		return errConfig("fee_basis_points must be <= 10000")
	}
	return nil
}

type configError struct{ msg string }

func (e *configError) Error() string { return "bridge: invalid config: " + e.msg }

func errConfig(msg string) error { return &configError{msg: msg} }
