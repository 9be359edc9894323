package spv

import "github.com/btcsuite/btclog"

// log is the package-level logger, following the same convention as the
// node's other subsystems: silent until UseLogger is called by
// the owning application.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by spv.
func UseLogger(logger btclog.Logger) {
	log = logger
}
