package bridgemonitor

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by the bridge monitor.
func UseLogger(logger btclog.Logger) {
	log = logger
}
