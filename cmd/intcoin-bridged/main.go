// Command intcoin-bridged runs the cross-chain bridge daemon: chain
// monitors, SPV header chains, the atomic swap coordinator, the bridge
// engine with its continuous monitor, and the bridge/swap JSON-RPC
// surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intcoin/bridge/appctx"
	"github.com/intcoin/bridge/bridge"
	"github.com/intcoin/bridge/bridgemonitor"
	"github.com/intcoin/bridge/chainmodel"
	"github.com/intcoin/bridge/chainmonitor"
	"github.com/intcoin/bridge/config"
	"github.com/intcoin/bridge/htlc"
	"github.com/intcoin/bridge/rpc"
	"github.com/intcoin/bridge/spv"
	"github.com/intcoin/bridge/swap"
)

// noWalletTxBuilder satisfies swap.TxBuilder for deployments that have
// not wired a wallet. Swap legs cannot be funded or spent until a real
// wallet-backed builder is supplied; every call fails with a clear
// error instead of fabricating unsigned transactions.
type noWalletTxBuilder struct{}

func (noWalletTxBuilder) BuildFundingTransaction(chain chainmodel.ChainId, script htlc.Script, amount uint64) (string, error) {
	return "", fmt.Errorf("no wallet configured: cannot build funding transaction for %s", chain)
}

func (noWalletTxBuilder) BuildClaimTransaction(chain chainmodel.ChainId, contract htlc.HTLCContract, fundingTxHash chainmodel.Hash256, fundingVout uint32, witness htlc.ClaimWitness) (string, error) {
	return "", fmt.Errorf("no wallet configured: cannot build claim transaction for %s", chain)
}

func (noWalletTxBuilder) BuildRefundTransaction(chain chainmodel.ChainId, contract htlc.HTLCContract, fundingTxHash chainmodel.Hash256, fundingVout uint32, witness htlc.RefundWitness) (string, error) {
	return "", fmt.Errorf("no wallet configured: cannot build refund transaction for %s", chain)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	backend := btclog.NewBackend(os.Stdout)
	chainmonitor.UseLogger(backend.Logger("CMON"))
	spv.UseLogger(backend.Logger("SPV "))
	htlc.UseLogger(backend.Logger("HTLC"))
	swap.UseLogger(backend.Logger("SWAP"))
	bridge.UseLogger(backend.Logger("BRDG"))
	bridgemonitor.UseLogger(backend.Logger("BMON"))
	mainLog := backend.Logger("MAIN")

	app, err := appctx.New(cfg, noWalletTxBuilder{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var req rpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(rpc.Response{
				Jsonrpc: "2.0",
				Error:   &rpc.Error{Code: rpc.ErrCodeParse, Message: "parse error"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(app.RPC.Dispatch(req))
	})

	httpSrv := &http.Server{Addr: ":8545", Handler: mux}
	go func() {
		<-ctx.Done()
		httpSrv.Shutdown(context.Background())
	}()
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLog.Errorf("RPC server: %v", err)
		}
	}()

	mainLog.Infof("intcoin-bridged started, data dir %s", cfg.DataDir)
	err = app.Run(ctx)
	if err == context.Canceled {
		err = nil
	}
	return err
}
