// Command keeper drives round lifecycle on L2 (escalation, reward
// distribution, jailing) and the independent L1 emissions-bridging loop.
// Grounded on the original source's keeper/src/main.rs entry point.
package main

import (
	"log"
	"math/big"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/keeper"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/shutdown"
)

func main() {
	logger := log.New(os.Stdout, "[keeper] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.LoadKeeper()
	if err != nil {
		logger.Fatalf("loading configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	bridgeValueWei, ok := new(big.Int).SetString(cfg.L1BridgeValueWei, 10)
	if !ok {
		logger.Fatalf("L1_BRIDGE_VALUE_WEI is not a valid integer: %q", cfg.L1BridgeValueWei)
	}

	registerer := prometheus.NewRegistry()
	metricsReg, err := metrics.New(registerer)
	if err != nil {
		logger.Fatalf("initializing metrics: %v", err)
	}
	go serveMetrics(registerer, logger)

	if !cfg.HasJailingPolicy() {
		logger.Printf("jailing enforcement disabled (DISABLE_JAILING=%v, L2_JAILING_POLICY_ADDRESS=%q)", cfg.DisableJailing, cfg.L2JailingPolicyAddress)
	}

	l2cfg := keeper.Config{
		L2RPCURL:                cfg.L2RPCURL,
		PrivateKeyHex:           cfg.PrivateKey,
		HeartbeatManagerAddress: common.HexToAddress(cfg.L2HeartbeatManagerAddress),
		JailingPolicyAddress:    common.HexToAddress(cfg.L2JailingPolicyAddress),
		HasJailingPolicy:        cfg.HasJailingPolicy(),
		LookbackBlocks:          cfg.LookbackBlocks,
		TickInterval:            cfg.TickInterval,
		Logger:                  logger,
		Metrics:                 metricsReg,
	}
	l1cfg := keeper.EmissionsConfig{
		L1RPCURL:                   cfg.L1RPCURL,
		PrivateKeyHex:              cfg.PrivateKey,
		EmissionsControllerAddress: common.HexToAddress(cfg.L1EmissionsControllerAddress),
		BridgeValueWei:             bridgeValueWei,
		EmissionsInterval:          cfg.EmissionsInterval,
		Logger:                     logger,
		Metrics:                    metricsReg,
	}

	token := shutdown.NewToken()
	go shutdown.WaitForSignal(token, logger)

	if err := keeper.Run(token.Context(), l2cfg, l1cfg, token, logger); err != nil {
		logger.Fatalf("keeper exited with error: %v", err)
	}

	logger.Printf("keeper stopped")
}

func serveMetrics(registerer *prometheus.Registry, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	addr := ":9091"
	logger.Printf("metrics listening on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("WARNING: metrics server stopped: %v", err)
	}
}
