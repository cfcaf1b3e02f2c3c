// Command node runs one operator's committee-verification process: it
// connects to the L2 chain, registers as an active operator if needed,
// verifies heartbeats assigned to its committee seats, and submits
// verdicts until asked to shut down. Grounded on the original node's
// blacklight-node/src/main.rs entry point.
package main

import (
	"context"
	"log"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/shutdown"
	"github.com/certen/independant-validator/pkg/supervisor"
	"github.com/certen/independant-validator/pkg/verification"
)

func main() {
	logger := log.New(os.Stdout, "[node] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.LoadNode()
	if err != nil {
		logger.Fatalf("loading configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.ArtifactCache, 0o755); err != nil {
		logger.Fatalf("creating artifact cache directory %q: %v", cfg.ArtifactCache, err)
	}
	if err := os.MkdirAll(cfg.CertCache, 0o755); err != nil {
		logger.Fatalf("creating cert cache directory %q: %v", cfg.CertCache, err)
	}

	minEthWei, ok := new(big.Int).SetString(cfg.MinEthBalanceWei, 10)
	if !ok {
		logger.Fatalf("MIN_ETH_BALANCE_WEI is not a valid integer: %q", cfg.MinEthBalanceWei)
	}

	registerer := prometheus.NewRegistry()
	metricsReg, err := metrics.New(registerer)
	if err != nil {
		logger.Fatalf("initializing metrics: %v", err)
	}
	go serveMetrics(registerer, logger)

	verifier, err := verification.New(verification.Config{
		ArtifactCache:       cfg.ArtifactCache,
		CertCache:           cfg.CertCache,
		ReportBundleDecoder: verification.DefaultReportBundleDecoder{},
		ReportVerifier:      verification.UnimplementedReportVerifier{},
		QuoteVerifier:       verification.UnimplementedQuoteVerifier{},
	})
	if err != nil {
		logger.Fatalf("initializing verifier: %v", err)
	}

	token := shutdown.NewToken()
	go shutdown.WaitForSignal(token, logger)

	ctx := token.Context()
	sup, err := supervisor.New(ctx, supervisor.Config{
		RPCURL:                 cfg.RPCURL,
		PrivateKeyHex:          cfg.PrivateKey,
		ManagerContractAddress: common.HexToAddress(cfg.ManagerContractAddress),
		StakingContractAddress: common.HexToAddress(cfg.StakingContractAddress),
		MinEthBalanceWei:       minEthWei,
		Logger:                 logger,
		Metrics:                metricsReg,
	}, verifier, token)
	if err != nil {
		logger.Fatalf("starting node: %v", err)
	}

	go runStatusTicker(ctx, sup, logger)

	nodeAddress, runErr := sup.Run(ctx)
	if runErr != nil {
		logger.Printf("ERROR: node run loop exited with error: %v", runErr)
	}

	logger.Printf("deactivating node %s", nodeAddress)
	deactivateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := supervisor.Deactivate(deactivateCtx, cfg.RPCURL, cfg.PrivateKey, common.HexToAddress(cfg.StakingContractAddress), logger); err != nil {
		logger.Printf("WARNING: failed to deactivate node on shutdown: %v", err)
	}

	logger.Printf("node stopped")
}

// runStatusTicker periodically logs balance/stake/verified-count status
// until ctx is cancelled.
func runStatusTicker(ctx context.Context, sup *supervisor.Supervisor, logger *log.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sup.PrintStatus(ctx); err != nil {
				logger.Printf("WARNING: failed to print status: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// serveMetrics exposes the Prometheus registry over HTTP until the process
// exits; a bind failure is logged rather than fatal, since metrics are an
// operational nicety, not required for verification itself.
func serveMetrics(registerer *prometheus.Registry, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	addr := ":9090"
	logger.Printf("metrics listening on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("WARNING: metrics server stopped: %v", err)
	}
}
