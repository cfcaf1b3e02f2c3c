package keeper

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/pkg/chainclient"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/shutdown"
)

// EmissionsConfig configures the L1 half of the keeper: an independent
// loop that mints and bridges each epoch's emissions to L2 once it
// becomes eligible, unrelated to round lifecycle on L2.
type EmissionsConfig struct {
	L1RPCURL                     string
	PrivateKeyHex                string
	EmissionsControllerAddress   common.Address
	BridgeValueWei               *big.Int
	EmissionsInterval            time.Duration

	Logger  *log.Logger
	Metrics *metrics.Registry
}

// RunL1 drives the emissions-minting loop until token is cancelled,
// reconnecting the L1 connection with exponential backoff on failure.
// Grounded on the original source's keeper/src/l1.rs run_l1_supervisor.
func RunL1(ctx context.Context, cfg EmissionsConfig, token *shutdown.Token) error {
	delay := initialReconnectDelay

	for {
		client, emissions, err := dialL1ClientWithRetry(ctx, cfg, token)
		if err != nil {
			return err
		}

		err = runEmissionsLoop(ctx, emissions, cfg, token)
		client.Close()
		if err == nil || token.Cancelled() {
			return nil
		}
		cfg.Logger.Printf("keeper: WARNING: emissions loop error, reconnecting: %v", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			delay = nextDelay(delay)
		case <-token.Done():
			timer.Stop()
			return nil
		}
	}
}

func dialL1ClientWithRetry(ctx context.Context, cfg EmissionsConfig, token *shutdown.Token) (*chainclient.Client, *chainclient.EmissionsController, error) {
	delay := initialReconnectDelay
	for {
		client, emissions, err := dialL1Client(ctx, cfg)
		if err == nil {
			return client, emissions, nil
		}
		cfg.Logger.Printf("keeper: ERROR: failed to connect to L1, retrying: %v", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			delay = nextDelay(delay)
		case <-token.Done():
			timer.Stop()
			return nil, nil, fmt.Errorf("keeper: shutdown requested during L1 connect")
		}
	}
}

func dialL1Client(ctx context.Context, cfg EmissionsConfig) (*chainclient.Client, *chainclient.EmissionsController, error) {
	client, err := chainclient.Dial(ctx, cfg.L1RPCURL, cfg.PrivateKeyHex)
	if err != nil {
		return nil, nil, err
	}
	emissions, err := chainclient.NewEmissionsController(client, cfg.EmissionsControllerAddress)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, emissions, nil
}

func runEmissionsLoop(ctx context.Context, emissions *chainclient.EmissionsController, cfg EmissionsConfig, token *shutdown.Token) error {
	ticker := time.NewTicker(cfg.EmissionsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-token.Done():
			return nil
		}
		if err := processEmissions(ctx, emissions, cfg); err != nil {
			return err
		}
	}
}

// processEmissions mints and bridges the next epoch once it is ready: all
// epochs already minted, or the current epoch not yet past its ready
// timestamp, are both silently skipped rather than treated as errors.
func processEmissions(ctx context.Context, emissions *chainclient.EmissionsController, cfg EmissionsConfig) error {
	mintedEpochs, err := emissions.MintedEpochs(ctx)
	if err != nil {
		return err
	}
	totalEpochs, err := emissions.Epochs(ctx)
	if err != nil {
		return err
	}
	if mintedEpochs.Cmp(totalEpochs) >= 0 {
		return nil
	}

	readyAt, err := emissions.NextEpochReadyAt(ctx)
	if err != nil {
		return err
	}
	now, err := emissionsBlockTimestamp(ctx, emissions)
	if err != nil {
		return err
	}
	if now < readyAt {
		return nil
	}

	cfg.Logger.Printf("keeper: minting and bridging next emission epoch, minted=%s total=%s", mintedEpochs, totalEpochs)
	receipt, err := emissions.MintAndBridgeNextEpoch(ctx, cfg.BridgeValueWei)
	if err != nil {
		return err
	}
	cfg.Logger.Printf("keeper: emission minted and bridged, tx=%s", receipt.TxHash)
	return nil
}

func emissionsBlockTimestamp(ctx context.Context, emissions *chainclient.EmissionsController) (uint64, error) {
	return emissions.Client().BlockTimestamp(ctx, nil)
}
