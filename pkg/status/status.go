// Package status implements the operator node's post-process health
// checks: periodic ETH/stake balance reporting and the minimum-balance
// shutdown floor. Grounded on the original node's
// blacklight-node/src/supervisor/status.rs.
package status

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/pkg/shutdown"
)

// ChainClient is the subset of pkg/chainclient.Client status needs.
type ChainClient interface {
	Address() common.Address
	Balance(ctx context.Context) (*big.Int, error)
}

// StakeSource is the subset of pkg/chainclient.StakingOperators status needs.
type StakeSource interface {
	StakeOf(ctx context.Context, operator common.Address) (*big.Int, error)
}

// weiPerEther scales a wei balance into whole-ether units for logging.
var weiPerEther = new(big.Float).SetFloat64(1e18)

// Print logs the node's current ETH balance, staked balance, and lifetime
// verified-HTX count.
func Print(ctx context.Context, client ChainClient, staking StakeSource, verifiedCount uint64, logger *log.Logger) error {
	balance, err := client.Balance(ctx)
	if err != nil {
		return fmt.Errorf("status: fetching ETH balance: %w", err)
	}
	staked, err := staking.StakeOf(ctx, client.Address())
	if err != nil {
		return fmt.Errorf("status: fetching staked balance: %w", err)
	}

	logger.Printf("STATUS | ETH: %s | STAKED: %s | verified HTXs since boot: %d",
		formatEther(balance), staked.String(), verifiedCount)
	return nil
}

// CheckMinimumBalance cancels token if the node's ETH balance has dropped
// below minWei, as the last line of defense against running out of gas
// mid-round. A fetch failure is logged and ignored rather than triggering
// shutdown, since a transient RPC hiccup shouldn't look like insolvency.
func CheckMinimumBalance(ctx context.Context, client ChainClient, minWei *big.Int, token *shutdown.Token, logger *log.Logger) {
	balance, err := client.Balance(ctx)
	if err != nil {
		logger.Printf("WARNING: failed to check balance after transaction: %v", err)
		return
	}
	if minWei == nil || minWei.Sign() <= 0 {
		return
	}
	if balance.Cmp(minWei) < 0 {
		logger.Printf("ETH balance %s below minimum required %s, initiating shutdown",
			formatEther(balance), formatEther(minWei))
		token.Cancel()
	}
}

func formatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, weiPerEther)
	return f.Text('f', 6)
}
