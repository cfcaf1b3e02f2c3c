package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// defaultERC20Decimals is substituted whenever a decimals() call fails,
// matching the keeper's reward-budget state machine tolerance for
// non-standard or misbehaving tokens (spec §4.3.2).
const defaultERC20Decimals = 18

// ERC20 wraps the minimal subset of the token interface the keeper and
// node need: the reward token balance behind a RewardPolicy's stream, and
// the staking token NilToken(address) balances nodes hold.
type ERC20 struct {
	bc *boundContract
}

// NewERC20 binds to a deployed ERC-20 token contract (used for both
// NilToken, the staking token, and a RewardPolicy's reward token).
func NewERC20(client *Client, address common.Address) (*ERC20, error) {
	bc, err := newBoundContract(client, address, erc20ABI)
	if err != nil {
		return nil, fmt.Errorf("chainclient: binding ERC20: %w", err)
	}
	return &ERC20{bc: bc}, nil
}

func (t *ERC20) Address() common.Address {
	return t.bc.address
}

// BalanceOf returns account's token balance.
func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := t.bc.call(ctx, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return castUnpacked[*big.Int](out, 0)
}

// Decimals returns the token's decimal count, falling back to
// defaultERC20Decimals if the call fails rather than propagating the
// error, matching the reward-budget state machine's tolerance for tokens
// that don't implement the optional decimals() accessor.
func (t *ERC20) Decimals(ctx context.Context) uint8 {
	out, err := t.bc.call(ctx, "decimals")
	if err != nil {
		return defaultERC20Decimals
	}
	decimals, err := castUnpacked[uint8](out, 0)
	if err != nil {
		return defaultERC20Decimals
	}
	return decimals
}
