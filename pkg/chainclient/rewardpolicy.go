package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const rewardPolicyABI = `[
  {"type":"function","name":"spendableBudget","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"streamRemaining","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"rewardToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"accountedBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"lastUpdate","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
  {"type":"function","name":"streamRatePerSecondWad","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"streamEnd","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
  {"type":"function","name":"sync","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// RewardPolicy wraps one heartbeat-round reward budget's streaming-unlock
// contract: the keeper's ensure_reward_budget state machine reads these
// views to decide whether new tokens need unlocking before a round's
// rewards can be distributed.
type RewardPolicy struct {
	bc *boundContract
}

// NewRewardPolicy binds to a deployed RewardPolicy contract.
func NewRewardPolicy(client *Client, address common.Address) (*RewardPolicy, error) {
	bc, err := newBoundContract(client, address, rewardPolicyABI)
	if err != nil {
		return nil, fmt.Errorf("chainclient: binding RewardPolicy: %w", err)
	}
	return &RewardPolicy{bc: bc}, nil
}

func (r *RewardPolicy) Address() common.Address {
	return r.bc.address
}

// SpendableBudget returns the reward tokens currently available to pay
// out without triggering a stream unlock.
func (r *RewardPolicy) SpendableBudget(ctx context.Context) (*big.Int, error) {
	out, err := r.bc.call(ctx, "spendableBudget")
	if err != nil {
		return nil, err
	}
	return castUnpacked[*big.Int](out, 0)
}

// StreamRemaining returns the tokens still locked in the streaming unlock.
func (r *RewardPolicy) StreamRemaining(ctx context.Context) (*big.Int, error) {
	out, err := r.bc.call(ctx, "streamRemaining")
	if err != nil {
		return nil, err
	}
	return castUnpacked[*big.Int](out, 0)
}

// RewardToken returns the ERC-20 token rewards are denominated and paid in.
func (r *RewardPolicy) RewardToken(ctx context.Context) (common.Address, error) {
	out, err := r.bc.call(ctx, "rewardToken")
	if err != nil {
		return common.Address{}, err
	}
	return castUnpacked[common.Address](out, 0)
}

// AccountedBalance returns the token balance the policy has already
// accounted for, used to detect new unaccounted-for deposits.
func (r *RewardPolicy) AccountedBalance(ctx context.Context) (*big.Int, error) {
	out, err := r.bc.call(ctx, "accountedBalance")
	if err != nil {
		return nil, err
	}
	return castUnpacked[*big.Int](out, 0)
}

// LastUpdate returns the unix timestamp the stream was last accounted at.
func (r *RewardPolicy) LastUpdate(ctx context.Context) (uint64, error) {
	out, err := r.bc.call(ctx, "lastUpdate")
	if err != nil {
		return 0, err
	}
	return castUnpacked[uint64](out, 0)
}

// StreamRatePerSecondWad returns the stream's unlock rate, WAD-scaled
// (1e18 = 1 token/second).
func (r *RewardPolicy) StreamRatePerSecondWad(ctx context.Context) (*big.Int, error) {
	out, err := r.bc.call(ctx, "streamRatePerSecondWad")
	if err != nil {
		return nil, err
	}
	return castUnpacked[*big.Int](out, 0)
}

// StreamEnd returns the unix timestamp the stream finishes unlocking at.
func (r *RewardPolicy) StreamEnd(ctx context.Context) (uint64, error) {
	out, err := r.bc.call(ctx, "streamEnd")
	if err != nil {
		return 0, err
	}
	return castUnpacked[uint64](out, 0)
}

// Sync reconciles accounted balance against the actual token balance and
// advances the stream's unlock, making newly-unlocked tokens spendable.
func (r *RewardPolicy) Sync(ctx context.Context) (*Receipt, error) {
	return r.bc.send(ctx, "sync", nil)
}
