package keeper

import (
	"context"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/pkg/chainclient"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/votepacking"
)

// wad is the fixed-point scale reward-policy streaming rates are
// expressed in (1e18 = 1 token/second).
var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// distributeRewards attempts to pay out one finalized round's reward
// budget. It is a no-op, not an error, whenever the budget simply isn't
// ready yet (still streaming, zero policy address) — the round stays a
// reward job on every subsequent tick until it succeeds.
func distributeRewards(ctx context.Context, client rewardsClient, state *State, now *uint64, key RoundKey, outcome uint8, members []common.Address, metricsReg *metrics.Registry, logger *log.Logger) error {
	info := state.cachedRoundInfo(key)
	if info == nil {
		fetched, err := client.Manager().RoundInfo(ctx, key.HeartbeatKey, key.Round)
		if err != nil {
			return err
		}
		state.storeRoundInfo(key, fetched)
		info = &fetched
	}

	ready, err := ensureRewardBudget(ctx, client, state, now, info.Reward, key, logger)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}

	expectedVerdict := votepacking.ExpectedVerdict(outcome)
	voters, sumWeights, err := buildVoterList(ctx, client.Manager(), key, members, expectedVerdict)
	if err != nil {
		return err
	}

	var expectedStake *big.Int
	if outcome == 1 {
		expectedStake = info.ValidStake
	} else {
		expectedStake = info.InvalidStake
	}
	if sumWeights.Cmp(expectedStake) != 0 {
		logger.Printf("keeper: WARNING: reward weights mismatch heartbeat=%s round=%d got=%s want=%s, skipping",
			key.HeartbeatKey, key.Round, sumWeights, expectedStake)
		return nil
	}

	logger.Printf("keeper: distributing rewards heartbeat=%s round=%d voters=%d", key.HeartbeatKey, key.Round, len(voters))
	receipt, err := client.Manager().DistributeRewards(ctx, key.HeartbeatKey, key.Round, voters)
	if err != nil {
		return err
	}
	logger.Printf("keeper: rewards distributed heartbeat=%s round=%d tx=%s", key.HeartbeatKey, key.Round, receipt.TxHash)
	state.markRewardsDone(key)
	if metricsReg != nil {
		metricsReg.RewardDistributionsTotal.Inc()
	}
	return nil
}

// rewardsClient is the subset of keeper dependencies distributeRewards
// and ensureRewardBudget need, narrowed for testability.
type rewardsClient interface {
	Manager() *chainclient.HeartbeatManager
	RewardPolicy(address common.Address) (*chainclient.RewardPolicy, error)
	ERC20(address common.Address) (*chainclient.ERC20, error)
}

// ensureRewardBudget walks the reward policy's cached state, refreshing
// only what's needed to answer whether the round can afford to pay out
// right now. It mirrors the original's multi-level throttling: a budget
// read is cached for the duration of one tick, a sync attempt happens at
// most once per round and at most once per reward policy per tick.
func ensureRewardBudget(ctx context.Context, client rewardsClient, state *State, now *uint64, reward common.Address, key RoundKey, logger *log.Logger) (bool, error) {
	if reward == (common.Address{}) {
		logger.Printf("keeper: WARNING: reward policy address is zero heartbeat=%s round=%d, skipping", key.HeartbeatKey, key.Round)
		return false, nil
	}

	cache := state.rewardPolicyCache(reward)
	policy, err := client.RewardPolicy(reward)
	if err != nil {
		return false, err
	}

	var budget *big.Int
	if now != nil && cache.LastCheckedAt != nil && *cache.LastCheckedAt == *now {
		budget = cache.LastBudget
	}
	if budget == nil {
		fetched, err := policy.SpendableBudget(ctx)
		if err != nil {
			return false, err
		}
		budget = fetched
		cache.LastCheckedAt = now
		cache.LastBudget = fetched
		cache.LastRemaining = nil
		cache.LastAccounted = nil
		cache.LastBalance = nil
	}
	if budget.Sign() > 0 {
		state.storeRewardPolicyCache(reward, cache)
		return true, nil
	}

	remaining := cache.LastRemaining
	if remaining == nil {
		remaining, err = policy.StreamRemaining(ctx)
		if err != nil {
			return false, err
		}
		cache.LastRemaining = remaining
	}
	accounted := cache.LastAccounted
	if accounted == nil {
		accounted, err = policy.AccountedBalance(ctx)
		if err != nil {
			return false, err
		}
		cache.LastAccounted = accounted
	}
	tokenAddress := cache.TokenAddress
	if tokenAddress == nil {
		addr, err := policy.RewardToken(ctx)
		if err != nil {
			return false, err
		}
		tokenAddress = &addr
		cache.TokenAddress = tokenAddress
	}
	token, err := client.ERC20(*tokenAddress)
	if err != nil {
		return false, err
	}
	balance := cache.LastBalance
	if balance == nil {
		balance, err = token.BalanceOf(ctx, reward)
		if err != nil {
			return false, err
		}
		cache.LastBalance = balance
	}
	hasNewDeposit := balance.Cmp(accounted) > 0

	shouldUnlock := false
	if remaining.Sign() > 0 {
		decimals := cache.TokenDecimals
		if decimals == nil {
			d := token.Decimals(ctx)
			decimals = &d
			cache.TokenDecimals = decimals
		}
		shouldUnlock, err = canUnlockBudget(ctx, client.Manager(), policy, remaining, now, *decimals)
		if err != nil {
			return false, err
		}
	}

	if !hasNewDeposit && !shouldUnlock {
		if remaining.Sign() > 0 {
			logger.Printf("keeper: reward budget still unlocking heartbeat=%s round=%d reward=%s, skipping", key.HeartbeatKey, key.Round, reward)
		} else {
			logger.Printf("keeper: reward budget empty heartbeat=%s round=%d reward=%s, skipping", key.HeartbeatKey, key.Round, reward)
		}
		state.storeRewardPolicyCache(reward, cache)
		return false, nil
	}

	if alreadyAttempted := state.tryMarkRewardSyncAttempted(key); alreadyAttempted {
		logger.Printf("keeper: reward sync already attempted for round heartbeat=%s round=%d reward=%s, skipping", key.HeartbeatKey, key.Round, reward)
		state.storeRewardPolicyCache(reward, cache)
		return false, nil
	}

	if now != nil {
		if cache.LastSyncAttemptAt != nil && *cache.LastSyncAttemptAt == *now {
			logger.Printf("keeper: reward sync already attempted for reward policy this tick reward=%s", reward)
			state.storeRewardPolicyCache(reward, cache)
			return false, nil
		}
		cache.LastSyncAttemptAt = now
	}

	if hasNewDeposit {
		logger.Printf("keeper: reward policy has new deposit, syncing reward=%s", reward)
	} else {
		logger.Printf("keeper: reward budget unlocking, syncing policy reward=%s", reward)
	}

	receipt, err := policy.Sync(ctx)
	if err != nil {
		logger.Printf("keeper: WARNING: reward policy sync failed reward=%s: %v", reward, err)
		state.storeRewardPolicyCache(reward, cache)
		return false, nil
	}
	logger.Printf("keeper: reward policy synced reward=%s tx=%s", reward, receipt.TxHash)

	budgetAfter, err := policy.SpendableBudget(ctx)
	if err != nil {
		return false, err
	}
	if budgetAfter.Sign() == 0 {
		remainingAfter, err := policy.StreamRemaining(ctx)
		if err != nil {
			return false, err
		}
		if remainingAfter.Sign() > 0 {
			logger.Printf("keeper: reward budget still unlocking after sync reward=%s, skipping", reward)
		} else {
			logger.Printf("keeper: reward budget still empty after sync reward=%s, skipping", reward)
		}
		cache.LastBudget = budgetAfter
		state.storeRewardPolicyCache(reward, cache)
		return false, nil
	}

	cache.LastBudget = budgetAfter
	state.storeRewardPolicyCache(reward, cache)
	return true, nil
}

// canUnlockBudget reports whether enough of a reward policy's remaining
// stream has accrued to be worth a sync() call: either the stream has
// already finished (immediate unlock of everything left) or at least one
// whole token's worth, by the token's own decimals, has accrued since the
// stream's last update.
func canUnlockBudget(ctx context.Context, manager *chainclient.HeartbeatManager, policy *chainclient.RewardPolicy, remaining *big.Int, now *uint64, tokenDecimals uint8) (bool, error) {
	if remaining.Sign() == 0 {
		return false, nil
	}

	streamRate, err := policy.StreamRatePerSecondWad(ctx)
	if err != nil {
		return false, err
	}
	lastUpdate, err := policy.LastUpdate(ctx)
	if err != nil {
		return false, err
	}
	streamEnd, err := policy.StreamEnd(ctx)
	if err != nil {
		return false, err
	}

	var current uint64
	if now != nil {
		current = *now
	} else {
		current, err = manager.Client().BlockTimestamp(ctx, nil)
		if err != nil {
			return false, err
		}
	}

	if current >= streamEnd {
		return true, nil
	}
	if streamRate.Sign() == 0 {
		return false, nil
	}

	elapsed := uint64(0)
	if current > lastUpdate {
		elapsed = current - lastUpdate
	}
	if elapsed == 0 {
		return false, nil
	}

	product := new(big.Int).Mul(new(big.Int).SetUint64(elapsed), streamRate)
	unlocked := new(big.Int).Quo(product, wad)
	threshold := pow10(tokenDecimals)
	return unlocked.Cmp(threshold) >= 0, nil
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// buildVoterList reads every member's packed vote and keeps the ones that
// responded with the verdict matching the round's outcome, summing their
// stake weight as it goes — the weight sum that must equal the round's
// recorded valid/invalid stake before a payout is trusted to be complete.
func buildVoterList(ctx context.Context, manager *chainclient.HeartbeatManager, key RoundKey, members []common.Address, expectedVerdict votepacking.Verdict) ([]common.Address, *big.Int, error) {
	var voters []common.Address
	totalWeight := big.NewInt(0)

	for _, member := range members {
		packed, err := manager.GetVotePacked(ctx, key.HeartbeatKey, key.Round, member)
		if err != nil {
			return nil, nil, err
		}
		vote := votepacking.Decode(packed)
		if vote.Responded && vote.Verdict == expectedVerdict {
			totalWeight.Add(totalWeight, vote.Weight)
			voters = append(voters, member)
		}
	}

	return voters, totalWeight, nil
}
