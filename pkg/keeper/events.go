package keeper

import (
	"context"
	"fmt"
	"log"

	"github.com/certen/independant-validator/pkg/chainclient"
)

// loadHistoricalEvents backfills state from every event type that can
// affect a round's materialized fields, over the lookback window ending
// at the chain's current head. It must run before the live subscriptions
// start, and the live subscriptions must start from latest+1 so no event
// is double-counted or missed across the handoff.
func loadHistoricalEvents(ctx context.Context, manager *chainclient.HeartbeatManager, state *State, lookbackBlocks uint64, logger *log.Logger) (uint64, error) {
	latest, err := manager.Client().LatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("keeper: fetching latest block: %w", err)
	}
	from := uint64(0)
	if latest > lookbackBlocks {
		from = latest - lookbackBlocks
	}
	r := chainclient.BlockRange{From: from, To: &latest}

	enqueued, err := manager.HeartbeatEnqueuedEvents(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("keeper: loading HeartbeatEnqueued history: %w", err)
	}
	for _, e := range enqueued {
		state.recordRawHTX(e.HeartbeatKey, e.RawHTX)
	}

	started, err := manager.RoundStartedEvents(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("keeper: loading RoundStarted history: %w", err)
	}
	for _, e := range started {
		state.recordRoundStarted(RoundKey{HeartbeatKey: e.HeartbeatKey, Round: e.Round}, e.Members, e.RawHTX, e.Deadline)
	}

	finalized, err := manager.RoundFinalizedEvents(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("keeper: loading RoundFinalized history: %w", err)
	}
	for _, e := range finalized {
		state.recordRoundFinalized(RoundKey{HeartbeatKey: e.HeartbeatKey, Round: e.Round}, e.Outcome)
	}

	distributed, err := manager.RewardsDistributedEvents(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("keeper: loading RewardsDistributed history: %w", err)
	}
	for _, e := range distributed {
		state.markRewardsDone(RoundKey{HeartbeatKey: e.HeartbeatKey, Round: e.Round})
	}

	abandoned, err := manager.RewardDistributionAbandonedEvents(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("keeper: loading RewardDistributionAbandoned history: %w", err)
	}
	for _, e := range abandoned {
		state.markRewardsDone(RoundKey{HeartbeatKey: e.HeartbeatKey, Round: e.Round})
	}

	stats := state.stats()
	logger.Printf("keeper: loaded historical state from block %d, heartbeats=%d rounds=%d", from, stats.Heartbeats, stats.Rounds)
	return latest, nil
}

// runEventListeners subscribes all six live event streams and blocks
// until one ends, errors, or ctx is cancelled. Any single stream ending
// is treated as a reconnect signal for the whole keeper, since a dropped
// websocket typically takes every subscription on the connection with it.
func runEventListeners(ctx context.Context, manager *chainclient.HeartbeatManager, state *State, logger *log.Logger) error {
	type stream struct {
		name string
		err  <-chan error
		done chan struct{}
	}

	errCh := make(chan error, 6)

	go func() { errCh <- pumpHeartbeatEnqueued(ctx, manager, state) }()
	go func() { errCh <- pumpRoundStarted(ctx, manager, state, logger) }()
	go func() { errCh <- pumpRoundFinalized(ctx, manager, state, logger) }()
	go func() { errCh <- pumpRewardsDistributed(ctx, manager, state, logger) }()
	go func() { errCh <- pumpRewardDistributionAbandoned(ctx, manager, state, logger) }()
	go func() { errCh <- pumpSlashingCallbackFailed(ctx, manager, logger) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pumpHeartbeatEnqueued(ctx context.Context, manager *chainclient.HeartbeatManager, state *State) error {
	events, errs, err := manager.SubscribeHeartbeatEnqueued(ctx)
	if err != nil {
		return fmt.Errorf("keeper: subscribing HeartbeatEnqueued: %w", err)
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("keeper: HeartbeatEnqueued stream ended unexpectedly")
			}
			state.recordRawHTX(e.HeartbeatKey, e.RawHTX)
		case err := <-errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func pumpRoundStarted(ctx context.Context, manager *chainclient.HeartbeatManager, state *State, logger *log.Logger) error {
	events, errs, err := manager.SubscribeRoundStarted(ctx)
	if err != nil {
		return fmt.Errorf("keeper: subscribing RoundStarted: %w", err)
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("keeper: RoundStarted stream ended unexpectedly")
			}
			state.recordRoundStarted(RoundKey{HeartbeatKey: e.HeartbeatKey, Round: e.Round}, e.Members, e.RawHTX, e.Deadline)
			logger.Printf("keeper: round started heartbeat=%s round=%d deadline=%d members=%d", e.HeartbeatKey, e.Round, e.Deadline, len(e.Members))
		case err := <-errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func pumpRoundFinalized(ctx context.Context, manager *chainclient.HeartbeatManager, state *State, logger *log.Logger) error {
	events, errs, err := manager.SubscribeRoundFinalized(ctx)
	if err != nil {
		return fmt.Errorf("keeper: subscribing RoundFinalized: %w", err)
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("keeper: RoundFinalized stream ended unexpectedly")
			}
			state.recordRoundFinalized(RoundKey{HeartbeatKey: e.HeartbeatKey, Round: e.Round}, e.Outcome)
			logger.Printf("keeper: round finalized heartbeat=%s round=%d outcome=%d", e.HeartbeatKey, e.Round, e.Outcome)
		case err := <-errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func pumpRewardsDistributed(ctx context.Context, manager *chainclient.HeartbeatManager, state *State, logger *log.Logger) error {
	events, errs, err := manager.SubscribeRewardsDistributed(ctx)
	if err != nil {
		return fmt.Errorf("keeper: subscribing RewardsDistributed: %w", err)
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("keeper: RewardsDistributed stream ended unexpectedly")
			}
			state.markRewardsDone(RoundKey{HeartbeatKey: e.HeartbeatKey, Round: e.Round})
			logger.Printf("keeper: rewards distributed heartbeat=%s round=%d voters=%s", e.HeartbeatKey, e.Round, e.VoterCount)
		case err := <-errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func pumpRewardDistributionAbandoned(ctx context.Context, manager *chainclient.HeartbeatManager, state *State, logger *log.Logger) error {
	events, errs, err := manager.SubscribeRewardDistributionAbandoned(ctx)
	if err != nil {
		return fmt.Errorf("keeper: subscribing RewardDistributionAbandoned: %w", err)
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("keeper: RewardDistributionAbandoned stream ended unexpectedly")
			}
			state.markRewardsDone(RoundKey{HeartbeatKey: e.HeartbeatKey, Round: e.Round})
			logger.Printf("keeper: reward distribution abandoned heartbeat=%s round=%d", e.HeartbeatKey, e.Round)
		case err := <-errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pumpSlashingCallbackFailed does not touch materialized state: a failed
// slashing callback doesn't change a round's rewards/jailing status, it
// only needs the keeper to retry the callback itself.
func pumpSlashingCallbackFailed(ctx context.Context, manager *chainclient.HeartbeatManager, logger *log.Logger) error {
	events, errs, err := manager.SubscribeSlashingCallbackFailed(ctx)
	if err != nil {
		return fmt.Errorf("keeper: subscribing SlashingCallbackFailed: %w", err)
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("keeper: SlashingCallbackFailed stream ended unexpectedly")
			}
			logger.Printf("keeper: slashing callback failed heartbeat=%s round=%d, retrying", e.HeartbeatKey, e.Round)
			if _, err := manager.RetrySlashing(ctx, e.HeartbeatKey, e.Round); err != nil {
				logger.Printf("keeper: ERROR: retrying slashing callback: %v", err)
			}
		case err := <-errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
