package chainclient

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// decodeHeartbeatEnqueued turns a raw log into a HeartbeatEnqueuedEvent,
// shared by both the historical query path and the live subscriptions below.
func decodeHeartbeatEnqueued(bc *boundContract, log types.Log) (HeartbeatEnqueuedEvent, error) {
	var decoded struct {
		RawHTX []byte
	}
	if err := bc.abi.UnpackIntoInterface(&decoded, "HeartbeatEnqueued", log.Data); err != nil {
		return HeartbeatEnqueuedEvent{}, fmt.Errorf("chainclient: decoding HeartbeatEnqueued: %w", err)
	}
	return HeartbeatEnqueuedEvent{
		HeartbeatKey: log.Topics[1],
		RawHTX:       decoded.RawHTX,
		Submitter:    common.BytesToAddress(log.Topics[2].Bytes()),
		BlockNumber:  log.BlockNumber,
		TxHash:       log.TxHash,
	}, nil
}

func decodeRoundStarted(bc *boundContract, log types.Log) (RoundStartedEvent, error) {
	var decoded struct {
		Round         uint8
		CommitteeRoot [32]byte
		SnapshotId    uint64
		StartedAt     uint64
		Deadline      uint64
		Members       []common.Address
		RawHTX        []byte
	}
	if err := bc.abi.UnpackIntoInterface(&decoded, "RoundStarted", log.Data); err != nil {
		return RoundStartedEvent{}, fmt.Errorf("chainclient: decoding RoundStarted: %w", err)
	}
	return RoundStartedEvent{
		HeartbeatKey:  log.Topics[1],
		Round:         decoded.Round,
		CommitteeRoot: decoded.CommitteeRoot,
		SnapshotID:    decoded.SnapshotId,
		StartedAt:     decoded.StartedAt,
		Deadline:      decoded.Deadline,
		Members:       decoded.Members,
		RawHTX:        decoded.RawHTX,
		BlockNumber:   log.BlockNumber,
		TxHash:        log.TxHash,
	}, nil
}

func decodeRoundFinalized(bc *boundContract, log types.Log) (RoundFinalizedEvent, error) {
	var decoded struct {
		Round   uint8
		Outcome uint8
	}
	if err := bc.abi.UnpackIntoInterface(&decoded, "RoundFinalized", log.Data); err != nil {
		return RoundFinalizedEvent{}, fmt.Errorf("chainclient: decoding RoundFinalized: %w", err)
	}
	return RoundFinalizedEvent{
		HeartbeatKey: log.Topics[1],
		Round:        decoded.Round,
		Outcome:      decoded.Outcome,
		BlockNumber:  log.BlockNumber,
		TxHash:       log.TxHash,
	}, nil
}

func decodeRewardsDistributed(bc *boundContract, log types.Log) (RewardsDistributedEvent, error) {
	var decoded struct {
		Round      uint8
		VoterCount *big.Int
	}
	if err := bc.abi.UnpackIntoInterface(&decoded, "RewardsDistributed", log.Data); err != nil {
		return RewardsDistributedEvent{}, fmt.Errorf("chainclient: decoding RewardsDistributed: %w", err)
	}
	return RewardsDistributedEvent{
		HeartbeatKey: log.Topics[1],
		Round:        decoded.Round,
		VoterCount:   decoded.VoterCount,
		BlockNumber:  log.BlockNumber,
		TxHash:       log.TxHash,
	}, nil
}

func decodeRewardDistributionAbandoned(bc *boundContract, log types.Log) (RewardDistributionAbandonedEvent, error) {
	var decoded struct {
		Round uint8
	}
	if err := bc.abi.UnpackIntoInterface(&decoded, "RewardDistributionAbandoned", log.Data); err != nil {
		return RewardDistributionAbandonedEvent{}, fmt.Errorf("chainclient: decoding RewardDistributionAbandoned: %w", err)
	}
	return RewardDistributionAbandonedEvent{
		HeartbeatKey: log.Topics[1],
		Round:        decoded.Round,
		BlockNumber:  log.BlockNumber,
		TxHash:       log.TxHash,
	}, nil
}

func decodeSlashingCallbackFailed(bc *boundContract, log types.Log) (SlashingCallbackFailedEvent, error) {
	var decoded struct {
		Round  uint8
		Reason []byte
	}
	if err := bc.abi.UnpackIntoInterface(&decoded, "SlashingCallbackFailed", log.Data); err != nil {
		return SlashingCallbackFailedEvent{}, fmt.Errorf("chainclient: decoding SlashingCallbackFailed: %w", err)
	}
	return SlashingCallbackFailedEvent{
		HeartbeatKey: log.Topics[1],
		Round:        decoded.Round,
		Reason:       decoded.Reason,
		BlockNumber:  log.BlockNumber,
		TxHash:       log.TxHash,
	}, nil
}

// pumpLogs runs in its own goroutine, decoding each raw log with decode and
// forwarding the typed result or error until logs closes or ctx is done.
func pumpLogs[T any](ctx context.Context, logs <-chan types.Log, sub ethereum.Subscription, decode func(types.Log) (T, error)) (<-chan T, <-chan error) {
	out := make(chan T, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					errs <- fmt.Errorf("chainclient: subscription error: %w", err)
				}
				return
			case log, ok := <-logs:
				if !ok {
					return
				}
				event, err := decode(log)
				if err != nil {
					errs <- err
					return
				}
				out <- event
			}
		}
	}()
	return out, errs
}

// SubscribeRoundStarted streams RoundStarted events from the chain head,
// the committee assignments a node's live listener acts on between backlog
// catch-up and reconnection.
func (m *HeartbeatManager) SubscribeRoundStarted(ctx context.Context) (<-chan RoundStartedEvent, <-chan error, error) {
	logs, sub, err := m.bc.subscribeLogs(ctx, "RoundStarted")
	if err != nil {
		return nil, nil, err
	}
	out, errs := pumpLogs(ctx, logs, sub, func(log types.Log) (RoundStartedEvent, error) {
		return decodeRoundStarted(m.bc, log)
	})
	return out, errs, nil
}

// SubscribeHeartbeatEnqueued streams HeartbeatEnqueued events from the
// chain head, used by the keeper to materialize raw HTX bodies by key.
func (m *HeartbeatManager) SubscribeHeartbeatEnqueued(ctx context.Context) (<-chan HeartbeatEnqueuedEvent, <-chan error, error) {
	logs, sub, err := m.bc.subscribeLogs(ctx, "HeartbeatEnqueued")
	if err != nil {
		return nil, nil, err
	}
	out, errs := pumpLogs(ctx, logs, sub, func(log types.Log) (HeartbeatEnqueuedEvent, error) {
		return decodeHeartbeatEnqueued(m.bc, log)
	})
	return out, errs, nil
}

// SubscribeRoundFinalized streams RoundFinalized events from the chain
// head, the keeper's trigger to run reward distribution and jailing for a
// round's outcome.
func (m *HeartbeatManager) SubscribeRoundFinalized(ctx context.Context) (<-chan RoundFinalizedEvent, <-chan error, error) {
	logs, sub, err := m.bc.subscribeLogs(ctx, "RoundFinalized")
	if err != nil {
		return nil, nil, err
	}
	out, errs := pumpLogs(ctx, logs, sub, func(log types.Log) (RoundFinalizedEvent, error) {
		return decodeRoundFinalized(m.bc, log)
	})
	return out, errs, nil
}

// SubscribeRewardsDistributed streams RewardsDistributed events from the
// chain head, marking a round's rewards_done transition.
func (m *HeartbeatManager) SubscribeRewardsDistributed(ctx context.Context) (<-chan RewardsDistributedEvent, <-chan error, error) {
	logs, sub, err := m.bc.subscribeLogs(ctx, "RewardsDistributed")
	if err != nil {
		return nil, nil, err
	}
	out, errs := pumpLogs(ctx, logs, sub, func(log types.Log) (RewardsDistributedEvent, error) {
		return decodeRewardsDistributed(m.bc, log)
	})
	return out, errs, nil
}

// SubscribeRewardDistributionAbandoned streams RewardDistributionAbandoned
// events from the chain head: terminal, the keeper marks rewards_done
// without retrying.
func (m *HeartbeatManager) SubscribeRewardDistributionAbandoned(ctx context.Context) (<-chan RewardDistributionAbandonedEvent, <-chan error, error) {
	logs, sub, err := m.bc.subscribeLogs(ctx, "RewardDistributionAbandoned")
	if err != nil {
		return nil, nil, err
	}
	out, errs := pumpLogs(ctx, logs, sub, func(log types.Log) (RewardDistributionAbandonedEvent, error) {
		return decodeRewardDistributionAbandoned(m.bc, log)
	})
	return out, errs, nil
}

// SubscribeSlashingCallbackFailed streams SlashingCallbackFailed events
// from the chain head, the keeper's signal to call RetrySlashing exactly
// once per round.
func (m *HeartbeatManager) SubscribeSlashingCallbackFailed(ctx context.Context) (<-chan SlashingCallbackFailedEvent, <-chan error, error) {
	logs, sub, err := m.bc.subscribeLogs(ctx, "SlashingCallbackFailed")
	if err != nil {
		return nil, nil, err
	}
	out, errs := pumpLogs(ctx, logs, sub, func(log types.Log) (SlashingCallbackFailedEvent, error) {
		return decodeSlashingCallbackFailed(m.bc, log)
	})
	return out, errs, nil
}
