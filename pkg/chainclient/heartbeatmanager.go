package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/certen/independant-validator/pkg/htx"
	"github.com/certen/independant-validator/pkg/votepacking"
	"github.com/ethereum/go-ethereum/common"
)

const heartbeatManagerABI = `[
  {"type":"function","name":"submitHeartbeat","stateMutability":"nonpayable","inputs":[{"name":"rawHTX","type":"bytes"},{"name":"snapshotId","type":"uint64"}],"outputs":[{"name":"heartbeatKey","type":"bytes32"}]},
  {"type":"function","name":"submitVerdict","stateMutability":"nonpayable","inputs":[{"name":"heartbeatKey","type":"bytes32"},{"name":"verdict","type":"uint8"},{"name":"memberProof","type":"bytes32[]"}],"outputs":[]},
  {"type":"function","name":"getVotePacked","stateMutability":"view","inputs":[{"name":"heartbeatKey","type":"bytes32"},{"name":"round","type":"uint8"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"nodeCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getNodes","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"rounds","stateMutability":"view","inputs":[{"name":"heartbeatKey","type":"bytes32"},{"name":"round","type":"uint8"}],"outputs":[{"name":"reward","type":"address"},{"name":"validStake","type":"uint256"},{"name":"invalidStake","type":"uint256"}]},
  {"type":"function","name":"isPastDeadline","stateMutability":"view","inputs":[{"name":"heartbeatKey","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"escalateOrExpire","stateMutability":"nonpayable","inputs":[{"name":"heartbeatKey","type":"bytes32"},{"name":"rawHTX","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"distributeRewards","stateMutability":"nonpayable","inputs":[{"name":"heartbeatKey","type":"bytes32"},{"name":"round","type":"uint8"},{"name":"voters","type":"address[]"}],"outputs":[]},
  {"type":"function","name":"retrySlashing","stateMutability":"nonpayable","inputs":[{"name":"heartbeatKey","type":"bytes32"},{"name":"round","type":"uint8"}],"outputs":[]},
  {"type":"event","name":"HeartbeatEnqueued","anonymous":false,"inputs":[{"name":"heartbeatKey","type":"bytes32","indexed":true},{"name":"rawHTX","type":"bytes","indexed":false},{"name":"submitter","type":"address","indexed":true}]},
  {"type":"event","name":"RoundStarted","anonymous":false,"inputs":[{"name":"heartbeatKey","type":"bytes32","indexed":true},{"name":"round","type":"uint8","indexed":false},{"name":"committeeRoot","type":"bytes32","indexed":false},{"name":"snapshotId","type":"uint64","indexed":false},{"name":"startedAt","type":"uint64","indexed":false},{"name":"deadline","type":"uint64","indexed":false},{"name":"members","type":"address[]","indexed":false},{"name":"rawHTX","type":"bytes","indexed":false}]},
  {"type":"event","name":"OperatorVoted","anonymous":false,"inputs":[{"name":"heartbeatKey","type":"bytes32","indexed":true},{"name":"round","type":"uint8","indexed":false},{"name":"operator","type":"address","indexed":true},{"name":"verdict","type":"uint8","indexed":false},{"name":"weight","type":"uint256","indexed":false}]},
  {"type":"event","name":"RoundFinalized","anonymous":false,"inputs":[{"name":"heartbeatKey","type":"bytes32","indexed":true},{"name":"round","type":"uint8","indexed":false},{"name":"outcome","type":"uint8","indexed":false}]},
  {"type":"event","name":"RewardsDistributed","anonymous":false,"inputs":[{"name":"heartbeatKey","type":"bytes32","indexed":true},{"name":"round","type":"uint8","indexed":false},{"name":"voterCount","type":"uint256","indexed":false}]},
  {"type":"event","name":"RewardDistributionAbandoned","anonymous":false,"inputs":[{"name":"heartbeatKey","type":"bytes32","indexed":true},{"name":"round","type":"uint8","indexed":false}]},
  {"type":"event","name":"SlashingCallbackFailed","anonymous":false,"inputs":[{"name":"heartbeatKey","type":"bytes32","indexed":true},{"name":"round","type":"uint8","indexed":false},{"name":"reason","type":"bytes","indexed":false}]},
  {"type":"error","name":"ZeroAddress","inputs":[]},
  {"type":"error","name":"NotPending","inputs":[]},
  {"type":"error","name":"RoundClosed","inputs":[]},
  {"type":"error","name":"RoundAlreadyFinalized","inputs":[]},
  {"type":"error","name":"NotInCommittee","inputs":[]},
  {"type":"error","name":"ZeroStake","inputs":[]},
  {"type":"error","name":"BeforeDeadline","inputs":[]},
  {"type":"error","name":"AlreadyResponded","inputs":[]},
  {"type":"error","name":"InvalidVerdict","inputs":[]},
  {"type":"error","name":"CommitteeNotStarted","inputs":[]},
  {"type":"error","name":"InvalidRound","inputs":[]},
  {"type":"error","name":"EmptyCommittee","inputs":[]},
  {"type":"error","name":"InvalidSignature","inputs":[]},
  {"type":"error","name":"InvalidBatchSize","inputs":[]},
  {"type":"error","name":"RoundNotFinalized","inputs":[]},
  {"type":"error","name":"SnapshotBlockUnavailable","inputs":[{"name":"snapshotId","type":"uint64"}]},
  {"type":"error","name":"RewardsAlreadyDone","inputs":[]},
  {"type":"error","name":"InvalidOutcome","inputs":[]},
  {"type":"error","name":"UnsortedVoters","inputs":[]},
  {"type":"error","name":"InvalidVoterInList","inputs":[]},
  {"type":"error","name":"InvalidVoterCount","inputs":[{"name":"got","type":"uint256"},{"name":"expected","type":"uint256"}]},
  {"type":"error","name":"InvalidVoterWeightSum","inputs":[{"name":"got","type":"uint256"},{"name":"expected","type":"uint256"}]},
  {"type":"error","name":"RawHTXHashMismatch","inputs":[]},
  {"type":"error","name":"InvalidCommitteeMember","inputs":[{"name":"member","type":"address"}]}
]`

// HeartbeatManager wraps the contract operator nodes and keepers both
// depend on: heartbeat submission, committee rounds, and per-member
// votes. Grounded on heartbeat_manager.rs's HeartbeatManagerClient.
type HeartbeatManager struct {
	bc *boundContract
}

// NewHeartbeatManager binds to a deployed HeartbeatManager contract.
func NewHeartbeatManager(client *Client, address common.Address) (*HeartbeatManager, error) {
	bc, err := newBoundContract(client, address, heartbeatManagerABI)
	if err != nil {
		return nil, fmt.Errorf("chainclient: binding HeartbeatManager: %w", err)
	}
	return &HeartbeatManager{bc: bc}, nil
}

func (m *HeartbeatManager) Address() common.Address {
	return m.bc.address
}

// Client exposes the connection this manager is bound against, used by
// the keeper to read the chain head and block timestamps without binding
// a second client.
func (m *HeartbeatManager) Client() *Client {
	return m.bc.client
}

// RoundStartedEvent mirrors the contract's RoundStarted log: the
// committee assigned to verify one heartbeat at one round.
type RoundStartedEvent struct {
	HeartbeatKey  common.Hash
	Round         uint8
	CommitteeRoot common.Hash
	SnapshotID    uint64
	StartedAt     uint64
	Deadline      uint64
	Members       []common.Address
	RawHTX        []byte
	BlockNumber   uint64
	TxHash        common.Hash
}

// HeartbeatEnqueuedEvent mirrors the contract's HeartbeatEnqueued log.
type HeartbeatEnqueuedEvent struct {
	HeartbeatKey common.Hash
	RawHTX       []byte
	Submitter    common.Address
	BlockNumber  uint64
	TxHash       common.Hash
}

// OperatorVotedEvent mirrors the contract's OperatorVoted log.
type OperatorVotedEvent struct {
	HeartbeatKey common.Hash
	Round        uint8
	Operator     common.Address
	Verdict      uint8
	Weight       *big.Int
	BlockNumber  uint64
	TxHash       common.Hash
}

// RoundFinalizedEvent mirrors the contract's RoundFinalized log: a round's
// outcome (1=Valid, 2=Invalid) has been decided.
type RoundFinalizedEvent struct {
	HeartbeatKey common.Hash
	Round        uint8
	Outcome      uint8
	BlockNumber  uint64
	TxHash       common.Hash
}

// RewardsDistributedEvent mirrors the contract's RewardsDistributed log.
type RewardsDistributedEvent struct {
	HeartbeatKey common.Hash
	Round        uint8
	VoterCount   *big.Int
	BlockNumber  uint64
	TxHash       common.Hash
}

// RewardDistributionAbandonedEvent mirrors the contract's
// RewardDistributionAbandoned log: terminal, no retry.
type RewardDistributionAbandonedEvent struct {
	HeartbeatKey common.Hash
	Round        uint8
	BlockNumber  uint64
	TxHash       common.Hash
}

// SlashingCallbackFailedEvent mirrors the contract's SlashingCallbackFailed
// log, the signal the keeper retries retrySlashing on, exactly once.
type SlashingCallbackFailedEvent struct {
	HeartbeatKey common.Hash
	Round        uint8
	Reason       []byte
	BlockNumber  uint64
	TxHash       common.Hash
}

// RoundInfo is the view returned by the contract's rounds(key, round)
// accessor: the reward policy contract backing this round's payout and
// the stake weight on each side of the vote, used by the keeper's
// reward-distribution integrity check.
type RoundInfo struct {
	Reward       common.Address
	ValidStake   *big.Int
	InvalidStake *big.Int
}

// SubmitHeartbeat enqueues a parsed HTX message for committee
// assignment. snapshotID is supplied by the caller and names the block
// whose stake weights the round's committee will be sampled from.
func (m *HeartbeatManager) SubmitHeartbeat(ctx context.Context, message htx.Message, snapshotID uint64) (*Receipt, error) {
	raw, err := htx.ToBytes(message)
	if err != nil {
		return nil, fmt.Errorf("chainclient: encoding htx: %w", err)
	}
	return m.bc.send(ctx, "submitHeartbeat", nil, raw, snapshotID)
}

// SubmitVerdict casts one committee member's vote for a round, proven
// by a Merkle inclusion proof against the round's committee root.
func (m *HeartbeatManager) SubmitVerdict(ctx context.Context, heartbeatKey common.Hash, verdict votepacking.Verdict, memberProof []common.Hash) (*Receipt, error) {
	proof := make([][32]byte, len(memberProof))
	for i, h := range memberProof {
		proof[i] = h
	}
	return m.bc.send(ctx, "submitVerdict", nil, heartbeatKey, uint8(verdict), proof)
}

// GetVotePacked returns one operator's raw packed vote for a round.
func (m *HeartbeatManager) GetVotePacked(ctx context.Context, heartbeatKey common.Hash, round uint8, operator common.Address) (*big.Int, error) {
	out, err := m.bc.call(ctx, "getVotePacked", heartbeatKey, round, operator)
	if err != nil {
		return nil, err
	}
	return castUnpacked[*big.Int](out, 0)
}

// NodeCount returns the number of active operator nodes.
func (m *HeartbeatManager) NodeCount(ctx context.Context) (*big.Int, error) {
	out, err := m.bc.call(ctx, "nodeCount")
	if err != nil {
		return nil, err
	}
	return castUnpacked[*big.Int](out, 0)
}

// GetNodes returns every active operator node's address.
func (m *HeartbeatManager) GetNodes(ctx context.Context) ([]common.Address, error) {
	out, err := m.bc.call(ctx, "getNodes")
	if err != nil {
		return nil, err
	}
	return castUnpacked[[]common.Address](out, 0)
}

// RoundInfo fetches the contract's rounds(key, round) view: the round's
// reward policy contract address and stake weight on each side, cached by
// callers per round since it only changes once the round finalizes.
func (m *HeartbeatManager) RoundInfo(ctx context.Context, heartbeatKey common.Hash, round uint8) (RoundInfo, error) {
	out, err := m.bc.call(ctx, "rounds", heartbeatKey, round)
	if err != nil {
		return RoundInfo{}, err
	}
	reward, err := castUnpacked[common.Address](out, 0)
	if err != nil {
		return RoundInfo{}, err
	}
	validStake, err := castUnpacked[*big.Int](out, 1)
	if err != nil {
		return RoundInfo{}, err
	}
	invalidStake, err := castUnpacked[*big.Int](out, 2)
	if err != nil {
		return RoundInfo{}, err
	}
	return RoundInfo{Reward: reward, ValidStake: validStake, InvalidStake: invalidStake}, nil
}

// IsPastDeadline reports whether a heartbeat's current round has passed its
// voting deadline, used as the escalator's fallback path when no round is
// tracked locally for a known heartbeat.
func (m *HeartbeatManager) IsPastDeadline(ctx context.Context, heartbeatKey common.Hash) (bool, error) {
	out, err := m.bc.call(ctx, "isPastDeadline", heartbeatKey)
	if err != nil {
		return false, err
	}
	return castUnpacked[bool](out, 0)
}

// EscalateOrExpire advances a heartbeat past a missed deadline: escalates
// to the next committee round or expires it, depending on contract policy.
func (m *HeartbeatManager) EscalateOrExpire(ctx context.Context, heartbeatKey common.Hash, rawHTX []byte) (*Receipt, error) {
	return m.bc.send(ctx, "escalateOrExpire", nil, heartbeatKey, rawHTX)
}

// DistributeRewards pays out a finalized round's reward budget across the
// voters who sided with the outcome.
func (m *HeartbeatManager) DistributeRewards(ctx context.Context, heartbeatKey common.Hash, round uint8, voters []common.Address) (*Receipt, error) {
	return m.bc.send(ctx, "distributeRewards", nil, heartbeatKey, round, voters)
}

// RetrySlashing re-invokes the jailing-policy slashing callback for a round
// whose prior attempt failed.
func (m *HeartbeatManager) RetrySlashing(ctx context.Context, heartbeatKey common.Hash, round uint8) (*Receipt, error) {
	return m.bc.send(ctx, "retrySlashing", nil, heartbeatKey, round)
}

// HeartbeatEnqueuedEvents fetches HeartbeatEnqueued logs over a block range.
func (m *HeartbeatManager) HeartbeatEnqueuedEvents(ctx context.Context, r BlockRange) ([]HeartbeatEnqueuedEvent, error) {
	logs, err := m.bc.queryLogs(ctx, r, "HeartbeatEnqueued")
	if err != nil {
		return nil, err
	}
	events := make([]HeartbeatEnqueuedEvent, 0, len(logs))
	for _, log := range logs {
		var decoded struct {
			RawHTX []byte
		}
		if err := m.bc.abi.UnpackIntoInterface(&decoded, "HeartbeatEnqueued", log.Data); err != nil {
			return nil, fmt.Errorf("chainclient: decoding HeartbeatEnqueued: %w", err)
		}
		events = append(events, HeartbeatEnqueuedEvent{
			HeartbeatKey: log.Topics[1],
			RawHTX:       decoded.RawHTX,
			Submitter:    common.BytesToAddress(log.Topics[2].Bytes()),
			BlockNumber:  log.BlockNumber,
			TxHash:       log.TxHash,
		})
	}
	return events, nil
}

// RoundStartedEvents fetches RoundStarted logs over a block range —
// the committee assignments a node or keeper needs to act on.
func (m *HeartbeatManager) RoundStartedEvents(ctx context.Context, r BlockRange) ([]RoundStartedEvent, error) {
	logs, err := m.bc.queryLogs(ctx, r, "RoundStarted")
	if err != nil {
		return nil, err
	}
	events := make([]RoundStartedEvent, 0, len(logs))
	for _, log := range logs {
		var decoded struct {
			Round         uint8
			CommitteeRoot [32]byte
			SnapshotId    uint64
			StartedAt     uint64
			Deadline      uint64
			Members       []common.Address
			RawHTX        []byte
		}
		if err := m.bc.abi.UnpackIntoInterface(&decoded, "RoundStarted", log.Data); err != nil {
			return nil, fmt.Errorf("chainclient: decoding RoundStarted: %w", err)
		}
		events = append(events, RoundStartedEvent{
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
		})
	}
	return events, nil
}

// OperatorVotedEvents fetches OperatorVoted logs over a block range.
func (m *HeartbeatManager) OperatorVotedEvents(ctx context.Context, r BlockRange) ([]OperatorVotedEvent, error) {
	logs, err := m.bc.queryLogs(ctx, r, "OperatorVoted")
	if err != nil {
		return nil, err
	}
	events := make([]OperatorVotedEvent, 0, len(logs))
	for _, log := range logs {
		var decoded struct {
			Round   uint8
			Verdict uint8
			Weight  *big.Int
		}
		if err := m.bc.abi.UnpackIntoInterface(&decoded, "OperatorVoted", log.Data); err != nil {
			return nil, fmt.Errorf("chainclient: decoding OperatorVoted: %w", err)
		}
		events = append(events, OperatorVotedEvent{
			HeartbeatKey: log.Topics[1],
			Round:        decoded.Round,
			Operator:     common.BytesToAddress(log.Topics[2].Bytes()),
			Verdict:      decoded.Verdict,
			Weight:       decoded.Weight,
			BlockNumber:  log.BlockNumber,
			TxHash:       log.TxHash,
		})
	}
	return events, nil
}

// RoundFinalizedEvents fetches RoundFinalized logs over a block range.
func (m *HeartbeatManager) RoundFinalizedEvents(ctx context.Context, r BlockRange) ([]RoundFinalizedEvent, error) {
	logs, err := m.bc.queryLogs(ctx, r, "RoundFinalized")
	if err != nil {
		return nil, err
	}
	events := make([]RoundFinalizedEvent, 0, len(logs))
	for _, log := range logs {
		var decoded struct {
			Round   uint8
			Outcome uint8
		}
		if err := m.bc.abi.UnpackIntoInterface(&decoded, "RoundFinalized", log.Data); err != nil {
			return nil, fmt.Errorf("chainclient: decoding RoundFinalized: %w", err)
		}
		events = append(events, RoundFinalizedEvent{
			HeartbeatKey: log.Topics[1],
			Round:        decoded.Round,
			Outcome:      decoded.Outcome,
			BlockNumber:  log.BlockNumber,
			TxHash:       log.TxHash,
		})
	}
	return events, nil
}

// RewardsDistributedEvents fetches RewardsDistributed logs over a block range.
func (m *HeartbeatManager) RewardsDistributedEvents(ctx context.Context, r BlockRange) ([]RewardsDistributedEvent, error) {
	logs, err := m.bc.queryLogs(ctx, r, "RewardsDistributed")
	if err != nil {
		return nil, err
	}
	events := make([]RewardsDistributedEvent, 0, len(logs))
	for _, log := range logs {
		var decoded struct {
			Round      uint8
			VoterCount *big.Int
		}
		if err := m.bc.abi.UnpackIntoInterface(&decoded, "RewardsDistributed", log.Data); err != nil {
			return nil, fmt.Errorf("chainclient: decoding RewardsDistributed: %w", err)
		}
		events = append(events, RewardsDistributedEvent{
			HeartbeatKey: log.Topics[1],
			Round:        decoded.Round,
			VoterCount:   decoded.VoterCount,
			BlockNumber:  log.BlockNumber,
			TxHash:       log.TxHash,
		})
	}
	return events, nil
}

// RewardDistributionAbandonedEvents fetches RewardDistributionAbandoned
// logs over a block range.
func (m *HeartbeatManager) RewardDistributionAbandonedEvents(ctx context.Context, r BlockRange) ([]RewardDistributionAbandonedEvent, error) {
	logs, err := m.bc.queryLogs(ctx, r, "RewardDistributionAbandoned")
	if err != nil {
		return nil, err
	}
	events := make([]RewardDistributionAbandonedEvent, 0, len(logs))
	for _, log := range logs {
		var decoded struct {
			Round uint8
		}
		if err := m.bc.abi.UnpackIntoInterface(&decoded, "RewardDistributionAbandoned", log.Data); err != nil {
			return nil, fmt.Errorf("chainclient: decoding RewardDistributionAbandoned: %w", err)
		}
		events = append(events, RewardDistributionAbandonedEvent{
			HeartbeatKey: log.Topics[1],
			Round:        decoded.Round,
			BlockNumber:  log.BlockNumber,
			TxHash:       log.TxHash,
		})
	}
	return events, nil
}

// SlashingCallbackFailedEvents fetches SlashingCallbackFailed logs over a
// block range — the keeper retries retrySlashing exactly once per entry.
func (m *HeartbeatManager) SlashingCallbackFailedEvents(ctx context.Context, r BlockRange) ([]SlashingCallbackFailedEvent, error) {
	logs, err := m.bc.queryLogs(ctx, r, "SlashingCallbackFailed")
	if err != nil {
		return nil, err
	}
	events := make([]SlashingCallbackFailedEvent, 0, len(logs))
	for _, log := range logs {
		var decoded struct {
			Round  uint8
			Reason []byte
		}
		if err := m.bc.abi.UnpackIntoInterface(&decoded, "SlashingCallbackFailed", log.Data); err != nil {
			return nil, fmt.Errorf("chainclient: decoding SlashingCallbackFailed: %w", err)
		}
		events = append(events, SlashingCallbackFailedEvent{
			HeartbeatKey: log.Topics[1],
			Round:        decoded.Round,
			Reason:       decoded.Reason,
			BlockNumber:  log.BlockNumber,
			TxHash:       log.TxHash,
		})
	}
	return events, nil
}

// castUnpacked type-asserts the ith value returned by an ABI-decoded
// call, giving call sites a typed result instead of repeating the
// assertion everywhere.
func castUnpacked[T any](values []interface{}, i int) (T, error) {
	var zero T
	if i >= len(values) {
		return zero, fmt.Errorf("chainclient: expected at least %d return value(s), got %d", i+1, len(values))
	}
	v, ok := values[i].(T)
	if !ok {
		return zero, fmt.Errorf("chainclient: return value %d has unexpected type %T", i, values[i])
	}
	return v, nil
}
