// Package keeper drives round lifecycle on L2: escalating heartbeats past
// their voting deadline, distributing a finalized round's reward budget,
// and enforcing jailing against committees that missed or mis-voted. It
// materializes a read model from on-chain events rather than querying the
// chain fresh on every tick, the way the original source's keeper/src/l2.rs
// (and its historical split into l2/{supervisor,escalator,rewards,jailing,
// events}.rs) maintains a lock-guarded KeeperState.
package keeper

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/pkg/chainclient"
)

// RoundKey identifies one committee round of one heartbeat.
type RoundKey struct {
	HeartbeatKey common.Hash
	Round        uint8
}

// RoundState accumulates everything the keeper has observed about one
// round across the events that describe it. Fields only ever transition
// one way: Outcome goes from nil to set, RewardsDone and JailingDone go
// from false to true, RewardSyncAttempted goes from false to true. Once
// set, a field is never unset or overwritten with an earlier value.
type RoundState struct {
	Members             []common.Address
	RawHTX              []byte
	Deadline            *uint64
	Outcome             *uint8
	RoundInfo           *chainclient.RoundInfo
	RewardsDone         bool
	RewardSyncAttempted bool
	JailingDone         bool
}

func newRoundState() *RoundState {
	return &RoundState{}
}

// RewardPolicyCache holds one reward policy's per-tick and per-round
// throttling state, avoiding redundant on-chain reads within a tick and
// redundant sync() sends within a round.
type RewardPolicyCache struct {
	TokenAddress      *common.Address
	TokenDecimals     *uint8
	LastCheckedAt     *uint64
	LastBudget        *big.Int
	LastRemaining     *big.Int
	LastAccounted     *big.Int
	LastBalance       *big.Int
	LastSyncAttemptAt *uint64
}

func newRewardPolicyCache() *RewardPolicyCache {
	return &RewardPolicyCache{}
}

// State is the keeper's materialized read model, guarded by a single
// mutex. Callers copy out the fields they need while holding the lock,
// then release it before making any network call — the same
// copy-out-under-lock, process-outside-lock discipline the original
// source's process_rounds and process_escalations use, so a slow RPC call
// never blocks event ingestion.
type State struct {
	mu sync.Mutex

	rawHTXByHeartbeat map[common.Hash][]byte
	rounds            map[RoundKey]*RoundState
	rewardPolicies    map[common.Address]*RewardPolicyCache
}

// NewState builds an empty materialized state, ready for historical
// backfill followed by live event ingestion.
func NewState() *State {
	return &State{
		rawHTXByHeartbeat: make(map[common.Hash][]byte),
		rounds:            make(map[RoundKey]*RoundState),
		rewardPolicies:    make(map[common.Address]*RewardPolicyCache),
	}
}

// recordRawHTX stores a heartbeat's raw payload under its key, used by
// both HeartbeatEnqueued ingestion and as a fallback source for a round
// that itself didn't capture a copy.
func (s *State) recordRawHTX(heartbeatKey common.Hash, rawHTX []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawHTXByHeartbeat[heartbeatKey] = rawHTX
}

// round returns the round entry for key, creating it if absent. Callers
// must hold s.mu.
func (s *State) round(key RoundKey) *RoundState {
	entry, ok := s.rounds[key]
	if !ok {
		entry = newRoundState()
		s.rounds[key] = entry
	}
	return entry
}

// recordRoundStarted applies a RoundStarted event's fields onto the
// round's state and mirrors the raw HTX into the by-heartbeat index.
func (s *State) recordRoundStarted(key RoundKey, members []common.Address, rawHTX []byte, deadline uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawHTXByHeartbeat[key.HeartbeatKey] = rawHTX
	entry := s.round(key)
	entry.Members = members
	entry.RawHTX = rawHTX
	d := deadline
	entry.Deadline = &d
}

// recordRoundFinalized stores a round's terminal outcome.
func (s *State) recordRoundFinalized(key RoundKey, outcome uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := outcome
	s.round(key).Outcome = &o
}

// markRewardsDone flags a round's rewards as settled, whether distributed
// successfully or abandoned by the contract — both are terminal from the
// keeper's perspective.
func (s *State) markRewardsDone(key RoundKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round(key).RewardsDone = true
}

// markJailingDone flags a round's jailing enforcement as settled.
func (s *State) markJailingDone(key RoundKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round(key).JailingDone = true
}

// cachedRoundInfo returns a round's cached reward/stake view, if any.
func (s *State) cachedRoundInfo(key RoundKey) *chainclient.RoundInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rounds[key]
	if !ok {
		return nil
	}
	return entry.RoundInfo
}

// storeRoundInfo caches a round's reward/stake view after its first
// on-chain fetch.
func (s *State) storeRoundInfo(key RoundKey, info chainclient.RoundInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round(key).RoundInfo = &info
}

// tryMarkRewardSyncAttempted returns true and leaves the flag untouched
// if a reward sync has already been attempted for this round; otherwise
// it sets the flag and returns false. The single check-and-set under one
// lock acquisition is what makes this throttle race-free across
// concurrent reward jobs.
func (s *State) tryMarkRewardSyncAttempted(key RoundKey) (alreadyAttempted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.round(key)
	if entry.RewardSyncAttempted {
		return true
	}
	entry.RewardSyncAttempted = true
	return false
}

// escalationCandidate is one round under consideration for escalation.
type escalationCandidate struct {
	HeartbeatKey common.Hash
	Round        uint8
	Deadline     uint64
	RawHTX       []byte
}

// escalationCandidates returns, per heartbeat key, the highest round with
// no outcome yet whose deadline and raw HTX are both known — the
// escalator's primary path. If no round qualifies anywhere, it instead
// returns every known heartbeat's raw HTX as a fallback candidate set, to
// be checked against isPastDeadline on-chain since no local deadline
// applies to a heartbeat with no round started for it.
func (s *State) escalationCandidates() ([]escalationCandidate, map[common.Hash][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := make(map[common.Hash]escalationCandidate)
	for key, round := range s.rounds {
		if round.Outcome != nil {
			continue
		}
		if round.Deadline == nil {
			continue
		}
		rawHTX := round.RawHTX
		if rawHTX == nil {
			rawHTX = s.rawHTXByHeartbeat[key.HeartbeatKey]
		}
		if rawHTX == nil {
			continue
		}
		current, ok := best[key.HeartbeatKey]
		if !ok || key.Round > current.Round {
			best[key.HeartbeatKey] = escalationCandidate{
				HeartbeatKey: key.HeartbeatKey,
				Round:        key.Round,
				Deadline:     *round.Deadline,
				RawHTX:       rawHTX,
			}
		}
	}

	if len(best) > 0 {
		candidates := make([]escalationCandidate, 0, len(best))
		for _, c := range best {
			candidates = append(candidates, c)
		}
		return candidates, nil
	}

	fallback := make(map[common.Hash][]byte, len(s.rawHTXByHeartbeat))
	for k, v := range s.rawHTXByHeartbeat {
		fallback[k] = v
	}
	return nil, fallback
}

// rewardJob is a finalized, not-yet-rewarded round ready for the reward
// pipeline.
type rewardJob struct {
	Key     RoundKey
	Outcome uint8
	Members []common.Address
}

// jailJob is a finalized, not-yet-jailed round ready for jailing
// enforcement.
type jailJob struct {
	Key     RoundKey
	Members []common.Address
}

// pendingJobs copies out every round with a known outcome that still
// needs reward distribution and/or jailing enforcement, the snapshot
// process_rounds processes after releasing the lock.
func (s *State) pendingJobs(jailingEnabled bool) ([]rewardJob, []jailJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rewardJobs []rewardJob
	var jailJobs []jailJob
	for key, round := range s.rounds {
		if round.Outcome == nil {
			continue
		}
		if !round.RewardsDone && len(round.Members) > 0 {
			rewardJobs = append(rewardJobs, rewardJob{Key: key, Outcome: *round.Outcome, Members: round.Members})
		}
		if jailingEnabled && !round.JailingDone && len(round.Members) > 0 {
			jailJobs = append(jailJobs, jailJob{Key: key, Members: round.Members})
		}
	}
	return rewardJobs, jailJobs
}

// rewardPolicyCache returns a copy of reward's cache entry, creating a
// fresh zero-value one if this is the first time reward is seen.
func (s *State) rewardPolicyCache(reward common.Address) RewardPolicyCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rewardPolicies[reward]
	if !ok {
		return *newRewardPolicyCache()
	}
	return *entry
}

// storeRewardPolicyCache writes back reward's cache entry after a budget
// check, whatever the outcome.
func (s *State) storeRewardPolicyCache(reward common.Address, cache RewardPolicyCache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cache
	s.rewardPolicies[reward] = &c
}

// Stats reports the materialized state's size, logged after historical
// backfill completes.
type Stats struct {
	Heartbeats int
	Rounds     int
}

func (s *State) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Heartbeats: len(s.rawHTXByHeartbeat), Rounds: len(s.rounds)}
}
