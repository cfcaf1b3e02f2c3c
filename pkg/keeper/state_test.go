package keeper

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/pkg/chainclient"
)

func hb(n byte) common.Hash {
	var h common.Hash
	h[31] = n
	return h
}

func TestRecordRoundStartedMirrorsRawHTXByHeartbeat(t *testing.T) {
	s := NewState()
	key := RoundKey{HeartbeatKey: hb(1), Round: 1}
	s.recordRoundStarted(key, []common.Address{common.HexToAddress("0x01")}, []byte("payload"), 100)

	stats := s.stats()
	if stats.Heartbeats != 1 || stats.Rounds != 1 {
		t.Fatalf("stats = %+v, want 1 heartbeat and 1 round", stats)
	}
}

func TestEscalationCandidatesPrimaryPathPicksHighestRound(t *testing.T) {
	s := NewState()
	key := hb(1)
	s.recordRoundStarted(RoundKey{HeartbeatKey: key, Round: 1}, nil, []byte("r1"), 50)
	s.recordRoundStarted(RoundKey{HeartbeatKey: key, Round: 2}, nil, []byte("r2"), 60)

	candidates, fallback := s.escalationCandidates()
	if fallback != nil {
		t.Fatalf("fallback should be nil when a primary candidate exists, got %v", fallback)
	}
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(candidates))
	}
	if candidates[0].Round != 2 {
		t.Errorf("Round = %d, want 2 (the highest pending round)", candidates[0].Round)
	}
	if candidates[0].Deadline != 60 {
		t.Errorf("Deadline = %d, want 60", candidates[0].Deadline)
	}
}

func TestEscalationCandidatesSkipsFinalizedRounds(t *testing.T) {
	s := NewState()
	key := hb(1)
	s.recordRoundStarted(RoundKey{HeartbeatKey: key, Round: 1}, nil, []byte("r1"), 50)
	s.recordRoundFinalized(RoundKey{HeartbeatKey: key, Round: 1}, 1)

	candidates, fallback := s.escalationCandidates()
	if len(candidates) != 0 {
		t.Errorf("candidates = %v, want none (round already finalized)", candidates)
	}
	if len(fallback) != 1 {
		t.Errorf("fallback = %v, want the one known heartbeat", fallback)
	}
}

func TestEscalationCandidatesFallsBackWhenNoDeadlineKnown(t *testing.T) {
	s := NewState()
	s.recordRawHTX(hb(1), []byte("raw"))

	candidates, fallback := s.escalationCandidates()
	if len(candidates) != 0 {
		t.Errorf("candidates = %v, want none (no round started)", candidates)
	}
	if len(fallback) != 1 {
		t.Fatalf("fallback = %v, want the one heartbeat with no round", fallback)
	}
}

func TestPendingJobsRequiresOutcomeAndMembers(t *testing.T) {
	s := NewState()
	withOutcome := RoundKey{HeartbeatKey: hb(1), Round: 1}
	s.recordRoundStarted(withOutcome, []common.Address{common.HexToAddress("0x01")}, []byte("raw"), 10)
	s.recordRoundFinalized(withOutcome, 1)

	noMembers := RoundKey{HeartbeatKey: hb(2), Round: 1}
	s.recordRoundStarted(noMembers, nil, []byte("raw"), 10)
	s.recordRoundFinalized(noMembers, 1)

	notFinalized := RoundKey{HeartbeatKey: hb(3), Round: 1}
	s.recordRoundStarted(notFinalized, []common.Address{common.HexToAddress("0x01")}, []byte("raw"), 10)

	rewardJobs, jailJobs := s.pendingJobs(true)
	if len(rewardJobs) != 1 || rewardJobs[0].Key != withOutcome {
		t.Errorf("rewardJobs = %+v, want exactly the finalized round with members", rewardJobs)
	}
	if len(jailJobs) != 1 || jailJobs[0].Key != withOutcome {
		t.Errorf("jailJobs = %+v, want exactly the finalized round with members", jailJobs)
	}
}

func TestPendingJobsSkipsJailingWhenDisabled(t *testing.T) {
	s := NewState()
	key := RoundKey{HeartbeatKey: hb(1), Round: 1}
	s.recordRoundStarted(key, []common.Address{common.HexToAddress("0x01")}, []byte("raw"), 10)
	s.recordRoundFinalized(key, 1)

	rewardJobs, jailJobs := s.pendingJobs(false)
	if len(rewardJobs) != 1 {
		t.Errorf("rewardJobs = %+v, want 1", rewardJobs)
	}
	if len(jailJobs) != 0 {
		t.Errorf("jailJobs = %+v, want none when jailing is disabled", jailJobs)
	}
}

func TestMarkRewardsDoneRemovesFromPendingJobs(t *testing.T) {
	s := NewState()
	key := RoundKey{HeartbeatKey: hb(1), Round: 1}
	s.recordRoundStarted(key, []common.Address{common.HexToAddress("0x01")}, []byte("raw"), 10)
	s.recordRoundFinalized(key, 1)
	s.markRewardsDone(key)

	rewardJobs, _ := s.pendingJobs(false)
	if len(rewardJobs) != 0 {
		t.Errorf("rewardJobs = %+v, want none once rewards are marked done", rewardJobs)
	}
}

func TestTryMarkRewardSyncAttemptedIsOneShot(t *testing.T) {
	s := NewState()
	key := RoundKey{HeartbeatKey: hb(1), Round: 1}

	if already := s.tryMarkRewardSyncAttempted(key); already {
		t.Fatal("first attempt should report not already attempted")
	}
	if already := s.tryMarkRewardSyncAttempted(key); !already {
		t.Fatal("second attempt should report already attempted")
	}
}

func TestRoundInfoCache(t *testing.T) {
	s := NewState()
	key := RoundKey{HeartbeatKey: hb(1), Round: 1}
	if s.cachedRoundInfo(key) != nil {
		t.Fatal("expected no cached round info before storing any")
	}

	info := chainclient.RoundInfo{
		Reward:       common.HexToAddress("0x02"),
		ValidStake:   big.NewInt(10),
		InvalidStake: big.NewInt(5),
	}
	s.storeRoundInfo(key, info)

	cached := s.cachedRoundInfo(key)
	if cached == nil || cached.ValidStake.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("cachedRoundInfo = %+v, want %+v", cached, info)
	}
}

func TestRewardPolicyCacheRoundTrip(t *testing.T) {
	s := NewState()
	reward := common.HexToAddress("0x03")

	empty := s.rewardPolicyCache(reward)
	if empty.LastBudget != nil {
		t.Fatal("expected zero-value cache for an unseen reward policy")
	}

	budget := big.NewInt(1000)
	cache := RewardPolicyCache{LastBudget: budget}
	s.storeRewardPolicyCache(reward, cache)

	reread := s.rewardPolicyCache(reward)
	if reread.LastBudget.Cmp(budget) != 0 {
		t.Errorf("LastBudget = %v, want %v", reread.LastBudget, budget)
	}
}
