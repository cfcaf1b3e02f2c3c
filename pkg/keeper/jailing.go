package keeper

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/pkg/chainclient"
	"github.com/certen/independant-validator/pkg/metrics"
)

// enforceJailing records a finalized round against the jailing policy and
// then applies its jailing decisions across the round's committee. It is
// a no-op when no jailing policy is configured for this keeper —
// jailing is optional, reward distribution never is.
func enforceJailing(ctx context.Context, policy *chainclient.JailingPolicy, state *State, key RoundKey, members []common.Address, metricsReg *metrics.Registry, logger *log.Logger) error {
	if policy == nil {
		return nil
	}

	logger.Printf("keeper: enforcing jailing heartbeat=%s round=%d members=%d", key.HeartbeatKey, key.Round, len(members))

	if _, err := policy.RecordRound(ctx, key.HeartbeatKey, key.Round); err != nil {
		logger.Printf("keeper: WARNING: recording round in jailing policy failed heartbeat=%s round=%d: %v", key.HeartbeatKey, key.Round, err)
	}

	receipt, err := policy.EnforceJailFromMembers(ctx, key.HeartbeatKey, key.Round, members)
	if err != nil {
		return err
	}
	logger.Printf("keeper: jailing enforced heartbeat=%s round=%d tx=%s", key.HeartbeatKey, key.Round, receipt.TxHash)
	state.markJailingDone(key)
	if metricsReg != nil {
		metricsReg.JailingEnforcementsTotal.Inc()
	}
	return nil
}
