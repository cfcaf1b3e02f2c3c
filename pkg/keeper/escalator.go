package keeper

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/pkg/chainclient"
	"github.com/certen/independant-validator/pkg/metrics"
)

// processEscalations pushes every heartbeat whose current round has
// passed its voting deadline into escalateOrExpire. now, when known,
// comes from the tick's already-fetched block timestamp so the primary
// path never needs its own RPC round trip; the fallback path always asks
// the contract directly, since a heartbeat with no round started for it
// has no locally known deadline to compare against.
func processEscalations(ctx context.Context, manager *chainclient.HeartbeatManager, state *State, now *uint64, metricsReg *metrics.Registry, logger *log.Logger) {
	candidates, fallback := state.escalationCandidates()

	for _, c := range candidates {
		shouldEscalate := false
		if now != nil {
			shouldEscalate = *now > c.Deadline
		} else {
			past, err := manager.IsPastDeadline(ctx, c.HeartbeatKey)
			if err != nil {
				logger.Printf("keeper: ERROR: checking isPastDeadline for %s: %v", c.HeartbeatKey, err)
				continue
			}
			shouldEscalate = past
		}
		if !shouldEscalate {
			continue
		}
		escalateOrExpire(ctx, manager, c.HeartbeatKey, c.Round, c.RawHTX, metricsReg, logger)
	}

	for heartbeatKey, rawHTX := range fallback {
		past, err := manager.IsPastDeadline(ctx, heartbeatKey)
		if err != nil {
			logger.Printf("keeper: ERROR: checking isPastDeadline for %s: %v", heartbeatKey, err)
			continue
		}
		if !past {
			continue
		}
		escalateOrExpire(ctx, manager, heartbeatKey, 0, rawHTX, metricsReg, logger)
	}
}

// escalateOrExpire sends the escalation transaction for one heartbeat. A
// failure is logged and otherwise ignored: it doesn't block escalation of
// other candidates in the same tick, and the heartbeat simply remains a
// candidate on the next tick.
func escalateOrExpire(ctx context.Context, manager *chainclient.HeartbeatManager, heartbeatKey common.Hash, round uint8, rawHTX []byte, metricsReg *metrics.Registry, logger *log.Logger) {
	logger.Printf("keeper: escalating or expiring heartbeat=%s round=%d", heartbeatKey, round)
	receipt, err := manager.EscalateOrExpire(ctx, heartbeatKey, rawHTX)
	if err != nil {
		logger.Printf("keeper: WARNING: escalate/expire failed heartbeat=%s: %v", heartbeatKey, err)
		return
	}
	logger.Printf("keeper: escalate/expire confirmed heartbeat=%s tx=%s", heartbeatKey, receipt.TxHash)
	if metricsReg != nil {
		metricsReg.EscalationsTotal.Inc()
	}
}
