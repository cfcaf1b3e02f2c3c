package keeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/pkg/chainclient"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/shutdown"
)

// initialReconnectDelay/maxReconnectDelay bound the L2 connection's
// exponential backoff, the same policy pkg/supervisor uses for the node.
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 60 * time.Second
)

// Config configures the L2 half of the keeper: round escalation, reward
// distribution, and jailing enforcement.
type Config struct {
	L2RPCURL                string
	PrivateKeyHex           string
	HeartbeatManagerAddress common.Address
	JailingPolicyAddress    common.Address
	HasJailingPolicy        bool

	LookbackBlocks uint64
	TickInterval   time.Duration

	Logger  *log.Logger
	Metrics *metrics.Registry
}

// l2Chain bundles one connection's bound contract clients, rebuilt on
// every reconnect. It satisfies rewardsClient so the rewards state
// machine never depends on the keeper's own wiring.
type l2Chain struct {
	client  *chainclient.Client
	manager *chainclient.HeartbeatManager
	jailing *chainclient.JailingPolicy
}

func (c *l2Chain) Manager() *chainclient.HeartbeatManager { return c.manager }

func (c *l2Chain) RewardPolicy(address common.Address) (*chainclient.RewardPolicy, error) {
	return chainclient.NewRewardPolicy(c.client, address)
}

func (c *l2Chain) ERC20(address common.Address) (*chainclient.ERC20, error) {
	return chainclient.NewERC20(c.client, address)
}

func dialL2Chain(ctx context.Context, cfg Config) (*l2Chain, error) {
	client, err := chainclient.Dial(ctx, cfg.L2RPCURL, cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	manager, err := chainclient.NewHeartbeatManager(client, cfg.HeartbeatManagerAddress)
	if err != nil {
		client.Close()
		return nil, err
	}
	var jailing *chainclient.JailingPolicy
	if cfg.HasJailingPolicy {
		jailing, err = chainclient.NewJailingPolicy(client, cfg.JailingPolicyAddress)
		if err != nil {
			client.Close()
			return nil, err
		}
	}
	return &l2Chain{client: client, manager: manager, jailing: jailing}, nil
}

// RunL2 drives round escalation, reward distribution, and jailing
// enforcement until token is cancelled, reconnecting the L2 connection
// with exponential backoff whenever the live event listeners drop.
// Grounded on the original source's keeper/src/l2.rs run_l2_supervisor.
func RunL2(ctx context.Context, cfg Config, state *State, token *shutdown.Token) error {
	delay := initialReconnectDelay

	for {
		chain, err := dialL2ChainWithRetry(ctx, cfg, token)
		if err != nil {
			return err
		}

		if _, err := loadHistoricalEvents(ctx, chain.manager, state, cfg.LookbackBlocks, cfg.Logger); err != nil {
			cfg.Logger.Printf("keeper: WARNING: failed to load historical events: %v", err)
		}

		tickCtx, cancelTick := context.WithCancel(ctx)
		go runTickLoop(tickCtx, chain, state, cfg)

		err = runEventListeners(ctx, chain.manager, state, cfg.Logger)
		cancelTick()
		chain.client.Close()

		if ctx.Err() != nil || token.Cancelled() {
			return nil
		}
		cfg.Logger.Printf("keeper: WARNING: L2 listener error, reconnecting: %v", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			delay = nextDelay(delay)
		case <-token.Done():
			timer.Stop()
			return nil
		}
	}
}

func dialL2ChainWithRetry(ctx context.Context, cfg Config, token *shutdown.Token) (*l2Chain, error) {
	delay := initialReconnectDelay
	for {
		chain, err := dialL2Chain(ctx, cfg)
		if err == nil {
			return chain, nil
		}
		cfg.Logger.Printf("keeper: ERROR: failed to connect to L2, retrying: %v", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			delay = nextDelay(delay)
		case <-token.Done():
			timer.Stop()
			return nil, fmt.Errorf("keeper: shutdown requested during L2 connect")
		}
	}
}

func nextDelay(d time.Duration) time.Duration {
	next := d * 2
	if next > maxReconnectDelay {
		return maxReconnectDelay
	}
	return next
}

// runTickLoop fires on cfg.TickInterval until tickCtx is done, each tick
// fetching the current block timestamp once and reusing it across
// escalation and reward/jailing processing the way the original's
// TickContext does, so every decision in one tick agrees on "now".
func runTickLoop(tickCtx context.Context, chain *l2Chain, state *State, cfg Config) {
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tickCtx.Done():
			return
		case <-ticker.C:
		}

		var now *uint64
		if ts, err := chain.client.BlockTimestamp(tickCtx, nil); err != nil {
			cfg.Logger.Printf("keeper: WARNING: failed to load latest block during tick: %v", err)
		} else {
			now = &ts
		}

		processEscalations(tickCtx, chain.manager, state, now, cfg.Metrics, cfg.Logger)
		processRewardsAndJailing(tickCtx, chain, state, now, cfg.Metrics, cfg.Logger)

		if balance, err := chain.client.Balance(tickCtx); err == nil && cfg.Metrics != nil {
			cfg.Metrics.SetL2Balance(balance)
		}
	}
}

// processRewardsAndJailing copies out every round ready for reward
// distribution and/or jailing enforcement, then drives both job lists
// outside the state lock so a slow contract call never blocks event
// ingestion.
func processRewardsAndJailing(ctx context.Context, chain *l2Chain, state *State, now *uint64, metricsReg *metrics.Registry, logger *log.Logger) {
	rewardJobs, jailJobs := state.pendingJobs(chain.jailing != nil)

	for _, job := range rewardJobs {
		if job.Outcome == 0 {
			continue
		}
		if err := distributeRewards(ctx, chain, state, now, job.Key, job.Outcome, job.Members, metricsReg, logger); err != nil {
			logger.Printf("keeper: WARNING: reward distribution failed heartbeat=%s round=%d: %v", job.Key.HeartbeatKey, job.Key.Round, err)
		}
	}

	for _, job := range jailJobs {
		if err := enforceJailing(ctx, chain.jailing, state, job.Key, job.Members, metricsReg, logger); err != nil {
			logger.Printf("keeper: WARNING: jailing enforcement failed heartbeat=%s round=%d: %v", job.Key.HeartbeatKey, job.Key.Round, err)
		}
	}
}
