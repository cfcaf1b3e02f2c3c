// Package supervisor drives one operator node's lifecycle: connect to the
// L2 chain, register as an active operator, verify heartbeats assigned to
// this node's committee seats, and reconnect with backoff when the
// connection drops. Grounded on the original node's
// blacklight-node/src/supervisor/{mod,htx,events,status}.rs.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/pkg/chainclient"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/shutdown"
	"github.com/certen/independant-validator/pkg/status"
	"github.com/certen/independant-validator/pkg/verification"
	"github.com/certen/independant-validator/pkg/version"
)

// initialReconnectDelay/maxReconnectDelay bound the exponential backoff
// used both for the initial connection attempt and for reconnects after
// the live event subscription drops.
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 60 * time.Second
)

// Config configures one Supervisor instance.
type Config struct {
	RPCURL                 string
	PrivateKeyHex          string
	ManagerContractAddress common.Address
	StakingContractAddress common.Address

	// MinEthBalanceWei gates both startup and post-process checks; nil or
	// non-positive disables the floor.
	MinEthBalanceWei *big.Int

	Logger  *log.Logger
	Metrics *metrics.Registry
}

// chain bundles one connection's bound contract clients, rebuilt whenever
// the supervisor reconnects.
type chain struct {
	client         *chainclient.Client
	manager        *chainclient.HeartbeatManager
	staking        *chainclient.StakingOperators
	protocolConfig *chainclient.ProtocolConfig
}

func dialChain(ctx context.Context, cfg Config) (*chain, error) {
	client, err := chainclient.Dial(ctx, cfg.RPCURL, cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	manager, err := chainclient.NewHeartbeatManager(client, cfg.ManagerContractAddress)
	if err != nil {
		client.Close()
		return nil, err
	}
	staking, err := chainclient.NewStakingOperators(client, cfg.StakingContractAddress)
	if err != nil {
		client.Close()
		return nil, err
	}
	protocolAddr, err := staking.ProtocolConfig(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("supervisor: fetching protocol config address: %w", err)
	}
	protocolConfig, err := chainclient.NewProtocolConfig(client, protocolAddr)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &chain{client: client, manager: manager, staking: staking, protocolConfig: protocolConfig}, nil
}

// Supervisor owns the connection, the verifier, and the per-process
// verified-HTX counter across reconnects.
type Supervisor struct {
	cfg      Config
	verifier *verification.Verifier
	token    *shutdown.Token

	verifiedCount  atomic.Uint64
	nodeAddress    common.Address
	reconnectDelay time.Duration
	chain          *chain
}

// New establishes the initial connection, validates the node's protocol
// version and funding, and returns a Supervisor ready to Run.
func New(ctx context.Context, cfg Config, verifier *verification.Verifier, token *shutdown.Token) (*Supervisor, error) {
	c, err := dialChainWithRetry(ctx, cfg, token)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:            cfg,
		verifier:       verifier,
		token:          token,
		nodeAddress:    c.client.Address(),
		reconnectDelay: initialReconnectDelay,
		chain:          c,
	}

	if err := version.Validate(c.protocolConfig, cfg.Logger); err != nil {
		c.client.Close()
		return nil, err
	}
	if err := validateNodeRequirements(ctx, c, cfg.MinEthBalanceWei, cfg.Logger); err != nil {
		c.client.Close()
		return nil, err
	}

	cfg.Logger.Printf("node initialized, address=%s", s.nodeAddress)
	return s, nil
}

// validateNodeRequirements checks the node carries enough ETH to pay for
// gas and has staked a nonzero NIL balance; a staked balance of zero
// still starts the node (it simply won't be assigned committee seats).
func validateNodeRequirements(ctx context.Context, c *chain, minEthWei *big.Int, logger *log.Logger) error {
	balance, err := c.client.Balance(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: checking ETH balance: %w", err)
	}
	if minEthWei != nil && minEthWei.Sign() > 0 && balance.Cmp(minEthWei) < 0 {
		return fmt.Errorf("supervisor: insufficient ETH balance, have %s wei, need at least %s wei", balance, minEthWei)
	}

	staked, err := c.staking.StakeOf(ctx, c.client.Address())
	if err != nil {
		logger.Printf("WARNING: could not fetch staked balance: %v", err)
		return nil
	}
	if staked.Sign() == 0 {
		logger.Printf("WARNING: node has zero staked balance, it will not be assigned to committees until stake is added")
	}
	return nil
}

// Run executes the connect/register/backlog/listen loop until the
// shutdown token is cancelled, reconnecting with exponential backoff
// whenever the live subscription drops. It returns the address of the
// node so callers can deactivate it on the way out.
func (s *Supervisor) Run(ctx context.Context) (common.Address, error) {
	defer s.chain.client.Close()

	for {
		s.cfg.Logger.Printf("starting event listener with auto-reconnection")

		if err := s.registerNodeIfNeeded(ctx); err != nil {
			return s.nodeAddress, fmt.Errorf("supervisor: registering node: %w", err)
		}

		processor := s.newProcessor()
		if err := processor.processBacklog(ctx); err != nil {
			s.cfg.Logger.Printf("ERROR: failed to query historical assignments: %v", err)
		}

		err := processor.listenForEvents(ctx)
		if err == nil {
			s.cfg.Logger.Printf("WARNING: event listener exited normally, reconnecting")
		} else if errors.Is(err, shutdownRequested) {
			return s.nodeAddress, nil
		} else {
			s.cfg.Logger.Printf("ERROR: event listener error, reconnecting: %v", err)
		}

		if shutDown := s.reconnect(ctx); shutDown {
			return s.nodeAddress, nil
		}
	}
}

var shutdownRequested = errors.New("supervisor: shutdown requested")

func (s *Supervisor) registerNodeIfNeeded(ctx context.Context) error {
	s.cfg.Logger.Printf("checking node registration")
	active, err := s.chain.staking.IsActiveOperator(ctx, s.nodeAddress)
	if err != nil {
		return err
	}
	if active {
		s.cfg.Logger.Printf("node already registered")
		return nil
	}
	s.cfg.Logger.Printf("registering node with contract")
	receipt, err := s.chain.staking.RegisterOperator(ctx, "")
	if err != nil {
		return err
	}
	s.cfg.Logger.Printf("node registered successfully, tx=%s", receipt.TxHash)
	return nil
}

// reconnect rebuilds the chain connection with exponential backoff,
// racing each sleep against the shutdown token. Returns true if shutdown
// was requested before a connection succeeded.
func (s *Supervisor) reconnect(ctx context.Context) bool {
	for {
		c, err := dialChain(ctx, s.cfg)
		if err == nil {
			s.chain.client.Close()
			s.chain = c
			s.reconnectDelay = initialReconnectDelay
			return false
		}
		s.cfg.Logger.Printf("ERROR: failed to create client, retrying: %v", err)

		timer := time.NewTimer(s.reconnectDelay)
		select {
		case <-timer.C:
			s.reconnectDelay = nextDelay(s.reconnectDelay)
		case <-s.token.Done():
			timer.Stop()
			return true
		}
	}
}

// dialChainWithRetry is reconnect's counterpart for the very first
// connection attempt, used from New before a Supervisor exists.
func dialChainWithRetry(ctx context.Context, cfg Config, token *shutdown.Token) (*chain, error) {
	delay := initialReconnectDelay
	for {
		c, err := dialChain(ctx, cfg)
		if err == nil {
			return c, nil
		}
		cfg.Logger.Printf("ERROR: failed to create client, retrying: %v", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			delay = nextDelay(delay)
		case <-token.Done():
			timer.Stop()
			return nil, fmt.Errorf("supervisor: shutdown requested during initial connect")
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

// Deactivate withdraws the node from active duty; called on graceful
// shutdown after Run returns.
func Deactivate(ctx context.Context, rpcURL, privateKeyHex string, stakingAddress common.Address, logger *log.Logger) error {
	client, err := chainclient.Dial(ctx, rpcURL, privateKeyHex)
	if err != nil {
		return err
	}
	defer client.Close()
	staking, err := chainclient.NewStakingOperators(client, stakingAddress)
	if err != nil {
		return err
	}
	receipt, err := staking.DeactivateOperator(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: deactivating node: %w", err)
	}
	logger.Printf("node deactivated, tx=%s", receipt.TxHash)
	return nil
}

// PrintStatus reports current balance, stake, and lifetime verified count.
func (s *Supervisor) PrintStatus(ctx context.Context) error {
	return status.Print(ctx, s.chain.client, s.chain.staking, s.verifiedCount.Load(), s.cfg.Logger)
}

// checkMinimumBalance cancels the shutdown token if this node's ETH
// balance has fallen below its configured floor, the last line of
// defense against running out of gas mid-round.
func (s *Supervisor) checkMinimumBalance(ctx context.Context) {
	status.CheckMinimumBalance(ctx, s.chain.client, s.cfg.MinEthBalanceWei, s.token, s.cfg.Logger)
}
