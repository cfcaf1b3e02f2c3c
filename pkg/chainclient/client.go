// Package chainclient is the one boundary through which every other
// package talks to an EVM chain: connection management, ABI-bound
// contract calls, transaction submission with gas estimation and
// revert decoding, and event subscription/backfill.
//
// It is built directly on go-ethereum, the way the teacher's
// pkg/ethereum/client.go and pkg/execution/contracts/*.go do, rather
// than a second chain abstraction layered on top.
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/independant-validator/pkg/wallet"
)

// Client wraps a connection to one chain plus the signer used to
// submit transactions on it. Every contract-specific client in this
// package (HeartbeatManager, RewardPolicy, ...) is constructed from one
// of these.
type Client struct {
	eth        *ethclient.Client
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	address    common.Address

	// txMu serializes transaction submission through this client so
	// two goroutines never race to read the same nonce.
	txMu sync.Mutex
}

// Dial connects to rpcURL and loads privateKeyHex as the client's signer.
func Dial(ctx context.Context, rpcURL, privateKeyHex string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", rpcURL, err)
	}

	key, address, err := wallet.Load(privateKeyHex)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chainclient: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chainclient: fetching chain id from %s: %w", rpcURL, err)
	}

	return &Client{
		eth:        eth,
		chainID:    chainID,
		privateKey: key,
		address:    address,
	}, nil
}

// Address is the public address derived from the client's signing key.
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID is the connected chain's id.
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// EthClient exposes the underlying go-ethereum client for operations
// that don't warrant their own wrapper method (balance checks, block
// number polling).
func (c *Client) EthClient() *ethclient.Client {
	return c.eth
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Balance returns the client's own ETH balance.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil, fmt.Errorf("chainclient: fetching balance: %w", err)
	}
	return balance, nil
}

// LatestBlock returns the current chain head's block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	num, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chainclient: fetching block number: %w", err)
	}
	return num, nil
}

// BlockTimestamp returns the timestamp of a given block, or the latest
// block when number is nil.
func (c *Client) BlockTimestamp(ctx context.Context, number *big.Int) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, number)
	if err != nil {
		return 0, fmt.Errorf("chainclient: fetching block header: %w", err)
	}
	return header.Time, nil
}

// transactOpts builds fresh bind.TransactOpts for one transaction.
// Opts are not reused across sends: nonce and gas price must be
// current at send time, and the caller holds txMu for the duration.
func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("chainclient: building transactor: %w", err)
	}
	opts.Context = ctx

	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err == nil {
		opts.GasTipCap = tip
	}
	return opts, nil
}
