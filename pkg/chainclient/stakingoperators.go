package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const stakingOperatorsABI = `[
  {"type":"function","name":"protocolConfig","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"stakingToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"stakeOf","stateMutability":"view","inputs":[{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"isActiveOperator","stateMutability":"view","inputs":[{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getActiveOperators","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"registerOperator","stateMutability":"nonpayable","inputs":[{"name":"metadataURI","type":"string"}],"outputs":[]},
  {"type":"function","name":"deactivateOperator","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// StakingOperators wraps the contract tracking which addresses are
// registered, active operator nodes and their staked balances. Grounded on
// spec §6's StakingOperators ABI surface.
type StakingOperators struct {
	bc *boundContract
}

// NewStakingOperators binds to a deployed StakingOperators contract.
func NewStakingOperators(client *Client, address common.Address) (*StakingOperators, error) {
	bc, err := newBoundContract(client, address, stakingOperatorsABI)
	if err != nil {
		return nil, fmt.Errorf("chainclient: binding StakingOperators: %w", err)
	}
	return &StakingOperators{bc: bc}, nil
}

func (s *StakingOperators) Address() common.Address {
	return s.bc.address
}

// ProtocolConfig returns the address of the linked ProtocolConfig contract.
func (s *StakingOperators) ProtocolConfig(ctx context.Context) (common.Address, error) {
	out, err := s.bc.call(ctx, "protocolConfig")
	if err != nil {
		return common.Address{}, err
	}
	return castUnpacked[common.Address](out, 0)
}

// StakingToken returns the ERC-20 token address operators stake with.
func (s *StakingOperators) StakingToken(ctx context.Context) (common.Address, error) {
	out, err := s.bc.call(ctx, "stakingToken")
	if err != nil {
		return common.Address{}, err
	}
	return castUnpacked[common.Address](out, 0)
}

// StakeOf returns one operator's current staked balance.
func (s *StakingOperators) StakeOf(ctx context.Context, operator common.Address) (*big.Int, error) {
	out, err := s.bc.call(ctx, "stakeOf", operator)
	if err != nil {
		return nil, err
	}
	return castUnpacked[*big.Int](out, 0)
}

// IsActiveOperator reports whether operator is currently registered and
// active, used by the supervisor to make register_if_needed idempotent.
func (s *StakingOperators) IsActiveOperator(ctx context.Context, operator common.Address) (bool, error) {
	out, err := s.bc.call(ctx, "isActiveOperator", operator)
	if err != nil {
		return false, err
	}
	return castUnpacked[bool](out, 0)
}

// GetActiveOperators returns every currently active operator's address.
func (s *StakingOperators) GetActiveOperators(ctx context.Context) ([]common.Address, error) {
	out, err := s.bc.call(ctx, "getActiveOperators")
	if err != nil {
		return nil, err
	}
	return castUnpacked[[]common.Address](out, 0)
}

// RegisterOperator registers the signing address as an active operator.
func (s *StakingOperators) RegisterOperator(ctx context.Context, metadataURI string) (*Receipt, error) {
	return s.bc.send(ctx, "registerOperator", nil, metadataURI)
}

// DeactivateOperator withdraws the signing address from active duty,
// called once on graceful node shutdown.
func (s *StakingOperators) DeactivateOperator(ctx context.Context) (*Receipt, error) {
	return s.bc.send(ctx, "deactivateOperator", nil)
}
