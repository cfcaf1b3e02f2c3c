package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const emissionsControllerABI = `[
  {"type":"function","name":"mintedEpochs","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"epochs","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"nextEpochReadyAt","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
  {"type":"function","name":"mintAndBridgeNextEpoch","stateMutability":"payable","inputs":[],"outputs":[]}
]`

// EmissionsController wraps the L1 contract that mints and bridges each
// epoch's emissions to L2, driven by the keeper's independent L1 tick loop.
type EmissionsController struct {
	bc *boundContract
}

// NewEmissionsController binds to a deployed EmissionsController contract.
func NewEmissionsController(client *Client, address common.Address) (*EmissionsController, error) {
	bc, err := newBoundContract(client, address, emissionsControllerABI)
	if err != nil {
		return nil, fmt.Errorf("chainclient: binding EmissionsController: %w", err)
	}
	return &EmissionsController{bc: bc}, nil
}

func (e *EmissionsController) Address() common.Address {
	return e.bc.address
}

// Client exposes the connection this controller is bound against, used
// by the keeper to read the chain's block timestamp.
func (e *EmissionsController) Client() *Client {
	return e.bc.client
}

// MintedEpochs returns the count of epochs already minted and bridged.
func (e *EmissionsController) MintedEpochs(ctx context.Context) (*big.Int, error) {
	out, err := e.bc.call(ctx, "mintedEpochs")
	if err != nil {
		return nil, err
	}
	return castUnpacked[*big.Int](out, 0)
}

// Epochs returns the total number of emission epochs in the schedule.
func (e *EmissionsController) Epochs(ctx context.Context) (*big.Int, error) {
	out, err := e.bc.call(ctx, "epochs")
	if err != nil {
		return nil, err
	}
	return castUnpacked[*big.Int](out, 0)
}

// NextEpochReadyAt returns the unix timestamp the next epoch becomes
// eligible for minting at.
func (e *EmissionsController) NextEpochReadyAt(ctx context.Context) (uint64, error) {
	out, err := e.bc.call(ctx, "nextEpochReadyAt")
	if err != nil {
		return 0, err
	}
	return castUnpacked[uint64](out, 0)
}

// MintAndBridgeNextEpoch mints the next epoch's emissions and bridges them
// to L2, paying bridgeValueWei to cover the bridge's cross-chain message fee.
func (e *EmissionsController) MintAndBridgeNextEpoch(ctx context.Context, bridgeValueWei *big.Int) (*Receipt, error) {
	return e.bc.send(ctx, "mintAndBridgeNextEpoch", bridgeValueWei)
}
