package chainclient

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const protocolConfigABI = `[
  {"type":"function","name":"nodeVersion","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// ProtocolConfig wraps the contract publishing the minimum node software
// version operators must run, consulted by the version-compatibility gate.
type ProtocolConfig struct {
	bc *boundContract
}

// NewProtocolConfig binds to a deployed ProtocolConfig contract.
func NewProtocolConfig(client *Client, address common.Address) (*ProtocolConfig, error) {
	bc, err := newBoundContract(client, address, protocolConfigABI)
	if err != nil {
		return nil, fmt.Errorf("chainclient: binding ProtocolConfig: %w", err)
	}
	return &ProtocolConfig{bc: bc}, nil
}

func (p *ProtocolConfig) Address() common.Address {
	return p.bc.address
}

// NodeVersion implements pkg/version.ProtocolConfig: the required node
// software version string, or empty to disable enforcement. version.Validate
// calls it at node startup and again in the post-process checks after each
// submission; the interface takes no context, so the call runs under
// context.Background() and is not cancellable.
func (p *ProtocolConfig) NodeVersion() (string, error) {
	out, err := p.bc.call(context.Background(), "nodeVersion")
	if err != nil {
		return "", err
	}
	return castUnpacked[string](out, 0)
}
