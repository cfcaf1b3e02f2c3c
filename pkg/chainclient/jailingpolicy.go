package chainclient

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const jailingPolicyABI = `[
  {"type":"function","name":"recordRound","stateMutability":"nonpayable","inputs":[{"name":"heartbeatKey","type":"bytes32"},{"name":"round","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"enforceJailFromMembers","stateMutability":"nonpayable","inputs":[{"name":"heartbeatKey","type":"bytes32"},{"name":"round","type":"uint8"},{"name":"sortedMembers","type":"address[]"}],"outputs":[]}
]`

// JailingPolicy wraps the contract the keeper drives to enforce slashing
// and jailing of committee members who missed or mis-voted a finalized
// round. Both writes are best-effort from the keeper's perspective and
// never block other rounds: a failed recordRound is logged and not retried,
// and a failed enforceJailFromMembers leaves the round's jailing pending,
// so a later tick tries it again.
type JailingPolicy struct {
	bc *boundContract
}

// NewJailingPolicy binds to a deployed JailingPolicy contract.
func NewJailingPolicy(client *Client, address common.Address) (*JailingPolicy, error) {
	bc, err := newBoundContract(client, address, jailingPolicyABI)
	if err != nil {
		return nil, fmt.Errorf("chainclient: binding JailingPolicy: %w", err)
	}
	return &JailingPolicy{bc: bc}, nil
}

func (j *JailingPolicy) Address() common.Address {
	return j.bc.address
}

// RecordRound informs the policy that a round has been observed, ahead of
// enforcing jailing decisions against it.
func (j *JailingPolicy) RecordRound(ctx context.Context, heartbeatKey common.Hash, round uint8) (*Receipt, error) {
	return j.bc.send(ctx, "recordRound", nil, heartbeatKey, round)
}

// EnforceJailFromMembers applies jailing decisions for a finalized round's
// committee. sortedMembers must be in the same order the RoundStarted
// event emitted them in.
func (j *JailingPolicy) EnforceJailFromMembers(ctx context.Context, heartbeatKey common.Hash, round uint8, sortedMembers []common.Address) (*Receipt, error) {
	return j.bc.send(ctx, "enforceJailFromMembers", nil, heartbeatKey, round, sortedMembers)
}
