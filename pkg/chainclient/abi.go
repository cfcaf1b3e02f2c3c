package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// boundContract pairs a parsed ABI with a bind.BoundContract the way
// the teacher's generated pkg/execution/contracts/*.go files do, minus
// the generated Caller/Transactor/Filterer struct boilerplate: every
// contract wrapper in this package holds one of these and exposes only
// the methods the coordination plane actually calls.
type boundContract struct {
	client   *Client
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

func newBoundContract(client *Client, address common.Address, abiJSON string) (*boundContract, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("chainclient: parsing ABI: %w", err)
	}
	backend := client.eth
	contract := bind.NewBoundContract(address, parsed, backend, backend, backend)
	return &boundContract{client: client, address: address, abi: parsed, contract: contract}, nil
}

// call performs a read-only contract call and returns the method's
// ABI-decoded return values in declaration order.
func (b *boundContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	opts := &bind.CallOpts{Context: ctx}
	var results []interface{}
	if err := b.contract.Call(opts, &results, method, args...); err != nil {
		return nil, decodeCallError(b.abi, err)
	}
	return results, nil
}

// send submits a state-changing transaction through the client's
// submitter pipeline (gas estimation, dry-run, serialized nonce,
// revert decoding) and waits for it to be mined.
func (b *boundContract) send(ctx context.Context, method string, value *big.Int, args ...interface{}) (*Receipt, error) {
	packed, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chainclient: packing %s: %w", method, err)
	}
	return b.client.submitMethod(ctx, b.address, value, packed, fmt.Sprintf("%s(%s)", method, b.address.Hex()), method)
}
