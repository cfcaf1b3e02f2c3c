package chainclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// errorStringSelector is the 4-byte selector of Solidity's builtin
// Error(string), the fallback every require(cond, "msg") revert uses
// when the contract declares no custom error.
var errorStringSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0}

var errStringType, _ = abi.NewType("string", "", nil)

// decodeRevert turns raw revert data into a human-readable message. It
// checks the builtin Error(string) selector, then the contract's own
// declared custom errors (ABI "error" entries), and finally gives up and
// reports the raw hex. The two selector checks cannot both match the same
// data, so their order does not change the result.
func decodeRevert(contractABI abi.ABI, data []byte) string {
	if len(data) >= 4 {
		var selector [4]byte
		copy(selector[:], data[:4])

		if selector == errorStringSelector {
			args := abi.Arguments{{Type: errStringType}}
			if values, err := args.Unpack(data[4:]); err == nil && len(values) == 1 {
				if msg, ok := values[0].(string); ok {
					return msg
				}
			}
		}

		for name, errDef := range contractABI.Errors {
			sigHash := crypto.Keccak256([]byte(errorSignature(name, errDef.Inputs)))
			var errSelector [4]byte
			copy(errSelector[:], sigHash[:4])
			if errSelector != selector {
				continue
			}
			values, err := errDef.Inputs.Unpack(data[4:])
			if err != nil {
				return fmt.Sprintf("%s(<undecodable: %v>)", name, err)
			}
			parts := make([]string, len(values))
			for i, v := range values {
				parts[i] = fmt.Sprintf("%v", v)
			}
			return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
		}
	}
	return fmt.Sprintf("0x%x", data)
}

// errorSignature rebuilds the canonical "Name(type1,type2)" signature
// used to derive a custom error's 4-byte selector, since the parsed
// abi.Error only exposes the already-typed argument list.
func errorSignature(name string, inputs abi.Arguments) string {
	types := make([]string, len(inputs))
	for i, arg := range inputs {
		types[i] = arg.Type.String()
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(types, ","))
}

// ErrOutOfGas is returned by the submitter when a transaction failed
// because its gas limit, not contract logic, was the bottleneck —
// distinguished from a logical revert so callers can retry with a
// larger gas buffer instead of treating it as a permanent rejection.
var ErrOutOfGas = errors.New("chainclient: transaction ran out of gas")

// ErrReverted wraps a decoded revert reason.
type ErrReverted struct {
	Reason string
}

func (e *ErrReverted) Error() string {
	return fmt.Sprintf("chainclient: transaction reverted: %s", e.Reason)
}

func decodeCallError(contractABI abi.ABI, err error) error {
	data, ok := extractRevertData(err)
	if !ok {
		return err
	}
	return &ErrReverted{Reason: decodeRevert(contractABI, data)}
}

// extractRevertData pulls raw revert bytes out of an RPC error when the
// node includes them, which go-ethereum surfaces via the optional
// rpc.DataError interface rather than a concrete type.
func extractRevertData(err error) ([]byte, bool) {
	type dataError interface {
		ErrorData() interface{}
	}
	var de dataError
	if !errors.As(err, &de) {
		return nil, false
	}
	switch d := de.ErrorData().(type) {
	case string:
		return hexDecodeLoose(d), true
	case []byte:
		return d, true
	default:
		return nil, false
	}
}

func hexDecodeLoose(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi := hexNibble(s[2*i])
		lo := hexNibble(s[2*i+1])
		out[i] = hi<<4 | lo
	}
	return out
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}
