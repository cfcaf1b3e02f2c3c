// Package htx defines the heartbeat transaction payload shapes an
// operator node is assigned to verify: two JSON-tagged provider formats
// (Nillion/nilCC and Phala) plus an ABI-encoded ERC-8004 validation
// request. Canonicalization and parsing live here so the supervisor and
// verification packages share one notion of "what a heartbeat is."
package htx

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/certen/independant-validator/pkg/canonjson"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownFormat is returned by TryParse when the payload is neither
// valid JSON matching a known provider nor an ABI-encoded ERC-8004 tuple.
var ErrUnknownFormat = errors.New("htx: unknown format, not valid JSON or ABI-encoded ERC-8004")

// WorkloadId identifies a workload revision, optionally carrying the
// previous revision it replaced.
type WorkloadId struct {
	Current  string  `json:"current"`
	Previous *string `json:"previous,omitempty"`
}

// NilCcOperator identifies the nilCC operator that ran a workload.
type NilCcOperator struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Builder identifies the party that built a workload's artifacts.
type Builder struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// DockerComposeHash is a 32-byte measurement hash hex-encoded without a
// 0x prefix, matching the wire format produced by the original builder.
type DockerComposeHash [32]byte

func (h DockerComposeHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h[:]))
}

func (h *DockerComposeHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("htx: decoding docker_compose_hash: %w", err)
	}
	copy(h[:], decoded)
	return nil
}

// WorkloadMeasurement describes the resources and measurement hash of
// a running nilCC workload.
type WorkloadMeasurement struct {
	URL               string             `json:"url"`
	ArtifactsVersion  string             `json:"artifacts_version"`
	CPUs              uint64             `json:"cpus"`
	GPUs              uint64             `json:"gpus"`
	DockerComposeHash DockerComposeHash  `json:"docker_compose_hash"`
}

// BuilderMeasurement points at the builder-published measurement index.
type BuilderMeasurement struct {
	URL string `json:"url"`
}

// NillionHtxV1 is the body of version 1 of the Nillion/nilCC heartbeat.
type NillionHtxV1 struct {
	WorkloadId          WorkloadId          `json:"workload_id"`
	Operator            *NilCcOperator      `json:"operator,omitempty"`
	Builder             *Builder            `json:"builder,omitempty"`
	WorkloadMeasurement WorkloadMeasurement `json:"workload_measurement"`
	BuilderMeasurement  BuilderMeasurement  `json:"builder_measurement"`
}

// NillionHtx tags a NillionHtxV1 body with its format version.
type NillionHtx struct {
	Version string `json:"version"`
	NillionHtxV1
}

// NewNillionHtx wraps a v1 body with its version tag.
func NewNillionHtx(body NillionHtxV1) NillionHtx {
	return NillionHtx{Version: "v1", NillionHtxV1: body}
}

// PhalaAttestData carries the TDX quote and its event log.
type PhalaAttestData struct {
	Quote    string `json:"quote"`
	EventLog string `json:"event_log"`
}

// PhalaHtxV1 is the body of version 1 of the Phala heartbeat.
type PhalaHtxV1 struct {
	AppCompose string          `json:"app_compose"`
	AttestData PhalaAttestData `json:"attest_data"`
}

// PhalaHtx tags a PhalaHtxV1 body with its format version.
type PhalaHtx struct {
	Version string `json:"version"`
	PhalaHtxV1
}

// NewPhalaHtx wraps a v1 body with its version tag.
func NewPhalaHtx(body PhalaHtxV1) PhalaHtx {
	return PhalaHtx{Version: "v1", PhalaHtxV1: body}
}

// JsonNillion is the JSON-on-the-wire form of a Nillion heartbeat,
// tagged with the "provider" discriminator used to dispatch parsing.
type JsonNillion struct {
	Provider string `json:"provider"`
	NillionHtx
}

// JsonPhala is the JSON-on-the-wire form of a Phala heartbeat.
type JsonPhala struct {
	Provider string `json:"provider"`
	PhalaHtx
}

// Erc8004Htx is the ABI-decoded body of an ERC-8004 validation request,
// as emitted by ValidationRegistry.validationRequest.
type Erc8004Htx struct {
	ValidatorAddress common.Address
	AgentID          *big.Int
	RequestURI       string
	RequestHash      common.Hash
}

// Message is implemented by every concrete heartbeat payload type so
// callers can dispatch on the concrete type with a type switch.
type Message interface {
	isHtxMessage()
}

func (JsonNillion) isHtxMessage() {}
func (JsonPhala) isHtxMessage()   {}
func (Erc8004Htx) isHtxMessage()  {}

// TryParse attempts to interpret raw bytes as a heartbeat payload,
// trying JSON (Nillion, then Phala) before falling back to ABI-encoded
// ERC-8004 decoding.
func TryParse(data []byte) (Message, error) {
	var probe struct {
		Provider string `json:"provider"`
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		switch probe.Provider {
		case "nillion":
			var msg JsonNillion
			if err := json.Unmarshal(data, &msg); err == nil {
				return msg, nil
			}
		case "phala":
			var msg JsonPhala
			if err := json.Unmarshal(data, &msg); err == nil {
				return msg, nil
			}
		}
	}

	if erc8004, err := DecodeErc8004(data); err == nil {
		return erc8004, nil
	}

	return nil, ErrUnknownFormat
}

// ToBytes renders a parsed message back into its canonical wire form:
// sorted-key JSON for Nillion/Phala, ABI-encoded tuple for ERC-8004.
func ToBytes(msg Message) ([]byte, error) {
	switch v := msg.(type) {
	case JsonNillion:
		return canonjson.StableStringify(v)
	case JsonPhala:
		return canonjson.StableStringify(v)
	case Erc8004Htx:
		return EncodeErc8004(v)
	default:
		return nil, fmt.Errorf("htx: unsupported message type %T", msg)
	}
}

var erc8004ArgTypes = func() abi.Arguments {
	addrT, _ := abi.NewType("address", "", nil)
	uintT, _ := abi.NewType("uint256", "", nil)
	strT, _ := abi.NewType("string", "", nil)
	bytesT, _ := abi.NewType("bytes32", "", nil)
	return abi.Arguments{
		{Type: addrT},
		{Type: uintT},
		{Type: strT},
		{Type: bytesT},
	}
}()

// DecodeErc8004 decodes abi.encode(validatorAddress, agentId, requestURI,
// requestHash) produced by ValidationRegistry.
func DecodeErc8004(data []byte) (Erc8004Htx, error) {
	values, err := erc8004ArgTypes.Unpack(data)
	if err != nil {
		return Erc8004Htx{}, fmt.Errorf("htx: abi decode erc8004: %w", err)
	}
	if len(values) != 4 {
		return Erc8004Htx{}, fmt.Errorf("htx: erc8004 expected 4 values, got %d", len(values))
	}
	validator, ok := values[0].(common.Address)
	if !ok {
		return Erc8004Htx{}, errors.New("htx: erc8004 field 0 not an address")
	}
	agentID, ok := values[1].(*big.Int)
	if !ok {
		return Erc8004Htx{}, errors.New("htx: erc8004 field 1 not a uint256")
	}
	uri, ok := values[2].(string)
	if !ok {
		return Erc8004Htx{}, errors.New("htx: erc8004 field 2 not a string")
	}
	hashBytes, ok := values[3].([32]byte)
	if !ok {
		return Erc8004Htx{}, errors.New("htx: erc8004 field 3 not bytes32")
	}
	return Erc8004Htx{
		ValidatorAddress: validator,
		AgentID:          agentID,
		RequestURI:       uri,
		RequestHash:      common.BytesToHash(hashBytes[:]),
	}, nil
}

// EncodeErc8004 packs an Erc8004Htx back into abi.encode'd bytes.
func EncodeErc8004(msg Erc8004Htx) ([]byte, error) {
	var hashArr [32]byte
	copy(hashArr[:], msg.RequestHash.Bytes())
	return erc8004ArgTypes.Pack(msg.ValidatorAddress, msg.AgentID, msg.RequestURI, hashArr)
}
