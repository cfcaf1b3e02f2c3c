package htx

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func sampleNillion() JsonNillion {
	previous := "0"
	return JsonNillion{
		Provider: "nillion",
		NillionHtx: NewNillionHtx(NillionHtxV1{
			WorkloadId:          WorkloadId{Current: "1", Previous: &previous},
			Operator:            &NilCcOperator{ID: 123, Name: "test-operator"},
			Builder:             &Builder{ID: 456, Name: "test-builder"},
			WorkloadMeasurement: WorkloadMeasurement{URL: "https://example.com/measurement", ArtifactsVersion: "1.0.0", CPUs: 8, GPUs: 2},
			BuilderMeasurement:  BuilderMeasurement{URL: "https://example.com/builder"},
		}),
	}
}

func TestToBytesDeterministic(t *testing.T) {
	htx := sampleNillion()
	b1, err := ToBytes(htx)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	b2, err := ToBytes(htx)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	if string(b1) != string(b2) {
		t.Errorf("serialization not deterministic")
	}

	keys := []string{"builder", "builder_measurement", "operator", "provider", "version", "workload_id", "workload_measurement"}
	s := string(b1)
	lastIndex := -1
	for _, key := range keys {
		idx := strings.Index(s, `"`+key+`"`)
		if idx < 0 {
			t.Fatalf("key %q not found in %s", key, s)
		}
		if idx < lastIndex {
			t.Errorf("key %q out of order in %s", key, s)
		}
		lastIndex = idx
	}
}

func TestParsePhala(t *testing.T) {
	input := []byte(`{
		"provider": "phala",
		"version": "v1",
		"app_compose": "test-compose",
		"attest_data": {
			"quote": "test-quote",
			"event_log": "[]"
		}
	}`)
	msg, err := TryParse(input)
	if err != nil {
		t.Fatalf("TryParse: %v", err)
	}
	phala, ok := msg.(JsonPhala)
	if !ok {
		t.Fatalf("expected JsonPhala, got %T", msg)
	}
	if phala.AppCompose != "test-compose" {
		t.Errorf("AppCompose = %q", phala.AppCompose)
	}
}

func TestParseNillion(t *testing.T) {
	input := []byte(`{
		"provider": "nillion",
		"version": "v1",
		"workload_id": {"current": "1", "previous": null},
		"workload_measurement": {
			"url": "https://example.com/measurement",
			"artifacts_version": "1.0.0",
			"cpus": 8,
			"gpus": 0,
			"docker_compose_hash": "0000000000000000000000000000000000000000000000000000000000000000"
		},
		"builder_measurement": {"url": "https://example.com/builder"}
	}`)
	msg, err := TryParse(input)
	if err != nil {
		t.Fatalf("TryParse: %v", err)
	}
	if _, ok := msg.(JsonNillion); !ok {
		t.Fatalf("expected JsonNillion, got %T", msg)
	}
}

func TestParseUnknownFormat(t *testing.T) {
	_, err := TryParse([]byte("not json and not abi"))
	if err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestErc8004RoundTrip(t *testing.T) {
	original := Erc8004Htx{
		ValidatorAddress: common.HexToAddress("0x5fc8d32690cc91d4c39d9d3abcbd16989f875707"),
		AgentID:          big.NewInt(0),
		RequestURI:       "https://api.nilai.nillion.network/",
		RequestHash:      common.HexToHash("0xa6719a2ea05fac172c1b20e16beea2a9739b715499a3a9ad488e6ce81602ffa"),
	}
	encoded, err := EncodeErc8004(original)
	if err != nil {
		t.Fatalf("EncodeErc8004: %v", err)
	}
	decoded, err := DecodeErc8004(encoded)
	if err != nil {
		t.Fatalf("DecodeErc8004: %v", err)
	}
	if decoded.ValidatorAddress != original.ValidatorAddress {
		t.Errorf("ValidatorAddress = %v, want %v", decoded.ValidatorAddress, original.ValidatorAddress)
	}
	if decoded.RequestURI != original.RequestURI {
		t.Errorf("RequestURI = %q, want %q", decoded.RequestURI, original.RequestURI)
	}
	if decoded.AgentID.Cmp(original.AgentID) != 0 {
		t.Errorf("AgentID = %v, want %v", decoded.AgentID, original.AgentID)
	}
}

func TestTryParseDispatchesErc8004(t *testing.T) {
	original := Erc8004Htx{
		ValidatorAddress: common.HexToAddress("0x5fc8d32690cc91d4c39d9d3abcbd16989f875707"),
		AgentID:          big.NewInt(0),
		RequestURI:       "https://api.nilai.nillion.network/",
		RequestHash:      common.HexToHash("0xa6719a2ea05fac172c1b20e16beea2a9739b715499a3a9ad488e6ce81602ffa"),
	}
	encoded, err := EncodeErc8004(original)
	if err != nil {
		t.Fatalf("EncodeErc8004: %v", err)
	}
	msg, err := TryParse(encoded)
	if err != nil {
		t.Fatalf("TryParse: %v", err)
	}
	if _, ok := msg.(Erc8004Htx); !ok {
		t.Fatalf("expected Erc8004Htx, got %T", msg)
	}
}

func TestDockerComposeHashJSON(t *testing.T) {
	var h DockerComposeHash
	for i := range h {
		h[i] = byte(i)
	}
	raw, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var round DockerComposeHash
	if err := json.Unmarshal(raw, &round); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if round != h {
		t.Errorf("round trip mismatch: %x vs %x", round, h)
	}
}
