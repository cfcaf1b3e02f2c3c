// Package canonjson produces deterministic JSON encodings by sorting
// object keys recursively, the way heartbeat transaction payloads must
// be canonicalized before they are hashed or compared on-chain.
package canonjson

import (
	"bytes"
	"encoding/json"
)

// Canonicalize decodes arbitrary JSON and re-encodes it with object keys
// sorted lexicographically at every level. encoding/json already sorts
// map[string]interface{} keys on Marshal, so round-tripping through that
// representation is sufficient to canonicalize nested objects and arrays.
func Canonicalize(data []byte) ([]byte, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// StableStringify marshals value to JSON and canonicalizes the result so
// that repeated calls on equivalent values always produce identical bytes.
func StableStringify(value interface{}) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return Canonicalize(raw)
}
