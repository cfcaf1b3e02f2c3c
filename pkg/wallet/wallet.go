// Package wallet loads the operator's signing key from configuration and
// derives its address, the way the teacher's pkg/ethereum package wraps
// crypto.HexToECDSA/crypto.PubkeyToAddress.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Load parses a hex-encoded ECDSA private key (with or without a leading
// "0x") and derives its address.
func Load(privateKeyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("wallet: parsing private key: %w", err)
	}
	return key, AddressOf(key), nil
}

// AddressOf derives the Ethereum address a private key signs as.
func AddressOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}
