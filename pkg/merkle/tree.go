// Copyright 2025 Certen Protocol
//
// Merkle committee-membership proofs for heartbeat voting rounds.
//
// A round's committee is the ordered member list from the contract's
// RoundStarted event. Each member's leaf is a domain-separated,
// keccak256-hashed, packed encoding of (contract address, heartbeat
// key, round, member address); parents are built with a commutative
// pairwise hash so proof verification does not need left/right
// position bookkeeping.
package merkle

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// leafDomainTag prefixes every leaf encoding so committee-membership
// leaves can never collide with a hash produced for another purpose.
const leafDomainTag = 0xa1

var (
	ErrEmptyCommittee = errors.New("merkle: cannot build tree from an empty committee")
	ErrNotAMember     = errors.New("merkle: address is not a member of this committee")
	ErrInvalidProof   = errors.New("merkle: invalid proof")
)

// InclusionProof is a committee-membership proof for one member.
type InclusionProof struct {
	Leaf   common.Hash   `json:"leaf"`
	Root   common.Hash   `json:"root"`
	Path   []common.Hash `json:"path"`
	Member common.Address `json:"member"`
}

// Leaf computes the domain-separated leaf hash for a committee member.
// Matches the packed (no-padding) ABI encoding used on-chain:
// keccak256(0xa1 || contractAddress || heartbeatKey || round || member).
func Leaf(contractAddress common.Address, heartbeatKey common.Hash, round uint8, member common.Address) common.Hash {
	packed := make([]byte, 0, 1+len(contractAddress)+len(heartbeatKey)+1+len(member))
	packed = append(packed, leafDomainTag)
	packed = append(packed, contractAddress.Bytes()...)
	packed = append(packed, heartbeatKey.Bytes()...)
	packed = append(packed, round)
	packed = append(packed, member.Bytes()...)
	return crypto.Keccak256Hash(packed)
}

// hashPair combines two node hashes commutatively: the numerically
// smaller hash always goes first, so the same pair always hashes to
// the same parent regardless of which side it was found on.
func hashPair(a, b common.Hash) common.Hash {
	first, second := a, b
	if bytesGreater(a.Bytes(), b.Bytes()) {
		first, second = b, a
	}
	combined := make([]byte, 0, len(first)+len(second))
	combined = append(combined, first.Bytes()...)
	combined = append(combined, second.Bytes()...)
	return crypto.Keccak256Hash(combined)
}

func bytesGreater(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// Tree is the committee Merkle tree for one (contract, heartbeat, round).
type Tree struct {
	mu               sync.RWMutex
	contractAddress  common.Address
	heartbeatKey     common.Hash
	round            uint8
	members          []common.Address
	levels           [][]common.Hash
	root             common.Hash
}

// Build constructs a committee tree from the member list exactly as it
// appears in the RoundStarted event — member order is significant and
// is not re-sorted.
func Build(contractAddress common.Address, heartbeatKey common.Hash, round uint8, members []common.Address) (*Tree, error) {
	if len(members) == 0 {
		return nil, ErrEmptyCommittee
	}

	t := &Tree{
		contractAddress: contractAddress,
		heartbeatKey:    heartbeatKey,
		round:           round,
		members:         append([]common.Address(nil), members...),
	}

	level := make([]common.Hash, len(members))
	for i, member := range t.members {
		level[i] = Leaf(contractAddress, heartbeatKey, round, member)
	}
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	t.root = level[0]

	return t, nil
}

// Root returns the tree's Merkle root.
func (t *Tree) Root() common.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// ProofFor builds the inclusion proof for a committee member, walking
// the tree bottom-up and collecting the sibling at each level.
func (t *Tree) ProofFor(member common.Address) (*InclusionProof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	index := -1
	for i, m := range t.members {
		if m == member {
			index = i
			break
		}
	}
	if index == -1 {
		return nil, ErrNotAMember
	}

	path := make([]common.Hash, 0, len(t.levels)-1)
	current := index
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var sibling common.Hash
		if current%2 == 0 {
			if current+1 < len(nodes) {
				sibling = nodes[current+1]
			} else {
				sibling = nodes[current]
			}
		} else {
			sibling = nodes[current-1]
		}
		path = append(path, sibling)
		current /= 2
	}

	return &InclusionProof{
		Leaf:   t.levels[0][index],
		Root:   t.root,
		Path:   path,
		Member: member,
	}, nil
}

// VerifyProof recomputes the root from a leaf and its sibling path and
// compares it against expectedRoot in constant time. Because hashPair
// is commutative, the caller does not need to track left/right
// position — siblings can be supplied in bottom-up order regardless of
// which side of the pair they sit on.
func VerifyProof(leaf common.Hash, path []common.Hash, expectedRoot common.Hash) bool {
	current := leaf
	for _, sibling := range path {
		current = hashPair(current, sibling)
	}
	return subtle.ConstantTimeCompare(current.Bytes(), expectedRoot.Bytes()) == 1
}

// ToJSON serializes an inclusion proof.
func (p *InclusionProof) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// ProofFromJSON deserializes an inclusion proof.
func ProofFromJSON(data []byte) (*InclusionProof, error) {
	var proof InclusionProof
	if err := json.Unmarshal(data, &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

// LeafHex formats a leaf or root hash as a 0x-prefixed hex string, for
// log lines and diagnostic output.
func LeafHex(h common.Hash) string {
	return "0x" + hex.EncodeToString(h.Bytes())
}
