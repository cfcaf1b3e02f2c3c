package merkle

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestLeafIsDeterministicAndDependsOnRoundAndMember(t *testing.T) {
	contractAddress := common.HexToAddress("0x3dbe95e20b370c5295e7436e2d887cfda8bcb02")
	member := common.HexToAddress("0xf3a6d9f493b30e0560f555f27adb143be6b1630")
	heartbeatKey := common.HexToHash("0xbb93579fba8c311f05bc9accbc18f421d0b0c4912f7992534bf1e1a9fed7080")

	leaf1 := Leaf(contractAddress, heartbeatKey, 1, member)
	leaf2 := Leaf(contractAddress, heartbeatKey, 1, member)
	if leaf1 != leaf2 {
		t.Error("Leaf() is not deterministic")
	}

	leafOtherRound := Leaf(contractAddress, heartbeatKey, 2, member)
	if leaf1 == leafOtherRound {
		t.Error("Leaf() must depend on round")
	}

	otherMember := common.HexToAddress("0x0000000000000000000000000000000000dead")
	leafOtherMember := Leaf(contractAddress, heartbeatKey, 1, otherMember)
	if leaf1 == leafOtherMember {
		t.Error("Leaf() must depend on member address")
	}
}

func testMembers(n int) []common.Address {
	members := make([]common.Address, n)
	for i := range members {
		members[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}
	return members
}

func TestBuildAndVerifyProofEveryMember(t *testing.T) {
	contractAddress := common.HexToAddress("0x1111111111111111111111111111111111111111")
	heartbeatKey := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222")
	members := testMembers(5)

	tree, err := Build(contractAddress, heartbeatKey, 3, members)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	root := tree.Root()

	for _, member := range members {
		proof, err := tree.ProofFor(member)
		if err != nil {
			t.Fatalf("ProofFor(%s): %v", member.Hex(), err)
		}
		if !VerifyProof(proof.Leaf, proof.Path, root) {
			t.Errorf("VerifyProof failed for member %s", member.Hex())
		}
	}
}

func TestBuildOddCommitteeDuplicatesLastLeaf(t *testing.T) {
	contractAddress := common.HexToAddress("0x1111111111111111111111111111111111111111")
	heartbeatKey := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222")
	members := testMembers(3)

	tree, err := Build(contractAddress, heartbeatKey, 1, members)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	root := tree.Root()
	for _, member := range members {
		proof, err := tree.ProofFor(member)
		if err != nil {
			t.Fatalf("ProofFor: %v", err)
		}
		if !VerifyProof(proof.Leaf, proof.Path, root) {
			t.Errorf("VerifyProof failed for member %s in odd committee", member.Hex())
		}
	}
}

func TestProofForNonMemberFails(t *testing.T) {
	contractAddress := common.HexToAddress("0x1111111111111111111111111111111111111111")
	heartbeatKey := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222")
	members := testMembers(4)

	tree, err := Build(contractAddress, heartbeatKey, 1, members)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	outsider := common.HexToAddress("0x9999999999999999999999999999999999999999")
	if _, err := tree.ProofFor(outsider); err != ErrNotAMember {
		t.Errorf("ProofFor(outsider) error = %v, want ErrNotAMember", err)
	}
}

func TestVerifyProofRejectsWrongRoot(t *testing.T) {
	contractAddress := common.HexToAddress("0x1111111111111111111111111111111111111111")
	heartbeatKey := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222")
	members := testMembers(4)

	tree, err := Build(contractAddress, heartbeatKey, 1, members)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proof, err := tree.ProofFor(members[0])
	if err != nil {
		t.Fatalf("ProofFor: %v", err)
	}
	wrongRoot := common.HexToHash("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	if VerifyProof(proof.Leaf, proof.Path, wrongRoot) {
		t.Error("VerifyProof should reject an incorrect root")
	}
}

func TestBuildEmptyCommitteeFails(t *testing.T) {
	contractAddress := common.HexToAddress("0x1111111111111111111111111111111111111111")
	heartbeatKey := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222")
	if _, err := Build(contractAddress, heartbeatKey, 1, nil); err != ErrEmptyCommittee {
		t.Errorf("Build(empty) error = %v, want ErrEmptyCommittee", err)
	}
}
