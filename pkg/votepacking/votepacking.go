// Package votepacking encodes and decodes the packed uint256 vote word
// returned by HeartbeatManager.getVotePacked: a responded flag, a
// two-bit verdict, and a weight shifted above the low bits.
package votepacking

import "math/big"

const (
	// RespondedBit is set when the member has cast a vote for the round.
	RespondedBit uint64 = 1 << 2
	// VerdictMask isolates the two low bits encoding the verdict.
	VerdictMask uint64 = 0x3
	// WeightShift is the bit offset where the member's stake weight begins.
	WeightShift uint = 3
)

// Verdict mirrors the on-chain verdict encoding. Zero means no vote.
type Verdict uint8

const (
	VerdictNone        Verdict = 0
	VerdictSuccess     Verdict = 1
	VerdictFailure     Verdict = 2
	VerdictInconclusive Verdict = 3
)

// Vote is the decoded form of a packed getVotePacked word.
type Vote struct {
	Responded bool
	Verdict   Verdict
	Weight    *big.Int
}

// Decode unpacks a raw getVotePacked return value.
func Decode(packed *big.Int) Vote {
	responded := new(big.Int).And(packed, big.NewInt(int64(RespondedBit))).Sign() != 0
	verdict := new(big.Int).And(packed, big.NewInt(int64(VerdictMask))).Uint64()
	weight := new(big.Int).Rsh(packed, WeightShift)
	return Vote{
		Responded: responded,
		Verdict:   Verdict(verdict),
		Weight:    weight,
	}
}

// Pack builds a packed word from its constituent fields; used by tests
// and simulators that need to construct getVotePacked fixtures.
func Pack(responded bool, verdict Verdict, weight *big.Int) *big.Int {
	packed := new(big.Int).Lsh(weight, WeightShift)
	packed.Or(packed, big.NewInt(int64(uint64(verdict)&VerdictMask)))
	if responded {
		packed.Or(packed, big.NewInt(int64(RespondedBit)))
	}
	return packed
}

// ExpectedVerdict maps a round outcome (1 = success, anything else =
// failure) to the verdict members must have cast to count as a winning
// voter when rewards are distributed.
func ExpectedVerdict(outcome uint8) Verdict {
	if outcome == 1 {
		return VerdictSuccess
	}
	return VerdictFailure
}
