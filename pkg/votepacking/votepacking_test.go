package votepacking

import (
	"math/big"
	"testing"
)

func TestPackDecodeRoundTrip(t *testing.T) {
	weight := big.NewInt(4200)
	packed := Pack(true, VerdictSuccess, weight)

	vote := Decode(packed)
	if !vote.Responded {
		t.Error("expected Responded = true")
	}
	if vote.Verdict != VerdictSuccess {
		t.Errorf("Verdict = %d, want %d", vote.Verdict, VerdictSuccess)
	}
	if vote.Weight.Cmp(weight) != 0 {
		t.Errorf("Weight = %s, want %s", vote.Weight, weight)
	}
}

func TestDecodeNotResponded(t *testing.T) {
	packed := Pack(false, VerdictNone, big.NewInt(0))
	vote := Decode(packed)
	if vote.Responded {
		t.Error("expected Responded = false")
	}
}

func TestExpectedVerdict(t *testing.T) {
	if ExpectedVerdict(1) != VerdictSuccess {
		t.Error("outcome 1 should expect VerdictSuccess")
	}
	if ExpectedVerdict(2) != VerdictFailure {
		t.Error("outcome 2 should expect VerdictFailure")
	}
	if ExpectedVerdict(0) != VerdictFailure {
		t.Error("non-success outcome should expect VerdictFailure")
	}
}

func TestDecodeHighWeightDoesNotClobberLowBits(t *testing.T) {
	weight := new(big.Int).Lsh(big.NewInt(1), 200)
	packed := Pack(true, VerdictInconclusive, weight)
	vote := Decode(packed)
	if vote.Verdict != VerdictInconclusive {
		t.Errorf("Verdict = %d, want %d", vote.Verdict, VerdictInconclusive)
	}
	if !vote.Responded {
		t.Error("expected Responded = true with large weight")
	}
	if vote.Weight.Cmp(weight) != 0 {
		t.Errorf("Weight = %s, want %s", vote.Weight, weight)
	}
}
