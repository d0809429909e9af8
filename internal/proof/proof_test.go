package proof

import (
	"testing"
	"time"
)

func baseInputs() Inputs {
	return Inputs{
		ExecutionID: "exec-1",
		Code:        "2+2",
		Output:      "4",
		Elapsed:     12 * time.Millisecond,
		Timestamp:   time.UnixMilli(1700000000000),
		Network:     "base-sepolia",
		Executor:    "executor-a",
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(baseInputs())
	b := Generate(baseInputs())
	if a != b {
		t.Errorf("same inputs gave different digests: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
}

func TestVerify(t *testing.T) {
	in := baseInputs()
	digest := Generate(in)

	if !Verify(digest, in) {
		t.Error("Verify(Generate(x), x) = false, want true")
	}
	if Verify(digest[:63]+"0", in) && digest[63] != '0' {
		t.Error("Verify accepted a corrupted digest")
	}
}

func TestGenerate_AnyFieldChangesDigest(t *testing.T) {
	base := Generate(baseInputs())

	mutations := []struct {
		name   string
		mutate func(*Inputs)
	}{
		{"execution id", func(in *Inputs) { in.ExecutionID = "exec-2" }},
		{"code", func(in *Inputs) { in.Code = "2+3" }},
		{"output", func(in *Inputs) { in.Output = "5" }},
		{"elapsed", func(in *Inputs) { in.Elapsed = 13 * time.Millisecond }},
		{"timestamp", func(in *Inputs) { in.Timestamp = time.UnixMilli(1700000000001) }},
		{"network", func(in *Inputs) { in.Network = "base" }},
		{"executor", func(in *Inputs) { in.Executor = "executor-b" }},
	}

	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			in := baseInputs()
			m.mutate(&in)
			if Generate(in) == base {
				t.Errorf("changing %s did not change the digest", m.name)
			}
		})
	}
}

func TestGenerate_NoFieldConcatenationCollision(t *testing.T) {
	a := baseInputs()
	a.Code = "ab"
	a.Output = "c"
	b := baseInputs()
	b.Code = "a"
	b.Output = "bc"
	if Generate(a) == Generate(b) {
		t.Error("shifting bytes across field boundaries collided")
	}
}
