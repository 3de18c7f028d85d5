package idhash

import "testing"

func TestComputeTaskID_Deterministic(t *testing.T) {
	a := ComputeTaskID("5KtP9UzwxyzSig111")
	b := ComputeTaskID("5KtP9UzwxyzSig111")

	if a != b {
		t.Errorf("same signature produced different IDs: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestComputeTaskID_DistinctSignatures(t *testing.T) {
	a := ComputeTaskID("sigA")
	b := ComputeTaskID("sigB")

	if a == b {
		t.Error("different signatures produced the same ID")
	}
}
