package utils

import "testing"

func TestPickStable(t *testing.T) {
	first := Pick("CASE-0042", 7)
	for i := 0; i < 10; i++ {
		if got := Pick("CASE-0042", 7); got != first {
			t.Fatalf("expected stable pick %d, got %d", first, got)
		}
	}
	if first < 0 || first >= 7 {
		t.Fatalf("pick out of range: %d", first)
	}
	if StableHash("a") == StableHash("b") {
		t.Fatalf("expected different hashes")
	}
}
