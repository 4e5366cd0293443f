package features

import "testing"

func TestTiktokenCounter_Offline(t *testing.T) {
	tc, err := NewTiktokenCounter("cl100k_base")
	if err != nil {
		t.Fatalf("load encoding: %v", err)
	}
	n, err := tc.CountTokens("hello world")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("tokens = %d, want 2", n)
	}
}

func TestNewTokenCounter_Fallback(t *testing.T) {
	tc, err := NewTokenCounter("no-such-encoding")
	if err == nil {
		t.Fatal("expected error for unknown encoding")
	}
	if _, ok := tc.(RuneEstimator); !ok {
		t.Errorf("fallback counter = %T, want RuneEstimator", tc)
	}
	tc, err = NewTokenCounter("runes")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tc.(RuneEstimator); !ok {
		t.Errorf("runes counter = %T", tc)
	}
}
