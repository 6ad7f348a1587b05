package sessionmgr

import "testing"

func TestBackoffFirstValueIsOneSecond(t *testing.T) {
	b := NewBackoff()
	if got := b.Next(); got.Seconds() != 1.0 {
		t.Fatalf("first value = %v, want 1s", got)
	}
}

func TestBackoffClampsAfterFirstValue(t *testing.T) {
	b := NewBackoff()
	b.randF = func() float64 { return 0.5 } // midpoint of [0,10)
	b.Next() // consumes the initial 1.0s value

	for range 5 {
		got := b.Next().Seconds()
		if got < 115 || got > 125 {
			t.Fatalf("clamped value = %v, want in [115,125]", got)
		}
	}
}

func TestBackoffResetReturnsToInitialValue(t *testing.T) {
	b := NewBackoff()
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got.Seconds() != 1.0 {
		t.Fatalf("value after Reset = %v, want 1s", got)
	}
}
