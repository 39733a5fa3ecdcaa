package relay

import (
	"testing"
	"time"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	b := NewBackoff(time.Second, 8*time.Second, 0)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		got := b.Next()
		if got != w {
			t.Fatalf("attempt %d: got %v, want %v", i, got, w)
		}
	}
}

func TestBackoffResetReturnsToBase(t *testing.T) {
	b := NewBackoff(time.Second, 8*time.Second, 0)
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("after reset, got %v, want %v", got, time.Second)
	}
}

func TestBackoffJitterStaysWithinBound(t *testing.T) {
	b := NewBackoff(10*time.Second, time.Minute, 0.2)
	b.attempt = 0
	for i := 0; i < 50; i++ {
		d := b.Next()
		if d < 0 {
			t.Fatalf("negative delay: %v", d)
		}
		if d > time.Minute+time.Minute/5 {
			t.Fatalf("delay %v exceeds cap plus jitter margin", d)
		}
		b.attempt = 5 // pin to the capped regime so jitter bound is easy to check
	}
}

func TestBackoffJitterOfZeroIsExact(t *testing.T) {
	b := NewBackoff(5*time.Second, time.Minute, 0)
	if got := b.Next(); got != 5*time.Second {
		t.Fatalf("got %v, want exact base with zero jitter", got)
	}
}
