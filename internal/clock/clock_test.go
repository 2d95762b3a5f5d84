package clock_test

import (
	"testing"
	"time"

	"pkt.systems/docsync/internal/clock"
)

func TestRealNowIsUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestManualAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := clock.NewManual(start)
	if got := m.Advance(-time.Minute); !got.Equal(start) {
		t.Fatalf("negative advance moved clock to %v", got)
	}
	if got := m.Advance(90 * time.Second); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("advance: got %v", got)
	}
	m.Set(start)
	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("set: got %v", got)
	}
}
