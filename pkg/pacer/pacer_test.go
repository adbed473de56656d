package pacer

import (
	"testing"
	"time"
)

// fakeClock is a deterministic, manually-advanced clock used to test Wait's
// sleep/anchor logic without real wall-clock delay (spec §8 "Pacer"
// property: wall-clock elapsed at emission of packet i tracks 40*i within
// slack).
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func newTestPacer(c *fakeClock) *Pacer {
	return newWithClock(func() time.Time { return c.now }, c.Sleep)
}

func TestPacerTracksDTSWithinSlack(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	p := newTestPacer(clock)

	// DTS 0, 40, 80, ... (spec §8 scenario).
	for i := int64(0); i < 10; i++ {
		dts := i * 40
		p.Wait(dts)

		elapsed := clock.now.Sub(time.UnixMilli(1_000_000))
		wantElapsed := time.Duration(dts) * time.Millisecond
		diff := elapsed - wantElapsed
		if diff < 0 {
			diff = -diff
		}
		if diff > 50*time.Millisecond {
			t.Fatalf("packet %d: elapsed=%v want~%v diff=%v exceeds 50ms", i, elapsed, wantElapsed, diff)
		}
	}
}

func TestPacerReanchorsOnLargeJump(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	p := newTestPacer(clock)

	p.Wait(0)
	p.Wait(40)

	before := clock.now

	// A gap far beyond JumpThreshold should re-anchor instead of blocking
	// for the full (unrealistic) elapsed time.
	p.Wait(40 + int64(10*time.Second/time.Millisecond))

	elapsed := clock.now.Sub(before)
	if elapsed > 1*time.Second {
		t.Fatalf("expected re-anchor to avoid a long sleep, elapsed=%v", elapsed)
	}
}

func TestPacerSkipsNoDTS(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	p := newTestPacer(clock)

	before := clock.now
	p.Wait(-1)
	if clock.now != before {
		t.Fatalf("expected NoDTS packet not to advance the clock")
	}
}
