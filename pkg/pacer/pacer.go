// Package pacer implements the real-time pacing gate (spec component C12):
// it blocks a packet producer so that wall-clock elapsed since the first
// packet tracks the packet stream's DTS elapsed, so a downstream consumer
// (e.g. a UDP broadcast sinker) sees packets arrive at roughly the rate
// they were encoded.
//
// Grounded on spec.md §4.10's design description; the original's
// wait_basedon_timestamp.hpp is referenced by name from
// mpegts_demux.hpp but was not retrieved in full, so the pacing algorithm
// here follows the spec's stated reconciliation shape directly (the
// process explicitly allows this when no Go or C++ reference file is
// available for a named component).
package pacer

import "time"

// JumpThreshold is the DTS gap beyond which the pacer re-anchors instead
// of sleeping (spec §4.10: "A jump larger than 5 seconds... re-anchors").
const JumpThreshold = 5000 * time.Millisecond

// Slack is subtracted from the target sleep so the producer stays a hair
// ahead of wall-clock (spec §4.10: "...minus 30ms slack").
const Slack = 30 * time.Millisecond

// step is the sleep granularity (spec §4.10: "sleep in 10ms steps").
const step = 10 * time.Millisecond

// Pacer tracks the anchor point and sleeps the caller's goroutine to pace
// packet emission to wall-clock (spec §4.10, §9 open question 4).
type Pacer struct {
	anchored   bool
	firstDTSMs int64
	firstSysMs int64
	lastDTSMs  int64

	now func() time.Time
	sleep func(time.Duration)
}

// New constructs a Pacer using the real wall clock.
func New() *Pacer {
	return &Pacer{now: time.Now, sleep: time.Sleep}
}

// newWithClock is used by tests to inject a deterministic clock/sleeper.
func newWithClock(now func() time.Time, sleep func(time.Duration)) *Pacer {
	return &Pacer{now: now, sleep: sleep}
}

// Wait blocks until wall-clock elapsed since the anchor matches dtsMs
// elapsed since the anchor DTS, re-anchoring on the first call or after a
// gap larger than JumpThreshold. A negative dtsMs (mediapacket.NoDTS, per
// DESIGN.md open question 4) is treated as "ready immediately": the pacer
// does not block audio-only streams that never carry a DTS.
func (p *Pacer) Wait(dtsMs int64) {
	if dtsMs < 0 {
		return
	}

	nowSys := p.now()

	if !p.anchored {
		p.anchor(dtsMs, nowSys)
		return
	}

	if dtsMs-p.lastDTSMs > int64(JumpThreshold/time.Millisecond) {
		p.anchor(dtsMs, nowSys)
		p.sleep(step)
		return
	}

	p.lastDTSMs = dtsMs

	target := time.Duration(dtsMs-p.firstDTSMs)*time.Millisecond - Slack
	for {
		elapsed := p.now().Sub(timeFromMs(p.firstSysMs))
		if elapsed >= target {
			return
		}
		p.sleep(step)
	}
}

func (p *Pacer) anchor(dtsMs int64, now time.Time) {
	p.anchored = true
	p.firstDTSMs = dtsMs
	p.lastDTSMs = dtsMs
	p.firstSysMs = now.UnixMilli()
}

func timeFromMs(ms int64) time.Time {
	return time.UnixMilli(ms)
}
