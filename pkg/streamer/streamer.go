// Package streamer defines the capability-set contract every component in
// this toolkit implements (spec §6 "Streamer contract", and §9's design
// note: "Polymorphism over Streamer... model as a capability set
// {name, options, sinkers, source, start_network, logger, reporter}").
//
// The original C++ source uses virtual dispatch over a common base class
// (cpp_streamer_interface.hpp); Go has no base classes, so the same
// contract is expressed as an interface implemented by concrete types
// (mpegts.Demuxer, mpegts.Muxer, flv.Demuxer, rtmp.Session, ...) and wired
// together by a driver that only depends on the interface.
package streamer

import (
	"context"

	"github.com/AgustinSRG/go-stream-toolkit/pkg/logger"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/mediapacket"
)

// Reporter receives diagnostic events from a Streamer (spec §6 "Reporter
// contract"). Type is e.g. "error", "dtls", "transport_connect",
// "broadcaster"; value is a short human-readable string.
type Reporter interface {
	OnReport(name string, kind string, value string)
}

// NopReporter discards every report; used when no reporter is configured.
type NopReporter struct{}

func (NopReporter) OnReport(string, string, string) {}

// Streamer is the uniform node interface in a media pipeline.
type Streamer interface {
	// Name returns this node's unique name, e.g. "mpegtsdemux_<uuid>".
	Name() string

	// SetLogger installs the logger this node uses for diagnostics.
	SetLogger(l logger.Logger)

	// SetReporter installs the reporter this node forwards events to.
	SetReporter(r Reporter)

	// AddSinker appends a downstream consumer and returns the new count.
	AddSinker(s Streamer) int

	// RemoveSinker removes a downstream consumer by name and returns the
	// new count.
	RemoveSinker(name string) int

	// Source accepts one inbound MediaPacket. Returns a byte count (or -1)
	// and an error when the packet was malformed or rejected.
	Source(pkt *mediapacket.MediaPacket) (int, error)

	// StartNetwork optionally initiates wire I/O for this node (e.g. a TCP
	// dial/listen); loop-less implementations may no-op.
	StartNetwork(ctx context.Context, url string) error

	// AddOption sets a component-specific option; implementations reject
	// unrecognized keys with an error (spec §6).
	AddOption(key string, value string) error
}

// Base is an embeddable implementation of the bookkeeping common to every
// Streamer (name, sinkers, logger, reporter), so concrete components only
// need to implement Source/StartNetwork/AddOption.
type Base struct {
	name     string
	logger   logger.Logger
	reporter Reporter
	sinkers  []Streamer
}

// NewBase constructs a Base with the given name.
func NewBase(name string) *Base {
	return &Base{
		name:     name,
		logger:   logger.Default(),
		reporter: NopReporter{},
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) SetLogger(l logger.Logger) {
	if l != nil {
		b.logger = l
	}
}

func (b *Base) Logger() logger.Logger { return b.logger }

func (b *Base) SetReporter(r Reporter) {
	if r != nil {
		b.reporter = r
	}
}

func (b *Base) Reporter() Reporter { return b.reporter }

func (b *Base) AddSinker(s Streamer) int {
	b.sinkers = append(b.sinkers, s)
	return len(b.sinkers)
}

func (b *Base) RemoveSinker(name string) int {
	out := b.sinkers[:0]
	for _, s := range b.sinkers {
		if s.Name() != name {
			out = append(out, s)
		}
	}
	b.sinkers = out
	return len(b.sinkers)
}

// Sinkers returns the current downstream list.
func (b *Base) Sinkers() []Streamer { return b.sinkers }

// Broadcast pushes pkt to every sinker in order, matching spec's "Packets
// flow downstream by the producer calling source() on each sinker."
func (b *Base) Broadcast(pkt *mediapacket.MediaPacket) {
	for _, s := range b.sinkers {
		if _, err := s.Source(pkt); err != nil {
			b.reporter.OnReport(b.name, "error", err.Error())
		}
	}
}
