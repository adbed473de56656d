// Package mpegts implements the MPEG-TS demuxer and muxer (spec components
// C6 and C7): 188-byte packet framing, PAT/PMT table parsing and
// generation, PES packetization, and 33-bit PTS/DTS reconstruction.
//
// Grounded on _examples/original_source/src/format/mpegts/mpegts_demux.hpp
// and mpegts_mux.hpp (field names pmt_pid_=0x1001, video_pid_=0x100,
// audio_pid_=0x101, patpmt_interval_=3000ms, per-PID continuity counters,
// video/audio-ready gating queue), cross-checked for idiomatic Go struct
// shape against other_examples' ausocean-av mpegts reference file (not a
// go.mod dependency — a standalone reference file, cited for style only).
package mpegts

import "strings"

const (
	PacketSize = 188
	SyncByte   = 0x47

	PIDPat      = 0x0000
	PIDNull     = 0x1FFF
	DefaultPMT  = 0x1001
	DefaultPCR  = 0x100
	DefaultVid  = 0x100
	DefaultAud  = 0x101
	TableIDPAT  = 0x00
	TableIDPMT  = 0x02
)

// StreamType identifies the elementary stream codec per MPEG-TS
// stream_type values (spec §4.4 PID routing table).
type StreamType byte

const (
	StreamTypeH264 StreamType = 0x1B
	StreamTypeH265 StreamType = 0x24
	StreamTypeAAC  StreamType = 0x0F
	StreamTypeAAC2 StreamType = 0x11

	// StreamTypePrivatePES is stream_type 0x06 (PES packets carrying
	// private data): Opus has no assigned stream_type of its own, so it
	// rides this one and is identified by a registration descriptor
	// instead (spec §4.4 "Opus is identified by a descriptor string
	// 'opus' on the elementary stream").
	StreamTypePrivatePES StreamType = 0x06
)

// RegistrationDescriptorTag is the MPEG-TS descriptor_tag for a
// registration_descriptor, whose payload is a 4-byte format_identifier
// (spec §3 "PMT carries... [descriptor]*").
const RegistrationDescriptorTag = 0x05

// Descriptor is one PMT elementary-stream descriptor TLV.
type Descriptor struct {
	Tag  byte
	Data []byte
}

// hasOpusDescriptor reports whether descs contains a registration
// descriptor identifying an Opus elementary stream (spec §4.4).
func hasOpusDescriptor(descs []Descriptor) bool {
	for _, d := range descs {
		if d.Tag == RegistrationDescriptorTag && strings.EqualFold(string(d.Data), "opus") {
			return true
		}
	}
	return false
}

// ProgramEntry is one PAT row: (program_number, program_map_PID).
type ProgramEntry struct {
	ProgramNumber uint16
	PMTPID        uint16
}

// PAT is the Program Association Table.
type PAT struct {
	TransportStreamID uint16
	Version           uint8
	Programs          []ProgramEntry
}

// ElementaryStream is one PMT row: (elementary_PID, stream_type,
// [descriptor]*) per spec §3.
type ElementaryStream struct {
	StreamType  StreamType
	PID         uint16
	Descriptors []Descriptor
}

// PMT is the Program Map Table.
type PMT struct {
	ProgramNumber uint16
	Version       uint8
	PCRPID        uint16
	Streams       []ElementaryStream
}
