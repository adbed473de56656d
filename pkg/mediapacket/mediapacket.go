// Package mediapacket defines the tagged media unit (spec component C3)
// that flows between Streamers: a codec/container-agnostic envelope any
// component can produce or consume, generalizing the teacher's
// RTMP-specific RTMPPacket (rtmp_packet.go) into the shape the original
// cpp_streamer's Media_Packet takes across all of RTMP, MPEG-TS and FLV.
package mediapacket

import "github.com/AgustinSRG/go-stream-toolkit/pkg/buffer"

// MediaType classifies the payload's media kind.
type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaVideo
	MediaAudio
)

// Codec identifies the elementary stream codec.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
	CodecAAC
	CodecOpus
	CodecVPx
	CodecMeta
)

// Format identifies the container/wire format the payload is currently in.
type Format int

const (
	FormatRaw Format = iota
	FormatFLV
	FormatRTMP
	FormatRTP
	FormatAnnexB
	FormatAVCC
)

// NoDTS is the sentinel used when a packet carries no timestamp, e.g. an
// audio-only stream before the pacer has seen a DTS (see DESIGN.md open
// question 4).
const NoDTS int64 = -1

// MediaPacket is the unit passed between Streamers by calling Source on
// each sinker.
type MediaPacket struct {
	MediaType MediaType
	Codec     Codec
	Format    Format

	DTS int64 // milliseconds
	PTS int64 // milliseconds

	IsKeyFrame bool
	IsSeqHdr   bool

	Payload *buffer.Buffer
}

// New creates an empty MediaPacket with a fresh payload buffer.
func New() *MediaPacket {
	return &MediaPacket{
		Payload: buffer.New(buffer.ExtraLen),
		DTS:     NoDTS,
		PTS:     NoDTS,
	}
}

// CopyProperties copies the scalar fields from src but not the payload,
// matching the teacher/original's copy_properties semantics (spec §3).
func (p *MediaPacket) CopyProperties(src *MediaPacket) {
	p.MediaType = src.MediaType
	p.Codec = src.Codec
	p.Format = src.Format
	p.DTS = src.DTS
	p.PTS = src.PTS
	p.IsKeyFrame = src.IsKeyFrame
	p.IsSeqHdr = src.IsSeqHdr
}

// Clone returns a deep copy (payload included), for sinkers that need to
// mutate their own copy per the concurrency model's shared-buffer rule
// (spec §5: "the sinker is responsible for cloning before mutation").
func (p *MediaPacket) Clone() *MediaPacket {
	out := New()
	out.CopyProperties(p)
	out.Payload.Append(p.Payload.Data())
	return out
}
