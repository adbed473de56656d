// Package flv implements the FLV container demux and mux (spec component
// C8): header/tag parsing for the demux side, and tag emission for the mux
// side.
//
// The mux side is grounded on the teacher's flv.go (createFlvTag): an
// 11-byte tag header plus a trailing 4-byte previous-tag-size, generalized
// from RTMPPacket to mediapacket.MediaPacket. The demux side has no teacher
// equivalent (the teacher only ever relays RTMP into FLV bytes, never reads
// one back), so it is grounded on ossrs-go-oryx-lib/flv/flv.go's Demuxer
// (ReadHeader/ReadTagHeader/ReadTag field layout and byte order), adapted
// from an io.Reader pull API into the Streamer push contract (spec §4.6's
// two-state "awaiting FLV header" / "awaiting tag" machine) since every
// other component in this toolkit is fed via Source.
package flv

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/AgustinSRG/go-stream-toolkit/pkg/amf"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/mediapacket"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/streamer"
)

// TagType identifies an FLV tag's payload kind (spec §4.6).
type TagType byte

const (
	TagAudio  TagType = 8
	TagVideo  TagType = 9
	TagScript TagType = 18
)

type demuxState int

const (
	stateAwaitingHeader demuxState = iota
	stateAwaitingTag
)

// Metadata carries the fields the reporter surfaces from an onMetaData
// script tag (spec §4.6 "report metadata via the reporter").
type Metadata struct {
	Width    float64
	Height   float64
	FrameRate float64
	Bitrate  float64
	Duration float64
}

// Demuxer implements the Streamer contract for FLV demultiplexing.
// Grounded on ossrs-go-oryx-lib/flv/flv.go's Demuxer, restated as a
// push-fed state machine (spec §4.6).
type Demuxer struct {
	*streamer.Base

	buf   []byte
	state demuxState

	hasVideo bool
	hasAudio bool
}

// NewDemuxer constructs an FLV Demuxer with the given unique name.
func NewDemuxer(name string) *Demuxer {
	return &Demuxer{Base: streamer.NewBase(name)}
}

func (d *Demuxer) AddOption(key string, value string) error {
	return fmt.Errorf("flv demux: unrecognized option %q", key)
}

func (d *Demuxer) StartNetwork(ctx context.Context, url string) error { return nil }

// Source appends raw FLV bytes and drains as many complete header/tags as
// are available, emitting a MediaPacket per media tag (spec §4.6).
func (d *Demuxer) Source(pkt *mediapacket.MediaPacket) (int, error) {
	d.buf = append(d.buf, pkt.Payload.Data()...)
	n := len(pkt.Payload.Data())

	for {
		switch d.state {
		case stateAwaitingHeader:
			if len(d.buf) < 9 {
				return n, nil
			}
			if d.buf[0] != 'F' || d.buf[1] != 'L' || d.buf[2] != 'V' {
				return n, fmt.Errorf("flv demux: bad signature")
			}
			flags := d.buf[4]
			d.hasVideo = flags&0x01 != 0
			d.hasAudio = flags&0x04 != 0
			dataOffset := binary.BigEndian.Uint32(d.buf[5:9])
			if uint32(len(d.buf)) < dataOffset+4 {
				return n, nil
			}
			// dataOffset bytes of header, then a 4-byte previous-tag-size
			// (always 0 for the first tag).
			d.buf = d.buf[dataOffset+4:]
			d.state = stateAwaitingTag

		case stateAwaitingTag:
			if len(d.buf) < 11 {
				return n, nil
			}
			tagType := TagType(d.buf[0])
			dataSize := uint32(d.buf[1])<<16 | uint32(d.buf[2])<<8 | uint32(d.buf[3])
			timestamp := uint32(d.buf[7])<<24 | uint32(d.buf[4])<<16 | uint32(d.buf[5])<<8 | uint32(d.buf[6])

			total := 11 + int(dataSize) + 4
			if len(d.buf) < total {
				return n, nil
			}

			body := d.buf[11 : 11+dataSize]
			d.decodeTag(tagType, int64(timestamp), body)
			d.buf = d.buf[total:]
		}
	}
}

func (d *Demuxer) decodeTag(tagType TagType, ts int64, body []byte) {
	switch tagType {
	case TagAudio:
		d.decodeAudioTag(ts, body)
	case TagVideo:
		d.decodeVideoTag(ts, body)
	case TagScript:
		d.decodeScriptTag(body)
	}
}

// decodeAudioTag splits the packed codec/rate/size/channel byte and, for
// AAC, the extra sequence-header/raw discriminator byte (spec §4.6 "Audio
// tag").
func (d *Demuxer) decodeAudioTag(ts int64, body []byte) {
	if len(body) < 1 {
		d.Reporter().OnReport(d.Name(), "error", "flv: empty audio tag")
		return
	}

	soundFormat := body[0] >> 4
	payload := body[1:]

	codec := mediapacket.CodecUnknown
	isSeqHdr := false

	switch soundFormat {
	case 10: // AAC
		codec = mediapacket.CodecAAC
		if len(payload) < 1 {
			d.Reporter().OnReport(d.Name(), "error", "flv: truncated AAC audio tag")
			return
		}
		isSeqHdr = payload[0] == 0
		payload = payload[1:]
	case 13: // Opus (vendor extension, used by some FLV producers)
		codec = mediapacket.CodecOpus
	default:
		codec = mediapacket.CodecUnknown
	}

	pkt := mediapacket.New()
	pkt.MediaType = mediapacket.MediaAudio
	pkt.Codec = codec
	pkt.Format = mediapacket.FormatFLV
	pkt.DTS = ts
	pkt.PTS = ts
	pkt.IsSeqHdr = isSeqHdr
	pkt.Payload.Append(payload)
	d.Broadcast(pkt)
}

// decodeVideoTag splits the packed frame-type/codec byte and, for H.264,
// the AVCPacketType + composition-time fields (spec §4.6 "Video tag").
func (d *Demuxer) decodeVideoTag(ts int64, body []byte) {
	if len(body) < 1 {
		d.Reporter().OnReport(d.Name(), "error", "flv: empty video tag")
		return
	}

	frameType := body[0] >> 4
	codecID := body[0] & 0x0F
	payload := body[1:]

	codec := mediapacket.CodecUnknown
	switch codecID {
	case 7:
		codec = mediapacket.CodecH264
	case 12:
		codec = mediapacket.CodecH265
	default:
		codec = mediapacket.CodecUnknown
	}

	isKeyFrame := frameType == 1
	isSeqHdr := false
	cts := int64(0)

	if codec == mediapacket.CodecH264 || codec == mediapacket.CodecH265 {
		if len(payload) < 4 {
			d.Reporter().OnReport(d.Name(), "error", "flv: truncated AVC video tag")
			return
		}
		avcPacketType := payload[0]
		cts = int64(payload[1])<<16 | int64(payload[2])<<8 | int64(payload[3])
		isSeqHdr = avcPacketType == 0
		payload = payload[4:]
	}

	pkt := mediapacket.New()
	pkt.MediaType = mediapacket.MediaVideo
	pkt.Codec = codec
	pkt.Format = mediapacket.FormatAVCC
	pkt.DTS = ts
	pkt.PTS = ts + cts
	pkt.IsKeyFrame = isKeyFrame
	pkt.IsSeqHdr = isSeqHdr
	pkt.Payload.Append(payload)
	d.Broadcast(pkt)
}

// decodeScriptTag decodes an onMetaData AMF0 payload and reports it (spec
// §4.6 "decode AMF0 onMetaData and report metadata via the reporter").
func (d *Demuxer) decodeScriptTag(body []byte) {
	values, err := amf.DecodeAll(body)
	if err != nil || len(values) < 2 {
		d.Reporter().OnReport(d.Name(), "error", "flv: malformed onMetaData")
		return
	}

	if values[0].GetString() != "onMetaData" {
		return
	}

	meta := Metadata{
		Width:     values[1].GetProperty("width").GetDouble(),
		Height:    values[1].GetProperty("height").GetDouble(),
		FrameRate: values[1].GetProperty("framerate").GetDouble(),
		Bitrate:   values[1].GetProperty("videodatarate").GetDouble(),
		Duration:  values[1].GetProperty("duration").GetDouble(),
	}

	d.Reporter().OnReport(d.Name(), "metadata", fmt.Sprintf(
		"%dx%d fps=%.2f bitrate=%.2f duration=%.2f",
		int(meta.Width), int(meta.Height), meta.FrameRate, meta.Bitrate, meta.Duration))
}

// Muxer implements the Streamer contract for FLV multiplexing: it wraps
// incoming MediaPackets as FLV tags and emits the resulting bytes to its
// sinkers. Grounded on the teacher's createFlvTag (flv.go), generalized
// from RTMPPacket to MediaPacket.
type Muxer struct {
	*streamer.Base

	headerSent bool
	hasVideo   bool
	hasAudio   bool
}

// NewMuxer constructs an FLV Muxer declaring whether the stream carries
// video/audio (used for the header flags byte).
func NewMuxer(name string, hasVideo bool, hasAudio bool) *Muxer {
	return &Muxer{Base: streamer.NewBase(name), hasVideo: hasVideo, hasAudio: hasAudio}
}

func (m *Muxer) AddOption(key string, value string) error {
	return fmt.Errorf("flv mux: unrecognized option %q", key)
}

func (m *Muxer) StartNetwork(ctx context.Context, url string) error { return nil }

func (m *Muxer) Source(pkt *mediapacket.MediaPacket) (int, error) {
	out := mediapacket.New()
	out.Format = mediapacket.FormatFLV

	n := 0
	if !m.headerSent {
		out.Payload.Append(buildHeader(m.hasVideo, m.hasAudio))
		m.headerSent = true
	}

	tagType, tagBody := m.encodeTagBody(pkt)
	out.Payload.Append(buildTag(tagType, uint32(pkt.DTS), tagBody))
	n += len(tagBody) + 11 + 4

	m.Broadcast(out)
	return n, nil
}

func (m *Muxer) encodeTagBody(pkt *mediapacket.MediaPacket) (TagType, []byte) {
	switch pkt.MediaType {
	case mediapacket.MediaVideo:
		var codecID byte = 7
		if pkt.Codec == mediapacket.CodecH265 {
			codecID = 12
		}
		frameType := byte(2)
		if pkt.IsKeyFrame {
			frameType = 1
		}
		avcPacketType := byte(1)
		if pkt.IsSeqHdr {
			avcPacketType = 0
		}
		cts := pkt.PTS - pkt.DTS
		head := []byte{frameType<<4 | codecID, avcPacketType, byte(cts >> 16), byte(cts >> 8), byte(cts)}
		return TagVideo, append(head, pkt.Payload.Data()...)
	case mediapacket.MediaAudio:
		var soundFormat byte = 10
		if pkt.Codec == mediapacket.CodecOpus {
			soundFormat = 13
		}
		head := []byte{soundFormat<<4 | 0x0F}
		if pkt.Codec == mediapacket.CodecAAC {
			aacType := byte(1)
			if pkt.IsSeqHdr {
				aacType = 0
			}
			head = append(head, aacType)
		}
		return TagAudio, append(head, pkt.Payload.Data()...)
	default:
		return TagScript, pkt.Payload.Data()
	}
}

func buildHeader(hasVideo bool, hasAudio bool) []byte {
	var flags byte
	if hasVideo {
		flags |= 0x01
	}
	if hasAudio {
		flags |= 0x04
	}
	return []byte{'F', 'L', 'V', 0x01, flags, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}
}

// buildTag assembles one tag header (11 bytes) plus body plus trailing
// previous-tag-size (4 bytes), matching the teacher's createFlvTag layout.
func buildTag(tagType TagType, ts uint32, body []byte) []byte {
	dataSize := uint32(len(body))
	out := make([]byte, 11, 11+len(body)+4)
	out[0] = byte(tagType)
	out[1] = byte(dataSize >> 16)
	out[2] = byte(dataSize >> 8)
	out[3] = byte(dataSize)
	out[4] = byte(ts >> 16)
	out[5] = byte(ts >> 8)
	out[6] = byte(ts)
	out[7] = byte(ts >> 24)
	out[8], out[9], out[10] = 0, 0, 0
	out = append(out, body...)

	prevTagSize := uint32(11 + len(body))
	tail := make([]byte, 4)
	binary.BigEndian.PutUint32(tail, prevTagSize)
	return append(out, tail...)
}
