package mpegts

import (
	"bytes"
	"context"
	"fmt"

	"github.com/AgustinSRG/go-stream-toolkit/pkg/mediapacket"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/streamer"
)

// DefaultPatPmtInterval is how often PAT+PMT are re-emitted absent a
// keyframe, matching spec §4.5's "patpmt interval (default 3000 ms)".
const DefaultPatPmtInterval = 3000

// Muxer implements the Streamer contract for MPEG-TS multiplexing (spec
// component C7): it receives MediaPackets and emits a continuous 188-byte
// TS packet stream to its sinkers (wrapped back into MediaPackets whose
// payload is the TS bytes, so a UDP/TCP sinker can send them as-is).
//
// Grounded on original_source's MpegtsMux (mpegts_mux.hpp): PAT/PMT version
// counters, per-PID continuity counters, and the video/audio-ready gating
// queue that holds packets until a video sequence header and an audio
// packet have been observed. On the audio side the first audio packet of
// any kind opens the gate; an audio extra-data unit is not required.
type Muxer struct {
	*streamer.Base

	patPmtInterval int64
	lastPatPmtMs   int64
	everSent       bool

	pat *PAT
	pmt *PMT

	videoPID uint16
	audioPID uint16

	continuity map[uint16]uint8

	videoCodec mediapacket.Codec
	audioCodec mediapacket.Codec

	wantsVideo bool
	wantsAudio bool
	videoReady bool
	audioReady bool
	queue      []*mediapacket.MediaPacket
}

// NewMuxer constructs a Muxer with the given unique name. wantsVideo and
// wantsAudio declare the expected stream set so the video/audio-ready gate
// (spec §4.5) knows when a missing side is simply absent rather than
// pending.
func NewMuxer(name string, wantsVideo bool, wantsAudio bool) *Muxer {
	m := &Muxer{
		Base:           streamer.NewBase(name),
		patPmtInterval: DefaultPatPmtInterval,
		videoPID:       DefaultVid,
		audioPID:       DefaultAud,
		continuity:     map[uint16]uint8{},
		wantsVideo:     wantsVideo,
		wantsAudio:     wantsAudio,
	}
	m.videoReady = !wantsVideo
	m.audioReady = !wantsAudio
	m.pat = &PAT{
		TransportStreamID: 1,
		Programs:          []ProgramEntry{{ProgramNumber: 1, PMTPID: DefaultPMT}},
	}
	m.pmt = &PMT{
		ProgramNumber: 1,
		PCRPID:        m.videoPID,
	}
	return m
}

func (m *Muxer) AddOption(key string, value string) error {
	switch key {
	case "patpmt_interval":
		var ms int64
		if _, err := fmt.Sscanf(value, "%d", &ms); err != nil {
			return fmt.Errorf("mpegts mux: invalid patpmt_interval %q", value)
		}
		m.patPmtInterval = ms
		return nil
	default:
		return fmt.Errorf("mpegts mux: unrecognized option %q", key)
	}
}

func (m *Muxer) StartNetwork(ctx context.Context, url string) error { return nil }

// Source accepts one MediaPacket and emits its TS representation (spec
// §4.5's per-packet algorithm), subject to the video/audio-ready gate.
func (m *Muxer) Source(pkt *mediapacket.MediaPacket) (int, error) {
	if !m.videoReady || !m.audioReady {
		m.observeReadiness(pkt)
		m.queue = append(m.queue, pkt)
		if !m.videoReady || !m.audioReady {
			return 0, nil
		}
		queued := m.queue
		m.queue = nil
		n := 0
		for _, p := range queued {
			written, err := m.writePacket(p)
			if err != nil {
				return n, err
			}
			n += written
		}
		return n, nil
	}

	return m.writePacket(pkt)
}

func (m *Muxer) observeReadiness(pkt *mediapacket.MediaPacket) {
	switch pkt.MediaType {
	case mediapacket.MediaVideo:
		if pkt.IsSeqHdr {
			m.videoReady = true
			m.videoCodec = pkt.Codec
		}
	case mediapacket.MediaAudio:
		m.audioReady = true
		m.audioCodec = pkt.Codec
	}
}

func (m *Muxer) writePacket(pkt *mediapacket.MediaPacket) (int, error) {
	now := pkt.DTS
	if now < 0 {
		now = pkt.PTS
	}

	// Declare this packet's elementary stream in the PMT before deciding
	// whether to (re-)emit PAT/PMT below: otherwise the very first packet
	// of a stream announces its own PID one PAT/PMT cycle too late, and a
	// downstream demuxer drops it as an unrecognized PID.
	switch pkt.MediaType {
	case mediapacket.MediaVideo:
		m.ensureStreamDeclared(m.videoPID, pkt.Codec)
	case mediapacket.MediaAudio:
		m.ensureStreamDeclared(m.audioPID, pkt.Codec)
	}

	emitTables := !m.everSent ||
		(now-m.lastPatPmtMs) >= m.patPmtInterval ||
		(pkt.MediaType == mediapacket.MediaVideo && pkt.IsKeyFrame)

	total := 0

	if emitTables {
		total += m.emitPatPmt()
		m.lastPatPmtMs = now
		m.everSent = true
	}

	switch pkt.MediaType {
	case mediapacket.MediaVideo:
		m.videoCodec = pkt.Codec
		n, err := m.emitVideo(pkt)
		total += n
		return total, err
	case mediapacket.MediaAudio:
		m.audioCodec = pkt.Codec
		n, err := m.emitAudio(pkt)
		total += n
		return total, err
	default:
		return total, nil
	}
}

func (m *Muxer) emitPatPmt() int {
	patSection := EncodePAT(m.pat)
	pmtSection := EncodePMT(m.pmt)

	n := 0
	n += m.emitSection(PIDPat, patSection)
	n += m.emitSection(m.pat.Programs[0].PMTPID, pmtSection)
	return n
}

func (m *Muxer) emitSection(pid uint16, section []byte) int {
	payload := append([]byte{0x00}, section...) // pointer_field
	cc := m.nextContinuity(pid)
	pkt, _ := buildPacket(pid, true, cc, 0, false, payload)
	m.emitTSPacket(pkt)
	return PacketSize
}

func (m *Muxer) nextContinuity(pid uint16) uint8 {
	cc := m.continuity[pid]
	m.continuity[pid] = (cc + 1) & 0x0F
	return cc
}

// emitVideo wraps an AnnexB video unit in a PES header and fragments it
// across 188-byte TS packets (spec §4.5 steps 2-3), ensuring m.pmt reflects
// the stream type currently in use.
func (m *Muxer) emitVideo(pkt *mediapacket.MediaPacket) (int, error) {
	m.ensureStreamDeclared(m.videoPID, pkt.Codec)

	payload := make([]byte, 0, len(pkt.Payload.Data())+4)
	payload = append(payload, 0x00, 0x00, 0x00, 0x01)
	payload = append(payload, pkt.Payload.Data()...)

	pes := buildPESHeader(0xE0, pkt.PTS, pkt.DTS, pkt.DTS != pkt.PTS)
	full := append(pes, payload...)

	return m.fragment(m.videoPID, full, pkt.IsKeyFrame, pkt.DTS), nil
}

func (m *Muxer) emitAudio(pkt *mediapacket.MediaPacket) (int, error) {
	m.ensureStreamDeclared(m.audioPID, pkt.Codec)

	payload := pkt.Payload.Data()
	if pkt.Codec == mediapacket.CodecAAC {
		payload = wrapADTS(payload)
	}

	pes := buildPESHeader(0xC0, pkt.PTS, pkt.PTS, false)
	full := append(pes, payload...)

	return m.fragment(m.audioPID, full, false, -1), nil
}

// fragment splits full across 188-byte TS packets: the first carries
// payload_unit_start_indicator and (when withPCR) a PCR-bearing adaptation
// field, subsequent packets use a padding adaptation field to fill the
// final packet's tail (spec §4.5 step 3).
func (m *Muxer) fragment(pid uint16, full []byte, withPCR bool, pcrMs int64) int {
	n := 0
	first := true
	for len(full) > 0 {
		cc := m.nextContinuity(pid)
		pkt, consumed := buildPacket(pid, first, cc, pcrMs, first && withPCR && pid == m.pmt.PCRPID, full)
		m.emitTSPacket(pkt)
		full = full[consumed:]
		first = false
		n += PacketSize
	}
	return n
}

func (m *Muxer) ensureStreamDeclared(pid uint16, codec mediapacket.Codec) {
	st := streamTypeFor(codec)
	descs := descriptorsFor(codec)

	for i, es := range m.pmt.Streams {
		if es.PID == pid {
			if es.StreamType != st || !descriptorsEqual(es.Descriptors, descs) {
				m.pmt.Streams[i].StreamType = st
				m.pmt.Streams[i].Descriptors = descs
				m.pmt.Version = (m.pmt.Version + 1) & 0x1F
			}
			return
		}
	}
	m.pmt.Streams = append(m.pmt.Streams, ElementaryStream{StreamType: st, PID: pid, Descriptors: descs})
	m.pmt.Version = (m.pmt.Version + 1) & 0x1F
}

// descriptorsFor returns the PMT descriptors that must accompany codec's
// elementary stream. Opus has no stream_type of its own, so it rides
// StreamTypePrivatePES and is identified by a registration descriptor
// instead (spec §4.4).
func descriptorsFor(codec mediapacket.Codec) []Descriptor {
	if codec == mediapacket.CodecOpus {
		return []Descriptor{{Tag: RegistrationDescriptorTag, Data: []byte("Opus")}}
	}
	return nil
}

func descriptorsEqual(a, b []Descriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Tag != b[i].Tag || !bytes.Equal(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}

func (m *Muxer) emitTSPacket(raw []byte) {
	out := mediapacket.New()
	out.MediaType = mediapacket.MediaUnknown
	out.Format = mediapacket.FormatRaw
	out.Payload.Append(raw)
	m.Broadcast(out)
}

func streamTypeFor(codec mediapacket.Codec) StreamType {
	switch codec {
	case mediapacket.CodecH264:
		return StreamTypeH264
	case mediapacket.CodecH265:
		return StreamTypeH265
	case mediapacket.CodecOpus:
		return StreamTypePrivatePES
	default:
		return StreamTypeAAC
	}
}

// wrapADTS prepends a 7-byte ADTS header around a raw AAC frame so the
// emitted elementary stream matches what a TS demuxer on the other end
// expects to find (spec §4.5 "ADTS for AAC").
func wrapADTS(raw []byte) []byte {
	frameLen := len(raw) + 7
	header := make([]byte, 7)
	header[0] = 0xFF
	header[1] = 0xF1 // MPEG-4, no CRC
	header[2] = (1 << 6) | (3 << 2)             // AAC LC profile, 48kHz sampling index, defaults
	header[3] = byte((3&0x03)<<6) | byte(frameLen>>11)
	header[4] = byte(frameLen >> 3)
	header[5] = byte(frameLen<<5) | 0x1F
	header[6] = 0xFC
	return append(header, raw...)
}
