package rtmp

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/AgustinSRG/go-stream-toolkit/pkg/amf"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/mediapacket"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/streamer"
)

// DefaultGopCacheLimit matches the teacher's default GOP cache byte budget
// (rtmp_server.go's gopCacheLimit default), used when no explicit limit is
// configured via AddOption.
const DefaultGopCacheLimit = 64 * 1024 * 1024

// bitrateCache mirrors the teacher's BitRateCache (rtmp_session.go):
// a rolling byte counter sampled once per interval to derive bit/ms.
type bitrateCache struct {
	intervalMs int64
	lastUpdate int64
	bytes      uint64
	bitRate    uint64
}

func (b *bitrateCache) addBytes(n int, nowMs int64) {
	b.bytes += uint64(n)
	if b.lastUpdate == 0 {
		b.lastUpdate = nowMs
		return
	}
	elapsed := nowMs - b.lastUpdate
	if elapsed >= b.intervalMs {
		b.bitRate = (b.bytes * 8) / uint64(elapsed)
		b.bytes = 0
		b.lastUpdate = nowMs
	}
}

// cachedPacket is one GOP-cache entry: a reassembled chunk-stream Message
// plus enough MediaPacket metadata to know whether it is a keyframe/seq
// header, grounded on the teacher's rtmpGopCache *list.List of RTMPPacket
// (rtmp_session.go).
type cachedPacket struct {
	msg        *Message
	size       int64
	isKeyFrame bool
}

// Session is one RTMP connection: chunk-stream reader/writer, handshake,
// the connect/createStream/publish/play negotiation, a GOP cache for late
// joiners, and bitrate tracking. It implements streamer.Streamer so it can
// sit in a pipeline like any other component (spec §9's capability-set
// design note).
//
// Grounded on the teacher's RTMPSession (rtmp_session.go,
// rtmp_session_utils.go), restructured over the abstract ChunkReader/
// ChunkWriter rather than a net.Conn held directly, and extended with a
// RoleClient path the teacher (server-only) does not have.
type Session struct {
	*streamer.Base

	conn io.ReadWriteCloser

	reader *ChunkReader
	writer *ChunkWriter

	neg *negotiation

	mu sync.Mutex

	gopCache      *list.List
	gopCacheSize  int64
	gopCacheLimit int64
	gopDisabled   bool

	bitrate bitrateCache

	videoCodec mediapacket.Codec
	audioCodec mediapacket.Codec

	aacSequenceHeader []byte
	avcSequenceHeader []byte

	remoteIP            string
	publishGate         PublishGate
	coordinatorStreamID string
}

// PublishGate is consulted (when set via SetPublishGate) before a publish
// command is accepted, letting an external coordinator approve or deny the
// channel/key/IP the way the teacher's websocketControlConnection.
// RequestPublish gates HandlePublish (rtmp_session.go). A nil gate accepts
// every publish, matching the teacher's stand-alone (no coordinator) mode.
type PublishGate func(channel string, key string, remoteIP string) (accepted bool, streamID string)

// NewSession wraps conn (a connected TCP socket, or any ReadWriteCloser
// satisfying the session's transport needs — spec §1's "external
// collaborator" abstraction) in a Session of the given role.
func NewSession(name string, conn io.ReadWriteCloser, role Role) *Session {
	s := &Session{
		Base:          streamer.NewBase(name),
		conn:          conn,
		reader:        NewChunkReader(conn),
		writer:        NewChunkWriter(conn),
		neg:           newNegotiation(role),
		gopCache:      list.New(),
		gopCacheLimit: DefaultGopCacheLimit,
		bitrate:       bitrateCache{intervalMs: 1000},
	}
	return s
}

// AddOption supports "gop_cache_limit" (bytes), "gop_cache_disabled"
// ("true"/"false"); the IP allow-list is not a session option: it is set
// on the Server via SetAllowList (spec §6's AddOption contract is for
// simple scalar config only).
func (s *Session) AddOption(key string, value string) error {
	switch key {
	case "gop_cache_limit":
		var n int64
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
			return err
		}
		s.gopCacheLimit = n
		return nil
	case "gop_cache_disabled":
		s.gopDisabled = value == "true"
		return nil
	}
	return fmt.Errorf("rtmp: unknown option %q", key)
}

// StartNetwork runs the session's full lifecycle: handshake, then the
// read loop dispatching control/command/media messages, until the
// connection closes or a protocol violation occurs (spec §4.7/§4.8's
// combined state machine). url is unused for an already-connected
// transport; present to satisfy streamer.Streamer.
func (s *Session) StartNetwork(ctx context.Context, url string) error {
	if err := s.handshake(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := s.reader.ReadMessage()
		if err != nil {
			return err
		}

		if err := s.dispatch(msg); err != nil {
			s.Reporter().OnReport(s.Name(), "error", err.Error())
			if err == ErrProtocolViolation {
				return err
			}
		}
	}
}

// handshake runs the server or client side C0/C1/C2 exchange (spec §6),
// grounded on generateS0S1S2/generateC0C1/generateC2.
func (s *Session) handshake() error {
	if s.neg.role == RoleServer {
		c0c1 := make([]byte, 1+handshakeSize)
		if _, err := io.ReadFull(s.conn, c0c1); err != nil {
			return err
		}
		clientSig := c0c1[1:]

		resp := generateS0S1S2(clientSig)
		if _, err := s.conn.Write(resp); err != nil {
			return err
		}

		c2 := make([]byte, handshakeSize)
		if _, err := io.ReadFull(s.conn, c2); err != nil {
			return err
		}
		return nil
	}

	c0c1 := generateC0C1()
	if _, err := s.conn.Write(c0c1); err != nil {
		return err
	}

	s0s1s2 := make([]byte, 1+handshakeSize+handshakeSize)
	if _, err := io.ReadFull(s.conn, s0s1s2); err != nil {
		return err
	}
	s1 := s0s1s2[1 : 1+handshakeSize]

	c2 := generateC2(s1)
	_, err := s.conn.Write(c2)
	return err
}

// dispatch routes one reassembled Message to the control, command, or
// media handling path (spec §4.8's combined type_id switch).
func (s *Session) dispatch(msg *Message) error {
	s.bitrate.addBytes(len(msg.Payload), nowMs())

	switch msg.TypeID {
	case TypeSetChunkSize:
		s.reader.SetChunkSize(parseSetChunkSize(msg.Payload))
		return nil
	case TypeWindowAckSize:
		return nil
	case TypeAck, TypeAbort, TypeUserControl:
		return nil
	case TypeCommandAMF0:
		return s.dispatchCommand(msg)
	case TypeDataAMF0:
		return s.dispatchData(msg)
	case TypeAudio:
		return s.dispatchMedia(msg, mediapacket.MediaAudio)
	case TypeVideo:
		return s.dispatchMedia(msg, mediapacket.MediaVideo)
	}
	return nil
}

func (s *Session) dispatchCommand(msg *Message) error {
	cmd, err := decodeCommand(msg.Payload)
	if err != nil {
		return err
	}

	if s.neg.role == RoleServer {
		if cmd.Name == "publish" && s.publishGate != nil {
			accepted, streamID := s.publishGate(s.neg.app, cmd.StreamName, s.remoteIP)
			if !accepted {
				deny := &Message{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, Payload: buildOnStatus(
					"error", "NetStream.Publish.BadName", "Invalid stream key provided")}
				return s.writer.WriteMessage(deny)
			}
			s.coordinatorStreamID = streamID
		}

		responses, err := s.neg.advanceServer(cmd)
		if err != nil {
			return err
		}
		for _, r := range responses {
			if err := s.writer.WriteMessage(r); err != nil {
				return err
			}
		}
		if cmd.Name == "publish" {
			s.Reporter().OnReport(s.Name(), "publish", s.neg.streamName)
		}
		if cmd.Name == "play" {
			s.Reporter().OnReport(s.Name(), "play", s.neg.streamName)
			s.replayGopCache()
		}
		return nil
	}

	s.neg.advanceClient(cmd)
	return nil
}

// dispatchData handles AMF0 data messages (onMetaData and similar,
// spec §4.8), forwarding metadata as a report rather than a MediaPacket
// since it carries no elementary-stream payload.
func (s *Session) dispatchData(msg *Message) error {
	values, err := amf.DecodeAll(msg.Payload)
	if err != nil || len(values) == 0 {
		return nil
	}
	if values[0].GetString() == "onMetaData" {
		s.Reporter().OnReport(s.Name(), "metadata", "onMetaData")
	}
	return nil
}

// dispatchMedia turns an audio/video Message into a MediaPacket and
// broadcasts it to sinkers, while feeding the GOP cache (spec §4.8's
// "media messages are broadcast to sinkers after reassembly").
func (s *Session) dispatchMedia(msg *Message, mt mediapacket.MediaType) error {
	pkt := mediapacket.New()
	pkt.MediaType = mt
	pkt.Format = mediapacket.FormatRTMP
	pkt.DTS = msg.Timestamp
	pkt.PTS = msg.Timestamp
	pkt.Payload.Append(msg.Payload)

	if mt == mediapacket.MediaVideo && len(msg.Payload) > 0 {
		frameType := msg.Payload[0] >> 4
		codecID := msg.Payload[0] & 0x0F
		pkt.IsKeyFrame = frameType == 1
		switch codecID {
		case 7:
			pkt.Codec = mediapacket.CodecH264
		case 12:
			pkt.Codec = mediapacket.CodecH265
		}
		s.videoCodec = pkt.Codec
		if len(msg.Payload) > 1 {
			pkt.IsSeqHdr = msg.Payload[1] == 0
		}
		if pkt.IsSeqHdr {
			s.avcSequenceHeader = append([]byte(nil), msg.Payload...)
		}
	}
	if mt == mediapacket.MediaAudio && len(msg.Payload) > 0 {
		soundFormat := msg.Payload[0] >> 4
		switch soundFormat {
		case 10:
			pkt.Codec = mediapacket.CodecAAC
		case 13:
			pkt.Codec = mediapacket.CodecOpus
		}
		s.audioCodec = pkt.Codec
		if len(msg.Payload) > 1 {
			pkt.IsSeqHdr = soundFormat == 10 && msg.Payload[1] == 0
		}
		if pkt.IsSeqHdr {
			s.aacSequenceHeader = append([]byte(nil), msg.Payload...)
		}
	}

	s.cacheGop(msg, pkt.IsKeyFrame)
	s.Broadcast(pkt)
	return nil
}

// Source accepts a MediaPacket (when this session is acting as an egress
// sink fed by another Streamer, e.g. a play session relaying from a
// publish session) and writes it over the wire as an RTMP media message
// (spec §9's direction note).
func (s *Session) Source(pkt *mediapacket.MediaPacket) (int, error) {
	typeID := byte(TypeAudio)
	csid := uint32(CSIDAudio)
	if pkt.MediaType == mediapacket.MediaVideo {
		typeID = TypeVideo
		csid = CSIDVideo
	}

	msg := &Message{
		CSID:      csid,
		TypeID:    typeID,
		StreamID:  s.neg.streamID,
		Timestamp: pkt.DTS,
		Payload:   pkt.Payload.Data(),
	}

	if err := s.writer.WriteMessage(msg); err != nil {
		return -1, err
	}
	return len(msg.Payload), nil
}

// cacheGop appends msg to the GOP cache, trimming from the front once the
// configured size limit is exceeded, and clearing entirely on a new
// keyframe (spec's supplemented GOP-cache feature, grounded on the
// teacher's rtmp_session.go onReceiveVideo/onReceiveAudio GOP logic).
func (s *Session) cacheGop(msg *Message, isKeyFrame bool) {
	if s.gopDisabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if isKeyFrame {
		s.gopCache.Init()
		s.gopCacheSize = 0
	}

	cp := &cachedPacket{msg: msg, size: int64(len(msg.Payload)), isKeyFrame: isKeyFrame}
	s.gopCache.PushBack(cp)
	s.gopCacheSize += cp.size

	for s.gopCacheSize > s.gopCacheLimit && s.gopCache.Len() > 0 {
		front := s.gopCache.Front()
		cp := front.Value.(*cachedPacket)
		s.gopCacheSize -= cp.size
		s.gopCache.Remove(front)
	}
}

// replayGopCache sends every cached packet to a newly-joined player so it
// can render from the last keyframe rather than waiting for the next one
// (spec's GOP-cache supplement).
func (s *Session) replayGopCache() {
	s.mu.Lock()
	msgs := make([]*Message, 0, s.gopCache.Len())
	for e := s.gopCache.Front(); e != nil; e = e.Next() {
		msgs = append(msgs, e.Value.(*cachedPacket).msg)
	}
	s.mu.Unlock()

	for _, m := range msgs {
		if err := s.writer.WriteMessage(m); err != nil {
			s.Reporter().OnReport(s.Name(), "error", err.Error())
			return
		}
	}
}

// Connect runs the client-side connect/createStream/publish-or-play
// handshake choreography after the RTMP handshake completes (spec's
// client-initiate role). publish=true sends publish(streamName); false
// sends play(streamName).
func (s *Session) Connect(app string, tcURL string, streamName string, publish bool) error {
	if err := s.handshake(); err != nil {
		return err
	}

	connectMsg := &Message{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, Payload: buildConnectCommand(1, app, tcURL, "FMLE/3.0")}
	if err := s.writer.WriteMessage(connectMsg); err != nil {
		return err
	}

	createMsg := &Message{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, Payload: buildCreateStreamCommand(2)}
	if err := s.writer.WriteMessage(createMsg); err != nil {
		return err
	}

	var payload []byte
	if publish {
		s.neg.direction = DirectionEgress
		payload = buildPublishCommand(3, streamName, "live")
	} else {
		s.neg.direction = DirectionIngest
		payload = buildPlayCommand(3, streamName)
	}
	s.neg.streamName = streamName

	return s.writer.WriteMessage(&Message{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, StreamID: s.neg.streamID, Payload: payload})
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// App returns the "app" argument from the connect command (the streaming
// channel in the teacher's vocabulary).
func (s *Session) App() string { return s.neg.app }

// StreamName returns the publish/play stream name/key.
func (s *Session) StreamName() string { return s.neg.streamName }

// SetRemoteIP records the peer address for use by SetPublishGate, set by
// the server's accept loop (grounded on the teacher's s.ip, populated once
// per RTMPSession in rtmp_server.go's OnConnection).
func (s *Session) SetRemoteIP(ip string) { s.remoteIP = ip }

// SetPublishGate installs the coordinator (or any other) publish-approval
// hook, consulted on every "publish" command before it is accepted
// (grounded on rtmp_session.go's HandlePublish coordinator branch).
func (s *Session) SetPublishGate(gate PublishGate) { s.publishGate = gate }

// CoordinatorStreamID returns the stream id a publish gate returned (empty
// if no gate is installed or none was returned), used to report PublishEnd
// back to the coordinator with the matching id (rtmp_publisher.go's
// PublishEnd(s.channel, s.stream_id) call).
func (s *Session) CoordinatorStreamID() string { return s.coordinatorStreamID }

// Kill forcibly closes the underlying transport, ending the session's
// StartNetwork read loop (grounded on the teacher's RTMPSession.Kill,
// rtmp_session.go).
func (s *Session) Kill() {
	s.conn.Close()
}
