// Package rtmp implements the RTMP chunk-stream state machine (spec
// component C9) and the control/command negotiation layer (spec component
// C10): handshake, SET_CHUNK_SIZE/WINDOW_ACK_SIZE/SET_PEER_BANDWIDTH
// control messages, and the connect/createStream/publish/play command
// choreography for both server-accept and client-initiate roles.
//
// Grounded directly on the teacher's rtmp_packet.go, handshake.go,
// rtmp_session.go, rtmp_session_utils.go, rtmp_utils.go and av.go,
// restructured from a single flat package main (net.Conn baked in
// directly) into a package driven by an abstract transport (spec §1: "a
// byte-level TCP client with connect/send/recv/close callbacks" is an
// external collaborator) so the chunk-stream/command layer is reusable
// over any io.ReadWriteCloser, not only a live TCP socket.
package rtmp

// Chunk format (fmt) values (spec §4.7 "1/2/3 bytes encoding fmt in
// 0..3, csid").
const (
	FmtType0 = 0 // 11-byte message header: timestamp + length + type + stream id
	FmtType1 = 1 // 7-byte message header: delta + length + type
	FmtType2 = 2 // 3-byte message header: delta only
	FmtType3 = 3 // 0-byte message header: continuation
)

// Predeclared chunk stream ids, matching the teacher's RTMP_CHANNEL_*
// constants.
const (
	CSIDProtocol = 2
	CSIDInvoke   = 3
	CSIDAudio    = 4
	CSIDVideo    = 5
	CSIDData     = 6
)

// Message type ids (spec §4.8 "Control messages (type_id 1..6)... Command
// messages (AMF0, type_id 20; AMF3 type_id 17...)").
const (
	TypeSetChunkSize     = 1
	TypeAbort            = 2
	TypeAck              = 3
	TypeUserControl      = 4
	TypeWindowAckSize    = 5
	TypeSetPeerBandwidth = 6
	TypeAudio            = 8
	TypeVideo            = 9
	TypeFlexStream       = 15
	TypeDataAMF0         = 18
	TypeFlexObject       = 16
	TypeSharedObject     = 19
	TypeFlexMessage      = 17
	TypeCommandAMF0      = 20
	TypeAggregate        = 22
)

// User control event types (spec §4.8 "USER_CONTROL (StreamBegin,
// StreamRecorded)").
const (
	UserControlStreamBegin    = 0x00
	UserControlStreamEOF      = 0x01
	UserControlStreamDry      = 0x02
	UserControlStreamRecorded = 0x04
	UserControlPingRequest    = 0x06
	UserControlPingResponse   = 0x07
)

// DefaultChunkSize is the negotiable per-session chunk size before
// SET_CHUNK_SIZE is exchanged (spec §3 "default 128").
const DefaultChunkSize = 128

// ServerOutChunkSize is the chunk size the server requests after connect
// (spec §4.8 state machine: "SetChunkSize=4096").
const ServerOutChunkSize = 4096

// DefaultWindowAckSize is the window acknowledgement size the server
// announces right after connect.
const DefaultWindowAckSize = 2500000

// DefaultPeerBandwidth matches SetPeerBandwidth's size argument.
const DefaultPeerBandwidth = 2500000

// PeerBandwidthDynamic is the "limit type" byte sent with
// SET_PEER_BANDWIDTH (2 = dynamic, per the teacher's SetPeerBandwidth(..,
// 2) call sites).
const PeerBandwidthDynamic = 2

const rtmpVersion = 3
const handshakeSize = 1536

var chunkHeaderSize = [4]int{11, 7, 3, 0}
