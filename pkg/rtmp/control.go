package rtmp

import "encoding/binary"

// buildSetChunkSize is grounded on the teacher's SetChunkSize
// (rtmp_session_utils.go): a protocol-control message (csid 2, type 1)
// carrying the new chunk size as a 4-byte big-endian value.
func buildSetChunkSize(size uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, size)
	return &Message{CSID: CSIDProtocol, TypeID: TypeSetChunkSize, Payload: payload}
}

// buildWindowAckSize is grounded on SendWindowACK.
func buildWindowAckSize(size uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, size)
	return &Message{CSID: CSIDProtocol, TypeID: TypeWindowAckSize, Payload: payload}
}

// buildSetPeerBandwidth is grounded on SetPeerBandwidth(size, limitType).
func buildSetPeerBandwidth(size uint32, limitType byte) *Message {
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload[0:4], size)
	payload[4] = limitType
	return &Message{CSID: CSIDProtocol, TypeID: TypeSetPeerBandwidth, Payload: payload}
}

// buildAck is grounded on SendACK.
func buildAck(size uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, size)
	return &Message{CSID: CSIDProtocol, TypeID: TypeAck, Payload: payload}
}

// buildUserControl is grounded on SendStreamStatus: a 2-byte event type
// followed by a 4-byte event-specific value.
func buildUserControl(eventType uint16, value uint32) *Message {
	payload := make([]byte, 6)
	binary.BigEndian.PutUint16(payload[0:2], eventType)
	binary.BigEndian.PutUint32(payload[2:6], value)
	return &Message{CSID: CSIDProtocol, TypeID: TypeUserControl, Payload: payload}
}

func parseSetChunkSize(payload []byte) uint32 {
	if len(payload) < 4 {
		return DefaultChunkSize
	}
	return binary.BigEndian.Uint32(payload[0:4])
}

func parseWindowAckSize(payload []byte) uint32 {
	if len(payload) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(payload[0:4])
}

// Phase enumerates the connect/createStream/publish-or-play choreography
// (spec §4.8 "Server-side state machine" and "Client-side state machine").
type Phase int

const (
	PhaseHandshake Phase = iota
	PhaseConnect
	PhaseCreateStream
	PhasePublishOrPlay
	PhaseStreaming
)

// Role distinguishes which end of the handshake/command exchange this
// session plays (spec §9 design note: "all four combinations of
// client/server x ingest/egress must be supported").
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Direction says which way media flows once PhaseStreaming is reached: a
// publish (ingest, sinkers fed via Broadcast) or a play (egress, fed via
// Source calls), per spec §9's "abstract streamer direction" note.
type Direction int

const (
	DirectionIngest Direction = iota
	DirectionEgress
)

// negotiation tracks the phase state machine for one session, grounded on
// the teacher's rtmp_session.go OnInvokeCommand dispatch (switch on cmd
// name: connect/createStream/publish/play/deleteStream).
type negotiation struct {
	phase          Phase
	role           Role
	direction      Direction
	app            string
	streamName     string
	streamID       uint32
	objectEncoding float64
	hasObjectEnc   bool
}

func newNegotiation(role Role) *negotiation {
	return &negotiation{phase: PhaseHandshake, role: role, streamID: 1}
}

// advanceServer handles one decoded command while acting as the server
// (spec §4.8 scenario: connect -> createStream -> publish|play), returning
// response messages to be chunk-written back to the client.
func (n *negotiation) advanceServer(cmd *Command) ([]*Message, error) {
	switch cmd.Name {
	case "connect":
		if cmd.CmdObject != nil {
			n.app = cmd.CmdObject.GetProperty("app").GetString()
			oe := cmd.CmdObject.GetProperty("objectEncoding")
			if oe != nil {
				n.objectEncoding = oe.GetDouble()
				n.hasObjectEnc = true
			}
		}
		n.phase = PhaseConnect
		msgs := []*Message{
			{CSID: CSIDProtocol, TypeID: TypeWindowAckSize, Payload: buildWindowAckSize(DefaultWindowAckSize).Payload},
			{CSID: CSIDProtocol, TypeID: TypeSetPeerBandwidth, Payload: buildSetPeerBandwidth(DefaultPeerBandwidth, PeerBandwidthDynamic).Payload},
			{CSID: CSIDProtocol, TypeID: TypeSetChunkSize, Payload: buildSetChunkSize(ServerOutChunkSize).Payload},
			{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, Payload: buildConnectResult(cmd.TransactionID, n.objectEncoding, n.hasObjectEnc)},
		}
		return msgs, nil

	case "createStream":
		n.phase = PhaseCreateStream
		return []*Message{
			{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, Payload: buildCreateStreamResult(cmd.TransactionID, int64(n.streamID))},
		}, nil

	case "publish":
		n.streamName = cmd.StreamName
		n.direction = DirectionIngest
		n.phase = PhasePublishOrPlay
		msg := &Message{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, Payload: buildOnStatus("status", "NetStream.Publish.Start", n.streamName+" is now published.")}
		return []*Message{msg}, nil

	case "play":
		n.streamName = cmd.StreamName
		n.direction = DirectionEgress
		n.phase = PhasePublishOrPlay
		msgs := []*Message{
			{CSID: CSIDProtocol, TypeID: TypeUserControl, Payload: buildUserControl(UserControlStreamBegin, n.streamID).Payload},
			{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, Payload: buildOnStatus("status", "NetStream.Play.Reset", "Playing and resetting "+n.streamName+".")},
			{CSID: CSIDInvoke, TypeID: TypeCommandAMF0, Payload: buildOnStatus("status", "NetStream.Play.Start", "Started playing "+n.streamName+".")},
			{CSID: CSIDData, TypeID: TypeDataAMF0, Payload: buildSampleAccess()},
		}
		return msgs, nil

	case "deleteStream", "closeStream":
		n.phase = PhaseConnect
		return nil, nil
	}

	return nil, nil
}

// advanceClient handles a server response while acting as the client,
// driving the client-side choreography (spec §4.8's mirrored client state
// machine, new per the toolkit's client-role support).
func (n *negotiation) advanceClient(cmd *Command) {
	switch cmd.Name {
	case "_result":
		switch n.phase {
		case PhaseHandshake, PhaseConnect:
			n.phase = PhaseCreateStream
		case PhaseCreateStream:
			if cmd.Extra != nil {
				// no-op: stream id already assumed to be 1 for the
				// single-stream client model this toolkit targets.
			}
			n.phase = PhasePublishOrPlay
		}
	case "onStatus":
		n.phase = PhaseStreaming
	}
}
