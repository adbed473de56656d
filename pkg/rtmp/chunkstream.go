package rtmp

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrProtocolViolation is returned when a chunk stream transition isn't
// permitted (spec §7 "ProtocolViolation... session is closed").
var ErrProtocolViolation = errors.New("rtmp: protocol violation")

// Message is one fully reassembled RTMP message: a control message or a
// media/command message (spec §3 "RTMP chunk stream").
type Message struct {
	CSID     uint32
	TypeID   byte
	StreamID uint32
	Timestamp int64 // milliseconds, absolute
	Payload  []byte
}

// chunkStreamContext is the per-chunk-stream-id state (spec §3): fmt,
// csid, timestamp32/timestamp_delta, msg_len, type_id, msg_stream_id,
// remain, chunk_ready, and the accumulating payload.
type chunkStreamContext struct {
	fmt          byte
	csid         uint32
	timestamp    int64 // absolute, reconstructed
	delta        int64
	msgLen       uint32
	typeID       byte
	msgStreamID  uint32
	payload      []byte
	firstFmt3    bool // true until the first fmt-3 chunk of a brand-new message is seen
}

// ChunkReader reassembles RTMP chunks read from r into Messages, tracking
// one chunkStreamContext per csid (spec §4.7 "Receive state machine").
type ChunkReader struct {
	r         io.Reader
	chunkSize uint32
	contexts  map[uint32]*chunkStreamContext

	bytesRead uint32
}

// NewChunkReader wraps r, starting at the default chunk size (spec §3:
// "default 128").
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{
		r:         r,
		chunkSize: DefaultChunkSize,
		contexts:  map[uint32]*chunkStreamContext{},
	}
}

// SetChunkSize applies a SET_CHUNK_SIZE control message atomically between
// messages (spec §3: "Session negotiates a single chunk_size per
// direction; control message SET_CHUNK_SIZE updates it atomically between
// messages").
func (c *ChunkReader) SetChunkSize(n uint32) {
	c.chunkSize = n
}

// BytesRead reports the running total of bytes consumed from the
// transport. Session does not consult it: no ACK is sent for received
// bytes.
func (c *ChunkReader) BytesRead() uint32 { return c.bytesRead }

// ReadMessage blocks until one full RTMP message has been reassembled
// (spec §4.7's HEADER -> PAYLOAD -> HEADER loop, spanning as many chunks
// as needed).
func (c *ChunkReader) ReadMessage() (*Message, error) {
	for {
		ctx, err := c.readHeader()
		if err != nil {
			return nil, err
		}

		if err := c.readPayloadChunk(ctx); err != nil {
			return nil, err
		}

		if uint32(len(ctx.payload)) >= ctx.msgLen {
			msg := &Message{
				CSID:      ctx.csid,
				TypeID:    ctx.typeID,
				StreamID:  ctx.msgStreamID,
				Timestamp: ctx.timestamp,
				Payload:   ctx.payload,
			}
			ctx.payload = nil
			return msg, nil
		}
	}
}

// readHeader parses the basic header (1/2/3 bytes) and the fmt-specific
// message header (11/7/3/0 bytes), updating (or creating) the csid's
// context (spec §3, §4.7).
func (c *ChunkReader) readHeader() (*chunkStreamContext, error) {
	first, err := c.readByte()
	if err != nil {
		return nil, err
	}

	fmtID := first >> 6
	basicLow := first & 0x3F

	var csid uint32
	switch basicLow {
	case 0:
		b, err := c.readByte()
		if err != nil {
			return nil, err
		}
		csid = 64 + uint32(b)
	case 1:
		b0, err := c.readByte()
		if err != nil {
			return nil, err
		}
		b1, err := c.readByte()
		if err != nil {
			return nil, err
		}
		csid = 64 + uint32(b0) + uint32(b1)<<8
	default:
		csid = uint32(basicLow)
	}

	ctx, ok := c.contexts[csid]
	if !ok {
		ctx = &chunkStreamContext{csid: csid}
		c.contexts[csid] = ctx
	}

	isNewMessage := len(ctx.payload) == 0
	ctx.fmt = fmtID

	headerSize := chunkHeaderSize[fmtID]
	header, err := c.readN(headerSize)
	if err != nil {
		return nil, err
	}

	switch fmtID {
	case FmtType0:
		ts := uint32(header[0])<<16 | uint32(header[1])<<8 | uint32(header[2])
		ctx.msgLen = uint32(header[3])<<16 | uint32(header[4])<<8 | uint32(header[5])
		ctx.typeID = header[6]
		ctx.msgStreamID = binary.LittleEndian.Uint32(header[7:11])

		ext, err := c.readExtendedTimestampIfNeeded(ts)
		if err != nil {
			return nil, err
		}
		ctx.timestamp = int64(ext)
		ctx.delta = 0
		ctx.firstFmt3 = true

	case FmtType1:
		delta := uint32(header[0])<<16 | uint32(header[1])<<8 | uint32(header[2])
		ctx.msgLen = uint32(header[3])<<16 | uint32(header[4])<<8 | uint32(header[5])
		ctx.typeID = header[6]

		ext, err := c.readExtendedTimestampIfNeeded(delta)
		if err != nil {
			return nil, err
		}
		ctx.delta = int64(ext)
		ctx.timestamp += ctx.delta
		ctx.firstFmt3 = true

	case FmtType2:
		delta := uint32(header[0])<<16 | uint32(header[1])<<8 | uint32(header[2])

		ext, err := c.readExtendedTimestampIfNeeded(delta)
		if err != nil {
			return nil, err
		}
		ctx.delta = int64(ext)
		ctx.timestamp += ctx.delta
		ctx.firstFmt3 = true

	case FmtType3:
		// Extended timestamp continuation: fmt-3 chunks of a message whose
		// fmt 0/1/2 header declared one repeat the 4-byte field (spec
		// §4.7's "...and on subsequent fmt=3 continuation chunks of the
		// same message").
		if ctx.timestamp >= 0xFFFFFF || ctx.delta >= 0xFFFFFF {
			ext, err := c.readN(4)
			if err != nil {
				return nil, err
			}
			_ = ext // value re-derivable; the running timestamp is already tracked
		}

		// The first fmt-3 chunk following a fmt 0/1/2 header never adds a
		// new delta (the header's own delta already applied), regardless
		// of whether that first fmt-3 chunk is itself a continuation
		// fragment or opens the next message. The flag must therefore
		// clear unconditionally here, not only when isNewMessage happens
		// to be true, or it stays stale into a following fmt-3-only
		// message on the same chunk stream (spec §4.7).
		wasFirstFmt3 := ctx.firstFmt3
		ctx.firstFmt3 = false

		switch {
		case wasFirstFmt3:
			// Delta from the preceding fmt 0/1/2 header already applied.
		case !isNewMessage:
			// fmt-3 continuing mid-message: no new delta.
		default:
			// fmt-3 opening a message with no prior fmt 0/1/2 on this csid
			// inherits the previous delta (spec §4.7: "fmt 3 inherits the
			// previous delta").
			ctx.timestamp += ctx.delta
		}
	}

	return ctx, nil
}

// readExtendedTimestampIfNeeded reads the 4-byte extended timestamp field
// when the 3-byte field equals 0xFFFFFF (spec §3, §6 "Extended
// timestamp").
func (c *ChunkReader) readExtendedTimestampIfNeeded(ts24 uint32) (uint32, error) {
	if ts24 != 0xFFFFFF {
		return ts24, nil
	}
	b, err := c.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// readPayloadChunk reads min(remain, chunk_size) bytes and appends them to
// the message buffer (spec §4.7 PAYLOAD state).
func (c *ChunkReader) readPayloadChunk(ctx *chunkStreamContext) error {
	remain := ctx.msgLen - uint32(len(ctx.payload))
	toRead := c.chunkSize
	if toRead > remain {
		toRead = remain
	}
	if toRead == 0 {
		return nil
	}

	b, err := c.readN(int(toRead))
	if err != nil {
		return err
	}
	ctx.payload = append(ctx.payload, b...)
	return nil
}

func (c *ChunkReader) readByte() (byte, error) {
	b, err := c.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *ChunkReader) readN(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(c.r, b); err != nil {
		return nil, err
	}
	c.bytesRead += uint32(n)
	return b, nil
}

// ChunkWriter serializes RTMP messages into fmt-0 + fmt-3 chunk streams
// (spec §4.7 "Send path").
type ChunkWriter struct {
	w         io.Writer
	chunkSize uint32
}

// NewChunkWriter wraps w, starting at the default chunk size.
func NewChunkWriter(w io.Writer) *ChunkWriter {
	return &ChunkWriter{w: w, chunkSize: DefaultChunkSize}
}

// SetChunkSize applies a local SET_CHUNK_SIZE.
func (c *ChunkWriter) SetChunkSize(n uint32) { c.chunkSize = n }

// WriteMessage emits a fmt-0 first chunk and fmt-3 continuation chunks
// until msg.Payload is exhausted (spec §4.7 "write(csid, ts, type_id,
// msg_stream_id, chunk_size, payload) emits a fmt-0 first chunk and fmt-3
// continuation chunks").
func (c *ChunkWriter) WriteMessage(msg *Message) error {
	basic := encodeBasicHeader(FmtType0, msg.CSID)
	basic3 := encodeBasicHeader(FmtType3, msg.CSID)

	useExtended := msg.Timestamp >= 0xFFFFFF

	header := make([]byte, 0, 11)
	ts24 := uint32(msg.Timestamp)
	if useExtended {
		ts24 = 0xFFFFFF
	}
	header = append(header, byte(ts24>>16), byte(ts24>>8), byte(ts24))
	header = append(header, byte(uint32(len(msg.Payload))>>16), byte(uint32(len(msg.Payload))>>8), byte(len(msg.Payload)))
	header = append(header, msg.TypeID)
	streamID := make([]byte, 4)
	binary.LittleEndian.PutUint32(streamID, msg.StreamID)
	header = append(header, streamID...)

	if _, err := c.w.Write(basic); err != nil {
		return err
	}
	if _, err := c.w.Write(header); err != nil {
		return err
	}
	if useExtended {
		extBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(extBytes, uint32(msg.Timestamp))
		if _, err := c.w.Write(extBytes); err != nil {
			return err
		}
	}

	payload := msg.Payload
	for len(payload) > 0 {
		n := len(payload)
		if uint32(n) > c.chunkSize {
			n = int(c.chunkSize)
		}
		if _, err := c.w.Write(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		if len(payload) == 0 {
			break
		}
		if _, err := c.w.Write(basic3); err != nil {
			return err
		}
		if useExtended {
			extBytes := make([]byte, 4)
			binary.BigEndian.PutUint32(extBytes, uint32(msg.Timestamp))
			if _, err := c.w.Write(extBytes); err != nil {
				return err
			}
		}
	}

	return nil
}

func encodeBasicHeader(fmtID byte, csid uint32) []byte {
	switch {
	case csid >= 64+255:
		return []byte{fmtID << 6 | 1, byte(csid - 64), byte((csid - 64) >> 8)}
	case csid >= 64:
		return []byte{fmtID << 6, byte(csid - 64)}
	default:
		return []byte{fmtID<<6 | byte(csid)}
	}
}
