package mpegts

// pesHeader carries the parsed subset of a PES header this toolkit needs
// (spec §4.4: "start-code 0x000001, stream-id, packet length, PTS/DTS
// flags...").
type pesHeader struct {
	StreamID  byte
	HasPTS    bool
	HasDTS    bool
	PTS       int64 // milliseconds
	DTS       int64 // milliseconds
	HeaderLen int   // total bytes consumed including the fixed 6-byte prefix
}

// parsePESHeader parses a PES header starting at the 0x00 0x00 0x01
// start-code. Returns nil if the start code doesn't match.
func parsePESHeader(data []byte) *pesHeader {
	if len(data) < 9 || data[0] != 0x00 || data[1] != 0x00 || data[2] != 0x01 {
		return nil
	}

	h := &pesHeader{StreamID: data[3]}

	ptsDtsFlags := (data[7] >> 6) & 0x03
	pesHeaderDataLen := int(data[8])

	h.HeaderLen = 9 + pesHeaderDataLen

	cursor := 9
	if ptsDtsFlags&0x02 != 0 && len(data) >= cursor+5 {
		h.HasPTS = true
		h.PTS = int64(read33BitTimestamp(data[cursor:cursor+5])) / 90
		cursor += 5
	}
	if ptsDtsFlags&0x01 != 0 && len(data) >= cursor+5 {
		h.HasDTS = true
		h.DTS = int64(read33BitTimestamp(data[cursor:cursor+5])) / 90
		cursor += 5
	}

	return h
}

// read33BitTimestamp reconstructs a 33-bit PTS/DTS value from its 5-byte
// marker-bit layout (spec §4.4).
func read33BitTimestamp(b []byte) uint64 {
	v := uint64(b[0]&0x0E) << 29
	v |= uint64(b[1]) << 22
	v |= uint64(b[2]&0xFE) << 14
	v |= uint64(b[3]) << 7
	v |= uint64(b[4]&0xFE) >> 1
	return v
}

// write33BitTimestamp encodes a millisecond timestamp into the 5-byte
// marker-bit layout, prefixed with the given 4-bit marker (0x02 for PTS
// only, 0x03/0x01 for PTS/DTS pairs per the standard).
func write33BitTimestamp(ms int64, marker byte) []byte {
	ticks := uint64(ms) * 90

	out := make([]byte, 5)
	out[0] = (marker << 4) | byte((ticks>>29)&0x0E) | 0x01
	out[1] = byte(ticks >> 22)
	out[2] = byte((ticks>>14)&0xFE) | 0x01
	out[3] = byte(ticks >> 7)
	out[4] = byte((ticks<<1)&0xFE) | 0x01
	return out
}

// buildPESHeader constructs a PES header carrying PTS, and DTS when it
// differs from PTS (video only; spec §4.5 "wrap the elementary payload...
// with a PES header carrying PTS and (for video) DTS").
func buildPESHeader(streamID byte, pts int64, dts int64, hasDTS bool) []byte {
	var flags byte
	var payload []byte

	if hasDTS {
		flags = 0xC0
		payload = append(payload, write33BitTimestamp(pts, 0x03)...)
		payload = append(payload, write33BitTimestamp(dts, 0x01)...)
	} else {
		flags = 0x80
		payload = append(payload, write33BitTimestamp(pts, 0x02)...)
	}

	header := []byte{0x00, 0x00, 0x01, streamID, 0x00, 0x00, 0x80, flags, byte(len(payload))}
	return append(header, payload...)
}
