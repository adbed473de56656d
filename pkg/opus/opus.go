// Package opus implements the self-delimited Opus access-unit parser
// (spec component C5): it splits a concatenated stream of Opus access
// units (each optionally prefixed with an "opus control header") into
// individual TOC-framed packets, and builds the OpusHead extradata used to
// announce a stream's clock rate and channel count.
//
// Grounded on _examples/original_source/src/format/opus_header.cpp
// (GetOpusHeader/GetOpusFrame/xiph_lacing_16bit/xiph_lacing_full) — no Go
// example in the corpus touches Opus, so the C++ original is the sole
// grounding source, per the task's explicit allowance for original_source
// when a Go example is absent.
package opus

import (
	"encoding/binary"
	"errors"
)

// ErrMalformed is returned on any framing violation (spec §4.3/§8).
var ErrMalformed = errors.New("opus: malformed access unit")

// Frame is a span within the input referring to one Opus frame (spec §4.3
// "Output"). For code 0, and for the first frame of code 1, the span starts
// at and includes the packet's TOC byte; every other span (the second
// code-1 frame and all code-2 and code-3 frames) covers frame data only.
type Frame struct {
	Offset int
	Length int
}

// SplitAccessUnits walks a concatenated sequence of access units and
// returns every frame span found (see Frame).
func SplitAccessUnits(data []byte) ([]Frame, error) {
	var frames []Frame
	pos := 0

	for pos < len(data) {
		payloadStart, payloadLen, err := stripControlHeader(data, pos)
		if err != nil {
			return frames, err
		}

		fs, err := splitFrame(data, payloadStart, payloadLen)
		if err != nil {
			return frames, err
		}
		frames = append(frames, fs...)

		pos = payloadStart + payloadLen
	}

	return frames, nil
}

// stripControlHeader detects and skips an optional opus_control_header
// (spec §4.3), returning the offset/length of the undelimited packet that
// follows. If no control header is present, the whole remainder is
// returned as the payload.
func stripControlHeader(data []byte, pos int) (int, int, error) {
	remaining := len(data) - pos
	if remaining < 3 {
		return 0, 0, ErrMalformed
	}

	prefix := uint16(data[pos])<<8 | uint16(data[pos+1])
	if prefix&0xFFE0 != 0x7FE0 {
		// No control header: the rest of the buffer is one undelimited packet.
		return pos, remaining, nil
	}

	startTrim := (prefix >> 4) & 0x01
	endTrim := (prefix >> 3) & 0x01
	ctrlExt := (prefix >> 2) & 0x01

	i := pos + 2
	unitSize := int(data[i])
	i++

	for i < len(data) && data[i-1] == 0xFF {
		unitSize += int(data[i])
		i++
	}

	if startTrim != 0 {
		i += 2
	}
	if endTrim != 0 {
		i += 2
	}
	if ctrlExt != 0 {
		if i >= len(data) {
			return 0, 0, ErrMalformed
		}
		i += 1 + int(data[i])
	}

	if i+unitSize > len(data) {
		return 0, 0, ErrMalformed
	}

	return i, unitSize, nil
}

// xiphLacing16 reads a 1- or 2-byte Xiph-laced length.
func xiphLacing16(data []byte, pos *int, end int) (int, error) {
	if *pos >= end {
		return 0, ErrMalformed
	}
	val := int(data[*pos])
	*pos++
	if val >= 252 {
		if *pos >= end {
			return 0, ErrMalformed
		}
		val += 4 * int(data[*pos])
		*pos++
	}
	return val, nil
}

// xiphLacingFull reads a multi-byte Xiph-laced length (used for code-3
// packet padding size).
func xiphLacingFull(data []byte, pos *int, end int) (int, error) {
	val := 0
	for {
		if *pos >= end {
			return 0, ErrMalformed
		}
		next := int(data[*pos])
		*pos++
		val += next
		if next < 255 {
			break
		}
		val--
	}
	return val, nil
}

// splitFrame parses one undelimited Opus packet (TOC byte + payload) into
// its constituent frames per the code in the TOC's low 2 bits (spec §4.3).
func splitFrame(data []byte, offset int, length int) ([]Frame, error) {
	if length < 1 {
		return nil, ErrMalformed
	}

	end := offset + length
	toc := data[offset]
	p := offset + 1

	switch toc & 0x03 {
	case 0: // single frame
		return []Frame{{Offset: offset, Length: length}}, nil

	case 1: // two CBR frames, equal halves
		rem := length - 1
		if rem%2 != 0 {
			return nil, ErrMalformed
		}
		half := rem / 2
		// Frame 1 directly adjoins the TOC byte (no intervening header),
		// so its span naturally includes it; frame 2 is plain payload.
		return []Frame{
			{Offset: offset, Length: half + 1},
			{Offset: p + half, Length: half},
		}, nil

	case 2: // two frames, different sizes
		frameLen, err := xiphLacing16(data, &p, end)
		if err != nil || frameLen <= 0 {
			return nil, ErrMalformed
		}
		// The Xiph lacing byte(s) sit between the TOC and frame 1's data,
		// so neither frame's span includes the TOC.
		first := Frame{Offset: p, Length: frameLen}
		p += frameLen
		second := Frame{Offset: p, Length: end - p}
		return []Frame{first, second}, nil

	case 3: // 1..48 frames, possibly VBR, possibly padded
		if p >= end {
			return nil, ErrMalformed
		}
		index := int(data[p])
		p++

		frameCount := index & 0x3F
		padded := (index >> 6) & 0x01
		vbr := (index >> 7) & 0x01

		if frameCount <= 0 || frameCount > 48 {
			return nil, ErrMalformed
		}

		padding := 0
		if padded != 0 {
			var err error
			padding, err = xiphLacingFull(data, &p, end)
			if err != nil || padding < 0 {
				return nil, ErrMalformed
			}
		}

		var frames []Frame
		if vbr != 0 {
			sizes := make([]int, 0, frameCount-1)
			total := 0
			for i := 0; i < frameCount-1; i++ {
				frameLen, err := xiphLacing16(data, &p, end)
				if err != nil || frameLen < 0 {
					return nil, ErrMalformed
				}
				sizes = append(sizes, frameLen)
				total += frameLen
			}

			remaining := end - p - padding
			if total > remaining {
				return nil, ErrMalformed
			}

			// Frame data follows the lacing/padding header with no
			// per-frame TOC of its own (spec §8 "Σ = len − padding −
			// header_bytes − 1"); spans are plain payload chunks.
			for _, sz := range sizes {
				frames = append(frames, Frame{Offset: p, Length: sz})
				p += sz
			}
			lastLen := remaining - total
			frames = append(frames, Frame{Offset: p, Length: lastLen})
		} else {
			remaining := end - p - padding
			if frameCount == 0 || remaining%frameCount != 0 {
				return nil, ErrMalformed
			}
			frameLen := remaining / frameCount
			for i := 0; i < frameCount; i++ {
				frames = append(frames, Frame{Offset: p, Length: frameLen})
				p += frameLen
			}
		}

		return frames, nil
	}

	return nil, ErrMalformed
}

// BuildExtraData constructs the 19-byte "OpusHead" extradata announcing
// clockRate and channel count (spec §4.5 "audio extra-data"); grounded on
// GetOpusExtraData in the original.
func BuildExtraData(clockRate int, channels int) []byte {
	out := make([]byte, 19)
	copy(out[0:8], []byte("OpusHead"))
	out[8] = 1 // version
	out[9] = byte(channels)
	binary.LittleEndian.PutUint16(out[10:12], 0) // initial_padding
	binary.LittleEndian.PutUint32(out[12:16], uint32(clockRate))
	binary.LittleEndian.PutUint16(out[16:18], 0) // output gain
	out[18] = 0                                  // mapping family
	return out
}
