// Package buffer implements a growable byte region with prepend headroom,
// the shared primitive every other component in this toolkit builds on for
// zero-copy append and consume-from-head (spec component C1).
//
// It is grounded on cpp_streamer's DataBuffer (src/utils/data_buffer.hpp):
// a single contiguous allocation with start/end cursors, a fixed front pad
// reserved on every allocation so headers can be prepended without
// reallocating, and a size-class growth schedule that amortizes repeated
// small appends.
package buffer

const (
	// ExtraLen is the default extra capacity requested on growth, matching
	// DataBuffer's EXTRA_LEN.
	ExtraLen = 10 * 1024

	// PreReserveHeaderSize is the fixed front pad reserved on every fresh
	// allocation, matching DataBuffer's PRE_RESERVE_HEADER_SIZE.
	PreReserveHeaderSize = 200
)

// Buffer is a growable byte region with start/end cursors into a single
// backing array. Invariant: 0 <= start <= end <= cap(data).
type Buffer struct {
	data  []byte
	start int
	end   int
}

// New allocates a Buffer with the given initial capacity (not counting the
// reserved front pad).
func New(size int) *Buffer {
	if size <= 0 {
		size = ExtraLen
	}
	b := &Buffer{
		data: make([]byte, size+PreReserveHeaderSize),
	}
	b.start = PreReserveHeaderSize
	b.end = PreReserveHeaderSize
	return b
}

// Len reports the number of readable bytes currently held.
func (b *Buffer) Len() int {
	return b.end - b.start
}

// Data returns the current readable slice (no copy).
func (b *Buffer) Data() []byte {
	return b.data[b.start:b.end]
}

// Require reports whether at least n bytes are available to read.
func (b *Buffer) Require(n int) bool {
	return n <= b.Len()
}

// Reset returns both cursors to the initial pad, discarding all data
// without reallocating.
func (b *Buffer) Reset() {
	b.start = PreReserveHeaderSize
	b.end = PreReserveHeaderSize
}

// Append copies p onto the tail of the buffer, growing the backing array
// using the size-class schedule when needed.
func (b *Buffer) Append(p []byte) int {
	if len(p) == 0 {
		return b.Len()
	}

	avail := len(b.data) - PreReserveHeaderSize
	if b.end+len(p) > len(b.data) {
		dataLen := b.Len()
		if dataLen+len(p) >= avail {
			// Doesn't fit even after compaction: reallocate.
			newLen := growSize(dataLen + len(p) + ExtraLen)
			newData := make([]byte, newLen)
			copy(newData[PreReserveHeaderSize:], b.data[b.start:b.end])
			copy(newData[PreReserveHeaderSize+dataLen:], p)
			b.data = newData
			b.start = PreReserveHeaderSize
			b.end = b.start + dataLen + len(p)
			return b.Len()
		}

		// Fits after sliding existing data back to the front pad.
		copy(b.data[PreReserveHeaderSize:], b.data[b.start:b.end])
		copy(b.data[PreReserveHeaderSize+dataLen:], p)
		b.start = PreReserveHeaderSize
		b.end = b.start + dataLen + len(p)
		return b.Len()
	}

	copy(b.data[b.end:], p)
	b.end += len(p)
	return b.Len()
}

// Consume advances start by n, returning the new readable slice. A negative
// n is legal as long as start+n does not go below the reserved pad: this is
// how callers prepend small headers into the reserved headroom after the
// fact (e.g. RTMP chunk headers written just before their payload).
func (b *Buffer) Consume(n int) []byte {
	if n > b.Len() {
		return nil
	}
	if n < 0 && b.start+n < 0 {
		return nil
	}
	b.start += n
	if n < 0 {
		// Prepending: caller is expected to fill the newly exposed region
		// via Data()/direct writes before reading again.
	}
	return b.data[b.start:b.end]
}

// HeaderRoom reports how many bytes remain available for Consume(-n) style
// prepend operations.
func (b *Buffer) HeaderRoom() int {
	return b.start
}

func growSize(n int) int {
	switch {
	case n <= 50*1024:
		return 50 * 1024
	case n <= 100*1024:
		return 100 * 1024
	case n <= 200*1024:
		return 200 * 1024
	case n <= 500*1024:
		return 500 * 1024
	default:
		return n + 10*1024
	}
}
