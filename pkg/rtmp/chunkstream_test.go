package rtmp

import (
	"bytes"
	"testing"
)

// TestChunkingIdempotence exercises spec §8's "RTMP chunking idempotence"
// property: re-chunking a message with a given chunk size and reassembling
// it yields the same message bytewise, for several chunk sizes and payload
// lengths (exercising both the even-split and remainder paths).
func TestChunkingIdempotence(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefghij"), 50) // 500 bytes

	for _, chunkSize := range []uint32{128, 64, 500, 4096} {
		msg := &Message{
			CSID:      3,
			TypeID:    20,
			StreamID:  1,
			Timestamp: 12345,
			Payload:   payload,
		}

		var buf bytes.Buffer
		w := NewChunkWriter(&buf)
		w.SetChunkSize(chunkSize)
		if err := w.WriteMessage(msg); err != nil {
			t.Fatalf("chunkSize=%d write error: %v", chunkSize, err)
		}

		r := NewChunkReader(&buf)
		r.SetChunkSize(chunkSize)
		got, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("chunkSize=%d read error: %v", chunkSize, err)
		}

		if got.TypeID != msg.TypeID || got.StreamID != msg.StreamID || got.Timestamp != msg.Timestamp {
			t.Fatalf("chunkSize=%d header mismatch: %+v", chunkSize, got)
		}
		if !bytes.Equal(got.Payload, payload) {
			t.Fatalf("chunkSize=%d payload mismatch: got %d bytes, want %d", chunkSize, len(got.Payload), len(payload))
		}
	}
}

func TestChunkingExtendedTimestamp(t *testing.T) {
	msg := &Message{
		CSID:      5,
		TypeID:    9,
		StreamID:  1,
		Timestamp: 0x01000000, // forces extended timestamp (>= 0xFFFFFF)
		Payload:   []byte("keyframe-bytes"),
	}

	var buf bytes.Buffer
	w := NewChunkWriter(&buf)
	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("write error: %v", err)
	}

	r := NewChunkReader(&buf)
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if got.Timestamp != msg.Timestamp {
		t.Fatalf("timestamp mismatch: got %d want %d", got.Timestamp, msg.Timestamp)
	}
	if !bytes.Equal(got.Payload, msg.Payload) {
		t.Fatalf("payload mismatch")
	}
}

// TestFmt3OpensMessageAfterMultiChunkPredecessor exercises spec §4.7's
// "fmt 3 inherits the previous delta" rule for a fmt-3-only message that
// directly follows a message which itself spanned multiple chunks on the
// same csid. The delta applied by the fmt-1 header of the middle message
// must still be available once that message's fmt-3 continuation chunk
// has been consumed.
func TestFmt3OpensMessageAfterMultiChunkPredecessor(t *testing.T) {
	var buf bytes.Buffer

	// msg A: fmt0, csid=4, ts=100, single chunk.
	buf.Write([]byte{0x04, 0, 0, 100, 0, 0, 5, 8, 1, 0, 0, 0})
	buf.WriteString("AAAAA")

	// msg B: fmt1, csid=4, delta=50 (ts becomes 150), msgLen=20, split
	// across a fmt1 header chunk and one fmt3 continuation chunk.
	buf.Write([]byte{0x44, 0, 0, 50, 0, 0, 20, 8})
	buf.WriteString("BBBBBBBBBB")
	buf.Write([]byte{0xC4})
	buf.WriteString("CCCCCCCCCC")

	// msg C: fmt3-only, csid=4, inherits typeID/streamID/msgLen from B
	// and must inherit B's delta (50) too, landing at ts=200.
	buf.Write([]byte{0xC4})
	buf.WriteString("DDDDDDDDDD")
	buf.Write([]byte{0xC4})
	buf.WriteString("EEEEEEEEEE")

	r := NewChunkReader(&buf)
	r.SetChunkSize(10)

	msgA, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read msgA: %v", err)
	}
	if msgA.Timestamp != 100 {
		t.Fatalf("msgA timestamp: got %d want 100", msgA.Timestamp)
	}

	msgB, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read msgB: %v", err)
	}
	if msgB.Timestamp != 150 {
		t.Fatalf("msgB timestamp: got %d want 150", msgB.Timestamp)
	}

	msgC, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read msgC: %v", err)
	}
	if msgC.Timestamp != 200 {
		t.Fatalf("msgC timestamp: got %d want 200 (must inherit msgB's delta)", msgC.Timestamp)
	}
}

func TestTwoMessagesSameChunkStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewChunkWriter(&buf)

	msg1 := &Message{CSID: 3, TypeID: 8, StreamID: 1, Timestamp: 0, Payload: []byte("audio-1")}
	msg2 := &Message{CSID: 3, TypeID: 8, StreamID: 1, Timestamp: 40, Payload: []byte("audio-2")}

	if err := w.WriteMessage(msg1); err != nil {
		t.Fatalf("write msg1: %v", err)
	}
	if err := w.WriteMessage(msg2); err != nil {
		t.Fatalf("write msg2: %v", err)
	}

	r := NewChunkReader(&buf)
	got1, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read msg1: %v", err)
	}
	got2, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read msg2: %v", err)
	}

	if !bytes.Equal(got1.Payload, msg1.Payload) || !bytes.Equal(got2.Payload, msg2.Payload) {
		t.Fatalf("payload mismatch across messages: %q / %q", got1.Payload, got2.Payload)
	}
}
