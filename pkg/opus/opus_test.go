package opus

import "testing"

func TestCode0SingleFrame(t *testing.T) {
	data := append([]byte{0x00 | 0xFC}, make([]byte, 10)...) // toc low bits 0, arbitrary high bits
	frames, err := SplitAccessUnits(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 || frames[0].Length != len(data) {
		t.Fatalf("expected one frame spanning whole input, got %+v", frames)
	}
}

func TestCode3CBRFourFrames(t *testing.T) {
	// TOC with code=3 (low 2 bits), frame_count=4, no padding, no vbr.
	toc := byte(0x03)
	index := byte(4) // frame_count=4, padded=0, vbr=0
	payload := make([]byte, 160)
	data := append([]byte{toc, index}, payload...)

	frames, err := SplitAccessUnits(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	for _, f := range frames {
		if f.Length != 40 {
			t.Fatalf("expected 40-byte frames, got %d", f.Length)
		}
	}
}

func TestCode1OddLengthRejected(t *testing.T) {
	toc := byte(0x01)
	data := append([]byte{toc}, make([]byte, 5)...) // odd remainder
	if _, err := SplitAccessUnits(data); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestBuildExtraData(t *testing.T) {
	extra := BuildExtraData(48000, 2)
	if len(extra) != 19 {
		t.Fatalf("expected 19-byte extradata, got %d", len(extra))
	}
	if string(extra[0:8]) != "OpusHead" {
		t.Fatalf("expected OpusHead signature")
	}
	if extra[9] != 2 {
		t.Fatalf("expected channel count 2, got %d", extra[9])
	}
}
