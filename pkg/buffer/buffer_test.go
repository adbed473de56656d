package buffer

import "bytes"

import "testing"

func TestAppendConsumeRoundTrip(t *testing.T) {
	b := New(16)

	b.Append([]byte("hello "))
	b.Append([]byte("world"))

	if got := string(b.Data()); got != "hello world" {
		t.Fatalf("unexpected data: %q", got)
	}

	b.Consume(6)
	if got := string(b.Data()); got != "world" {
		t.Fatalf("unexpected data after consume: %q", got)
	}
}

func TestConsumeNegativePrepend(t *testing.T) {
	b := New(16)
	b.Append([]byte("world"))

	b.Consume(5)
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got len %d", b.Len())
	}

	// Prepend back into the reserved headroom.
	room := b.Consume(-5)
	if room == nil {
		t.Fatalf("expected headroom available for prepend")
	}
	copy(b.data[b.start:], []byte("world"))
	if !bytes.Equal(b.Data(), []byte("world")) {
		t.Fatalf("unexpected data after prepend: %q", b.Data())
	}
}

func TestGrowthAcrossSizeClasses(t *testing.T) {
	b := New(1024)
	big := make([]byte, 600*1024)
	for i := range big {
		big[i] = byte(i)
	}

	b.Append(big)

	if b.Len() != len(big) {
		t.Fatalf("expected len %d, got %d", len(big), b.Len())
	}
	if !bytes.Equal(b.Data(), big) {
		t.Fatalf("data mismatch after growth")
	}
}

func TestResetDiscardsData(t *testing.T) {
	b := New(16)
	b.Append([]byte("abc"))
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("expected empty after reset, got %d", b.Len())
	}
	if b.start != PreReserveHeaderSize || b.end != PreReserveHeaderSize {
		t.Fatalf("reset did not restore cursors to pad")
	}
}
