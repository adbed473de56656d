package amf

import "testing"

func TestDecodeConnectPreamble(t *testing.T) {
	// "connect" string, number 1.0, empty object (spec §8 scenario 1).
	buf := []byte{
		0x02, 0x00, 0x07, 'c', 'o', 'n', 'n', 'e', 'c', 't',
		0x00, 0x3F, 0xF0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x09,
	}

	values, err := DecodeAll(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(values))
	}
	if values[0].GetString() != "connect" {
		t.Fatalf("expected 'connect', got %q", values[0].GetString())
	}
	if values[1].GetDouble() != 1.0 {
		t.Fatalf("expected 1.0, got %v", values[1].GetDouble())
	}
	if values[2].Type != TypeObject || len(values[2].Object) != 0 {
		t.Fatalf("expected empty object, got %+v", values[2])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := Object(map[string]*Value{
		"app":  Str("live"),
		"flag": Bool(true),
		"num":  Number(42.5),
	})

	encoded := Encode(original)
	decoded, n, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(encoded), n)
	}

	if decoded.GetProperty("app").GetString() != "live" {
		t.Fatalf("app mismatch")
	}
	if decoded.GetProperty("num").GetDouble() != 42.5 {
		t.Fatalf("num mismatch")
	}
	if !decoded.GetProperty("flag").Bool {
		t.Fatalf("flag mismatch")
	}
}

func TestDecodeMalformedTruncated(t *testing.T) {
	buf := []byte{0x02, 0x00, 0x07, 'a', 'b'} // declares 7 bytes, has 2
	if _, _, err := Decode(buf); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDuplicateKeyLastWins(t *testing.T) {
	buf := []byte{
		0x03,
		0x00, 0x01, 'a', 0x00, 0x3F, 0xF0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x01, 'a', 0x01, 0x01,
		0x00, 0x00, 0x09,
	}
	v, _, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.GetProperty("a").Type != TypeBool {
		t.Fatalf("expected last value (bool) to win, got %v", v.GetProperty("a").Type)
	}
}
