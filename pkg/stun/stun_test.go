package stun

import (
	"encoding/binary"
	"testing"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	var txID [12]byte
	copy(txID[:], []byte("abcdefghijkl"))

	msg := NewBuilder(ClassRequest, MethodBinding, txID).
		SetUsername("a:b").
		SetPriority(0x6E7F1EFF).
		SetIceControlling(1).
		SetUseCandidate().
		AddMessageIntegrity("pwd").
		AddFingerprint().
		Serialize()

	parsed, err := Parse(msg)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if parsed.Username != "a:b" {
		t.Fatalf("username mismatch: %q", parsed.Username)
	}
	if parsed.Priority != 0x6E7F1EFF {
		t.Fatalf("priority mismatch: %#x", parsed.Priority)
	}
	if !parsed.HasIceControlling || parsed.IceControlling != 1 {
		t.Fatalf("ice-controlling mismatch")
	}
	if !parsed.UseCandidate {
		t.Fatalf("expected USE-CANDIDATE")
	}
	if !parsed.HasMessageIntegrity {
		t.Fatalf("expected MESSAGE-INTEGRITY")
	}
	if !parsed.VerifyMessageIntegrity([]byte("pwd")) {
		t.Fatalf("MESSAGE-INTEGRITY verification failed")
	}
	if !parsed.HasFingerprint {
		t.Fatalf("expected FINGERPRINT")
	}
}

func TestFingerprintMutationFailsParse(t *testing.T) {
	var txID [12]byte
	msg := NewBuilder(ClassRequest, MethodBinding, txID).
		SetUsername("a:b").
		AddFingerprint().
		Serialize()

	// flip a byte before FINGERPRINT (inside the USERNAME value).
	msg[headerSize+4] ^= 0xFF

	if _, err := Parse(msg); err != ErrProtocolViolation {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

// TestAttributeAfterMessageIntegrityRejected builds a message whose only
// declared attribute is MESSAGE-INTEGRITY via the Builder (which always
// places it last), then grafts a USERNAME attribute on after it by hand —
// the Builder's fixed attribute order can't produce this ordering on its
// own, but a hostile peer's raw bytes can.
func TestAttributeAfterMessageIntegrityRejected(t *testing.T) {
	var txID [12]byte
	msg := NewBuilder(ClassRequest, MethodBinding, txID).
		AddMessageIntegrity("pwd").
		Serialize()

	smuggled := []byte{0x00, 0x06, 0x00, 0x04} // USERNAME, length 4
	smuggled = append(smuggled, []byte("abcd")...)
	msg = append(msg, smuggled...)
	binary.BigEndian.PutUint16(msg[2:4], uint16(len(msg)-headerSize))

	if _, err := Parse(msg); err != ErrProtocolViolation {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestIsStun(t *testing.T) {
	var txID [12]byte
	msg := NewBuilder(ClassRequest, MethodBinding, txID).Serialize()
	if !IsStun(msg) {
		t.Fatalf("expected IsStun true")
	}
	if IsStun([]byte{1, 2, 3}) {
		t.Fatalf("expected IsStun false for short input")
	}
}

func TestClassMethodRoundTrip(t *testing.T) {
	for _, c := range []Class{ClassRequest, ClassIndication, ClassSuccessResponse, ClassErrorResponse} {
		typ := buildType(c, MethodBinding)
		gotClass, gotMethod := splitType(typ)
		if gotClass != c || gotMethod != MethodBinding {
			t.Fatalf("class/method round-trip failed for class %v: got %v/%v", c, gotClass, gotMethod)
		}
	}
}
