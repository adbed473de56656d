// Package stun implements the STUN binding message codec (spec component
// C11): RFC 5389 header parsing, attribute walking, MESSAGE-INTEGRITY
// (HMAC-SHA1) and FINGERPRINT (CRC-32 XOR 0x5354554E) verification and
// generation.
//
// Grounded on original_source/src/net/stun/stun.{hpp,cpp} (StunPacket's
// field set and Parse/Serialize shape) — no Go example repo in the corpus
// implements STUN, so the C++ original is the sole grounding source, per
// the process's explicit allowance for components missing a Go reference.
package stun

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// MagicCookie is the fixed constant at byte offset 4..7 of every STUN
// message (spec §4.9, §6 "STUN").
const MagicCookie uint32 = 0x2112A442

// FingerprintXOR is XORed into the computed CRC-32 before it is stored as
// the FINGERPRINT attribute value (spec §4.9).
const FingerprintXOR uint32 = 0x5354554E

const headerSize = 20

// Class is the STUN message class (request/indication/success/error).
type Class uint8

const (
	ClassRequest         Class = 0
	ClassIndication      Class = 1
	ClassSuccessResponse Class = 2
	ClassErrorResponse   Class = 3
)

// Method is the STUN method; this toolkit only deals with Binding.
type Method uint16

const MethodBinding Method = 1

// AttrType identifies a recognized STUN TLV attribute (spec §3 "STUN
// message").
type AttrType uint16

const (
	AttrMappedAddress    AttrType = 0x0001
	AttrUsername         AttrType = 0x0006
	AttrMessageIntegrity AttrType = 0x0008
	AttrErrorCode        AttrType = 0x0009
	AttrXorMappedAddress AttrType = 0x0020
	AttrPriority         AttrType = 0x0024
	AttrUseCandidate     AttrType = 0x0025
	AttrFingerprint      AttrType = 0x8028
	AttrIceControlled    AttrType = 0x8029
	AttrIceControlling   AttrType = 0x802A
)

// ErrMalformed is returned when the header or an attribute fails to
// parse (spec §7 MalformedInput).
var ErrMalformed = errors.New("stun: malformed message")

// ErrProtocolViolation is returned when FINGERPRINT is not last, or
// anything follows it, or FINGERPRINT verification fails (spec §7
// ProtocolViolation; spec §8 "mutating any byte before FINGERPRINT causes
// parse to fail with ProtocolViolation").
var ErrProtocolViolation = errors.New("stun: protocol violation")

// Message is a parsed/constructed STUN binding message.
type Message struct {
	Class         Class
	Method        Method
	TransactionID [12]byte

	Username        string
	Priority        uint32
	HasPriority     bool
	IceControlling  uint64
	HasIceControlling bool
	IceControlled   uint64
	HasIceControlled  bool
	UseCandidate    bool
	ErrorCode       uint16
	HasErrorCode    bool
	XorAddrPort     uint16
	XorAddrIP       [4]byte
	HasXorAddr      bool

	HasMessageIntegrity bool
	HasFingerprint      bool
	Fingerprint         uint32

	raw []byte // the bytes as parsed, kept for MESSAGE-INTEGRITY re-verification
}

// IsStun reports whether data looks like a STUN message: length >= 20,
// the top two bits of the first byte are zero, and the magic cookie
// matches at offset 4..7 (spec §4.9 "Detection").
func IsStun(data []byte) bool {
	if len(data) < headerSize {
		return false
	}
	if data[0]&0xC0 != 0 {
		return false
	}
	return binary.BigEndian.Uint32(data[4:8]) == MagicCookie
}

// splitType splits the STUN message type field into class and method per
// RFC 5389 figure 3's interleaved C/M bit layout.
func splitType(t uint16) (Class, Method) {
	c0 := (t >> 4) & 0x1
	c1 := (t >> 8) & 0x1
	class := Class((c1 << 1) | c0)

	m0_3 := t & 0x000F
	m4_6 := (t >> 5) & 0x0007
	m7_11 := (t >> 9) & 0x001F
	method := Method((m7_11 << 7) | (m4_6 << 4) | m0_3)

	return class, method
}

func buildType(class Class, method Method) uint16 {
	c0 := uint16(class) & 0x1
	c1 := (uint16(class) >> 1) & 0x1
	m0_3 := uint16(method) & 0x000F
	m4_6 := (uint16(method) >> 4) & 0x0007
	m7_11 := (uint16(method) >> 7) & 0x001F

	return (m7_11 << 9) | (c1 << 8) | (m4_6 << 5) | (c0 << 4) | m0_3
}

// Parse decodes a STUN message, walking its attribute list and enforcing
// the FINGERPRINT/MESSAGE-INTEGRITY ordering invariant (spec §3, §4.9).
func Parse(data []byte) (*Message, error) {
	if !IsStun(data) {
		return nil, ErrMalformed
	}

	msgLen := binary.BigEndian.Uint16(data[2:4])
	if int(msgLen)+headerSize > len(data) {
		return nil, ErrMalformed
	}
	if msgLen%4 != 0 {
		return nil, ErrMalformed
	}

	total := data[:headerSize+int(msgLen)]

	m := &Message{raw: total}
	m.Class, m.Method = splitType(binary.BigEndian.Uint16(total[0:2]))
	copy(m.TransactionID[:], total[8:20])

	cursor := headerSize
	end := len(total)
	seenIntegrity := false
	seenFingerprint := false

	for cursor+4 <= end {
		attrType := AttrType(binary.BigEndian.Uint16(total[cursor : cursor+2]))
		attrLen := int(binary.BigEndian.Uint16(total[cursor+2 : cursor+4]))
		valStart := cursor + 4
		valEnd := valStart + attrLen
		if valEnd > end {
			return nil, ErrMalformed
		}
		val := total[valStart:valEnd]

		if seenFingerprint {
			return nil, ErrProtocolViolation
		}
		if seenIntegrity && attrType != AttrFingerprint {
			return nil, ErrProtocolViolation
		}

		switch attrType {
		case AttrFingerprint:
			if attrLen != 4 {
				return nil, ErrMalformed
			}
			m.HasFingerprint = true
			m.Fingerprint = binary.BigEndian.Uint32(val)
			seenFingerprint = true

			computed := crc32.ChecksumIEEE(total[:cursor]) ^ FingerprintXOR
			if computed != m.Fingerprint {
				return nil, ErrProtocolViolation
			}

		case AttrMessageIntegrity:
			if attrLen != 20 {
				return nil, ErrMalformed
			}
			m.HasMessageIntegrity = true
			seenIntegrity = true

		case AttrUsername:
			m.Username = string(val)

		case AttrPriority:
			if attrLen != 4 {
				return nil, ErrMalformed
			}
			m.Priority = binary.BigEndian.Uint32(val)
			m.HasPriority = true

		case AttrIceControlling:
			if attrLen != 8 {
				return nil, ErrMalformed
			}
			m.IceControlling = binary.BigEndian.Uint64(val)
			m.HasIceControlling = true

		case AttrIceControlled:
			if attrLen != 8 {
				return nil, ErrMalformed
			}
			m.IceControlled = binary.BigEndian.Uint64(val)
			m.HasIceControlled = true

		case AttrUseCandidate:
			m.UseCandidate = true

		case AttrErrorCode:
			if attrLen < 4 {
				return nil, ErrMalformed
			}
			m.ErrorCode = uint16(val[2])*100 + uint16(val[3])
			m.HasErrorCode = true

		case AttrXorMappedAddress:
			if attrLen < 8 {
				return nil, ErrMalformed
			}
			port := binary.BigEndian.Uint16(val[2:4]) ^ uint16(MagicCookie>>16)
			var ip [4]byte
			cookie := make([]byte, 4)
			binary.BigEndian.PutUint32(cookie, MagicCookie)
			for i := 0; i < 4; i++ {
				ip[i] = val[4+i] ^ cookie[i]
			}
			m.XorAddrPort = port
			m.XorAddrIP = ip
			m.HasXorAddr = true
		}

		// attributes are padded to a 4-byte boundary (spec §3).
		padded := attrLen
		if padded%4 != 0 {
			padded += 4 - padded%4
		}
		cursor = valStart + padded
	}

	if cursor != end {
		return nil, ErrMalformed
	}

	return m, nil
}

// VerifyMessageIntegrity recomputes HMAC-SHA1 over the message (with the
// length field temporarily rewritten to exclude FINGERPRINT, matching
// serialize-time construction) and compares it to the stored
// MESSAGE-INTEGRITY value, using key as the HMAC key (spec §4.9).
func (m *Message) VerifyMessageIntegrity(key []byte) bool {
	if !m.HasMessageIntegrity {
		return false
	}

	miOffset, ok := findAttr(m.raw, AttrMessageIntegrity)
	if !ok {
		return false
	}

	// Message length up to (not including) MESSAGE-INTEGRITY's own TLV,
	// i.e. everything that was authenticated.
	authLen := uint16(miOffset - headerSize + 24) // + MI TLV header(4) + value(20)
	scratch := append([]byte(nil), m.raw[:miOffset]...)
	binary.BigEndian.PutUint16(scratch[2:4], authLen)

	mac := hmac.New(sha1.New, key)
	mac.Write(scratch)
	expected := mac.Sum(nil)

	stored := m.raw[miOffset+4 : miOffset+24]
	return hmac.Equal(expected, stored)
}

func findAttr(data []byte, want AttrType) (int, bool) {
	cursor := headerSize
	for cursor+4 <= len(data) {
		attrType := AttrType(binary.BigEndian.Uint16(data[cursor : cursor+2]))
		attrLen := int(binary.BigEndian.Uint16(data[cursor+2 : cursor+4]))
		if attrType == want {
			return cursor, true
		}
		padded := attrLen
		if padded%4 != 0 {
			padded += 4 - padded%4
		}
		cursor += 4 + padded
	}
	return 0, false
}

// Builder assembles a STUN message for serialization (spec §4.9
// "Serialize").
type Builder struct {
	class         Class
	method        Method
	transactionID [12]byte

	attrs []byte

	username       string
	hasUsername    bool
	priority       uint32
	hasPriority    bool
	iceControlling uint64
	hasICC         bool
	useCandidate   bool

	integrityKey []byte
	addIntegrity bool
	addFingerprint bool
}

// NewBuilder starts a new message of the given class/method with the
// provided 12-byte transaction id.
func NewBuilder(class Class, method Method, transactionID [12]byte) *Builder {
	return &Builder{class: class, method: method, transactionID: transactionID}
}

func (b *Builder) SetUsername(v string) *Builder {
	b.username = v
	b.hasUsername = true
	return b
}

func (b *Builder) SetPriority(v uint32) *Builder {
	b.priority = v
	b.hasPriority = true
	return b
}

func (b *Builder) SetIceControlling(v uint64) *Builder {
	b.iceControlling = v
	b.hasICC = true
	return b
}

func (b *Builder) SetUseCandidate() *Builder {
	b.useCandidate = true
	return b
}

// AddMessageIntegrity requests an HMAC-SHA1 MESSAGE-INTEGRITY attribute
// keyed by password, added just before FINGERPRINT.
func (b *Builder) AddMessageIntegrity(password string) *Builder {
	b.integrityKey = []byte(password)
	b.addIntegrity = true
	return b
}

// AddFingerprint requests a trailing FINGERPRINT attribute (spec §3: "if
// present it is last").
func (b *Builder) AddFingerprint() *Builder {
	b.addFingerprint = true
	return b
}

// Serialize builds the final wire bytes: 20-byte header, then USERNAME,
// PRIORITY, ICE-CONTROLLING, USE-CANDIDATE, MESSAGE-INTEGRITY, FINGERPRINT
// in that order (spec §4.9).
func (b *Builder) Serialize() []byte {
	var body []byte

	if b.hasUsername {
		body = appendAttr(body, AttrUsername, []byte(b.username))
	}
	if b.hasPriority {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, b.priority)
		body = appendAttr(body, AttrPriority, v)
	}
	if b.hasICC {
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, b.iceControlling)
		body = appendAttr(body, AttrIceControlling, v)
	}
	if b.useCandidate {
		body = appendAttr(body, AttrUseCandidate, nil)
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint16(header[0:2], buildType(b.class, b.method))
	binary.BigEndian.PutUint32(header[4:8], MagicCookie)
	copy(header[8:20], b.transactionID[:])

	msg := append(header, body...)

	if b.addIntegrity {
		binary.BigEndian.PutUint16(msg[2:4], uint16(len(body)+24))
		mac := hmac.New(sha1.New, b.integrityKey)
		mac.Write(msg)
		sum := mac.Sum(nil)
		msg = appendAttr(msg, AttrMessageIntegrity, sum)
		body = msg[headerSize:]
	}

	if b.addFingerprint {
		finalLen := len(body) + 8
		binary.BigEndian.PutUint16(msg[2:4], uint16(finalLen))
		crc := crc32.ChecksumIEEE(msg) ^ FingerprintXOR
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, crc)
		msg = appendAttr(msg, AttrFingerprint, v)
	} else {
		binary.BigEndian.PutUint16(msg[2:4], uint16(len(msg)-headerSize))
	}

	return msg
}

func appendAttr(msg []byte, t AttrType, value []byte) []byte {
	header := make([]byte, 4)
	binary.BigEndian.PutUint16(header[0:2], uint16(t))
	binary.BigEndian.PutUint16(header[2:4], uint16(len(value)))
	msg = append(msg, header...)
	msg = append(msg, value...)
	pad := len(value) % 4
	if pad != 0 {
		msg = append(msg, make([]byte, 4-pad)...)
	}
	return msg
}
