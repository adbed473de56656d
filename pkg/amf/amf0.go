// Package amf implements the AMF0 value codec (spec component C4) used by
// RTMP command and data messages, with AMF3-embedded-in-AMF0 support (the
// "switch to AMF3" marker).
//
// Grounded directly on the teacher's amf0.go/amf3.go: same marker table,
// same object/array/typed-object handling. Decoding is hardened to return
// errors instead of the teacher's occasional out-of-range panic potential
// (slicing past the buffer) — every Read here is bounds-checked and returns
// ErrMalformed rather than letting a slice index panic take down the
// session, per spec §7's "MalformedInput... recovered locally."
package amf

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"
)

// Type is the AMF0 marker byte.
type Type byte

const (
	TypeNumber      Type = 0x00
	TypeBool        Type = 0x01
	TypeString      Type = 0x02
	TypeObject      Type = 0x03
	TypeNull        Type = 0x05
	TypeUndefined   Type = 0x06
	TypeRef         Type = 0x07
	TypeArray       Type = 0x08
	TypeStrictArray Type = 0x0A
	TypeDate        Type = 0x0B
	TypeLongString  Type = 0x0C
	TypeXMLDoc      Type = 0x0F
	TypeTypedObject Type = 0x10
	TypeSwitchAMF3  Type = 0x11
)

const objectTerminator = 0x09

// ErrMalformed is returned when decoding encounters a marker out of range
// or a declared length exceeding the remaining buffer (spec §7
// MalformedInput).
var ErrMalformed = errors.New("amf: malformed input")

// Value is a discriminated AMF0 value (spec §3 "AMF0 item").
type Value struct {
	Type Type

	Bool   bool
	Str    string
	Int    int64
	Float  float64
	Object map[string]*Value  // ordered externally via Keys(); keys unique, last-wins on decode
	Array  []*Value           // strict array
	AMF3   *AMF3Value
}

func newValue(t Type) *Value {
	return &Value{Type: t, Object: map[string]*Value{}}
}

func Number(f float64) *Value {
	v := newValue(TypeNumber)
	v.Float = f
	v.Int = int64(f)
	return v
}

func Str(s string) *Value {
	v := newValue(TypeString)
	v.Str = s
	return v
}

func Bool(b bool) *Value {
	v := newValue(TypeBool)
	v.Bool = b
	return v
}

func Null() *Value      { return newValue(TypeNull) }
func Undefined() *Value { return newValue(TypeUndefined) }

func Object(fields map[string]*Value) *Value {
	v := newValue(TypeObject)
	v.Object = fields
	return v
}

func StrictArray(items []*Value) *Value {
	v := newValue(TypeStrictArray)
	v.Array = items
	return v
}

// IsAMF3 reports whether this value is an AMF3-switch value.
func (v *Value) IsAMF3() bool { return v.Type == TypeSwitchAMF3 && v.AMF3 != nil }

func (v *Value) GetString() string {
	if v.IsAMF3() {
		return v.AMF3.Str
	}
	return v.Str
}

func (v *Value) GetDouble() float64 {
	if v.IsAMF3() {
		return v.AMF3.Float
	}
	return v.Float
}

func (v *Value) GetProperty(name string) *Value {
	if v.IsAMF3() {
		return Undefined()
	}
	if p, ok := v.Object[name]; ok {
		return p
	}
	return Undefined()
}

/* Encoding */

// Encode serializes a single AMF0 value.
func Encode(v *Value) []byte {
	out := []byte{byte(v.Type)}

	switch v.Type {
	case TypeNumber:
		out = append(out, encodeNumber(v.Float)...)
	case TypeBool:
		out = append(out, encodeBool(v.Bool)...)
	case TypeDate:
		out = append(out, encodeDate(v.Float)...)
	case TypeString, TypeXMLDoc:
		out = append(out, encodeString(v.Str)...)
	case TypeLongString:
		out = append(out, encodeLongString(v.Str)...)
	case TypeObject:
		out = append(out, encodeObject(v.Object)...)
	case TypeRef:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v.Int))
		out = append(out, b...)
	case TypeArray:
		out = append(out, encodeArray(v.Object)...)
	case TypeStrictArray:
		out = append(out, encodeStrictArray(v.Array)...)
	case TypeTypedObject:
		out = append(out, encodeString(v.Str)...)
		out = append(out, encodeObject(v.Object)...)
	case TypeSwitchAMF3:
		out = append(out, EncodeAMF3(v.AMF3)...)
	}

	return out
}

func encodeNumber(f float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(f))
	return b
}

func encodeBool(b bool) []byte {
	if b {
		return []byte{0x01}
	}
	return []byte{0x00}
}

func encodeDate(f float64) []byte {
	return append(encodeNumber(f), 0x00, 0x00)
}

func encodeString(s string) []byte {
	b := []byte(s)
	l := make([]byte, 2)
	binary.BigEndian.PutUint16(l, uint16(len(b)))
	return append(l, b...)
}

func encodeLongString(s string) []byte {
	b := []byte(s)
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(b)))
	return append(l, b...)
}

func encodeObject(o map[string]*Value) []byte {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var r []byte
	for _, k := range keys {
		r = append(r, encodeString(k)...)
		r = append(r, Encode(o[k])...)
	}
	r = append(r, encodeString("")...)
	r = append(r, objectTerminator)
	return r
}

func encodeArray(o map[string]*Value) []byte {
	r := make([]byte, 4)
	binary.BigEndian.PutUint32(r, uint32(len(o)))
	return append(r, encodeObject(o)...)
}

func encodeStrictArray(items []*Value) []byte {
	r := make([]byte, 4)
	binary.BigEndian.PutUint32(r, uint32(len(items)))
	for _, it := range items {
		r = append(r, Encode(it)...)
	}
	return r
}

/* Decoding */

// decodeStream is a bounds-checked cursor over an AMF byte stream.
type decodeStream struct {
	buf []byte
	pos int
}

func (s *decodeStream) read(n int) ([]byte, error) {
	if n < 0 || s.pos+n > len(s.buf) {
		return nil, ErrMalformed
	}
	r := s.buf[s.pos : s.pos+n]
	s.pos += n
	return r, nil
}

func (s *decodeStream) peek(n int) ([]byte, error) {
	if n < 0 || s.pos+n > len(s.buf) {
		return nil, ErrMalformed
	}
	return s.buf[s.pos : s.pos+n], nil
}

func (s *decodeStream) ended() bool { return s.pos >= len(s.buf) }

// Decode parses one AMF0 value from buf starting at offset 0 and returns
// the value plus the number of bytes consumed.
func Decode(buf []byte) (*Value, int, error) {
	s := &decodeStream{buf: buf}
	v, err := s.readOne()
	if err != nil {
		return nil, 0, err
	}
	return v, s.pos, nil
}

// DecodeAll parses every AMF0 value in buf in sequence (used for RTMP
// command messages, which carry several values back to back).
func DecodeAll(buf []byte) ([]*Value, error) {
	s := &decodeStream{buf: buf}
	var values []*Value
	for !s.ended() {
		v, err := s.readOne()
		if err != nil {
			return values, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (s *decodeStream) readOne() (*Value, error) {
	b, err := s.read(1)
	if err != nil {
		return nil, err
	}
	t := Type(b[0])
	v := newValue(t)

	switch t {
	case TypeNumber:
		f, err := s.readNumber()
		if err != nil {
			return nil, err
		}
		v.Float = f
		v.Int = int64(f)
	case TypeBool:
		bb, err := s.read(1)
		if err != nil {
			return nil, err
		}
		v.Bool = bb[0] != 0
	case TypeDate:
		f, err := s.readNumber()
		if err != nil {
			return nil, err
		}
		if _, err := s.read(2); err != nil {
			return nil, err
		}
		v.Float = f
	case TypeString, TypeXMLDoc:
		str, err := s.readString()
		if err != nil {
			return nil, err
		}
		v.Str = str
	case TypeLongString:
		str, err := s.readLongString()
		if err != nil {
			return nil, err
		}
		v.Str = str
	case TypeObject:
		obj, err := s.readObject()
		if err != nil {
			return nil, err
		}
		v.Object = obj
	case TypeTypedObject:
		name, obj, err := s.readTypedObject()
		if err != nil {
			return nil, err
		}
		v.Str = name
		v.Object = obj
	case TypeRef:
		if _, err := s.read(2); err != nil {
			return nil, err
		}
	case TypeArray:
		// Mixed-array is decoded as object per spec §4.2; the 4-byte count
		// prefix is consumed and discarded (DESIGN.md open question 1).
		obj, err := s.readArray()
		if err != nil {
			return nil, err
		}
		v.Object = obj
	case TypeStrictArray:
		arr, err := s.readStrictArray()
		if err != nil {
			return nil, err
		}
		v.Array = arr
	case TypeNull, TypeUndefined:
		// marker only
	case TypeSwitchAMF3:
		a3, err := s.readAMF3()
		if err != nil {
			return nil, err
		}
		v.AMF3 = a3
	default:
		return nil, ErrMalformed
	}

	return v, nil
}

func (s *decodeStream) readNumber() (float64, error) {
	b, err := s.read(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (s *decodeStream) readString() (string, error) {
	lb, err := s.read(2)
	if err != nil {
		return "", err
	}
	l := binary.BigEndian.Uint16(lb)
	b, err := s.read(int(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *decodeStream) readLongString() (string, error) {
	lb, err := s.read(4)
	if err != nil {
		return "", err
	}
	l := binary.BigEndian.Uint32(lb)
	b, err := s.read(int(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *decodeStream) readObject() (map[string]*Value, error) {
	o := make(map[string]*Value)

	for !s.ended() {
		peeked, err := s.peek(1)
		if err != nil {
			return nil, err
		}
		if peeked[0] == objectTerminator {
			_, _ = s.read(1)
			break
		}

		name, err := s.readString()
		if err != nil {
			return nil, err
		}

		peeked, err = s.peek(1)
		if err != nil {
			return nil, err
		}
		if peeked[0] == objectTerminator {
			_, _ = s.read(1)
			break
		}

		val, err := s.readOne()
		if err != nil {
			return nil, err
		}
		o[name] = val // duplicate keys: last wins (spec §4.2)
	}

	return o, nil
}

func (s *decodeStream) readArray() (map[string]*Value, error) {
	if _, err := s.read(4); err != nil {
		return nil, err
	}
	return s.readObject()
}

func (s *decodeStream) readStrictArray() ([]*Value, error) {
	lb, err := s.read(4)
	if err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint32(lb)

	var out []*Value
	for i := uint32(0); i < l && !s.ended(); i++ {
		v, err := s.readOne()
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *decodeStream) readTypedObject() (string, map[string]*Value, error) {
	name, err := s.readString()
	if err != nil {
		return "", nil, err
	}
	obj, err := s.readObject()
	if err != nil {
		return "", nil, err
	}
	return name, obj, nil
}
