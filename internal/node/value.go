package node

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Kind tags the representation carried by a Value.
type Kind int

const (
	KindText Kind = iota
	KindBytes
	KindBool
	KindNumeric
)

// String returns the lower-case kind name used on the wire.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindBool:
		return "bool"
	case KindNumeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// Value is a transport value: exactly one of text, bytes, bool or numeric.
// The zero Value is empty text.
type Value struct {
	kind Kind
	text string
	raw  []byte
	flag bool
	num  float64
}

// Text wraps a string.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Bytes wraps a byte slice. The slice is copied.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: bytes.Clone(b)}
}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Numeric wraps a number.
func Numeric(f float64) Value { return Value{kind: KindNumeric, num: f} }

// Kind reports which representation v carries.
func (v Value) Kind() Kind { return v.kind }

// Normalize returns the canonical text form of v.
//
// Bytes are decoded as UTF-8 with invalid sequences dropped. Bools become
// "true"/"false" and numbers their shortest decimal form.
func (v Value) Normalize() string {
	switch v.kind {
	case KindBytes:
		return strings.ToValidUTF8(string(v.raw), "")
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindNumeric:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	default:
		return v.text
	}
}

// Raw returns the bytes of a bytes value.
func (v Value) Raw() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return bytes.Clone(v.raw), true
}

// Len is the payload size: bytes for a bytes value, else the text length.
func (v Value) Len() int {
	if v.kind == KindBytes {
		return len(v.raw)
	}
	return len(v.Normalize())
}

// Truthy coerces v to a boolean the way a sensor line is read:
// true/false literals, otherwise any nonzero number, otherwise any
// non-empty payload.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.flag
	case KindNumeric:
		return v.num != 0
	case KindBytes:
		return len(v.raw) > 0
	}

	s := strings.TrimSpace(v.text)
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f != 0
	}
	return s != ""
}

// Equal reports whether a and b have the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBytes:
		return bytes.Equal(v.raw, other.raw)
	case KindBool:
		return v.flag == other.flag
	case KindNumeric:
		return v.num == other.num
	default:
		return v.text == other.text
	}
}

// String implements fmt.Stringer. Byte payloads are summarised, not dumped.
func (v Value) String() string {
	if v.kind == KindBytes {
		return "<" + strconv.Itoa(len(v.raw)) + " bytes>"
	}
	return v.Normalize()
}

// MarshalJSON encodes text/bool/numeric as their JSON scalars and bytes as
// a base64 string.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBytes:
		return json.Marshal(v.raw)
	case KindBool:
		return json.Marshal(v.flag)
	case KindNumeric:
		return json.Marshal(v.num)
	default:
		return json.Marshal(v.text)
	}
}
