// Package amp implements the AMP message format used on the wire by every
// axon endpoint.
//
// A message is an ordered list of typed fields. Four field types exist:
// opaque byte blobs, UTF-8 strings, 64-bit signed integers, and JSON values.
// Field order is preserved through encode/decode, which is what the pattern
// layer relies on to carry topics (first field) and correlation ids (last
// field).
package amp

import (
	"github.com/pkg/errors"
)

// Type identifies the payload kind of a single field, stored as the low
// bits of the field header byte on the wire.
type Type byte

const (
	TypeBlob   Type = 0 // Opaque byte sequence
	TypeString Type = 1 // UTF-8 string
	TypeBigint Type = 2 // 64-bit signed integer, little-endian on the wire
	TypeJSON   Type = 3 // JSON value, serialized as UTF-8 text
)

// MaxFields is the largest number of fields a single message can carry.
// The field count is encoded in the low nibble of the meta byte, so the
// wire format cannot represent more.
const MaxFields = 15

// ErrTooManyFields is returned by Encode for messages above MaxFields.
var ErrTooManyFields = errors.New("amp: too many fields")

// ErrMalformed is returned (wrapped) by Decode when the buffer does not
// contain one complete well-formed frame.
var ErrMalformed = errors.New("amp: malformed message")

// Field is a single typed entry of a message. Exactly one of the value
// slots is meaningful, selected by Type:
//
//   - TypeBlob:   Data
//   - TypeString: Data (UTF-8 bytes)
//   - TypeBigint: Int
//   - TypeJSON:   Value (any JSON-compatible value)
type Field struct {
	Type  Type
	Data  []byte
	Int   int64
	Value any
}

// String returns the field payload as a string. Meaningful for TypeString
// fields; for other types it returns the raw bytes, which may be empty.
func (f Field) String() string {
	return string(f.Data)
}

// Blob builds a blob field.
func Blob(data []byte) Field {
	return Field{Type: TypeBlob, Data: data}
}

// String builds a UTF-8 string field.
func String(s string) Field {
	return Field{Type: TypeString, Data: []byte(s)}
}

// Bigint builds a 64-bit signed integer field.
func Bigint(i int64) Field {
	return Field{Type: TypeBigint, Int: i}
}

// JSON builds a JSON field from any JSON-serializable value.
func JSON(v any) Field {
	return Field{Type: TypeJSON, Value: v}
}

// Message is an ordered sequence of fields. A message may be empty while
// it is being built; on the wire it always carries at least one field.
type Message struct {
	Fields []Field
}

// NewMessage creates an empty message ready to be filled with Push calls.
func NewMessage() *Message {
	return &Message{}
}

// PushBlob appends a blob field.
func (m *Message) PushBlob(data []byte) *Message {
	m.Fields = append(m.Fields, Blob(data))
	return m
}

// PushString appends a UTF-8 string field.
func (m *Message) PushString(s string) *Message {
	m.Fields = append(m.Fields, String(s))
	return m
}

// PushBigint appends a 64-bit signed integer field.
func (m *Message) PushBigint(i int64) *Message {
	m.Fields = append(m.Fields, Bigint(i))
	return m
}

// PushJSON appends a JSON field.
func (m *Message) PushJSON(v any) *Message {
	m.Fields = append(m.Fields, JSON(v))
	return m
}

// Len returns the number of fields.
func (m *Message) Len() int {
	return len(m.Fields)
}

// First returns the first field, or nil for an empty message.
func (m *Message) First() *Field {
	if len(m.Fields) == 0 {
		return nil
	}
	return &m.Fields[0]
}

// Last returns the last field, or nil for an empty message.
func (m *Message) Last() *Field {
	if len(m.Fields) == 0 {
		return nil
	}
	return &m.Fields[len(m.Fields)-1]
}
