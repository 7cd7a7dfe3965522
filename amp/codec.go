package amp

import (
	"encoding/binary"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Version is the AMP protocol version, encoded in the high nibble of the
// meta byte.
const Version = 1

const (
	bigArgFlag  = 0x80 // Field header bit selecting the 4-byte length form
	typeMask    = 0x7f
	smallArgMax = 255 // Largest payload representable with a 1-byte length
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode serializes a message into a single contiguous frame:
//
//	0                1                2..n
//	┌────────────────┬────────────────┬─────────────────────────┐
//	│ (ver<<4)|count │ (big<<7)|type  │ length │ payload │ ...  │
//	└────────────────┴────────────────┴─────────────────────────┘
//
// The meta byte carries the protocol version in the high nibble and the
// field count in the low nibble. Each field starts with a header byte:
// the high bit selects a 1-byte length (payload ≤ 255 bytes) or a 4-byte
// big-endian length, the remaining bits are the field type. Bigint
// payloads are always 8 little-endian bytes; JSON payloads are the
// serialized JSON text.
//
// Encode fails with ErrTooManyFields above MaxFields and rejects empty
// messages: every frame on the wire carries at least one field.
func Encode(m *Message) ([]byte, error) {
	if m == nil || len(m.Fields) == 0 {
		return nil, errors.New("amp: cannot encode empty message")
	}
	if len(m.Fields) > MaxFields {
		return nil, ErrTooManyFields
	}

	// Materialize every payload first so the total frame size is known
	// and the buffer is allocated once.
	payloads := make([][]byte, len(m.Fields))
	total := 1
	for i, f := range m.Fields {
		var payload []byte
		switch f.Type {
		case TypeBlob, TypeString:
			payload = f.Data
		case TypeBigint:
			payload = make([]byte, 8)
			binary.LittleEndian.PutUint64(payload, uint64(f.Int))
		case TypeJSON:
			data, err := json.Marshal(f.Value)
			if err != nil {
				return nil, errors.Wrap(err, "amp: serialize json field")
			}
			payload = data
		default:
			return nil, errors.Errorf("amp: unknown field type %d", f.Type)
		}
		payloads[i] = payload
		total += 1 + lengthSize(len(payload)) + len(payload)
	}

	buf := make([]byte, total)
	buf[0] = (Version << 4) | byte(len(m.Fields))
	offset := 1
	for i, f := range m.Fields {
		payload := payloads[i]
		if len(payload) > smallArgMax {
			buf[offset] = bigArgFlag | byte(f.Type)
			offset++
			binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(payload)))
			offset += 4
		} else {
			buf[offset] = byte(f.Type)
			offset++
			buf[offset] = byte(len(payload))
			offset++
		}
		copy(buf[offset:], payload)
		offset += len(payload)
	}
	return buf, nil
}

// Decode consumes exactly one frame from the front of buf and returns the
// decoded message together with the number of bytes used. The caller loops
// on the remaining buffer when several frames arrived coalesced in a
// single read. A truncated frame or a length running past the buffer
// fails with an error wrapping ErrMalformed.
func Decode(buf []byte) (*Message, int, error) {
	if len(buf) < 1 {
		return nil, 0, errors.Wrap(ErrMalformed, "missing meta byte")
	}
	meta := buf[0]
	if meta>>4 != Version {
		return nil, 0, errors.Wrapf(ErrMalformed, "unsupported version %d", meta>>4)
	}
	count := int(meta & 0x0f)
	if count == 0 {
		return nil, 0, errors.Wrap(ErrMalformed, "empty message")
	}

	m := &Message{Fields: make([]Field, 0, count)}
	offset := 1
	for i := 0; i < count; i++ {
		if offset >= len(buf) {
			return nil, 0, errors.Wrapf(ErrMalformed, "truncated field %d header", i)
		}
		header := buf[offset]
		offset++
		typ := Type(header & typeMask)

		var length int
		if header&bigArgFlag != 0 {
			if offset+4 > len(buf) {
				return nil, 0, errors.Wrapf(ErrMalformed, "truncated field %d length", i)
			}
			length = int(binary.BigEndian.Uint32(buf[offset : offset+4]))
			offset += 4
		} else {
			if offset >= len(buf) {
				return nil, 0, errors.Wrapf(ErrMalformed, "truncated field %d length", i)
			}
			length = int(buf[offset])
			offset++
		}
		if offset+length > len(buf) {
			return nil, 0, errors.Wrapf(ErrMalformed, "field %d length %d exceeds buffer", i, length)
		}
		payload := buf[offset : offset+length]
		offset += length

		switch typ {
		case TypeBlob, TypeString:
			data := make([]byte, length)
			copy(data, payload)
			m.Fields = append(m.Fields, Field{Type: typ, Data: data})
		case TypeBigint:
			if length != 8 {
				return nil, 0, errors.Wrapf(ErrMalformed, "bigint field %d has length %d", i, length)
			}
			m.Fields = append(m.Fields, Field{Type: typ, Int: int64(binary.LittleEndian.Uint64(payload))})
		case TypeJSON:
			var v any
			if err := json.Unmarshal(payload, &v); err != nil {
				return nil, 0, errors.Wrapf(ErrMalformed, "json field %d: %v", i, err)
			}
			m.Fields = append(m.Fields, Field{Type: typ, Value: v})
		default:
			return nil, 0, errors.Wrapf(ErrMalformed, "unknown field type %d", typ)
		}
	}
	return m, offset, nil
}

func lengthSize(n int) int {
	if n > smallArgMax {
		return 4
	}
	return 1
}
