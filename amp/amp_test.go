package amp

import (
	"testing"
)

func TestMessagePushOrder(t *testing.T) {
	m := NewMessage().
		PushString("topic").
		PushBigint(7).
		PushBlob([]byte{0x01}).
		PushJSON(map[string]any{"k": "v"})

	if m.Len() != 4 {
		t.Fatalf("expect 4 fields, got %d", m.Len())
	}

	want := []Type{TypeString, TypeBigint, TypeBlob, TypeJSON}
	for i, typ := range want {
		if m.Fields[i].Type != typ {
			t.Errorf("field %d: expect type %d, got %d", i, typ, m.Fields[i].Type)
		}
	}

	if m.First().String() != "topic" {
		t.Errorf("expect first field 'topic', got %q", m.First().String())
	}
	if m.Last().Type != TypeJSON {
		t.Errorf("expect last field to be JSON, got %d", m.Last().Type)
	}
}

func TestEmptyMessageAccessors(t *testing.T) {
	m := NewMessage()
	if m.First() != nil {
		t.Error("expect nil First on empty message")
	}
	if m.Last() != nil {
		t.Error("expect nil Last on empty message")
	}
	if m.Len() != 0 {
		t.Errorf("expect 0 length, got %d", m.Len())
	}
}

func TestFieldConstructors(t *testing.T) {
	if f := String("abc"); f.Type != TypeString || f.String() != "abc" {
		t.Errorf("String constructor: got %+v", f)
	}
	if f := Bigint(-1); f.Type != TypeBigint || f.Int != -1 {
		t.Errorf("Bigint constructor: got %+v", f)
	}
	if f := Blob([]byte{0xde, 0xad}); f.Type != TypeBlob || len(f.Data) != 2 {
		t.Errorf("Blob constructor: got %+v", f)
	}
	if f := JSON(42); f.Type != TypeJSON || f.Value != 42 {
		t.Errorf("JSON constructor: got %+v", f)
	}
}
