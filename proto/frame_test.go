package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameZeroValueIsNull(t *testing.T) {
	var f Frame
	assert.Equal(t, KindNull, f.Kind())
	assert.True(t, f.IsNull())
}

func TestFrameAccessors(t *testing.T) {
	s := Simple("OK")
	text, ok := s.Text()
	assert.True(t, ok)
	assert.Equal(t, "OK", text)

	e := Err("ERR bad")
	msg, ok := e.IsError()
	assert.True(t, ok)
	assert.Equal(t, "ERR bad", msg)

	i := Integer(42)
	n, ok := i.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	b := Bulk([]byte("hello"))
	payload, ok := b.Payload()
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), payload)

	nb := NullBulk()
	assert.True(t, nb.IsNull())
	_, ok = nb.Payload()
	assert.False(t, ok)

	arr := Array([]Frame{Integer(1), Integer(2)})
	elems, ok := arr.Elements()
	assert.True(t, ok)
	assert.Len(t, elems, 2)
}

func TestFrameCloneDoesNotCopyBulkPayload(t *testing.T) {
	payload := []byte("shared")
	f := Bulk(payload)
	clone := f // value copy of the Frame struct itself

	got, ok := clone.Payload()
	assert.True(t, ok)
	// Mutating through the original's payload slice must be visible via
	// the clone: both share the same backing array.
	payload[0] = 'S'
	assert.Equal(t, byte('S'), got[0])
}

func TestFrameEqual(t *testing.T) {
	assert.True(t, Simple("OK").Equal(Simple("OK")))
	assert.False(t, Simple("OK").Equal(Simple("NO")))
	assert.True(t, Null().Equal(Null()))
	assert.True(t, NullBulk().Equal(NullBulk()))
	assert.False(t, Null().Equal(NullBulk()))
	assert.True(t, Bulk([]byte("x")).Equal(Bulk([]byte("x"))))
	assert.True(t, Array([]Frame{Integer(1)}).Equal(Array([]Frame{Integer(1)})))
	assert.False(t, Array([]Frame{Integer(1)}).Equal(Array([]Frame{Integer(2)})))
}
