package proto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func decodeOne(t *testing.T, data []byte) Frame {
	t.Helper()
	d := NewDecoder()
	d.Append(data)
	f, ok, err := d.Decode()
	if !assert.NoError(t, err) || !assert.True(t, ok) {
		t.FailNow()
	}
	return f
}

func TestDecodeSimpleString(t *testing.T) {
	f := decodeOne(t, []byte("+OK\r\n"))
	assert.True(t, f.Equal(Simple("OK")))
}

func TestDecodeError(t *testing.T) {
	f := decodeOne(t, []byte("-ERR some error\r\n"))
	assert.True(t, f.Equal(Err("ERR some error")))
}

func TestDecodeInteger(t *testing.T) {
	f := decodeOne(t, []byte(":42\r\n"))
	assert.True(t, f.Equal(Integer(42)))
}

func TestDecodeBulkString(t *testing.T) {
	f := decodeOne(t, []byte("$5\r\nhello\r\n"))
	assert.True(t, f.Equal(Bulk([]byte("hello"))))
}

func TestDecodeBulkStringNull(t *testing.T) {
	f := decodeOne(t, []byte("$-1\r\n"))
	assert.True(t, f.IsNull())
}

func TestDecodeArrayNullAcceptsStar(t *testing.T) {
	f := decodeOne(t, []byte("*-1\r\n"))
	assert.True(t, f.Equal(Null()))
}

func TestDecodeArray(t *testing.T) {
	f := decodeOne(t, []byte("*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"))
	want := Array([]Frame{Bulk([]byte("foo")), Bulk([]byte("bar"))})
	assert.True(t, f.Equal(want))
}

func TestDecodeIncompleteThenComplete(t *testing.T) {
	d := NewDecoder()
	d.Append([]byte("+OK\r"))
	f, ok, err := d.Decode()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, f.IsNull())

	d.Append([]byte("\n"))
	f, ok, err = d.Decode()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f.Equal(Simple("OK")))
}

func TestDecodeFrameTooLarge(t *testing.T) {
	d := NewDecoderWithMaxFrameSize(10)
	d.Append([]byte("$100\r\n"))
	_, ok, err := d.Decode()
	assert.False(t, ok)
	var de *DecodeError
	assert.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeArrayLengthRejectedEarly(t *testing.T) {
	d := NewDecoderWithMaxFrameSize(1024)
	d.Append([]byte("*200\r\n"))
	_, ok, err := d.Decode()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeInvalidLength(t *testing.T) {
	d := NewDecoder()
	d.Append([]byte("$-2\r\n"))
	_, ok, err := d.Decode()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDecodeUnknownFrameType(t *testing.T) {
	d := NewDecoder()
	d.Append([]byte("!oops\r\n"))
	_, ok, err := d.Decode()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnknownFrameType)
}

// TestDecodeEveryByteOffset is the end-to-end scenario from the spec: a
// SET command fed into the decoder one byte at a time must yield exactly
// the original frame on the final byte, and chunking at every offset
// must agree.
func TestDecodeEveryByteOffset(t *testing.T) {
	wire := []byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n")
	want := Array([]Frame{Bulk([]byte("SET")), Bulk([]byte("k")), Bulk([]byte("v"))})

	for split := 0; split <= len(wire); split++ {
		d := NewDecoder()
		var got Frame
		var gotOK bool
		if split > 0 {
			d.Append(wire[:split])
			f, ok, err := d.Decode()
			assert.NoError(t, err)
			if ok {
				got, gotOK = f, true
			}
		}
		if !gotOK {
			d.Append(wire[split:])
			f, ok, err := d.Decode()
			assert.NoError(t, err)
			assert.True(t, ok, "split=%d", split)
			got = f
		}
		assert.True(t, got.Equal(want), "split=%d", split)
	}
}

func TestDecodeByteAtATime(t *testing.T) {
	wire := []byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n")
	want := Array([]Frame{Bulk([]byte("SET")), Bulk([]byte("k")), Bulk([]byte("v"))})

	d := NewDecoder()
	var got Frame
	var ok bool
	for i := 0; i < len(wire); i++ {
		d.Append(wire[i : i+1])
		var err error
		got, ok, err = d.Decode()
		assert.NoError(t, err)
		if ok {
			break
		}
	}
	assert.True(t, ok)
	assert.True(t, got.Equal(want))
}

func TestDecodeConcatenatedStream(t *testing.T) {
	wire := []byte("+OK\r\n:1\r\n$3\r\nfoo\r\n")
	d := NewDecoder()
	d.Append(wire)

	f1, ok, err := d.Decode()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f1.Equal(Simple("OK")))

	f2, ok, err := d.Decode()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f2.Equal(Integer(1)))

	f3, ok, err := d.Decode()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f3.Equal(Bulk([]byte("foo"))))

	assert.Equal(t, 0, d.Buffered())
}
