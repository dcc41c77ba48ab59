package proto

import "strconv"

// Encoder serializes Frames to their wire form. It is synchronous and
// holds no suspension points; a single Encoder may be reused across many
// calls to avoid repeated allocation.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with an empty internal buffer.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode appends the wire form of f to the Encoder's internal buffer and
// returns the buffer. The returned slice is only valid until the next
// call to Encode or Reset.
func (e *Encoder) Encode(f Frame) []byte {
	e.encodeInto(f)
	return e.buf
}

// EncodeInto appends the wire form of f to dst and returns the result,
// following the append(dst, ...) convention so callers can reuse a
// caller-owned buffer across many frames.
func EncodeInto(dst []byte, f Frame) []byte {
	return appendFrame(dst, f)
}

// Take returns the accumulated buffer and hands it over to the caller.
// The Encoder drops its reference, so the next Encode starts a fresh
// buffer.
func (e *Encoder) Take() []byte {
	out := e.buf
	e.buf = nil
	return out
}

// Reset discards any buffered bytes.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

func (e *Encoder) encodeInto(f Frame) {
	e.buf = appendFrame(e.buf, f)
}

func appendFrame(dst []byte, f Frame) []byte {
	switch f.kind {
	case KindSimple:
		dst = append(dst, '+')
		dst = append(dst, f.text...)
		return append(dst, '\r', '\n')
	case KindError:
		dst = append(dst, '-')
		dst = append(dst, f.text...)
		return append(dst, '\r', '\n')
	case KindInteger:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, f.num, 10)
		return append(dst, '\r', '\n')
	case KindBulk:
		if f.isNil {
			return append(dst, '$', '-', '1', '\r', '\n')
		}
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(f.bulk)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, f.bulk...)
		return append(dst, '\r', '\n')
	case KindArray:
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(f.arr)), 10)
		dst = append(dst, '\r', '\n')
		for _, elem := range f.arr {
			dst = appendFrame(dst, elem)
		}
		return dst
	default: // KindNull
		return append(dst, '$', '-', '1', '\r', '\n')
	}
}
