// Package proto implements the wire framing for the line-oriented server
// protocol: the Frame value type plus a streaming Encoder and Decoder.
package proto

import "fmt"

// Kind discriminates the variant held by a Frame.
type Kind uint8

const (
	// KindNull is the distinguished absent value. It is also the zero
	// value of Kind, so a zero-value Frame is Null.
	KindNull Kind = iota
	KindSimple
	KindError
	KindInteger
	KindBulk
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "Simple"
	case KindError:
		return "Error"
	case KindInteger:
		return "Integer"
	case KindBulk:
		return "Bulk"
	case KindArray:
		return "Array"
	default:
		return "Null"
	}
}

// Frame is a tagged union over the six primitive message types of the
// server protocol. It is a value type: copying a Frame never copies a
// Bulk payload, since the payload is carried behind a shared slice.
type Frame struct {
	kind  Kind
	text  string  // Simple, Error
	num   int64   // Integer
	bulk  []byte  // Bulk payload (a nil slice is a zero-length payload; isNil marks Null)
	isNil bool    // Bulk that is the Null sentinel ($-1)
	arr   []Frame // Array
}

// Simple builds a Simple Status frame. s must contain no CR or LF bytes.
func Simple(s string) Frame { return Frame{kind: KindSimple, text: s} }

// Err builds an Error frame. s must contain no CR or LF bytes.
func Err(s string) Frame { return Frame{kind: KindError, text: s} }

// Integer builds an Integer frame.
func Integer(n int64) Frame { return Frame{kind: KindInteger, num: n} }

// Bulk builds a Bulk frame wrapping b. The caller must not mutate b after
// passing it in if the resulting Frame escapes, since Frame sharing means
// clones observe the same backing array.
func Bulk(b []byte) Frame { return Frame{kind: KindBulk, bulk: b} }

// NullBulk builds the Bulk-shaped absent value ($-1\r\n on the wire).
func NullBulk() Frame { return Frame{kind: KindBulk, isNil: true} }

// Array builds an Array frame from the given elements. The slice is
// retained, not copied.
func Array(elems []Frame) Frame { return Frame{kind: KindArray, arr: elems} }

// Null builds the distinguished Null frame. It encodes as $-1\r\n;
// *-1\r\n also decodes to it.
func Null() Frame { return Frame{kind: KindNull} }

// Kind reports which variant f holds.
func (f Frame) Kind() Kind { return f.kind }

// IsNull reports whether f is the Null frame or a nil Bulk.
func (f Frame) IsNull() bool {
	return f.kind == KindNull || (f.kind == KindBulk && f.isNil)
}

// Text returns the payload of a Simple or Error frame.
func (f Frame) Text() (string, bool) {
	if f.kind == KindSimple || f.kind == KindError {
		return f.text, true
	}
	return "", false
}

// Int returns the payload of an Integer frame.
func (f Frame) Int() (int64, bool) {
	if f.kind == KindInteger {
		return f.num, true
	}
	return 0, false
}

// Payload returns the payload of a non-nil Bulk frame. It returns
// (nil, false) for every other variant, including a nil Bulk.
func (f Frame) Payload() ([]byte, bool) {
	if f.kind == KindBulk && !f.isNil {
		return f.bulk, true
	}
	return nil, false
}

// Elements returns the elements of an Array frame.
func (f Frame) Elements() ([]Frame, bool) {
	if f.kind == KindArray {
		return f.arr, true
	}
	return nil, false
}

// IsError reports whether f is an Error frame, and if so its text.
func (f Frame) IsError() (string, bool) {
	if f.kind == KindError {
		return f.text, true
	}
	return "", false
}

// Equal reports whether f and other encode the same value. It is mainly
// useful in tests asserting round-trip behavior.
func (f Frame) Equal(other Frame) bool {
	if f.kind != other.kind {
		return false
	}
	switch f.kind {
	case KindSimple, KindError:
		return f.text == other.text
	case KindInteger:
		return f.num == other.num
	case KindBulk:
		if f.isNil != other.isNil {
			return false
		}
		if f.isNil {
			return true
		}
		return string(f.bulk) == string(other.bulk)
	case KindArray:
		if len(f.arr) != len(other.arr) {
			return false
		}
		for i := range f.arr {
			if !f.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders a human-readable form of f, mainly for logging and test
// failure messages.
func (f Frame) String() string {
	switch f.kind {
	case KindSimple:
		return f.text
	case KindError:
		return "(error) " + f.text
	case KindInteger:
		return fmt.Sprintf("%d", f.num)
	case KindBulk:
		if f.isNil {
			return "(nil)"
		}
		return fmt.Sprintf("%q", f.bulk)
	case KindArray:
		if f.arr == nil {
			return "(nil array)"
		}
		out := "["
		for i, e := range f.arr {
			if i > 0 {
				out += ", "
			}
			out += e.String()
		}
		return out + "]"
	default:
		return "(nil)"
	}
}
