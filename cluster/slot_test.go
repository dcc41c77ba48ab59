package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCRC16KnownVector checks the table against the standard CRC-16/XMODEM
// check value for the ASCII string "123456789": 0x31C3.
func TestCRC16KnownVector(t *testing.T) {
	assert.Equal(t, uint16(0x31C3), crc16("123456789"))
}

func TestKeySlotInRange(t *testing.T) {
	keys := []string{"", "foo", "mykey", "key:1:value", "用户1000"}
	for _, k := range keys {
		slot := KeySlot(k)
		assert.Less(t, slot, uint16(SlotCount))
	}
}

func TestKeySlotDeterministic(t *testing.T) {
	assert.Equal(t, KeySlot("mykey"), KeySlot("mykey"))
}

func TestKeySlotHashTagGroupsKeys(t *testing.T) {
	a := KeySlot("{user1000}.following")
	b := KeySlot("{user1000}.followers")
	c := KeySlot("{user1000}.posts")
	d := KeySlot("user1000")
	assert.Equal(t, a, b)
	assert.Equal(t, b, c)
	assert.Equal(t, c, d)
}

func TestKeySlotEmptyHashTagIgnored(t *testing.T) {
	// "foo{}{bar}": the first brace pair is empty, so it is not a valid
	// tag and the whole key is hashed instead of falling through to the
	// second pair.
	assert.NotEqual(t, KeySlot("foo{}{bar}"), KeySlot("bar"))
}

func TestKeySlotNestedBraces(t *testing.T) {
	assert.Equal(t, KeySlot("{{bracket}}"), KeySlot("{bracket"))
}

func TestKeySlotUnmatchedBraceUsesWholeKey(t *testing.T) {
	assert.Equal(t, extractHashTag("foo{bar"), "foo{bar")
	assert.Equal(t, extractHashTag("foo}bar"), "foo}bar")
}

func TestExtractHashTag(t *testing.T) {
	cases := map[string]string{
		"foo{bar}":          "bar",
		"{user1000}.posts":  "user1000",
		"prefix{tag}suffix": "tag",
		"no_braces":         "no_braces",
		"foo{}bar":          "foo{}bar",
		"foo{bar}{baz}":     "bar",
		"{a}{b}{c}":         "a",
	}
	for in, want := range cases {
		assert.Equal(t, want, extractHashTag(in), "extractHashTag(%q)", in)
	}
}
