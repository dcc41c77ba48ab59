package cluster

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClusterErrorMoved(t *testing.T) {
	err := parseClusterError("MOVED 3999 127.0.0.1:7000")
	var moved *MovedError
	require.True(t, errors.As(err, &moved))
	assert.Equal(t, uint16(3999), moved.Slot)
	assert.Equal(t, "127.0.0.1:7000", moved.Address)
}

func TestParseClusterErrorAsk(t *testing.T) {
	err := parseClusterError("ASK 12345 192.168.1.100:6379")
	var ask *AskError
	require.True(t, errors.As(err, &ask))
	assert.Equal(t, uint16(12345), ask.Slot)
	assert.Equal(t, "192.168.1.100:6379", ask.Address)
}

func TestParseClusterErrorClusterDown(t *testing.T) {
	assert.ErrorIs(t, parseClusterError("CLUSTERDOWN Hash slot not served"), ErrClusterDown)
	assert.ErrorIs(t, parseClusterError("CLUSTERDOWN"), ErrClusterDown)
}

func TestParseClusterErrorCrossSlot(t *testing.T) {
	err := parseClusterError("CROSSSLOT Keys in request don't hash to the same slot")
	var cs *CrossSlotError
	assert.True(t, errors.As(err, &cs))
}

func TestParseClusterErrorGeneric(t *testing.T) {
	err := parseClusterError("ERR unknown command")
	var se *ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "ERR unknown command", se.Message)
}

func TestParseClusterErrorMovedWithWhitespace(t *testing.T) {
	err := parseClusterError("  MOVED 100 localhost:7001  ")
	var moved *MovedError
	require.True(t, errors.As(err, &moved))
	assert.Equal(t, uint16(100), moved.Slot)
	assert.Equal(t, "localhost:7001", moved.Address)
}

func TestParseClusterErrorMovedInvalidSlotFallsBackToServer(t *testing.T) {
	err := parseClusterError("MOVED invalid 127.0.0.1:7000")
	var se *ServerError
	assert.True(t, errors.As(err, &se))
}

func TestParseClusterErrorMovedMissingAddressFallsBackToServer(t *testing.T) {
	err := parseClusterError("MOVED 3999")
	var se *ServerError
	assert.True(t, errors.As(err, &se))
}

func TestParseRedirectArgsIPv6(t *testing.T) {
	slot, addr, ok := parseRedirectArgs("1234 [::1]:7000")
	require.True(t, ok)
	assert.Equal(t, uint16(1234), slot)
	assert.Equal(t, "[::1]:7000", addr)
}

func TestParseRedirectArgsHostname(t *testing.T) {
	slot, addr, ok := parseRedirectArgs("999 redis-master.local:6379")
	require.True(t, ok)
	assert.Equal(t, uint16(999), slot)
	assert.Equal(t, "redis-master.local:6379", addr)
}

func TestParseRedirectArgsInvalid(t *testing.T) {
	_, _, ok := parseRedirectArgs("3999")
	assert.False(t, ok)
	_, _, ok = parseRedirectArgs("")
	assert.False(t, ok)
	_, _, ok = parseRedirectArgs("invalid 127.0.0.1:7000")
	assert.False(t, ok)
}
