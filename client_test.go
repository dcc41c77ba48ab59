package muxis

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muxis/muxis-go/mux"
	"github.com/muxis/muxis-go/proto"
	"github.com/muxis/muxis-go/transport"
)

// serverEcho runs a minimal RESP responder over conn, used to back a
// singleNodeClient in tests without a real Redis server.
func serverEcho(conn net.Conn, reply func(req proto.Frame) proto.Frame) {
	dec := proto.NewDecoder()
	enc := proto.NewEncoder()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Append(buf[:n])
			for {
				f, ok, decErr := dec.Decode()
				if decErr != nil || !ok {
					break
				}
				enc.Reset()
				if _, werr := conn.Write(enc.Encode(reply(f))); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func commandName(f proto.Frame) string {
	elems, ok := f.Elements()
	if !ok || len(elems) == 0 {
		return ""
	}
	name, _ := elems[0].Payload()
	return string(name)
}

func pipedSingleNodeClient(t *testing.T, reply func(req proto.Frame) proto.Frame) *singleNodeClient {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	go serverEcho(serverConn, reply)
	conn := mux.New(transport.FromConn(clientConn, 0))
	t.Cleanup(conn.Close)
	return &singleNodeClient{conn: conn}
}

func TestSingleNodeClientGetFound(t *testing.T) {
	sc := pipedSingleNodeClient(t, func(req proto.Frame) proto.Frame {
		if commandName(req) == "GET" {
			return proto.Bulk([]byte("value-1"))
		}
		return proto.Simple("OK")
	})
	val, ok, err := sc.get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value-1", string(val))
}

func TestSingleNodeClientGetMissing(t *testing.T) {
	sc := pipedSingleNodeClient(t, func(req proto.Frame) proto.Frame {
		return proto.Null()
	})
	val, ok, err := sc.get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestSingleNodeClientSet(t *testing.T) {
	sc := pipedSingleNodeClient(t, func(req proto.Frame) proto.Frame {
		assert.Equal(t, "SET", commandName(req))
		return proto.Simple("OK")
	})
	err := sc.set(context.Background(), "k", []byte("v"))
	require.NoError(t, err)
}

func TestSingleNodeClientDel(t *testing.T) {
	sc := pipedSingleNodeClient(t, func(req proto.Frame) proto.Frame {
		return proto.Integer(2)
	})
	n, err := sc.del(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSingleNodeClientExists(t *testing.T) {
	sc := pipedSingleNodeClient(t, func(req proto.Frame) proto.Frame {
		return proto.Integer(1)
	})
	ok, err := sc.exists(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSingleNodeClientServerErrorPropagates(t *testing.T) {
	sc := pipedSingleNodeClient(t, func(req proto.Frame) proto.Frame {
		return proto.Err("ERR boom")
	})
	_, _, err := sc.get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

// startFakeServer brings up a real TCP listener backed by serverEcho, so
// Connect's single-node path can be exercised end to end, including its
// own transport.Dialer, without a real Redis server.
func startFakeServer(t *testing.T, reply func(req proto.Frame) proto.Frame) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serverEcho(conn, reply)
		}
	}()

	return ln.Addr().String()
}

func TestConnectSingleNodeRoundTrip(t *testing.T) {
	store := map[string]string{}
	addr := startFakeServer(t, func(req proto.Frame) proto.Frame {
		elems, _ := req.Elements()
		name := commandName(req)
		switch name {
		case "SET":
			key, _ := elems[1].Payload()
			val, _ := elems[2].Payload()
			store[string(key)] = string(val)
			return proto.Simple("OK")
		case "GET":
			key, _ := elems[1].Payload()
			v, ok := store[string(key)]
			if !ok {
				return proto.Null()
			}
			return proto.Bulk([]byte(v))
		case "DEL":
			key, _ := elems[1].Payload()
			if _, ok := store[string(key)]; ok {
				delete(store, string(key))
				return proto.Integer(1)
			}
			return proto.Integer(0)
		default:
			return proto.Simple("OK")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, fmt.Sprintf("redis://%s", addr))
	require.NoError(t, err)
	defer client.Close()

	assert.False(t, client.IsCluster())

	require.NoError(t, client.Set(ctx, "k", []byte("v1")))

	val, ok, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", string(val))

	n, err := client.Del(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err = client.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestConnectBareClusterSeedsIsClusterMode(t *testing.T) {
	cu, err := ParseURL("127.0.0.1:7000,127.0.0.1:7001")
	require.NoError(t, err)
	assert.True(t, cu.IsCluster())
}
