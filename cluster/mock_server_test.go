package cluster

import (
	"net"

	"github.com/muxis/muxis-go/proto"
)

// serverEcho runs a trivial mock node on one end of a net.Pipe: it
// decodes frames written by the client and, for each one, invokes reply
// to compute what to send back. It stops when the pipe is closed.
func serverEcho(conn net.Conn, reply func(req proto.Frame, index int) proto.Frame) {
	dec := proto.NewDecoder()
	enc := proto.NewEncoder()
	buf := make([]byte, 4096)
	index := 0
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
				wire := enc.Encode(reply(f, index))
				index++
				if _, werr := conn.Write(wire); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}
