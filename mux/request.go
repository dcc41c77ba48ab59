package mux

import "github.com/muxis/muxis-go/proto"

// Request is a single unit of work submitted to a MultiplexedConnection:
// a Frame to write to the server and a single-use channel the connection
// completes exactly once, with either the matching reply Frame or a
// terminal error.
//
// Whether re-sending a Frame is safe after a transport failure of
// unknown outcome is a caller-level policy decision, not something
// Request tracks itself — see the cluster package's RedirectEngine,
// which threads its own idempotent flag through to Execute.
type Request struct {
	Frame proto.Frame

	reply chan Reply
	done  bool
}

// Reply is the outcome of a Request: exactly one of Frame or Err is set.
type Reply struct {
	Frame proto.Frame
	Err   error
}

// NewRequest builds a Request wrapping f. The returned Request has not
// yet been submitted to any connection.
func NewRequest(f proto.Frame) *Request {
	return &Request{
		Frame: f,
		reply: make(chan Reply, 1),
	}
}

// Reply blocks until the Request completes and returns its outcome. The
// reply channel carries a single value, so Reply returns only once per
// Request: a second call, or a call after a value was received from
// Done, blocks forever.
func (r *Request) Reply() Reply {
	return <-r.reply
}

// Done returns a channel that is closed-equivalent (receives exactly one
// value) when the Request completes, for use in select statements
// alongside cancellation.
func (r *Request) Done() <-chan Reply {
	return r.reply
}

func (r *Request) complete(rep Reply) {
	if r.done {
		return
	}
	r.done = true
	r.reply <- rep
}
