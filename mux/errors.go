package mux

import "errors"

// ErrConnectionClosed is delivered to every pending reply channel, and to
// any caller awaiting a reply it had already submitted, when the
// MultiplexedConnection shuts down or its Transport reaches end-of-stream.
var ErrConnectionClosed = errors.New("mux: connection closed")

// ErrSubmit is returned by Submit when the request channel has already
// been closed (the connection is shutting down or has shut down) and the
// caller's Request never made it into the writer's hands.
var ErrSubmit = errors.New("mux: submit failed, connection is shutting down")

// TransportError wraps an underlying Transport read/write failure. Every
// entry in the pending FIFO at the time of a transport failure is
// completed with a TransportError carrying the same Cause.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return "mux: transport error: " + e.Cause.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func newTransportError(cause error) *TransportError {
	return &TransportError{Cause: cause}
}
