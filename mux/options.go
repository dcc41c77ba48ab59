package mux

import (
	"github.com/rs/zerolog"

	"github.com/muxis/muxis-go/proto"
)

// DefaultRequestQueueSize is the default capacity of the bounded request
// channel a MultiplexedConnection uses for backpressure.
const DefaultRequestQueueSize = 1024

type config struct {
	requestQueueSize int
	maxFrameSize     int
	logger           zerolog.Logger
}

// Option configures a MultiplexedConnection at construction time.
type Option func(*config)

// WithRequestQueueSize overrides the default capacity of the bounded
// request channel (the sole flow-control mechanism between submitters
// and the writer task).
func WithRequestQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.requestQueueSize = n
		}
	}
}

// WithLogger attaches a structured logger used for connection
// diagnostics: a failed close of the write half, and a reply frame that
// arrives with no pending request.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithMaxFrameSize overrides the decoder's cap on a single Bulk payload
// or aggregate element count, guarding against a misbehaving or hostile
// peer claiming an unbounded length.
func WithMaxFrameSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxFrameSize = n
		}
	}
}

func newConfig(opts []Option) config {
	c := config{
		requestQueueSize: DefaultRequestQueueSize,
		maxFrameSize:     proto.DefaultMaxFrameSize,
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
