// Package mux implements MultiplexedConnection: sharing one Transport
// among many concurrent callers while preserving strict request/reply
// ordering, applying backpressure, and shutting down gracefully.
package mux

import (
	"context"
	"io"
	"sync"

	"github.com/edwingeng/deque/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/muxis/muxis-go/proto"
	"github.com/muxis/muxis-go/transport"
)

// MultiplexedConnection admits arbitrary concurrent callers and serves
// them over a single Transport. A writer goroutine drains the bounded
// request channel, pushes each Request onto the pending FIFO and then
// encodes and writes its Frame; a reader goroutine decodes frames off the
// Transport and pops the oldest pending Request to complete it. A single
// writer pushes in write order, and a Request is already pending before
// its bytes can reach the peer, so every reply finds its Request waiting
// and the reader's pop order equals the writer's push order.
type MultiplexedConnection struct {
	id     string
	tr     transport.Transport
	logger zerolog.Logger

	reqCh      chan *Request
	shutdownCh chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}
	readerDone chan struct{}

	// closeMu guards the transition to closed: Submit holds it for
	// reading while a send is in flight, Close takes it exclusively so
	// that every Submit call that observed closed == false is guaranteed
	// to have its request sitting in reqCh (or still trying to get
	// there) before shutdownCh is closed.
	closeMu sync.RWMutex
	closed  bool

	mu      sync.Mutex
	pending *deque.Deque[*Request]
	failed  error // set once the connection has entered a terminal state

	maxFrameSize int
}

// New starts a MultiplexedConnection over tr. The writer and reader
// goroutines are started immediately and run until Close or a transport
// failure.
func New(tr transport.Transport, opts ...Option) *MultiplexedConnection {
	cfg := newConfig(opts)
	id := uuid.NewString()

	c := &MultiplexedConnection{
		id:         id,
		tr:         tr,
		logger:     cfg.logger.With().Str("conn_id", id).Str("remote_addr", tr.RemoteAddr()).Logger(),
		reqCh:      make(chan *Request, cfg.requestQueueSize),
		shutdownCh: make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone:   make(chan struct{}),
		pending:      deque.NewDeque[*Request](),
		maxFrameSize: cfg.maxFrameSize,
	}

	go c.writeLoop()
	go c.readLoop()
	return c
}

// ID returns the connection's correlation identifier, used in log lines
// to tie writer and reader events together across goroutines.
func (c *MultiplexedConnection) ID() string { return c.id }

// Submit enqueues req for writing. It blocks if the request channel is
// full (backpressure) until the writer drains it or ctx is canceled; a
// Close called meanwhile waits for the blocked Submit to finish. Submit
// does not wait for req to complete; call req.Reply() or select on
// req.Done() for that.
func (c *MultiplexedConnection) Submit(ctx context.Context, req *Request) error {
	if err := c.failure(); err != nil {
		return err
	}

	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return ErrSubmit
	}

	select {
	case c.reqCh <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *MultiplexedConnection) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Close initiates a graceful drain-then-close shutdown: the writer
// finishes writing any requests already buffered in the request channel,
// flushes the Transport, and closes its write half. The reader continues
// until end-of-stream and completes any requests still pending at that
// point with ErrConnectionClosed. Close does not block for that to
// finish; it returns once shutdown has been signaled.
func (c *MultiplexedConnection) Close() {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closed = true
		c.closeMu.Unlock()
		close(c.shutdownCh)
	})
}

// Wait blocks until both the writer and reader goroutines have exited,
// i.e. the connection has fully shut down (gracefully or via transport
// failure).
func (c *MultiplexedConnection) Wait() {
	<-c.writerDone
	<-c.readerDone
}

func (c *MultiplexedConnection) writeLoop() {
	defer close(c.writerDone)
	enc := proto.NewEncoder()

	for {
		select {
		case req := <-c.reqCh:
			c.writeOne(enc, req)
		case <-c.shutdownCh:
			c.drainAndClose(enc)
			return
		}
	}
}

// drainAndClose writes out any requests already sitting in the bounded
// channel before closing the write half, per the graceful-shutdown
// contract: nothing that made it into the writer's hands is abandoned.
func (c *MultiplexedConnection) drainAndClose(enc *proto.Encoder) {
	for {
		select {
		case req := <-c.reqCh:
			c.writeOne(enc, req)
		default:
			if err := c.tr.CloseWrite(); err != nil {
				c.logger.Debug().Err(err).Msg("mux: close write half")
			}
			return
		}
	}
}

func (c *MultiplexedConnection) writeOne(enc *proto.Encoder, req *Request) {
	// Enqueue before the bytes go out: the peer cannot answer a request it
	// has not received, so req is already pending when its reply reaches
	// the reader, and push order equals write order.
	c.mu.Lock()
	if c.failed != nil {
		err := c.failed
		c.mu.Unlock()
		req.complete(Reply{Err: err})
		return
	}
	c.pending.PushFront(req)
	c.mu.Unlock()

	enc.Reset()
	wire := enc.Encode(req.Frame)
	if _, err := c.tr.Write(context.Background(), wire); err != nil {
		// failAll completes req along with everything else pending.
		select {
		case <-c.shutdownCh:
			c.failAll(ErrConnectionClosed)
		default:
			c.failAll(newTransportError(err))
		}
	}
}

func (c *MultiplexedConnection) readLoop() {
	defer close(c.readerDone)
	dec := proto.NewDecoderWithMaxFrameSize(c.maxFrameSize)
	buf := make([]byte, 64*1024)

	for {
		n, err := c.tr.Read(context.Background(), buf)
		if n > 0 {
			dec.Append(buf[:n])
			for {
				frame, ok, decErr := dec.Decode()
				if decErr != nil {
					c.failAll(decErr)
					return
				}
				if !ok {
					break
				}
				c.deliver(frame)
			}
		}
		if err != nil {
			c.onReadError(err)
			return
		}
	}
}

func (c *MultiplexedConnection) deliver(frame proto.Frame) {
	c.mu.Lock()
	if c.pending.Len() == 0 {
		c.mu.Unlock()
		c.logger.Warn().Msg("mux: received frame with no pending request")
		return
	}
	req := c.pending.PopBack()
	c.mu.Unlock()
	req.complete(Reply{Frame: frame})
}

func (c *MultiplexedConnection) onReadError(err error) {
	select {
	case <-c.shutdownCh:
		// Expected end-of-stream after a graceful close: anything still
		// pending never got (and now never will get) a reply.
		c.failAll(ErrConnectionClosed)
	default:
		if err == io.EOF {
			c.failAll(ErrConnectionClosed)
		} else {
			c.failAll(newTransportError(err))
		}
	}
}

// failAll records a terminal error (if one is not already recorded) and
// fans it out to every request currently in the pending FIFO.
func (c *MultiplexedConnection) failAll(err error) {
	c.mu.Lock()
	if c.failed == nil {
		c.failed = err
	}
	recorded := c.failed
	var drained []*Request
	for c.pending.Len() > 0 {
		drained = append(drained, c.pending.PopBack())
	}
	c.mu.Unlock()

	for _, req := range drained {
		req.complete(Reply{Err: recorded})
	}
}
