package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/muxis/muxis-go/internal/clock"
	"github.com/muxis/muxis-go/mux"
)

// DefaultMaxConnectionsPerNode caps how many MultiplexedConnections the
// pool keeps open to any single node.
const DefaultMaxConnectionsPerNode = 10

// DefaultMinIdlePerNode is the number of idle connections per node the
// health-check sweep leaves alone even past MaxIdleTime.
const DefaultMinIdlePerNode = 1

// DefaultMaxIdleTime is how long a connection may sit unused before the
// sweep is allowed to close it.
const DefaultMaxIdleTime = 5 * time.Minute

// DefaultHealthCheckInterval is how often the sweep runs.
const DefaultHealthCheckInterval = 30 * time.Second

// healthProbePingTimeout bounds the PING the sweep issues against each
// idle connection it is about to leave pooled. A connection that fails
// to answer in time is treated the same as one already marked
// unhealthy: closed and evicted rather than handed back out.
const healthProbePingTimeout = 2 * time.Second

// PoolConfig controls a NodePool's connection lifecycle policy.
type PoolConfig struct {
	MaxConnectionsPerNode int
	MinIdlePerNode        int
	MaxIdleTime           time.Duration
	HealthCheckInterval   time.Duration
}

// DefaultPoolConfig returns the documented defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnectionsPerNode: DefaultMaxConnectionsPerNode,
		MinIdlePerNode:        DefaultMinIdlePerNode,
		MaxIdleTime:           DefaultMaxIdleTime,
		HealthCheckInterval:   DefaultHealthCheckInterval,
	}
}

// DialFunc opens a new MultiplexedConnection to address. NodePool never
// dials directly; it is handed a DialFunc so the owning ClusterClient
// controls TLS, per-node auth, and Transport configuration.
type DialFunc func(ctx context.Context, address string) (*mux.MultiplexedConnection, error)

// NodeConnection wraps one MultiplexedConnection with the pool
// bookkeeping the spec's NodeConnection type carries: creation and
// last-use timestamps, a health flag, and a use count.
type NodeConnection struct {
	Conn      *mux.MultiplexedConnection
	Address   string
	CreatedAt time.Time
	LastUsed  time.Time
	UseCount  uint64
	healthy   bool
}

// Healthy reports whether the connection is still eligible for reuse.
func (nc *NodeConnection) Healthy() bool { return nc.healthy }

// MarkUnhealthy flags nc for replacement; a subsequent Release will close
// it instead of returning it to the free list.
func (nc *NodeConnection) MarkUnhealthy() { nc.healthy = false }

type nodeState struct {
	free    []*NodeConnection
	numOpen int
	waiters []chan *NodeConnection
}

// NodePool manages, per node address, a bounded set of live
// MultiplexedConnections with idle eviction and periodic health checks.
// All operations are safe under concurrent access from many goroutines.
type NodePool struct {
	cfg     PoolConfig
	dial    DialFunc
	clock   clock.Clock
	logger  zerolog.Logger
	metrics MetricsHook

	mu    sync.Mutex
	nodes map[string]*nodeState

	stopCh   chan struct{}
	stopOnce sync.Once
	swept    chan struct{}
}

// NewNodePool constructs a NodePool. dial is used to open new
// connections on demand; the sweep goroutine is started immediately.
func NewNodePool(cfg PoolConfig, dial DialFunc, opts ...PoolOption) *NodePool {
	p := &NodePool{
		cfg:     cfg,
		dial:    dial,
		clock:   clock.New(),
		logger:  zerolog.Nop(),
		metrics: noopMetrics{},
		nodes:   map[string]*nodeState{},
		stopCh:  make(chan struct{}),
		swept:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.sweepLoop()
	return p
}

// PoolOption configures optional NodePool dependencies.
type PoolOption func(*NodePool)

// WithPoolClock overrides the pool's time source, for deterministic tests
// of idle eviction and the health-check sweep.
func WithPoolClock(c clock.Clock) PoolOption {
	return func(p *NodePool) { p.clock = c }
}

// WithPoolLogger attaches a structured logger to pool lifecycle events.
func WithPoolLogger(l zerolog.Logger) PoolOption {
	return func(p *NodePool) { p.logger = l }
}

// WithPoolMetrics attaches an instrumentation hook for pool saturation
// and wait-time observability.
func WithPoolMetrics(h MetricsHook) PoolOption {
	return func(p *NodePool) {
		if h != nil {
			p.metrics = h
		}
	}
}

func (p *NodePool) stateFor(address string) *nodeState {
	s, ok := p.nodes[address]
	if !ok {
		s = &nodeState{}
		p.nodes[address] = s
	}
	return s
}

// Acquire returns an existing healthy, idle connection to address if one
// is free; otherwise it opens a new one (up to MaxConnectionsPerNode);
// otherwise it waits for one to be released or for ctx to be canceled.
func (p *NodePool) Acquire(ctx context.Context, address string) (*NodeConnection, error) {
	for {
		p.mu.Lock()
		s := p.stateFor(address)

		for len(s.free) > 0 {
			nc := s.free[len(s.free)-1]
			s.free = s.free[:len(s.free)-1]
			if !nc.healthy {
				s.numOpen--
				nc.Conn.Close()
				continue
			}
			p.mu.Unlock()
			nc.LastUsed = p.clock.Now()
			nc.UseCount++
			return nc, nil
		}

		if s.numOpen < p.cfg.MaxConnectionsPerNode {
			s.numOpen++
			p.mu.Unlock()

			conn, err := p.dial(ctx, address)
			if err != nil {
				p.mu.Lock()
				s.numOpen--
				p.mu.Unlock()
				return nil, fmt.Errorf("cluster: dial %s: %w", address, err)
			}

			now := p.clock.Now()
			return &NodeConnection{
				Conn:      conn,
				Address:   address,
				CreatedAt: now,
				LastUsed:  now,
				UseCount:  1,
				healthy:   true,
			}, nil
		}

		wait := make(chan *NodeConnection, 1)
		s.waiters = append(s.waiters, wait)
		p.mu.Unlock()
		p.metrics.PoolSaturated(address)
		waitStart := p.clock.Now()

		select {
		case nc, ok := <-wait:
			if !ok {
				// Close closed the waiter channel without handing over a
				// connection; retry from the top.
				continue
			}
			p.metrics.PoolWait(p.clock.Now().Sub(waitStart))
			nc.LastUsed = p.clock.Now()
			nc.UseCount++
			return nc, nil
		case <-ctx.Done():
			p.removeWaiter(address, wait)
			return nil, ctx.Err()
		}
	}
}

func (p *NodePool) removeWaiter(address string, wait chan *NodeConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stateFor(address)
	for i, w := range s.waiters {
		if w == wait {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			break
		}
	}
}

// Release returns nc to the pool if it is healthy and has not
// overstayed MaxIdleTime; otherwise the underlying connection is closed
// and the node's open-connection count is decremented.
func (p *NodePool) Release(nc *NodeConnection) {
	p.mu.Lock()
	s := p.stateFor(nc.Address)

	if len(s.waiters) > 0 && nc.healthy {
		wait := s.waiters[0]
		s.waiters = s.waiters[1:]
		p.mu.Unlock()
		wait <- nc
		return
	}

	if !nc.healthy || p.clock.Now().Sub(nc.LastUsed) > p.cfg.MaxIdleTime {
		s.numOpen--
		p.mu.Unlock()
		nc.Conn.Close()
		return
	}

	nc.LastUsed = p.clock.Now()
	s.free = append(s.free, nc)
	p.mu.Unlock()
}

// MarkUnhealthy flags every currently-idle connection to address as
// unhealthy so the next Acquire discards it instead of handing it out,
// and Release will close it instead of pooling it. Connections currently
// checked out are unaffected until they are released.
func (p *NodePool) MarkUnhealthy(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.nodes[address]
	if !ok {
		return
	}
	for _, nc := range s.free {
		nc.MarkUnhealthy()
	}
}

// Close stops the sweep goroutine and closes every pooled connection.
func (p *NodePool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.swept

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.nodes {
		for _, nc := range s.free {
			nc.Conn.Close()
		}
		s.free = nil
		for _, w := range s.waiters {
			close(w)
		}
		s.waiters = nil
	}
}

func (p *NodePool) sweepLoop() {
	defer close(p.swept)
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.clock.After(p.cfg.HealthCheckInterval):
			p.sweepOnce()
		}
	}
}

// sweepOnce evicts idle-overage and unhealthy connections, leaving at
// least MinIdlePerNode free connections per node untouched. Connections
// that survive the idle check are then PING-probed; one that fails to
// answer is evicted too, even though it looked idle-fresh.
func (p *NodePool) sweepOnce() {
	p.mu.Lock()
	now := p.clock.Now()
	var toClose []*NodeConnection
	var toProbe []*NodeConnection
	for _, s := range p.nodes {
		healthyFree := 0
		for _, nc := range s.free {
			if nc.healthy {
				healthyFree++
			}
		}
		kept := s.free[:0]
		for _, nc := range s.free {
			expired := now.Sub(nc.LastUsed) > p.cfg.MaxIdleTime
			if !nc.healthy || (expired && healthyFree > p.cfg.MinIdlePerNode) {
				if nc.healthy {
					healthyFree--
				}
				s.numOpen--
				toClose = append(toClose, nc)
				continue
			}
			kept = append(kept, nc)
			toProbe = append(toProbe, nc)
		}
		s.free = kept
	}
	p.mu.Unlock()

	for _, nc := range toClose {
		nc.Conn.Close()
	}

	for _, nc := range toProbe {
		if !p.ping(nc) {
			p.evictUnresponsive(nc)
		}
	}
}

// ping issues a liveness probe against nc and reports whether it
// answered in time.
func (p *NodePool) ping(nc *NodeConnection) bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthProbePingTimeout)
	defer cancel()

	req := mux.NewRequest(pingCommand())
	if err := nc.Conn.Submit(ctx, req); err != nil {
		p.logger.Warn().Err(err).Str("address", nc.Address).Msg("health-check ping submit failed")
		return false
	}
	var reply mux.Reply
	select {
	case reply = <-req.Done():
	case <-ctx.Done():
		p.logger.Warn().Err(ctx.Err()).Str("address", nc.Address).Msg("health-check ping timed out")
		return false
	}
	if reply.Err != nil {
		p.logger.Warn().Err(reply.Err).Str("address", nc.Address).Msg("health-check ping failed")
		return false
	}
	if errText, isErr := reply.Frame.IsError(); isErr {
		p.logger.Warn().Str("address", nc.Address).Str("error", errText).Msg("health-check ping returned an error")
		return false
	}
	return true
}

// evictUnresponsive removes nc from the free list (if it is still
// there, i.e. it was not concurrently handed out by Acquire) and closes
// it.
func (p *NodePool) evictUnresponsive(nc *NodeConnection) {
	p.mu.Lock()
	s := p.stateFor(nc.Address)
	removed := false
	for i, c := range s.free {
		if c == nc {
			s.free = append(s.free[:i], s.free[i+1:]...)
			s.numOpen--
			removed = true
			break
		}
	}
	p.mu.Unlock()

	if removed {
		nc.Conn.Close()
	} else {
		nc.MarkUnhealthy()
	}
}
