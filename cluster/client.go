package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/muxis/muxis-go/internal/clock"
	"github.com/muxis/muxis-go/mux"
	"github.com/muxis/muxis-go/proto"
	"github.com/muxis/muxis-go/transport"
)

// clientState tags where a ClusterClient sits in its connect/discover
// lifecycle.
type clientState int32

const (
	stateUninitialized clientState = iota
	stateDiscovering
	stateReady
)

// ClusterClient coordinates SlotCalculator, Topology, NodePool, and
// RedirectEngine behind the key-addressed operations get/set/del/exists
// and a generic Execute. It discovers the cluster's slot assignment from
// a set of seed addresses and transparently follows MOVED/ASK redirects.
type ClusterClient struct {
	seeds []string

	pool   *NodePool
	engine *RedirectEngine
	clock  clock.Clock
	logger zerolog.Logger

	state atomic.Int32

	topoMu sync.RWMutex
	topo   *Topology

	refreshMu     sync.Mutex
	refreshing    bool
	refreshWaitC  chan struct{}
	refreshResult *refreshOutcome
}

// refreshOutcome carries the result of one de-duplicated RefreshTopology
// cycle to every caller that waited on it, not just the one that
// triggered it.
type refreshOutcome struct {
	err error
}

// ClientOption configures optional ClusterClient dependencies.
type ClientOption func(*clientBuildOpts)

type clientBuildOpts struct {
	poolConfig   PoolConfig
	transportCfg transport.Config
	muxOpts      []mux.Option
	clock        clock.Clock
	logger       zerolog.Logger
	dial         DialFunc
	metrics      MetricsHook
	redirectOpts []RedirectEngineOption
}

// WithPoolConfig overrides the NodePool's lifecycle policy.
func WithPoolConfig(cfg PoolConfig) ClientOption {
	return func(o *clientBuildOpts) { o.poolConfig = cfg }
}

// WithTransportConfig overrides connect/IO timeouts and TLS for every
// connection the client dials.
func WithTransportConfig(cfg transport.Config) ClientOption {
	return func(o *clientBuildOpts) { o.transportCfg = cfg }
}

// WithMuxOptions passes through options to every MultiplexedConnection
// the client opens (e.g. WithRequestQueueSize, WithLogger).
func WithMuxOptions(opts ...mux.Option) ClientOption {
	return func(o *clientBuildOpts) { o.muxOpts = opts }
}

// WithClientClock overrides every injectable time source in the client
// (pool sweep, redirect backoff and storm tracking), for deterministic
// tests.
func WithClientClock(c clock.Clock) ClientOption {
	return func(o *clientBuildOpts) { o.clock = c }
}

// WithClientLogger attaches a structured logger to client, pool, and
// redirect-engine lifecycle events.
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(o *clientBuildOpts) { o.logger = l }
}

// WithDialFunc overrides how the client's NodePool opens new connections,
// mainly for tests that substitute an in-memory transport.
func WithDialFunc(dial DialFunc) ClientOption {
	return func(o *clientBuildOpts) { o.dial = dial }
}

// WithClientMetrics attaches an instrumentation hook, threaded through to
// both the NodePool and the RedirectEngine.
func WithClientMetrics(h MetricsHook) ClientOption {
	return func(o *clientBuildOpts) { o.metrics = h }
}

// WithRedirectOptions passes through options to the client's
// RedirectEngine (e.g. WithMaxRedirects, WithRefreshCooldown), mainly
// for a caller-level Options layer that wants to tune the
// retry/backoff/storm schedule per Client.
func WithRedirectOptions(opts ...RedirectEngineOption) ClientOption {
	return func(o *clientBuildOpts) { o.redirectOpts = append(o.redirectOpts, opts...) }
}

// Connect parses addresses (a single "host:port"/"redis://host:port", or
// a comma-separated seed list), builds the supporting NodePool and
// RedirectEngine, and performs initial topology discovery against the
// seeds in order. It fails with ErrClusterUnreachable if every seed
// fails.
func Connect(ctx context.Context, addresses string, opts ...ClientOption) (*ClusterClient, error) {
	seeds, err := parseAddresses(addresses)
	if err != nil {
		return nil, err
	}

	build := clientBuildOpts{
		poolConfig: DefaultPoolConfig(),
		clock:      clock.New(),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&build)
	}
	if build.dial == nil {
		build.dial = defaultDialFunc(build.transportCfg, build.muxOpts)
	}

	c := &ClusterClient{
		seeds:  seeds,
		clock:  build.clock,
		logger: build.logger,
		topo:   NewEmptyTopology(),
	}
	c.pool = NewNodePool(build.poolConfig, build.dial, WithPoolClock(build.clock), WithPoolLogger(build.logger), WithPoolMetrics(build.metrics))
	c.engine = NewRedirectEngine(c.pool, c, append(build.redirectOpts, WithRedirectClock(build.clock), WithRedirectLogger(build.logger), WithRedirectMetrics(build.metrics))...)

	c.state.Store(int32(stateDiscovering))
	if err := c.RefreshTopology(ctx); err != nil {
		return nil, err
	}
	c.state.Store(int32(stateReady))
	return c, nil
}

func defaultDialFunc(cfg transport.Config, muxOpts []mux.Option) DialFunc {
	dialer := transport.NewDialer(cfg)
	return func(ctx context.Context, address string) (*mux.MultiplexedConnection, error) {
		tr, err := dialer.Dial(ctx, address)
		if err != nil {
			return nil, err
		}
		return mux.New(tr, muxOpts...), nil
	}
}

// parseAddresses splits a comma-separated seed list into normalized
// "host:port" strings, stripping any redis:// or rediss:// scheme.
func parseAddresses(addresses string) ([]string, error) {
	var seeds []string
	for _, addr := range strings.Split(addresses, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		addr = strings.TrimPrefix(addr, "rediss://")
		addr = strings.TrimPrefix(addr, "redis://")
		seeds = append(seeds, addr)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("cluster: no valid seed addresses provided")
	}
	return seeds, nil
}

// State reports the client's current lifecycle state, mainly for tests
// and diagnostics.
func (c *ClusterClient) State() string {
	switch clientState(c.state.Load()) {
	case stateDiscovering:
		return "discovering"
	case stateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Topology returns the currently published Topology snapshot. The
// snapshot is immutable; callers may retain it without risk of seeing a
// torn update.
func (c *ClusterClient) Topology() *Topology {
	c.topoMu.RLock()
	defer c.topoMu.RUnlock()
	return c.topo
}

// MasterFor implements Topologist for the RedirectEngine.
func (c *ClusterClient) MasterFor(slot uint16) (string, bool) {
	c.topoMu.RLock()
	defer c.topoMu.RUnlock()
	n, ok := c.topo.MasterFor(slot)
	if !ok {
		return "", false
	}
	return n.Address, true
}

// RepointSlot implements Topologist's cheap single-slot repoint: it
// publishes a new Topology snapshot that differs only in slot's master,
// bumping the generation counter, without a full rediscovery round-trip.
func (c *ClusterClient) RepointSlot(slot uint16, address string) {
	c.topoMu.Lock()
	defer c.topoMu.Unlock()

	next := c.topo.withRepointedSlot(slot, address)
	next.Generation = c.topo.Generation + 1
	c.topo = next
}

// RefreshTopology performs a full topology rediscovery against the seed
// nodes in order, publishing the result atomically. Concurrent callers
// converge on a single in-flight refresh.
func (c *ClusterClient) RefreshTopology(ctx context.Context) error {
	c.refreshMu.Lock()
	if c.refreshing {
		wait := c.refreshWaitC
		result := c.refreshResult
		c.refreshMu.Unlock()
		select {
		case <-wait:
			return result.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.refreshing = true
	c.refreshWaitC = make(chan struct{})
	result := &refreshOutcome{}
	c.refreshResult = result
	c.refreshMu.Unlock()

	result.err = c.doRefresh(ctx)

	c.refreshMu.Lock()
	c.refreshing = false
	close(c.refreshWaitC)
	c.refreshMu.Unlock()

	return result.err
}

func (c *ClusterClient) doRefresh(ctx context.Context) error {
	var lastErr error
	for _, seed := range c.seeds {
		topo, err := c.discoverFrom(ctx, seed)
		if err != nil {
			lastErr = err
			continue
		}

		c.topoMu.Lock()
		topo.Generation = c.topo.Generation + 1
		c.topo = topo
		c.topoMu.Unlock()
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("cluster: no seed nodes configured")
	}
	return fmt.Errorf("%w: failed to refresh topology from any seed node: %w", ErrClusterUnreachable, lastErr)
}

// discoverFrom queries one seed with CLUSTER SLOTS, falling back to
// CLUSTER NODES if the server rejects the Slots form (some
// configurations, and older servers, only support the text form).
func (c *ClusterClient) discoverFrom(ctx context.Context, seed string) (*Topology, error) {
	nc, err := c.pool.Acquire(ctx, seed)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(nc)

	req := mux.NewRequest(clusterSlotsCommand())
	if err := nc.Conn.Submit(ctx, req); err != nil {
		nc.MarkUnhealthy()
		return nil, err
	}
	rep := req.Reply()
	if rep.Err != nil {
		nc.MarkUnhealthy()
		return nil, rep.Err
	}

	if _, isErr := rep.Frame.IsError(); !isErr {
		topo, err := ParseClusterSlots(rep.Frame)
		if err == nil {
			return topo, nil
		}
	}

	nodesReq := mux.NewRequest(clusterNodesCommand())
	if err := nc.Conn.Submit(ctx, nodesReq); err != nil {
		nc.MarkUnhealthy()
		return nil, err
	}
	nodesRep := nodesReq.Reply()
	if nodesRep.Err != nil {
		nc.MarkUnhealthy()
		return nil, nodesRep.Err
	}
	return ParseClusterNodes(nodesRep.Frame)
}

// validateSameSlot computes the slot for every key and fails CrossSlot
// if they do not all agree, as required before any multi-key operation
// can be routed to a single node.
func validateSameSlot(keys []string) (uint16, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("cluster: no keys given")
	}
	slot := KeySlot(keys[0])
	for _, k := range keys[1:] {
		if KeySlot(k) != slot {
			return 0, &CrossSlotError{Keys: keys}
		}
	}
	return slot, nil
}

// Get retrieves the value for key, or (nil, false) if it does not exist.
func (c *ClusterClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	reply, err := c.engine.Execute(ctx, getCommand(key), KeySlot(key), true)
	if err != nil {
		return nil, false, err
	}
	if errText, isErr := reply.IsError(); isErr {
		return nil, false, &ServerError{Message: errText}
	}
	if reply.IsNull() {
		return nil, false, nil
	}
	payload, ok := reply.Payload()
	if !ok {
		return nil, false, fmt.Errorf("cluster: unexpected response type for GET")
	}
	return payload, true, nil
}

// Set stores value under key.
func (c *ClusterClient) Set(ctx context.Context, key string, value []byte) error {
	reply, err := c.engine.Execute(ctx, setCommand(key, value), KeySlot(key), false)
	if err != nil {
		return err
	}
	if errText, isErr := reply.IsError(); isErr {
		return &ServerError{Message: errText}
	}
	return nil
}

// Del deletes keys, which must all hash to the same slot, returning the
// number of keys actually removed.
func (c *ClusterClient) Del(ctx context.Context, keys ...string) (int64, error) {
	slot, err := validateSameSlot(keys)
	if err != nil {
		return 0, err
	}
	reply, err := c.engine.Execute(ctx, delCommand(keys...), slot, false)
	if err != nil {
		return 0, err
	}
	if errText, isErr := reply.IsError(); isErr {
		return 0, &ServerError{Message: errText}
	}
	n, ok := reply.Int()
	if !ok {
		return 0, fmt.Errorf("cluster: unexpected response type for DEL")
	}
	return n, nil
}

// Exists reports whether any of keys (which must all hash to the same
// slot) exists.
func (c *ClusterClient) Exists(ctx context.Context, keys ...string) (bool, error) {
	slot, err := validateSameSlot(keys)
	if err != nil {
		return false, err
	}
	reply, err := c.engine.Execute(ctx, existsCommand(keys...), slot, true)
	if err != nil {
		return false, err
	}
	if errText, isErr := reply.IsError(); isErr {
		return false, &ServerError{Message: errText}
	}
	n, ok := reply.Int()
	if !ok {
		return false, fmt.Errorf("cluster: unexpected response type for EXISTS")
	}
	return n > 0, nil
}

// Execute runs an arbitrary command Frame against the node owning slot,
// following redirects exactly as Get/Set/Del/Exists do. idempotent
// controls whether the RedirectEngine may retry the command after a
// transport failure of unknown outcome.
func (c *ClusterClient) Execute(ctx context.Context, frame proto.Frame, slot uint16, idempotent bool) (proto.Frame, error) {
	return c.engine.Execute(ctx, frame, slot, idempotent)
}

// Close releases the NodePool's connections and stops its sweep.
func (c *ClusterClient) Close() {
	c.pool.Close()
}
