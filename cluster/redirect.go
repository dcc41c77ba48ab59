package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/muxis/muxis-go/internal/clock"
	"github.com/muxis/muxis-go/mux"
	"github.com/muxis/muxis-go/proto"
)

// MaxRedirects bounds the number of MOVED/ASK hops a single Execute call
// will follow before failing with ErrTooManyRedirects.
const MaxRedirects = 5

// MaxRetriesOnIO bounds the number of transport-failure retries a single
// Execute call will attempt before surfacing the last error.
const MaxRetriesOnIO = 3

// RetryDelayBase is the base of the I/O retry backoff schedule
// (100ms, 200ms, 400ms — doubled each attempt).
const RetryDelayBase = 100 * time.Millisecond

// MovedStormThreshold is the number of MOVED errors within
// MovedStormWindow that, once exceeded, triggers a full topology refresh.
const MovedStormThreshold = 10

// MovedStormWindow is the sliding window over which MOVED errors are
// counted for storm detection.
const MovedStormWindow = time.Second

// RefreshCooldown is the minimum interval between storm-triggered
// topology refreshes.
const RefreshCooldown = 500 * time.Millisecond

// redirectSchedule holds the per-engine overridable copies of the
// package-level defaults above, so that callers (the root Options
// layer) can tune the retry/backoff/storm schedule per Client without
// touching the process-wide constants.
type redirectSchedule struct {
	maxRedirects        int
	maxRetriesOnIO      int
	retryDelayBase      time.Duration
	movedStormThreshold int
	movedStormWindow    time.Duration
	refreshCooldown     time.Duration
}

func defaultRedirectSchedule() redirectSchedule {
	return redirectSchedule{
		maxRedirects:        MaxRedirects,
		maxRetriesOnIO:      MaxRetriesOnIO,
		retryDelayBase:      RetryDelayBase,
		movedStormThreshold: MovedStormThreshold,
		movedStormWindow:    MovedStormWindow,
		refreshCooldown:     RefreshCooldown,
	}
}

// Topologist is the subset of ClusterClient that RedirectEngine depends
// on: slot lookup, a cheap single-slot repoint that does not require a
// full rediscovery, and a de-duplicated full refresh.
type Topologist interface {
	MasterFor(slot uint16) (address string, ok bool)
	RepointSlot(slot uint16, address string)
	RefreshTopology(ctx context.Context) error
}

// RedirectEngine executes a single request against the cluster, handling
// MOVED and ASK redirects and transient I/O failures transparently, and
// throttling topology refreshes during a MOVED storm.
type RedirectEngine struct {
	pool    *NodePool
	topo    Topologist
	clock   clock.Clock
	logger  zerolog.Logger
	metrics MetricsHook
	sched   redirectSchedule

	stormMu       sync.Mutex
	stormEvents   []time.Time
	cooldownUntil time.Time
}

// RedirectEngineOption configures optional RedirectEngine dependencies.
type RedirectEngineOption func(*RedirectEngine)

// WithRedirectClock overrides the engine's time source, for deterministic
// tests of storm throttling and backoff timing.
func WithRedirectClock(c clock.Clock) RedirectEngineOption {
	return func(e *RedirectEngine) { e.clock = c }
}

// WithRedirectLogger attaches a structured logger to redirect events.
func WithRedirectLogger(l zerolog.Logger) RedirectEngineOption {
	return func(e *RedirectEngine) { e.logger = l }
}

// WithRedirectMetrics attaches an instrumentation hook for redirect
// counts, MOVED/ASK observations, and I/O retry counts.
func WithRedirectMetrics(h MetricsHook) RedirectEngineOption {
	return func(e *RedirectEngine) {
		if h != nil {
			e.metrics = h
		}
	}
}

// WithMaxRedirects overrides MaxRedirects for this engine instance.
func WithMaxRedirects(n int) RedirectEngineOption {
	return func(e *RedirectEngine) {
		if n > 0 {
			e.sched.maxRedirects = n
		}
	}
}

// WithMaxRetriesOnIO overrides MaxRetriesOnIO for this engine instance.
func WithMaxRetriesOnIO(n int) RedirectEngineOption {
	return func(e *RedirectEngine) {
		if n > 0 {
			e.sched.maxRetriesOnIO = n
		}
	}
}

// WithRetryDelayBase overrides RetryDelayBase for this engine instance.
func WithRetryDelayBase(d time.Duration) RedirectEngineOption {
	return func(e *RedirectEngine) {
		if d > 0 {
			e.sched.retryDelayBase = d
		}
	}
}

// WithMovedStormThreshold overrides MovedStormThreshold for this engine
// instance.
func WithMovedStormThreshold(n int) RedirectEngineOption {
	return func(e *RedirectEngine) {
		if n > 0 {
			e.sched.movedStormThreshold = n
		}
	}
}

// WithMovedStormWindow overrides MovedStormWindow for this engine
// instance.
func WithMovedStormWindow(d time.Duration) RedirectEngineOption {
	return func(e *RedirectEngine) {
		if d > 0 {
			e.sched.movedStormWindow = d
		}
	}
}

// WithRefreshCooldown overrides RefreshCooldown for this engine
// instance.
func WithRefreshCooldown(d time.Duration) RedirectEngineOption {
	return func(e *RedirectEngine) {
		if d > 0 {
			e.sched.refreshCooldown = d
		}
	}
}

// NewRedirectEngine constructs a RedirectEngine over pool, resolving
// masters and triggering refreshes through topo.
func NewRedirectEngine(pool *NodePool, topo Topologist, opts ...RedirectEngineOption) *RedirectEngine {
	e := &RedirectEngine{
		pool:    pool,
		topo:    topo,
		clock:   clock.New(),
		logger:  zerolog.Nop(),
		metrics: noopMetrics{},
		sched:   defaultRedirectSchedule(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute submits frame to the node owning slot, retrying on redirect and
// (when idempotent) on transient I/O failure, until a non-redirect reply
// is obtained or a retry budget is exhausted.
//
// The returned Frame is the server's reply verbatim — including an Error
// frame for a non-cluster server error, which is not mapped into the
// returned Go error. The Go error is reserved for engine-level failures:
// ClusterDown, TooManyRedirects, ClusterUnreachable, and I/O failures
// whose retry budget is exhausted.
func (e *RedirectEngine) Execute(ctx context.Context, frame proto.Frame, slot uint16, idempotent bool) (proto.Frame, error) {
	redirects := 0
	ioAttempts := 0

	for {
		e.metrics.RedirectAttempted()
		addr, err := e.resolveMaster(ctx, slot)
		if err != nil {
			return proto.Frame{}, err
		}

		reply, ioErr := e.sendOnce(ctx, addr, frame)
		if ioErr != nil {
			ioAttempts++
			e.pool.MarkUnhealthy(addr)
			if !idempotent || ioAttempts > e.sched.maxRetriesOnIO {
				return proto.Frame{}, ioErr
			}
			e.metrics.IORetried()
			if err := e.backoffWait(ctx, ioAttempts); err != nil {
				return proto.Frame{}, err
			}
			go e.topo.RefreshTopology(context.Background())
			continue
		}

		errText, isErr := reply.IsError()
		if !isErr {
			return reply, nil
		}

		cerr := parseClusterError(errText)
		if errors.Is(cerr, ErrClusterDown) {
			return proto.Frame{}, ErrClusterDown
		}

		switch v := cerr.(type) {
		case *MovedError:
			redirects++
			e.metrics.MovedObserved()
			if redirects > e.sched.maxRedirects {
				return proto.Frame{}, ErrTooManyRedirects
			}
			e.recordMoved(ctx, v.Slot, v.Address)
			continue

		case *AskError:
			redirects++
			e.metrics.AskObserved()
			if redirects > e.sched.maxRedirects {
				return proto.Frame{}, ErrTooManyRedirects
			}
			askReply, askErr := e.sendAsk(ctx, v.Address, frame)
			if askErr != nil {
				ioAttempts++
				e.pool.MarkUnhealthy(v.Address)
				if !idempotent || ioAttempts > e.sched.maxRetriesOnIO {
					return proto.Frame{}, askErr
				}
				e.metrics.IORetried()
				if err := e.backoffWait(ctx, ioAttempts); err != nil {
					return proto.Frame{}, err
				}
				continue
			}
			return askReply, nil

		default:
			return reply, nil
		}
	}
}

func (e *RedirectEngine) resolveMaster(ctx context.Context, slot uint16) (string, error) {
	if addr, ok := e.topo.MasterFor(slot); ok {
		return addr, nil
	}
	if err := e.topo.RefreshTopology(ctx); err != nil {
		return "", err
	}
	if addr, ok := e.topo.MasterFor(slot); ok {
		return addr, nil
	}
	return "", ErrClusterDown
}

func (e *RedirectEngine) sendOnce(ctx context.Context, addr string, frame proto.Frame) (proto.Frame, error) {
	nc, err := e.pool.Acquire(ctx, addr)
	if err != nil {
		return proto.Frame{}, err
	}

	req := mux.NewRequest(frame)
	if err := nc.Conn.Submit(ctx, req); err != nil {
		nc.MarkUnhealthy()
		e.pool.Release(nc)
		return proto.Frame{}, err
	}

	select {
	case rep := <-req.Done():
		if rep.Err != nil {
			nc.MarkUnhealthy()
		}
		e.pool.Release(nc)
		return rep.Frame, rep.Err
	case <-ctx.Done():
		e.pool.Release(nc)
		return proto.Frame{}, ctx.Err()
	}
}

// sendAsk acquires a connection to addr and submits ASKING immediately
// followed by frame on that same connection, as the protocol requires.
func (e *RedirectEngine) sendAsk(ctx context.Context, addr string, frame proto.Frame) (proto.Frame, error) {
	nc, err := e.pool.Acquire(ctx, addr)
	if err != nil {
		return proto.Frame{}, err
	}

	asking := mux.NewRequest(askingCommand())
	if err := nc.Conn.Submit(ctx, asking); err != nil {
		nc.MarkUnhealthy()
		e.pool.Release(nc)
		return proto.Frame{}, err
	}
	select {
	case rep := <-asking.Done():
		if rep.Err != nil {
			nc.MarkUnhealthy()
			e.pool.Release(nc)
			return proto.Frame{}, rep.Err
		}
	case <-ctx.Done():
		e.pool.Release(nc)
		return proto.Frame{}, ctx.Err()
	}

	req := mux.NewRequest(frame)
	if err := nc.Conn.Submit(ctx, req); err != nil {
		nc.MarkUnhealthy()
		e.pool.Release(nc)
		return proto.Frame{}, err
	}
	select {
	case rep := <-req.Done():
		if rep.Err != nil {
			nc.MarkUnhealthy()
		}
		e.pool.Release(nc)
		return rep.Frame, rep.Err
	case <-ctx.Done():
		e.pool.Release(nc)
		return proto.Frame{}, ctx.Err()
	}
}

func (e *RedirectEngine) backoffWait(ctx context.Context, attempt int) error {
	delay := e.sched.retryDelayBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	select {
	case <-e.clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recordMoved repoints slot immediately and, if more than
// MovedStormThreshold MOVED events have landed within MovedStormWindow
// and the engine is not already within a post-refresh cooldown, triggers
// one full topology refresh and starts the cooldown.
func (e *RedirectEngine) recordMoved(ctx context.Context, slot uint16, address string) {
	e.topo.RepointSlot(slot, address)

	e.stormMu.Lock()
	now := e.clock.Now()
	cutoff := now.Add(-e.sched.movedStormWindow)
	kept := e.stormEvents[:0]
	for _, t := range e.stormEvents {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.stormEvents = append(kept, now)
	shouldRefresh := len(e.stormEvents) > e.sched.movedStormThreshold && now.After(e.cooldownUntil)
	if shouldRefresh {
		e.cooldownUntil = now.Add(e.sched.refreshCooldown)
	}
	e.stormMu.Unlock()

	if !shouldRefresh {
		return
	}
	if err := e.topo.RefreshTopology(ctx); err == nil {
		e.metrics.TopologyRefreshed()
		e.stormMu.Lock()
		e.stormEvents = nil
		e.stormMu.Unlock()
	}
}
