package muxis

import (
	"crypto/tls"
	"time"

	"github.com/rs/zerolog"

	"github.com/muxis/muxis-go/cluster"
	"github.com/muxis/muxis-go/mux"
	"github.com/muxis/muxis-go/proto"
	"github.com/muxis/muxis-go/transport"
)

// Options collects every tunable named in the configuration table: the
// per-I/O and connect timeouts, wire-level caps, pool lifecycle policy,
// and redirect-engine retry/backoff/storm-throttling schedule. The zero
// value is never used directly; Connect builds one by layering Option
// functions over defaultOptions.
type Options struct {
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	MaxFrameSize   int
	RequestQueueSize int
	TLSConfig      *tls.Config

	MaxConnectionsPerNode int
	MinIdlePerNode        int
	MaxIdleTime           time.Duration
	HealthCheckInterval   time.Duration

	MaxRedirects        int
	MaxRetriesOnIO      int
	RetryDelay          time.Duration
	MovedStormThreshold int
	MovedStormWindow    time.Duration
	RefreshCooldown     time.Duration

	Logger  zerolog.Logger
	Metrics *Metrics
}

func defaultOptions() Options {
	return Options{
		MaxFrameSize:          proto.DefaultMaxFrameSize,
		RequestQueueSize:      mux.DefaultRequestQueueSize,
		MaxConnectionsPerNode: cluster.DefaultMaxConnectionsPerNode,
		MinIdlePerNode:        cluster.DefaultMinIdlePerNode,
		MaxIdleTime:           cluster.DefaultMaxIdleTime,
		HealthCheckInterval:   cluster.DefaultHealthCheckInterval,
		MaxRedirects:          cluster.MaxRedirects,
		MaxRetriesOnIO:        cluster.MaxRetriesOnIO,
		RetryDelay:            cluster.RetryDelayBase,
		MovedStormThreshold:   cluster.MovedStormThreshold,
		MovedStormWindow:      cluster.MovedStormWindow,
		RefreshCooldown:       cluster.RefreshCooldown,
		Logger:                zerolog.Nop(),
	}
}

// Option configures a Client at construction time.
type Option func(*Options)

// WithConnectTimeout bounds Transport establishment. Zero means
// unbounded.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

// WithIOTimeout bounds each Transport read and write. Zero means
// unbounded.
func WithIOTimeout(d time.Duration) Option {
	return func(o *Options) { o.IOTimeout = d }
}

// WithMaxFrameSize caps the size of a single decoded Bulk payload or
// aggregate element count, guarding against a misbehaving peer.
func WithMaxFrameSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxFrameSize = n
		}
	}
}

// WithRequestQueueSize bounds each MultiplexedConnection's submission
// queue, the sole flow-control mechanism between submitters and the
// writer goroutine.
func WithRequestQueueSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.RequestQueueSize = n
		}
	}
}

// WithTLS enables TLS on every Transport the Client opens, using cfg
// (which may be nil to request TLS with the Go default configuration).
func WithTLS(cfg *tls.Config) Option {
	return func(o *Options) {
		if cfg == nil {
			cfg = &tls.Config{}
		}
		o.TLSConfig = cfg
	}
}

// WithMaxConnectionsPerNode caps how many connections the NodePool
// keeps open to any single cluster node.
func WithMaxConnectionsPerNode(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxConnectionsPerNode = n
		}
	}
}

// WithMinIdlePerNode sets the idle-connection floor the health-check
// sweep leaves untouched per node even past MaxIdleTime.
func WithMinIdlePerNode(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MinIdlePerNode = n
		}
	}
}

// WithMaxIdleTime sets how long a pooled connection may sit unused
// before the sweep is allowed to close it.
func WithMaxIdleTime(d time.Duration) Option {
	return func(o *Options) { o.MaxIdleTime = d }
}

// WithHealthCheckInterval sets how often the pool's idle-eviction sweep
// runs.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(o *Options) { o.HealthCheckInterval = d }
}

// WithMaxRedirects bounds the number of MOVED/ASK hops a single
// operation follows before failing with ErrTooManyRedirects.
func WithMaxRedirects(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxRedirects = n
		}
	}
}

// WithMaxRetriesOnIO bounds the number of transport-failure retries a
// single idempotent operation attempts.
func WithMaxRetriesOnIO(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxRetriesOnIO = n
		}
	}
}

// WithRetryDelay sets the base of the exponential I/O-retry backoff
// schedule (doubled on each successive attempt).
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryDelay = d }
}

// WithMovedStormThreshold sets the number of MOVED errors within
// MovedStormWindow that, once exceeded, triggers a full topology refresh.
func WithMovedStormThreshold(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MovedStormThreshold = n
		}
	}
}

// WithMovedStormWindow sets the sliding window MOVED errors are counted
// over for storm detection.
func WithMovedStormWindow(d time.Duration) Option {
	return func(o *Options) { o.MovedStormWindow = d }
}

// WithRefreshCooldown sets the minimum interval between
// storm-triggered topology refreshes.
func WithRefreshCooldown(d time.Duration) Option {
	return func(o *Options) { o.RefreshCooldown = d }
}

// WithLogger attaches a structured logger to the multiplexed connection
// and, in cluster mode, to the cluster client, pool, and redirect engine.
// The transport layer does not log.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics attaches an optional instrumentation sink backed by
// VictoriaMetrics/metrics. A nil Metrics (the default) disables
// instrumentation entirely at zero cost.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

func (o Options) transportConfig() transport.Config {
	return transport.Config{
		ConnectTimeout: o.ConnectTimeout,
		IOTimeout:      o.IOTimeout,
		TLSConfig:      o.TLSConfig,
	}
}

func (o Options) muxOptions() []mux.Option {
	return []mux.Option{
		mux.WithRequestQueueSize(o.RequestQueueSize),
		mux.WithMaxFrameSize(o.MaxFrameSize),
		mux.WithLogger(o.Logger),
	}
}

func (o Options) poolConfig() cluster.PoolConfig {
	return cluster.PoolConfig{
		MaxConnectionsPerNode: o.MaxConnectionsPerNode,
		MinIdlePerNode:        o.MinIdlePerNode,
		MaxIdleTime:           o.MaxIdleTime,
		HealthCheckInterval:   o.HealthCheckInterval,
	}
}

func (o Options) redirectOptions() []cluster.RedirectEngineOption {
	return []cluster.RedirectEngineOption{
		cluster.WithMaxRedirects(o.MaxRedirects),
		cluster.WithMaxRetriesOnIO(o.MaxRetriesOnIO),
		cluster.WithRetryDelayBase(o.RetryDelay),
		cluster.WithMovedStormThreshold(o.MovedStormThreshold),
		cluster.WithMovedStormWindow(o.MovedStormWindow),
		cluster.WithRefreshCooldown(o.RefreshCooldown),
	}
}
