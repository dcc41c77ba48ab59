package muxis

import (
	"context"
	"fmt"
	"strings"

	"github.com/muxis/muxis-go/cluster"
	"github.com/muxis/muxis-go/mux"
	"github.com/muxis/muxis-go/proto"
	"github.com/muxis/muxis-go/transport"
)

// Client is the top-level handle returned by Connect. It exposes the
// same key-addressed operations regardless of whether it ended up
// talking to a single node or routing across a cluster, so callers do
// not need to know which mode they are in.
type Client struct {
	single  *singleNodeClient
	cluster *cluster.ClusterClient
}

// Connect parses connString (a single connection URL or a
// comma-separated cluster seed list — see ParseURL) and establishes a
// Client. More than one seed address promotes the Client to
// cluster-aware routing; a single seed connects directly to that node.
func Connect(ctx context.Context, connString string, opts ...Option) (*Client, error) {
	cu, err := ParseURL(connString)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if cu.TLS && o.TLSConfig == nil {
		WithTLS(nil)(&o)
	}

	if cu.IsCluster() {
		cc, err := cluster.Connect(ctx, strings.Join(cu.Addresses, ","),
			cluster.WithPoolConfig(o.poolConfig()),
			cluster.WithTransportConfig(o.transportConfig()),
			cluster.WithMuxOptions(o.muxOptions()...),
			cluster.WithClientLogger(o.Logger),
			cluster.WithClientMetrics(o.Metrics),
			cluster.WithRedirectOptions(o.redirectOptions()...),
		)
		if err != nil {
			return nil, err
		}
		return &Client{cluster: cc}, nil
	}

	sc, err := connectSingleNode(ctx, cu.Addresses[0], o)
	if err != nil {
		return nil, err
	}
	return &Client{single: sc}, nil
}

// IsCluster reports whether this Client is routing across a cluster
// rather than talking to a single node.
func (c *Client) IsCluster() bool { return c.cluster != nil }

// Get retrieves the value for key, or (nil, false) if it does not
// exist.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.cluster != nil {
		return c.cluster.Get(ctx, key)
	}
	return c.single.get(ctx, key)
}

// Set stores value under key.
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	if c.cluster != nil {
		return c.cluster.Set(ctx, key, value)
	}
	return c.single.set(ctx, key, value)
}

// Del deletes keys, returning the number of keys actually removed. In
// cluster mode, keys must all hash to the same slot.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if c.cluster != nil {
		return c.cluster.Del(ctx, keys...)
	}
	return c.single.del(ctx, keys...)
}

// Exists reports whether any of keys exists. In cluster mode, keys must
// all hash to the same slot.
func (c *Client) Exists(ctx context.Context, keys ...string) (bool, error) {
	if c.cluster != nil {
		return c.cluster.Exists(ctx, keys...)
	}
	return c.single.exists(ctx, keys...)
}

// Close releases every connection the Client holds open.
func (c *Client) Close() {
	if c.cluster != nil {
		c.cluster.Close()
		return
	}
	c.single.close()
}

// singleNodeClient wraps one MultiplexedConnection for non-cluster use,
// giving it the same Get/Set/Del/Exists surface as ClusterClient without
// any of the slot-routing or redirect machinery.
type singleNodeClient struct {
	conn *mux.MultiplexedConnection
}

func connectSingleNode(ctx context.Context, address string, o Options) (*singleNodeClient, error) {
	dialer := transport.NewDialer(o.transportConfig())
	tr, err := dialer.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("muxis: connect %s: %w", address, err)
	}
	conn := mux.New(tr, o.muxOptions()...)
	return &singleNodeClient{conn: conn}, nil
}

func (s *singleNodeClient) submit(ctx context.Context, frame proto.Frame) (proto.Frame, error) {
	req := mux.NewRequest(frame)
	if err := s.conn.Submit(ctx, req); err != nil {
		return proto.Frame{}, err
	}
	rep := req.Reply()
	return rep.Frame, rep.Err
}

func (s *singleNodeClient) get(ctx context.Context, key string) ([]byte, bool, error) {
	reply, err := s.submit(ctx, getCommand(key))
	if err != nil {
		return nil, false, err
	}
	if errText, isErr := reply.IsError(); isErr {
		return nil, false, &cluster.ServerError{Message: errText}
	}
	if reply.IsNull() {
		return nil, false, nil
	}
	payload, ok := reply.Payload()
	if !ok {
		return nil, false, fmt.Errorf("muxis: unexpected response type for GET")
	}
	return payload, true, nil
}

func (s *singleNodeClient) set(ctx context.Context, key string, value []byte) error {
	reply, err := s.submit(ctx, setCommand(key, value))
	if err != nil {
		return err
	}
	if errText, isErr := reply.IsError(); isErr {
		return &cluster.ServerError{Message: errText}
	}
	return nil
}

func (s *singleNodeClient) del(ctx context.Context, keys ...string) (int64, error) {
	reply, err := s.submit(ctx, delCommand(keys...))
	if err != nil {
		return 0, err
	}
	if errText, isErr := reply.IsError(); isErr {
		return 0, &cluster.ServerError{Message: errText}
	}
	n, ok := reply.Int()
	if !ok {
		return 0, fmt.Errorf("muxis: unexpected response type for DEL")
	}
	return n, nil
}

func (s *singleNodeClient) exists(ctx context.Context, keys ...string) (bool, error) {
	reply, err := s.submit(ctx, existsCommand(keys...))
	if err != nil {
		return false, err
	}
	if errText, isErr := reply.IsError(); isErr {
		return false, &cluster.ServerError{Message: errText}
	}
	n, ok := reply.Int()
	if !ok {
		return false, fmt.Errorf("muxis: unexpected response type for EXISTS")
	}
	return n > 0, nil
}

func (s *singleNodeClient) close() {
	s.conn.Close()
}
