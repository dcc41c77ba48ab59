// Package muxis is a Redis-cluster-aware client library: a framing codec
// for the RESP wire protocol, a MultiplexedConnection that shares one
// TCP connection among many concurrent callers while preserving
// request/reply ordering, and a cluster-aware Client that discovers
// slot ownership, follows MOVED/ASK redirects, and pools connections
// per node.
//
// Connect parses a connection URL or comma-separated cluster seed list
// and returns a Client. A single-seed URL connects directly to one
// node, whether or not that node runs in cluster mode; more than one
// seed promotes the Client to cluster routing transparently.
//
//	c, err := muxis.Connect(ctx, "redis://localhost:6379")
//	c, err := muxis.Connect(ctx, "10.0.0.1:7000,10.0.0.2:7000,10.0.0.3:7000")
//
// The proto, transport, mux, and cluster packages are usable
// independently by callers who only need the codec or the multiplexed
// connection primitive without cluster routing.
package muxis
