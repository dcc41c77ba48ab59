// Package transport provides the byte-level duplex stream abstraction
// that MultiplexedConnection is built on: a TCP (optionally TLS) stream
// with connect-time and per-operation deadlines, and independent
// read/write halves so a reader task and a writer task never contend for
// the same mutex.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrClosed is returned by operations on a Transport that has already
// been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is a duplex byte stream. Reads and writes may proceed
// concurrently from separate goroutines; a Transport implementation must
// not require its caller to serialize Read against Write.
type Transport interface {
	// Read reads into p, honoring ctx's deadline if set and a configured
	// io_timeout.
	Read(ctx context.Context, p []byte) (int, error)
	// Write writes p in full, honoring ctx's deadline if set and a
	// configured io_timeout.
	Write(ctx context.Context, p []byte) (int, error)
	// CloseWrite closes the write half only, signaling end-of-stream to
	// the peer while leaving the read half open to drain any
	// already-in-flight replies.
	CloseWrite() error
	// Close closes both halves and releases any underlying resources.
	Close() error
	// RemoteAddr reports the address of the peer, for logging.
	RemoteAddr() string
}

// Config controls how a Transport is established and how its individual
// I/O operations are bounded.
type Config struct {
	// ConnectTimeout bounds Dial. Zero means unbounded.
	ConnectTimeout time.Duration
	// IOTimeout bounds each Read and Write. Zero means unbounded.
	IOTimeout time.Duration
	// TLSConfig, if non-nil, causes Dial to perform a TLS handshake over
	// the raw TCP connection using this configuration.
	TLSConfig *tls.Config
}

// Dialer establishes Transports to a given address.
type Dialer struct {
	cfg Config
}

// NewDialer returns a Dialer using cfg for every connection it opens.
func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

// Dial opens a new Transport to addr ("host:port"), applying the
// Dialer's ConnectTimeout and, if configured, performing a TLS handshake.
func (d *Dialer) Dial(ctx context.Context, addr string) (Transport, error) {
	dialer := &net.Dialer{}
	if d.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	if d.cfg.TLSConfig != nil {
		tlsCfg := d.cfg.TLSConfig
		if tlsCfg.ServerName == "" && !tlsCfg.InsecureSkipVerify {
			if host, _, err := net.SplitHostPort(addr); err == nil {
				tlsCfg = tlsCfg.Clone()
				tlsCfg.ServerName = host
			}
		}
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: tls handshake with %s: %w", addr, err)
		}
		conn = tlsConn
	}

	return &tcpTransport{conn: conn, ioTimeout: d.cfg.IOTimeout}, nil
}

// FromConn wraps an already-established net.Conn (a TCP connection, a
// net.Pipe test double, a Unix socket, etc.) as a Transport, applying
// ioTimeout to every Read and Write. It is mainly useful for tests and
// for embedding a Transport inside code that already manages its own
// connection lifecycle.
func FromConn(conn net.Conn, ioTimeout time.Duration) Transport {
	return &tcpTransport{conn: conn, ioTimeout: ioTimeout}
}

// tcpTransport is a Transport over a net.Conn (plain or TLS-wrapped). The
// connection itself already supports concurrent Read/Write from separate
// goroutines, so no additional locking is needed here.
type tcpTransport struct {
	conn      net.Conn
	ioTimeout time.Duration
}

func (t *tcpTransport) deadline(ctx context.Context) time.Time {
	var dl time.Time
	if d, ok := ctx.Deadline(); ok {
		dl = d
	}
	if t.ioTimeout > 0 {
		byTimeout := time.Now().Add(t.ioTimeout)
		if dl.IsZero() || byTimeout.Before(dl) {
			dl = byTimeout
		}
	}
	return dl
}

func (t *tcpTransport) Read(ctx context.Context, p []byte) (int, error) {
	if dl := t.deadline(ctx); !dl.IsZero() {
		if err := t.conn.SetReadDeadline(dl); err != nil {
			return 0, err
		}
	} else {
		t.conn.SetReadDeadline(time.Time{})
	}
	n, err := t.conn.Read(p)
	if err != nil {
		return n, fmt.Errorf("transport: read: %w", err)
	}
	return n, nil
}

func (t *tcpTransport) Write(ctx context.Context, p []byte) (int, error) {
	if dl := t.deadline(ctx); !dl.IsZero() {
		if err := t.conn.SetWriteDeadline(dl); err != nil {
			return 0, err
		}
	} else {
		t.conn.SetWriteDeadline(time.Time{})
	}
	n, err := t.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("transport: write: %w", err)
	}
	return n, nil
}

// halfCloser is implemented by *net.TCPConn and by *tls.Conn (whose
// CloseWrite sends a close_notify alert rather than half-closing the
// socket). Connections without it, such as net.Pipe, fall back to a full
// Close.
type halfCloser interface {
	CloseWrite() error
}

func (t *tcpTransport) CloseWrite() error {
	if hc, ok := t.conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return t.conn.Close()
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	if t.conn.RemoteAddr() == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}
