package muxis

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is the port assumed for any address in a connection URL or
// cluster seed list that omits one.
const DefaultPort = "6379"

// ConnectionURL is the parsed form of a connection string:
// scheme://[credentials@]host[:port][/database][?option=value…], or a
// bare comma-separated host:port seed list for cluster mode.
type ConnectionURL struct {
	TLS       bool
	Addresses []string
	Username  string
	Password  string
	Database  int
	Options   map[string]string
}

// ParseURL parses raw per the muxis connection-string grammar. The first
// comma-separated segment carries the scheme, credentials, database,
// and query options; any further segments are additional cluster seeds
// given as bare (optionally redis://-prefixed) host:port pairs.
func ParseURL(raw string) (*ConnectionURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty connection string", ErrInvalidURL)
	}

	segments := strings.Split(raw, ",")
	first := strings.TrimSpace(segments[0])

	// A bare cluster seed list ("host:port,host:port,...") carries no
	// scheme at all; treat that as plain, non-TLS addresses rather than
	// rejecting it for lacking one.
	if !strings.Contains(first, "://") {
		cu := &ConnectionURL{Options: map[string]string{}}
		for _, seg := range segments {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			addr, err := withDefaultPort(seg, DefaultPort)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
			}
			cu.Addresses = append(cu.Addresses, addr)
		}
		if len(cu.Addresses) == 0 {
			return nil, fmt.Errorf("%w: no addresses in %q", ErrInvalidURL, raw)
		}
		return cu, nil
	}

	u, err := url.Parse(first)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is missing a scheme or host", ErrInvalidURL, first)
	}

	var tls bool
	switch u.Scheme {
	case "redis":
		tls = false
	case "rediss":
		tls = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	cu := &ConnectionURL{
		TLS:     tls,
		Options: map[string]string{},
	}

	addr, err := withDefaultPort(u.Host, DefaultPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	cu.Addresses = append(cu.Addresses, addr)

	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		seg = strings.TrimPrefix(seg, "rediss://")
		seg = strings.TrimPrefix(seg, "redis://")
		addr, err := withDefaultPort(seg, DefaultPort)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		cu.Addresses = append(cu.Addresses, addr)
	}

	if u.User != nil {
		cu.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cu.Password = pw
		}
	}

	if dbStr := strings.TrimPrefix(u.Path, "/"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("%w: database %q is not a number", ErrInvalidURL, dbStr)
		}
		cu.Database = db
	}

	for k, values := range u.Query() {
		if len(values) > 0 {
			cu.Options[k] = values[0]
		}
	}

	return cu, nil
}

// withDefaultPort appends defaultPort to addr if it does not already
// carry one.
func withDefaultPort(addr, defaultPort string) (string, error) {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	if strings.Contains(addr, "[") {
		// A bracketed IPv6 literal without a port; net.JoinHostPort wants
		// the bare form.
		addr = strings.TrimPrefix(strings.TrimSuffix(addr, "]"), "[")
	}
	return net.JoinHostPort(addr, defaultPort), nil
}

// IsCluster reports whether the parsed URL names more than one seed
// address, which Connect treats as a request for cluster-mode routing.
func (c *ConnectionURL) IsCluster() bool { return len(c.Addresses) > 1 }
