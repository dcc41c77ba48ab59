package muxis

import "errors"

// ErrInvalidURL is returned by Connect/ParseURL when the connection
// string is malformed: empty, an unparseable URL, a "://" form missing
// its scheme or host, or a non-numeric database segment. A bare
// host:port seed list needs no scheme.
var ErrInvalidURL = errors.New("muxis: invalid connection url")

// ErrUnsupportedScheme is returned when the URL's scheme is neither
// redis:// nor rediss://.
var ErrUnsupportedScheme = errors.New("muxis: unsupported scheme")
