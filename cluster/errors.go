package cluster

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrClusterDown indicates the cluster reported CLUSTERDOWN: the cluster
// cannot currently serve any slot.
var ErrClusterDown = errors.New("cluster: cluster down")

// ErrTooManyRedirects indicates a request exhausted MAX_REDIRECTS hops
// without settling on a final reply.
var ErrTooManyRedirects = errors.New("cluster: too many redirects")

// ErrClusterUnreachable indicates every seed node failed during initial
// discovery or a topology refresh.
var ErrClusterUnreachable = errors.New("cluster: unreachable, all seed nodes failed")

// MovedError is a permanent slot-ownership redirect: the node that
// produced it no longer owns the slot.
type MovedError struct {
	Slot    uint16
	Address string
}

func (e *MovedError) Error() string {
	return fmt.Sprintf("MOVED %d %s", e.Slot, e.Address)
}

// AskError is a temporary, migration-in-progress redirect: the caller
// must send ASKING then retry on the indicated address, without updating
// the topology.
type AskError struct {
	Slot    uint16
	Address string
}

func (e *AskError) Error() string {
	return fmt.Sprintf("ASK %d %s", e.Slot, e.Address)
}

// CrossSlotError is returned by validateSameSlot when a multi-key
// operation's keys do not all hash to the same slot.
type CrossSlotError struct {
	Keys []string
}

func (e *CrossSlotError) Error() string {
	return fmt.Sprintf("cluster: keys do not hash to the same slot: %v", e.Keys)
}

// ServerError wraps any Error-frame response that is not one of the
// recognized cluster-redirect conditions.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// parseClusterError classifies an Error frame's message as one of the
// cluster redirect/availability conditions, or wraps it as a plain
// ServerError if it names none of them.
func parseClusterError(msg string) error {
	msg = strings.TrimSpace(msg)

	if rest, ok := strings.CutPrefix(msg, "MOVED "); ok {
		if slot, addr, ok := parseRedirectArgs(rest); ok {
			return &MovedError{Slot: slot, Address: addr}
		}
	}

	if rest, ok := strings.CutPrefix(msg, "ASK "); ok {
		if slot, addr, ok := parseRedirectArgs(rest); ok {
			return &AskError{Slot: slot, Address: addr}
		}
	}

	if strings.HasPrefix(msg, "CLUSTERDOWN") {
		return ErrClusterDown
	}

	if strings.Contains(msg, "CROSSSLOT") {
		return &CrossSlotError{}
	}

	return &ServerError{Message: msg}
}

// parseRedirectArgs parses a redirect's "<slot> <host>:<port>" argument
// string. IPv6 addresses in bracket form ("[::1]:7000") pass through
// untouched since the split is purely on whitespace.
func parseRedirectArgs(args string) (uint16, string, bool) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return 0, "", false
	}
	slot, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(slot), fields[1], true
}
