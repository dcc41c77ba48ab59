package cluster

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/muxis/muxis-go/proto"
)

// NodeID identifies a cluster node, normally a 40-character hex string
// assigned by the server, but treated opaquely here.
type NodeID string

// NodeFlags records the role and health bits carried in a CLUSTER NODES
// line's flags field.
type NodeFlags struct {
	Master     bool
	Slave      bool
	Myself     bool
	PFail      bool
	Fail       bool
	Handshake  bool
	NoAddr     bool
	Raw        string // the original comma-separated flags field
}

// ParseNodeFlags parses a comma-separated CLUSTER NODES flags field.
// Unrecognized flags (including in-migration markers, which belong to
// the slot-spec field rather than this one) are ignored.
func ParseNodeFlags(raw string) NodeFlags {
	f := NodeFlags{Raw: raw}
	for _, part := range strings.Split(raw, ",") {
		switch strings.TrimSpace(part) {
		case "master":
			f.Master = true
		case "slave":
			f.Slave = true
		case "myself":
			f.Myself = true
		case "fail?", "pfail":
			f.PFail = true
		case "fail":
			f.Fail = true
		case "handshake":
			f.Handshake = true
		case "noaddr":
			f.NoAddr = true
		}
	}
	return f
}

// IsAvailableMaster reports whether the node is a master not currently
// marked failed or possibly-failed.
func (f NodeFlags) IsAvailableMaster() bool { return f.Master && !f.Fail && !f.PFail }

// IsAvailableReplica reports whether the node is a replica not currently
// marked failed or possibly-failed.
func (f NodeFlags) IsAvailableReplica() bool { return f.Slave && !f.Fail && !f.PFail }

// NodeInfo describes one cluster node as reported by CLUSTER SLOTS or
// CLUSTER NODES.
type NodeInfo struct {
	ID         NodeID
	Address    string // host:port
	Flags      NodeFlags
	MasterID   NodeID // empty for masters
	PingSent   uint64
	PongRecv   uint64
	ConfigEpoch uint64
	LinkState  string
	Slots      []SlotSpan // only populated when parsed from the Nodes form
}

func (n NodeInfo) IsMaster() bool   { return n.Flags.Master }
func (n NodeInfo) IsReplica() bool  { return n.Flags.Slave }
func (n NodeInfo) IsAvailable() bool { return !n.Flags.Fail && !n.Flags.PFail }

// SlotSpan is an inclusive [Start, End] range of slots, as carried in a
// CLUSTER NODES slot-spec token (after stripping any in-migration
// marker).
type SlotSpan struct {
	Start, End uint16
}

// SlotRange pairs a SlotSpan with the master and replicas that serve it.
type SlotRange struct {
	Start, End uint16
	Master     NodeInfo
	Replicas   []NodeInfo
}

// Contains reports whether slot falls within [r.Start, r.End].
func (r SlotRange) Contains(slot uint16) bool { return slot >= r.Start && slot <= r.End }

// Topology is an immutable snapshot of the cluster's slot-to-node
// assignment. A new Topology is built wholesale from a CLUSTER SLOTS or
// CLUSTER NODES response and never mutated after construction; the
// cluster client swaps in a new snapshot atomically rather than editing
// one in place.
type Topology struct {
	Generation uint64
	Ranges     []SlotRange
	Nodes      map[NodeID]NodeInfo

	// slotMap is a flat 16384-entry lookup table for O(1) master
	// resolution; slotMap[slot] is empty if no range currently covers
	// that slot.
	slotMap [SlotCount]NodeID
}

// NewEmptyTopology returns a Topology with no slots assigned, suitable
// as the initial value before the first successful discovery.
func NewEmptyTopology() *Topology {
	return &Topology{Nodes: map[NodeID]NodeInfo{}}
}

// MasterFor returns the master node owning slot, if any.
func (t *Topology) MasterFor(slot uint16) (NodeInfo, bool) {
	id := t.slotMap[slot]
	if id == "" {
		return NodeInfo{}, false
	}
	n, ok := t.Nodes[id]
	return n, ok
}

// ReplicasFor returns the replicas serving the range that contains slot,
// if any range covers it.
func (t *Topology) ReplicasFor(slot uint16) ([]NodeInfo, bool) {
	for _, r := range t.Ranges {
		if r.Contains(slot) {
			return r.Replicas, true
		}
	}
	return nil, false
}

// IsFullyCovered reports whether every one of the 16384 slots has an
// assigned master.
func (t *Topology) IsFullyCovered() bool {
	for _, id := range t.slotMap {
		if id == "" {
			return false
		}
	}
	return true
}

// NodeCount returns the number of distinct nodes known to this topology.
func (t *Topology) NodeCount() int { return len(t.Nodes) }

// withRepointedSlot returns a new Topology that is a shallow copy of t
// except that slot now maps to a node at address. Used by the redirect
// engine's cheap single-slot MOVED repoint, which must not require a
// full rediscovery round-trip. If no known node already owns address, a
// minimal NodeInfo carrying just the address is synthesized; a later
// full refresh reconciles it with the real node ID and flags.
func (t *Topology) withRepointedSlot(slot uint16, address string) *Topology {
	next := &Topology{
		Generation: t.Generation,
		Ranges:     t.Ranges,
		Nodes:      make(map[NodeID]NodeInfo, len(t.Nodes)+1),
		slotMap:    t.slotMap,
	}
	for id, n := range t.Nodes {
		next.Nodes[id] = n
	}

	id := NodeID(address)
	for existingID, n := range t.Nodes {
		if n.Address == address {
			id = existingID
			break
		}
	}
	if _, known := next.Nodes[id]; !known {
		next.Nodes[id] = NodeInfo{ID: id, Address: address, LinkState: "connected"}
	}
	next.slotMap[slot] = id
	return next
}

func (t *Topology) index() {
	t.Nodes = map[NodeID]NodeInfo{}
	for _, r := range t.Ranges {
		t.Nodes[r.Master.ID] = r.Master
		for _, rep := range r.Replicas {
			t.Nodes[rep.ID] = rep
		}
		for s := r.Start; ; s++ {
			t.slotMap[s] = r.Master.ID
			if s == r.End {
				break
			}
		}
	}
}

// ParseClusterSlots builds a Topology from the Array reply of a CLUSTER
// SLOTS command: a list of [low, high, master, replica...] entries, each
// master/replica itself [host, port, node-id?].
func ParseClusterSlots(f proto.Frame) (*Topology, error) {
	entries, ok := f.Elements()
	if !ok {
		return nil, fmt.Errorf("cluster: CLUSTER SLOTS reply must be an array")
	}

	t := &Topology{}
	for _, entry := range entries {
		fields, ok := entry.Elements()
		if !ok || len(fields) < 3 {
			continue
		}

		start, ok := fields[0].Int()
		if !ok {
			continue
		}
		end, ok := fields[1].Int()
		if !ok {
			continue
		}

		master, err := parseSlotsNode(fields[2])
		if err != nil {
			continue
		}

		var replicas []NodeInfo
		for _, rf := range fields[3:] {
			if rep, err := parseSlotsNode(rf); err == nil {
				replicas = append(replicas, rep)
			}
		}

		t.Ranges = append(t.Ranges, SlotRange{
			Start:    uint16(start),
			End:      uint16(end),
			Master:   master,
			Replicas: replicas,
		})
	}

	t.index()
	return t, nil
}

func parseSlotsNode(f proto.Frame) (NodeInfo, error) {
	fields, ok := f.Elements()
	if !ok || len(fields) < 2 {
		return NodeInfo{}, fmt.Errorf("cluster: node entry must be an array of at least 2 elements")
	}

	host, ok := textOrPayload(fields[0])
	if !ok {
		return NodeInfo{}, fmt.Errorf("cluster: node host must be a string")
	}
	port, ok := fields[1].Int()
	if !ok {
		return NodeInfo{}, fmt.Errorf("cluster: node port must be an integer")
	}

	id := NodeID(fmt.Sprintf("%s:%d", host, port))
	if len(fields) >= 3 {
		if idStr, ok := textOrPayload(fields[2]); ok && idStr != "" {
			id = NodeID(idStr)
		}
	}

	return NodeInfo{
		ID:        id,
		Address:   fmt.Sprintf("%s:%d", host, port),
		LinkState: "connected",
	}, nil
}

func textOrPayload(f proto.Frame) (string, bool) {
	if s, ok := f.Text(); ok {
		return s, true
	}
	if b, ok := f.Payload(); ok {
		return string(b), true
	}
	return "", false
}

// ParseClusterNodes builds a Topology from the bulk-string reply of a
// CLUSTER NODES command: one line per node in the format
// "id address@cport flags master-id ping-sent pong-recv epoch link-state slot-spec...".
func ParseClusterNodes(f proto.Frame) (*Topology, error) {
	payload, ok := f.Payload()
	if !ok {
		return nil, fmt.Errorf("cluster: CLUSTER NODES reply must be a bulk string")
	}
	text := string(payload)

	byID := map[NodeID]NodeInfo{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		node, err := parseNodesLine(line)
		if err != nil {
			continue
		}
		byID[node.ID] = node
	}

	t := &Topology{}
	var masters []NodeInfo
	for _, n := range byID {
		if n.IsMaster() {
			masters = append(masters, n)
		}
	}
	sort.Slice(masters, func(i, j int) bool { return masters[i].ID < masters[j].ID })

	for _, master := range masters {
		var replicas []NodeInfo
		for _, n := range byID {
			if n.IsReplica() && n.MasterID == master.ID {
				replicas = append(replicas, n)
			}
		}
		sort.Slice(replicas, func(i, j int) bool { return replicas[i].ID < replicas[j].ID })

		for _, span := range master.Slots {
			t.Ranges = append(t.Ranges, SlotRange{
				Start:    span.Start,
				End:      span.End,
				Master:   master,
				Replicas: replicas,
			})
		}
	}
	sort.Slice(t.Ranges, func(i, j int) bool { return t.Ranges[i].Start < t.Ranges[j].Start })

	t.index()
	return t, nil
}

func parseNodesLine(line string) (NodeInfo, error) {
	parts := strings.Fields(line)
	if len(parts) < 8 {
		return NodeInfo{}, fmt.Errorf("cluster: malformed CLUSTER NODES line: %q", line)
	}

	id := NodeID(parts[0])
	address := strings.SplitN(parts[1], "@", 2)[0]
	flags := ParseNodeFlags(parts[2])

	var masterID NodeID
	if parts[3] != "-" {
		masterID = NodeID(parts[3])
	}

	pingSent, _ := strconv.ParseUint(parts[4], 10, 64)
	pongRecv, _ := strconv.ParseUint(parts[5], 10, 64)
	configEpoch, _ := strconv.ParseUint(parts[6], 10, 64)
	linkState := parts[7]

	var slots []SlotSpan
	for _, spec := range parts[8:] {
		if span, ok := parseSlotSpec(spec); ok {
			slots = append(slots, span)
		}
	}

	return NodeInfo{
		ID:          id,
		Address:     address,
		Flags:       flags,
		MasterID:    masterID,
		PingSent:    pingSent,
		PongRecv:    pongRecv,
		ConfigEpoch: configEpoch,
		LinkState:   linkState,
		Slots:       slots,
	}, nil
}

// parseSlotSpec parses one whitespace-delimited slot-spec token from a
// CLUSTER NODES line: "low-high", a single slot number, or an
// in-migration marker such as "[1234-<node-id]" / "[1234->node-id]",
// which is recognized and skipped for ownership purposes (it names a
// slot mid-migration, not a settled assignment).
func parseSlotSpec(spec string) (SlotSpan, bool) {
	if strings.HasPrefix(spec, "[") {
		return SlotSpan{}, false
	}
	if start, end, ok := strings.Cut(spec, "-"); ok {
		lo, err1 := strconv.ParseUint(start, 10, 16)
		hi, err2 := strconv.ParseUint(end, 10, 16)
		if err1 != nil || err2 != nil {
			return SlotSpan{}, false
		}
		return SlotSpan{Start: uint16(lo), End: uint16(hi)}, true
	}
	n, err := strconv.ParseUint(spec, 10, 16)
	if err != nil {
		return SlotSpan{}, false
	}
	return SlotSpan{Start: uint16(n), End: uint16(n)}, true
}
