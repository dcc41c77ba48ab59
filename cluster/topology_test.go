package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muxis/muxis-go/proto"
)

func TestParseNodeFlags(t *testing.T) {
	f := ParseNodeFlags("master,myself")
	assert.True(t, f.Master)
	assert.True(t, f.Myself)
	assert.False(t, f.Slave)
	assert.True(t, f.IsAvailableMaster())

	f = ParseNodeFlags("slave,fail")
	assert.True(t, f.Slave)
	assert.True(t, f.Fail)
	assert.False(t, f.IsAvailableReplica())
}

func slotsReply(entries ...proto.Frame) proto.Frame {
	return proto.Array(entries)
}

func slotsEntry(low, high int64, master, replica []proto.Frame) proto.Frame {
	elems := []proto.Frame{proto.Integer(low), proto.Integer(high), proto.Array(master)}
	if replica != nil {
		elems = append(elems, proto.Array(replica))
	}
	return proto.Array(elems)
}

func nodeTriple(host string, port int64, id string) []proto.Frame {
	return []proto.Frame{proto.Bulk([]byte(host)), proto.Integer(port), proto.Bulk([]byte(id))}
}

func TestParseClusterSlots(t *testing.T) {
	reply := slotsReply(
		slotsEntry(0, 5460, nodeTriple("127.0.0.1", 7000, "node-a"), nodeTriple("127.0.0.1", 7003, "node-a-replica")),
		slotsEntry(5461, 10922, nodeTriple("127.0.0.1", 7001, "node-b"), nil),
	)

	topo, err := ParseClusterSlots(reply)
	require.NoError(t, err)

	master, ok := topo.MasterFor(0)
	require.True(t, ok)
	assert.Equal(t, NodeID("node-a"), master.ID)
	assert.Equal(t, "127.0.0.1:7000", master.Address)

	replicas, ok := topo.ReplicasFor(100)
	require.True(t, ok)
	require.Len(t, replicas, 1)
	assert.Equal(t, NodeID("node-a-replica"), replicas[0].ID)

	master, ok = topo.MasterFor(10000)
	require.True(t, ok)
	assert.Equal(t, NodeID("node-b"), master.ID)

	_, ok = topo.MasterFor(16000)
	assert.False(t, ok)
	assert.False(t, topo.IsFullyCovered())
}

func TestParseClusterSlotsFullCoverage(t *testing.T) {
	reply := slotsReply(
		slotsEntry(0, 8191, nodeTriple("127.0.0.1", 7000, "a"), nil),
		slotsEntry(8192, 16383, nodeTriple("127.0.0.1", 7001, "b"), nil),
	)
	topo, err := ParseClusterSlots(reply)
	require.NoError(t, err)
	assert.True(t, topo.IsFullyCovered())
	assert.Equal(t, 2, topo.NodeCount())
}

func TestParseClusterNodes(t *testing.T) {
	doc := "" +
		"07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:30004@31004 slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected\n" +
		"e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 127.0.0.1:30001@31001 myself,master - 0 1426238316232 0 connected 0-5460\n" +
		"67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:30002@31002 master - 0 1426238316232 2 connected 5461-10922\n" +
		"292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f 127.0.0.1:30003@31003 master - 0 1426238317741 3 connected 10923-16383\n"

	topo, err := ParseClusterNodes(proto.Bulk([]byte(doc)))
	require.NoError(t, err)

	assert.True(t, topo.IsFullyCovered())
	assert.Equal(t, 4, topo.NodeCount())

	master, ok := topo.MasterFor(0)
	require.True(t, ok)
	assert.Equal(t, NodeID("e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca"), master.ID)

	replicas, ok := topo.ReplicasFor(0)
	require.True(t, ok)
	require.Len(t, replicas, 1)
	assert.Equal(t, NodeID("07c37dfeb235213a872192d90877d0cd55635b91"), replicas[0].ID)
}

func TestParseClusterNodesSkipsInMigrationMarkers(t *testing.T) {
	doc := "abc 127.0.0.1:30001@31001 myself,master - 0 0 0 connected 0-100 [101-<def]\n"
	topo, err := ParseClusterNodes(proto.Bulk([]byte(doc)))
	require.NoError(t, err)

	_, ok := topo.MasterFor(100)
	assert.True(t, ok)
	_, ok = topo.MasterFor(101)
	assert.False(t, ok)
}

func TestParseSlotSpec(t *testing.T) {
	span, ok := parseSlotSpec("5461-10922")
	require.True(t, ok)
	assert.Equal(t, SlotSpan{Start: 5461, End: 10922}, span)

	span, ok = parseSlotSpec("42")
	require.True(t, ok)
	assert.Equal(t, SlotSpan{Start: 42, End: 42}, span)

	_, ok = parseSlotSpec("[1234-<nodeid]")
	assert.False(t, ok)
}

func TestParseClusterSlotsRejectsNonArray(t *testing.T) {
	_, err := ParseClusterSlots(proto.Simple("OK"))
	assert.Error(t, err)
}

func TestParseClusterNodesRejectsNonBulk(t *testing.T) {
	_, err := ParseClusterNodes(proto.Integer(1))
	assert.Error(t, err)
}
