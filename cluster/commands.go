package cluster

import "github.com/muxis/muxis-go/proto"

func command(args ...string) proto.Frame {
	elems := make([]proto.Frame, len(args))
	for i, a := range args {
		elems[i] = proto.Bulk([]byte(a))
	}
	return proto.Array(elems)
}

// clusterSlotsCommand builds a CLUSTER SLOTS request.
func clusterSlotsCommand() proto.Frame { return command("CLUSTER", "SLOTS") }

// clusterNodesCommand builds a CLUSTER NODES request.
func clusterNodesCommand() proto.Frame { return command("CLUSTER", "NODES") }

// askingCommand builds the zero-argument ASKING command that must
// precede a retried request on an ASK-redirected connection.
func askingCommand() proto.Frame { return command("ASKING") }

// pingCommand builds a PING liveness probe.
func pingCommand() proto.Frame { return command("PING") }

func getCommand(key string) proto.Frame { return command("GET", key) }

func setCommand(key string, value []byte) proto.Frame {
	return proto.Array([]proto.Frame{
		proto.Bulk([]byte("SET")),
		proto.Bulk([]byte(key)),
		proto.Bulk(value),
	})
}

func delCommand(keys ...string) proto.Frame {
	args := append([]string{"DEL"}, keys...)
	return command(args...)
}

func existsCommand(keys ...string) proto.Frame {
	args := append([]string{"EXISTS"}, keys...)
	return command(args...)
}
