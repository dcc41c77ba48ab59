package muxis

import "github.com/muxis/muxis-go/proto"

func command(args ...string) proto.Frame {
	elems := make([]proto.Frame, len(args))
	for i, a := range args {
		elems[i] = proto.Bulk([]byte(a))
	}
	return proto.Array(elems)
}

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
