// Command example demonstrates the muxis Client against either a single
// Redis node or a cluster, depending on the connection string passed on
// the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/muxis/muxis-go"
)

func main() {
	addr := flag.String("addr", "redis://127.0.0.1:6379", "connection string: a single redis:// URL, or a comma-separated seed list for cluster mode")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	ctx := context.Background()
	client, err := muxis.Connect(ctx, *addr, muxis.WithLogger(logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer client.Close()

	logger.Info().Bool("cluster", client.IsCluster()).Msg("connected")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "example:" + strconv.Itoa(i)
			if err := client.Set(ctx, key, []byte(fmt.Sprintf("value-%d", i))); err != nil {
				logger.Error().Err(err).Str("key", key).Msg("set failed")
			}
		}(i)
	}
	wg.Wait()

	if _, err := client.Del(ctx, "example:0"); err != nil {
		logger.Error().Err(err).Msg("delete failed")
	}

	var rg sync.WaitGroup
	for i := 1; i < 10; i++ {
		rg.Add(1)
		go func(i int) {
			defer rg.Done()
			key := "example:" + strconv.Itoa(i)
			val, ok, err := client.Get(ctx, key)
			if err != nil {
				logger.Error().Err(err).Str("key", key).Msg("get failed")
				return
			}
			if !ok {
				logger.Warn().Str("key", key).Msg("key missing")
				return
			}
			logger.Info().Str("key", key).Str("value", string(val)).Msg("got")
		}(i)
	}
	rg.Wait()

	exists, err := client.Exists(ctx, "example:1")
	if err != nil {
		logger.Error().Err(err).Msg("exists failed")
	} else {
		logger.Info().Bool("exists", exists).Msg("example:1")
	}
}
