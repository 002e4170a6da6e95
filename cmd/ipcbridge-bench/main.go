package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-ipcbridge/v1/client"
	"github.com/mirkobrombin/go-ipcbridge/v1/lock"
	"github.com/mirkobrombin/go-ipcbridge/v1/registry"
	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

var (
	concurrency = flag.Int("c", 50, "Number of concurrent callers")
	requests    = flag.Int("n", 100000, "Total number of invocations")
	dataSize    = flag.Int("d", 256, "Argument size in bytes")
	url         = flag.String("url", "", "Host base URL; empty benchmarks the local transport")
	channel     = flag.String("channel", "echo", "Channel to invoke against a remote host")
	keys        = flag.Int("keys", 0, "Serialize local invocations over this many lock keys; 0 disables locking")
)

func main() {
	flag.Parse()

	log.Printf("Starting benchmark: %d invocations, %d concurrency, %d bytes payload", *requests, *concurrency, *dataSize)

	var inv transport.Invoker
	if *url != "" {
		log.Printf("Invoking %q on %s", *channel, *url)
		inv = client.New(*url)
	} else {
		log.Println("Initializing local transport...")
		inv = transport.NewLocal(newBenchRegistry(), nil)
		*channel = "echo"
		if *keys > 0 {
			*channel = "locked-echo"
		}
	}

	ctx := context.Background()
	payload := strings.Repeat("x", *dataSize)

	var wg sync.WaitGroup
	var ops int64
	var errorsCount int64

	start := time.Now()
	reqsPerWorker := *requests / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < reqsPerWorker; j++ {
				args := []any{payload}
				if *keys > 0 {
					args = append(args, (worker*reqsPerWorker+j)%*keys)
				}
				if _, err := inv.Invoke(ctx, *channel, args...); err != nil {
					atomic.AddInt64(&errorsCount, 1)
				}
				atomic.AddInt64(&ops, 1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	throughput := float64(ops) / elapsed.Seconds()
	avgLatency := elapsed.Seconds() / float64(ops) * 1e9 // ns

	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f req/s", throughput)
	log.Printf("Avg Latency: %.2f ns", avgLatency)
	if errorsCount > 0 {
		log.Printf("Errors: %d", errorsCount)
	}
}

func newBenchRegistry() *registry.Registry {
	reg := registry.New()
	locks := lock.New()
	echo := func(ctx context.Context, ev *registry.Event, args registry.Args) (any, error) {
		var s string
		err := args.Decode(0, &s)
		return s, err
	}
	reg.Register("echo", echo)
	reg.Register("locked-echo", func(ctx context.Context, ev *registry.Event, args registry.Args) (any, error) {
		var key int
		if err := args.Decode(1, &key); err != nil {
			return nil, err
		}
		return lock.Do(locks, key, func() (any, error) { return echo(ctx, ev, args) })
	})
	return reg
}
