// Command redismux-bench wires up a Multiplexer against a live
// connection string and hammers it with a configurable number of
// concurrent SET workers, reporting throughput and latency — a
// small program that exercises the library end to end rather than a
// unit test double.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/boomballa/redismux/internal/rcmd"
	"github.com/boomballa/redismux/multiplex"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[redismux-bench] ")

	conn := flag.String("conn", "127.0.0.1:6379", "redismux connection string (host:port[,host:port...][,key=value...])")
	concurrency := flag.Int("c", 32, "number of concurrent workers")
	duration := flag.Duration("d", 10*time.Second, "how long to run")
	keyspace := flag.Int("keyspace", 10000, "number of distinct keys cycled through")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux, err := multiplex.New(ctx, *conn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer mux.Close(true)

	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	var ops, errs atomic.Int64
	var latencyNs atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			i := worker
			for {
				select {
				case <-runCtx.Done():
					return
				default:
				}
				key := fmt.Sprintf("redismux-bench:%d", i%*keyspace)
				start := time.Now()
				_, err := mux.Execute(runCtx, [][]byte{[]byte("SET"), []byte(key), []byte("v")},
					multiplex.ExecuteOptions{Keys: [][]byte{[]byte(key)}, Flags: rcmd.Flag(0), DB: rcmd.UnsetDB})
				latencyNs.Add(int64(time.Since(start)))
				ops.Add(1)
				if err != nil {
					errs.Add(1)
				}
				i += *concurrency
			}
		}(w)
	}
	wg.Wait()

	total := ops.Load()
	elapsed := duration.Seconds()
	var avgLatency time.Duration
	if total > 0 {
		avgLatency = time.Duration(latencyNs.Load() / total)
	}
	fmt.Printf("ops=%d errors=%d throughput=%.0f/s avg_latency=%s\n",
		total, errs.Load(), float64(total)/elapsed, avgLatency)
}
