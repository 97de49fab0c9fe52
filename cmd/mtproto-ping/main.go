// Command mtproto-ping bootstraps a session against a datacenter and
// fires a batch of concurrent pings at it, reporting round-trip time and
// success rate — the same shape of demo as the teacher's ping/ping.go,
// pointed at this module's MTProto core instead of a Sphinx mixnet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telemtx/mtproto/client"
	"github.com/telemtx/mtproto/config"
	"github.com/telemtx/mtproto/dcs"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to client.toml (optional; built-in defaults used if absent)")
		count       = flag.Int("count", 10, "number of pings to send")
		concurrency = flag.Int("concurrency", 4, "number of pings in flight at once")
		testMode    = flag.Bool("test", false, "dial the datacenter's test address instead of production")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mtproto-ping: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	c := client.New(dcs.DefaultRSAKeys())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Connect(ctx, cfg.Client.DefaultDC, *testMode); err != nil {
		fmt.Fprintf(os.Stderr, "mtproto-ping: connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	sendPings(c, *count, *concurrency)
}

func sendPing(c *client.Client) (time.Duration, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rtt, err := c.Ping(ctx)
	if err != nil {
		fmt.Printf("\nerror: %v\n", err)
		return 0, false
	}
	return rtt, true
}

func sendPings(c *client.Client, count, concurrency int) {
	fmt.Printf("Sending %d pings (concurrency %d)\n", count, concurrency)

	var passed, failed uint64
	var totalRTT int64

	wg := new(sync.WaitGroup)
	sem := make(chan struct{}, concurrency)

	for i := 0; i < count; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			rtt, ok := sendPing(c)
			if ok {
				fmt.Printf("!")
				atomic.AddUint64(&passed, 1)
				atomic.AddInt64(&totalRTT, int64(rtt))
			} else {
				fmt.Printf("~")
				atomic.AddUint64(&failed, 1)
			}
		}()
	}
	fmt.Printf("\n")
	wg.Wait()

	percent := (float64(passed) * 100) / float64(count)
	fmt.Printf("Success rate: %.1f%% (%d/%d)\n", percent, passed, count)
	if passed > 0 {
		avg := time.Duration(totalRTT / int64(passed))
		fmt.Printf("Average RTT: %s\n", avg)
	}
}
