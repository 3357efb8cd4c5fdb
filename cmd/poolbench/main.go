// File: cmd/poolbench/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Drives a mixed allocate/expand/release workload against the pools and
// prints their status and metrics. SIGHUP reloads the TOML config; SIGINT
// or SIGTERM stops the run early.

package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/hioload-bufpool/affinity"
	"github.com/momentics/hioload-bufpool/control"
	"github.com/momentics/hioload-bufpool/internal/logutil"
	"github.com/momentics/hioload-bufpool/pool"
)

func main() {
	path := flag.String("config", "", "TOML pool configuration")
	workers := flag.Int("workers", 4, "concurrent workload goroutines")
	duration := flag.Duration("duration", 5*time.Second, "run time")
	maxSize := flag.Int("max-size", 4096, "largest requested buffer")
	direct := flag.Bool("direct", false, "lease direct (off-heap) buffers")
	status := flag.Bool("status", false, "print the page dump of every pool")
	pin := flag.Bool("pin", false, "pin each worker to its own CPU")
	flag.Parse()

	cs := pool.NewConfigStore()
	if *path != "" {
		if err := cs.LoadFile(*path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	cfg := cs.GetSnapshot()
	if err := logutil.Setup(cfg.Log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	m, err := pool.NewManager(cfg)
	if err != nil {
		logutil.Error("manager", zap.Error(err))
		os.Exit(1)
	}
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		logutil.Error("metrics", zap.Error(err))
		os.Exit(1)
	}

	// Pool sizing is fixed per manager; a reload only retunes logging.
	cs.OnReload(func(c pool.Config) {
		if err := logutil.Setup(c.Log); err != nil {
			logutil.Warn("reload", zap.Error(err))
			return
		}
		logutil.Info("config reloaded", zap.String("log_level", c.Log.Level))
	})
	control.RegisterReloadHook(func() {
		if *path == "" {
			return
		}
		if err := cs.LoadFile(*path); err != nil {
			logutil.Warn("reload rejected", zap.Error(err))
		}
	})

	stop := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for s := range sigs {
			if s == syscall.SIGHUP {
				control.TriggerHotReload()
				continue
			}
			close(stop)
			return
		}
	}()
	timer := time.AfterFunc(*duration, func() { sigs <- syscall.SIGTERM })
	defer timer.Stop()

	var ops, copies, failures atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			if *pin {
				unpin, err := affinity.Pin(int(seed - 1))
				if err != nil {
					logutil.Warn("pin failed", zap.Int64("worker", seed-1), zap.Error(err))
				}
				defer unpin()
			}
			rng := rand.New(rand.NewSource(seed))
			batch := pool.NewBufferBatch(16)
			scratch := make([]byte, *maxSize+256)
			for {
				select {
				case <-stop:
					if err := batch.Release(); err != nil {
						failures.Add(1)
					}
					return
				default:
				}
				p := m.Local()
				b, err := p.Buffer(*direct, 1+rng.Intn(*maxSize))
				if err != nil || b == nil {
					failures.Add(1)
					continue
				}
				_, _ = b.Write(scratch[:rng.Intn(b.Cap()+1)])
				if rng.Intn(4) == 0 {
					nb, err := p.Expand(b, 1+rng.Intn(256), rng.Intn(2) == 0, true)
					if err != nil || nb == nil {
						failures.Add(1)
					} else {
						if nb != b {
							copies.Add(1)
						}
						b = nb
					}
				}
				batch.Append(b)
				if batch.Len() >= 16 {
					if err := batch.Release(); err != nil {
						failures.Add(1)
					}
				}
				ops.Add(1)
			}
		}(int64(w + 1))
	}
	wg.Wait()

	fmt.Printf("ops=%d copies=%d failures=%d unpooled=%d\n",
		ops.Load(), copies.Load(), failures.Load(), m.Unpooled())
	pools := m.Pools()
	sort.Slice(pools, func(i, j int) bool { return pools[i].Name() < pools[j].Name() })
	for _, p := range pools {
		st := p.Stats()
		fmt.Printf("%-14s heap %d/%d direct %d/%d zeroCopy=%d copies=%d\n", st.Name,
			st.Heap.Used, st.Heap.Total, st.Direct.Used, st.Direct.Total, st.ZeroCopy, st.Copies)
		if *status {
			fmt.Print(p.Status())
		}
	}
	printMetrics(reg)

	if err := m.Close(); err != nil {
		logutil.Warn("close", zap.Error(err))
	}
	_ = logutil.Sync()
}

func printMetrics(g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		logutil.Warn("gather", zap.Error(err))
		return
	}
	for _, f := range families {
		for _, mt := range f.GetMetric() {
			labels := ""
			for _, l := range mt.GetLabel() {
				labels += fmt.Sprintf(" %s=%s", l.GetName(), l.GetValue())
			}
			v := mt.GetGauge().GetValue()
			if c := mt.GetCounter(); c != nil {
				v = c.GetValue()
			}
			fmt.Printf("%s%s %g\n", f.GetName(), labels, v)
		}
	}
}
