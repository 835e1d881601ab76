// cmd/stationdaq/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meteolab/stationdaq/internal/config"
	"github.com/meteolab/stationdaq/internal/metrics"
	"github.com/meteolab/stationdaq/internal/scheduler"
	"github.com/meteolab/stationdaq/internal/staging"
	"github.com/meteolab/stationdaq/internal/transfer"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: stationdaq <config.yaml>")
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Metrics
	// --------------------

	var met *metrics.Metrics
	if cfg.Station.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		met = metrics.New(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Station.Metrics.Listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics listener failed: %v", err)
			}
		}()
		defer srv.Close()
	}

	// --------------------
	// Staging + transfer
	// --------------------

	stage, err := staging.New(cfg.Station.StagingDir)
	if err != nil {
		log.Fatalf("staging setup failed: %v", err)
	}

	submit := func(staging.Unit) {}
	var runner *transfer.Runner
	if cfg.Station.Transfer.Dir != "" {
		sink, err := transfer.NewDirSink(cfg.Station.Transfer.Dir)
		if err != nil {
			log.Fatalf("transfer sink failed: %v", err)
		}
		runner = transfer.NewRunner(transfer.Config{
			BackoffBase: time.Duration(cfg.Station.Transfer.BackoffBaseS) * time.Second,
			BackoffMax:  time.Duration(cfg.Station.Transfer.BackoffMaxS) * time.Second,
		}, transfer.NewQueue(), sink, met, log.Default())
		submit = runner.Submit
	}

	// Requeue units a previous run staged but never delivered.
	recovered, err := stage.Recover()
	if err != nil {
		log.Fatalf("staging recovery failed: %v", err)
	}
	for _, u := range recovered {
		log.Printf("recovered staged unit %s/%s", u.Instrument, u.Name)
		submit(u)
	}

	// --------------------
	// Build per-instrument workers
	// --------------------

	workers, closeAll, err := scheduler.Build(cfg.Station, stage, submit, met, log.Default())
	if err != nil {
		log.Fatalf("scheduler build failed: %v", err)
	}
	defer closeAll()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *scheduler.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	if runner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}

	log.Printf("station up: %d instruments, staging at %s", len(workers), cfg.Station.StagingDir)

	<-ctx.Done()
	log.Print("shutdown requested")

	// Bounded grace: workers flush their buffers on ctx cancellation.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Print("shutdown grace elapsed, exiting")
	}
}
