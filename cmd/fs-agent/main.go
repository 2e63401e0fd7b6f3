package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FlowScope/internal/api"
	"FlowScope/internal/broadcast"
	"FlowScope/internal/capture"
	"FlowScope/internal/config"
	"FlowScope/internal/ingest"
	"FlowScope/internal/metrics"
	"FlowScope/internal/model"
	"FlowScope/internal/pipeline"
	"FlowScope/internal/state"
	"FlowScope/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	iface := flag.String("iface", "", "Interface to capture on (overrides config).")
	port := flag.Int("port", 0, "API listen port (overrides config).")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("FATAL: could not load config: %v", err)
	}
	if *iface != "" {
		cfg.Interface = *iface
	}
	if *port != 0 {
		cfg.APIPort = *port
	}
	if cfg.Quiet {
		log.SetOutput(io.Discard)
	}

	log.Printf("Starting fs-agent on interface %s (capture mode: %s)", cfg.Interface, cfg.Capture.Mode)

	// --- Durable store ---
	var store model.Store
	switch cfg.Storage.Type {
	case "clickhouse":
		store, err = storage.NewClickHouseStore(cfg.Storage.ClickHouse)
		if err != nil {
			log.Fatalf("FATAL: could not connect to ClickHouse: %v", err)
		}
	case "file":
		store, err = storage.NewFileStore(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("FATAL: could not open file store: %v", err)
		}
	case "none":
		// Live state only; the history endpoint reports unavailable.
	}

	// --- Live state and persistence pipeline ---
	st := state.New(cfg.NumShards)

	var pipe *pipeline.Pipeline
	if store != nil {
		pipe = pipeline.New(store, pipeline.Config{
			Window:     time.Duration(cfg.AggregationWindowSeconds) * time.Second,
			BatchSize:  cfg.PersistBatchSize,
			QueueSize:  cfg.PipelineQueueSize,
			Workers:    cfg.PipelineWorkers,
			SampleRate: cfg.SampleRate,
		})
		pipe.Start()
	}

	// --- Capture source ---
	ring := capture.NewRing(cfg.Capture.RingSize)
	captureStats := &capture.Stats{}

	var source capture.Source
	var decoder *capture.Decoder
	switch cfg.Capture.Mode {
	case "ebpf":
		source, err = capture.NewEBPFSource(capture.EBPFConfig{
			Interface:  cfg.Interface,
			ObjectPath: cfg.Capture.ObjectPath,
			RingBytes:  cfg.Capture.KernelRingBytes,
		}, ring, captureStats)
		decoder = capture.NewDecoder(capture.TimeKtime)
	case "pcap":
		source, err = capture.NewPcapSource(capture.PcapConfig{
			Interface: cfg.Interface,
			Snaplen:   cfg.Capture.Snaplen,
			Filter: capture.Filter{
				Port:     cfg.Capture.FilterPort,
				IP:       cfg.Capture.FilterIP,
				Protocol: cfg.Capture.FilterProtocol,
			},
		}, ring, captureStats)
		decoder = capture.NewDecoder(capture.TimeUnixNano)
	}
	if err != nil {
		log.Fatalf("FATAL: could not open capture source: %v", err)
	}

	loop := ingest.NewLoop(ring, decoder, st, pipe)
	loop.Start()
	go func() {
		if err := source.Run(); err != nil {
			log.Fatalf("FATAL: capture source failed: %v", err)
		}
	}()

	// --- Background sweeps ---
	sweeper := state.NewSweeper(st,
		time.Duration(cfg.SweepIntervalSecond)*time.Second,
		time.Duration(cfg.ConnectionTimeoutSeconds)*time.Second)
	sweeper.Start()

	var retention *pipeline.RetentionSweeper
	if store != nil && cfg.DataRetentionSeconds > 0 {
		retention = pipeline.NewRetentionSweeper(store,
			time.Duration(cfg.DataRetentionSeconds)*time.Second,
			pipeline.DefaultRetentionInterval)
		retention.Start()
	}

	// --- Snapshot broadcaster ---
	var publisher broadcast.Publisher
	if cfg.NATS.URL != "" {
		np, err := broadcast.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.Fatalf("FATAL: could not connect to NATS: %v", err)
		}
		publisher = np
	}
	stream := broadcast.New(func() model.Snapshot {
		return st.TopN(50)
	}, broadcast.DefaultInterval, publisher)
	stream.Start()

	// --- API server ---
	allowlist, err := api.ParseAllowlist(cfg.AllowedIPs)
	if err != nil {
		log.Fatalf("FATAL: invalid allowed_ips entry: %v", err)
	}

	m := metrics.New(metrics.Sources{
		TotalPackets:    st.TotalPackets,
		TotalBytes:      st.TotalBytes,
		ActiveFlows:     st.ActiveFlows,
		RingDrops:       ring.Drops,
		KernelRingDrops: captureStats.KernelRingDrops.Load,
		DecodeErrors:    loop.DecodeErrors,
		WriteFailures:   pipelineCounter(pipe, (*pipeline.Pipeline).WriteFailures),
		LateEvents:      pipelineCounter(pipe, (*pipeline.Pipeline).LateEvents),
		OffloadDrops:    pipelineCounter(pipe, (*pipeline.Pipeline).OffloadDrops),
	})

	handler := api.NewHandler(st, store, stream, m.Handler(), api.Counters{
		RingDrops:     ring.Drops,
		DecodeErrors:  loop.DecodeErrors,
		WriteFailures: pipelineCounter(pipe, (*pipeline.Pipeline).WriteFailures),
		Degraded: func() bool {
			return pipe != nil && pipe.Degraded()
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: handler.Router(allowlist),
	}
	go func() {
		log.Printf("API server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: API server failed: %v", err)
		}
	}()

	// --- Graceful shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("API server shutdown error: %v", err)
	}

	stream.Stop()
	sweeper.Stop()
	if retention != nil {
		retention.Stop()
	}

	// Drain in capture order so in-flight records reach the store: stop
	// consuming, detach the source, flush the pipeline, then close storage.
	loop.Stop()
	if err := source.Close(); err != nil {
		log.Printf("Capture source close error: %v", err)
	}
	if pipe != nil {
		pipe.Stop()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			log.Printf("Store close error: %v", err)
		}
	}

	log.Println("Shutdown complete.")
}

// pipelineCounter adapts a pipeline accessor into a metrics callback that is
// safe when persistence is disabled.
func pipelineCounter(p *pipeline.Pipeline, get func(*pipeline.Pipeline) uint64) func() uint64 {
	return func() uint64 {
		if p == nil {
			return 0
		}
		return get(p)
	}
}
