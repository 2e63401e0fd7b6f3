package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"FlowScope/internal/model"
	"FlowScope/internal/pipeline"
	"FlowScope/internal/state"
	"FlowScope/internal/storage"
	"FlowScope/pkg/pcapreplay"
)

func main() {
	file := flag.String("file", "", "Path to the pcap file to replay (required).")
	outDir := flag.String("out", "", "Directory for the persisted records; empty skips persistence.")
	window := flag.Duration("window", 0, "Aggregation window; 0 persists raw per-packet rows.")
	topN := flag.Int("top", 10, "Number of flows to print in the summary.")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file flag is required.")
		flag.Usage()
		os.Exit(1)
	}

	reader, err := pcapreplay.NewReader(*file)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	defer reader.Close()

	var pipe *pipeline.Pipeline
	if *outDir != "" {
		store, err := storage.NewFileStore(*outDir)
		if err != nil {
			log.Fatalf("FATAL: could not open file store: %v", err)
		}
		defer store.Close()
		pipe = pipeline.New(store, pipeline.Config{Window: *window})
		pipe.Start()
	}

	st := state.New(0)
	events := make(chan *model.PacketEvent, 1024)
	go func() {
		skipped, err := reader.ReadPackets(events)
		if err != nil {
			log.Fatalf("FATAL: replay failed: %v", err)
		}
		if skipped > 0 {
			log.Printf("Skipped %d non-IPv4 packets", skipped)
		}
	}()

	start := time.Now()
	count := 0
	for ev := range events {
		st.Record(ev)
		if pipe != nil {
			pipe.Submit(ev)
		}
		count++
	}
	if pipe != nil {
		pipe.Stop()
	}

	fmt.Printf("Replayed %d packets in %v (%d flows, %d bytes)\n",
		count, time.Since(start).Round(time.Millisecond), st.ActiveFlows(), st.TotalBytes())

	snap := st.TopN(*topN)
	fmt.Printf("\nTop %d flows by packet count:\n", len(snap.Flows))
	for i, entry := range snap.Flows {
		fmt.Printf("%3d. %-55s %8d pkts %12d bytes\n",
			i+1, entry.Key.String(), entry.Stats.Packets, entry.Stats.Bytes)
	}
}
