package pipeline

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"FlowScope/internal/model"
)

const (
	defaultFlushInterval = 2 * time.Second
	defaultBatchSize     = 1000
	defaultQueueSize     = 64
	defaultWorkers       = 2

	writeAttempts    = 3
	writeBackoffBase = 100 * time.Millisecond
	writeTimeout     = 10 * time.Second
)

// Config tunes the persistence pipeline.
type Config struct {
	// Window selects the mode: 0 persists one row per packet, >0 folds
	// events into per-flow buckets of that span.
	Window time.Duration
	// FlushInterval is the idle-flush cadence.
	FlushInterval time.Duration
	// BatchSize caps a raw-mode batch before it is dispatched early.
	BatchSize int
	// QueueSize bounds the offload queue between the fold loop and the
	// storage workers.
	QueueSize int
	// Workers is the number of goroutines performing blocking store I/O.
	Workers int
	// SampleRate keeps one event in N for persistence (0 or 1 keeps all).
	// Live state is unaffected by sampling.
	SampleRate uint32
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	return c
}

type bucketKey struct {
	flow  model.FlowKey
	start int64 // window start, unix nanoseconds
}

type bucket struct {
	flow    model.FlowKey
	start   time.Time
	proto   uint8
	packets uint64
	bytes   uint64
}

// Pipeline turns the event stream into durable rows. The fold loop owns all
// aggregation state and never touches the store; batches are handed to a
// bounded offload queue drained by background workers, so a slow disk cannot
// stall capture or live-state updates.
type Pipeline struct {
	store model.Store
	cfg   Config

	events  chan *model.PacketEvent
	batches chan []model.PersistedRecord

	// Owned by the run goroutine.
	buffer        []model.PersistedRecord
	buckets       map[bucketKey]*bucket
	lastWindow    map[model.FlowKey]int64
	sampleCounter uint32

	lateEvents    atomic.Uint64
	writeFailures atomic.Uint64
	offloadDrops  atomic.Uint64
	degraded      atomic.Bool

	runWg    sync.WaitGroup
	writerWg sync.WaitGroup
}

// New creates a pipeline writing through the given store.
func New(store model.Store, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		store:      store,
		cfg:        cfg,
		events:     make(chan *model.PacketEvent, cfg.QueueSize),
		batches:    make(chan []model.PersistedRecord, cfg.QueueSize),
		buckets:    make(map[bucketKey]*bucket),
		lastWindow: make(map[model.FlowKey]int64),
	}
}

// Start launches the fold loop and the storage workers.
func (p *Pipeline) Start() {
	p.writerWg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.writer()
	}
	p.runWg.Add(1)
	go p.run()
}

// Stop flushes all open state (including open aggregation buckets) and waits
// for the storage workers to finish. Submit must not be called after Stop.
func (p *Pipeline) Stop() {
	close(p.events)
	p.runWg.Wait()
	close(p.batches)
	p.writerWg.Wait()
}

// Submit hands one event to the pipeline. The events channel is bounded, so
// a full pipeline applies backpressure to the caller rather than growing
// without bound.
func (p *Pipeline) Submit(ev *model.PacketEvent) {
	p.events <- ev
}

// LateEvents reports events that arrived for an already-closed window.
func (p *Pipeline) LateEvents() uint64 { return p.lateEvents.Load() }

// WriteFailures reports batches abandoned after exhausting retries.
func (p *Pipeline) WriteFailures() uint64 { return p.writeFailures.Load() }

// OffloadDrops reports batches dropped against a full offload queue.
func (p *Pipeline) OffloadDrops() uint64 { return p.offloadDrops.Load() }

// Degraded reports whether the store is currently failing and the agent is
// running live-metrics-only.
func (p *Pipeline) Degraded() bool { return p.degraded.Load() }

func (p *Pipeline) run() {
	defer p.runWg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-p.events:
			if !ok {
				p.flushAll()
				return
			}
			p.ingest(ev)
		case <-ticker.C:
			p.idleFlush(time.Now())
		}
	}
}

func (p *Pipeline) ingest(ev *model.PacketEvent) {
	if p.cfg.SampleRate > 1 {
		p.sampleCounter++
		if p.sampleCounter%p.cfg.SampleRate != 0 {
			return
		}
	}

	if p.cfg.Window <= 0 {
		p.buffer = append(p.buffer, rawRecord(ev))
		if len(p.buffer) >= p.cfg.BatchSize {
			p.dispatch(p.buffer)
			p.buffer = nil
		}
		return
	}

	key := ev.Key()
	start := ev.Timestamp.Truncate(p.cfg.Window)
	startNs := start.UnixNano()

	last, seen := p.lastWindow[key]
	switch {
	case seen && startNs < last:
		// Late event: its window is already closed, so it becomes its
		// own row. Buckets are keyed by (flow, window start) and the
		// store allows multiple rows per pair.
		p.lateEvents.Add(1)
		b := &bucket{flow: key, start: start, proto: ev.Protocol}
		b.merge(ev)
		p.dispatch([]model.PersistedRecord{b.record()})
		return
	case seen && startNs > last:
		// The event moved past the open window for this flow: the old
		// bucket is final.
		old := bucketKey{flow: key, start: last}
		if b, ok := p.buckets[old]; ok {
			p.dispatch([]model.PersistedRecord{b.record()})
			delete(p.buckets, old)
		}
		p.lastWindow[key] = startNs
	case !seen:
		p.lastWindow[key] = startNs
	}

	bk := bucketKey{flow: key, start: startNs}
	b, ok := p.buckets[bk]
	if !ok {
		b = &bucket{flow: key, start: start, proto: ev.Protocol}
		p.buckets[bk] = b
	}
	b.merge(ev)
}

// idleFlush closes raw batches and any bucket whose window has fully passed,
// so quiet flows still reach storage without waiting for a successor event.
func (p *Pipeline) idleFlush(now time.Time) {
	if len(p.buffer) > 0 {
		p.dispatch(p.buffer)
		p.buffer = nil
	}
	if p.cfg.Window <= 0 {
		return
	}
	var closed []model.PersistedRecord
	for bk, b := range p.buckets {
		if !b.start.Add(p.cfg.Window).After(now) {
			closed = append(closed, b.record())
			delete(p.buckets, bk)
			if p.lastWindow[bk.flow] == bk.start {
				delete(p.lastWindow, bk.flow)
			}
		}
	}
	if len(closed) > 0 {
		p.dispatch(closed)
	}
}

// flushAll writes out everything open; called once on shutdown.
func (p *Pipeline) flushAll() {
	if len(p.buffer) > 0 {
		p.dispatch(p.buffer)
		p.buffer = nil
	}
	if len(p.buckets) == 0 {
		return
	}
	records := make([]model.PersistedRecord, 0, len(p.buckets))
	for _, b := range p.buckets {
		records = append(records, b.record())
	}
	p.buckets = make(map[bucketKey]*bucket)
	p.lastWindow = make(map[model.FlowKey]int64)
	p.dispatch(records)
}

// dispatch hands a batch to the offload queue without blocking the fold
// loop. A full queue means storage is behind; the batch is dropped and
// counted rather than stalling the event path.
func (p *Pipeline) dispatch(records []model.PersistedRecord) {
	select {
	case p.batches <- records:
	default:
		p.offloadDrops.Add(1)
		log.Printf("Offload queue full, dropping batch of %d records", len(records))
	}
}

func (p *Pipeline) writer() {
	defer p.writerWg.Done()
	for batch := range p.batches {
		p.writeWithRetry(batch)
	}
}

func (p *Pipeline) writeWithRetry(batch []model.PersistedRecord) {
	backoff := writeBackoffBase
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := p.store.WriteRecords(ctx, batch)
		cancel()
		if err == nil {
			if p.degraded.Swap(false) {
				log.Println("Durable store recovered, resuming persistence.")
			}
			return
		}
		if attempt >= writeAttempts {
			p.writeFailures.Add(1)
			if !p.degraded.Swap(true) {
				log.Printf("Durable store failing (%v), degrading to live-metrics-only operation", err)
			}
			return
		}
		log.Printf("Failed to write batch (attempt %d/%d): %v", attempt, writeAttempts, err)
		time.Sleep(backoff)
		backoff *= 2
	}
}

func rawRecord(ev *model.PacketEvent) model.PersistedRecord {
	return model.PersistedRecord{
		Timestamp: ev.Timestamp,
		SrcIP:     ev.SrcAddr.String(),
		DstIP:     ev.DstAddr.String(),
		SrcPort:   ev.SrcPort,
		DstPort:   ev.DstPort,
		Protocol:  model.ProtoName(ev.Protocol),
		Packets:   1,
		Bytes:     uint64(ev.Length),
		Mode:      model.ModeRaw,
	}
}

func (b *bucket) merge(ev *model.PacketEvent) {
	b.packets++
	b.bytes += uint64(ev.Length)
}

func (b *bucket) record() model.PersistedRecord {
	return model.PersistedRecord{
		Timestamp: b.start,
		SrcIP:     b.flow.SrcAddr.String(),
		DstIP:     b.flow.DstAddr.String(),
		SrcPort:   b.flow.SrcPort,
		DstPort:   b.flow.DstPort,
		Protocol:  model.ProtoName(b.proto),
		Packets:   b.packets,
		Bytes:     b.bytes,
		Mode:      model.ModeWindow,
	}
}
