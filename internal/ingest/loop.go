package ingest

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"FlowScope/internal/capture"
	"FlowScope/internal/pipeline"
	"FlowScope/internal/state"
)

const (
	// idleWake bounds how long the loop sleeps on an empty ring so it
	// stays responsive to shutdown.
	idleWake = time.Millisecond
	// drainGrace bounds the final drain of outstanding ring entries on
	// shutdown, before the capture program is detached.
	drainGrace = time.Second
)

// Loop is the single consumer of the capture ring. For every decoded event
// it upserts the live flow table and forwards the event to the persistence
// pipeline. It performs no blocking I/O itself; durable writes are the
// pipeline's offload workers' problem.
type Loop struct {
	ring    *capture.Ring
	decoder *capture.Decoder
	store   *state.Store
	pipe    *pipeline.Pipeline

	decodeErrors atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewLoop creates the ingestion loop. The decoder's TimeBase must match the
// capture source feeding the ring. A nil pipe disables persistence.
func NewLoop(ring *capture.Ring, decoder *capture.Decoder, store *state.Store, pipe *pipeline.Pipeline) *Loop {
	return &Loop{
		ring:    ring,
		decoder: decoder,
		store:   store,
		pipe:    pipe,
		done:    make(chan struct{}),
	}
}

// Start launches the consumer goroutine.
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
}

// Stop drains outstanding ring entries (bounded by a grace period) and stops
// the loop. The capture source should be detached only after Stop returns.
func (l *Loop) Stop() {
	close(l.done)
	l.wg.Wait()
}

// DecodeErrors reports how many malformed records were skipped.
func (l *Loop) DecodeErrors() uint64 {
	return l.decodeErrors.Load()
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		rec, ok := l.ring.Pop()
		if !ok {
			select {
			case <-l.done:
				l.drain()
				return
			case <-time.After(idleWake):
			}
			continue
		}
		l.consume(rec)
	}
}

// drain consumes whatever is still queued at shutdown, up to the grace
// period.
func (l *Loop) drain() {
	deadline := time.Now().Add(drainGrace)
	for time.Now().Before(deadline) {
		rec, ok := l.ring.Pop()
		if !ok {
			return
		}
		l.consume(rec)
	}
	if n := l.ring.Len(); n > 0 {
		log.Printf("Ingestion drain grace elapsed with %d records unconsumed", n)
	}
}

func (l *Loop) consume(rec []byte) {
	ev, err := l.decoder.Decode(rec)
	if err != nil {
		// Malformed records are skipped and counted, never fatal.
		l.decodeErrors.Add(1)
		return
	}
	l.store.Record(ev)
	if l.pipe != nil {
		l.pipe.Submit(ev)
	}
}
