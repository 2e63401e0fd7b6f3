package broadcast

import (
	"log"
	"sync"
	"time"

	"FlowScope/internal/model"
)

// DefaultInterval is the snapshot push cadence for streaming consumers.
const DefaultInterval = time.Second

// Publisher receives each broadcast snapshot; used for the optional NATS
// export.
type Publisher interface {
	Publish(snap model.Snapshot) error
	Close()
}

// Broadcaster periodically builds a live snapshot and fans it out to
// subscribers. Slow subscribers skip frames instead of blocking the tick.
type Broadcaster struct {
	snapshot  func() model.Snapshot
	interval  time.Duration
	publisher Publisher

	mu   sync.Mutex
	subs map[chan model.Snapshot]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a broadcaster over the given snapshot function. publisher may
// be nil.
func New(snapshot func() model.Snapshot, interval time.Duration, publisher Publisher) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{
		snapshot:  snapshot,
		interval:  interval,
		publisher: publisher,
		subs:      make(map[chan model.Snapshot]struct{}),
		done:      make(chan struct{}),
	}
}

// Subscribe registers a streaming consumer. The returned cancel func must be
// called when the consumer goes away.
func (b *Broadcaster) Subscribe() (<-chan model.Snapshot, func()) {
	ch := make(chan model.Snapshot, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Start launches the broadcast loop.
func (b *Broadcaster) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.tick()
			case <-b.done:
				return
			}
		}
	}()
}

// Stop terminates the loop and closes all subscriber channels.
func (b *Broadcaster) Stop() {
	close(b.done)
	b.wg.Wait()

	b.mu.Lock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()

	if b.publisher != nil {
		b.publisher.Close()
	}
}

func (b *Broadcaster) tick() {
	snap := b.snapshot()

	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- snap:
		default:
			// Subscriber still busy with the previous frame.
		}
	}
	b.mu.Unlock()

	if b.publisher != nil {
		if err := b.publisher.Publish(snap); err != nil {
			log.Printf("Failed to publish snapshot: %v", err)
		}
	}
}
