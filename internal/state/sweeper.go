package state

import (
	"log"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the stale sweep runs, independent of
// ingestion.
const DefaultSweepInterval = 10 * time.Second

// Sweeper periodically evicts stale entries from a Store.
type Sweeper struct {
	store    *Store
	interval time.Duration
	timeout  time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper removing entries idle longer than timeout.
func NewSweeper(store *Store, interval, timeout time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := s.store.Sweep(time.Now(), s.timeout); removed > 0 {
					log.Printf("Stale sweep removed %d idle flows", removed)
				}
			case <-s.done:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (s *Sweeper) Stop() {
	close(s.done)
	s.wg.Wait()
}
