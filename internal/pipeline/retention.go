package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"FlowScope/internal/model"
)

// DefaultRetentionInterval is the cadence of the retention sweep.
const DefaultRetentionInterval = time.Minute

// RetentionSweeper deletes persisted rows older than the configured horizon.
// Deletion is best effort: a failed cycle is logged and retried on the next
// tick, never fatal.
type RetentionSweeper struct {
	store    model.Store
	horizon  time.Duration
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewRetentionSweeper creates a sweeper for the given horizon. A horizon of
// zero disables deletion entirely and Start becomes a no-op.
func NewRetentionSweeper(store model.Store, horizon, interval time.Duration) *RetentionSweeper {
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	return &RetentionSweeper{
		store:    store,
		horizon:  horizon,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop if retention is enabled.
func (r *RetentionSweeper) Start() {
	if r.horizon <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-r.done:
				return
			}
		}
	}()
	log.Printf("Data retention enabled: %s horizon, sweeping every %s", r.horizon, r.interval)
}

// Stop terminates the sweep loop.
func (r *RetentionSweeper) Stop() {
	close(r.done)
	r.wg.Wait()
}

func (r *RetentionSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	deleted, err := r.store.DeleteOlderThan(ctx, time.Now().Add(-r.horizon))
	if err != nil {
		log.Printf("Data retention cleanup failed: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Data retention: deleted %d old records", deleted)
	}
}
