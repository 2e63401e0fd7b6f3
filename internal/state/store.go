package state

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"FlowScope/internal/model"
)

const defaultShardCount = 256

// shard holds a slice of the live flow table behind its own lock so that
// ingestion, readers, and the sweeper never contend on one global mutex.
type shard struct {
	mu    sync.RWMutex
	flows map[model.FlowKey]*model.FlowStats
}

// Store is the concurrently accessible mapping from flow identity to running
// statistics. Writers to disjoint keys land on different shards; writers to
// the same key serialize on one shard lock.
type Store struct {
	shards     []*shard
	shardCount uint32

	totalPackets atomic.Uint64
	totalBytes   atomic.Uint64
}

// New creates a store with the given shard count (<=0 selects the default).
func New(numShards int) *Store {
	if numShards <= 0 || numShards > 65536 {
		numShards = defaultShardCount
	}
	s := &Store{
		shards:     make([]*shard, numShards),
		shardCount: uint32(numShards),
	}
	for i := range s.shards {
		s.shards[i] = &shard{flows: make(map[model.FlowKey]*model.FlowStats)}
	}
	return s
}

func (s *Store) shardFor(key model.FlowKey) *shard {
	hasher := fnv.New32a()
	var buf [13]byte
	hasher.Write(key.AppendBytes(buf[:0]))
	return s.shards[hasher.Sum32()%s.shardCount]
}

// Record upserts the stats for the event's flow. A new key starts at the
// event's values; an existing key accumulates counts and widens the
// [FirstSeen, LastSeen] span, so batch totals are independent of arrival
// order.
func (s *Store) Record(ev *model.PacketEvent) {
	key := ev.Key()
	sh := s.shardFor(key)

	sh.mu.Lock()
	if stats, ok := sh.flows[key]; ok {
		stats.Packets++
		stats.Bytes += uint64(ev.Length)
		if ev.Timestamp.After(stats.LastSeen) {
			stats.LastSeen = ev.Timestamp
		}
		if ev.Timestamp.Before(stats.FirstSeen) {
			stats.FirstSeen = ev.Timestamp
		}
	} else {
		sh.flows[key] = &model.FlowStats{
			Packets:   1,
			Bytes:     uint64(ev.Length),
			FirstSeen: ev.Timestamp,
			LastSeen:  ev.Timestamp,
		}
	}
	sh.mu.Unlock()

	s.totalPackets.Add(1)
	s.totalBytes.Add(uint64(ev.Length))
}

// Sweep removes every entry idle for longer than timeout and returns how
// many were removed. Staleness is re-checked under the shard write lock, so
// an upsert racing the sweep wins: the entry either survives with its stats
// or is re-materialized by the next event, never silently lost.
func (s *Store) Sweep(now time.Time, timeout time.Duration) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, stats := range sh.flows {
			if now.Sub(stats.LastSeen) > timeout {
				delete(sh.flows, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Snapshot copies the live table into a consistent-per-shard view together
// with the running totals. Each shard is held only for the duration of its
// own copy.
func (s *Store) Snapshot() model.Snapshot {
	snap := model.Snapshot{
		TotalPackets: s.totalPackets.Load(),
		TotalBytes:   s.totalBytes.Load(),
		TakenAt:      time.Now(),
	}
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key, stats := range sh.flows {
			snap.Flows = append(snap.Flows, model.FlowEntry{Key: key, Stats: *stats})
		}
		sh.mu.RUnlock()
	}
	snap.ActiveFlows = len(snap.Flows)
	return snap
}

// TopN returns a snapshot whose flows are reduced to the n busiest, ordered
// by packet count descending with the key string as the deterministic
// tie-break.
func (s *Store) TopN(n int) model.Snapshot {
	snap := s.Snapshot()
	sort.Slice(snap.Flows, func(i, j int) bool {
		a, b := snap.Flows[i], snap.Flows[j]
		if a.Stats.Packets != b.Stats.Packets {
			return a.Stats.Packets > b.Stats.Packets
		}
		return a.Key.String() < b.Key.String()
	})
	if n > 0 && len(snap.Flows) > n {
		snap.Flows = snap.Flows[:n]
	}
	return snap
}

// ActiveFlows reports the current live entry count.
func (s *Store) ActiveFlows() int {
	count := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		count += len(sh.flows)
		sh.mu.RUnlock()
	}
	return count
}

// TotalPackets reports the monotonic count of packets recorded since start.
func (s *Store) TotalPackets() uint64 { return s.totalPackets.Load() }

// TotalBytes reports the monotonic count of bytes recorded since start.
func (s *Store) TotalBytes() uint64 { return s.totalBytes.Load() }
