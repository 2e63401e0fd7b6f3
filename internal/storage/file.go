package storage

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"FlowScope/internal/model"
)

const segmentExt = ".seg"

// FileStore implements model.Store as gob segment files under a data
// directory: one segment per written batch, named by its flush time. The
// retention sweep rewrites or unlinks segments, so deletion is exact with
// respect to record timestamps.
type FileStore struct {
	dir string
	mu  sync.Mutex
	seq atomic.Uint64 // disambiguates segments flushed in the same nanosecond
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// WriteRecords persists the batch as one new segment.
func (s *FileStore) WriteRecords(ctx context.Context, records []model.PersistedRecord) error {
	if len(records) == 0 {
		return nil
	}
	name := fmt.Sprintf("%020d_%06d%s", time.Now().UnixNano(), s.seq.Add(1), segmentExt)
	path := filepath.Join(s.dir, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeSegment(path, records)
}

// RecentRecords reads all segments and returns up to limit records, most
// recent first.
func (s *FileStore) RecentRecords(ctx context.Context, limit int) ([]model.PersistedRecord, error) {
	if limit <= 0 || limit > model.HistoryLimit {
		limit = model.HistoryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.segments()
	if err != nil {
		return nil, err
	}

	var all []model.PersistedRecord
	for _, path := range paths {
		records, err := readSegment(path)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// DeleteOlderThan removes exactly the records stamped before the cutoff.
// Segments left empty are unlinked; partially expired segments are
// rewritten.
func (s *FileStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.segments()
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, path := range paths {
		records, err := readSegment(path)
		if err != nil {
			return deleted, err
		}
		kept := records[:0]
		for _, rec := range records {
			if rec.Timestamp.Before(cutoff) {
				deleted++
			} else {
				kept = append(kept, rec)
			}
		}
		switch {
		case len(kept) == len(records):
			// Nothing expired in this segment.
		case len(kept) == 0:
			if err := os.Remove(path); err != nil {
				return deleted, fmt.Errorf("failed to remove segment: %w", err)
			}
		default:
			if err := writeSegment(path, kept); err != nil {
				return deleted, err
			}
		}
	}
	return deleted, nil
}

// Close is a no-op; segments are closed after every write.
func (s *FileStore) Close() error {
	return nil
}

// segments lists segment paths, newest first.
func (s *FileStore) segments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != segmentExt {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, entry.Name()))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

func writeSegment(path string, records []model.PersistedRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(records); err != nil {
		return fmt.Errorf("failed to encode segment %s: %w", path, err)
	}
	return nil
}

func readSegment(path string) ([]model.PersistedRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	defer file.Close()

	var records []model.PersistedRecord
	if err := gob.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode segment %s: %w", path, err)
	}
	return records, nil
}
