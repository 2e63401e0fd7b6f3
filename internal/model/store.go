package model

import (
	"context"
	"time"
)

// HistoryLimit caps the number of rows a single history query may return.
const HistoryLimit = 1000

// Store is the durable backend consumed by the persistence pipeline and the
// history query path.
type Store interface {
	// WriteRecords persists a batch of rows.
	WriteRecords(ctx context.Context, records []PersistedRecord) error

	// RecentRecords returns up to limit rows, most recent first. Limits
	// above HistoryLimit are clamped.
	RecentRecords(ctx context.Context, limit int) ([]PersistedRecord, error)

	// DeleteOlderThan removes rows with Timestamp before cutoff and
	// reports how many were deleted. Best effort; partial failure is
	// retried on the next retention cycle.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
