package storage

import (
	"context"
	"testing"
	"time"

	"FlowScope/internal/model"
)

func record(ts time.Time, srcPort uint16) model.PersistedRecord {
	return model.PersistedRecord{
		Timestamp: ts,
		SrcIP:     "192.168.0.1",
		DstIP:     "8.8.8.8",
		SrcPort:   srcPort,
		DstPort:   53,
		Protocol:  "UDP",
		Packets:   1,
		Bytes:     100,
		Mode:      model.ModeRaw,
	}
}

func TestFileStore_WriteAndReadBack(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	// Two batches out of timestamp order across batches.
	if err := store.WriteRecords(ctx, []model.PersistedRecord{
		record(base.Add(2*time.Second), 1000),
		record(base, 1001),
	}); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}
	if err := store.WriteRecords(ctx, []model.PersistedRecord{
		record(base.Add(time.Second), 1002),
	}); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	got, err := store.RecentRecords(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRecords failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(got))
	}

	// Most recent first, regardless of batch boundaries.
	wantPorts := []uint16{1000, 1002, 1001}
	for i, rec := range got {
		if rec.SrcPort != wantPorts[i] {
			t.Errorf("Position %d: expected port %d, got %d", i, wantPorts[i], rec.SrcPort)
		}
	}
}

func TestFileStore_RecentRecordsLimit(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}

	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	batch := make([]model.PersistedRecord, 20)
	for i := range batch {
		batch[i] = record(base.Add(time.Duration(i)*time.Second), uint16(1000+i))
	}
	if err := store.WriteRecords(ctx, batch); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	got, err := store.RecentRecords(ctx, 5)
	if err != nil {
		t.Fatalf("RecentRecords failed: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("Expected 5 records, got %d", len(got))
	}
	if got[0].SrcPort != 1019 {
		t.Errorf("Expected the newest record first, got port %d", got[0].SrcPort)
	}

	// A non-positive limit falls back to the cap instead of returning
	// nothing.
	got, err = store.RecentRecords(ctx, 0)
	if err != nil {
		t.Fatalf("RecentRecords failed: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("Expected all 20 records for limit 0, got %d", len(got))
	}
}

func TestFileStore_DeleteOlderThan(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}

	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	// One fully expired segment and one mixed segment.
	if err := store.WriteRecords(ctx, []model.PersistedRecord{
		record(base, 1000),
		record(base.Add(10*time.Second), 1001),
	}); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}
	if err := store.WriteRecords(ctx, []model.PersistedRecord{
		record(base.Add(20*time.Second), 1002),
		record(base.Add(3650*time.Second), 1003),
	}); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	// Sweep at t=3700 with a 3600s horizon: everything before t=100 goes.
	deleted, err := store.DeleteOlderThan(ctx, base.Add(100*time.Second))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Expected 3 deletions, got %d", deleted)
	}

	got, err := store.RecentRecords(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRecords failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 surviving record, got %d", len(got))
	}
	if got[0].SrcPort != 1003 {
		t.Errorf("Expected the record inside the horizon to survive, got port %d", got[0].SrcPort)
	}

	// A repeat sweep with the same cutoff deletes nothing.
	deleted, err = store.DeleteOlderThan(ctx, base.Add(100*time.Second))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Repeated sweep deleted %d records", deleted)
	}
}

func TestFileStore_EmptyDirectory(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}

	got, err := store.RecentRecords(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentRecords failed on an empty store: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no records, got %d", len(got))
	}

	deleted, err := store.DeleteOlderThan(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("DeleteOlderThan failed on an empty store: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 deletions, got %d", deleted)
	}
}
