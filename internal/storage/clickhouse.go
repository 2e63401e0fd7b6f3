package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"FlowScope/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_records (
    Timestamp DateTime64(3),
    SrcIP     String,
    DstIP     String,
    SrcPort   UInt16,
    DstPort   UInt16,
    Protocol  String,
    Packets   UInt64,
    Bytes     UInt64,
    Mode      UInt8
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(Timestamp)
ORDER BY Timestamp;
`

// ClickHouseConfig holds the connection settings for the ClickHouse backend.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ClickHouseStore implements model.Store on a ClickHouse table.
type ClickHouseStore struct {
	conn driver.Conn
}

// NewClickHouseStore connects and ensures the flow_records table exists.
func NewClickHouseStore(cfg ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")
	return &ClickHouseStore{conn: conn}, nil
}

// WriteRecords inserts the batch into flow_records.
func (s *ClickHouseStore) WriteRecords(ctx context.Context, records []model.PersistedRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO flow_records")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, rec := range records {
		err = batch.Append(
			rec.Timestamp,
			rec.SrcIP,
			rec.DstIP,
			rec.SrcPort,
			rec.DstPort,
			rec.Protocol,
			rec.Packets,
			rec.Bytes,
			uint8(rec.Mode),
		)
		if err != nil {
			return fmt.Errorf("failed to append record to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// RecentRecords returns up to limit rows, most recent first.
func (s *ClickHouseStore) RecentRecords(ctx context.Context, limit int) ([]model.PersistedRecord, error) {
	if limit <= 0 || limit > model.HistoryLimit {
		limit = model.HistoryLimit
	}
	rows, err := s.conn.Query(ctx, `
		SELECT Timestamp, SrcIP, DstIP, SrcPort, DstPort, Protocol, Packets, Bytes, Mode
		FROM flow_records ORDER BY Timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var result []model.PersistedRecord
	for rows.Next() {
		var rec model.PersistedRecord
		var mode uint8
		if err := rows.Scan(&rec.Timestamp, &rec.SrcIP, &rec.DstIP, &rec.SrcPort,
			&rec.DstPort, &rec.Protocol, &rec.Packets, &rec.Bytes, &mode); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.Mode = model.RecordMode(mode)
		result = append(result, rec)
	}
	return result, nil
}

// DeleteOlderThan issues a mutation removing rows before the cutoff. The
// count is taken up front since ClickHouse mutations are asynchronous.
func (s *ClickHouseStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, "SELECT count() FROM flow_records WHERE Timestamp < ?", cutoff)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count expired rows: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	if err := s.conn.Exec(ctx, "ALTER TABLE flow_records DELETE WHERE Timestamp < ?", cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete expired rows: %w", err)
	}
	return int64(count), nil
}

// Close closes the connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
