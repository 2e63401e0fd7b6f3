package config

import (
	"fmt"
	"os"

	"FlowScope/internal/storage"

	"gopkg.in/yaml.v3"
)

// CaptureConfig selects and tunes the capture source.
type CaptureConfig struct {
	// Mode is "ebpf" (TC classifier, linux) or "pcap" (libpcap fallback).
	Mode string `yaml:"mode"`
	// ObjectPath locates the compiled classifier for ebpf mode.
	ObjectPath string `yaml:"object_path"`
	// RingSize is the userspace ring capacity in records.
	RingSize int `yaml:"ring_size"`
	// KernelRingBytes is the kernel ring buffer capacity, fixed at load
	// time. Must be a power-of-two multiple of the page size.
	KernelRingBytes uint32 `yaml:"kernel_ring_bytes"`
	Snaplen         int32  `yaml:"snaplen"`
	// Filters apply to pcap mode only.
	FilterPort     uint16 `yaml:"filter_port"`
	FilterIP       string `yaml:"filter_ip"`
	FilterProtocol string `yaml:"filter_protocol"`
}

// StorageConfig selects the durable backend.
type StorageConfig struct {
	// Type is "file", "clickhouse", or "none".
	Type       string                   `yaml:"type"`
	Path       string                   `yaml:"path"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
}

// NATSConfig enables the snapshot export when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Config is the top-level configuration struct for the agent.
type Config struct {
	Interface string `yaml:"interface"`
	APIPort   int    `yaml:"api_port"`

	Capture CaptureConfig `yaml:"capture"`
	Storage StorageConfig `yaml:"storage"`
	NATS    NATSConfig    `yaml:"nats"`

	// ConnectionTimeoutSeconds is the idle threshold for the stale sweep.
	ConnectionTimeoutSeconds uint64 `yaml:"connection_timeout_seconds"`
	// DataRetentionSeconds is the persisted-record horizon; 0 keeps
	// everything.
	DataRetentionSeconds uint64 `yaml:"data_retention_seconds"`
	// AggregationWindowSeconds folds events into per-flow buckets; 0
	// stores raw per-packet rows.
	AggregationWindowSeconds uint64 `yaml:"aggregation_window_seconds"`
	// SampleRate persists one event in N (0 or 1 = all).
	SampleRate uint32 `yaml:"sample_rate"`

	// AllowedIPs gates the API; empty means unrestricted.
	AllowedIPs []string `yaml:"allowed_ips"`

	NumShards           int `yaml:"num_shards"`
	PipelineQueueSize   int `yaml:"pipeline_queue_size"`
	PipelineWorkers     int `yaml:"pipeline_workers"`
	PersistBatchSize    int `yaml:"persist_batch_size"`
	SweepIntervalSecond int `yaml:"sweep_interval_seconds"`

	Quiet bool `yaml:"quiet"`
}

// Default returns the configuration used when a field (or the whole file) is
// absent.
func Default() *Config {
	return &Config{
		Interface: "eth0",
		APIPort:   3000,
		Capture: CaptureConfig{
			Mode:            "ebpf",
			ObjectPath:      "bpf/flowscope.bpf.o",
			RingSize:        8192,
			KernelRingBytes: 1 << 18,
			Snaplen:         1600,
		},
		Storage: StorageConfig{
			Type: "file",
			Path: "flowdata",
		},
		ConnectionTimeoutSeconds: 60,
		SweepIntervalSecond:      10,
	}
}

// LoadConfig reads the configuration from a YAML file over the defaults.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()
	if filePath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Capture.Mode {
	case "ebpf", "pcap":
	default:
		return fmt.Errorf("unknown capture mode %q", c.Capture.Mode)
	}
	switch c.Storage.Type {
	case "file", "clickhouse", "none":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Interface == "" {
		return fmt.Errorf("interface must be set")
	}
	return nil
}
