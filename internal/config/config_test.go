package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.APIPort != 3000 {
		t.Errorf("Expected default api_port 3000, got %d", cfg.APIPort)
	}
	if cfg.Capture.Mode != "ebpf" {
		t.Errorf("Expected default capture mode ebpf, got %s", cfg.Capture.Mode)
	}
	if cfg.ConnectionTimeoutSeconds != 60 {
		t.Errorf("Expected default connection timeout 60, got %d", cfg.ConnectionTimeoutSeconds)
	}
	if cfg.DataRetentionSeconds != 0 {
		t.Errorf("Expected retention disabled by default, got %d", cfg.DataRetentionSeconds)
	}
	if cfg.AggregationWindowSeconds != 0 {
		t.Errorf("Expected raw mode by default, got window %d", cfg.AggregationWindowSeconds)
	}
	if cfg.Storage.Type != "file" {
		t.Errorf("Expected default storage type file, got %s", cfg.Storage.Type)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `
interface: "ens3"
api_port: 8080
capture:
  mode: "pcap"
  filter_port: 443
storage:
  type: "clickhouse"
  clickhouse:
    host: "ch.internal"
    port: 9000
connection_timeout_seconds: 120
aggregation_window_seconds: 60
allowed_ips:
  - "10.0.0.0/8"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Interface != "ens3" || cfg.APIPort != 8080 {
		t.Errorf("Top-level overrides not applied: %s / %d", cfg.Interface, cfg.APIPort)
	}
	if cfg.Capture.Mode != "pcap" || cfg.Capture.FilterPort != 443 {
		t.Errorf("Capture overrides not applied: %+v", cfg.Capture)
	}
	if cfg.Storage.Type != "clickhouse" || cfg.Storage.ClickHouse.Host != "ch.internal" {
		t.Errorf("Storage overrides not applied: %+v", cfg.Storage)
	}
	if cfg.ConnectionTimeoutSeconds != 120 || cfg.AggregationWindowSeconds != 60 {
		t.Errorf("Timing overrides not applied: %+v", cfg)
	}
	if len(cfg.AllowedIPs) != 1 || cfg.AllowedIPs[0] != "10.0.0.0/8" {
		t.Errorf("allowed_ips not applied: %v", cfg.AllowedIPs)
	}

	// Fields absent in the file keep their defaults.
	if cfg.Capture.Snaplen != 1600 {
		t.Errorf("Expected default snaplen to survive a partial file, got %d", cfg.Capture.Snaplen)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad capture mode", "capture:\n  mode: \"xdp\"\n"},
		{"bad storage type", "storage:\n  type: \"postgres\"\n"},
		{"empty interface", "interface: \"\"\n"},
		{"malformed yaml", "interface: [unclosed\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, c.content)); err == nil {
				t.Error("LoadConfig accepted an invalid file")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("LoadConfig accepted a missing file")
	}
}
