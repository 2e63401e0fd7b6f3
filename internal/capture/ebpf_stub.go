//go:build !linux

package capture

import "fmt"

// EBPFConfig configures the kernel capture program.
type EBPFConfig struct {
	Interface  string
	ObjectPath string
	RingBytes  uint32
}

// EBPFSource is only available on Linux; other platforms fall back to the
// pcap capture mode.
type EBPFSource struct{}

func NewEBPFSource(cfg EBPFConfig, ring *Ring, stats *Stats) (*EBPFSource, error) {
	return nil, fmt.Errorf("eBPF capture requires Linux; use capture mode %q instead", "pcap")
}

func (s *EBPFSource) Run() error   { return nil }
func (s *EBPFSource) Close() error { return nil }
