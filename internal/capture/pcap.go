package capture

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"FlowScope/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

const (
	defaultSnaplen = 1600
	promiscuous    = true
)

// Filter narrows which parsed packets enter the pipeline in pcap mode. Zero
// values match everything.
type Filter struct {
	Port     uint16
	IP       string
	Protocol string // "tcp" or "udp", case-insensitive
}

// Matches reports whether an event passes the filter.
func (f Filter) Matches(ev *model.PacketEvent) bool {
	if f.Port != 0 && ev.SrcPort != f.Port && ev.DstPort != f.Port {
		return false
	}
	if f.IP != "" && ev.SrcAddr.String() != f.IP && ev.DstAddr.String() != f.IP {
		return false
	}
	if f.Protocol != "" && !strings.EqualFold(model.ProtoName(ev.Protocol), f.Protocol) {
		return false
	}
	return true
}

// PcapConfig configures the userspace capture fallback.
type PcapConfig struct {
	Interface string
	Snaplen   int32
	Filter    Filter
}

// PcapSource captures with libpcap and performs the header walk in
// userspace, producing the same fixed-layout records as the kernel program.
type PcapSource struct {
	handle *pcap.Handle
	ring   *Ring
	filter Filter
	stats  *Stats

	closeOnce sync.Once
}

// NewPcapSource opens the interface for live capture. Failure is a startup
// fault.
func NewPcapSource(cfg PcapConfig, ring *Ring, stats *Stats) (*PcapSource, error) {
	snaplen := cfg.Snaplen
	if snaplen <= 0 {
		snaplen = defaultSnaplen
	}
	handle, err := pcap.OpenLive(cfg.Interface, snaplen, promiscuous, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("opening device %s: %w", cfg.Interface, err)
	}
	log.Printf("pcap capture started on %s", cfg.Interface)
	return &PcapSource{handle: handle, ring: ring, filter: cfg.Filter, stats: stats}, nil
}

// Run parses captured frames and pushes records into the ring until Close.
func (s *PcapSource) Run() error {
	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	for packet := range packetSource.Packets() {
		ev, ok := ParsePacket(packet)
		if !ok {
			s.stats.NonIPv4.Add(1)
			continue
		}
		if !s.filter.Matches(ev) {
			continue
		}
		// Overflow is counted by the ring itself.
		s.ring.Push(EncodeEvent(ev))
	}
	return nil
}

// Close stops the capture loop.
func (s *PcapSource) Close() error {
	s.closeOnce.Do(func() {
		s.handle.Close()
		log.Println("pcap capture stopped.")
	})
	return nil
}
