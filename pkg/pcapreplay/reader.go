// Package pcapreplay reads capture files and replays their packets as
// decoded events, preserving the recorded timestamps.
package pcapreplay

import (
	"fmt"

	"FlowScope/internal/capture"
	"FlowScope/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// Reader iterates over the packets of an offline capture file.
type Reader struct {
	handle *pcap.Handle
}

// NewReader opens a pcap file for replay.
func NewReader(filePath string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filePath, err)
	}
	return &Reader{handle: handle}, nil
}

// ReadPackets decodes every IPv4 packet in the file and sends it on out.
// The channel is closed when the file is exhausted. Packets that are not
// IPv4 are skipped and counted in the returned total.
func (r *Reader) ReadPackets(out chan<- *model.PacketEvent) (skipped int, err error) {
	defer close(out)
	src := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for packet := range src.Packets() {
		ev, ok := capture.ParsePacket(packet)
		if !ok {
			skipped++
			continue
		}
		out <- ev
	}
	return skipped, nil
}

// Close releases the underlying handle.
func (r *Reader) Close() {
	r.handle.Close()
}
