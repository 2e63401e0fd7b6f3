package pcapreplay

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"FlowScope/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// writeTestPcap builds a capture file with two UDP packets and one ARP
// packet.
func writeTestPcap(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create pcap file: %v", err)
	}
	defer file.Close()

	w := pcapgo.NewWriter(file)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("Failed to write pcap header: %v", err)
	}

	writeFrame := func(data []byte, ts time.Time) {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("Failed to write packet: %v", err)
		}
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
		DstMAC:       net.HardwareAddr{0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b},
		EthernetType: layers.EthernetTypeIPv4,
	}
	base := time.Unix(1700000000, 0)
	for i := 0; i < 2; i++ {
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.ParseIP("192.168.0.1"),
			DstIP:    net.ParseIP("8.8.8.8"),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
		udp.SetNetworkLayerForChecksum(ip)
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("query"))); err != nil {
			t.Fatalf("Failed to serialize packet: %v", err)
		}
		writeFrame(buf.Bytes(), base.Add(time.Duration(i)*time.Second))
	}

	arpEth := &layers.Ethernet{
		SrcMAC:       eth.SrcMAC,
		DstMAC:       eth.DstMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   eth.SrcMAC,
		SourceProtAddress: []byte{192, 168, 0, 1},
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    []byte{192, 168, 0, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, arpEth, arp); err != nil {
		t.Fatalf("Failed to serialize ARP packet: %v", err)
	}
	writeFrame(buf.Bytes(), base.Add(2*time.Second))

	return path
}

func TestReader_ReadPackets(t *testing.T) {
	reader, err := NewReader(writeTestPcap(t))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events := make(chan *model.PacketEvent, 16)
	var skipped int
	done := make(chan error, 1)
	go func() {
		var err error
		skipped, err = reader.ReadPackets(events)
		done <- err
	}()

	var got []*model.PacketEvent
	for ev := range events {
		got = append(got, ev)
	}
	if err := <-done; err != nil {
		t.Fatalf("ReadPackets failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 decoded events, got %d", len(got))
	}
	if skipped != 1 {
		t.Errorf("Expected 1 skipped packet, got %d", skipped)
	}
	for _, ev := range got {
		if ev.Protocol != model.ProtoUDP || ev.DstPort != 53 {
			t.Errorf("Unexpected event: %s", ev.Key())
		}
		// Recorded timestamps must survive into the events.
		if ev.Timestamp.Year() != 2023 {
			t.Errorf("Expected the recorded timestamp, got %v", ev.Timestamp)
		}
	}
}

func TestReader_MissingFile(t *testing.T) {
	if _, err := NewReader("/nonexistent/capture.pcap"); err == nil {
		t.Error("NewReader accepted a missing file")
	}
}
