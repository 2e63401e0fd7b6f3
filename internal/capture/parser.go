package capture

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"FlowScope/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EventSize is the fixed wire size of one capture record. The layout mirrors
// struct packet_event in bpf/flowscope.bpf.c:
//
//	0..8   timestamp (ns, meaning depends on TimeBase)
//	8..12  source IPv4 address, network byte order
//	12..16 destination IPv4 address, network byte order
//	16..18 source port, host byte order
//	18..20 destination port, host byte order
//	20     IP protocol number
//	21..24 padding
//	24..28 packet length
const EventSize = 28

// TimeBase declares how the timestamp field of a record is to be read.
type TimeBase int

const (
	// TimeKtime marks kernel-produced records whose timestamps are
	// monotonic nanoseconds since boot (bpf_ktime_get_ns).
	TimeKtime TimeBase = iota
	// TimeUnixNano marks userspace-produced records carrying wall-clock
	// Unix nanoseconds.
	TimeUnixNano
)

// Decoder turns raw ring records into PacketEvents. A decoder for TimeKtime
// records anchors the kernel monotonic clock to the wall clock using the
// first record it sees, so windowing and retention operate on one clock.
type Decoder struct {
	base        TimeBase
	calibrate   sync.Once
	origin      time.Time
	originKtime uint64
}

// NewDecoder creates a decoder for records produced with the given TimeBase.
func NewDecoder(base TimeBase) *Decoder {
	return &Decoder{base: base}
}

// Decode parses one fixed-layout record. Truncated or zero-length records
// are rejected, never fatal to the caller.
func (d *Decoder) Decode(rec []byte) (*model.PacketEvent, error) {
	if len(rec) < EventSize {
		return nil, fmt.Errorf("truncated capture record: %d bytes, want %d", len(rec), EventSize)
	}

	ts := binary.NativeEndian.Uint64(rec[0:8])
	ev := &model.PacketEvent{
		SrcAddr:  netip.AddrFrom4([4]byte(rec[8:12])),
		DstAddr:  netip.AddrFrom4([4]byte(rec[12:16])),
		SrcPort:  binary.NativeEndian.Uint16(rec[16:18]),
		DstPort:  binary.NativeEndian.Uint16(rec[18:20]),
		Protocol: rec[20],
		Length:   binary.NativeEndian.Uint32(rec[24:28]),
	}

	switch d.base {
	case TimeUnixNano:
		ev.Timestamp = time.Unix(0, int64(ts))
	default:
		d.calibrate.Do(func() {
			d.origin = time.Now()
			d.originKtime = ts
		})
		ev.Timestamp = d.origin.Add(time.Duration(int64(ts) - int64(d.originKtime)))
	}
	return ev, nil
}

// EncodeEvent serializes an event into the fixed record layout with a
// wall-clock timestamp. Used by the userspace capture paths and by tests.
func EncodeEvent(ev *model.PacketEvent) []byte {
	rec := make([]byte, EventSize)
	binary.NativeEndian.PutUint64(rec[0:8], uint64(ev.Timestamp.UnixNano()))
	src := ev.SrcAddr.As4()
	dst := ev.DstAddr.As4()
	copy(rec[8:12], src[:])
	copy(rec[12:16], dst[:])
	binary.NativeEndian.PutUint16(rec[16:18], ev.SrcPort)
	binary.NativeEndian.PutUint16(rec[18:20], ev.DstPort)
	rec[20] = ev.Protocol
	binary.NativeEndian.PutUint32(rec[24:28], ev.Length)
	return rec
}

// ParsePacket extracts a PacketEvent from a captured frame using gopacket.
// Non-IPv4 packets return ok=false; IPv4 packets with a transport other than
// TCP or UDP are kept with zero port fields.
func ParsePacket(packet gopacket.Packet) (*model.PacketEvent, bool) {
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, false
	}
	ip := ipLayer.(*layers.IPv4)

	srcAddr, ok := netip.AddrFromSlice(ip.SrcIP.To4())
	if !ok {
		return nil, false
	}
	dstAddr, ok := netip.AddrFromSlice(ip.DstIP.To4())
	if !ok {
		return nil, false
	}

	ev := &model.PacketEvent{
		Timestamp: time.Now(),
		SrcAddr:   srcAddr,
		DstAddr:   dstAddr,
		Protocol:  uint8(ip.Protocol),
		Length:    uint32(len(packet.Data())),
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		ev.Timestamp = meta.Timestamp
		if meta.Length > 0 {
			ev.Length = uint32(meta.Length)
		}
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		ev.SrcPort = uint16(tcp.SrcPort)
		ev.DstPort = uint16(tcp.DstPort)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		ev.SrcPort = uint16(udp.SrcPort)
		ev.DstPort = uint16(udp.DstPort)
	}

	return ev, true
}
