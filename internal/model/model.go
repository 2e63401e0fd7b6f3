package model

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"
)

// IP protocol numbers carried in PacketEvent.Protocol. Anything that is not
// TCP or UDP is classified as "other" and keeps its raw protocol number with
// zero port fields.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// ProtoName returns the human-readable tag for an IP protocol number.
func ProtoName(proto uint8) string {
	switch proto {
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return fmt.Sprintf("OTHER(%d)", proto)
	}
}

// PacketEvent is the decoded form of one fixed-layout capture record.
// It is produced once per observed packet and consumed exactly once by the
// ingestion loop.
type PacketEvent struct {
	Timestamp time.Time
	SrcAddr   netip.Addr
	DstAddr   netip.Addr
	SrcPort   uint16
	DstPort   uint16
	Protocol  uint8
	Length    uint32
}

// Key returns the directional flow identity of the event.
func (e *PacketEvent) Key() FlowKey {
	return FlowKey{
		SrcAddr:  e.SrcAddr,
		SrcPort:  e.SrcPort,
		DstAddr:  e.DstAddr,
		DstPort:  e.DstPort,
		Protocol: e.Protocol,
	}
}

// FlowKey identifies a single directional flow. The reverse direction is a
// distinct key, never merged.
type FlowKey struct {
	SrcAddr  netip.Addr
	SrcPort  uint16
	DstAddr  netip.Addr
	DstPort  uint16
	Protocol uint8
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d (%s)",
		k.SrcAddr, k.SrcPort, k.DstAddr, k.DstPort, ProtoName(k.Protocol))
}

// MarshalJSON renders the key as its string form for API payloads.
func (k FlowKey) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", k.String())), nil
}

// AppendBytes appends a fixed binary encoding of the key, used for shard
// hashing. IPv4 addresses only in the current scope.
func (k FlowKey) AppendBytes(dst []byte) []byte {
	src := k.SrcAddr.As4()
	d := k.DstAddr.As4()
	dst = append(dst, src[:]...)
	dst = append(dst, d[:]...)
	dst = binary.BigEndian.AppendUint16(dst, k.SrcPort)
	dst = binary.BigEndian.AppendUint16(dst, k.DstPort)
	return append(dst, k.Protocol)
}

// FlowStats holds the running statistics of a live flow. Counts are
// monotonically non-decreasing while the flow is live; FirstSeen <= LastSeen
// always holds.
type FlowStats struct {
	Packets   uint64    `json:"packets_count"`
	Bytes     uint64    `json:"bytes_count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// FlowEntry pairs a key with a copy of its stats in a snapshot.
type FlowEntry struct {
	Key   FlowKey   `json:"flow"`
	Stats FlowStats `json:"stats"`
}

// Snapshot is a point-in-time view over the live flow table. It reflects some
// consistent state, not necessarily the most recent event.
type Snapshot struct {
	Flows        []FlowEntry `json:"flows"`
	TotalPackets uint64      `json:"total_packets"`
	TotalBytes   uint64      `json:"total_bytes"`
	ActiveFlows  int         `json:"active_flows"`
	TakenAt      time.Time   `json:"taken_at"`
}

// RecordMode tags how a PersistedRecord was produced.
type RecordMode uint8

const (
	// ModeRaw marks a per-packet row.
	ModeRaw RecordMode = iota
	// ModeWindow marks an aggregated per-bucket row; Timestamp is the
	// window start.
	ModeWindow
)

// PersistedRecord is one durable row. Timestamp drives both the retention
// sweep and recency queries.
type PersistedRecord struct {
	Timestamp time.Time  `json:"timestamp"`
	SrcIP     string     `json:"src_ip"`
	DstIP     string     `json:"dst_ip"`
	SrcPort   uint16     `json:"src_port"`
	DstPort   uint16     `json:"dst_port"`
	Protocol  string     `json:"protocol"`
	Packets   uint64     `json:"packets"`
	Bytes     uint64     `json:"bytes"`
	Mode      RecordMode `json:"mode"`
}
