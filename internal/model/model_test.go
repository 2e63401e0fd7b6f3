package model

import (
	"encoding/json"
	"net/netip"
	"testing"
	"time"
)

func TestProtoName(t *testing.T) {
	cases := []struct {
		proto uint8
		want  string
	}{
		{ProtoTCP, "TCP"},
		{ProtoUDP, "UDP"},
		{1, "OTHER(1)"},
		{0, "OTHER(0)"},
	}
	for _, c := range cases {
		if got := ProtoName(c.proto); got != c.want {
			t.Errorf("ProtoName(%d) = %q, expected %q", c.proto, got, c.want)
		}
	}
}

func TestFlowKey_String(t *testing.T) {
	key := FlowKey{
		SrcAddr:  netip.MustParseAddr("192.168.0.1"),
		SrcPort:  12345,
		DstAddr:  netip.MustParseAddr("8.8.8.8"),
		DstPort:  53,
		Protocol: ProtoUDP,
	}
	want := "192.168.0.1:12345 -> 8.8.8.8:53 (UDP)"
	if got := key.String(); got != want {
		t.Errorf("String() = %q, expected %q", got, want)
	}
}

func TestFlowKey_MarshalJSON(t *testing.T) {
	key := FlowKey{
		SrcAddr:  netip.MustParseAddr("10.0.0.1"),
		SrcPort:  80,
		DstAddr:  netip.MustParseAddr("10.0.0.2"),
		DstPort:  443,
		Protocol: ProtoTCP,
	}
	data, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `"10.0.0.1:80 -> 10.0.0.2:443 (TCP)"`
	if string(data) != want {
		t.Errorf("Marshal = %s, expected %s", data, want)
	}
}

func TestFlowKey_AppendBytes(t *testing.T) {
	a := FlowKey{
		SrcAddr:  netip.MustParseAddr("10.0.0.1"),
		SrcPort:  80,
		DstAddr:  netip.MustParseAddr("10.0.0.2"),
		DstPort:  443,
		Protocol: ProtoTCP,
	}
	b := a
	b.DstPort = 444

	buf := a.AppendBytes(nil)
	if len(buf) != 13 {
		t.Fatalf("Expected 13 bytes, got %d", len(buf))
	}
	if string(a.AppendBytes(nil)) != string(buf) {
		t.Error("AppendBytes is not deterministic for equal keys")
	}
	if string(b.AppendBytes(nil)) == string(buf) {
		t.Error("Distinct keys produced identical bytes")
	}
}

func TestPacketEvent_Key(t *testing.T) {
	ev := &PacketEvent{
		Timestamp: time.Unix(1700000000, 0),
		SrcAddr:   netip.MustParseAddr("192.168.0.1"),
		DstAddr:   netip.MustParseAddr("8.8.8.8"),
		SrcPort:   1000,
		DstPort:   53,
		Protocol:  ProtoUDP,
		Length:    100,
	}

	key := ev.Key()
	if key.SrcAddr != ev.SrcAddr || key.DstAddr != ev.DstAddr ||
		key.SrcPort != ev.SrcPort || key.DstPort != ev.DstPort ||
		key.Protocol != ev.Protocol {
		t.Errorf("Key does not carry the event identity: %s", key)
	}

	// The reverse direction is a distinct flow.
	rev := &PacketEvent{
		SrcAddr: ev.DstAddr, DstAddr: ev.SrcAddr,
		SrcPort: ev.DstPort, DstPort: ev.SrcPort,
		Protocol: ev.Protocol,
	}
	if rev.Key() == key {
		t.Error("Reverse direction collapsed into the same key")
	}
}
