package flow

import (
	"bytes"
	"testing"

	"github.com/google/gopacket/layers"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
	"github.com/zeekshard/zeekshard/internal/pcap/pcaptest"
	"github.com/zeekshard/zeekshard/pkg/types"
)

func TestDecodeIPv4TCP(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet)
	p := d.Decode(pcaptest.TCP("10.0.0.1", 5000, "10.0.0.2", 80))

	if p.Err != nil {
		t.Fatalf("unexpected error: %v", p.Err)
	}
	want := types.FlowTuple{IPVersion: 4, SrcIP: "10.0.0.1", SrcPort: 5000, DstIP: "10.0.0.2", DstPort: 80, Proto: types.ProtoTCP}
	if p.Tuple != want {
		t.Errorf("got %s, want %s", p.Tuple, want)
	}
}

func TestDecodeIPv4UDP(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet)
	p := d.Decode(pcaptest.UDP("192.168.1.10", 40000, "8.8.8.8", 53))

	if p.Err != nil {
		t.Fatalf("unexpected error: %v", p.Err)
	}
	if p.Tuple.Proto != types.ProtoUDP || p.Tuple.SrcPort != 40000 || p.Tuple.DstPort != 53 {
		t.Errorf("unexpected tuple %s", p.Tuple)
	}
}

func TestDecodeIPv6(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet)
	p := d.Decode(pcaptest.TCP("2001:db8::1", 443, "2001:db8::2", 51000))

	if p.Err != nil {
		t.Fatalf("unexpected error: %v", p.Err)
	}
	if p.Tuple.IPVersion != 6 {
		t.Errorf("expected IPv6, got %d", p.Tuple.IPVersion)
	}
	if p.Tuple.SrcIP != "2001:0db8:0000:0000:0000:0000:0000:0001" {
		t.Errorf("expected expanded IPv6 address, got %s", p.Tuple.SrcIP)
	}
	if p.Tuple.SrcPort != 443 || p.Tuple.DstPort != 51000 {
		t.Errorf("unexpected ports in %s", p.Tuple)
	}
}

func TestDecodeICMPHasNoPorts(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet)
	p := d.Decode(pcaptest.ICMP("10.0.0.1", "10.0.0.2"))

	if p.Err != nil {
		t.Fatalf("unexpected error: %v", p.Err)
	}
	if p.Tuple.Proto != types.ProtoICMP {
		t.Errorf("expected icmp, got %s", p.Tuple.Proto)
	}
	if p.Tuple.SrcPort != 0 || p.Tuple.DstPort != 0 {
		t.Errorf("expected zero ports, got %s", p.Tuple)
	}
}

func TestDecodeFallsBack(t *testing.T) {
	tcp := pcaptest.TCP("10.0.0.1", 5000, "10.0.0.2", 80)
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"arp", pcaptest.ARP()},
		{"short ethernet", tcp[:10]},
		{"truncated ipv4", tcp[:14+12]},
	}

	d := NewDecoder(layers.LinkTypeEthernet)
	for _, tt := range tests {
		p := d.Decode(tt.data)
		if p.Err == nil {
			t.Errorf("%s: expected a decode error", tt.name)
			continue
		}
		if shardErrors.GetCategory(p.Err) != shardErrors.ErrCategoryPacket {
			t.Errorf("%s: expected PACKET error, got %v", tt.name, p.Err)
		}
		if p.Tuple != types.UnknownTuple {
			t.Errorf("%s: expected unknown tuple, got %s", tt.name, p.Tuple)
		}
		if !bytes.Equal(p.Key, FallbackKey(tt.data)) {
			t.Errorf("%s: expected fallback key", tt.name)
		}
	}
}

func TestDecodePortsFromTruncatedTransport(t *testing.T) {
	tcp := pcaptest.TCP("10.0.0.1", 5000, "10.0.0.2", 80)
	syn := pcaptest.TCPWithOptions("10.0.0.1", 5000, "10.0.0.2", 80)
	udp := pcaptest.UDP("10.0.0.3", 53000, "10.0.0.4", 53)
	tests := []struct {
		name string
		data []byte
		want types.FlowTuple
	}{
		{
			"tcp cut after ports",
			tcp[:14+20+8],
			types.FlowTuple{IPVersion: 4, SrcIP: "10.0.0.1", SrcPort: 5000, DstIP: "10.0.0.2", DstPort: 80, Proto: types.ProtoTCP},
		},
		{
			"syn with options at 68 byte snaplen",
			syn[:68],
			types.FlowTuple{IPVersion: 4, SrcIP: "10.0.0.1", SrcPort: 5000, DstIP: "10.0.0.2", DstPort: 80, Proto: types.ProtoTCP},
		},
		{
			"udp cut after ports",
			udp[:14+20+4],
			types.FlowTuple{IPVersion: 4, SrcIP: "10.0.0.3", SrcPort: 53000, DstIP: "10.0.0.4", DstPort: 53, Proto: types.ProtoUDP},
		},
		{
			"tcp with fewer than four transport bytes",
			tcp[:14+20+3],
			types.FlowTuple{IPVersion: 4, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Proto: types.ProtoTCP},
		},
	}

	d := NewDecoder(layers.LinkTypeEthernet)
	for _, tt := range tests {
		p := d.Decode(tt.data)
		if p.Err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, p.Err)
			continue
		}
		if p.Tuple != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, p.Tuple, tt.want)
		}
	}
}

func TestDecodeTruncatedSynStaysWithItsFlow(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet)
	syn := d.Decode(pcaptest.TCPWithOptions("10.0.0.1", 5000, "10.0.0.2", 80)[:68])
	reply := d.Decode(pcaptest.TCP("10.0.0.2", 80, "10.0.0.1", 5000))

	if !bytes.Equal(syn.Key, reply.Key) {
		t.Fatal("a truncated packet should share its reverse packet's key")
	}
	for n := 1; n <= 16; n++ {
		if WorkerFor(syn.Key, n) != WorkerFor(reply.Key, n) {
			t.Errorf("workers=%d: flow split across workers", n)
		}
	}
}

func TestDecodeFragments(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet)

	first := d.Decode(pcaptest.UDPFragment("10.0.0.1", 5353, "10.0.0.2", 53))
	if first.Err != nil {
		t.Fatalf("unexpected error: %v", first.Err)
	}
	want := types.FlowTuple{IPVersion: 4, SrcIP: "10.0.0.1", SrcPort: 5353, DstIP: "10.0.0.2", DstPort: 53, Proto: types.ProtoUDP}
	if first.Tuple != want {
		t.Errorf("first fragment: got %s, want %s", first.Tuple, want)
	}
	whole := d.Decode(pcaptest.UDP("10.0.0.2", 53, "10.0.0.1", 5353))
	if !bytes.Equal(first.Key, whole.Key) {
		t.Error("first fragment should share the flow key of its unfragmented reverse")
	}

	// Bytes of a later fragment look like ports but are datagram payload.
	later := d.Decode(pcaptest.Fragment("10.0.0.1", "10.0.0.2", layers.IPProtocolUDP, 185, []byte{0x14, 0xe9, 0x00, 0x35, 1, 2, 3, 4}))
	if later.Err != nil {
		t.Fatalf("unexpected error: %v", later.Err)
	}
	if later.Tuple.SrcPort != 0 || later.Tuple.DstPort != 0 || later.Tuple.Proto != types.ProtoUDP {
		t.Errorf("later fragment: unexpected tuple %s", later.Tuple)
	}
}

func TestDecodeOtherLinkTypeFallsBack(t *testing.T) {
	d := NewDecoder(layers.LinkTypeLinuxSLL)
	p := d.Decode(pcaptest.TCP("10.0.0.1", 5000, "10.0.0.2", 80))
	if p.Err == nil || p.Tuple.Known() {
		t.Error("non-ethernet frames should classify as unknown")
	}
}

func TestKeyIsDirectionIndependent(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet)
	pairs := [][2][]byte{
		{pcaptest.TCP("10.0.0.1", 5000, "10.0.0.2", 80), pcaptest.TCP("10.0.0.2", 80, "10.0.0.1", 5000)},
		{pcaptest.UDP("10.0.0.9", 53, "10.0.0.1", 53), pcaptest.UDP("10.0.0.1", 53, "10.0.0.9", 53)},
		{pcaptest.TCP("2001:db8::1", 1, "2001:db8::2", 2), pcaptest.TCP("2001:db8::2", 2, "2001:db8::1", 1)},
	}

	for i, pair := range pairs {
		a, b := d.Decode(pair[0]), d.Decode(pair[1])
		if !bytes.Equal(a.Key, b.Key) {
			t.Errorf("pair %d: keys differ for a flow and its reverse", i)
		}
		if !a.Tuple.SameFlow(b.Tuple) {
			t.Errorf("pair %d: tuples should be the same flow", i)
		}
		if a.Tuple == b.Tuple {
			t.Errorf("pair %d: observed tuples must keep their direction", i)
		}
	}
}

func TestKeyDistinguishesProto(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet)
	tcp := d.Decode(pcaptest.TCP("10.0.0.1", 53, "10.0.0.2", 53))
	udp := d.Decode(pcaptest.UDP("10.0.0.1", 53, "10.0.0.2", 53))
	if bytes.Equal(tcp.Key, udp.Key) {
		t.Error("tcp and udp flows with equal endpoints should not share a key")
	}
}

func TestKeyOfMatchesDecoder(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet)
	p := d.Decode(pcaptest.UDP("172.16.0.5", 123, "172.16.0.6", 123))

	key, err := KeyOf(p.Tuple)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(key, p.Key) {
		t.Error("KeyOf should produce the decoder's key")
	}

	if _, err := KeyOf(types.UnknownTuple); err == nil {
		t.Error("expected error for unknown tuple")
	}
}

func TestWorkerForRange(t *testing.T) {
	d := NewDecoder(layers.LinkTypeEthernet)
	key := d.Decode(pcaptest.TCP("10.0.0.1", 5000, "10.0.0.2", 80)).Key

	for n := 1; n <= 16; n++ {
		w := WorkerFor(key, n)
		if w < 1 || w > n {
			t.Errorf("workers=%d: index %d out of range", n, w)
		}
		if WorkerFor(key, n) != w {
			t.Errorf("workers=%d: assignment not stable", n)
		}
	}
	if WorkerFor(key, 1) != 1 {
		t.Error("a single worker should receive everything")
	}
}

func TestFallbackKeyLength(t *testing.T) {
	long := bytes.Repeat([]byte{0xab}, 200)
	if got := len(FallbackKey(long)); got != fallbackKeyLen+1 {
		t.Errorf("expected %d key bytes, got %d", fallbackKeyLen+1, got)
	}
	if got := len(FallbackKey([]byte{1, 2})); got != 3 {
		t.Errorf("expected 3 key bytes, got %d", got)
	}
}
