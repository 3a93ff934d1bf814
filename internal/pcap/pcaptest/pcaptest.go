// Package pcaptest builds small synthetic captures for tests.
package pcaptest

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

	baseTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
)

// TCP returns an Ethernet frame carrying a TCP segment. IPv6 is used when
// both addresses are IPv6.
func TCP(src string, sport uint16, dst string, dport uint16) []byte {
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), Seq: 1, SYN: true, Window: 1024}
	return frame(src, dst, layers.IPProtocolTCP, tcp, tcp)
}

// UDP returns an Ethernet frame carrying a UDP datagram.
func UDP(src string, sport uint16, dst string, dport uint16) []byte {
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	return frame(src, dst, layers.IPProtocolUDP, udp, udp)
}

// TCPWithOptions returns a SYN carrying 20 bytes of TCP options (MSS,
// SACK permitted, timestamps, window scale), 74 bytes on the wire for IPv4.
func TCPWithOptions(src string, sport uint16, dst string, dport uint16) []byte {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		Seq:     1,
		SYN:     true,
		Window:  64240,
		Options: []layers.TCPOption{
			{OptionType: layers.TCPOptionKindMSS, OptionData: []byte{0x05, 0xb4}},
			{OptionType: layers.TCPOptionKindSACKPermitted},
			{OptionType: layers.TCPOptionKindTimestamps, OptionData: make([]byte, 8)},
			{OptionType: layers.TCPOptionKindNop},
			{OptionType: layers.TCPOptionKindWindowScale, OptionData: []byte{7}},
		},
	}
	return frame(src, dst, layers.IPProtocolTCP, tcp, tcp)
}

// UDPFragment returns the first fragment of an IPv4 UDP datagram: More
// Fragments is set and the complete UDP header follows the IP header.
func UDPFragment(src string, sport uint16, dst string, dport uint16) []byte {
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	ip := ipv4(src, dst, layers.IPProtocolUDP)
	ip.Flags = layers.IPv4MoreFragments
	udp.SetNetworkLayerForChecksum(ip)
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	return serialize(eth, ip, udp, gopacket.Payload([]byte("zeekshard")))
}

// Fragment returns a trailing IPv4 fragment at offset (in 8-byte units)
// carrying payload and no transport header.
func Fragment(src, dst string, proto layers.IPProtocol, offset uint16, payload []byte) []byte {
	ip := ipv4(src, dst, proto)
	ip.FragOffset = offset
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	return serialize(eth, ip, gopacket.Payload(payload))
}

func ipv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	srcIP, dstIP := net.ParseIP(src).To4(), net.ParseIP(dst).To4()
	if srcIP == nil || dstIP == nil {
		panic(fmt.Sprintf("pcaptest: bad IPv4 address %q or %q", src, dst))
	}
	return &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Id: 0x1234, Protocol: proto, SrcIP: srcIP, DstIP: dstIP}
}

// ICMP returns an Ethernet frame carrying an IPv4 ICMP echo request.
func ICMP(src, dst string) []byte {
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 7, Seq: 1}
	return frame(src, dst, layers.IPProtocolICMPv4, icmp, nil)
}

// ARP returns an Ethernet frame that carries no IP header.
func ARP() []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: net.IPv4(10, 0, 0, 1).To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    net.IPv4(10, 0, 0, 2).To4(),
	}
	return serialize(eth, arp)
}

type checksummed interface {
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

func frame(src, dst string, proto layers.IPProtocol, l4 gopacket.SerializableLayer, ck checksummed) []byte {
	srcIP, dstIP := net.ParseIP(src), net.ParseIP(dst)
	if srcIP == nil || dstIP == nil {
		panic(fmt.Sprintf("pcaptest: bad address %q or %q", src, dst))
	}

	if srcIP.To4() != nil && dstIP.To4() != nil {
		eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
		ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: proto, SrcIP: srcIP.To4(), DstIP: dstIP.To4()}
		if ck != nil {
			ck.SetNetworkLayerForChecksum(ip)
		}
		return serialize(eth, ip, l4, gopacket.Payload([]byte("zeekshard")))
	}

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: proto, SrcIP: srcIP.To16(), DstIP: dstIP.To16()}
	if ck != nil {
		ck.SetNetworkLayerForChecksum(ip)
	}
	return serialize(eth, ip, l4, gopacket.Payload([]byte("zeekshard")))
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(fmt.Sprintf("pcaptest: serialize: %v", err))
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

// Capture writes frames into a microsecond little-endian Ethernet capture.
// Packet timestamps advance one millisecond per frame.
func Capture(frames ...[]byte) []byte {
	var b bytes.Buffer
	w := pcapgo.NewWriter(&b)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		panic(fmt.Sprintf("pcaptest: file header: %v", err))
	}
	for i, f := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     baseTime.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(f),
			Length:        len(f),
		}
		if err := w.WritePacket(ci, f); err != nil {
			panic(fmt.Sprintf("pcaptest: packet %d: %v", i, err))
		}
	}
	return b.Bytes()
}

// CaptureNanos is like Capture but uses the nanosecond-resolution magic.
func CaptureNanos(frames ...[]byte) []byte {
	var b bytes.Buffer
	w := pcapgo.NewWriterNanos(&b)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		panic(fmt.Sprintf("pcaptest: file header: %v", err))
	}
	for i, f := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     baseTime.Add(time.Duration(i) * time.Nanosecond),
			CaptureLength: len(f),
			Length:        len(f),
		}
		if err := w.WritePacket(ci, f); err != nil {
			panic(fmt.Sprintf("pcaptest: packet %d: %v", i, err))
		}
	}
	return b.Bytes()
}
