// Package flow extracts 5-tuples from captured frames and maps them to
// workers with a direction-independent hash.
package flow

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/spaolacci/murmur3"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
	"github.com/zeekshard/zeekshard/pkg/types"
)

// fallbackKeyLen is how many raw frame bytes key an undecodable packet.
const fallbackKeyLen = 64

// Packet is the result of decoding one frame.
type Packet struct {
	// Tuple is the observed tuple, or types.UnknownTuple
	Tuple types.FlowTuple
	// Key is the normalized hash key
	Key []byte
	// Err is set when the headers could not be decoded and Key fell back to raw bytes
	Err error
}

// Decoder decodes Ethernet and IP headers and reads transport ports straight
// from the IP payload. A Decoder reuses its layer buffers and is not safe for
// concurrent use; create one per goroutine.
type Decoder struct {
	link layers.LinkType

	eth layers.Ethernet
	ip4 layers.IPv4
	ip6 layers.IPv6

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewDecoder creates a decoder for frames of the given link type. Only
// Ethernet is decoded; every frame of another link type falls back.
func NewDecoder(link layers.LinkType) *Decoder {
	d := &Decoder{link: link, decoded: make([]gopacket.LayerType, 0, 3)}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &d.eth, &d.ip4, &d.ip6)
	d.parser.IgnoreUnsupported = true
	return d
}

// Decode extracts the tuple and hash key of one frame. It never fails: a
// malformed frame yields types.UnknownTuple, a raw-bytes key and Err.
func (d *Decoder) Decode(data []byte) (p Packet) {
	defer func() {
		if r := recover(); r != nil {
			p = fallback(data, fmt.Errorf("decoder panic: %v", r))
		}
	}()

	tuple, src, dst, err := d.decode(data)
	if err != nil {
		return fallback(data, err)
	}
	return Packet{Tuple: tuple, Key: normalizedKey(tuple.IPVersion, src, tuple.SrcPort, dst, tuple.DstPort, tuple.Proto)}
}

func fallback(data []byte, cause error) Packet {
	return Packet{
		Tuple: types.UnknownTuple,
		Key:   FallbackKey(data),
		Err:   shardErrors.NewPacketError("undecodable frame", cause),
	}
}

func (d *Decoder) decode(data []byte) (types.FlowTuple, netip.Addr, netip.Addr, error) {
	var zero netip.Addr
	if d.link != layers.LinkTypeEthernet {
		return types.FlowTuple{}, zero, zero, fmt.Errorf("unsupported link type %s", d.link)
	}

	// Layers decoded before an error stay in d.decoded, so a truncated
	// payload behind a complete IP header still yields a tuple.
	d.decoded = d.decoded[:0]
	parseErr := d.parser.DecodeLayers(data, &d.decoded)

	var (
		tuple    types.FlowTuple
		src, dst netip.Addr
		haveIP   bool
		payload  []byte
	)
	first := true
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			src, dst = addrOf(d.ip4.SrcIP), addrOf(d.ip4.DstIP)
			tuple.IPVersion = 4
			tuple.Proto = types.Proto(d.ip4.Protocol)
			payload = d.ip4.Payload
			first = d.ip4.FragOffset == 0
			haveIP = true
		case layers.LayerTypeIPv6:
			// Extension headers are not walked: the next-header value is the proto.
			src, dst = addrOf(d.ip6.SrcIP), addrOf(d.ip6.DstIP)
			tuple.IPVersion = 6
			tuple.Proto = types.Proto(d.ip6.NextHeader)
			payload = d.ip6.Payload
			haveIP = true
		}
	}
	if !haveIP || !src.IsValid() || !dst.IsValid() {
		if parseErr != nil {
			return types.FlowTuple{}, zero, zero, parseErr
		}
		return types.FlowTuple{}, zero, zero, fmt.Errorf("no IPv4 or IPv6 header")
	}

	// Ports are the first four transport bytes. Only the first fragment
	// carries them.
	if tuple.Proto.HasPorts() && first && len(payload) >= 4 {
		tuple.SrcPort = binary.BigEndian.Uint16(payload[0:2])
		tuple.DstPort = binary.BigEndian.Uint16(payload[2:4])
	}

	tuple.SrcIP, tuple.DstIP = formatAddr(src), formatAddr(dst)
	return tuple, src, dst, nil
}

func addrOf(ip net.IP) netip.Addr {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}

// IPv6 is written in full eight-group form so worker_map rows sort and
// compare textually.
func formatAddr(a netip.Addr) string {
	if a.Is6() {
		return a.StringExpanded()
	}
	return a.String()
}

// KeyOf returns the normalized hash key of an observed tuple. It returns an
// error for tuples whose addresses do not parse, such as types.UnknownTuple.
func KeyOf(t types.FlowTuple) ([]byte, error) {
	src, err := netip.ParseAddr(t.SrcIP)
	if err != nil {
		return nil, fmt.Errorf("flow: bad source address: %w", err)
	}
	dst, err := netip.ParseAddr(t.DstIP)
	if err != nil {
		return nil, fmt.Errorf("flow: bad destination address: %w", err)
	}
	return normalizedKey(t.IPVersion, src.Unmap(), t.SrcPort, dst.Unmap(), t.DstPort, t.Proto), nil
}

// normalizedKey orders the two endpoints canonically so that a flow and its
// reverse produce the same bytes.
func normalizedKey(ipVersion int, src netip.Addr, sport uint16, dst netip.Addr, dport uint16, proto types.Proto) []byte {
	a, b := endpoint(src, sport), endpoint(dst, dport)
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}

	key := make([]byte, 0, 2+len(a)+len(b)+2)
	key = append(key, byte('0'+ipVersion))
	key = append(key, a...)
	key = append(key, b...)
	key = binary.BigEndian.AppendUint16(key, uint16(proto))
	return key
}

func endpoint(addr netip.Addr, port uint16) []byte {
	raw := addr.AsSlice()
	out := make([]byte, 0, len(raw)+2)
	out = append(out, raw...)
	return binary.BigEndian.AppendUint16(out, port)
}

// FallbackKey keys an undecodable frame by its leading bytes.
func FallbackKey(data []byte) []byte {
	n := len(data)
	if n > fallbackKeyLen {
		n = fallbackKeyLen
	}
	key := make([]byte, 0, n+1)
	key = append(key, 'X')
	return append(key, data[:n]...)
}

// Hash returns the 64-bit murmur3 hash of a key.
func Hash(key []byte) uint64 {
	return murmur3.Sum64(key)
}

// WorkerFor maps a key to a 1-based worker index in [1, workers].
func WorkerFor(key []byte, workers int) int {
	if workers <= 1 {
		return 1
	}
	return int(Hash(key)%uint64(workers)) + 1
}
