// Package types provides the core data types shared by the partitioner, the
// log merger and the query engine.
package types

import (
	"fmt"
	"strconv"
)

// Proto is an IP protocol number. ProtoUnknown marks packets whose headers
// could not be decoded.
type Proto int

const (
	ProtoUnknown Proto = -1
	ProtoICMP    Proto = 1
	ProtoTCP     Proto = 6
	ProtoUDP     Proto = 17
	ProtoICMPv6  Proto = 58
)

// String returns the protocol name used in the worker_map log.
func (p Proto) String() string {
	switch p {
	case ProtoUnknown:
		return "unknown"
	case ProtoICMP:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMPv6:
		return "icmp6"
	default:
		return strconv.Itoa(int(p))
	}
}

// HasPorts reports whether the transport header of this protocol carries ports.
func (p Proto) HasPorts() bool {
	return p == ProtoTCP || p == ProtoUDP
}

// FlowTuple is the 5-tuple of a packet exactly as observed on the wire.
type FlowTuple struct {
	// IPVersion is 4 or 6, or 0 when the packet could not be decoded
	IPVersion int `json:"ip_ver"`

	SrcIP   string `json:"src_ip"`
	SrcPort uint16 `json:"src_port"`
	DstIP   string `json:"dst_ip"`
	DstPort uint16 `json:"dst_port"`
	Proto   Proto  `json:"proto"`
}

// UnknownTuple is reported for packets whose headers could not be parsed.
var UnknownTuple = FlowTuple{SrcIP: "-", DstIP: "-", Proto: ProtoUnknown}

// Reverse returns the tuple with source and destination swapped.
func (t FlowTuple) Reverse() FlowTuple {
	return FlowTuple{
		IPVersion: t.IPVersion,
		SrcIP:     t.DstIP,
		SrcPort:   t.DstPort,
		DstIP:     t.SrcIP,
		DstPort:   t.SrcPort,
		Proto:     t.Proto,
	}
}

// SameFlow reports whether o is t or its exact reverse.
func (t FlowTuple) SameFlow(o FlowTuple) bool {
	return t == o || t.Reverse() == o
}

// Known reports whether the tuple came from a decoded packet.
func (t FlowTuple) Known() bool {
	return t.Proto != ProtoUnknown
}

// String returns a compact "src:port -> dst:port/proto" form.
func (t FlowTuple) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d/%s", t.SrcIP, t.SrcPort, t.DstIP, t.DstPort, t.Proto)
}
