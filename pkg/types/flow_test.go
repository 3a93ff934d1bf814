package types

import (
	"encoding/json"
	"testing"
)

func TestFlowTupleReverse(t *testing.T) {
	ft := FlowTuple{IPVersion: 4, SrcIP: "10.0.0.1", SrcPort: 5000, DstIP: "10.0.0.2", DstPort: 80, Proto: ProtoTCP}
	rev := ft.Reverse()

	if rev.SrcIP != "10.0.0.2" || rev.SrcPort != 80 || rev.DstIP != "10.0.0.1" || rev.DstPort != 5000 {
		t.Errorf("unexpected reverse: %s", rev)
	}
	if rev.Reverse() != ft {
		t.Error("reversing twice should return the original tuple")
	}
	if !ft.SameFlow(rev) || !rev.SameFlow(ft) {
		t.Error("a tuple and its reverse should be the same flow")
	}
}

func TestFlowTupleSameFlowRequiresProto(t *testing.T) {
	a := FlowTuple{IPVersion: 4, SrcIP: "10.0.0.1", SrcPort: 53, DstIP: "10.0.0.2", DstPort: 53, Proto: ProtoUDP}
	b := a.Reverse()
	b.Proto = ProtoTCP

	if a.SameFlow(b) {
		t.Error("tuples with different protocols should not be the same flow")
	}
}

func TestProtoString(t *testing.T) {
	tests := []struct {
		proto Proto
		want  string
	}{
		{ProtoTCP, "tcp"},
		{ProtoUDP, "udp"},
		{ProtoICMP, "icmp"},
		{ProtoICMPv6, "icmp6"},
		{ProtoUnknown, "unknown"},
		{Proto(132), "132"},
	}

	for _, tt := range tests {
		if got := tt.proto.String(); got != tt.want {
			t.Errorf("Proto(%d).String() = %q, want %q", int(tt.proto), got, tt.want)
		}
	}
}

func TestUnknownTuple(t *testing.T) {
	if UnknownTuple.Known() {
		t.Error("UnknownTuple should not be known")
	}
	if UnknownTuple.SrcIP != "-" || UnknownTuple.DstIP != "-" {
		t.Errorf("unexpected addresses: %s", UnknownTuple)
	}
}

func TestWorkerMapRowRecord(t *testing.T) {
	row := WorkerMapRow{
		Worker:    3,
		FlowTuple: FlowTuple{IPVersion: 4, SrcIP: "10.0.0.1", SrcPort: 5000, DstIP: "10.0.0.2", DstPort: 80, Proto: ProtoTCP},
		PktCount:  2,
	}
	rec := row.Record()

	names := rec.Names()
	if len(names) != len(WorkerMapFields) {
		t.Fatalf("expected %d fields, got %d", len(WorkerMapFields), len(names))
	}
	for i, name := range WorkerMapFields {
		if names[i] != name {
			t.Errorf("field %d: expected %s, got %s", i, name, names[i])
		}
	}
	if v, _ := rec.Get("proto"); v != "tcp" {
		t.Errorf("expected proto tcp, got %s", v)
	}
	if v, _ := rec.Get("pkt_count"); v != "2" {
		t.Errorf("expected pkt_count 2, got %s", v)
	}
}

func TestRecordMarshalJSONKeepsOrder(t *testing.T) {
	rec := Record{{Name: "ts", Value: "1.5"}, {Name: "uid", Value: "C1"}, {Name: "a\"b", Value: "x"}}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"ts":"1.5","uid":"C1","a\"b":"x"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestRecordProject(t *testing.T) {
	rec := Record{{Name: "service", Value: "dns"}, {Name: "ts", Value: "1.0"}}
	got := rec.Project([]string{"ts", "missing", "service"}, "")
	want := []string{"1.0", "", "dns"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
