package partition

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/zeekshard/zeekshard/internal/flow"
	"github.com/zeekshard/zeekshard/internal/pcap"
	"github.com/zeekshard/zeekshard/internal/pcap/pcaptest"
	"github.com/zeekshard/zeekshard/pkg/types"
)

// packetShape is a generated packet: a small host/port space makes repeated
// flows and reverse pairs common.
type packetShape struct {
	Src, Dst     int
	Sport, Dport int
	Kind         int
	Reverse      bool
}

func genPacket() gopter.Gen {
	return gen.Struct(reflect.TypeOf(packetShape{}), map[string]gopter.Gen{
		"Src":     gen.IntRange(1, 4),
		"Dst":     gen.IntRange(1, 4),
		"Sport":   gen.IntRange(1, 3),
		"Dport":   gen.IntRange(1, 3),
		"Kind":    gen.IntRange(0, 4),
		"Reverse": gen.Bool(),
	})
}

func (p packetShape) frame() []byte {
	src, dst := fmt.Sprintf("10.0.0.%d", p.Src), fmt.Sprintf("10.0.0.%d", p.Dst)
	sport, dport := uint16(1000+p.Sport), uint16(2000+p.Dport)
	if p.Reverse {
		src, dst, sport, dport = dst, src, dport, sport
	}
	switch p.Kind {
	case 0, 1:
		return pcaptest.TCP(src, sport, dst, dport)
	case 2:
		return pcaptest.UDP(src, sport, dst, dport)
	case 3:
		return pcaptest.ICMP(src, dst)
	default:
		return pcaptest.ARP()
	}
}

func buildCapture(pkts []packetShape) []byte {
	frames := make([][]byte, len(pkts))
	for i, s := range pkts {
		frames[i] = s.frame()
	}
	return pcaptest.Capture(frames...)
}

func TestProperty_Determinism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("identical input yields identical output", prop.ForAll(
		func(pkts []packetShape, workers int) bool {
			capture := buildCapture(pkts)
			a, err := Partition(capture, workers)
			if err != nil {
				return false
			}
			b, err := Partition(append([]byte(nil), capture...), workers)
			if err != nil {
				return false
			}
			for i := range a.Slices {
				if !bytes.Equal(a.Slices[i], b.Slices[i]) {
					return false
				}
			}
			if len(a.WorkerMap) != len(b.WorkerMap) {
				return false
			}
			for i := range a.WorkerMap {
				if a.WorkerMap[i] != b.WorkerMap[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(40, genPacket()),
		gen.IntRange(MinWorkers, MaxWorkers),
	))

	properties.TestingRun(t)
}

func TestProperty_SymmetryAndConservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("flows stay on one worker and every packet is counted", prop.ForAll(
		func(pkts []packetShape, workers int) bool {
			capture := buildCapture(pkts)
			res, err := Partition(capture, workers)
			if err != nil {
				return false
			}

			_, records, err := pcap.ReadAll(capture)
			if err != nil || len(records) != len(pkts) || len(res.Assignments) != len(pkts) {
				return false
			}

			d := flow.NewDecoder(res.Header.LinkType)
			flowWorker := make(map[string]int)
			packetsPerFlow := make(map[types.FlowTuple]int64)
			for i, rec := range records {
				w := res.Assignments[i]
				if w < 1 || w > workers {
					return false
				}
				pkt := d.Decode(rec.Data)
				if !pkt.Tuple.Known() {
					continue
				}
				if prev, ok := flowWorker[string(pkt.Key)]; ok && prev != w {
					return false
				}
				flowWorker[string(pkt.Key)] = w
				packetsPerFlow[pkt.Tuple]++
			}

			var total int64
			for _, row := range res.WorkerMap {
				total += row.PktCount
				if !row.Known() {
					continue
				}
				want := packetsPerFlow[row.FlowTuple]
				if row.Reverse() != row.FlowTuple {
					want += packetsPerFlow[row.Reverse()]
				}
				if row.PktCount != want {
					return false
				}
			}
			return total == int64(len(pkts))
		},
		gen.SliceOfN(60, genPacket()),
		gen.IntRange(MinWorkers, MaxWorkers),
	))

	properties.TestingRun(t)
}
