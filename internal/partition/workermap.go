package partition

import (
	"sort"

	"github.com/zeekshard/zeekshard/internal/flow"
	"github.com/zeekshard/zeekshard/pkg/types"
)

type flowKey struct {
	worker int
	flow   string
}

type flowEntry struct {
	tuple types.FlowTuple
	count int64
}

// flowTable accumulates pkt_count per (worker, flow). A flow and its reverse
// share one row that shows the direction of the flow's first packet.
// Undecodable packets share one "unknown" row per worker.
type flowTable struct {
	entries map[flowKey]*flowEntry
}

func newFlowTable() *flowTable {
	return &flowTable{entries: make(map[flowKey]*flowEntry)}
}

func (t *flowTable) add(worker int, pkt flow.Packet) {
	k := flowKey{worker: worker}
	if pkt.Tuple.Known() {
		k.flow = string(pkt.Key)
	}
	e, ok := t.entries[k]
	if !ok {
		e = &flowEntry{tuple: pkt.Tuple}
		t.entries[k] = e
	}
	e.count++
}

func (t *flowTable) rows() []types.WorkerMapRow {
	rows := make([]types.WorkerMapRow, 0, len(t.entries))
	for k, e := range t.entries {
		rows = append(rows, types.WorkerMapRow{Worker: k.worker, FlowTuple: e.tuple, PktCount: e.count})
	}
	SortWorkerMap(rows)
	return rows
}

// SortWorkerMap sorts rows by worker, then pkt_count descending, then the
// tuple fields, which is a total order over distinct rows.
func SortWorkerMap(rows []types.WorkerMapRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.Worker != b.Worker:
			return a.Worker < b.Worker
		case a.PktCount != b.PktCount:
			return a.PktCount > b.PktCount
		case a.IPVersion != b.IPVersion:
			return a.IPVersion < b.IPVersion
		case a.SrcIP != b.SrcIP:
			return a.SrcIP < b.SrcIP
		case a.DstIP != b.DstIP:
			return a.DstIP < b.DstIP
		case a.Proto != b.Proto:
			return a.Proto < b.Proto
		case a.SrcPort != b.SrcPort:
			return a.SrcPort < b.SrcPort
		default:
			return a.DstPort < b.DstPort
		}
	})
}
