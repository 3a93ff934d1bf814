package types

import "strconv"

// WorkerMapFields is the column order of the worker_map log.
var WorkerMapFields = []string{"worker", "ip_ver", "src_ip", "src_port", "dst_ip", "dst_port", "proto", "pkt_count"}

// WorkerMapTypes is the Zeek type of each WorkerMapFields column.
var WorkerMapTypes = []string{"count", "count", "string", "port", "string", "port", "string", "count"}

// WorkerMapRow records how many packets of one flow were routed to one
// worker. The tuple is the flow's first observed direction.
type WorkerMapRow struct {
	Worker int `json:"worker"`
	FlowTuple
	PktCount int64 `json:"pkt_count"`
}

// Record renders the row as a log record in WorkerMapFields order.
func (r WorkerMapRow) Record() Record {
	return Record{
		{Name: "worker", Value: strconv.Itoa(r.Worker)},
		{Name: "ip_ver", Value: strconv.Itoa(r.IPVersion)},
		{Name: "src_ip", Value: r.SrcIP},
		{Name: "src_port", Value: strconv.Itoa(int(r.SrcPort))},
		{Name: "dst_ip", Value: r.DstIP},
		{Name: "dst_port", Value: strconv.Itoa(int(r.DstPort))},
		{Name: "proto", Value: r.Proto.String()},
		{Name: "pkt_count", Value: strconv.FormatInt(r.PktCount, 10)},
	}
}
