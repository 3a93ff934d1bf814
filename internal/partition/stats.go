package partition

import "github.com/zeekshard/zeekshard/internal/flow"

// Stats summarizes one partition run.
type Stats struct {
	// Packets is the number of complete records read
	Packets int

	// Fallbacks counts packets keyed by raw bytes because their headers did
	// not decode
	Fallbacks int

	// Truncated is set when the capture ended in an incomplete record
	Truncated bool

	// PerWorker[i] is the packet count of worker i+1
	PerWorker []int
}

func (s *Stats) observe(worker int, pkt flow.Packet) {
	s.Packets++
	s.PerWorker[worker-1]++
	if pkt.Err != nil {
		s.Fallbacks++
	}
}
