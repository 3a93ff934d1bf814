// Package partition splits a packet capture into per-worker slices by flow
// hash and records which observed flows landed on which worker.
package partition

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
	"github.com/zeekshard/zeekshard/internal/flow"
	"github.com/zeekshard/zeekshard/internal/pcap"
	"github.com/zeekshard/zeekshard/pkg/types"
)

// Worker count bounds.
const (
	MinWorkers = 1
	MaxWorkers = 16
)

// minParallelRecords is the capture size below which decoding stays sequential.
const minParallelRecords = 1024

// Options configures a Partitioner.
type Options struct {
	// Concurrency is the number of goroutines decoding packet headers.
	// Values below 2 decode sequentially.
	Concurrency int
}

// Result is the output of one partition run.
type Result struct {
	// Header is the input's global header, nil for an empty capture
	Header *pcap.Header

	// Slices holds one capture per worker; Slices[i] belongs to worker i+1
	Slices [][]byte

	// WorkerMap has one row per (worker, flow)
	WorkerMap []types.WorkerMapRow

	// Assignments maps each packet position to its 1-based worker
	Assignments []int

	Stats Stats
}

// Workers returns the number of slices.
func (r *Result) Workers() int {
	return len(r.Slices)
}

// Partitioner splits captures by flow hash.
type Partitioner struct {
	opts Options
}

// NewPartitioner creates a partitioner with the given options.
func NewPartitioner(opts Options) *Partitioner {
	return &Partitioner{opts: opts}
}

// Partition splits capture across workers decoding sequentially.
func Partition(capture []byte, workers int) (*Result, error) {
	return NewPartitioner(Options{}).Partition(context.Background(), capture, workers)
}

// ValidateWorkers checks that a worker count is within [MinWorkers, MaxWorkers].
func ValidateWorkers(workers int) error {
	if workers < MinWorkers || workers > MaxWorkers {
		return shardErrors.NewConfigError(shardErrors.CodeInvalidWorkerCount,
			fmt.Sprintf("workers must be between %d and %d, got %d", MinWorkers, MaxWorkers, workers))
	}
	return nil
}

// Partition splits capture across workers. Identical input always yields
// byte-identical slices and identical worker_map rows, whatever the
// configured concurrency.
func (p *Partitioner) Partition(ctx context.Context, capture []byte, workers int) (*Result, error) {
	if err := ValidateWorkers(workers); err != nil {
		return nil, err
	}

	res := &Result{
		Slices:    make([][]byte, workers),
		WorkerMap: []types.WorkerMapRow{},
		Stats:     Stats{PerWorker: make([]int, workers)},
	}
	for i := range res.Slices {
		res.Slices[i] = []byte{}
	}
	if len(capture) == 0 {
		return res, nil
	}

	reader, err := pcap.NewReader(capture)
	if err != nil {
		return nil, err
	}
	hdr := reader.Header()
	res.Header = hdr

	var records []pcap.Record
	for {
		rec, ok := reader.Next()
		if !ok {
			break
		}
		records = append(records, rec)
	}
	res.Stats.Truncated = reader.Truncated()

	packets, err := p.decode(ctx, hdr, records)
	if err != nil {
		return nil, err
	}

	// Slices are written in a single pass so each keeps capture order.
	bufs := make([]*bytes.Buffer, workers)
	writers := make([]*pcap.Writer, workers)
	for i := range bufs {
		bufs[i] = &bytes.Buffer{}
		if writers[i], err = pcap.NewWriter(bufs[i], hdr); err != nil {
			return nil, err
		}
	}

	table := newFlowTable()
	res.Assignments = make([]int, len(records))
	for i, rec := range records {
		pkt := packets[i]
		w := flow.WorkerFor(pkt.Key, workers)
		res.Assignments[i] = w

		if err := writers[w-1].WriteRecord(rec); err != nil {
			return nil, err
		}
		table.add(w, pkt)
		res.Stats.observe(w, pkt)
	}

	for i, buf := range bufs {
		res.Slices[i] = buf.Bytes()
	}
	res.WorkerMap = table.rows()
	return res, nil
}

// decode classifies every record. Parallel decoding writes into an
// index-addressed array so the caller can restore capture order.
func (p *Partitioner) decode(ctx context.Context, hdr *pcap.Header, records []pcap.Record) ([]flow.Packet, error) {
	packets := make([]flow.Packet, len(records))

	n := p.opts.Concurrency
	if n < 2 || len(records) < minParallelRecords {
		d := flow.NewDecoder(hdr.LinkType)
		for i, rec := range records {
			packets[i] = d.Decode(rec.Data)
		}
		return packets, nil
	}

	chunk := (len(records) + n - 1) / n
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(records); start += chunk {
		start, end := start, min(start+chunk, len(records))
		g.Go(func() error {
			d := flow.NewDecoder(hdr.LinkType)
			for i := start; i < end; i++ {
				if i%minParallelRecords == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				packets[i] = d.Decode(records[i].Data)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("partition: decode canceled: %w", err)
	}
	return packets, nil
}
