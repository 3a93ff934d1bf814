// Package pcap frames classic libpcap capture files into records without
// re-encoding them, so split captures keep the exact bytes of the original.
package pcap

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gopacket/layers"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
)

const (
	// GlobalHeaderLen is the size of the classic pcap file header.
	GlobalHeaderLen = 24
	// RecordHeaderLen is the size of each per-packet record header.
	RecordHeaderLen = 16

	magicMicroseconds = 0xa1b2c3d4
	magicNanoseconds  = 0xa1b23c4d
	magicPcapNG       = 0x0a0d0d0a
)

// Header is a decoded classic pcap global header. Raw holds the original
// bytes, which are copied verbatim into every output slice.
type Header struct {
	Raw          []byte
	Order        binary.ByteOrder
	Nanosecond   bool
	VersionMajor uint16
	VersionMinor uint16
	SnapLen      uint32
	LinkType     layers.LinkType
}

// ParseHeader decodes the global header at the start of data.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < GlobalHeaderLen {
		return nil, shardErrors.NewConfigError(shardErrors.CodeUnsupportedCapture,
			fmt.Sprintf("capture too small: %d bytes, need at least %d", len(data), GlobalHeaderLen))
	}

	h := &Header{Raw: data[:GlobalHeaderLen:GlobalHeaderLen]}
	switch {
	case binary.LittleEndian.Uint32(data[0:4]) == magicMicroseconds:
		h.Order = binary.LittleEndian
	case binary.BigEndian.Uint32(data[0:4]) == magicMicroseconds:
		h.Order = binary.BigEndian
	case binary.LittleEndian.Uint32(data[0:4]) == magicNanoseconds:
		h.Order, h.Nanosecond = binary.LittleEndian, true
	case binary.BigEndian.Uint32(data[0:4]) == magicNanoseconds:
		h.Order, h.Nanosecond = binary.BigEndian, true
	case binary.BigEndian.Uint32(data[0:4]) == magicPcapNG:
		return nil, shardErrors.NewConfigError(shardErrors.CodeUnsupportedCapture,
			"pcapng captures are not supported, convert to classic pcap first")
	default:
		return nil, shardErrors.NewConfigError(shardErrors.CodeUnsupportedCapture,
			fmt.Sprintf("unknown capture magic 0x%x", data[0:4]))
	}

	h.VersionMajor = h.Order.Uint16(data[4:6])
	h.VersionMinor = h.Order.Uint16(data[6:8])
	h.SnapLen = h.Order.Uint32(data[16:20])
	h.LinkType = layers.LinkType(h.Order.Uint32(data[20:24]) & 0xffff)
	return h, nil
}

// Record is one packet record. Header and Data alias the capture buffer.
type Record struct {
	// Index is the zero-based position of the record in the capture
	Index  int
	Header []byte
	Data   []byte
}

// Size returns the number of bytes the record occupies in a capture file.
func (r Record) Size() int {
	return len(r.Header) + len(r.Data)
}

// Reader iterates the records of an in-memory capture.
type Reader struct {
	hdr       *Header
	data      []byte
	off       int
	n         int
	truncated bool
}

// NewReader parses the global header and positions the reader on the first record.
func NewReader(data []byte) (*Reader, error) {
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	return &Reader{hdr: hdr, data: data, off: GlobalHeaderLen}, nil
}

// Header returns the capture's global header.
func (r *Reader) Header() *Header {
	return r.hdr
}

// Next returns the next record. It returns false at the end of the capture or
// at a trailing record whose declared length runs past the buffer.
func (r *Reader) Next() (Record, bool) {
	if r.off+RecordHeaderLen > len(r.data) {
		if r.off < len(r.data) {
			r.truncated = true
		}
		return Record{}, false
	}

	recHdr := r.data[r.off : r.off+RecordHeaderLen]
	inclLen := int(r.hdr.Order.Uint32(recHdr[8:12]))
	start := r.off + RecordHeaderLen
	if inclLen < 0 || inclLen > len(r.data)-start {
		r.truncated = true
		return Record{}, false
	}

	rec := Record{
		Index:  r.n,
		Header: recHdr,
		Data:   r.data[start : start+inclLen],
	}
	r.off = start + inclLen
	r.n++
	return rec, true
}

// Truncated reports whether iteration stopped on an incomplete trailing record.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// Count returns the number of records returned so far.
func (r *Reader) Count() int {
	return r.n
}

// ReadAll returns every complete record of the capture.
func ReadAll(data []byte) (*Header, []Record, error) {
	r, err := NewReader(data)
	if err != nil {
		return nil, nil, err
	}
	var records []Record
	for {
		rec, ok := r.Next()
		if !ok {
			break
		}
		records = append(records, rec)
	}
	return r.Header(), records, nil
}

// Writer writes a capture that shares its global header with a source capture.
type Writer struct {
	w       io.Writer
	written int64
}

// NewWriter writes the global header and returns a Writer for records.
func NewWriter(w io.Writer, hdr *Header) (*Writer, error) {
	n, err := w.Write(hdr.Raw)
	if err != nil {
		return nil, fmt.Errorf("pcap: failed to write global header: %w", err)
	}
	return &Writer{w: w, written: int64(n)}, nil
}

// WriteRecord appends a record with its original header bytes.
func (w *Writer) WriteRecord(rec Record) error {
	n, err := w.w.Write(rec.Header)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("pcap: failed to write record %d header: %w", rec.Index, err)
	}
	n, err = w.w.Write(rec.Data)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("pcap: failed to write record %d data: %w", rec.Index, err)
	}
	return nil
}

// Written returns the number of bytes written including the global header.
func (w *Writer) Written() int64 {
	return w.written
}
