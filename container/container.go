// Package container implements the authoritative `.eph` binary format: a
// compact, random-access container for Chebyshev-fitted body positions.
package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/aprice/ephcodec/ephemerr"
)

const (
	magic            = "EPH\x00"
	currentVersion   = 1
	headerSize       = 512
	bodyEntrySize    = 36
	intervalEntrySize = 16
	nameFieldSize    = 24
)

// Interval is one [jd_start, jd_end) window of the container's time span.
type Interval struct {
	StartJD float64
	EndJD   float64
}

// BodyRecord identifies one body stored in the container.
type BodyRecord struct {
	ID   int32
	Name string
}

// Header mirrors the fixed 512-byte container header.
type Header struct {
	Version      uint32
	NumBodies    uint32
	NumIntervals uint32
	IntervalDays float64
	StartJD      float64
	EndJD        float64
	CoeffDegree  uint32
}

func blockDoubles(degree int) int { return 3 * (degree + 1) }

// Encoder builds a `.eph` file from per-body, per-interval Chebyshev
// coefficient blocks.
type Encoder struct {
	bodies    []BodyRecord
	intervals []Interval
	degree    int
	blocks    map[int32][][3][]float64 // bodyID -> per-interval [X,Y,Z] coeffs
}

// NewEncoder validates the body list, interval list, and degree and
// returns a new Encoder. Duplicate body IDs and an empty interval list are
// rejected immediately, per spec.
func NewEncoder(bodies []BodyRecord, intervals []Interval, degree int) (*Encoder, error) {
	if len(intervals) == 0 {
		return nil, ephemerr.New(ephemerr.FitFailure, "container.NewEncoder", map[string]any{"reason": "num_intervals == 0"})
	}
	seen := make(map[int32]bool, len(bodies))
	for _, b := range bodies {
		if seen[b.ID] {
			return nil, ephemerr.New(ephemerr.FitFailure, "container.NewEncoder", map[string]any{"reason": "duplicate body id", "id": b.ID})
		}
		seen[b.ID] = true
	}

	sorted := append([]BodyRecord(nil), bodies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	return &Encoder{
		bodies:    sorted,
		intervals: intervals,
		degree:    degree,
		blocks:    make(map[int32][][3][]float64, len(bodies)),
	}, nil
}

// WriteBody registers the per-interval coefficient blocks for one body.
// coeffs must have one [3][]float64 entry per interval, each component
// slice of length degree+1.
func (e *Encoder) WriteBody(id int32, coeffs [][3][]float64) error {
	if len(coeffs) != len(e.intervals) {
		return ephemerr.New(ephemerr.FitFailure, "container.WriteBody",
			map[string]any{"id": id, "got_intervals": len(coeffs), "want_intervals": len(e.intervals)})
	}
	for i, block := range coeffs {
		for c := 0; c < 3; c++ {
			if len(block[c]) != e.degree+1 {
				return ephemerr.New(ephemerr.FitFailure, "container.WriteBody",
					map[string]any{"id": id, "interval": i, "component": c, "got": len(block[c]), "want": e.degree + 1})
			}
		}
	}
	e.blocks[id] = coeffs
	return nil
}

// Finalize writes the complete container to w: header, body table, interval
// index, then the coefficient matrix in body-ID-sorted, interval-ordered
// layout.
func (e *Encoder) Finalize(w io.Writer) error {
	numBodies := len(e.bodies)
	numIntervals := len(e.intervals)
	blockSize := blockDoubles(e.degree) * 8

	header := make([]byte, headerSize)
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], currentVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(numBodies))
	binary.LittleEndian.PutUint32(header[12:16], uint32(numIntervals))
	binary.LittleEndian.PutUint64(header[16:24], math.Float64bits(e.intervals[0].EndJD-e.intervals[0].StartJD))
	binary.LittleEndian.PutUint64(header[24:32], math.Float64bits(e.intervals[0].StartJD))
	binary.LittleEndian.PutUint64(header[32:40], math.Float64bits(e.intervals[numIntervals-1].EndJD))
	binary.LittleEndian.PutUint32(header[40:44], uint32(e.degree))
	if _, err := w.Write(header); err != nil {
		return ephemerr.Wrap(ephemerr.IoError, "container.Finalize", nil, err)
	}

	bodyTableSize := numBodies * bodyEntrySize
	intervalIndexSize := numIntervals * intervalEntrySize
	baseOffset := uint64(headerSize + bodyTableSize + intervalIndexSize)

	for k, b := range e.bodies {
		entry := make([]byte, bodyEntrySize)
		binary.LittleEndian.PutUint32(entry[0:4], uint32(b.ID))
		nameBytes := []byte(b.Name)
		if len(nameBytes) > nameFieldSize-1 {
			nameBytes = nameBytes[:nameFieldSize-1]
		}
		copy(entry[4:4+len(nameBytes)], nameBytes)
		dataOffset := baseOffset + uint64(k)*uint64(numIntervals)*uint64(blockSize)
		binary.LittleEndian.PutUint64(entry[28:36], dataOffset)
		if _, err := w.Write(entry); err != nil {
			return ephemerr.Wrap(ephemerr.IoError, "container.Finalize", nil, err)
		}
	}

	for _, iv := range e.intervals {
		entry := make([]byte, intervalEntrySize)
		binary.LittleEndian.PutUint64(entry[0:8], math.Float64bits(iv.StartJD))
		binary.LittleEndian.PutUint64(entry[8:16], math.Float64bits(iv.EndJD))
		if _, err := w.Write(entry); err != nil {
			return ephemerr.Wrap(ephemerr.IoError, "container.Finalize", nil, err)
		}
	}

	for _, b := range e.bodies {
		blocks, ok := e.blocks[b.ID]
		if !ok {
			return ephemerr.New(ephemerr.FitFailure, "container.Finalize", map[string]any{"reason": "missing coefficients for body", "id": b.ID})
		}
		for _, block := range blocks {
			buf := make([]byte, blockSize)
			pos := 0
			for c := 0; c < 3; c++ {
				for _, v := range block[c] {
					binary.LittleEndian.PutUint64(buf[pos:pos+8], math.Float64bits(v))
					pos += 8
				}
			}
			if _, err := w.Write(buf); err != nil {
				return ephemerr.Wrap(ephemerr.IoError, "container.Finalize", nil, err)
			}
		}
	}

	return nil
}

// Decoder reads a `.eph` file, exposing eagerly-loaded header/body-table/
// interval-index metadata and lazy coefficient-block reads.
type Decoder struct {
	f         *os.File
	Header    Header
	Bodies    []BodyRecord
	bodyIndex map[int32]int
	Offsets   []uint64 // per-body (sorted order) data_offset
	Intervals []Interval
	degree    int
}

// Open opens path and eagerly reads the header, body table, and interval
// index.
func Open(path string) (*Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ephemerr.Wrap(ephemerr.IoError, "container.Open", map[string]any{"path": path}, err)
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, ephemerr.Wrap(ephemerr.TruncatedFile, "container.Open", map[string]any{"path": path}, err)
	}
	if string(header[0:4]) != magic {
		f.Close()
		return nil, ephemerr.New(ephemerr.InvalidMagic, "container.Open", map[string]any{"path": path})
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != currentVersion {
		f.Close()
		return nil, ephemerr.New(ephemerr.UnsupportedVersion, "container.Open", map[string]any{"path": path, "version": version})
	}

	h := Header{
		Version:      version,
		NumBodies:    binary.LittleEndian.Uint32(header[8:12]),
		NumIntervals: binary.LittleEndian.Uint32(header[12:16]),
		IntervalDays: math.Float64frombits(binary.LittleEndian.Uint64(header[16:24])),
		StartJD:      math.Float64frombits(binary.LittleEndian.Uint64(header[24:32])),
		EndJD:        math.Float64frombits(binary.LittleEndian.Uint64(header[32:40])),
		CoeffDegree:  binary.LittleEndian.Uint32(header[40:44]),
	}

	d := &Decoder{f: f, Header: h, degree: int(h.CoeffDegree), bodyIndex: make(map[int32]int)}

	bodyTable := make([]byte, int(h.NumBodies)*bodyEntrySize)
	if _, err := io.ReadFull(f, bodyTable); err != nil {
		f.Close()
		return nil, ephemerr.Wrap(ephemerr.TruncatedFile, "container.Open", map[string]any{"path": path}, err)
	}
	for i := 0; i < int(h.NumBodies); i++ {
		entry := bodyTable[i*bodyEntrySize : (i+1)*bodyEntrySize]
		id := int32(binary.LittleEndian.Uint32(entry[0:4]))
		name := trimNUL(entry[4:28])
		offset := binary.LittleEndian.Uint64(entry[28:36])
		d.Bodies = append(d.Bodies, BodyRecord{ID: id, Name: name})
		d.Offsets = append(d.Offsets, offset)
		d.bodyIndex[id] = i
	}

	intervalIndex := make([]byte, int(h.NumIntervals)*intervalEntrySize)
	if _, err := io.ReadFull(f, intervalIndex); err != nil {
		f.Close()
		return nil, ephemerr.Wrap(ephemerr.TruncatedFile, "container.Open", map[string]any{"path": path}, err)
	}
	for i := 0; i < int(h.NumIntervals); i++ {
		entry := intervalIndex[i*intervalEntrySize : (i+1)*intervalEntrySize]
		d.Intervals = append(d.Intervals, Interval{
			StartJD: math.Float64frombits(binary.LittleEndian.Uint64(entry[0:8])),
			EndJD:   math.Float64frombits(binary.LittleEndian.Uint64(entry[8:16])),
		})
	}

	expectedSize := int64(headerSize) +
		int64(h.NumBodies)*bodyEntrySize +
		int64(h.NumIntervals)*intervalEntrySize +
		int64(h.NumIntervals)*int64(h.NumBodies)*int64(blockDoubles(d.degree))*8
	if info, err := f.Stat(); err == nil {
		if info.Size() != expectedSize {
			f.Close()
			return nil, ephemerr.New(ephemerr.TruncatedFile, "container.Open",
				map[string]any{"path": path, "size": info.Size(), "expected": expectedSize})
		}
	}

	return d, nil
}

// Close releases the underlying file handle.
func (d *Decoder) Close() error { return d.f.Close() }

// BodyIndexOf returns the position of bodyID in the sorted body table.
func (d *Decoder) BodyIndexOf(bodyID int32) (int, bool) {
	idx, ok := d.bodyIndex[bodyID]
	return idx, ok
}

// ReadBlock reads the [X, Y, Z] Chebyshev coefficient vectors for bodyID at
// intervalIdx via a single positional read.
func (d *Decoder) ReadBlock(bodyID int32, intervalIdx int) ([3][]float64, error) {
	bi, ok := d.bodyIndex[bodyID]
	if !ok {
		return [3][]float64{}, ephemerr.New(ephemerr.UnknownBody, "container.ReadBlock", map[string]any{"id": bodyID})
	}
	if intervalIdx < 0 || intervalIdx >= len(d.Intervals) {
		return [3][]float64{}, ephemerr.New(ephemerr.OutOfRange, "container.ReadBlock",
			map[string]any{"id": bodyID, "interval": intervalIdx})
	}

	blockSize := blockDoubles(d.degree) * 8
	offset := int64(d.Offsets[bi]) + int64(intervalIdx)*int64(blockSize)

	buf := make([]byte, blockSize)
	if _, err := d.f.ReadAt(buf, offset); err != nil {
		return [3][]float64{}, ephemerr.Wrap(ephemerr.TruncatedFile, "container.ReadBlock",
			map[string]any{"id": bodyID, "interval": intervalIdx}, err)
	}

	n := d.degree + 1
	var block [3][]float64
	for c := 0; c < 3; c++ {
		block[c] = make([]float64, n)
		for j := 0; j < n; j++ {
			off := (c*n + j) * 8
			block[c][j] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8]))
		}
	}
	return block, nil
}

// Summary returns a one-line human-readable description of the container,
// for callers wiring their own logging — the library itself never prints.
func (d *Decoder) Summary() string {
	return fmt.Sprintf("bodies=%d intervals=%d degree=%d coverage=[%.1f,%.1f]",
		d.Header.NumBodies, d.Header.NumIntervals, d.Header.CoeffDegree, d.Header.StartJD, d.Header.EndJD)
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
