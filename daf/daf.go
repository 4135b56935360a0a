// Package daf reads NAIF DAF/SPK ephemeris files (SPK Type 2 and Type 20
// segments) and evaluates barycentric ICRF positions directly from the
// stored Chebyshev coefficients.
package daf

import (
	"encoding/binary"
	"math"
	"os"
	"sort"

	"github.com/aprice/ephcodec/cheby"
	"github.com/aprice/ephcodec/ephemerr"
	"github.com/aprice/ephcodec/internal/vecmath"
)

const (
	recordLen = 1024
	j2000JD   = 2451545.0
	secPerDay = 86400.0

	spkType2  = 2
	spkType20 = 20

	// sanityLimit bounds the plausible range of ND/NI/FWARD header fields;
	// values beyond it under little-endian decoding mean the file is
	// actually big-endian.
	sanityLimit = 1 << 20
)

// Segment describes one DAF/SPK segment summary, per spec.md's
// `{ target, center, frame, spk_type, start_et, end_et, first_addr, last_addr }`
// data model.
type Segment struct {
	Target    int
	Center    int
	Frame     int
	DataType  int
	StartSec  float64 // TDB seconds past J2000
	EndSec    float64
	FirstAddr int
	LastAddr  int
}

type segment struct {
	Segment
	init     float64
	intLen   float64
	rsize    int
	n        int
	nCoeffs  int
	hasVel   bool // true if velocity coefficients are stored alongside position
	data     []float64
}

// File holds a parsed DAF/SPK file.
type File struct {
	byteOrder binary.ByteOrder
	segments  []segment
	segMap    map[[2]int][]*segment
	chains    map[int][]chainLink
}

type chainLink struct {
	target int
	center int
}

// Open reads and parses a DAF/SPK file. SPK Type 2 and Type 20 segments are
// supported.
func Open(filename string) (*File, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, ephemerr.Wrap(ephemerr.IoError, "daf.Open", map[string]any{"path": filename}, err)
	}
	defer f.Close()

	fileRec := make([]byte, recordLen)
	if _, err := f.Read(fileRec); err != nil {
		return nil, ephemerr.Wrap(ephemerr.TruncatedFile, "daf.Open", map[string]any{"path": filename}, err)
	}

	locidw := string(fileRec[0:8])
	if locidw != "DAF/SPK " {
		return nil, ephemerr.New(ephemerr.InvalidMagic, "daf.Open", map[string]any{"path": filename, "locidw": locidw})
	}

	order := detectByteOrder(fileRec)

	nd := int(order.Uint32(fileRec[8:12]))
	ni := int(order.Uint32(fileRec[12:16]))
	fward := int(order.Uint32(fileRec[76:80]))

	summaryDoubles := nd + (ni+1)/2
	summaryBytes := summaryDoubles * 8

	df := &File{
		byteOrder: order,
		segMap:    make(map[[2]int][]*segment),
		chains:    make(map[int][]chainLink),
	}

	recNum := fward
	for recNum != 0 {
		offset := int64(recNum-1) * recordLen
		if _, err := f.Seek(offset, 0); err != nil {
			return nil, ephemerr.Wrap(ephemerr.IoError, "daf.Open", map[string]any{"path": filename}, err)
		}
		rec := make([]byte, recordLen)
		if _, err := f.Read(rec); err != nil {
			return nil, ephemerr.Wrap(ephemerr.TruncatedFile, "daf.Open", map[string]any{"path": filename}, err)
		}

		nextRec := math.Float64frombits(order.Uint64(rec[0:8]))
		nSummaries := int(math.Float64frombits(order.Uint64(rec[16:24])))

		pos := 24
		for i := 0; i < nSummaries; i++ {
			summary := rec[pos : pos+summaryBytes]

			startSec := math.Float64frombits(order.Uint64(summary[0:8]))
			endSec := math.Float64frombits(order.Uint64(summary[8:16]))

			intOff := nd * 8
			target := int(int32(order.Uint32(summary[intOff:])))
			center := int(int32(order.Uint32(summary[intOff+4:])))
			frame := int(int32(order.Uint32(summary[intOff+8:])))
			dataType := int(int32(order.Uint32(summary[intOff+12:])))
			startI := int(int32(order.Uint32(summary[intOff+16:])))
			endI := int(int32(order.Uint32(summary[intOff+20:])))

			if dataType != spkType2 && dataType != spkType20 {
				return nil, ephemerr.New(ephemerr.UnsupportedSpkType, "daf.Open",
					map[string]any{"target": target, "center": center, "type": dataType})
			}

			nWords := endI - startI + 1
			dataOffset := int64(startI-1) * 8
			if _, err := f.Seek(dataOffset, 0); err != nil {
				return nil, ephemerr.Wrap(ephemerr.IoError, "daf.Open", map[string]any{"path": filename}, err)
			}
			raw := make([]byte, nWords*8)
			if _, err := f.Read(raw); err != nil {
				return nil, ephemerr.Wrap(ephemerr.TruncatedFile, "daf.Open", map[string]any{"path": filename}, err)
			}
			data := make([]float64, nWords)
			for j := range data {
				data[j] = math.Float64frombits(order.Uint64(raw[j*8 : j*8+8]))
			}

			seg, err := buildSegment(target, center, frame, dataType, startSec, endSec, startI, endI, data)
			if err != nil {
				return nil, err
			}

			df.segments = append(df.segments, seg)
			key := [2]int{target, center}
			df.segMap[key] = append(df.segMap[key], &df.segments[len(df.segments)-1])

			pos += summaryBytes
		}

		if nextRec == 0.0 {
			break
		}
		recNum = int(nextRec)
	}

	for _, segs := range df.segMap {
		sort.Slice(segs, func(i, j int) bool { return segs[i].StartSec < segs[j].StartSec })
	}

	if err := df.buildChains(); err != nil {
		return nil, err
	}

	return df, nil
}

// detectByteOrder tries little-endian first; if ND/NI/FWARD look implausible
// it retries big-endian.
func detectByteOrder(fileRec []byte) binary.ByteOrder {
	nd := binary.LittleEndian.Uint32(fileRec[8:12])
	ni := binary.LittleEndian.Uint32(fileRec[12:16])
	fward := binary.LittleEndian.Uint32(fileRec[76:80])
	if nd < sanityLimit && ni < sanityLimit && fward < sanityLimit {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// buildSegment extracts the tail metadata from a raw segment word array and
// constructs a segment, recording the descriptor fields (frame, first/last
// address) alongside it. The last four words are {init, intlen, rsize, n}
// for Type 2. Type 20 has a five-word tail {rsize, degree, n, windowSec,
// dirSize}: the coefficient count is degree+1, the window start is the
// segment's start time, and the trailing directory-size word is not used
// by this reader.
func buildSegment(target, center, frame, dataType int, startSec, endSec float64, firstAddr, lastAddr int, data []float64) (segment, error) {
	if len(data) < 4 {
		return segment{}, ephemerr.New(ephemerr.TruncatedFile, "daf.buildSegment",
			map[string]any{"target": target, "center": center})
	}

	seg := segment{
		Segment: Segment{
			Target:    target,
			Center:    center,
			Frame:     frame,
			DataType:  dataType,
			StartSec:  startSec,
			EndSec:    endSec,
			FirstAddr: firstAddr,
			LastAddr:  lastAddr,
		},
	}

	switch dataType {
	case spkType2:
		seg.init = data[len(data)-4]
		seg.intLen = data[len(data)-3]
		seg.rsize = int(data[len(data)-2])
		seg.n = int(data[len(data)-1])
		seg.data = data[:len(data)-4]
		seg.nCoeffs = (seg.rsize - 2) / 3
		seg.hasVel = false
	case spkType20:
		if len(data) < 5 {
			return segment{}, ephemerr.New(ephemerr.TruncatedFile, "daf.buildSegment",
				map[string]any{"target": target, "center": center})
		}
		// Tail: [..., rsize, degree, n, windowSec, dirSize]
		dirSize := data[len(data)-1]
		_ = dirSize
		windowSec := data[len(data)-2]
		n := data[len(data)-3]
		degree := data[len(data)-4]
		rsize := data[len(data)-5]

		seg.rsize = int(rsize)
		seg.n = int(n)
		seg.intLen = windowSec
		seg.init = startSec
		seg.data = data[:len(data)-5]
		seg.nCoeffs = int(degree) + 1
		seg.hasVel = true

		if expected := 2 + 6*seg.nCoeffs; expected != seg.rsize {
			return segment{}, ephemerr.New(ephemerr.TruncatedFile, "daf.buildSegment",
				map[string]any{"target": target, "center": center, "rsize": seg.rsize, "expected": expected})
		}
	}

	return seg, nil
}

// ListSegments returns all segment descriptors in the file.
func (f *File) ListSegments() []Segment {
	out := make([]Segment, len(f.segments))
	for i := range f.segments {
		out[i] = f.segments[i].Segment
	}
	return out
}

// JDToET converts a TDB Julian date to ephemeris seconds past J2000.
func JDToET(jd float64) float64 {
	return (jd - j2000JD) * secPerDay
}

// ETToJD converts ephemeris seconds past J2000 to a TDB Julian date.
func ETToJD(et float64) float64 {
	return et/secPerDay + j2000JD
}

// SamplePosition returns the barycentric ICRF position, in km, of target at
// the given TDB Julian date. It sums the chain of segments from target down
// to the Solar System Barycenter, since most SPK kernels store a body's
// state relative to an intermediate barycenter (e.g. Earth relative to the
// Earth-Moon barycenter) rather than directly relative to the SSB.
func (f *File) SamplePosition(target int, jdTDB float64) ([3]float64, error) {
	if target == SSB {
		return [3]float64{}, nil
	}
	chain, ok := f.chains[target]
	if !ok {
		return [3]float64{}, ephemerr.New(ephemerr.UnknownBody, "daf.SamplePosition", map[string]any{"target": target})
	}

	et := JDToET(jdTDB)
	var pos [3]float64
	for _, link := range chain {
		segPos, err := f.segPosition(link.target, link.center, et)
		if err != nil {
			return [3]float64{}, err
		}
		pos = vecmath.Add(pos, segPos)
	}
	return pos, nil
}

func (f *File) segPosition(target, center int, et float64) ([3]float64, error) {
	key := [2]int{target, center}
	segs := f.segMap[key]
	if len(segs) == 0 {
		return [3]float64{}, ephemerr.New(ephemerr.UnknownBody, "daf.segPosition",
			map[string]any{"target": target, "center": center})
	}

	seg, err := findSegment(segs, et)
	if err != nil {
		return [3]float64{}, err
	}

	idx := int((et - seg.init) / seg.intLen)
	if idx < 0 {
		idx = 0
	}
	if idx >= seg.n {
		idx = seg.n - 1
	}

	offset := et - seg.init - float64(idx)*seg.intLen
	tc := 2.0*offset/seg.intLen - 1.0

	recStart := idx * seg.rsize
	var pos [3]float64
	for comp := 0; comp < 3; comp++ {
		cStart := recStart + 2 + comp*seg.nCoeffs
		pos[comp] = cheby.Evaluate(seg.data[cStart:cStart+seg.nCoeffs], tc)
	}
	return pos, nil
}

// SampleVelocity returns the barycentric ICRF velocity, in km/s, of target
// at the given TDB Julian date, summed along the same SSB chain as
// SamplePosition.
func (f *File) SampleVelocity(target int, jdTDB float64) ([3]float64, error) {
	if target == SSB {
		return [3]float64{}, nil
	}
	chain, ok := f.chains[target]
	if !ok {
		return [3]float64{}, ephemerr.New(ephemerr.UnknownBody, "daf.SampleVelocity", map[string]any{"target": target})
	}
	et := JDToET(jdTDB)
	var vel [3]float64
	for _, link := range chain {
		segVel, err := f.segVelocity(link.target, link.center, et)
		if err != nil {
			return [3]float64{}, err
		}
		vel = vecmath.Add(vel, segVel)
	}
	return vel, nil
}

// segVelocity samples the Chebyshev velocity series for a single
// target/center segment. Type 20 segments carry native velocity
// coefficients alongside position; for Type 2 segments velocity is instead
// derived by differentiating the position series, matching the
// c'_k recurrence used elsewhere in this tree.
func (f *File) segVelocity(target, center int, et float64) ([3]float64, error) {
	key := [2]int{target, center}
	segs := f.segMap[key]
	if len(segs) == 0 {
		return [3]float64{}, ephemerr.New(ephemerr.UnknownBody, "daf.segVelocity",
			map[string]any{"target": target, "center": center})
	}
	seg, err := findSegment(segs, et)
	if err != nil {
		return [3]float64{}, err
	}

	idx := int((et - seg.init) / seg.intLen)
	if idx < 0 {
		idx = 0
	}
	if idx >= seg.n {
		idx = seg.n - 1
	}
	offset := et - seg.init - float64(idx)*seg.intLen
	tc := 2.0*offset/seg.intLen - 1.0
	recStart := idx * seg.rsize

	var vel [3]float64
	if seg.hasVel {
		velBase := recStart + 2 + 3*seg.nCoeffs
		for comp := 0; comp < 3; comp++ {
			cStart := velBase + comp*seg.nCoeffs
			vel[comp] = cheby.Evaluate(seg.data[cStart:cStart+seg.nCoeffs], tc)
		}
	} else {
		scale := 2.0 / seg.intLen
		for comp := 0; comp < 3; comp++ {
			cStart := recStart + 2 + comp*seg.nCoeffs
			vel[comp] = cheby.EvaluateDerivative(seg.data[cStart:cStart+seg.nCoeffs], tc) * scale
		}
	}
	return vel, nil
}

// findSegment returns the segment whose [StartSec, EndSec] window contains
// et, reporting OutOfRange if none does.
func findSegment(segs []*segment, et float64) (*segment, error) {
	for _, seg := range segs {
		if et >= seg.StartSec && et <= seg.EndSec {
			return seg, nil
		}
	}
	return nil, ephemerr.New(ephemerr.OutOfRange, "daf.findSegment", map[string]any{"et": et})
}

func (f *File) buildChains() error {
	for key := range f.segMap {
		target := key[0]
		if _, exists := f.chains[target]; exists {
			continue
		}
		if err := f.walkChain(target); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) walkChain(body int) error {
	if body == SSB {
		return nil
	}

	var path []chainLink
	visited := make(map[int]bool)
	current := body

	for current != SSB {
		if visited[current] {
			return ephemerr.New(ephemerr.UnknownBody, "daf.walkChain",
				map[string]any{"body": body, "at": current, "reason": "cycle in segment chain"})
		}
		visited[current] = true

		center, found := f.findCenter(current)
		if !found {
			return ephemerr.New(ephemerr.UnknownBody, "daf.walkChain",
				map[string]any{"body": body, "missing": current, "reason": "no segment for chain link"})
		}

		path = append(path, chainLink{target: current, center: center})
		current = center
	}

	for i := range path {
		b := path[i].target
		if _, exists := f.chains[b]; !exists {
			f.chains[b] = path[i:]
		}
	}
	return nil
}

func (f *File) findCenter(target int) (int, bool) {
	for key := range f.segMap {
		if key[0] == target {
			return key[1], true
		}
	}
	return 0, false
}
