package container

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/aprice/ephcodec/ephemerr"
)

func sampleIntervals() []Interval {
	return []Interval{
		{StartJD: 2451545.0, EndJD: 2451561.0},
		{StartJD: 2451561.0, EndJD: 2451577.0},
	}
}

func buildTestContainer(t *testing.T) *bytes.Buffer {
	t.Helper()
	bodies := []BodyRecord{
		{ID: 399, Name: "Earth"},
		{ID: 301, Name: "Moon"},
	}
	enc, err := NewEncoder(bodies, sampleIntervals(), 2)
	if err != nil {
		t.Fatal(err)
	}
	earthBlocks := [][3][]float64{
		{{1, 0.1, 0.01}, {2, 0.2, 0.02}, {3, 0.3, 0.03}},
		{{1.5, 0.1, 0.01}, {2.5, 0.2, 0.02}, {3.5, 0.3, 0.03}},
	}
	moonBlocks := [][3][]float64{
		{{10, 1, 0.1}, {20, 2, 0.2}, {30, 3, 0.3}},
		{{11, 1, 0.1}, {21, 2, 0.2}, {31, 3, 0.3}},
	}
	if err := enc.WriteBody(399, earthBlocks); err != nil {
		t.Fatal(err)
	}
	if err := enc.WriteBody(301, moonBlocks); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := enc.Finalize(&buf); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func writeAndOpen(t *testing.T) *Decoder {
	t.Helper()
	buf := buildTestContainer(t)
	path := t.TempDir() + "/test.eph"
	if err := writeFile(path, buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	dec, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return dec
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dec := writeAndOpen(t)
	defer dec.Close()

	if dec.Header.NumBodies != 2 {
		t.Fatalf("NumBodies = %d, want 2", dec.Header.NumBodies)
	}
	if dec.Header.NumIntervals != 2 {
		t.Fatalf("NumIntervals = %d, want 2", dec.Header.NumIntervals)
	}
	if dec.Header.CoeffDegree != 2 {
		t.Fatalf("CoeffDegree = %d, want 2", dec.Header.CoeffDegree)
	}

	// Bodies are sorted by ID: 301 (Moon) before 399 (Earth).
	if dec.Bodies[0].ID != 301 || dec.Bodies[0].Name != "Moon" {
		t.Fatalf("unexpected first body: %+v", dec.Bodies[0])
	}

	block, err := dec.ReadBlock(399, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := [3][]float64{{1, 0.1, 0.01}, {2, 0.2, 0.02}, {3, 0.3, 0.03}}
	for c := 0; c < 3; c++ {
		for j := range want[c] {
			if block[c][j] != want[c][j] {
				t.Fatalf("block[%d][%d] = %v, want %v", c, j, block[c][j], want[c][j])
			}
		}
	}
}

func TestFileSizeMatchesINV4(t *testing.T) {
	buf := buildTestContainer(t)
	numBodies, numIntervals, degree := 2, 2, 2
	expected := headerSize + 36*numBodies + 16*numIntervals + 24*(degree+1)*numIntervals*numBodies
	if buf.Len() != expected {
		t.Fatalf("file size = %d, want %d (INV-4)", buf.Len(), expected)
	}
}

func TestRejectsDuplicateBodyID(t *testing.T) {
	bodies := []BodyRecord{{ID: 399, Name: "Earth"}, {ID: 399, Name: "Earth2"}}
	_, err := NewEncoder(bodies, sampleIntervals(), 2)
	if err == nil {
		t.Fatal("expected error for duplicate body ID")
	}
	if !errors.Is(err, ephemerr.FitFailure) {
		t.Fatalf("expected FitFailure kind, got %v", err)
	}
}

func TestRejectsZeroIntervals(t *testing.T) {
	bodies := []BodyRecord{{ID: 399, Name: "Earth"}}
	_, err := NewEncoder(bodies, nil, 2)
	if err == nil {
		t.Fatal("expected error for zero intervals")
	}
}

func TestNameTruncatedAndNULPadded(t *testing.T) {
	bodies := []BodyRecord{{ID: 1, Name: "a-very-long-body-name-that-exceeds-23-bytes"}}
	enc, err := NewEncoder(bodies, sampleIntervals(), 1)
	if err != nil {
		t.Fatal(err)
	}
	blocks := [][3][]float64{
		{{1, 0}, {2, 0}, {3, 0}},
		{{1, 0}, {2, 0}, {3, 0}},
	}
	if err := enc.WriteBody(1, blocks); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := enc.Finalize(&buf); err != nil {
		t.Fatal(err)
	}

	path := t.TempDir() + "/name.eph"
	if err := writeFile(path, buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	dec, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	if len(dec.Bodies[0].Name) > 23 {
		t.Fatalf("name not truncated: %q", dec.Bodies[0].Name)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := t.TempDir() + "/bad.eph"
	if err := writeFile(path, make([]byte, 600)); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected invalid magic error")
	}
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	buf := buildTestContainer(t)
	truncated := buf.Bytes()[:buf.Len()-100]
	path := t.TempDir() + "/truncated.eph"
	if err := writeFile(path, truncated); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected truncated file error")
	}
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
