package query

import (
	"bytes"
	"math"
	"os"
	"testing"

	"github.com/aprice/ephcodec/container"
)

func buildContainer(t *testing.T) string {
	t.Helper()
	bodies := []container.BodyRecord{{ID: 399, Name: "Earth"}}
	intervals := []container.Interval{
		{StartJD: 2451545.0, EndJD: 2451561.0},
		{StartJD: 2451561.0, EndJD: 2451577.0},
	}
	enc, err := container.NewEncoder(bodies, intervals, 3)
	if err != nil {
		t.Fatal(err)
	}
	// Constant position 1,2,3 AU in the first interval, 4,5,6 in the second.
	blocks := [][3][]float64{
		{{1, 0, 0, 0}, {2, 0, 0, 0}, {3, 0, 0, 0}},
		{{4, 0, 0, 0}, {5, 0, 0, 0}, {6, 0, 0, 0}},
	}
	if err := enc.WriteBody(399, blocks); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := enc.Finalize(&buf); err != nil {
		t.Fatal(err)
	}
	path := t.TempDir() + "/q.eph"
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestComputeReturnsConstantBlock(t *testing.T) {
	path := buildContainer(t)
	dec, err := container.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	e := New(dec)

	pos, err := e.Compute(399, 2451545.0)
	if err != nil {
		t.Fatal(err)
	}
	want := [3]float64{1, 2, 3}
	if pos != want {
		t.Fatalf("Compute = %v, want %v", pos, want)
	}
}

func TestComputeBoundaryTieGoesToEarlierInterval(t *testing.T) {
	path := buildContainer(t)
	dec, err := container.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	e := New(dec)

	// JD 2451561.0 is the shared boundary: earlier interval's block is [1,2,3].
	pos, err := e.Compute(399, 2451561.0)
	if err != nil {
		t.Fatal(err)
	}
	if pos != (([3]float64{1, 2, 3})) {
		t.Fatalf("boundary tie resolved to %v, want earlier interval's [1 2 3]", pos)
	}
}

func TestComputeOutOfRange(t *testing.T) {
	path := buildContainer(t)
	dec, err := container.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	e := New(dec)

	if _, err := e.Compute(399, 2451000.0); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if _, err := e.Compute(399, 2451600.0); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestComputeUnknownBody(t *testing.T) {
	path := buildContainer(t)
	dec, err := container.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	e := New(dec)

	if _, err := e.Compute(12345, 2451545.0); err == nil {
		t.Fatal("expected unknown body error")
	}
}

func TestWithCacheReturnsSameValues(t *testing.T) {
	path := buildContainer(t)
	dec, err := container.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	e := New(dec, WithCache(4))

	for i := 0; i < 3; i++ {
		pos, err := e.Compute(399, 2451550.0)
		if err != nil {
			t.Fatal(err)
		}
		if pos != (([3]float64{1, 2, 3})) {
			t.Fatalf("cached Compute = %v", pos)
		}
	}
}

func TestComputeVelocityConstantBlockIsZero(t *testing.T) {
	path := buildContainer(t)
	dec, err := container.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	e := New(dec)

	vel, err := e.ComputeVelocity(399, 2451550.0)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vel {
		if math.Abs(v) > 1e-12 {
			t.Fatalf("velocity[%d] = %v, want 0 for a constant position series", i, v)
		}
	}
}
