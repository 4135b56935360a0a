// Package refit partitions a time span into intervals, samples a source
// ephemeris for each (body, interval), fits Chebyshev series with cheby,
// and writes the result with container.
package refit

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aprice/ephcodec/cheby"
	"github.com/aprice/ephcodec/container"
)

// AUKm is the IAU astronomical unit in km, used to convert source samples
// (km) into the container's native AU units.
const AUKm = 149597870.7

// SampleFunc returns a body's position in km, barycentric ICRF, at the
// given TDB Julian date.
type SampleFunc func(jd float64) ([3]float64, error)

// Body is one source body to refit.
type Body struct {
	ID     int32
	Name   string
	Sample SampleFunc
}

// Report summarizes a pipeline run.
type Report struct {
	FailedIntervals map[int32]int
	OmittedBodies   []int32
}

type options struct {
	workers          int
	failureThreshold float64
	logger           zerolog.Logger
}

// Option configures Run.
type Option func(*options)

// WithWorkerLimit bounds the number of concurrent (body, interval) fits.
func WithWorkerLimit(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithFailureThreshold sets the fraction of failed intervals (in [0,1])
// above which a body is omitted from the output. Default 0.5.
func WithFailureThreshold(frac float64) Option {
	return func(o *options) { o.failureThreshold = frac }
}

// WithLogger attaches a structured logger for the run summary. The default
// is a disabled logger: the pipeline is silent unless a caller opts in.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run partitions [startJD, endJD] into uniform interval_days windows,
// samples each body at degree+1 Chebyshev nodes per interval, fits three
// coefficient vectors per (body, interval), and writes the resulting
// container to w.
func Run(w io.Writer, bodies []Body, startJD, endJD, intervalDays float64, degree int, opts ...Option) (Report, error) {
	o := options{
		workers:          4,
		failureThreshold: 0.5,
		logger:           zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(&o)
	}

	intervals := partition(startJD, endJD, intervalDays)
	ivRecords := make([]container.Interval, len(intervals))
	for i, iv := range intervals {
		ivRecords[i] = container.Interval{StartJD: iv[0], EndJD: iv[1]}
	}

	blocks := make([][][3][]float64, len(bodies))
	failCounts := make([]int, len(bodies))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(o.workers)

	for bi := range bodies {
		blocks[bi] = make([][3][]float64, len(intervals))
		for ii := range intervals {
			bi, ii := bi, ii
			g.Go(func() error {
				block, failed := fitOne(bodies[bi].Sample, intervals[ii], degree)
				blocks[bi][ii] = block
				if failed {
					mu.Lock()
					failCounts[bi]++
					mu.Unlock()
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{FailedIntervals: make(map[int32]int)}
	var keptBodies []container.BodyRecord
	var keptIdx []int
	for bi, b := range bodies {
		if failCounts[bi] > 0 {
			report.FailedIntervals[b.ID] = failCounts[bi]
		}
		if float64(failCounts[bi]) > o.failureThreshold*float64(len(intervals)) {
			report.OmittedBodies = append(report.OmittedBodies, b.ID)
			o.logger.Warn().Int32("body_id", b.ID).Str("name", b.Name).
				Int("failed_intervals", failCounts[bi]).Msg("omitting body: failure threshold exceeded")
			continue
		}
		keptBodies = append(keptBodies, container.BodyRecord{ID: b.ID, Name: b.Name})
		keptIdx = append(keptIdx, bi)
	}

	enc, err := container.NewEncoder(keptBodies, ivRecords, degree)
	if err != nil {
		return report, err
	}
	for _, bi := range keptIdx {
		if err := enc.WriteBody(bodies[bi].ID, blocks[bi]); err != nil {
			return report, err
		}
	}
	if err := enc.Finalize(w); err != nil {
		return report, err
	}

	o.logger.Info().Int("bodies", len(keptBodies)).Int("intervals", len(intervals)).
		Int("omitted", len(report.OmittedBodies)).Msg("refit complete")

	return report, nil
}

// fitOne samples one (body, interval) at the classical Chebyshev nodes
// mapped into the interval, converts km to AU, and fits three coefficient
// vectors. If any node sample fails, the block is zeroed and failed is
// true; the pipeline continues rather than aborting the run.
func fitOne(sample SampleFunc, interval [2]float64, degree int) (block [3][]float64, failed bool) {
	n := degree + 1
	nodes := cheby.Nodes(n)
	jdStart, jdEnd := interval[0], interval[1]

	var xs, ys, zs []float64
	for _, x := range nodes {
		jd := jdStart + (x+1)/2*(jdEnd-jdStart)
		pos, err := sample(jd)
		if err != nil {
			return [3][]float64{make([]float64, n), make([]float64, n), make([]float64, n)}, true
		}
		xs = append(xs, pos[0]/AUKm)
		ys = append(ys, pos[1]/AUKm)
		zs = append(zs, pos[2]/AUKm)
	}

	block[0] = cheby.Fit(xs, degree)
	block[1] = cheby.Fit(ys, degree)
	block[2] = cheby.Fit(zs, degree)
	return block, failed
}

// partition splits [start, end] into contiguous windows of width days; the
// last window is truncated to end.
func partition(start, end, days float64) [][2]float64 {
	var out [][2]float64
	for s := start; s < end; s += days {
		e := s + days
		if e > end {
			e = end
		}
		out = append(out, [2]float64{s, e})
	}
	return out
}
