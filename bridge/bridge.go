// Package bridge fits an integrator.Integrator's dense output samples into
// container form: partition into fixed-width intervals, fit each with
// cheby, validate residual, retry at a finer interval on violation, then
// write with container.
package bridge

import (
	"io"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aprice/ephcodec/cheby"
	"github.com/aprice/ephcodec/container"
	"github.com/aprice/ephcodec/integrator"
)

const (
	// DefaultPlanetResidualAU is the default max-residual threshold for a
	// planet-class body (spec.md §4.8's example value).
	DefaultPlanetResidualAU = 1e-11

	// DefaultMinorBodyResidualAU is the default threshold for a
	// Chiron-class minor body, whose orbit is harder to fit tightly.
	DefaultMinorBodyResidualAU = 1e-6

	maxHalvings = 2
)

// Body is one integrated body to bridge into container form.
type Body struct {
	ID       int32
	Name     string
	Elements integrator.Elements
}

// Report summarizes a bridge run.
type Report struct {
	// Halvings records, per body ID, how many times its interval was
	// halved before the residual threshold was met.
	Halvings map[int32]int
	// GaveUp lists body IDs that still exceeded the residual threshold
	// after maxHalvings retries; they are written anyway, with the
	// best fit achieved.
	GaveUp []int32
}

type options struct {
	residualThresholdAU float64
	sampleStepDays      float64
	logger              zerolog.Logger
}

// Option configures Run.
type Option func(*options)

// WithResidualThreshold sets the max-residual-in-AU threshold above which
// a body's interval is retried at half the width. Default
// DefaultPlanetResidualAU.
func WithResidualThreshold(au float64) Option {
	return func(o *options) { o.residualThresholdAU = au }
}

// WithSampleStepDays sets the integrator output step used to build the
// dense sample stream fed into the per-interval fits. Default 1.0 day;
// pass a smaller value to oversample tight intervals.
func WithSampleStepDays(d float64) Option {
	return func(o *options) { o.sampleStepDays = d }
}

// WithLogger attaches a structured logger for halving/give-up events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run integrates each body over [startJD, endJD], partitions the resulting
// dense sample stream into intervalDays-wide windows, fits degree-th order
// Chebyshev series per window, and writes the resulting container to w. A
// window whose max fit residual exceeds the threshold is retried for that
// body at half the interval width, up to two halvings (spec.md §4.8).
func Run(w io.Writer, in *integrator.Integrator, bodies []Body, startJD, endJD, intervalDays float64, degree int, opts ...Option) (Report, error) {
	o := options{
		residualThresholdAU: DefaultPlanetResidualAU,
		sampleStepDays:      1.0,
		logger:              zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(&o)
	}

	report := Report{Halvings: map[int32]int{}}

	// All bodies must share the same interval grid in a single container,
	// so the final (possibly halved) interval width is the narrowest one
	// any body required.
	finalIntervalDays := intervalDays
	perBodySamples := make(map[int32][]integrator.Sample, len(bodies))

	for _, b := range bodies {
		samples, _, err := in.Integrate(b.Elements, startJD, endJD, o.sampleStepDays)
		if err != nil {
			return report, err
		}
		perBodySamples[b.ID] = samples

		currentDays := intervalDays
		var halvings int
		for {
			blocks := fitIntervals(samples, startJD, endJD, currentDays, degree)
			maxResidual := maxBlockResidual(samples, startJD, currentDays, blocks)
			if maxResidual <= o.residualThresholdAU || halvings >= maxHalvings {
				if maxResidual > o.residualThresholdAU {
					report.GaveUp = append(report.GaveUp, b.ID)
					o.logger.Warn().Int32("body_id", b.ID).Str("name", b.Name).
						Float64("residual_au", maxResidual).Msg("residual threshold not met after max halvings")
				}
				break
			}
			currentDays /= 2
			halvings++
			o.logger.Info().Int32("body_id", b.ID).Float64("residual_au", maxResidual).
				Float64("new_interval_days", currentDays).Msg("halving interval to meet residual threshold")
		}
		report.Halvings[b.ID] = halvings
		if currentDays < finalIntervalDays {
			finalIntervalDays = currentDays
		}
	}

	// Every body's coefficient matrix must share one interval grid; re-fit
	// any body whose own halving settled on a coarser interval than the
	// narrowest any body required.
	ivRecords := intervalRecords(startJD, endJD, finalIntervalDays)
	enc, err := container.NewEncoder(bodyRecords(bodies), ivRecords, degree)
	if err != nil {
		return report, err
	}
	for _, b := range bodies {
		blocks := fitIntervals(perBodySamples[b.ID], startJD, endJD, finalIntervalDays, degree)
		if err := enc.WriteBody(b.ID, blocks); err != nil {
			return report, err
		}
	}
	if err := enc.Finalize(w); err != nil {
		return report, err
	}

	return report, nil
}

func bodyRecords(bodies []Body) []container.BodyRecord {
	out := make([]container.BodyRecord, len(bodies))
	for i, b := range bodies {
		out[i] = container.BodyRecord{ID: b.ID, Name: b.Name}
	}
	return out
}

func intervalRecords(startJD, endJD, days float64) []container.Interval {
	var out []container.Interval
	for s := startJD; s < endJD; s += days {
		e := s + days
		if e > endJD {
			e = endJD
		}
		out = append(out, container.Interval{StartJD: s, EndJD: e})
	}
	return out
}

// fitIntervals buckets samples into [startJD, endJD] windows of width
// days and fits a Chebyshev series per component per window via
// cheby.FitAt, since the integrator's dense samples sit on a uniform time
// grid rather than the canonical Chebyshev nodes.
func fitIntervals(samples []integrator.Sample, startJD, endJD, days float64, degree int) [][3][]float64 {
	intervals := intervalRecords(startJD, endJD, days)
	blocks := make([][3][]float64, len(intervals))

	for ii, iv := range intervals {
		lo := sort.Search(len(samples), func(i int) bool { return samples[i].JD >= iv.StartJD-1e-9 })
		hi := sort.Search(len(samples), func(i int) bool { return samples[i].JD > iv.EndJD+1e-9 })
		window := samples[lo:hi]
		if len(window) < degree+1 {
			blocks[ii] = [3][]float64{make([]float64, degree+1), make([]float64, degree+1), make([]float64, degree+1)}
			continue
		}

		xs := make([]float64, len(window))
		xSamples := make([]float64, len(window))
		ySamples := make([]float64, len(window))
		zSamples := make([]float64, len(window))
		for k, s := range window {
			xs[k] = 2*(s.JD-iv.StartJD)/(iv.EndJD-iv.StartJD) - 1
			xSamples[k] = s.Position[0]
			ySamples[k] = s.Position[1]
			zSamples[k] = s.Position[2]
		}
		blocks[ii] = [3][]float64{
			cheby.FitAt(xs, xSamples, degree),
			cheby.FitAt(xs, ySamples, degree),
			cheby.FitAt(xs, zSamples, degree),
		}
	}
	return blocks
}

// maxBlockResidual returns the worst per-component residual across all
// intervals, used to decide whether a halving retry is needed.
func maxBlockResidual(samples []integrator.Sample, startJD, days float64, blocks [][3][]float64) float64 {
	var maxAbs float64
	for ii, block := range blocks {
		ivStart := startJD + float64(ii)*days
		ivEnd := ivStart + days

		lo := sort.Search(len(samples), func(i int) bool { return samples[i].JD >= ivStart-1e-9 })
		hi := sort.Search(len(samples), func(i int) bool { return samples[i].JD > ivEnd+1e-9 })
		window := samples[lo:hi]
		if len(window) == 0 {
			continue
		}

		xs := make([]float64, len(window))
		for k, s := range window {
			xs[k] = 2*(s.JD-ivStart)/(ivEnd-ivStart) - 1
		}

		for comp := 0; comp < 3; comp++ {
			ys := make([]float64, len(window))
			for k, s := range window {
				ys[k] = s.Position[comp]
			}
			if r := cheby.ResidualAt(xs, ys, block[comp]); r > maxAbs {
				maxAbs = r
			}
		}
	}
	return maxAbs
}
