// Package query implements the ephemeris container's random-access
// position query: binary search over the interval index followed by a
// single coefficient-block read and three Clenshaw evaluations.
package query

import (
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/aprice/ephcodec/cheby"
	"github.com/aprice/ephcodec/container"
	"github.com/aprice/ephcodec/ephemerr"
)

type blockKey struct {
	bodyID      int32
	intervalIdx int
}

// Engine queries a container.Decoder for body positions and, optionally,
// velocities at arbitrary Julian dates.
type Engine struct {
	dec   *container.Decoder
	cache *lru.Cache // blockKey -> [3][]float64, nil if disabled
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables a bounded LRU cache of size entries mapping
// (body, interval) to its coefficient block.
func WithCache(size int) Option {
	return func(e *Engine) {
		c, err := lru.New(size)
		if err == nil {
			e.cache = c
		}
	}
}

// New wraps an already-open container.Decoder.
func New(dec *container.Decoder, opts ...Option) *Engine {
	e := &Engine{dec: dec}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Compute returns the (X, Y, Z) position in AU for bodyID at jd.
func (e *Engine) Compute(bodyID int32, jd float64) ([3]float64, error) {
	block, x, _, err := e.lookup(bodyID, jd)
	if err != nil {
		return [3]float64{}, err
	}
	return [3]float64{
		cheby.Evaluate(block[0], x),
		cheby.Evaluate(block[1], x),
		cheby.Evaluate(block[2], x),
	}, nil
}

// ComputeVelocity returns the (dX/dt, dY/dt, dZ/dt) velocity in AU/day for
// bodyID at jd, evaluating the derivative of the fitted Chebyshev series.
func (e *Engine) ComputeVelocity(bodyID int32, jd float64) ([3]float64, error) {
	block, x, iv, err := e.lookup(bodyID, jd)
	if err != nil {
		return [3]float64{}, err
	}
	scale := 2.0 / (iv.EndJD - iv.StartJD)
	return [3]float64{
		cheby.EvaluateDerivative(block[0], x) * scale,
		cheby.EvaluateDerivative(block[1], x) * scale,
		cheby.EvaluateDerivative(block[2], x) * scale,
	}, nil
}

func (e *Engine) lookup(bodyID int32, jd float64) (block [3][]float64, x float64, iv container.Interval, err error) {
	if _, ok := e.dec.BodyIndexOf(bodyID); !ok {
		return block, 0, iv, ephemerr.New(ephemerr.UnknownBody, "query.Compute", map[string]any{"id": bodyID})
	}

	idx, found := findInterval(e.dec.Intervals, jd)
	if !found {
		return block, 0, iv, ephemerr.New(ephemerr.OutOfRange, "query.Compute", map[string]any{"id": bodyID, "jd": jd})
	}
	iv = e.dec.Intervals[idx]
	x = 2*(jd-iv.StartJD)/(iv.EndJD-iv.StartJD) - 1

	block, err = e.readBlock(bodyID, idx)
	return block, x, iv, err
}

func (e *Engine) readBlock(bodyID int32, intervalIdx int) ([3][]float64, error) {
	if e.cache != nil {
		key := blockKey{bodyID, intervalIdx}
		if v, ok := e.cache.Get(key); ok {
			return v.([3][]float64), nil
		}
		block, err := e.dec.ReadBlock(bodyID, intervalIdx)
		if err != nil {
			return block, err
		}
		e.cache.Add(key, block)
		return block, nil
	}
	return e.dec.ReadBlock(bodyID, intervalIdx)
}

// findInterval returns the index of the interval whose [StartJD, EndJD]
// window contains jd, with boundary ties resolved to the earlier interval.
func findInterval(intervals []container.Interval, jd float64) (int, bool) {
	if len(intervals) == 0 {
		return 0, false
	}
	i := sort.Search(len(intervals), func(i int) bool { return intervals[i].EndJD >= jd })
	if i == len(intervals) {
		return 0, false
	}
	if jd < intervals[i].StartJD {
		return 0, false
	}
	return i, true
}
