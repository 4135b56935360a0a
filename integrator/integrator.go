// Package integrator propagates a body's heliocentric trajectory with a
// fixed-step RK4 integrator under solar gravity, eight-planet N-body
// perturbations sourced from a provider.Provider, and the first-order
// Schwarzschild relativistic correction.
package integrator

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aprice/ephcodec/ephemerr"
	"github.com/aprice/ephcodec/internal/vecmath"
	"github.com/aprice/ephcodec/kepler"
	"github.com/aprice/ephcodec/provider"
)

const (
	// auKm is the IAU astronomical unit in km, matching refit.AUKm.
	auKm = 149597870.7

	// gmSunKm3S2 is the Sun's gravitational parameter in km^3/s^2.
	gmSunKm3S2 = 132712440018.0

	// speedOfLightKmS is c in km/s, for the Schwarzschild term.
	speedOfLightKmS = 299792.458

	secondsPerDay = 86400.0
)

// planetGMKm3S2 holds the eight major planets' gravitational parameters in
// km^3/s^2. Jupiter/Saturn/Uranus/Neptune match
// original_source/tools/integrate_chiron_orbit.py's PLANET_GM table;
// Mercury/Venus/Earth(+Moon)/Mars are added from the same IAU convention so
// all eight perturbers spec.md §4.7 requires are present.
var planetGMKm3S2 = map[string]float64{
	"mercury": 22032.09,
	"venus":   324858.63,
	"earth":   403503.235,
	"mars":    42828.375,
	"jupiter": 126686534.0,
	"saturn":  37931187.0,
	"uranus":  5793939.0,
	"neptune": 6836529.0,
}

func km3s2ToAU3day2(gm float64) float64 {
	return gm * secondsPerDay * secondsPerDay / (auKm * auKm * auKm)
}

var (
	gmSunAU3Day2 = km3s2ToAU3day2(gmSunKm3S2)
	cAUDay       = speedOfLightKmS * secondsPerDay / auKm
)

// Elements are classical Keplerian orbital elements at an epoch, in the
// J2000 ecliptic frame (same convention as kepler.Orbit).
type Elements struct {
	SemiMajorAxisAU float64
	Eccentricity    float64
	InclinationDeg  float64
	LongAscNodeDeg  float64
	ArgPeriapsisDeg float64
	MeanAnomalyDeg  float64
	EpochJD         float64
}

// Sample is one output state: heliocentric position (AU) and velocity
// (AU/day) at a Julian date.
type Sample struct {
	JD       float64
	Position [3]float64
	Velocity [3]float64
}

// LonLatDist returns the sample's position in spherical form: longitude and
// latitude in degrees, taken in Position's own ICRF equatorial frame (no
// rotation to the ecliptic is applied), and distance in AU. Carried from
// original_source/tools/integrate_chiron_orbit.py's cartesian_to_spherical,
// which spec.md §4.7 calls out as an optional output form.
func (s Sample) LonLatDist() (lonDeg, latDeg, distAU float64) {
	x, y, z := s.Position[0], s.Position[1], s.Position[2]
	r := math.Sqrt(x*x + y*y + z*z)
	lon := math.Atan2(y, x) * rad2deg
	if lon < 0 {
		lon += 360
	}
	lat := math.Asin(z/r) * rad2deg
	return lon, lat, r
}

// Report summarizes a single Integrate call.
type Report struct {
	Steps          int
	DegradedSteps  int
	DegradedBodies map[string]int
	Diverged       bool
}

type options struct {
	stepDays         float64
	failureThreshold float64
	logger           zerolog.Logger
}

// Option configures an Integrator.
type Option func(*options)

// WithStepDays sets the fixed RK4 step size in days. Default 1.0.
func WithStepDays(h float64) Option {
	return func(o *options) { o.stepDays = h }
}

// WithFailureThreshold sets the fraction of steps with at least one
// degraded perturbation above which Integrate returns
// ephemerr.IntegratorDiverged. Default 0.5.
func WithFailureThreshold(f float64) Option {
	return func(o *options) { o.failureThreshold = f }
}

// WithLogger sets the zerolog.Logger used for progress and degradation
// messages. Default zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Integrator propagates orbits using a caller-supplied planet-position
// provider.
type Integrator struct {
	provider provider.Provider
	opts     options
}

// New builds an Integrator over p.
func New(p provider.Provider, opts ...Option) *Integrator {
	o := options{stepDays: 1.0, failureThreshold: 0.5, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Integrator{provider: p, opts: o}
}

// Integrate propagates elements from its epoch to startJD, then from
// startJD to endJD, emitting a Sample every outputStepDays.
func (in *Integrator) Integrate(elements Elements, startJD, endJD, outputStepDays float64) ([]Sample, Report, error) {
	report := Report{DegradedBodies: map[string]int{}}
	cache := map[cacheKey][3]float64{}

	pos, vel, err := initialState(elements)
	if err != nil {
		return nil, report, err
	}

	jd := elements.EpochJD
	if gap := startJD - elements.EpochJD; math.Abs(gap) > 1e-9 {
		coarse := 1.0
		if math.Abs(gap) >= 100 {
			coarse = 5.0
		}
		if gap < 0 {
			coarse = -coarse
		}
		steps := int(gap / coarse)
		for i := 0; i < intAbs(steps); i++ {
			pos, vel = in.rk4Step(pos, vel, jd, coarse, cache, &report)
			jd += coarse
		}
		if remaining := startJD - jd; math.Abs(remaining) > 1e-12 {
			pos, vel = in.rk4Step(pos, vel, jd, remaining, cache, &report)
			jd = startJD
		}
	}

	h := in.opts.stepDays
	if h <= 0 {
		h = 1.0
	}
	outputEvery := int(math.Round(outputStepDays / h))
	if outputEvery < 1 {
		outputEvery = 1
	}

	var samples []Sample
	samples = append(samples, Sample{JD: jd, Position: pos, Velocity: vel})

	step := 0
	for jd < endJD-1e-9 {
		next := h
		if jd+next > endJD {
			next = endJD - jd
		}
		pos, vel = in.rk4Step(pos, vel, jd, next, cache, &report)
		jd += next
		step++
		report.Steps++

		if step%365 == 0 {
			lon, lat, dist := Sample{Position: pos}.LonLatDist()
			in.opts.logger.Info().
				Int("step", step).
				Float64("jd", jd).
				Float64("lon_deg", lon).
				Float64("lat_deg", lat).
				Float64("dist_au", dist).
				Msg("integration progress")
		}

		if step%outputEvery == 0 || jd >= endJD-1e-9 {
			samples = append(samples, Sample{JD: jd, Position: pos, Velocity: vel})
		}
	}

	if report.Steps > 0 && float64(report.DegradedSteps)/float64(report.Steps) > in.opts.failureThreshold {
		report.Diverged = true
		return samples, report, ephemerr.New(ephemerr.IntegratorDiverged, "integrator.Integrate", map[string]any{
			"degraded_steps": report.DegradedSteps,
			"total_steps":    report.Steps,
		})
	}

	return samples, report, nil
}

func intAbs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

type cacheKey struct {
	body string
	jd   float64
}

// acceleration returns the total heliocentric acceleration (AU/day^2) on a
// body at (pos, vel, jd): solar point-mass gravity, eight-planet N-body
// perturbation with the mandatory indirect term, and the first-order
// Schwarzschild correction (spec.md §4.7, eqs. 1-3).
func (in *Integrator) acceleration(pos, vel [3]float64, jd float64, cache map[cacheKey][3]float64, report *Report) [3]float64 {
	r := vecmath.Length(pos)
	r3 := r * r * r

	accel := vecmath.Scale(pos, -gmSunAU3Day2/r3)

	degradedThisCall := false
	for name, gmKm3S2 := range planetGMKm3S2 {
		gm := km3s2ToAU3day2(gmKm3S2)

		planetPos, err := in.queryPlanet(name, jd, cache)
		if err != nil {
			in.opts.logger.Warn().Str("body", name).Float64("jd", jd).Err(err).Msg("perturbation degraded to zero")
			report.DegradedBodies[name]++
			degradedThisCall = true
			continue
		}

		d := vecmath.Sub(pos, planetPos)
		dr := vecmath.Length(d)
		dr3 := dr * dr * dr

		pr := vecmath.Length(planetPos)
		pr3 := pr * pr * pr

		direct := vecmath.Scale(d, 1/dr3)
		indirect := vecmath.Scale(planetPos, 1/pr3)
		accel = vecmath.Sub(accel, vecmath.Scale(vecmath.Add(direct, indirect), gm))
	}
	if degradedThisCall {
		report.DegradedSteps++
	}

	v2 := vecmath.Dot(vel, vel)
	rv := vecmath.Dot(pos, vel)
	relFactor := gmSunAU3Day2 / (r3 * cAUDay * cAUDay)
	term := 4*gmSunAU3Day2/r - v2
	rel := vecmath.Add(vecmath.Scale(pos, term), vecmath.Scale(vel, 4*rv))
	accel = vecmath.Add(accel, vecmath.Scale(rel, relFactor))

	return accel
}

// queryPlanet resolves a planet's heliocentric position in AU at jd,
// memoized per (body, jd) for the lifetime of one Integrate call (spec.md
// §4.7: "provider caching by (body, JD) at step granularity is
// recommended").
func (in *Integrator) queryPlanet(name string, jd float64, cache map[cacheKey][3]float64) ([3]float64, error) {
	key := cacheKey{name, jd}
	if v, ok := cache[key]; ok {
		return v, nil
	}
	posM, err := in.provider.Position(name, jd)
	if err != nil {
		return [3]float64{}, err
	}
	posAU := [3]float64{posM[0] / metersPerAU, posM[1] / metersPerAU, posM[2] / metersPerAU}
	cache[key] = posAU
	return posAU, nil
}

const metersPerAU = 149597870700.0

// rk4Step advances (pos, vel) by h days using classical fourth-order
// Runge-Kutta, re-evaluating acceleration at each of the four sub-stages
// (spec.md §4.7: "at every RK4 sub-stage the acceleration function is
// re-evaluated at the sub-stage time").
func (in *Integrator) rk4Step(pos, vel [3]float64, jd, h float64, cache map[cacheKey][3]float64, report *Report) ([3]float64, [3]float64) {
	k1p, k1v := vel, in.acceleration(pos, vel, jd, cache, report)

	p2 := addScaled(pos, k1p, h/2)
	v2 := addScaled(vel, k1v, h/2)
	k2p, k2v := v2, in.acceleration(p2, v2, jd+h/2, cache, report)

	p3 := addScaled(pos, k2p, h/2)
	v3 := addScaled(vel, k2v, h/2)
	k3p, k3v := v3, in.acceleration(p3, v3, jd+h/2, cache, report)

	p4 := addScaled(pos, k3p, h)
	v4 := addScaled(vel, k3v, h)
	k4p, k4v := v4, in.acceleration(p4, v4, jd+h, cache, report)

	newPos := vecmath.Add(pos, vecmath.Scale(weightedSum(k1p, k2p, k3p, k4p), h/6))
	newVel := vecmath.Add(vel, vecmath.Scale(weightedSum(k1v, k2v, k3v, k4v), h/6))
	return newPos, newVel
}

func weightedSum(k1, k2, k3, k4 [3]float64) [3]float64 {
	return vecmath.Add(vecmath.Add(k1, vecmath.Scale(k2, 2)), vecmath.Add(vecmath.Scale(k3, 2), k4))
}

func addScaled(a, b [3]float64, s float64) [3]float64 {
	return vecmath.Add(a, vecmath.Scale(b, s))
}

const rad2deg = 180.0 / math.Pi

// initialState converts Keplerian elements to heliocentric Cartesian
// position (AU) and velocity (AU/day) at elements.EpochJD. It delegates the
// Kepler solve and perifocal-to-ecliptic-to-ICRF rotation to kepler.Orbit.State
// rather than re-deriving them, passing the integrator's own solar GM
// (gmSunAU3Day2) so the seeded velocity is energy-consistent with the
// acceleration function RK4 will integrate forward under.
func initialState(el Elements) (pos, vel [3]float64, err error) {
	o := &kepler.Orbit{
		SemiMajorAxisAU: el.SemiMajorAxisAU,
		Eccentricity:    el.Eccentricity,
		InclinationDeg:  el.InclinationDeg,
		LongAscNodeDeg:  el.LongAscNodeDeg,
		ArgPeriapsisDeg: el.ArgPeriapsisDeg,
		MeanAnomalyDeg:  el.MeanAnomalyDeg,
		EpochJD:         el.EpochJD,
		GM:              gmSunAU3Day2,
	}
	return o.State(el.EpochJD)
}
