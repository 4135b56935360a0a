package provider

import (
	"github.com/aprice/ephcodec/ephemerr"
	"github.com/aprice/ephcodec/kepler"
)

// meanElement is one planet's mean orbital elements at epoch J2000,
// ecliptic and mean equinox of J2000 (Standish 1992 low-precision form:
// a, e, i, longitude of ascending node, longitude of periapsis, mean
// longitude).
type meanElement struct {
	name          string
	aAU           float64
	e             float64
	iDeg          float64
	longAscNode   float64
	longPeriapsis float64
	meanLongitude float64
}

// planetMeanElements holds the eight major planets' mean elements, used by
// KeplerianProvider as a perturbation-accuracy source (~10^3-10^4 km) when
// no SPK/container data is available.
var planetMeanElements = []meanElement{
	{"mercury", 0.38709927, 0.20563593, 7.00497902, 48.33076593, 77.45779628, 252.25032350},
	{"venus", 0.72333566, 0.00677672, 3.39467605, 76.67984255, 131.60246718, 181.97909950},
	{"earth", 1.00000261, 0.01671123, -0.00001531, 0.0, 102.93768193, 100.46457166},
	{"mars", 1.52371034, 0.09339410, 1.84969142, 49.55953891, -23.94362959, -4.55343205},
	{"jupiter", 5.20288700, 0.04838624, 1.30439695, 100.47390909, 14.72847983, 34.39644051},
	{"saturn", 9.53667594, 0.05386179, 2.48599187, 113.66242448, 92.59887831, 49.95424423},
	{"uranus", 19.18916464, 0.04725744, 0.77263783, 74.01692503, 170.95427630, 313.23810451},
	{"neptune", 30.06992276, 0.00859048, 1.77004347, 131.78422574, 44.96476227, -55.12002969},
}

// KeplerianProvider resolves planet positions by closed-form Kepler
// propagation of hard-coded mean elements. Its positions are heliocentric:
// the Sun's offset from the solar-system barycenter is not added.
type KeplerianProvider struct {
	orbits map[string]*kepler.Orbit
}

// NewKeplerianProvider builds a KeplerianProvider seeded with the eight
// major planets' mean elements at J2000.
func NewKeplerianProvider() *KeplerianProvider {
	orbits := make(map[string]*kepler.Orbit, len(planetMeanElements))
	for _, el := range planetMeanElements {
		argPeriapsis := normalizeDeg(el.longPeriapsis - el.longAscNode)
		meanAnomaly := normalizeDeg(el.meanLongitude - el.longPeriapsis)
		orbits[el.name] = &kepler.Orbit{
			SemiMajorAxisAU: el.aAU,
			Eccentricity:    el.e,
			InclinationDeg:  el.iDeg,
			LongAscNodeDeg:  el.longAscNode,
			ArgPeriapsisDeg: argPeriapsis,
			MeanAnomalyDeg:  meanAnomaly,
			EpochJD:         2451545.0,
		}
	}
	return &KeplerianProvider{orbits: orbits}
}

// AddOrbit registers or overrides the orbit used for name, for callers
// modeling bodies beyond the eight major planets (e.g. a minor planet).
func (p *KeplerianProvider) AddOrbit(name string, o *kepler.Orbit) {
	p.orbits[name] = o
}

// Position implements Provider.
func (p *KeplerianProvider) Position(name string, jd float64) ([3]float64, error) {
	o, ok := p.orbits[name]
	if !ok {
		return [3]float64{}, unknownBodyErr(name)
	}
	posAU, _, err := o.State(jd)
	if err != nil {
		return [3]float64{}, ephemerr.Wrap(ephemerr.ProviderFailure, "provider.KeplerianProvider.Position",
			map[string]any{"name": name, "jd": jd}, err)
	}
	return [3]float64{posAU[0] * metersPerAU, posAU[1] * metersPerAU, posAU[2] * metersPerAU}, nil
}

func normalizeDeg(deg float64) float64 {
	for deg < 0 {
		deg += 360
	}
	for deg >= 360 {
		deg -= 360
	}
	return deg
}
