// Package provider exposes a uniform planet-position capability with three
// implementations: a container-backed query engine, a closed-form
// Keplerian propagator, and a fixed test double.
package provider

import (
	"github.com/aprice/ephcodec/ephemerr"
	"github.com/aprice/ephcodec/query"
)

// metersPerAU converts the container's AU-native output into meters.
const metersPerAU = 149597870700.0

// Provider returns a body's barycentric ICRF position in meters at a TDB
// Julian date.
type Provider interface {
	Position(name string, jd float64) ([3]float64, error)
}

// ContainerProvider wraps a query.Engine and resolves body names through a
// caller-supplied name-to-ID table.
type ContainerProvider struct {
	engine  *query.Engine
	nameIDs map[string]int32
}

// NewContainerProvider builds a ContainerProvider over engine, resolving
// names via nameIDs (e.g. {"jupiter": 5}).
func NewContainerProvider(engine *query.Engine, nameIDs map[string]int32) *ContainerProvider {
	return &ContainerProvider{engine: engine, nameIDs: nameIDs}
}

// Position implements Provider.
func (p *ContainerProvider) Position(name string, jd float64) ([3]float64, error) {
	id, ok := p.nameIDs[name]
	if !ok {
		return [3]float64{}, ephemerr.New(ephemerr.UnknownBody, "provider.ContainerProvider.Position", map[string]any{"name": name})
	}
	auPos, err := p.engine.Compute(id, jd)
	if err != nil {
		return [3]float64{}, ephemerr.Wrap(ephemerr.ProviderFailure, "provider.ContainerProvider.Position", map[string]any{"name": name, "jd": jd}, err)
	}
	return [3]float64{auPos[0] * metersPerAU, auPos[1] * metersPerAU, auPos[2] * metersPerAU}, nil
}

func unknownBodyErr(name string) error {
	return ephemerr.New(ephemerr.UnknownBody, "provider.KeplerianProvider.Position", map[string]any{"name": name})
}

// FixedProvider returns, for tests, the fixed vector configured for each
// name in Positions regardless of jd, and UnknownBody for any other name.
type FixedProvider struct {
	Positions map[string][3]float64
}

// Position implements Provider.
func (p *FixedProvider) Position(name string, jd float64) ([3]float64, error) {
	pos, ok := p.Positions[name]
	if !ok {
		return [3]float64{}, ephemerr.New(ephemerr.UnknownBody, "provider.FixedProvider.Position", map[string]any{"name": name})
	}
	return pos, nil
}
