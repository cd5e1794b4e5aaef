// Package scenario captures the assumptions about the simulated system: how
// many peers and orders there are, of which types, and how arrival and
// departure events are distributed over time. Scenario settings describe the
// world the protocol runs in; they are not part of the design space that the
// engine explores.
package scenario

import (
	"math"
	"math/rand"

	"golang.org/x/exp/slices"

	"github.com/relaymesh/meshsim/model/mesh"
)

// Distribution is a Gaussian with the given mean and standard deviation.
// Counts drawn from it are rounded and clamped at zero.
type Distribution struct {
	Mean   float64
	StdDev float64
}

// Sample draws one value.
func (d Distribution) Sample(rng *rand.Rand) float64 {
	return rng.NormFloat64()*d.StdDev + d.Mean
}

// SampleCount draws a rounded, non-negative value.
func (d Distribution) SampleCount(rng *rand.Rand) int {
	v := int(math.Round(d.Sample(rng)))
	if v < 0 {
		v = 0
	}
	return v
}

// PeerProperty describes one peer type: its weight in the arrival mix and
// the distribution of its initial orderbook size per order type.
type PeerProperty struct {
	Ratio         float64
	InitOrderbook map[mesh.OrderType]Distribution
}

// OrderProperty describes one order type: its weight in the arrival mix, its
// expiration distribution and the settlement/cancellation parameters carried
// by orders of this type.
type OrderProperty struct {
	Ratio        float64
	Expiration   Distribution
	Settlement   mesh.SettlementParams
	Cancellation mesh.CancellationParams
}

// Phase parameterizes one period of the system's evolution: the number of
// ticks and the event rates that drive peer/order arrivals and departures.
type Phase struct {
	Rounds        int
	PeerArrival   EventRate
	PeerDeparture EventRate
	OrderArrival  EventRate
	OrderCancel   EventRate
}

// Parameters are the full scenario settings.
type Parameters struct {
	PeerTypes  map[mesh.PeerType]PeerProperty
	OrderTypes map[mesh.OrderType]OrderProperty

	// InitSize peers join before the simulation starts, with birth times
	// spread over [0, BirthTimeSpan).
	InitSize      int
	BirthTimeSpan int

	Growth Phase
	Stable Phase
}

// Scenario is a validated set of scenario parameters plus the settlement
// policy stub.
type Scenario struct {
	Params Parameters
	Settle SettlePolicy
}

// New validates the parameters and assembles a Scenario. All errors are
// configuration-time fatal.
func New(params Parameters, settle SettlePolicy) (*Scenario, error) {
	if len(params.PeerTypes) == 0 {
		return nil, mesh.NewInvalidParameterErrorf("no peer types configured")
	}
	if len(params.OrderTypes) == 0 {
		return nil, mesh.NewInvalidParameterErrorf("no order types configured")
	}
	peerRatioTotal := 0.0
	for peerType, property := range params.PeerTypes {
		if property.Ratio < 0 {
			return nil, mesh.NewInvalidParameterErrorf("peer type %q has negative ratio %f", peerType, property.Ratio)
		}
		peerRatioTotal += property.Ratio
		for orderType := range property.InitOrderbook {
			if _, ok := params.OrderTypes[orderType]; !ok {
				return nil, mesh.NewInvalidParameterErrorf("peer type %q references unknown order type %q",
					peerType, orderType)
			}
		}
	}
	if peerRatioTotal == 0 {
		return nil, mesh.NewInvalidParameterErrorf("every peer type ratio is zero")
	}
	orderRatioTotal := 0.0
	for orderType, property := range params.OrderTypes {
		if property.Ratio < 0 {
			return nil, mesh.NewInvalidParameterErrorf("order type %q has negative ratio %f", orderType, property.Ratio)
		}
		orderRatioTotal += property.Ratio
	}
	if orderRatioTotal == 0 {
		return nil, mesh.NewInvalidParameterErrorf("every order type ratio is zero")
	}
	if params.InitSize < 0 || params.BirthTimeSpan <= 0 {
		return nil, mesh.NewInvalidParameterErrorf("initial state invalid: size=%d span=%d",
			params.InitSize, params.BirthTimeSpan)
	}
	for _, phase := range []Phase{params.Growth, params.Stable} {
		for _, rate := range []EventRate{phase.PeerArrival, phase.PeerDeparture, phase.OrderArrival, phase.OrderCancel} {
			if rate == nil {
				return nil, mesh.NewInvalidParameterErrorf("missing event rate in phase configuration")
			}
			if err := rate.Validate(); err != nil {
				return nil, err
			}
		}
	}
	if settle == nil {
		return nil, mesh.NewInvalidParameterErrorf("no settlement policy configured")
	}
	return &Scenario{Params: params, Settle: settle}, nil
}

// PeerTypeNames returns the configured peer types, sorted.
func (s *Scenario) PeerTypeNames() []mesh.PeerType {
	names := make([]mesh.PeerType, 0, len(s.Params.PeerTypes))
	for name := range s.Params.PeerTypes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OrderTypeNames returns the configured order types, sorted.
func (s *Scenario) OrderTypeNames() []mesh.OrderType {
	names := make([]mesh.OrderType, 0, len(s.Params.OrderTypes))
	for name := range s.Params.OrderTypes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SamplePeerTypes draws k peer types from the weighted categorical
// distribution given by the configured ratios.
func (s *Scenario) SamplePeerTypes(rng *rand.Rand, k int) []mesh.PeerType {
	names := s.PeerTypeNames()
	weights := make([]float64, len(names))
	for i, name := range names {
		weights[i] = s.Params.PeerTypes[name].Ratio
	}
	types := make([]mesh.PeerType, k)
	for i := 0; i < k; i++ {
		types[i] = names[weightedChoice(rng, weights)]
	}
	return types
}

// SampleOrderTypes draws k order types from the weighted categorical
// distribution given by the configured ratios.
func (s *Scenario) SampleOrderTypes(rng *rand.Rand, k int) []mesh.OrderType {
	names := s.OrderTypeNames()
	weights := make([]float64, len(names))
	for i, name := range names {
		weights[i] = s.Params.OrderTypes[name].Ratio
	}
	types := make([]mesh.OrderType, k)
	for i := 0; i < k; i++ {
		types[i] = names[weightedChoice(rng, weights)]
	}
	return types
}

// SampleInitOrderCounts draws the initial orderbook sizes of a newly
// arriving peer of the given type, per order type.
func (s *Scenario) SampleInitOrderCounts(rng *rand.Rand, peerType mesh.PeerType) (map[mesh.OrderType]int, error) {
	property, ok := s.Params.PeerTypes[peerType]
	if !ok {
		return nil, mesh.NewInvalidParameterErrorf("unknown peer type %q", peerType)
	}
	counts := make(map[mesh.OrderType]int, len(property.InitOrderbook))
	for _, orderType := range sortedOrderTypes(property.InitOrderbook) {
		counts[orderType] = property.InitOrderbook[orderType].SampleCount(rng)
	}
	return counts, nil
}

// SampleOrderProperties draws the expiration and returns the settlement and
// cancellation parameters for a new order of the given type.
func (s *Scenario) SampleOrderProperties(rng *rand.Rand, orderType mesh.OrderType) (int, mesh.SettlementParams, mesh.CancellationParams, error) {
	property, ok := s.Params.OrderTypes[orderType]
	if !ok {
		return 0, mesh.SettlementParams{}, mesh.CancellationParams{}, mesh.NewInvalidParameterErrorf("unknown order type %q", orderType)
	}
	return property.Expiration.SampleCount(rng), property.Settlement, property.Cancellation, nil
}

// weightedChoice draws an index proportionally to the weights. At least one
// weight must be positive.
func weightedChoice(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	x := rng.Float64() * total
	for i, w := range weights {
		x -= w
		if x < 0 {
			return i
		}
	}
	return len(weights) - 1
}

func sortedOrderTypes(m map[mesh.OrderType]Distribution) []mesh.OrderType {
	names := make([]mesh.OrderType, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SettlePolicy is the pluggable stochastic stub deciding when an order gets
// taken and settled.
type SettlePolicy interface {
	UpdateSettledStatus(order *mesh.Order, rng *rand.Rand)
}

// NeverSettle is the reference settlement policy: orders are never settled;
// they only leave the system by cancellation or expiration.
type NeverSettle struct{}

var _ SettlePolicy = (*NeverSettle)(nil)

func (NeverSettle) UpdateSettledStatus(*mesh.Order, *rand.Rand) {}

// ProbabilisticSettle settles a live order with its per-order settlement
// probability at every status update.
type ProbabilisticSettle struct{}

var _ SettlePolicy = (*ProbabilisticSettle)(nil)

func (ProbabilisticSettle) UpdateSettledStatus(order *mesh.Order, rng *rand.Rand) {
	if order.Settled {
		return
	}
	if rng.Float64() < order.Settlement.Prob {
		order.Settled = true
	}
}
