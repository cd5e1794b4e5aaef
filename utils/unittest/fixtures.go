package unittest

import (
	"fmt"
	"math/rand"

	"go.uber.org/atomic"

	"github.com/relaymesh/meshsim/model/mesh"
	"github.com/relaymesh/meshsim/simulation/engine"
	"github.com/relaymesh/meshsim/simulation/peer"
	"github.com/relaymesh/meshsim/simulation/scenario"
)

var (
	peerSeq  = atomic.NewUint64(0)
	orderSeq = atomic.NewUint64(0)
)

// RNG returns a deterministic random source for tests.
func RNG() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

// PeerIDFixture returns a fresh peer ID.
func PeerIDFixture() mesh.PeerID {
	return mesh.PeerID(peerSeq.Inc())
}

// OrderIDFixture returns a fresh order ID.
func OrderIDFixture() mesh.OrderID {
	return mesh.OrderID(orderSeq.Inc())
}

// OrderFixture creates an order with a fresh ID and no creator, born at time
// zero and far from expiring.
func OrderFixture(opts ...func(*mesh.Order)) *mesh.Order {
	order := mesh.NewOrder(OrderIDFixture(), mesh.PeerIDNone, 0, "default", 1000,
		mesh.SettlementParams{}, mesh.CancellationParams{})
	for _, opt := range opts {
		opt(order)
	}
	return order
}

// OrderFixtures creates n orders.
func OrderFixtures(n int, opts ...func(*mesh.Order)) []*mesh.Order {
	orders := make([]*mesh.Order, n)
	for i := range orders {
		orders[i] = OrderFixture(opts...)
	}
	return orders
}

// EngineFixture assembles an engine with the reference policy on every axis
// and small protocol parameters suited to tests.
func EngineFixture(opts ...func(*engine.Parameters, *engine.Policies)) *engine.Engine {
	params := engine.Parameters{
		Batch:       3,
		NeighborMax: 6,
		NeighborMin: 3,
		Incentive: engine.Incentive{
			Length:   3,
			RewardD:  1,
			PenaltyB: -1,
		},
	}
	policies := engine.Policies{
		Preference:     engine.PassivePreference{},
		Priority:       engine.PassivePriority{},
		External:       engine.AcceptAll{},
		Internal:       engine.AcceptAll{},
		Storage:        engine.FirstWins{},
		Share:          engine.AllNewSelectedOld{MaxToShare: 5000, OldShareProb: 0.5},
		Score:          engine.WeightedSum{LazyContribution: 2, LazyLength: 6, Weights: []float64{1, 1, 1}},
		Beneficiary:    engine.TitForTat{BabyEnding: 0, Mutual: 3, Optimistic: 1},
		Recommendation: engine.UniformRandom{},
	}
	for _, opt := range opts {
		opt(&params, &policies)
	}
	eng, err := engine.New(params, policies)
	if err != nil {
		panic(fmt.Sprintf("could not build engine fixture: %s", err))
	}
	return eng
}

// PeerFixture creates a normal peer with a fresh ID, born at time zero.
func PeerFixture(eng *engine.Engine, orders ...*mesh.Order) *peer.Peer {
	p, err := peer.New(peer.Config{
		Logger:     Logger(),
		Engine:     eng,
		RNG:        RNG(),
		ID:         PeerIDFixture(),
		Type:       mesh.PeerTypeNormal,
		InitOrders: orders,
	})
	if err != nil {
		panic(fmt.Sprintf("could not build peer fixture: %s", err))
	}
	return p
}

// FreeRiderFixture creates a free rider peer with a fresh ID.
func FreeRiderFixture(eng *engine.Engine) *peer.Peer {
	p, err := peer.New(peer.Config{
		Logger: Logger(),
		Engine: eng,
		RNG:    RNG(),
		ID:     PeerIDFixture(),
		Type:   mesh.PeerTypeFreeRider,
	})
	if err != nil {
		panic(fmt.Sprintf("could not build free rider fixture: %s", err))
	}
	return p
}

// ConnectPeers makes the two peers neighbors of each other.
func ConnectPeers(a, b *peer.Peer) {
	if err := a.AddNeighbor(b.ID()); err != nil {
		panic(fmt.Sprintf("could not connect peers: %s", err))
	}
	if err := b.AddNeighbor(a.ID()); err != nil {
		panic(fmt.Sprintf("could not connect peers: %s", err))
	}
}

// ScenarioFixture assembles a small two-phase scenario with a 10% free rider
// share and Poisson event streams.
func ScenarioFixture(opts ...func(*scenario.Parameters)) *scenario.Scenario {
	params := scenario.Parameters{
		PeerTypes: map[mesh.PeerType]scenario.PeerProperty{
			mesh.PeerTypeNormal: {
				Ratio: 0.9,
				InitOrderbook: map[mesh.OrderType]scenario.Distribution{
					"default": {Mean: 6, StdDev: 1},
				},
			},
			mesh.PeerTypeFreeRider: {
				Ratio: 0.1,
			},
		},
		OrderTypes: map[mesh.OrderType]scenario.OrderProperty{
			"default": {
				Ratio:      1,
				Expiration: scenario.Distribution{Mean: 500},
			},
		},
		InitSize:      10,
		BirthTimeSpan: 20,
		Growth: scenario.Phase{
			Rounds:        10,
			PeerArrival:   scenario.PoissonRate(3),
			PeerDeparture: scenario.PoissonRate(0),
			OrderArrival:  scenario.PoissonRate(15),
			OrderCancel:   scenario.PoissonRate(15),
		},
		Stable: scenario.Phase{
			Rounds:        10,
			PeerArrival:   scenario.PoissonRate(2),
			PeerDeparture: scenario.PoissonRate(2),
			OrderArrival:  scenario.PoissonRate(15),
			OrderCancel:   scenario.PoissonRate(15),
		},
	}
	for _, opt := range opts {
		opt(&params)
	}
	scen, err := scenario.New(params, scenario.NeverSettle{})
	if err != nil {
		panic(fmt.Sprintf("could not build scenario fixture: %s", err))
	}
	return scen
}
