package driver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/meshsim/model/mesh"
	"github.com/relaymesh/meshsim/simulation/driver"
	"github.com/relaymesh/meshsim/simulation/peer"
	"github.com/relaymesh/meshsim/simulation/performance"
	"github.com/relaymesh/meshsim/simulation/scenario"
	"github.com/relaymesh/meshsim/utils/unittest"
)

func testMeasurer(t *testing.T) *performance.Measurer {
	t.Helper()
	m, err := performance.NewMeasurer(
		unittest.Logger(),
		performance.Parameters{MaxAgeToTrack: 50, AdultAge: 30, StatisticalWindow: 5},
		performance.Executions{OrderSpreading: true, NormalSatisfaction: true, FreeRiderSatisfaction: true},
		performance.RatioSpreading{},
		performance.NeutralSatisfaction{},
		performance.DummyFairness{},
	)
	require.NoError(t, err)
	return m
}

func testConfig(t *testing.T, seed int64) driver.Config {
	t.Helper()
	return driver.Config{
		Logger:   unittest.Logger(),
		Seed:     seed,
		Engine:   unittest.EngineFixture(),
		Scenario: unittest.ScenarioFixture(),
		Measurer: testMeasurer(t),
	}
}

func TestNewSingleRun(t *testing.T) {
	t.Run("valid setup", func(t *testing.T) {
		run, err := driver.NewSingleRun(testConfig(t, 1))
		require.NoError(t, err)
		require.NotNil(t, run)
	})

	t.Run("missing dependencies", func(t *testing.T) {
		cfg := testConfig(t, 1)
		cfg.Engine = nil
		_, err := driver.NewSingleRun(cfg)
		require.True(t, mesh.IsInvalidParameterError(err))

		cfg = testConfig(t, 1)
		cfg.Scenario = nil
		_, err = driver.NewSingleRun(cfg)
		require.True(t, mesh.IsInvalidParameterError(err))

		cfg = testConfig(t, 1)
		cfg.Measurer = nil
		_, err = driver.NewSingleRun(cfg)
		require.True(t, mesh.IsInvalidParameterError(err))
	})
}

func TestExecute(t *testing.T) {
	run, err := driver.NewSingleRun(testConfig(t, 42))
	require.NoError(t, err)

	result, err := run.Execute()
	require.NoError(t, err)

	scen := unittest.ScenarioFixture()
	span := scen.Params.BirthTimeSpan
	rounds := scen.Params.Growth.Rounds + scen.Params.Stable.Rounds
	require.Equal(t, span+rounds, run.CurTime())
	require.NotEmpty(t, result.OrderSpreading)
}

// TestExecuteDeterminism runs the same configuration twice with the same seed
// and expects identical final state and measurements.
func TestExecuteDeterminism(t *testing.T) {
	first, err := driver.NewSingleRun(testConfig(t, 7))
	require.NoError(t, err)
	second, err := driver.NewSingleRun(testConfig(t, 7))
	require.NoError(t, err)

	resultA, err := first.Execute()
	require.NoError(t, err)
	resultB, err := second.Execute()
	require.NoError(t, err)

	require.Equal(t, first.NumPeers(), second.NumPeers())
	require.Equal(t, first.NumOrders(), second.NumOrders())
	require.Equal(t, resultA, resultB)
}

func TestPeerArrival(t *testing.T) {
	run, err := driver.NewSingleRun(testConfig(t, 1))
	require.NoError(t, err)

	t.Run("normal peer arrives with an orderbook", func(t *testing.T) {
		p, err := run.PeerArrival(mesh.PeerTypeNormal)
		require.NoError(t, err)
		require.Equal(t, 1, run.NumPeers())
		require.Equal(t, run.NumOrders(), p.InitOrderbookSize())
		for _, orderID := range p.StoredOrderIDs() {
			order, ok := run.Order(orderID)
			require.True(t, ok)
			require.Equal(t, p.ID(), order.Creator)
			require.True(t, order.IsHolder(p.ID()))
		}
	})

	t.Run("free rider arrives empty handed", func(t *testing.T) {
		before := run.NumOrders()
		p, err := run.PeerArrival(mesh.PeerTypeFreeRider)
		require.NoError(t, err)
		require.Zero(t, p.InitOrderbookSize())
		require.Equal(t, before, run.NumOrders())
	})

	t.Run("unknown peer type", func(t *testing.T) {
		_, err := run.PeerArrival("martian")
		require.Error(t, err)
	})
}

func TestPeerDeparture(t *testing.T) {
	run, err := driver.NewSingleRun(testConfig(t, 1))
	require.NoError(t, err)

	a, err := run.PeerArrival(mesh.PeerTypeNormal)
	require.NoError(t, err)
	b, err := run.PeerArrival(mesh.PeerTypeNormal)
	require.NoError(t, err)
	unittest.ConnectPeers(a, b)

	stored := a.StoredOrderIDs()
	require.NoError(t, run.PeerDeparture(a))

	require.Equal(t, 1, run.NumPeers())
	_, ok := run.Peer(a.ID())
	require.False(t, ok)
	require.False(t, b.HasNeighbor(a.ID()))
	for _, orderID := range stored {
		order, ok := run.Order(orderID)
		require.True(t, ok)
		require.False(t, order.IsHolder(a.ID()))
	}
}

func TestUpdateGlobalOrderbook(t *testing.T) {
	run, err := driver.NewSingleRun(testConfig(t, 1))
	require.NoError(t, err)
	p, err := run.PeerArrival(mesh.PeerTypeNormal)
	require.NoError(t, err)
	require.NotEmpty(t, p.StoredOrderIDs())

	t.Run("live orders survive", func(t *testing.T) {
		require.NoError(t, run.UpdateGlobalOrderbook(nil))
		require.Equal(t, len(p.StoredOrderIDs()), run.NumOrders())
	})

	t.Run("canceled orders are purged everywhere", func(t *testing.T) {
		canceled := p.StoredOrderIDs()[0]
		order, ok := run.Order(canceled)
		require.True(t, ok)

		require.NoError(t, run.UpdateGlobalOrderbook([]mesh.OrderID{canceled}))
		_, ok = run.Order(canceled)
		require.False(t, ok)
		require.False(t, p.HasStored(canceled))
		require.Zero(t, order.NumReplicas())
	})

	t.Run("canceling an unknown order is an exception", func(t *testing.T) {
		err := run.UpdateGlobalOrderbook([]mesh.OrderID{9999})
		require.Error(t, err)
	})
}

func TestCheckAddingNeighbor(t *testing.T) {
	run, err := driver.NewSingleRun(testConfig(t, 1))
	require.NoError(t, err)

	eng := unittest.EngineFixture()
	var peers []mesh.PeerID
	for i := 0; i < eng.Params.NeighborMax+2; i++ {
		p, err := run.PeerArrival(mesh.PeerTypeFreeRider)
		require.NoError(t, err)
		peers = append(peers, p.ID())
	}

	t.Run("a fresh peer fills up to its demand", func(t *testing.T) {
		p, ok := run.Peer(peers[0])
		require.True(t, ok)
		require.NoError(t, run.CheckAddingNeighbor(p))
		// every candidate is still soliciting, so the full demand is met
		require.Equal(t, eng.Params.NeighborMax, p.NumNeighbors())
	})

	for _, id := range peers[1:] {
		p, ok := run.Peer(id)
		require.True(t, ok)
		require.NoError(t, run.CheckAddingNeighbor(p))
	}

	t.Run("nobody exceeds the maximum", func(t *testing.T) {
		for _, id := range peers {
			p, _ := run.Peer(id)
			require.LessOrEqual(t, p.NumNeighbors(), eng.Params.NeighborMax)
		}
	})

	t.Run("all relationships are bilateral", func(t *testing.T) {
		for _, id := range peers {
			p, _ := run.Peer(id)
			for _, neighborID := range p.NeighborIDs() {
				neighbor, ok := run.Peer(neighborID)
				require.True(t, ok)
				require.True(t, neighbor.HasNeighbor(id))
			}
		}
	})

	t.Run("a satisfied peer asks for nothing", func(t *testing.T) {
		p, _ := run.Peer(peers[0])
		before := p.NumNeighbors()
		require.NoError(t, run.CheckAddingNeighbor(p))
		require.Equal(t, before, p.NumNeighbors())
	})
}

// TestRunInvariants executes a full run and checks the global consistency of
// the final state: bilateral neighborhoods, clock alignment and reference
// closure between peers and the order registry.
func TestRunInvariants(t *testing.T) {
	cfg := testConfig(t, 99)
	cfg.Scenario = unittest.ScenarioFixture(func(params *scenario.Parameters) {
		params.Growth.Rounds = 20
		params.Stable.Rounds = 20
	})
	run, err := driver.NewSingleRun(cfg)
	require.NoError(t, err)
	_, err = run.Execute()
	require.NoError(t, err)

	eng := unittest.EngineFixture()
	for _, p := range allPeers(t, run) {
		require.Equal(t, run.CurTime(), p.LocalClock()+1)
		require.LessOrEqual(t, p.NumNeighbors(), eng.Params.NeighborMax)

		for _, neighborID := range p.NeighborIDs() {
			neighbor, ok := run.Peer(neighborID)
			require.True(t, ok)
			require.True(t, neighbor.HasNeighbor(p.ID()))
		}

		for _, orderID := range p.StoredOrderIDs() {
			order, ok := run.Order(orderID)
			require.True(t, ok)
			require.True(t, order.IsHolder(p.ID()))
		}
	}
}

// allPeers collects the live peers by scanning the ID sequence.
func allPeers(t *testing.T, run *driver.SingleRun) []*peer.Peer {
	t.Helper()
	var peers []*peer.Peer
	for id := mesh.PeerID(1); len(peers) < run.NumPeers(); id++ {
		if id > 1_000_000 {
			t.Fatal("peer scan did not terminate")
		}
		if p, ok := run.Peer(id); ok {
			peers = append(peers, p)
		}
	}
	return peers
}
