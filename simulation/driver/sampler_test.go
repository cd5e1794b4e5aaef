package driver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/meshsim/model/mesh"
	"github.com/relaymesh/meshsim/simulation/performance"
	"github.com/relaymesh/meshsim/simulation/scenario"
	"github.com/relaymesh/meshsim/utils/unittest"
)

// TestSampleCreatorWeighting verifies that creator selection weights each
// candidate by the configured mean orderbook capacity of its peer type. A
// peer whose initial draw happened to realize zero orders must still be able
// to create orders as long as its type's configured capacity is positive.
func TestSampleCreatorWeighting(t *testing.T) {
	// the normal type's mean of 0.4 rounds every initial draw down to zero
	// orders, while its configured capacity stays positive
	scen := unittest.ScenarioFixture(func(params *scenario.Parameters) {
		params.PeerTypes[mesh.PeerTypeNormal] = scenario.PeerProperty{
			Ratio: 0.5,
			InitOrderbook: map[mesh.OrderType]scenario.Distribution{
				"default": {Mean: 0.4},
			},
		}
		params.PeerTypes["archive"] = scenario.PeerProperty{
			Ratio: 0.4,
			InitOrderbook: map[mesh.OrderType]scenario.Distribution{
				"default": {Mean: 0},
			},
		}
	})

	measurer, err := performance.NewMeasurer(
		unittest.Logger(),
		performance.Parameters{MaxAgeToTrack: 50, AdultAge: 30, StatisticalWindow: 5},
		performance.Executions{},
		performance.RatioSpreading{},
		performance.NeutralSatisfaction{},
		performance.DummyFairness{},
	)
	require.NoError(t, err)

	run, err := NewSingleRun(Config{
		Logger:   unittest.Logger(),
		Seed:     1,
		Engine:   unittest.EngineFixture(),
		Scenario: scen,
		Measurer: measurer,
	})
	require.NoError(t, err)

	light, err := run.PeerArrival(mesh.PeerTypeNormal)
	require.NoError(t, err)
	require.Zero(t, light.InitOrderbookSize())

	idle, err := run.PeerArrival("archive")
	require.NoError(t, err)
	require.Zero(t, idle.InitOrderbookSize())

	pool := []mesh.PeerID{light.ID(), idle.ID()}

	t.Run("configured capacity drives the weighting", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			require.Equal(t, light.ID(), run.sampleCreator(pool, "default"))
		}
	})

	t.Run("uniform fallback when every capacity is zero", func(t *testing.T) {
		seen := make(map[mesh.PeerID]int)
		for i := 0; i < 100; i++ {
			id := run.sampleCreator(pool, "exotic")
			require.Contains(t, pool, id)
			seen[id]++
		}
		require.Len(t, seen, 2)
	})
}
