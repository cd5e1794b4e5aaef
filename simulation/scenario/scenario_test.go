package scenario

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/meshsim/model/mesh"
)

func testParameters() Parameters {
	return Parameters{
		PeerTypes: map[mesh.PeerType]PeerProperty{
			mesh.PeerTypeNormal: {
				Ratio: 0.9,
				InitOrderbook: map[mesh.OrderType]Distribution{
					mesh.OrderTypeDefault: {Mean: 6, StdDev: 1},
				},
			},
			mesh.PeerTypeFreeRider: {Ratio: 0.1},
		},
		OrderTypes: map[mesh.OrderType]OrderProperty{
			mesh.OrderTypeDefault: {
				Ratio:      1,
				Expiration: Distribution{Mean: 500},
			},
		},
		InitSize:      10,
		BirthTimeSpan: 20,
		Growth: Phase{
			Rounds:        30,
			PeerArrival:   PoissonRate(3),
			PeerDeparture: PoissonRate(0),
			OrderArrival:  PoissonRate(15),
			OrderCancel:   PoissonRate(15),
		},
		Stable: Phase{
			Rounds:        50,
			PeerArrival:   PoissonRate(2),
			PeerDeparture: PoissonRate(2),
			OrderArrival:  PoissonRate(15),
			OrderCancel:   PoissonRate(15),
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("valid setup", func(t *testing.T) {
		scen, err := New(testParameters(), NeverSettle{})
		require.NoError(t, err)
		require.NotNil(t, scen)
	})

	t.Run("no peer types", func(t *testing.T) {
		params := testParameters()
		params.PeerTypes = nil
		_, err := New(params, NeverSettle{})
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("orderbook referencing unknown order type", func(t *testing.T) {
		params := testParameters()
		params.PeerTypes[mesh.PeerTypeNormal].InitOrderbook["exotic"] = Distribution{Mean: 1}
		_, err := New(params, NeverSettle{})
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("negative ratio", func(t *testing.T) {
		params := testParameters()
		params.PeerTypes[mesh.PeerTypeFreeRider] = PeerProperty{Ratio: -0.1}
		_, err := New(params, NeverSettle{})
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("all peer type ratios zero", func(t *testing.T) {
		params := testParameters()
		for peerType, property := range params.PeerTypes {
			property.Ratio = 0
			params.PeerTypes[peerType] = property
		}
		_, err := New(params, NeverSettle{})
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("all order type ratios zero", func(t *testing.T) {
		params := testParameters()
		for orderType, property := range params.OrderTypes {
			property.Ratio = 0
			params.OrderTypes[orderType] = property
		}
		_, err := New(params, NeverSettle{})
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("negative order type ratio", func(t *testing.T) {
		params := testParameters()
		property := params.OrderTypes[mesh.OrderTypeDefault]
		property.Ratio = -1
		params.OrderTypes[mesh.OrderTypeDefault] = property
		_, err := New(params, NeverSettle{})
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("missing event rate", func(t *testing.T) {
		params := testParameters()
		params.Growth.OrderCancel = nil
		_, err := New(params, NeverSettle{})
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("missing settlement policy", func(t *testing.T) {
		_, err := New(testParameters(), nil)
		require.True(t, mesh.IsInvalidParameterError(err))
	})
}

func TestSampling(t *testing.T) {
	scen, err := New(testParameters(), NeverSettle{})
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(42))

	t.Run("peer types follow the configured set", func(t *testing.T) {
		types := scen.SamplePeerTypes(rng, 100)
		require.Len(t, types, 100)
		normal := 0
		for _, peerType := range types {
			require.Contains(t, []mesh.PeerType{mesh.PeerTypeNormal, mesh.PeerTypeFreeRider}, peerType)
			if peerType == mesh.PeerTypeNormal {
				normal++
			}
		}
		// with ratio 0.9 the normal share dominates
		require.Greater(t, normal, 50)
	})

	t.Run("order counts are non-negative", func(t *testing.T) {
		counts, err := scen.SampleInitOrderCounts(rng, mesh.PeerTypeNormal)
		require.NoError(t, err)
		require.GreaterOrEqual(t, counts[mesh.OrderTypeDefault], 0)
	})

	t.Run("unknown peer type", func(t *testing.T) {
		_, err := scen.SampleInitOrderCounts(rng, "martian")
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("order properties carry the configured expiration", func(t *testing.T) {
		expiration, _, _, err := scen.SampleOrderProperties(rng, mesh.OrderTypeDefault)
		require.NoError(t, err)
		require.Equal(t, 500, expiration)
	})

	t.Run("deterministic under the same seed", func(t *testing.T) {
		a := scen.SamplePeerTypes(rand.New(rand.NewSource(7)), 50)
		b := scen.SamplePeerTypes(rand.New(rand.NewSource(7)), 50)
		require.Equal(t, a, b)
	})
}

func TestDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	t.Run("zero deviation is constant", func(t *testing.T) {
		d := Distribution{Mean: 5}
		for i := 0; i < 10; i++ {
			require.Equal(t, 5, d.SampleCount(rng))
		}
	})

	t.Run("counts clamp at zero", func(t *testing.T) {
		d := Distribution{Mean: -10, StdDev: 1}
		for i := 0; i < 10; i++ {
			require.Equal(t, 0, d.SampleCount(rng))
		}
	})
}

func TestProbabilisticSettle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	t.Run("probability one settles immediately", func(t *testing.T) {
		order := mesh.NewOrder(1, mesh.PeerIDNone, 0, mesh.OrderTypeDefault, 100,
			mesh.SettlementParams{Prob: 1}, mesh.CancellationParams{})
		ProbabilisticSettle{}.UpdateSettledStatus(order, rng)
		require.True(t, order.Settled)
	})

	t.Run("probability zero never settles", func(t *testing.T) {
		order := mesh.NewOrder(2, mesh.PeerIDNone, 0, mesh.OrderTypeDefault, 100,
			mesh.SettlementParams{}, mesh.CancellationParams{})
		for i := 0; i < 100; i++ {
			ProbabilisticSettle{}.UpdateSettledStatus(order, rng)
		}
		require.False(t, order.Settled)
	})
}
