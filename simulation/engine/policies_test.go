package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/meshsim/model/mesh"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestFirstWins(t *testing.T) {
	first := &mesh.OrderInfo{OrderID: 1, PrevOwner: 10}
	second := &mesh.OrderInfo{OrderID: 1, PrevOwner: 11}
	single := &mesh.OrderInfo{OrderID: 2, PrevOwner: 12}
	pending := map[mesh.OrderID][]*mesh.OrderInfo{
		1: {first, second},
		2: {single},
	}

	FirstWins{}.DecideStorage(pending, testRNG())

	require.True(t, first.StorageDecision)
	require.False(t, second.StorageDecision)
	require.True(t, single.StorageDecision)
}

func TestAllNewSelectedOld(t *testing.T) {
	newOrders := []mesh.OrderID{1, 2, 3}
	oldOrders := []mesh.OrderID{4, 5, 6, 7}

	t.Run("all new plus sampled old within quota", func(t *testing.T) {
		policy := AllNewSelectedOld{MaxToShare: 5, OldShareProb: 0.5}
		selected := policy.SelectOrders(newOrders, oldOrders, testRNG())
		// 3 new plus min(5-3, round(4*0.5)) = 2 old
		require.Len(t, selected, 5)
		require.Subset(t, selected, newOrders)
		require.True(t, slicesAreSorted(selected))
	})

	t.Run("quota caps the new orders", func(t *testing.T) {
		policy := AllNewSelectedOld{MaxToShare: 2, OldShareProb: 1}
		selected := policy.SelectOrders(newOrders, oldOrders, testRNG())
		require.Len(t, selected, 2)
		for _, id := range selected {
			require.Contains(t, newOrders, id)
		}
	})

	t.Run("zero probability shares no old orders", func(t *testing.T) {
		policy := AllNewSelectedOld{MaxToShare: 5000, OldShareProb: 0}
		selected := policy.SelectOrders(newOrders, oldOrders, testRNG())
		require.ElementsMatch(t, newOrders, selected)
	})

	t.Run("empty inputs", func(t *testing.T) {
		policy := AllNewSelectedOld{MaxToShare: 5000, OldShareProb: 0.5}
		require.Empty(t, policy.SelectOrders(nil, nil, testRNG()))
	})
}

func TestWeightedSum(t *testing.T) {
	policy := WeightedSum{LazyContribution: 2, LazyLength: 3, Weights: []float64{1, 2, 3}}

	t.Run("score is the weighted window sum", func(t *testing.T) {
		neighbor := mesh.NewNeighbor(0, 3)
		neighbor.Contribution.Credit(4) // newest slot
		neighbors := map[mesh.PeerID]*mesh.Neighbor{7: neighbor}

		evicted := policy.ScoreAndFlag(neighbors)
		require.Empty(t, evicted)
		require.Equal(t, float64(12), neighbor.Score)
		require.Equal(t, 0, neighbor.LazyRound)
	})

	t.Run("contribution at the threshold counts as lazy", func(t *testing.T) {
		neighbor := mesh.NewNeighbor(0, 3)
		neighbor.Contribution.Credit(2)
		neighbors := map[mesh.PeerID]*mesh.Neighbor{7: neighbor}

		require.Empty(t, policy.ScoreAndFlag(neighbors))
		require.Equal(t, 1, neighbor.LazyRound)
	})

	t.Run("active batch resets the lazy counter", func(t *testing.T) {
		neighbor := mesh.NewNeighbor(0, 3)
		neighbor.LazyRound = 2
		neighbor.Contribution.Credit(5)
		neighbors := map[mesh.PeerID]*mesh.Neighbor{7: neighbor}

		require.Empty(t, policy.ScoreAndFlag(neighbors))
		require.Equal(t, 0, neighbor.LazyRound)
	})

	t.Run("persistently lazy neighbors are flagged", func(t *testing.T) {
		lazy := mesh.NewNeighbor(0, 3)
		lazy.LazyRound = 2
		active := mesh.NewNeighbor(0, 3)
		active.Contribution.Credit(10)
		neighbors := map[mesh.PeerID]*mesh.Neighbor{3: lazy, 5: active}

		evicted := policy.ScoreAndFlag(neighbors)
		require.Equal(t, []mesh.PeerID{3}, evicted)
		// the flagged neighbor keeps its stale score, it is leaving anyway
		require.Equal(t, float64(30), active.Score)
	})

	t.Run("weights must match the window", func(t *testing.T) {
		require.NoError(t, policy.Validate(3))
		require.True(t, mesh.IsInvalidParameterError(policy.Validate(4)))
	})
}

func TestTitForTat(t *testing.T) {
	ranked := []mesh.PeerID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	scores := map[mesh.PeerID]float64{1: 9, 2: 8, 3: 7, 4: 6, 5: 5, 6: 4, 7: 3, 8: 2, 9: 1, 10: 0}
	scoreOf := func(id mesh.PeerID) float64 { return scores[id] }

	t.Run("baby peers pick at random", func(t *testing.T) {
		policy := TitForTat{BabyEnding: 10, Mutual: 3, Optimistic: 1}
		selected := policy.SelectBeneficiaries(5, ranked, scoreOf, testRNG())
		require.Len(t, selected, 4)
		require.Subset(t, ranked, selected)
	})

	t.Run("adult peers take the top scorers plus an optimistic pick", func(t *testing.T) {
		policy := TitForTat{BabyEnding: 0, Mutual: 3, Optimistic: 1}
		selected := policy.SelectBeneficiaries(5, ranked, scoreOf, testRNG())
		require.Len(t, selected, 4)
		require.Subset(t, selected, []mesh.PeerID{1, 2, 3})
	})

	t.Run("non-positive scorers are excluded from the mutual group", func(t *testing.T) {
		policy := TitForTat{BabyEnding: 0, Mutual: 3, Optimistic: 1}
		zeroScores := func(mesh.PeerID) float64 { return 0 }
		// the mutual group shrinks to nothing and the freed quota is not
		// redistributed to the optimistic sample
		selected := policy.SelectBeneficiaries(5, ranked, zeroScores, testRNG())
		require.Len(t, selected, 1)
	})

	t.Run("fewer neighbors than the mutual quota", func(t *testing.T) {
		policy := TitForTat{BabyEnding: 0, Mutual: 5, Optimistic: 2}
		short := []mesh.PeerID{1, 2}
		selected := policy.SelectBeneficiaries(5, short, scoreOf, testRNG())
		require.ElementsMatch(t, short, selected)
	})
}

func TestUniformRandom(t *testing.T) {
	t.Run("samples without replacement", func(t *testing.T) {
		candidates := []mesh.PeerID{1, 2, 3, 4, 5}
		selected, err := UniformRandom{}.Recommend(9, candidates, 3, testRNG())
		require.NoError(t, err)
		require.Len(t, selected, 3)
		seen := make(map[mesh.PeerID]struct{})
		for _, id := range selected {
			require.Contains(t, candidates, id)
			_, dup := seen[id]
			require.False(t, dup)
			seen[id] = struct{}{}
		}
	})

	t.Run("target beyond the pool returns the whole pool", func(t *testing.T) {
		candidates := []mesh.PeerID{1, 2}
		selected, err := UniformRandom{}.Recommend(9, candidates, 10, testRNG())
		require.NoError(t, err)
		require.ElementsMatch(t, candidates, selected)
	})

	t.Run("empty pool", func(t *testing.T) {
		_, err := UniformRandom{}.Recommend(9, nil, 3, testRNG())
		require.ErrorIs(t, err, mesh.ErrEmptyPool)
	})

	t.Run("non-positive target", func(t *testing.T) {
		_, err := UniformRandom{}.Recommend(9, []mesh.PeerID{1}, 0, testRNG())
		require.ErrorIs(t, err, mesh.ErrEmptyPool)
	})
}

func slicesAreSorted(ids []mesh.OrderID) bool {
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			return false
		}
	}
	return true
}
