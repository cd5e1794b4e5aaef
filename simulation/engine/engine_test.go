package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/meshsim/model/mesh"
)

func validParameters() Parameters {
	return Parameters{
		Batch:       10,
		NeighborMax: 30,
		NeighborMin: 20,
		Incentive:   Incentive{Length: 3, RewardD: 1, PenaltyB: -1},
	}
}

func validPolicies() Policies {
	return Policies{
		Preference:     PassivePreference{},
		Priority:       PassivePriority{},
		External:       AcceptAll{},
		Internal:       AcceptAll{},
		Storage:        FirstWins{},
		Share:          AllNewSelectedOld{MaxToShare: 5000, OldShareProb: 0.5},
		Score:          WeightedSum{LazyContribution: 2, LazyLength: 6, Weights: []float64{1, 1, 1}},
		Beneficiary:    TitForTat{BabyEnding: 0, Mutual: 3, Optimistic: 1},
		Recommendation: UniformRandom{},
	}
}

func TestNew(t *testing.T) {
	t.Run("valid setup", func(t *testing.T) {
		eng, err := New(validParameters(), validPolicies())
		require.NoError(t, err)
		require.NotNil(t, eng)
	})

	t.Run("batch must be positive", func(t *testing.T) {
		params := validParameters()
		params.Batch = 0
		_, err := New(params, validPolicies())
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("neighborhood bounds must be ordered", func(t *testing.T) {
		params := validParameters()
		params.NeighborMin = params.NeighborMax + 1
		_, err := New(params, validPolicies())
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("contribution window length must be positive", func(t *testing.T) {
		params := validParameters()
		params.Incentive.Length = 0
		_, err := New(params, validPolicies())
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("weights must match the window length", func(t *testing.T) {
		policies := validPolicies()
		policies.Score = WeightedSum{LazyContribution: 2, LazyLength: 6, Weights: []float64{1, 1}}
		_, err := New(validParameters(), policies)
		require.True(t, mesh.IsInvalidParameterError(err))
	})

	t.Run("missing policy", func(t *testing.T) {
		policies := validPolicies()
		policies.Share = nil
		_, err := New(validParameters(), policies)
		require.True(t, mesh.IsInvalidParameterError(err))
	})
}
