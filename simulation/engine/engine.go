// Package engine holds the design space of the relay protocol: every decision
// point of a peer (acceptance, storage, sharing, scoring, beneficiary
// selection, neighbor recommendation) is a typed policy variant chosen at
// configuration time. Peers and the run driver dispatch through the Engine
// without knowing which variant is plugged in.
package engine

import (
	"math/rand"

	"github.com/relaymesh/meshsim/model/mesh"
)

// Incentive carries the scoring parameters of the reward protocol.
//
// Rewards a-e and penalties a-b are credited to a sender's contribution
// window for the following observations by the receiver:
//
//	reward a: re-sharing an order the receiver stores, from the same sender
//	reward b: sharing an order the receiver stores, from a different sender
//	reward c: sharing an order accepted to pending but not stored in the end
//	reward d: sharing the copy of an order the receiver decides to store
//	reward e: sharing a competing copy of an order stored from someone else
//	penalty a: sharing an order the receiver refuses to accept
//	penalty b: sharing a duplicate copy within the same batch period
type Incentive struct {
	// Length is the number of batch periods a contribution window covers.
	Length   int
	RewardA  float64
	RewardB  float64
	RewardC  float64
	RewardD  float64
	RewardE  float64
	PenaltyA float64
	PenaltyB float64
}

// Parameters are the numeric knobs of the design space.
type Parameters struct {
	// Batch is the number of ticks between a peer's successive store/share
	// decision points.
	Batch int
	// NeighborMax and NeighborMin bound the neighborhood size a peer
	// maintains.
	NeighborMax int
	NeighborMin int
	Incentive   Incentive
}

// Engine is the policy dispatcher. All fields must be populated; use New to
// get the parameter validation.
type Engine struct {
	Params Parameters

	Preference     PreferencePolicy
	Priority       PriorityPolicy
	External       ExternalAcceptancePolicy
	Internal       InternalAcceptancePolicy
	Storage        StoragePolicy
	Share          SharePolicy
	Score          ScorePolicy
	Beneficiary    BeneficiaryPolicy
	Recommendation RecommendationPolicy
}

// Policies bundles one variant per decision axis.
type Policies struct {
	Preference     PreferencePolicy
	Priority       PriorityPolicy
	External       ExternalAcceptancePolicy
	Internal       InternalAcceptancePolicy
	Storage        StoragePolicy
	Share          SharePolicy
	Score          ScorePolicy
	Beneficiary    BeneficiaryPolicy
	Recommendation RecommendationPolicy
}

// New validates the parameters and policy set and assembles an Engine.
// All errors are configuration-time fatal.
func New(params Parameters, policies Policies) (*Engine, error) {
	if params.Batch <= 0 {
		return nil, mesh.NewInvalidParameterErrorf("batch length must be positive, got %d", params.Batch)
	}
	if params.NeighborMin < 0 || params.NeighborMax < params.NeighborMin {
		return nil, mesh.NewInvalidParameterErrorf("neighbor bounds invalid: min=%d max=%d",
			params.NeighborMin, params.NeighborMax)
	}
	if params.Incentive.Length <= 0 {
		return nil, mesh.NewInvalidParameterErrorf("contribution window length must be positive, got %d",
			params.Incentive.Length)
	}
	if policies.Preference == nil || policies.Priority == nil || policies.External == nil ||
		policies.Internal == nil || policies.Storage == nil || policies.Share == nil ||
		policies.Score == nil || policies.Beneficiary == nil || policies.Recommendation == nil {
		return nil, mesh.NewInvalidParameterErrorf("all policy axes must be configured")
	}
	if err := policies.Score.Validate(params.Incentive.Length); err != nil {
		return nil, err
	}
	return &Engine{
		Params:         params,
		Preference:     policies.Preference,
		Priority:       policies.Priority,
		External:       policies.External,
		Internal:       policies.Internal,
		Storage:        policies.Storage,
		Share:          policies.Share,
		Score:          policies.Score,
		Beneficiary:    policies.Beneficiary,
		Recommendation: policies.Recommendation,
	}, nil
}

// sample draws k elements uniformly without replacement from pool. It never
// draws more than the population size. The pool must be in a deterministic
// order for runs to be reproducible.
func sample[T any](rng *rand.Rand, pool []T, k int) []T {
	if k > len(pool) {
		k = len(pool)
	}
	if k <= 0 {
		return nil
	}
	picked := make([]T, 0, k)
	for _, idx := range rng.Perm(len(pool))[:k] {
		picked = append(picked, pool[idx])
	}
	return picked
}
