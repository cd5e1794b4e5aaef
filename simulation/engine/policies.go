package engine

import (
	"math"
	"math/rand"

	"golang.org/x/exp/slices"

	"github.com/relaymesh/meshsim/model/mesh"
)

// PreferencePolicy decides the preference a peer records for a new neighbor.
type PreferencePolicy interface {
	// SetPreference assigns a preference on the neighbor record that master
	// keeps for peer.
	SetPreference(n *mesh.Neighbor, peer, master mesh.PeerID, preference mesh.Preference)
}

// PassivePreference takes whatever preference the caller supplies, which for
// the reference setup is always nil.
type PassivePreference struct{}

var _ PreferencePolicy = (*PassivePreference)(nil)

func (PassivePreference) SetPreference(n *mesh.Neighbor, _, _ mesh.PeerID, preference mesh.Preference) {
	n.Preference = preference
}

// PriorityPolicy decides the priority a peer assigns to an orderinfo entering
// its tables.
type PriorityPolicy interface {
	SetPriority(info *mesh.OrderInfo, order mesh.OrderID, master mesh.PeerID, priority mesh.Priority)
}

// PassivePriority takes whatever priority the caller supplies.
type PassivePriority struct{}

var _ PriorityPolicy = (*PassivePriority)(nil)

func (PassivePriority) SetPriority(info *mesh.OrderInfo, _ mesh.OrderID, _ mesh.PeerID, priority mesh.Priority) {
	info.Priority = priority
}

// ExternalAcceptancePolicy decides whether an externally injected order is
// admitted to a peer's pending table.
type ExternalAcceptancePolicy interface {
	AcceptExternal(receiver mesh.PeerID, order *mesh.Order) bool
}

// InternalAcceptancePolicy decides whether an order shared by a neighbor is
// admitted to a peer's pending table.
type InternalAcceptancePolicy interface {
	AcceptInternal(receiver, sender mesh.PeerID, order *mesh.Order) bool
}

// AcceptAll is the permissive reference acceptance policy for both external
// and internal orders.
type AcceptAll struct{}

var _ ExternalAcceptancePolicy = (*AcceptAll)(nil)
var _ InternalAcceptancePolicy = (*AcceptAll)(nil)

func (AcceptAll) AcceptExternal(mesh.PeerID, *mesh.Order) bool { return true }

func (AcceptAll) AcceptInternal(mesh.PeerID, mesh.PeerID, *mesh.Order) bool { return true }

// StoragePolicy marks, for every order in a peer's pending table, which
// pending copy (if any) should be moved to durable storage. Implementations
// must mark at most one copy per order; the peer treats a violation as a
// fatal internal-consistency error.
type StoragePolicy interface {
	DecideStorage(pending map[mesh.OrderID][]*mesh.OrderInfo, rng *rand.Rand)
}

// FirstWins stores the first copy of every order in arrival-registration
// order, which is deterministic given a consistent insertion order.
type FirstWins struct{}

var _ StoragePolicy = (*FirstWins)(nil)

func (FirstWins) DecideStorage(pending map[mesh.OrderID][]*mesh.OrderInfo, _ *rand.Rand) {
	for _, copies := range pending {
		for i, info := range copies {
			info.StorageDecision = i == 0
		}
	}
}

// SharePolicy selects the orders a peer shares at the end of a batch. The
// input slices must be sorted by order ID so that sampling is reproducible.
type SharePolicy interface {
	SelectOrders(newOrders, oldOrders []mesh.OrderID, rng *rand.Rand) []mesh.OrderID
}

// AllNewSelectedOld shares min(MaxToShare, |new|) new orders, plus
// min(remaining quota, round(|old| * OldShareProb)) orders sampled without
// replacement from the already-shared ones.
type AllNewSelectedOld struct {
	MaxToShare   int
	OldShareProb float64
}

var _ SharePolicy = (*AllNewSelectedOld)(nil)

func (p AllNewSelectedOld) SelectOrders(newOrders, oldOrders []mesh.OrderID, rng *rand.Rand) []mesh.OrderID {
	selected := sample(rng, newOrders, p.MaxToShare)

	remaining := p.MaxToShare - len(newOrders)
	if remaining < 0 {
		remaining = 0
	}
	byProbability := int(math.Round(float64(len(oldOrders)) * p.OldShareProb))
	if byProbability < remaining {
		remaining = byProbability
	}
	selected = append(selected, sample(rng, oldOrders, remaining)...)

	slices.Sort(selected)
	return selected
}

// ScorePolicy recomputes every neighbor's aggregate score from its
// contribution window, and flags neighbors to evict.
type ScorePolicy interface {
	// ScoreAndFlag updates the Score of each neighbor and returns the IDs of
	// neighbors to be evicted, sorted.
	ScoreAndFlag(neighbors map[mesh.PeerID]*mesh.Neighbor) []mesh.PeerID
	// Validate checks the policy parameters against the configured
	// contribution window length.
	Validate(contributionLength int) error
}

// WeightedSum scores a neighbor as the dot product of its contribution
// window with the weights vector (oldest slot first). A neighbor whose
// current-batch contribution stays at or below LazyContribution increments
// its lazy-round counter (reset otherwise); reaching LazyLength flags the
// neighbor for eviction.
type WeightedSum struct {
	LazyContribution float64
	LazyLength       int
	Weights          []float64
}

var _ ScorePolicy = (*WeightedSum)(nil)

func (p WeightedSum) Validate(contributionLength int) error {
	if len(p.Weights) != contributionLength {
		return mesh.NewInvalidParameterErrorf("scoring weights length %d does not match contribution window length %d",
			len(p.Weights), contributionLength)
	}
	if p.LazyLength <= 0 {
		return mesh.NewInvalidParameterErrorf("lazy length threshold must be positive, got %d", p.LazyLength)
	}
	return nil
}

func (p WeightedSum) ScoreAndFlag(neighbors map[mesh.PeerID]*mesh.Neighbor) []mesh.PeerID {
	var evicted []mesh.PeerID
	for _, id := range sortedNeighborIDs(neighbors) {
		neighbor := neighbors[id]
		if neighbor.Contribution.Latest() <= p.LazyContribution {
			neighbor.LazyRound++
		} else {
			neighbor.LazyRound = 0
		}
		if neighbor.LazyRound >= p.LazyLength {
			evicted = append(evicted, id)
			continue
		}
		score := 0.0
		for i, v := range neighbor.Contribution.Values() {
			score += v * p.Weights[i]
		}
		neighbor.Score = score
	}
	return evicted
}

// BeneficiaryPolicy selects the neighbors that receive a peer's shared
// orders in this batch.
type BeneficiaryPolicy interface {
	// SelectBeneficiaries chooses from the ranked neighbor list (descending
	// score). age is the peer's age in ticks; scoreOf resolves a neighbor's
	// current score.
	SelectBeneficiaries(age int, ranked []mesh.PeerID, scoreOf func(mesh.PeerID) float64, rng *rand.Rand) []mesh.PeerID
}

// TitForTat is reciprocity-based beneficiary selection. A baby peer (age at
// most BabyEnding) has no reputation signal yet and picks Mutual+Optimistic
// neighbors uniformly at random. An older peer takes the top Mutual neighbors
// of the ranking while their scores are strictly positive, then samples
// Optimistic more from the remainder. A shrunk mutual group does not grow the
// optimistic sample: the unused quota is deliberately wasted, matching the
// reference behavior.
type TitForTat struct {
	BabyEnding int
	Mutual     int
	Optimistic int
}

var _ BeneficiaryPolicy = (*TitForTat)(nil)

func (p TitForTat) SelectBeneficiaries(age int, ranked []mesh.PeerID, scoreOf func(mesh.PeerID) float64, rng *rand.Rand) []mesh.PeerID {
	if age <= p.BabyEnding {
		selected := sample(rng, ranked, p.Mutual+p.Optimistic)
		slices.Sort(selected)
		return selected
	}

	mutual := p.Mutual
	if mutual > len(ranked) {
		mutual = len(ranked)
	}
	for mutual > 0 && scoreOf(ranked[mutual-1]) <= 0 {
		mutual--
	}

	selected := make([]mesh.PeerID, 0, mutual+p.Optimistic)
	selected = append(selected, ranked[:mutual]...)
	selected = append(selected, sample(rng, ranked[mutual:], p.Optimistic)...)
	slices.Sort(selected)
	return selected
}

// RecommendationPolicy picks neighbor candidates for a peer soliciting more
// neighbors. Conceptually this runs on a centralized tracker, which is why it
// lives on the engine rather than on the peer.
type RecommendationPolicy interface {
	// Recommend returns up to target candidates. It fails with
	// mesh.ErrEmptyPool when the pool is empty or target is not positive.
	Recommend(requester mesh.PeerID, candidates []mesh.PeerID, target int, rng *rand.Rand) ([]mesh.PeerID, error)
}

// UniformRandom recommends a uniform random sample, ignoring the requester.
type UniformRandom struct{}

var _ RecommendationPolicy = (*UniformRandom)(nil)

func (UniformRandom) Recommend(_ mesh.PeerID, candidates []mesh.PeerID, target int, rng *rand.Rand) ([]mesh.PeerID, error) {
	if len(candidates) == 0 || target <= 0 {
		return nil, mesh.ErrEmptyPool
	}
	selected := sample(rng, candidates, target)
	slices.Sort(selected)
	return selected, nil
}

func sortedNeighborIDs(neighbors map[mesh.PeerID]*mesh.Neighbor) []mesh.PeerID {
	ids := make([]mesh.PeerID, 0, len(neighbors))
	for id := range neighbors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
