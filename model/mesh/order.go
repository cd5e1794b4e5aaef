package mesh

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// SettlementParams parameterizes the pluggable settlement model of an order.
// The reference scenario never settles orders, so the probability is unused
// there; it is sampled and carried so that probabilistic settlement policies
// can be plugged in without touching the order model.
type SettlementParams struct {
	Prob float64
}

// CancellationParams parameterizes the pluggable cancellation model of an
// order. Cancellation in the reference scenario is driven by the event
// generator instead (a sampled number of cancellations per tick).
type CancellationParams struct {
	Prob float64
}

// Order is one order in the relay mesh. Its identity fields are immutable
// after creation; validity flags and the holder/hesitator reference sets are
// mutated by peer operations and the run driver only. An order never reaches
// back into peers: all cross-references are PeerIDs resolved by the driver.
type Order struct {
	ID         OrderID
	Creator    PeerID
	BirthTime  int
	Type       OrderType
	Expiration int

	Settlement   SettlementParams
	Cancellation CancellationParams

	Settled  bool
	Canceled bool
	expired  bool

	// holders have the order in durable local storage, hesitators only in a
	// pending table. A peer appears in at most one of the two sets.
	holders    map[PeerID]struct{}
	hesitators map[PeerID]struct{}
}

// NewOrder creates an order with empty holder and hesitator sets.
func NewOrder(id OrderID, creator PeerID, birthTime int, orderType OrderType, expiration int, settlement SettlementParams, cancellation CancellationParams) *Order {
	return &Order{
		ID:           id,
		Creator:      creator,
		BirthTime:    birthTime,
		Type:         orderType,
		Expiration:   expiration,
		Settlement:   settlement,
		Cancellation: cancellation,
		holders:      make(map[PeerID]struct{}),
		hesitators:   make(map[PeerID]struct{}),
	}
}

// UpdateValidStatus recomputes the expiration outcome for the given time.
// Settlement and cancellation outcomes are decided by the scenario's policy
// stubs and recorded on the Settled/Canceled flags before this is called.
func (o *Order) UpdateValidStatus(now int) {
	o.expired = now-o.BirthTime >= o.Expiration
}

// IsExpired returns the expiration outcome as of the last UpdateValidStatus.
func (o *Order) IsExpired() bool {
	return o.expired
}

// IsValid returns whether the order is still alive: not settled, not
// canceled, not expired, and referenced by at least one holder or hesitator.
func (o *Order) IsValid() bool {
	return !o.Settled && !o.Canceled && !o.expired && len(o.holders)+len(o.hesitators) > 0
}

// AddHolder registers a peer as a holder of this order. It is an exception
// for the peer to currently be a hesitator: the pending reference must be
// released first.
func (o *Order) AddHolder(peer PeerID) error {
	if _, ok := o.hesitators[peer]; ok {
		return fmt.Errorf("peer %d is a hesitator of order %d, cannot also hold it", peer, o.ID)
	}
	o.holders[peer] = struct{}{}
	return nil
}

// RemoveHolder removes a peer from the holder set. It is an exception if the
// peer is not a holder.
func (o *Order) RemoveHolder(peer PeerID) error {
	if _, ok := o.holders[peer]; !ok {
		return fmt.Errorf("peer %d does not hold order %d", peer, o.ID)
	}
	delete(o.holders, peer)
	return nil
}

// AddHesitator registers a peer as a hesitator of this order. It is an
// exception for the peer to currently be a holder.
func (o *Order) AddHesitator(peer PeerID) error {
	if _, ok := o.holders[peer]; ok {
		return fmt.Errorf("peer %d holds order %d, cannot also hesitate on it", peer, o.ID)
	}
	o.hesitators[peer] = struct{}{}
	return nil
}

// RemoveHesitator removes a peer from the hesitator set. It is an exception
// if the peer is not a hesitator.
func (o *Order) RemoveHesitator(peer PeerID) error {
	if _, ok := o.hesitators[peer]; !ok {
		return fmt.Errorf("peer %d does not hesitate on order %d", peer, o.ID)
	}
	delete(o.hesitators, peer)
	return nil
}

// IsHolder returns whether the peer has this order in durable storage.
func (o *Order) IsHolder(peer PeerID) bool {
	_, ok := o.holders[peer]
	return ok
}

// IsHesitator returns whether the peer has this order only pending.
func (o *Order) IsHesitator(peer PeerID) bool {
	_, ok := o.hesitators[peer]
	return ok
}

// NumReplicas returns the total number of peers referencing this order.
func (o *Order) NumReplicas() int {
	return len(o.holders) + len(o.hesitators)
}

// Holders returns the holder set as a sorted slice, for deterministic
// iteration.
func (o *Order) Holders() []PeerID {
	return sortedPeerIDs(o.holders)
}

// Hesitators returns the hesitator set as a sorted slice.
func (o *Order) Hesitators() []PeerID {
	return sortedPeerIDs(o.hesitators)
}

func sortedPeerIDs(set map[PeerID]struct{}) []PeerID {
	ids := make([]PeerID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// OrderInfo is a peer's local view of an order: when it arrived, who relayed
// it, how far it has traveled, and the transient storage decision taken
// during the store phase of a batch. Many OrderInfo instances may reference
// the same order; each is exclusively owned by the peer whose table holds it.
type OrderInfo struct {
	OrderID     OrderID
	ArrivalTime int
	// PrevOwner is the neighbor the order came from; PeerIDNone for orders
	// that are self-originated or injected externally.
	PrevOwner PeerID
	// Novelty is the hop count of the order's propagation since origination.
	Novelty  int
	Priority Priority

	// StorageDecision is set by the storage policy during the store phase;
	// at most one orderinfo per order may carry true.
	StorageDecision bool
}
