// Package peer implements the protocol state machine of a single mesh node:
// the pending table, local storage, new-order bookkeeping and the neighbor
// map, together with the batch-driven store/score/share operations.
//
// From a peer's point of view an order moves through
// Unknown -> Pending (one or more competing copies) -> Stored (exactly one
// copy) or Discarded. All transitions happen inside the operations below; the
// run driver sequences them and owns the global peer and order registries.
//
// Error conventions follow the rest of the codebase: expected negative
// outcomes are typed errors from model/mesh (DuplicateOrderError,
// NotNeighborError), everything else is an exception that must abort the run.
package peer

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/relaymesh/meshsim/model/mesh"
	"github.com/relaymesh/meshsim/simulation/engine"
)

// Config carries everything a peer needs at construction. InitOrders are
// placed straight into durable storage without a storage decision.
type Config struct {
	Logger     zerolog.Logger
	Engine     *engine.Engine
	RNG        *rand.Rand
	ID         mesh.PeerID
	BirthTime  int
	Type       mesh.PeerType
	InitOrders []*mesh.Order
}

// Peer is one node of the mesh.
type Peer struct {
	log    zerolog.Logger
	engine *engine.Engine
	rng    *rand.Rand

	id                mesh.PeerID
	birthTime         int
	localClock        int
	peerType          mesh.PeerType
	initOrderbookSize int

	// stored maps an order to its single stored orderinfo; pending maps an
	// order to the competing copies received during the current batch.
	// orders tracks the order objects behind either table.
	stored  map[mesh.OrderID]*mesh.OrderInfo
	pending map[mesh.OrderID][]*mesh.OrderInfo
	orders  map[mesh.OrderID]*mesh.Order

	// newOrders are stored orders that have never been shared out.
	newOrders map[mesh.OrderID]struct{}

	neighbors map[mesh.PeerID]*mesh.Neighbor
}

// New creates a peer and ingests its initial orderbook. Free riders must not
// carry initial orders.
func New(cfg Config) (*Peer, error) {
	if cfg.Type == mesh.PeerTypeFreeRider && len(cfg.InitOrders) > 0 {
		return nil, fmt.Errorf("free rider peer %d cannot have initial orders", cfg.ID)
	}

	p := &Peer{
		log:               cfg.Logger.With().Uint64("peer", uint64(cfg.ID)).Logger(),
		engine:            cfg.Engine,
		rng:               cfg.RNG,
		id:                cfg.ID,
		birthTime:         cfg.BirthTime,
		localClock:        cfg.BirthTime,
		peerType:          cfg.Type,
		initOrderbookSize: len(cfg.InitOrders),
		stored:            make(map[mesh.OrderID]*mesh.OrderInfo),
		pending:           make(map[mesh.OrderID][]*mesh.OrderInfo),
		orders:            make(map[mesh.OrderID]*mesh.Order),
		newOrders:         make(map[mesh.OrderID]struct{}),
		neighbors:         make(map[mesh.PeerID]*mesh.Neighbor),
	}

	// initial orders bypass the storage decision and go straight to storage
	for _, order := range cfg.InitOrders {
		info := &mesh.OrderInfo{
			OrderID:         order.ID,
			ArrivalTime:     cfg.BirthTime,
			PrevOwner:       mesh.PeerIDNone,
			StorageDecision: true,
		}
		p.engine.Priority.SetPriority(info, order.ID, p.id, nil)
		p.stored[order.ID] = info
		p.orders[order.ID] = order
		p.newOrders[order.ID] = struct{}{}
		if err := order.AddHolder(p.id); err != nil {
			return nil, fmt.Errorf("could not register initial holder: %w", err)
		}
	}

	return p, nil
}

// ID returns the peer's sequence number.
func (p *Peer) ID() mesh.PeerID { return p.id }

// Type returns the peer's type.
func (p *Peer) Type() mesh.PeerType { return p.peerType }

// IsFreeRider returns whether the peer never shares its orders.
func (p *Peer) IsFreeRider() bool { return p.peerType == mesh.PeerTypeFreeRider }

// BirthTime returns the tick the peer joined at.
func (p *Peer) BirthTime() int { return p.birthTime }

// LocalClock returns the peer's local time.
func (p *Peer) LocalClock() int { return p.localClock }

// SetBirthTime overrides birth time and local clock. Used by the driver for
// the initial population, whose birth times are spread over the birth time
// span.
func (p *Peer) SetBirthTime(birthTime, localClock int) {
	p.birthTime = birthTime
	p.localClock = localClock
}

// AdvanceClock moves the local clock one tick forward and returns the new
// value.
func (p *Peer) AdvanceClock() int {
	p.localClock++
	return p.localClock
}

// InitOrderbookSize returns the number of orders the peer was born with.
func (p *Peer) InitOrderbookSize() int { return p.initOrderbookSize }

// NumNeighbors returns the current neighborhood size.
func (p *Peer) NumNeighbors() int { return len(p.neighbors) }

// HasNeighbor returns whether the given peer is registered as a neighbor.
func (p *Peer) HasNeighbor(id mesh.PeerID) bool {
	_, ok := p.neighbors[id]
	return ok
}

// Neighbor returns the local record for the given neighbor.
func (p *Peer) Neighbor(id mesh.PeerID) (*mesh.Neighbor, bool) {
	n, ok := p.neighbors[id]
	return n, ok
}

// NeighborIDs returns the neighbor set as a sorted slice.
func (p *Peer) NeighborIDs() []mesh.PeerID {
	ids := make([]mesh.PeerID, 0, len(p.neighbors))
	for id := range p.neighbors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// HasStored returns whether the order is in durable local storage.
func (p *Peer) HasStored(id mesh.OrderID) bool {
	_, ok := p.stored[id]
	return ok
}

// StoredInfo returns the stored orderinfo for the order, if any.
func (p *Peer) StoredInfo(id mesh.OrderID) (*mesh.OrderInfo, bool) {
	info, ok := p.stored[id]
	return info, ok
}

// PendingCopies returns the pending orderinfo copies for the order.
func (p *Peer) PendingCopies(id mesh.OrderID) []*mesh.OrderInfo {
	return p.pending[id]
}

// PendingOrderIDs returns the IDs of all orders with pending copies, sorted.
func (p *Peer) PendingOrderIDs() []mesh.OrderID {
	ids := make([]mesh.OrderID, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// StoredOrderIDs returns the IDs of all stored orders, sorted.
func (p *Peer) StoredOrderIDs() []mesh.OrderID {
	ids := make([]mesh.OrderID, 0, len(p.stored))
	for id := range p.stored {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NewOrderIDs returns the IDs of stored orders never yet shared, sorted.
func (p *Peer) NewOrderIDs() []mesh.OrderID {
	ids := make([]mesh.OrderID, 0, len(p.newOrders))
	for id := range p.newOrders {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ShouldAcceptNeighborRequest decides whether to accept a neighborhood
// request from another peer: the peer agrees while it is itself still
// soliciting neighbors, i.e. below the minimum neighborhood size; at or above
// it, the peer considers itself sufficiently connected and declines. Asking
// on behalf of an existing neighbor or of the peer itself is a caller bug.
func (p *Peer) ShouldAcceptNeighborRequest(requester mesh.PeerID) (bool, error) {
	if requester == p.id {
		return false, fmt.Errorf("peer %d asked to neighbor itself", p.id)
	}
	if p.HasNeighbor(requester) {
		return false, fmt.Errorf("peer %d is already a neighbor of peer %d", requester, p.id)
	}
	return len(p.neighbors) < p.engine.Params.NeighborMin, nil
}

// AddNeighbor registers the given peer in the local neighbor map. The driver
// must call it on both sides to preserve bilaterality; a one-sided neighbor
// map is an invariant violation.
func (p *Peer) AddNeighbor(id mesh.PeerID) error {
	if id == p.id {
		return fmt.Errorf("peer %d cannot neighbor itself", p.id)
	}
	if p.HasNeighbor(id) {
		return fmt.Errorf("peer %d is already a neighbor of peer %d", id, p.id)
	}
	neighbor := mesh.NewNeighbor(p.localClock, p.engine.Params.Incentive.Length)
	p.engine.Preference.SetPreference(neighbor, id, p.id, nil)
	p.neighbors[id] = neighbor
	return nil
}

// DelNeighbor removes the given peer from the local neighbor map. The driver
// is responsible for removing the reverse edge (via DelNeighbor or
// AcceptNeighborCancellation on the counterpart).
func (p *Peer) DelNeighbor(id mesh.PeerID) error {
	if !p.HasNeighbor(id) {
		return fmt.Errorf("peer %d is not a neighbor of peer %d, cannot delete", id, p.id)
	}
	delete(p.neighbors, id)
	return nil
}

// AcceptNeighborCancellation handles a cancellation notice from the other
// side of a relationship. It always succeeds; cancelling an unknown neighbor
// is a no-op.
func (p *Peer) AcceptNeighborCancellation(requester mesh.PeerID) {
	delete(p.neighbors, requester)
}

// ReceiveOrderExternal ingests an order injected from outside the mesh. An
// order already pending or stored fails with a DuplicateOrderError; a
// rejection by the acceptance policy is a silent no-op.
func (p *Peer) ReceiveOrderExternal(order *mesh.Order) error {
	if _, ok := p.pending[order.ID]; ok {
		return mesh.NewDuplicateOrderError(order.ID, p.id)
	}
	if _, ok := p.stored[order.ID]; ok {
		return mesh.NewDuplicateOrderError(order.ID, p.id)
	}

	if !p.engine.External.AcceptExternal(p.id, order) {
		return nil
	}

	info := &mesh.OrderInfo{
		OrderID:     order.ID,
		ArrivalTime: p.localClock,
		PrevOwner:   mesh.PeerIDNone,
	}
	p.engine.Priority.SetPriority(info, order.ID, p.id, nil)
	p.pending[order.ID] = []*mesh.OrderInfo{info}
	p.orders[order.ID] = order
	if err := order.AddHesitator(p.id); err != nil {
		return fmt.Errorf("could not register hesitator: %w", err)
	}
	return nil
}

// ReceiveOrderInternal ingests an order shared by a neighbor. It is the
// single ingestion point for shared orders and is idempotent with respect to
// duplicate suppression per sender. The sender's contribution window is
// credited according to the incentive parameters; see engine.Incentive for
// the meaning of the individual rewards and penalties.
func (p *Peer) ReceiveOrderInternal(sender *Peer, order *mesh.Order, noveltyUpdate bool) error {
	if !p.HasNeighbor(sender.id) || !sender.HasNeighbor(p.id) {
		return mesh.NewNotNeighborError(p.id, sender.id)
	}
	neighbor := p.neighbors[sender.id]
	incentive := p.engine.Params.Incentive

	if !p.engine.Internal.AcceptInternal(p.id, sender.id, order) {
		neighbor.Contribution.Credit(incentive.PenaltyA)
		return nil
	}

	if stored, ok := p.stored[order.ID]; ok {
		// already stored, no need to store again; reward depends on whether
		// the duplicate came from the original relayer or a late different
		// source
		if stored.PrevOwner == sender.id {
			neighbor.Contribution.Credit(incentive.RewardA)
		} else {
			neighbor.Contribution.Credit(incentive.RewardB)
		}
		return nil
	}

	senderInfo, ok := sender.stored[order.ID]
	if !ok {
		return fmt.Errorf("peer %d shared order %d it does not hold", sender.id, order.ID)
	}
	novelty := senderInfo.Novelty
	if noveltyUpdate {
		novelty++
	}

	info := &mesh.OrderInfo{
		OrderID:     order.ID,
		ArrivalTime: p.localClock,
		PrevOwner:   sender.id,
		Novelty:     novelty,
	}
	p.engine.Priority.SetPriority(info, order.ID, p.id, nil)

	copies, ok := p.pending[order.ID]
	if !ok {
		p.pending[order.ID] = []*mesh.OrderInfo{info}
		p.orders[order.ID] = order
		if err := order.AddHesitator(p.id); err != nil {
			return fmt.Errorf("could not register hesitator: %w", err)
		}
		return nil
	}

	for _, existing := range copies {
		if existing.PrevOwner == sender.id {
			// same neighbor flooding duplicates within one batch; its earlier
			// copy stays pending and can still win the storage decision
			neighbor.Contribution.Credit(incentive.PenaltyB)
			return nil
		}
	}

	// a late copy from a different neighbor competes for the storage decision
	p.pending[order.ID] = append(copies, info)
	return nil
}

// StoreOrders runs the storage decision over the pending table at the end of
// a batch period. Calling it off the batch boundary is a protocol-timing bug
// and yields an exception. For every order, at most one pending copy may be
// marked for storage; the marked copy moves to durable storage and the
// competing senders are credited, after which the pending table is cleared.
func (p *Peer) StoreOrders() error {
	if (p.localClock-p.birthTime)%p.engine.Params.Batch != 0 {
		return fmt.Errorf("store decision of peer %d invoked off the batch boundary (clock %d, birth %d, batch %d)",
			p.id, p.localClock, p.birthTime, p.engine.Params.Batch)
	}

	p.engine.Storage.DecideStorage(p.pending, p.rng)

	incentive := p.engine.Params.Incentive
	for _, orderID := range sortedPendingIDs(p.pending) {
		copies := p.pending[orderID]
		order := p.orders[orderID]

		// the stored copy, if any, sorts first; arrival-registration order is
		// preserved among the rest
		sort.SliceStable(copies, func(i, j int) bool {
			return copies[i].StorageDecision && !copies[j].StorageDecision
		})

		// the peer stops hesitating on this order either way
		if err := order.RemoveHesitator(p.id); err != nil {
			return fmt.Errorf("could not release pending reference: %w", err)
		}

		if !copies[0].StorageDecision {
			// nothing stored: the contributing senders still get the
			// consolation credit
			for _, info := range copies {
				p.creditSender(info.PrevOwner, incentive.RewardC)
			}
			delete(p.orders, orderID)
			continue
		}

		winner := copies[0]
		p.stored[orderID] = winner
		p.newOrders[orderID] = struct{}{}
		if err := order.AddHolder(p.id); err != nil {
			return fmt.Errorf("could not register holder: %w", err)
		}
		p.creditSender(winner.PrevOwner, incentive.RewardD)

		for _, info := range copies[1:] {
			if info.StorageDecision {
				return fmt.Errorf("storage policy marked multiple copies of order %d for peer %d",
					orderID, p.id)
			}
			p.creditSender(info.PrevOwner, incentive.RewardE)
		}
	}

	// transactional per order, unconditional per peer
	p.pending = make(map[mesh.OrderID][]*mesh.OrderInfo)
	return nil
}

// creditSender credits the contribution window of the neighbor an orderinfo
// came from. External copies (no previous owner) and copies from since-departed
// neighbors are skipped.
func (p *Peer) creditSender(sender mesh.PeerID, credit float64) {
	if sender == mesh.PeerIDNone {
		return
	}
	if neighbor, ok := p.neighbors[sender]; ok {
		neighbor.Contribution.Credit(credit)
	}
}

// ScoreNeighbors applies the scoring policy: every neighbor's aggregate score
// is recomputed and lazy neighbors are evicted from the local map. The
// returned eviction list must be relayed by the driver to the counterpart
// peers so that bilaterality is restored within the same tick.
func (p *Peer) ScoreNeighbors() []mesh.PeerID {
	evicted := p.engine.Score.ScoreAndFlag(p.neighbors)
	for _, id := range evicted {
		delete(p.neighbors, id)
		p.log.Debug().Uint64("neighbor", uint64(id)).Msg("evicted lazy neighbor")
	}
	return evicted
}

// RefreshContributions rotates every neighbor's contribution window at the
// end of a batch: the oldest slot is evicted and a fresh zero slot opens for
// the next batch.
func (p *Peer) RefreshContributions() {
	for _, neighbor := range p.neighbors {
		neighbor.Contribution.Rotate()
	}
}

// RankNeighbors scores all neighbors and returns them sorted by descending
// score, together with the evicted lazy neighbors (see ScoreNeighbors). Ties
// break by peer sequence number so that runs are reproducible.
func (p *Peer) RankNeighbors() (ranked []mesh.PeerID, evicted []mesh.PeerID) {
	evicted = p.ScoreNeighbors()
	return p.rankByScore(), evicted
}

// rankByScore sorts the current neighbor set by cached score, descending,
// ties by ID ascending.
func (p *Peer) rankByScore() []mesh.PeerID {
	ranked := p.NeighborIDs()
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := p.neighbors[ranked[i]].Score, p.neighbors[ranked[j]].Score
		if si != sj {
			return si > sj
		}
		return ranked[i] < ranked[j]
	})
	return ranked
}

// ShareOrders selects the orders to share and the beneficiaries to share
// them with, independently; the driver delivers the Cartesian product of the
// two sets. Free riders share nothing and only clear their new-order set.
// The new-order set is cleared once the share set is captured, so the
// selected orders count as old in future batches. Like StoreOrders, calling
// it off the batch boundary is an exception.
func (p *Peer) ShareOrders() (orders []mesh.OrderID, beneficiaries []mesh.PeerID, err error) {
	if (p.localClock-p.birthTime)%p.engine.Params.Batch != 0 {
		return nil, nil, fmt.Errorf("share decision of peer %d invoked off the batch boundary (clock %d, birth %d, batch %d)",
			p.id, p.localClock, p.birthTime, p.engine.Params.Batch)
	}

	if p.IsFreeRider() {
		p.newOrders = make(map[mesh.OrderID]struct{})
		return nil, nil, nil
	}

	newOrders := p.NewOrderIDs()
	oldOrders := make([]mesh.OrderID, 0, len(p.stored))
	for id := range p.stored {
		if _, ok := p.newOrders[id]; !ok {
			oldOrders = append(oldOrders, id)
		}
	}
	slices.Sort(oldOrders)

	orders = p.engine.Share.SelectOrders(newOrders, oldOrders, p.rng)

	// the shared orders become old for future batches; the transmission set
	// is already captured above
	p.newOrders = make(map[mesh.OrderID]struct{})

	age := p.localClock - p.birthTime
	scoreOf := func(id mesh.PeerID) float64 { return p.neighbors[id].Score }
	beneficiaries = p.engine.Beneficiary.SelectBeneficiaries(age, p.rankByScore(), scoreOf, p.rng)

	return orders, beneficiaries, nil
}

// DelOrder drops every reference the peer has to the given order: the
// pending copies, the stored copy and the new-order mark. The order's
// holder/hesitator sets are updated accordingly.
func (p *Peer) DelOrder(order *mesh.Order) error {
	if _, ok := p.pending[order.ID]; ok {
		if err := order.RemoveHesitator(p.id); err != nil {
			return fmt.Errorf("could not release pending reference: %w", err)
		}
		delete(p.pending, order.ID)
		delete(p.orders, order.ID)
	}
	if _, ok := p.stored[order.ID]; ok {
		if err := order.RemoveHolder(p.id); err != nil {
			return fmt.Errorf("could not release stored reference: %w", err)
		}
		delete(p.stored, order.ID)
		delete(p.newOrders, order.ID)
		delete(p.orders, order.ID)
	}
	return nil
}

func sortedPendingIDs(pending map[mesh.OrderID][]*mesh.OrderInfo) []mesh.OrderID {
	ids := make([]mesh.OrderID, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
