// Package driver executes one simulation run: it owns the global peer and
// order registries, turns the scenario's stochastic event streams into
// concrete arrivals and departures, ticks every peer's clock in lockstep and
// relays the messages peers exchange at their batch boundaries.
package driver

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/relaymesh/meshsim/model/mesh"
	"github.com/relaymesh/meshsim/module"
	"github.com/relaymesh/meshsim/module/metrics"
	"github.com/relaymesh/meshsim/simulation/engine"
	"github.com/relaymesh/meshsim/simulation/peer"
	"github.com/relaymesh/meshsim/simulation/performance"
	"github.com/relaymesh/meshsim/simulation/scenario"
)

// Config carries the inputs of one run. Metrics may be left nil, in which
// case a no-op collector is used.
type Config struct {
	Logger   zerolog.Logger
	Seed     int64
	Engine   *engine.Engine
	Scenario *scenario.Scenario
	Measurer *performance.Measurer
	Metrics  module.SimulationMetrics

	// NoveltyUpdate makes every internal relay bump the copy's novelty
	// counter, so the counter tracks hop distance from the creator.
	NoveltyUpdate bool
}

// SingleRun is the discrete-event loop of one simulation. It is not safe for
// concurrent use; parallel runs each get their own SingleRun and seed.
type SingleRun struct {
	log      zerolog.Logger
	rng      *rand.Rand
	engine   *engine.Engine
	scenario *scenario.Scenario
	measurer *performance.Measurer
	metrics  module.SimulationMetrics

	noveltyUpdate bool

	curTime int

	// sequence counters; the zero value is reserved for "no peer"
	latestPeerSeq  uint64
	latestOrderSeq uint64

	peers        map[mesh.PeerID]*peer.Peer
	peersByType  map[mesh.PeerType]map[mesh.PeerID]struct{}
	orders       map[mesh.OrderID]*mesh.Order
	ordersByType map[mesh.OrderType]map[mesh.OrderID]struct{}
}

// NewSingleRun assembles a run from its configuration.
func NewSingleRun(cfg Config) (*SingleRun, error) {
	if cfg.Engine == nil {
		return nil, mesh.NewInvalidParameterErrorf("engine must be configured")
	}
	if cfg.Scenario == nil {
		return nil, mesh.NewInvalidParameterErrorf("scenario must be configured")
	}
	if cfg.Measurer == nil {
		return nil, mesh.NewInvalidParameterErrorf("measurer must be configured")
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	r := &SingleRun{
		log:           cfg.Logger.With().Str("component", "driver").Int64("seed", cfg.Seed).Logger(),
		rng:           rand.New(rand.NewSource(cfg.Seed)),
		engine:        cfg.Engine,
		scenario:      cfg.Scenario,
		measurer:      cfg.Measurer,
		metrics:       collector,
		noveltyUpdate: cfg.NoveltyUpdate,
		peers:         make(map[mesh.PeerID]*peer.Peer),
		peersByType:   make(map[mesh.PeerType]map[mesh.PeerID]struct{}),
		orders:        make(map[mesh.OrderID]*mesh.Order),
		ordersByType:  make(map[mesh.OrderType]map[mesh.OrderID]struct{}),
	}
	for _, peerType := range cfg.Scenario.PeerTypeNames() {
		r.peersByType[peerType] = make(map[mesh.PeerID]struct{})
	}
	for _, orderType := range cfg.Scenario.OrderTypeNames() {
		r.ordersByType[orderType] = make(map[mesh.OrderID]struct{})
	}
	return r, nil
}

// CurTime returns the global clock.
func (r *SingleRun) CurTime() int { return r.curTime }

// NumPeers returns the current population size.
func (r *SingleRun) NumPeers() int { return len(r.peers) }

// NumOrders returns the number of live orders.
func (r *SingleRun) NumOrders() int { return len(r.orders) }

// Peer looks up a live peer by ID.
func (r *SingleRun) Peer(id mesh.PeerID) (*peer.Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// Order looks up a live order by ID.
func (r *SingleRun) Order(id mesh.OrderID) (*mesh.Order, bool) {
	o, ok := r.orders[id]
	return o, ok
}

// Execute runs the whole simulation and returns the performance measurements
// over the final state. Any error is an exception; the run's state is not
// usable afterwards.
func (r *SingleRun) Execute() (performance.Result, error) {
	if err := r.createInitialPeersAndOrders(); err != nil {
		return performance.Result{}, fmt.Errorf("could not set up initial state: %w", err)
	}

	arrivals, departures, orderArrivals, orderCancels := r.generateEvents()
	for i := range arrivals {
		err := r.OperationsInATimeRound(arrivals[i], departures[i], orderArrivals[i], orderCancels[i])
		if err != nil {
			return performance.Result{}, fmt.Errorf("tick %d failed: %w", r.curTime, err)
		}
		r.curTime++
		r.metrics.OnTickCompleted()
	}

	r.log.Info().
		Int("peers", len(r.peers)).
		Int("orders", len(r.orders)).
		Int("ticks", r.curTime).
		Msg("simulation finished")

	return r.measure()
}

// createInitialPeersAndOrders builds the population that exists before the
// event phases start. The peers arrive logically at once but their birth
// times are spread uniformly over the birth time span, so their batch
// boundaries interleave; all clocks are then aligned to the end of the span.
func (r *SingleRun) createInitialPeersAndOrders() error {
	params := r.scenario.Params

	for _, peerType := range r.scenario.SamplePeerTypes(r.rng, params.InitSize) {
		if _, err := r.PeerArrival(peerType); err != nil {
			return err
		}
	}

	span := params.BirthTimeSpan
	for _, id := range r.sortedPeerIDs() {
		p := r.peers[id]
		birth := r.rng.Intn(span)
		p.SetBirthTime(birth, span-1)
		for _, orderID := range p.StoredOrderIDs() {
			r.orders[orderID].BirthTime = birth
			if info, ok := p.StoredInfo(orderID); ok {
				info.ArrivalTime = birth
			}
		}
	}

	for _, id := range r.sortedPeerIDs() {
		if err := r.CheckAddingNeighbor(r.peers[id]); err != nil {
			return err
		}
	}

	if err := r.UpdateGlobalOrderbook(nil); err != nil {
		return err
	}

	r.curTime = span
	return nil
}

// generateEvents draws the per-tick event counts for the growth and stable
// phases up front, one stream per event kind.
func (r *SingleRun) generateEvents() (arrivals, departures, orderArrivals, orderCancels []int) {
	for _, phase := range []scenario.Phase{r.scenario.Params.Growth, r.scenario.Params.Stable} {
		arrivals = append(arrivals, phase.PeerArrival.Counts(r.rng, phase.Rounds)...)
		departures = append(departures, phase.PeerDeparture.Counts(r.rng, phase.Rounds)...)
		orderArrivals = append(orderArrivals, phase.OrderArrival.Counts(r.rng, phase.Rounds)...)
		orderCancels = append(orderCancels, phase.OrderCancel.Counts(r.rng, phase.Rounds)...)
	}
	return arrivals, departures, orderArrivals, orderCancels
}

// PeerArrival creates a peer of the given type, together with its initial
// orderbook, and registers both. Free riders arrive with an empty orderbook
// regardless of the configured distributions.
func (r *SingleRun) PeerArrival(peerType mesh.PeerType) (*peer.Peer, error) {
	r.latestPeerSeq++
	peerID := mesh.PeerID(r.latestPeerSeq)

	var initOrders []*mesh.Order
	if peerType != mesh.PeerTypeFreeRider {
		counts, err := r.scenario.SampleInitOrderCounts(r.rng, peerType)
		if err != nil {
			return nil, err
		}
		for _, orderType := range r.scenario.OrderTypeNames() {
			for i := 0; i < counts[orderType]; i++ {
				order, err := r.newOrder(peerID, orderType)
				if err != nil {
					return nil, err
				}
				initOrders = append(initOrders, order)
			}
		}
	}

	p, err := peer.New(peer.Config{
		Logger:     r.log,
		Engine:     r.engine,
		RNG:        r.rng,
		ID:         peerID,
		BirthTime:  r.curTime,
		Type:       peerType,
		InitOrders: initOrders,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create peer %d: %w", peerID, err)
	}

	r.peers[peerID] = p
	byType, ok := r.peersByType[peerType]
	if !ok {
		return nil, mesh.NewInvalidParameterErrorf("peer type %q not part of the scenario", peerType)
	}
	byType[peerID] = struct{}{}
	r.metrics.OnPeerArrived(string(peerType))

	return p, nil
}

// PeerDeparture removes a peer from the system: its order references are
// released, its neighbors are notified and it is dropped from the registries.
func (r *SingleRun) PeerDeparture(p *peer.Peer) error {
	refs := p.StoredOrderIDs()
	refs = append(refs, p.PendingOrderIDs()...)
	for _, orderID := range refs {
		order, ok := r.orders[orderID]
		if !ok {
			return fmt.Errorf("peer %d references unknown order %d", p.ID(), orderID)
		}
		if err := p.DelOrder(order); err != nil {
			return fmt.Errorf("could not release orders of departing peer %d: %w", p.ID(), err)
		}
	}

	for _, neighborID := range p.NeighborIDs() {
		r.peers[neighborID].AcceptNeighborCancellation(p.ID())
	}

	delete(r.peers, p.ID())
	delete(r.peersByType[p.Type()], p.ID())
	r.metrics.OnPeerDeparted()
	return nil
}

// OrderArrival creates an order of the given type with the given creator and
// submits it to the creator from outside the mesh.
func (r *SingleRun) OrderArrival(creator *peer.Peer, orderType mesh.OrderType) (*mesh.Order, error) {
	order, err := r.newOrder(creator.ID(), orderType)
	if err != nil {
		return nil, err
	}
	if err := creator.ReceiveOrderExternal(order); err != nil {
		return nil, fmt.Errorf("could not submit order %d to its creator: %w", order.ID, err)
	}
	return order, nil
}

// newOrder draws the order's properties from the scenario and registers the
// order globally.
func (r *SingleRun) newOrder(creator mesh.PeerID, orderType mesh.OrderType) (*mesh.Order, error) {
	expiration, settlement, cancellation, err := r.scenario.SampleOrderProperties(r.rng, orderType)
	if err != nil {
		return nil, err
	}

	r.latestOrderSeq++
	orderID := mesh.OrderID(r.latestOrderSeq)
	order := mesh.NewOrder(orderID, creator, r.curTime, orderType, expiration, settlement, cancellation)

	r.orders[orderID] = order
	byType, ok := r.ordersByType[orderType]
	if !ok {
		return nil, mesh.NewInvalidParameterErrorf("order type %q not part of the scenario", orderType)
	}
	byType[orderID] = struct{}{}
	r.metrics.OnOrderArrived(string(orderType))

	return order, nil
}

// UpdateGlobalOrderbook marks the given orders canceled, runs the settlement
// stub over every live order, refreshes validity against the global clock and
// purges invalid orders from every peer and from the registries. An order
// with no references left anywhere is purged as well.
func (r *SingleRun) UpdateGlobalOrderbook(cancel []mesh.OrderID) error {
	for _, orderID := range cancel {
		order, ok := r.orders[orderID]
		if !ok {
			return fmt.Errorf("cannot cancel unknown order %d", orderID)
		}
		order.Canceled = true
	}

	for _, orderID := range r.sortedOrderIDs() {
		order := r.orders[orderID]
		r.scenario.Settle.UpdateSettledStatus(order, r.rng)
		order.UpdateValidStatus(r.curTime)
		if order.IsValid() {
			continue
		}
		for _, holder := range order.Holders() {
			if err := r.peers[holder].DelOrder(order); err != nil {
				return fmt.Errorf("could not purge order %d from holder %d: %w", orderID, holder, err)
			}
		}
		for _, hesitator := range order.Hesitators() {
			if err := r.peers[hesitator].DelOrder(order); err != nil {
				return fmt.Errorf("could not purge order %d from hesitator %d: %w", orderID, hesitator, err)
			}
		}
		delete(r.orders, orderID)
		delete(r.ordersByType[order.Type], orderID)
		r.metrics.OnOrderPurged()
	}
	return nil
}

// CheckAddingNeighbor tops the peer's neighborhood up when it has dropped
// below the minimum: the peer asks for up to the maximum and keeps asking
// until it reaches the minimum or runs out of candidates.
func (r *SingleRun) CheckAddingNeighbor(p *peer.Peer) error {
	cur := p.NumNeighbors()
	if cur >= r.engine.Params.NeighborMin {
		return nil
	}
	demand := r.engine.Params.NeighborMax - cur
	minimum := r.engine.Params.NeighborMin - cur
	return r.addNewLinks(p, demand, minimum)
}

// addNewLinks tries to establish at least minimum and at most demand new
// relationships for the requester. Candidates come from the recommendation
// policy; the requester's willingness is the request itself, so only the
// candidate decides, and an accepted relationship is registered on both sides
// in the same call.
func (r *SingleRun) addNewLinks(requester *peer.Peer, demand, minimum int) error {
	if demand <= 0 || minimum < 0 || minimum > demand {
		return mesh.NewInvalidParameterErrorf("invalid link demand: demand=%d minimum=%d", demand, minimum)
	}

	pool := make([]mesh.PeerID, 0, len(r.peers)-1)
	for _, id := range r.sortedPeerIDs() {
		if id != requester.ID() && !requester.HasNeighbor(id) {
			pool = append(pool, id)
		}
	}

	selectionSize := demand
	linksAdded := 0
	for linksAdded < minimum && len(pool) > 0 {
		selected, err := r.engine.Recommendation.Recommend(requester.ID(), pool, selectionSize, r.rng)
		if errors.Is(err, mesh.ErrEmptyPool) {
			break
		}
		if err != nil {
			return fmt.Errorf("recommendation failed for peer %d: %w", requester.ID(), err)
		}

		addedThisRound := 0
		for _, candidateID := range selected {
			candidate := r.peers[candidateID]
			accepts, err := candidate.ShouldAcceptNeighborRequest(requester.ID())
			if err != nil {
				return err
			}
			if !accepts {
				continue
			}
			if err := requester.AddNeighbor(candidateID); err != nil {
				return err
			}
			if err := candidate.AddNeighbor(requester.ID()); err != nil {
				return err
			}
			linksAdded++
			addedThisRound++
		}

		taken := make(map[mesh.PeerID]struct{}, len(selected))
		for _, id := range selected {
			taken[id] = struct{}{}
		}
		remaining := pool[:0]
		for _, id := range pool {
			if _, ok := taken[id]; !ok {
				remaining = append(remaining, id)
			}
		}
		pool = remaining
		selectionSize -= addedThisRound
	}
	return nil
}

// OperationsInATimeRound drives one tick: departures, clock advance,
// arrivals, order creation, cancellation and purge, neighborhood maintenance
// and, for every peer at its batch boundary, the store/score/share sequence.
func (r *SingleRun) OperationsInATimeRound(peerArrivals, peerDepartures, orderArrivals, orderCancels int) error {
	// peers leave
	departing := samplePeerIDs(r.rng, r.sortedPeerIDs(), peerDepartures)
	for _, id := range departing {
		if err := r.PeerDeparture(r.peers[id]); err != nil {
			return err
		}
	}

	// surviving peers' clocks tick in lockstep with the global clock
	for _, id := range r.sortedPeerIDs() {
		if clock := r.peers[id].AdvanceClock(); clock != r.curTime {
			return fmt.Errorf("local clock of peer %d drifted: local %d, global %d", id, clock, r.curTime)
		}
	}

	// peers join
	for _, peerType := range r.scenario.SamplePeerTypes(r.rng, peerArrivals) {
		if _, err := r.PeerArrival(peerType); err != nil {
			return err
		}
	}

	if len(r.peers) == 0 {
		r.log.Debug().Int("tick", r.curTime).Msg("no peers in the system, tick is a no-op")
		return nil
	}

	// existing normal peers create new orders, weighted by the configured
	// orderbook capacity of their type; a population of only free riders
	// creates none
	creators := r.normalPeerIDs()
	if len(creators) == 0 {
		orderArrivals = 0
	}
	for _, orderType := range r.scenario.SampleOrderTypes(r.rng, orderArrivals) {
		creator := r.peers[r.sampleCreator(creators, orderType)]
		if _, err := r.OrderArrival(creator, orderType); err != nil {
			return err
		}
	}

	// order cancellation, settlement and purge
	cancel := sampleOrderIDs(r.rng, r.sortedOrderIDs(), orderCancels)
	if err := r.UpdateGlobalOrderbook(cancel); err != nil {
		return err
	}

	// neighborhood maintenance
	for _, id := range r.sortedPeerIDs() {
		if err := r.CheckAddingNeighbor(r.peers[id]); err != nil {
			return err
		}
	}

	// batch operations for peers at their batch boundary
	for _, id := range r.sortedPeerIDs() {
		p, ok := r.peers[id]
		if !ok {
			// evicted relationships never remove peers, only edges; a missing
			// peer here is a registry bug
			return fmt.Errorf("peer %d disappeared mid-tick", id)
		}
		if (r.curTime-p.BirthTime())%r.engine.Params.Batch != 0 {
			continue
		}
		if err := r.runBatchOperations(p); err != nil {
			return err
		}
	}
	return nil
}

// runBatchOperations executes one peer's end-of-batch sequence: the storage
// decision, neighbor scoring with eviction relay, the contribution window
// rotation and the order sharing with delivery to the beneficiaries.
func (r *SingleRun) runBatchOperations(p *peer.Peer) error {
	if err := p.StoreOrders(); err != nil {
		return err
	}

	for _, evictedID := range p.ScoreNeighbors() {
		if counterpart, ok := r.peers[evictedID]; ok {
			counterpart.AcceptNeighborCancellation(p.ID())
		}
		r.metrics.OnNeighborEvicted()
	}

	p.RefreshContributions()

	orders, beneficiaries, err := p.ShareOrders()
	if err != nil {
		return err
	}
	for _, beneficiaryID := range beneficiaries {
		beneficiary, ok := r.peers[beneficiaryID]
		if !ok {
			return fmt.Errorf("beneficiary %d of peer %d is not in the system", beneficiaryID, p.ID())
		}
		for _, orderID := range orders {
			order, ok := r.orders[orderID]
			if !ok {
				return fmt.Errorf("peer %d shares unknown order %d", p.ID(), orderID)
			}
			if err := beneficiary.ReceiveOrderInternal(p, order, r.noveltyUpdate); err != nil {
				return fmt.Errorf("delivery from peer %d to peer %d failed: %w", p.ID(), beneficiaryID, err)
			}
		}
	}
	r.metrics.OnOrdersShared(len(orders) * len(beneficiaries))
	return nil
}

// measure evaluates the performance metrics over the final state.
func (r *SingleRun) measure() (performance.Result, error) {
	peers := make([]performance.PeerView, 0, len(r.peers))
	var normal, freeRiders []performance.PeerView
	for _, id := range r.sortedPeerIDs() {
		p := r.peers[id]
		peers = append(peers, p)
		if p.IsFreeRider() {
			freeRiders = append(freeRiders, p)
		} else {
			normal = append(normal, p)
		}
	}

	orders := make([]*mesh.Order, 0, len(r.orders))
	for _, id := range r.sortedOrderIDs() {
		orders = append(orders, r.orders[id])
	}

	return r.measurer.Run(r.curTime, peers, normal, freeRiders, orders)
}

// sampleCreator picks the creator for a new order of the given type,
// weighting each candidate by the configured mean initial orderbook capacity
// of its peer type for that order type. When every capacity is zero the
// choice is uniform.
func (r *SingleRun) sampleCreator(pool []mesh.PeerID, orderType mesh.OrderType) mesh.PeerID {
	weights := make([]float64, len(pool))
	total := 0.0
	for i, id := range pool {
		property := r.scenario.Params.PeerTypes[r.peers[id].Type()]
		weights[i] = property.InitOrderbook[orderType].Mean
		total += weights[i]
	}
	if total == 0 {
		return pool[r.rng.Intn(len(pool))]
	}
	x := r.rng.Float64() * total
	for i, id := range pool {
		x -= weights[i]
		if x < 0 {
			return id
		}
	}
	return pool[len(pool)-1]
}

func (r *SingleRun) sortedPeerIDs() []mesh.PeerID {
	ids := make([]mesh.PeerID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *SingleRun) normalPeerIDs() []mesh.PeerID {
	ids := make([]mesh.PeerID, 0, len(r.peers))
	for id := range r.peers {
		if !r.peers[id].IsFreeRider() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (r *SingleRun) sortedOrderIDs() []mesh.OrderID {
	ids := make([]mesh.OrderID, 0, len(r.orders))
	for id := range r.orders {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// samplePeerIDs draws up to k IDs without replacement; fewer when the pool is
// smaller.
func samplePeerIDs(rng *rand.Rand, pool []mesh.PeerID, k int) []mesh.PeerID {
	if k > len(pool) {
		k = len(pool)
	}
	out := make([]mesh.PeerID, 0, k)
	for _, i := range rng.Perm(len(pool))[:k] {
		out = append(out, pool[i])
	}
	return out
}

func sampleOrderIDs(rng *rand.Rand, pool []mesh.OrderID, k int) []mesh.OrderID {
	if k > len(pool) {
		k = len(pool)
	}
	out := make([]mesh.OrderID, 0, k)
	for _, i := range rng.Perm(len(pool))[:k] {
		out = append(out, pool[i])
	}
	return out
}
