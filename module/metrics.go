// Package module defines the interfaces of shared infrastructure consumed
// across the simulation: currently the metrics surface.
package module

// SimulationMetrics exposes counters for the observable events of a single
// simulation run. Implementations must be cheap: the driver calls these
// inside the tick loop.
type SimulationMetrics interface {
	// OnPeerArrived is called when a peer of the given type joins.
	OnPeerArrived(peerType string)
	// OnPeerDeparted is called when a peer leaves the system.
	OnPeerDeparted()
	// OnOrderArrived is called when an order of the given type is created.
	OnOrderArrived(orderType string)
	// OnOrderPurged is called when an invalid order is swept from the system.
	OnOrderPurged()
	// OnOrdersShared is called with the size of each peer's transmission set
	// at the end of a batch.
	OnOrdersShared(count int)
	// OnNeighborEvicted is called when the scoring policy evicts a lazy
	// neighbor.
	OnNeighborEvicted()
	// OnTickCompleted is called at the end of every tick.
	OnTickCompleted()
}
