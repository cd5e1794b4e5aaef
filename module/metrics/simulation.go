package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaymesh/meshsim/module"
)

const (
	namespaceSimulation = "meshsim"
	subsystemRun        = "run"
)

// SimulationCollector implements module.SimulationMetrics on top of
// prometheus counters. One collector observes one run; register it with a
// per-run registry when running many simulations in parallel.
type SimulationCollector struct {
	peersArrived     *prometheus.CounterVec
	peersDeparted    prometheus.Counter
	ordersArrived    *prometheus.CounterVec
	ordersPurged     prometheus.Counter
	ordersShared     prometheus.Counter
	neighborsEvicted prometheus.Counter
	ticksCompleted   prometheus.Counter
}

var _ module.SimulationMetrics = (*SimulationCollector)(nil)

// NewSimulationCollector creates the collector and registers its counters
// with the given registerer.
func NewSimulationCollector(registerer prometheus.Registerer) *SimulationCollector {
	sc := &SimulationCollector{
		peersArrived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSimulation,
			Subsystem: subsystemRun,
			Name:      "peers_arrived_total",
			Help:      "number of peers that joined the mesh, by peer type",
		}, []string{LabelPeerType}),
		peersDeparted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSimulation,
			Subsystem: subsystemRun,
			Name:      "peers_departed_total",
			Help:      "number of peers that left the mesh",
		}),
		ordersArrived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSimulation,
			Subsystem: subsystemRun,
			Name:      "orders_arrived_total",
			Help:      "number of orders injected into the mesh, by order type",
		}, []string{LabelOrderType}),
		ordersPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSimulation,
			Subsystem: subsystemRun,
			Name:      "orders_purged_total",
			Help:      "number of invalid orders swept from the mesh",
		}),
		ordersShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSimulation,
			Subsystem: subsystemRun,
			Name:      "orders_shared_total",
			Help:      "number of orders put on the wire by sharing peers",
		}),
		neighborsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSimulation,
			Subsystem: subsystemRun,
			Name:      "neighbors_evicted_total",
			Help:      "number of neighbors evicted for laziness",
		}),
		ticksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSimulation,
			Subsystem: subsystemRun,
			Name:      "ticks_completed_total",
			Help:      "number of completed simulation ticks",
		}),
	}

	registerer.MustRegister(
		sc.peersArrived,
		sc.peersDeparted,
		sc.ordersArrived,
		sc.ordersPurged,
		sc.ordersShared,
		sc.neighborsEvicted,
		sc.ticksCompleted,
	)
	return sc
}

func (sc *SimulationCollector) OnPeerArrived(peerType string) {
	sc.peersArrived.WithLabelValues(peerType).Inc()
}

func (sc *SimulationCollector) OnPeerDeparted() {
	sc.peersDeparted.Inc()
}

func (sc *SimulationCollector) OnOrderArrived(orderType string) {
	sc.ordersArrived.WithLabelValues(orderType).Inc()
}

func (sc *SimulationCollector) OnOrderPurged() {
	sc.ordersPurged.Inc()
}

func (sc *SimulationCollector) OnOrdersShared(count int) {
	sc.ordersShared.Add(float64(count))
}

func (sc *SimulationCollector) OnNeighborEvicted() {
	sc.neighborsEvicted.Inc()
}

func (sc *SimulationCollector) OnTickCompleted() {
	sc.ticksCompleted.Inc()
}
