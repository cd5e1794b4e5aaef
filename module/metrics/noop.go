package metrics

import (
	"github.com/relaymesh/meshsim/module"
)

// NoopCollector discards all metrics. It is the default for tests and for
// batch runs where nobody scrapes.
type NoopCollector struct{}

var _ module.SimulationMetrics = (*NoopCollector)(nil)

func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (*NoopCollector) OnPeerArrived(string)  {}
func (*NoopCollector) OnPeerDeparted()       {}
func (*NoopCollector) OnOrderArrived(string) {}
func (*NoopCollector) OnOrderPurged()        {}
func (*NoopCollector) OnOrdersShared(int)    {}
func (*NoopCollector) OnNeighborEvicted()    {}
func (*NoopCollector) OnTickCompleted()      {}
