// Package performance evaluates a finished run: how far orders spread
// through the mesh, and how satisfied peers are with what they received.
// Like the engine, each metric is a typed policy variant chosen at
// configuration time.
//
// "Not applicable" is an explicit outcome here, not a swallowed exception: a
// metric that has nothing to measure fails with ErrNothingToMeasure, which
// the runner records as an absent result; any other error aborts the
// evaluation.
package performance

import (
	"errors"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"github.com/relaymesh/meshsim/model/mesh"
)

// ErrNothingToMeasure indicates that a metric's input is empty (no peers or
// no orders), so the metric is not applicable to this run.
var ErrNothingToMeasure = errors.New("nothing to measure")

// PeerView is the read-only view of a peer that measurements need.
type PeerView interface {
	ID() mesh.PeerID
	BirthTime() int
	StoredOrderIDs() []mesh.OrderID
}

// Parameters tune the aggregation of measurements.
type Parameters struct {
	// MaxAgeToTrack is the oldest order age (in ticks) considered.
	MaxAgeToTrack int
	// AdultAge is the age beyond which a peer is evaluated for satisfaction;
	// younger peers have received too few orders to be meaningful.
	AdultAge int
	// StatisticalWindow aggregates orders of nearby ages into one bucket, so
	// that sparse arrivals still produce usable statistics.
	StatisticalWindow int
}

// Executions selects which measurements to run.
type Executions struct {
	OrderSpreading        bool
	NormalSatisfaction    bool
	FreeRiderSatisfaction bool
	Fairness              bool
}

// Result holds the measurements of one run. A nil field means the
// measurement was not executed or not applicable.
type Result struct {
	// OrderSpreading is the spreading ratio per statistical age window; a
	// nil entry marks a window without live orders.
	OrderSpreading        []*float64
	NormalSatisfaction    []float64
	FreeRiderSatisfaction []float64
	Fairness              *float64
}

// Measurer runs the configured measurements over a run's final state.
type Measurer struct {
	log          zerolog.Logger
	params       Parameters
	executions   Executions
	spreading    SpreadingPolicy
	satisfaction SatisfactionPolicy
	fairness     FairnessPolicy
}

// NewMeasurer validates parameters and assembles a Measurer.
func NewMeasurer(
	log zerolog.Logger,
	params Parameters,
	executions Executions,
	spreading SpreadingPolicy,
	satisfaction SatisfactionPolicy,
	fairness FairnessPolicy,
) (*Measurer, error) {
	if params.MaxAgeToTrack <= 0 || params.StatisticalWindow <= 0 || params.AdultAge < 0 {
		return nil, mesh.NewInvalidParameterErrorf("performance parameters invalid: %+v", params)
	}
	if spreading == nil || satisfaction == nil || fairness == nil {
		return nil, mesh.NewInvalidParameterErrorf("all measurement policies must be configured")
	}
	return &Measurer{
		log:          log.With().Str("component", "performance").Logger(),
		params:       params,
		executions:   executions,
		spreading:    spreading,
		satisfaction: satisfaction,
		fairness:     fairness,
	}, nil
}

// Run evaluates the enabled measurements. peers is the full population,
// normal and freeRiders the per-type subsets, orders the live order set.
func (m *Measurer) Run(now int, peers, normal, freeRiders []PeerView, orders []*mesh.Order) (Result, error) {
	var result Result

	if m.executions.OrderSpreading {
		spreading, err := m.spreading.Measure(now, peers, orders, m.params)
		switch {
		case errors.Is(err, ErrNothingToMeasure):
			m.log.Debug().Msg("order spreading not applicable")
		case err != nil:
			return Result{}, err
		default:
			result.OrderSpreading = spreading
		}
	}

	if m.executions.NormalSatisfaction {
		satisfaction, err := m.measureSatisfaction(now, normal, orders)
		if err != nil {
			return Result{}, err
		}
		result.NormalSatisfaction = satisfaction
	}

	if m.executions.FreeRiderSatisfaction {
		satisfaction, err := m.measureSatisfaction(now, freeRiders, orders)
		if err != nil {
			return Result{}, err
		}
		result.FreeRiderSatisfaction = satisfaction
	}

	if m.executions.Fairness {
		fairness, err := m.fairness.Measure(peers, orders)
		switch {
		case errors.Is(err, ErrNothingToMeasure):
			m.log.Debug().Msg("fairness not applicable")
		case err != nil:
			return Result{}, err
		default:
			result.Fairness = &fairness
		}
	}

	return result, nil
}

func (m *Measurer) measureSatisfaction(now int, peers []PeerView, orders []*mesh.Order) ([]float64, error) {
	satisfaction, err := m.satisfaction.Measure(now, peers, orders, m.params)
	if errors.Is(err, ErrNothingToMeasure) {
		m.log.Debug().Msg("satisfaction not applicable")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return satisfaction, nil
}

// SpreadingPolicy measures how orders spread over the peer population.
type SpreadingPolicy interface {
	Measure(now int, peers []PeerView, orders []*mesh.Order, params Parameters) ([]*float64, error)
}

// RatioSpreading reports, per statistical age window, the mean fraction of
// the peer population holding the window's orders.
type RatioSpreading struct{}

var _ SpreadingPolicy = (*RatioSpreading)(nil)

func (RatioSpreading) Measure(now int, peers []PeerView, orders []*mesh.Order, params Parameters) ([]*float64, error) {
	if len(peers) == 0 || len(orders) == 0 {
		return nil, ErrNothingToMeasure
	}

	inPopulation := make(map[mesh.PeerID]struct{}, len(peers))
	for _, p := range peers {
		inPopulation[p.ID()] = struct{}{}
	}

	buckets := make([][]float64, numWindows(params))
	for _, order := range orders {
		age := now - order.BirthTime
		if age < 0 || age >= params.MaxAgeToTrack {
			continue
		}
		holding := 0
		for _, holder := range order.Holders() {
			if _, ok := inPopulation[holder]; ok {
				holding++
			}
		}
		idx := age / params.StatisticalWindow
		buckets[idx] = append(buckets[idx], float64(holding)/float64(len(peers)))
	}

	ratios := make([]*float64, len(buckets))
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		mean, err := stats.Mean(bucket)
		if err != nil {
			return nil, err
		}
		v := mean
		ratios[i] = &v
	}
	return ratios, nil
}

// SatisfactionPolicy measures how content individual peers are with the
// orders they received.
type SatisfactionPolicy interface {
	Measure(now int, peers []PeerView, orders []*mesh.Order, params Parameters) ([]float64, error)
}

// NeutralSatisfaction weighs every order equally: an adult peer's
// satisfaction is the mean, over age windows with any live orders, of the
// fraction of the window's orders the peer stores. Peers without any
// observable window are skipped.
type NeutralSatisfaction struct{}

var _ SatisfactionPolicy = (*NeutralSatisfaction)(nil)

func (NeutralSatisfaction) Measure(now int, peers []PeerView, orders []*mesh.Order, params Parameters) ([]float64, error) {
	if len(peers) == 0 || len(orders) == 0 {
		return nil, ErrNothingToMeasure
	}

	// total number of live orders per age window
	totals := make([]int, numWindows(params))
	live := make(map[mesh.OrderID]struct{}, len(orders))
	orderAge := make(map[mesh.OrderID]int, len(orders))
	for _, order := range orders {
		live[order.ID] = struct{}{}
		age := now - order.BirthTime
		orderAge[order.ID] = age
		if age >= 0 && age < params.MaxAgeToTrack {
			totals[age/params.StatisticalWindow]++
		}
	}

	var satisfactions []float64
	for _, p := range peers {
		if now-p.BirthTime() < params.AdultAge {
			continue
		}

		held := make([]int, numWindows(params))
		for _, orderID := range p.StoredOrderIDs() {
			if _, ok := live[orderID]; !ok {
				continue
			}
			age := orderAge[orderID]
			if age >= 0 && age < params.MaxAgeToTrack {
				held[age/params.StatisticalWindow]++
			}
		}

		var ratios []float64
		for i, total := range totals {
			if total > 0 {
				ratios = append(ratios, float64(held[i])/float64(total))
			}
		}
		if len(ratios) == 0 {
			// nothing observable for this peer
			continue
		}
		mean, err := stats.Mean(ratios)
		if err != nil {
			return nil, err
		}
		satisfactions = append(satisfactions, mean)
	}
	return satisfactions, nil
}

// FairnessPolicy measures how evenly the system treats a peer group.
type FairnessPolicy interface {
	Measure(peers []PeerView, orders []*mesh.Order) (float64, error)
}

// DummyFairness is the placeholder fairness metric, always zero.
type DummyFairness struct{}

var _ FairnessPolicy = (*DummyFairness)(nil)

func (DummyFairness) Measure(peers []PeerView, _ []*mesh.Order) (float64, error) {
	if len(peers) == 0 {
		return 0, ErrNothingToMeasure
	}
	return 0, nil
}

func numWindows(params Parameters) int {
	return (params.MaxAgeToTrack-1)/params.StatisticalWindow + 1
}
