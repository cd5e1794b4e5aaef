package scenario

import (
	"math"
	"math/rand"

	"github.com/relaymesh/meshsim/model/mesh"
)

// EventRate parameterizes the random process that generates the number of
// events (peer or order arrivals and departures) per tick.
type EventRate interface {
	// Validate checks the process parameters; violations are
	// configuration-time fatal.
	Validate() error
	// Counts draws the number of events for each of n consecutive ticks.
	Counts(rng *rand.Rand, n int) []int
}

// PoissonRate generates independent Poisson-distributed event counts with
// the given expected rate per tick.
type PoissonRate float64

var _ EventRate = PoissonRate(0)

func (r PoissonRate) Validate() error {
	if r < 0 {
		return mesh.NewInvalidParameterErrorf("poisson rate must be non-negative, got %f", float64(r))
	}
	return nil
}

func (r PoissonRate) Counts(rng *rand.Rand, n int) []int {
	counts := make([]int, n)
	for i := range counts {
		counts[i] = poisson(rng, float64(r))
	}
	return counts
}

// poisson draws one Poisson-distributed count by Knuth's method, which is
// adequate for the small per-tick rates the scenarios use.
func poisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

// HawkesRate generates self-exciting event counts: the expected arrival rate
// at time t is
//
//	lambda(t) = A + (Lambda0 - A) * exp(-Delta * t)
//	          + sum over past events T_i < t of Gamma * exp(-Delta * (t - T_i))
//
// Counts realizes the process with the exact simulation method of Dassios
// and Zhao ("Exact simulation of Hawkes process with exponentially decaying
// intensity", Electron. Commun. Probab. 18, 2013).
type HawkesRate struct {
	A       float64
	Lambda0 float64
	Delta   float64
	Gamma   float64
}

var _ EventRate = HawkesRate{}

// NewHawkesRate validates the process parameters up front.
func NewHawkesRate(a, lambda0, delta, gamma float64) (HawkesRate, error) {
	rate := HawkesRate{A: a, Lambda0: lambda0, Delta: delta, Gamma: gamma}
	if err := rate.Validate(); err != nil {
		return HawkesRate{}, err
	}
	return rate, nil
}

func (r HawkesRate) Validate() error {
	if !(r.A >= 0 && r.Lambda0 >= r.A && r.Delta > 0 && r.Gamma >= 0) {
		return mesh.NewInvalidParameterErrorf(
			"hawkes process requires a >= 0, lambda_0 >= a, delta > 0, gamma >= 0, got a=%f lambda_0=%f delta=%f gamma=%f",
			r.A, r.Lambda0, r.Delta, r.Gamma)
	}
	return nil
}

func (r HawkesRate) Counts(rng *rand.Rand, n int) []int {
	// event timestamps, starting with a sentinel at t=0
	last := 0.0
	lambdaPlus := r.Lambda0

	counts := make([]int, n)
	for {
		// next event is the earlier of the baseline process and the decaying
		// excitation process
		s0 := math.Inf(1)
		if r.A > 0 {
			s0 = -1 / r.A * math.Log(rng.Float64())
		}

		tau := s0
		d := 1 + r.Delta*math.Log(rng.Float64())/(lambdaPlus-r.A)
		if lambdaPlus == r.A {
			d = math.Inf(-1)
		}
		if d > 0 {
			s1 := -1 / r.Delta * math.Log(d)
			if s1 < tau {
				tau = s1
			}
		}

		next := last + tau
		if next >= float64(n) {
			return counts
		}
		lambdaMinus := (lambdaPlus-r.A)*math.Exp(-r.Delta*tau) + r.A
		lambdaPlus = lambdaMinus + r.Gamma
		counts[int(next)]++
		last = next
	}
}
