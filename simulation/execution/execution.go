// Package execution repeats a simulation setup over many independent runs,
// spreads the runs over a worker pool and reduces the per-run measurements
// into aggregate figures.
package execution

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/atomic"

	"github.com/relaymesh/meshsim/model/mesh"
	"github.com/relaymesh/meshsim/module"
	"github.com/relaymesh/meshsim/simulation/driver"
	"github.com/relaymesh/meshsim/simulation/engine"
	"github.com/relaymesh/meshsim/simulation/performance"
	"github.com/relaymesh/meshsim/simulation/scenario"
	"github.com/relaymesh/meshsim/simulation/stats"
)

// Config carries the shared setup plus the execution knobs. Engine, scenario
// and measurer hold no per-run state and are shared across workers; every run
// gets its own deterministically derived seed.
type Config struct {
	Logger   zerolog.Logger
	Engine   *engine.Engine
	Scenario *scenario.Scenario
	Measurer *performance.Measurer
	Metrics  module.SimulationMetrics

	NoveltyUpdate bool

	// Runs is the number of independent repetitions; Workers bounds how many
	// execute concurrently.
	Runs    int
	Workers int

	// Seed is the base seed; run i executes with Seed+i.
	Seed int64

	// DivisionUnit is the bucket width of the satisfaction density
	// distributions.
	DivisionUnit float64

	// Progress draws a terminal progress bar over the runs.
	Progress bool
}

// Aggregate is the reduction of all runs' measurements. Spreading fields are
// nil when no run produced a spreading series; density fields are nil when no
// run produced satisfaction figures.
type Aggregate struct {
	// BestSpreading and WorstSpreading are the series of the single best and
	// worst run; AverageSpreading averages all runs position-wise.
	BestSpreading    []*float64
	WorstSpreading   []*float64
	AverageSpreading []float64

	NormalSatisfactionDensity    []float64
	FreeRiderSatisfactionDensity []float64

	// AverageFairness averages the runs that measured fairness; nil when none
	// did.
	AverageFairness *float64
}

// Runner executes the configured number of runs and reduces their results.
type Runner struct {
	log zerolog.Logger
	cfg Config
}

// NewRunner validates the execution knobs and assembles a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Runs <= 0 {
		return nil, mesh.NewInvalidParameterErrorf("number of runs must be positive, got %d", cfg.Runs)
	}
	if cfg.Workers <= 0 {
		return nil, mesh.NewInvalidParameterErrorf("number of workers must be positive, got %d", cfg.Workers)
	}
	if cfg.DivisionUnit <= 0 || cfg.DivisionUnit > 1 {
		return nil, mesh.NewInvalidParameterErrorf("division unit must be in (0, 1], got %f", cfg.DivisionUnit)
	}
	if cfg.Engine == nil || cfg.Scenario == nil || cfg.Measurer == nil {
		return nil, mesh.NewInvalidParameterErrorf("engine, scenario and measurer must be configured")
	}
	return &Runner{
		log: cfg.Logger.With().Str("component", "execution").Logger(),
		cfg: cfg,
	}, nil
}

// Execute runs all repetitions and returns the aggregate. A failing run fails
// the whole execution; the errors of all failing runs are collected.
func (r *Runner) Execute() (Aggregate, error) {
	results := make([]performance.Result, r.cfg.Runs)

	var (
		mu        sync.Mutex
		errs      *multierror.Error
		completed = atomic.NewInt64(0)
	)

	var bar *progressbar.ProgressBar
	if r.cfg.Progress {
		bar = progressbar.Default(int64(r.cfg.Runs), "simulating")
	}

	pool := workerpool.New(r.cfg.Workers)
	for i := 0; i < r.cfg.Runs; i++ {
		i := i
		pool.Submit(func() {
			runID := uuid.New()
			seed := r.cfg.Seed + int64(i)
			log := r.log.With().Str("run_id", runID.String()).Logger()

			result, err := r.executeOne(log, seed)

			mu.Lock()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("run %d (seed %d) failed: %w", i, seed, err))
			} else {
				results[i] = result
			}
			mu.Unlock()

			log.Debug().
				Int64("seed", seed).
				Int64("completed", completed.Inc()).
				Msg("run finished")
			if bar != nil {
				_ = bar.Add(1)
			}
		})
	}
	pool.StopWait()

	if err := errs.ErrorOrNil(); err != nil {
		return Aggregate{}, err
	}
	return Reduce(results, r.cfg.DivisionUnit)
}

func (r *Runner) executeOne(log zerolog.Logger, seed int64) (performance.Result, error) {
	run, err := driver.NewSingleRun(driver.Config{
		Logger:        log,
		Seed:          seed,
		Engine:        r.cfg.Engine,
		Scenario:      r.cfg.Scenario,
		Measurer:      r.cfg.Measurer,
		Metrics:       r.cfg.Metrics,
		NoveltyUpdate: r.cfg.NoveltyUpdate,
	})
	if err != nil {
		return performance.Result{}, err
	}
	return run.Execute()
}

// Reduce aggregates per-run measurements: best/worst/average spreading
// series, satisfaction density distributions and the mean fairness.
func Reduce(results []performance.Result, divisionUnit float64) (Aggregate, error) {
	var aggregate Aggregate

	var spreadings [][]*float64
	for _, result := range results {
		if result.OrderSpreading != nil {
			spreadings = append(spreadings, result.OrderSpreading)
		}
	}
	if len(spreadings) > 0 {
		best, worst, err := stats.FindBestWorstLists(spreadings)
		switch {
		case errors.Is(err, stats.ErrAllAbsent):
			// no run observed any live order, nothing to compare
		case err != nil:
			return Aggregate{}, fmt.Errorf("could not reduce spreading series: %w", err)
		default:
			aggregate.BestSpreading = best
			aggregate.WorstSpreading = worst
		}

		average, err := stats.AverageLists(spreadings)
		if err != nil {
			return Aggregate{}, fmt.Errorf("could not average spreading series: %w", err)
		}
		aggregate.AverageSpreading = average
	}

	density := func(pick func(performance.Result) []float64) ([]float64, error) {
		var series [][]float64
		for _, result := range results {
			if s := pick(result); s != nil {
				series = append(series, s)
			}
		}
		if len(series) == 0 {
			return nil, nil
		}
		d, err := stats.Density(series, divisionUnit)
		if errors.Is(err, stats.ErrNoData) {
			return nil, nil
		}
		return d, err
	}

	normal, err := density(func(r performance.Result) []float64 { return r.NormalSatisfaction })
	if err != nil {
		return Aggregate{}, fmt.Errorf("could not reduce normal peer satisfaction: %w", err)
	}
	aggregate.NormalSatisfactionDensity = normal

	freeRider, err := density(func(r performance.Result) []float64 { return r.FreeRiderSatisfaction })
	if err != nil {
		return Aggregate{}, fmt.Errorf("could not reduce free rider satisfaction: %w", err)
	}
	aggregate.FreeRiderSatisfactionDensity = freeRider

	var fairness []float64
	for _, result := range results {
		if result.Fairness != nil {
			fairness = append(fairness, *result.Fairness)
		}
	}
	if len(fairness) > 0 {
		sum := 0.0
		for _, v := range fairness {
			sum += v
		}
		mean := sum / float64(len(fairness))
		aggregate.AverageFairness = &mean
	}

	return aggregate, nil
}
