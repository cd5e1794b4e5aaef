// Package config holds the file and flag based configuration surface: plain
// structs mirroring the simulation's parameter space, the reference defaults,
// and the builders that turn a configuration into validated engine, scenario
// and performance objects. All policy variants are selected by method name;
// an unknown name fails at setup time.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	environmentVariablePrefix = "MESHSIM"

	configType = "yaml"
	configName = "config"
)

// Config is the root of the configuration tree.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Scenario    ScenarioConfig    `mapstructure:"scenario"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// EngineConfig holds the protocol parameters and the policy selection of the
// design space under test.
type EngineConfig struct {
	Batch       int             `mapstructure:"batch"`
	NeighborMax int             `mapstructure:"neighbor-max"`
	NeighborMin int             `mapstructure:"neighbor-min"`
	Incentive   IncentiveConfig `mapstructure:"incentive"`
	Policies    PolicyConfig    `mapstructure:"policies"`
}

// IncentiveConfig holds the contribution window length and the reward and
// penalty magnitudes; see engine.Incentive for their meaning.
type IncentiveConfig struct {
	Length   int     `mapstructure:"length"`
	RewardA  float64 `mapstructure:"reward-a"`
	RewardB  float64 `mapstructure:"reward-b"`
	RewardC  float64 `mapstructure:"reward-c"`
	RewardD  float64 `mapstructure:"reward-d"`
	RewardE  float64 `mapstructure:"reward-e"`
	PenaltyA float64 `mapstructure:"penalty-a"`
	PenaltyB float64 `mapstructure:"penalty-b"`
}

// PolicyConfig selects one variant per decision axis by method name.
type PolicyConfig struct {
	Preference         string            `mapstructure:"preference"`
	Priority           string            `mapstructure:"priority"`
	ExternalAcceptance string            `mapstructure:"external-acceptance"`
	InternalAcceptance string            `mapstructure:"internal-acceptance"`
	Storage            string            `mapstructure:"storage"`
	Share              ShareConfig       `mapstructure:"share"`
	Score              ScoreConfig       `mapstructure:"score"`
	Beneficiary        BeneficiaryConfig `mapstructure:"beneficiary"`
	Recommendation     string            `mapstructure:"recommendation"`
}

// ShareConfig parameterizes the order sharing policy.
type ShareConfig struct {
	Method       string  `mapstructure:"method"`
	MaxToShare   int     `mapstructure:"max-to-share"`
	OldShareProb float64 `mapstructure:"old-share-prob"`
}

// ScoreConfig parameterizes the neighbor scoring policy.
type ScoreConfig struct {
	Method           string    `mapstructure:"method"`
	LazyContribution float64   `mapstructure:"lazy-contribution"`
	LazyLength       int       `mapstructure:"lazy-length"`
	Weights          []float64 `mapstructure:"weights"`
}

// BeneficiaryConfig parameterizes the beneficiary selection policy.
type BeneficiaryConfig struct {
	Method        string `mapstructure:"method"`
	BabyEnding    int    `mapstructure:"baby-ending"`
	MutualHelpers int    `mapstructure:"mutual-helpers"`
	Optimistic    int    `mapstructure:"optimistic"`
}

// ScenarioConfig holds the environment assumptions: the population mix, the
// order properties and the event rates of the growth and stable phases.
type ScenarioConfig struct {
	PeerTypes  map[string]PeerTypeConfig  `mapstructure:"peer-types"`
	OrderTypes map[string]OrderTypeConfig `mapstructure:"order-types"`

	InitSize      int `mapstructure:"init-size"`
	BirthTimeSpan int `mapstructure:"birth-time-span"`

	Growth PhaseConfig  `mapstructure:"growth"`
	Stable PhaseConfig  `mapstructure:"stable"`
	Settle SettleConfig `mapstructure:"settle"`
}

// PeerTypeConfig describes one peer type.
type PeerTypeConfig struct {
	Ratio         float64                       `mapstructure:"ratio"`
	InitOrderbook map[string]DistributionConfig `mapstructure:"init-orderbook"`
}

// OrderTypeConfig describes one order type.
type OrderTypeConfig struct {
	Ratio            float64            `mapstructure:"ratio"`
	Expiration       DistributionConfig `mapstructure:"expiration"`
	SettlementProb   float64            `mapstructure:"settlement-prob"`
	CancellationProb float64            `mapstructure:"cancellation-prob"`
}

// DistributionConfig is a Gaussian.
type DistributionConfig struct {
	Mean   float64 `mapstructure:"mean"`
	StdDev float64 `mapstructure:"std-dev"`
}

// PhaseConfig describes one phase of the system's evolution.
type PhaseConfig struct {
	Rounds        int             `mapstructure:"rounds"`
	PeerArrival   EventRateConfig `mapstructure:"peer-arrival"`
	PeerDeparture EventRateConfig `mapstructure:"peer-departure"`
	OrderArrival  EventRateConfig `mapstructure:"order-arrival"`
	OrderCancel   EventRateConfig `mapstructure:"order-cancel"`
}

// EventRateConfig selects an event rate by method name. Rate is the mean for
// the Poisson method; the Hawkes block is read for the Hawkes method.
type EventRateConfig struct {
	Method string       `mapstructure:"method"`
	Rate   float64      `mapstructure:"rate"`
	Hawkes HawkesConfig `mapstructure:"hawkes"`
}

// HawkesConfig parameterizes a Hawkes event rate.
type HawkesConfig struct {
	A       float64 `mapstructure:"a"`
	Lambda0 float64 `mapstructure:"lambda0"`
	Delta   float64 `mapstructure:"delta"`
	Gamma   float64 `mapstructure:"gamma"`
}

// SettleConfig selects the settlement stub by method name.
type SettleConfig struct {
	Method string `mapstructure:"method"`
}

// PerformanceConfig selects and parameterizes the measurements.
type PerformanceConfig struct {
	MaxAgeToTrack     int `mapstructure:"max-age-to-track"`
	AdultAge          int `mapstructure:"adult-age"`
	StatisticalWindow int `mapstructure:"statistical-window"`

	Spreading    string `mapstructure:"spreading"`
	Satisfaction string `mapstructure:"satisfaction"`
	Fairness     string `mapstructure:"fairness"`

	MeasureOrderSpreading        bool `mapstructure:"measure-order-spreading"`
	MeasureNormalSatisfaction    bool `mapstructure:"measure-normal-satisfaction"`
	MeasureFreeRiderSatisfaction bool `mapstructure:"measure-free-rider-satisfaction"`
	MeasureFairness              bool `mapstructure:"measure-fairness"`
}

// ExecutionConfig holds the multi-run execution knobs.
type ExecutionConfig struct {
	Runs          int     `mapstructure:"runs"`
	Workers       int     `mapstructure:"workers"`
	Seed          int64   `mapstructure:"seed"`
	DivisionUnit  float64 `mapstructure:"division-unit"`
	NoveltyUpdate bool    `mapstructure:"novelty-update"`
	Progress      bool    `mapstructure:"progress"`
	MetricsAddr   string  `mapstructure:"metrics-addr"`
}

// DefaultConfig returns the reference configuration: a small mesh of mostly
// normal peers with a 10% free rider share, Poisson event streams and the
// reference policy set on every axis.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Engine: EngineConfig{
			Batch:       10,
			NeighborMax: 30,
			NeighborMin: 20,
			Incentive: IncentiveConfig{
				Length:   3,
				RewardA:  0,
				RewardB:  0,
				RewardC:  0,
				RewardD:  1,
				RewardE:  0,
				PenaltyA: 0,
				PenaltyB: -1,
			},
			Policies: PolicyConfig{
				Preference:         MethodPassive,
				Priority:           MethodPassive,
				ExternalAcceptance: MethodAlways,
				InternalAcceptance: MethodAlways,
				Storage:            MethodFirst,
				Share: ShareConfig{
					Method:       MethodAllNewSelectedOld,
					MaxToShare:   5000,
					OldShareProb: 0.5,
				},
				Score: ScoreConfig{
					Method:           MethodWeighted,
					LazyContribution: 2,
					LazyLength:       6,
					Weights:          []float64{1, 1, 1},
				},
				Beneficiary: BeneficiaryConfig{
					Method:        MethodTitForTat,
					BabyEnding:    0,
					MutualHelpers: 3,
					Optimistic:    1,
				},
				Recommendation: MethodRandom,
			},
		},
		Scenario: ScenarioConfig{
			PeerTypes: map[string]PeerTypeConfig{
				"normal": {
					Ratio: 0.9,
					InitOrderbook: map[string]DistributionConfig{
						"default": {Mean: 6, StdDev: 1},
					},
				},
				"free_rider": {
					Ratio:         0.1,
					InitOrderbook: map[string]DistributionConfig{},
				},
			},
			OrderTypes: map[string]OrderTypeConfig{
				"default": {
					Ratio:      1,
					Expiration: DistributionConfig{Mean: 500, StdDev: 0},
				},
			},
			InitSize:      10,
			BirthTimeSpan: 20,
			Growth: PhaseConfig{
				Rounds:        30,
				PeerArrival:   EventRateConfig{Method: MethodPoisson, Rate: 3},
				PeerDeparture: EventRateConfig{Method: MethodPoisson, Rate: 0},
				OrderArrival:  EventRateConfig{Method: MethodPoisson, Rate: 15},
				OrderCancel:   EventRateConfig{Method: MethodPoisson, Rate: 15},
			},
			Stable: PhaseConfig{
				Rounds:        50,
				PeerArrival:   EventRateConfig{Method: MethodPoisson, Rate: 2},
				PeerDeparture: EventRateConfig{Method: MethodPoisson, Rate: 2},
				OrderArrival:  EventRateConfig{Method: MethodPoisson, Rate: 15},
				OrderCancel:   EventRateConfig{Method: MethodPoisson, Rate: 15},
			},
			Settle: SettleConfig{Method: MethodNever},
		},
		Performance: PerformanceConfig{
			MaxAgeToTrack:                50,
			AdultAge:                     30,
			StatisticalWindow:            5,
			Spreading:                    MethodRatio,
			Satisfaction:                 MethodNeutral,
			Fairness:                     MethodDummy,
			MeasureOrderSpreading:        true,
			MeasureNormalSatisfaction:    true,
			MeasureFreeRiderSatisfaction: true,
			MeasureFairness:              false,
		},
		Execution: ExecutionConfig{
			Runs:         40,
			Workers:      8,
			Seed:         1,
			DivisionUnit: 0.01,
			Progress:     true,
		},
	}
}

// InitializePFlagSet registers the command line overrides.
func InitializePFlagSet(flags *pflag.FlagSet, defaults Config) {
	flags.String("config", "", "path of a directory holding a config.yaml; empty runs on defaults")
	flags.String("log-level", defaults.Log.Level, "log level (trace, debug, info, warn, error)")
	flags.Int("runs", defaults.Execution.Runs, "number of independent simulation runs")
	flags.Int("workers", defaults.Execution.Workers, "number of concurrent workers")
	flags.Int64("seed", defaults.Execution.Seed, "base seed; run i executes with seed+i")
	flags.Bool("progress", defaults.Execution.Progress, "draw a progress bar over the runs")
	flags.String("metrics-addr", defaults.Execution.MetricsAddr, "address to serve prometheus metrics on; empty disables the endpoint")
}

// ReadConfig merges, in ascending precedence, the defaults, an optional
// config file, MESHSIM_* environment variables and the command line flags.
func ReadConfig(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.SetEnvPrefix(environmentVariablePrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	var asMap map[string]interface{}
	if err := mapstructure.Decode(defaults, &asMap); err != nil {
		return Config{}, fmt.Errorf("could not decode default config: %w", err)
	}
	if err := v.MergeConfigMap(asMap); err != nil {
		return Config{}, fmt.Errorf("could not merge default config: %w", err)
	}

	if path, err := flags.GetString("config"); err == nil && path != "" {
		v.AddConfigPath(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("could not read config file in %s: %w", path, err)
		}
	}

	for flag, key := range map[string]string{
		"log-level":    "log.level",
		"runs":         "execution.runs",
		"workers":      "execution.workers",
		"seed":         "execution.seed",
		"progress":     "execution.progress",
		"metrics-addr": "execution.metrics-addr",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return Config{}, fmt.Errorf("could not bind flag %s: %w", flag, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("could not unmarshal config: %w", err)
	}
	return cfg, nil
}
