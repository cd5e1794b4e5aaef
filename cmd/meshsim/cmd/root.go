package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/relaymesh/meshsim/config"
	"github.com/relaymesh/meshsim/module"
	"github.com/relaymesh/meshsim/module/metrics"
	"github.com/relaymesh/meshsim/simulation/execution"
)

var rootCmd = &cobra.Command{
	Use:   "meshsim",
	Short: "Simulate an order relay mesh under configurable incentive policies",
	RunE:  run,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitializePFlagSet(rootCmd.Flags(), config.DefaultConfig())
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.ReadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	log := zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()

	eng, err := cfg.Engine.BuildEngine()
	if err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}
	scen, err := cfg.Scenario.BuildScenario()
	if err != nil {
		return fmt.Errorf("invalid scenario configuration: %w", err)
	}
	measurer, err := cfg.Performance.BuildMeasurer(log)
	if err != nil {
		return fmt.Errorf("invalid performance configuration: %w", err)
	}

	var collector module.SimulationMetrics = metrics.NewNoopCollector()
	if cfg.Execution.MetricsAddr != "" {
		collector = metrics.NewSimulationCollector(prometheus.DefaultRegisterer)
		server := metrics.NewServer(log, cfg.Execution.MetricsAddr)
		<-server.Ready()
		defer func() {
			<-server.Done()
		}()
	}

	runner, err := execution.NewRunner(execution.Config{
		Logger:        log,
		Engine:        eng,
		Scenario:      scen,
		Measurer:      measurer,
		Metrics:       collector,
		NoveltyUpdate: cfg.Execution.NoveltyUpdate,
		Runs:          cfg.Execution.Runs,
		Workers:       cfg.Execution.Workers,
		Seed:          cfg.Execution.Seed,
		DivisionUnit:  cfg.Execution.DivisionUnit,
		Progress:      cfg.Execution.Progress,
	})
	if err != nil {
		return fmt.Errorf("invalid execution configuration: %w", err)
	}

	aggregate, err := runner.Execute()
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	out, err := json.MarshalIndent(aggregate, "", "  ")
	if err != nil {
		return fmt.Errorf("could not render results: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
