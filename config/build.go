package config

import (
	"github.com/rs/zerolog"

	"github.com/relaymesh/meshsim/model/mesh"
	"github.com/relaymesh/meshsim/simulation/engine"
	"github.com/relaymesh/meshsim/simulation/performance"
	"github.com/relaymesh/meshsim/simulation/scenario"
)

// Method names accepted by the configuration, one set per decision axis.
const (
	MethodPassive           = "Passive"
	MethodAlways            = "Always"
	MethodFirst             = "First"
	MethodAllNewSelectedOld = "AllNewSelectedOld"
	MethodWeighted          = "Weighted"
	MethodTitForTat         = "TitForTat"
	MethodRandom            = "Random"

	MethodPoisson = "Poisson"
	MethodHawkes  = "Hawkes"

	MethodNever         = "Never"
	MethodProbabilistic = "Probabilistic"

	MethodRatio   = "Ratio"
	MethodNeutral = "Neutral"
	MethodDummy   = "Dummy"
)

// BuildEngine assembles the validated engine from the configuration.
func (c EngineConfig) BuildEngine() (*engine.Engine, error) {
	var policies engine.Policies
	var err error

	if policies.Preference, err = buildPreference(c.Policies.Preference); err != nil {
		return nil, err
	}
	if policies.Priority, err = buildPriority(c.Policies.Priority); err != nil {
		return nil, err
	}
	if policies.External, err = buildExternalAcceptance(c.Policies.ExternalAcceptance); err != nil {
		return nil, err
	}
	if policies.Internal, err = buildInternalAcceptance(c.Policies.InternalAcceptance); err != nil {
		return nil, err
	}
	if policies.Storage, err = buildStorage(c.Policies.Storage); err != nil {
		return nil, err
	}
	if policies.Share, err = buildShare(c.Policies.Share); err != nil {
		return nil, err
	}
	if policies.Score, err = buildScore(c.Policies.Score); err != nil {
		return nil, err
	}
	if policies.Beneficiary, err = buildBeneficiary(c.Policies.Beneficiary); err != nil {
		return nil, err
	}
	if policies.Recommendation, err = buildRecommendation(c.Policies.Recommendation); err != nil {
		return nil, err
	}

	params := engine.Parameters{
		Batch:       c.Batch,
		NeighborMax: c.NeighborMax,
		NeighborMin: c.NeighborMin,
		Incentive: engine.Incentive{
			Length:   c.Incentive.Length,
			RewardA:  c.Incentive.RewardA,
			RewardB:  c.Incentive.RewardB,
			RewardC:  c.Incentive.RewardC,
			RewardD:  c.Incentive.RewardD,
			RewardE:  c.Incentive.RewardE,
			PenaltyA: c.Incentive.PenaltyA,
			PenaltyB: c.Incentive.PenaltyB,
		},
	}
	return engine.New(params, policies)
}

func buildPreference(method string) (engine.PreferencePolicy, error) {
	switch method {
	case MethodPassive:
		return engine.PassivePreference{}, nil
	default:
		return nil, mesh.NewUnknownMethodError("preference", method)
	}
}

func buildPriority(method string) (engine.PriorityPolicy, error) {
	switch method {
	case MethodPassive:
		return engine.PassivePriority{}, nil
	default:
		return nil, mesh.NewUnknownMethodError("priority", method)
	}
}

func buildExternalAcceptance(method string) (engine.ExternalAcceptancePolicy, error) {
	switch method {
	case MethodAlways:
		return engine.AcceptAll{}, nil
	default:
		return nil, mesh.NewUnknownMethodError("external acceptance", method)
	}
}

func buildInternalAcceptance(method string) (engine.InternalAcceptancePolicy, error) {
	switch method {
	case MethodAlways:
		return engine.AcceptAll{}, nil
	default:
		return nil, mesh.NewUnknownMethodError("internal acceptance", method)
	}
}

func buildStorage(method string) (engine.StoragePolicy, error) {
	switch method {
	case MethodFirst:
		return engine.FirstWins{}, nil
	default:
		return nil, mesh.NewUnknownMethodError("storage", method)
	}
}

func buildShare(cfg ShareConfig) (engine.SharePolicy, error) {
	switch cfg.Method {
	case MethodAllNewSelectedOld:
		return engine.AllNewSelectedOld{
			MaxToShare:   cfg.MaxToShare,
			OldShareProb: cfg.OldShareProb,
		}, nil
	default:
		return nil, mesh.NewUnknownMethodError("share", cfg.Method)
	}
}

func buildScore(cfg ScoreConfig) (engine.ScorePolicy, error) {
	switch cfg.Method {
	case MethodWeighted:
		return engine.WeightedSum{
			LazyContribution: cfg.LazyContribution,
			LazyLength:       cfg.LazyLength,
			Weights:          cfg.Weights,
		}, nil
	default:
		return nil, mesh.NewUnknownMethodError("score", cfg.Method)
	}
}

func buildBeneficiary(cfg BeneficiaryConfig) (engine.BeneficiaryPolicy, error) {
	switch cfg.Method {
	case MethodTitForTat:
		return engine.TitForTat{
			BabyEnding: cfg.BabyEnding,
			Mutual:     cfg.MutualHelpers,
			Optimistic: cfg.Optimistic,
		}, nil
	default:
		return nil, mesh.NewUnknownMethodError("beneficiary", cfg.Method)
	}
}

func buildRecommendation(method string) (engine.RecommendationPolicy, error) {
	switch method {
	case MethodRandom:
		return engine.UniformRandom{}, nil
	default:
		return nil, mesh.NewUnknownMethodError("recommendation", method)
	}
}

// BuildScenario assembles the validated scenario from the configuration.
func (c ScenarioConfig) BuildScenario() (*scenario.Scenario, error) {
	params := scenario.Parameters{
		PeerTypes:     make(map[mesh.PeerType]scenario.PeerProperty, len(c.PeerTypes)),
		OrderTypes:    make(map[mesh.OrderType]scenario.OrderProperty, len(c.OrderTypes)),
		InitSize:      c.InitSize,
		BirthTimeSpan: c.BirthTimeSpan,
	}

	for name, peerType := range c.PeerTypes {
		property := scenario.PeerProperty{
			Ratio:         peerType.Ratio,
			InitOrderbook: make(map[mesh.OrderType]scenario.Distribution, len(peerType.InitOrderbook)),
		}
		for orderType, dist := range peerType.InitOrderbook {
			property.InitOrderbook[mesh.OrderType(orderType)] = scenario.Distribution{
				Mean:   dist.Mean,
				StdDev: dist.StdDev,
			}
		}
		params.PeerTypes[mesh.PeerType(name)] = property
	}

	for name, orderType := range c.OrderTypes {
		params.OrderTypes[mesh.OrderType(name)] = scenario.OrderProperty{
			Ratio: orderType.Ratio,
			Expiration: scenario.Distribution{
				Mean:   orderType.Expiration.Mean,
				StdDev: orderType.Expiration.StdDev,
			},
			Settlement:   mesh.SettlementParams{Prob: orderType.SettlementProb},
			Cancellation: mesh.CancellationParams{Prob: orderType.CancellationProb},
		}
	}

	var err error
	if params.Growth, err = c.Growth.build(); err != nil {
		return nil, err
	}
	if params.Stable, err = c.Stable.build(); err != nil {
		return nil, err
	}

	settle, err := buildSettle(c.Settle)
	if err != nil {
		return nil, err
	}
	return scenario.New(params, settle)
}

func (c PhaseConfig) build() (scenario.Phase, error) {
	phase := scenario.Phase{Rounds: c.Rounds}
	var err error
	if phase.PeerArrival, err = buildEventRate(c.PeerArrival); err != nil {
		return scenario.Phase{}, err
	}
	if phase.PeerDeparture, err = buildEventRate(c.PeerDeparture); err != nil {
		return scenario.Phase{}, err
	}
	if phase.OrderArrival, err = buildEventRate(c.OrderArrival); err != nil {
		return scenario.Phase{}, err
	}
	if phase.OrderCancel, err = buildEventRate(c.OrderCancel); err != nil {
		return scenario.Phase{}, err
	}
	return phase, nil
}

func buildEventRate(cfg EventRateConfig) (scenario.EventRate, error) {
	switch cfg.Method {
	case MethodPoisson:
		return scenario.PoissonRate(cfg.Rate), nil
	case MethodHawkes:
		return scenario.NewHawkesRate(cfg.Hawkes.A, cfg.Hawkes.Lambda0, cfg.Hawkes.Delta, cfg.Hawkes.Gamma)
	default:
		return nil, mesh.NewUnknownMethodError("event rate", cfg.Method)
	}
}

func buildSettle(cfg SettleConfig) (scenario.SettlePolicy, error) {
	switch cfg.Method {
	case MethodNever:
		return scenario.NeverSettle{}, nil
	case MethodProbabilistic:
		return scenario.ProbabilisticSettle{}, nil
	default:
		return nil, mesh.NewUnknownMethodError("settlement", cfg.Method)
	}
}

// BuildMeasurer assembles the validated measurer from the configuration.
func (c PerformanceConfig) BuildMeasurer(log zerolog.Logger) (*performance.Measurer, error) {
	var spreading performance.SpreadingPolicy
	switch c.Spreading {
	case MethodRatio:
		spreading = performance.RatioSpreading{}
	default:
		return nil, mesh.NewUnknownMethodError("spreading", c.Spreading)
	}

	var satisfaction performance.SatisfactionPolicy
	switch c.Satisfaction {
	case MethodNeutral:
		satisfaction = performance.NeutralSatisfaction{}
	default:
		return nil, mesh.NewUnknownMethodError("satisfaction", c.Satisfaction)
	}

	var fairness performance.FairnessPolicy
	switch c.Fairness {
	case MethodDummy:
		fairness = performance.DummyFairness{}
	default:
		return nil, mesh.NewUnknownMethodError("fairness", c.Fairness)
	}

	params := performance.Parameters{
		MaxAgeToTrack:     c.MaxAgeToTrack,
		AdultAge:          c.AdultAge,
		StatisticalWindow: c.StatisticalWindow,
	}
	executions := performance.Executions{
		OrderSpreading:        c.MeasureOrderSpreading,
		NormalSatisfaction:    c.MeasureNormalSatisfaction,
		FreeRiderSatisfaction: c.MeasureFreeRiderSatisfaction,
		Fairness:              c.MeasureFairness,
	}
	return performance.NewMeasurer(log, params, executions, spreading, satisfaction, fairness)
}
