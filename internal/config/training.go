package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/ensemble"
	"github.com/couchcryptid/property-forecast/internal/learn"
	"github.com/spf13/viper"
)

// TrainingEnvPrefix prefixes environment overrides of training settings, e.g.
// FORECAST_TRAIN_REGRESSION_FAMILY=ridge.
const TrainingEnvPrefix = "FORECAST_TRAIN"

// Training holds model hyperparameters, read from an optional YAML, TOML or
// JSON file with environment overrides.
type Training struct {
	MinTransactions   int                       `mapstructure:"min_transactions"`
	MinYear           int                       `mapstructure:"min_year"`
	Regression        ensemble.RegressionConfig `mapstructure:"regression"`
	ResilienceEnabled bool                      `mapstructure:"resilience_enabled"`
	Resilience        ensemble.ResilienceConfig `mapstructure:"resilience"`
}

// DefaultTraining returns the production hyperparameters.
func DefaultTraining() Training {
	return Training{
		MinTransactions:   domain.MinTransactions,
		MinYear:           domain.DefaultMinYear,
		Regression:        ensemble.DefaultRegressionConfig(),
		ResilienceEnabled: true,
		Resilience:        ensemble.DefaultResilienceConfig(),
	}
}

// LoadTraining reads training settings. An empty path uses the defaults with
// environment overrides only.
func LoadTraining(path string) (*Training, error) {
	v := viper.New()
	setTrainingDefaults(v, DefaultTraining())

	v.SetEnvPrefix(TrainingEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read training config: %w", err)
		}
	}

	var t Training
	if err := v.Unmarshal(&t); err != nil {
		return nil, fmt.Errorf("unmarshal training config: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// AggregateOptions returns the sector-year aggregation floors.
func (t *Training) AggregateOptions() domain.AggregateOptions {
	return domain.AggregateOptions{MinTransactions: t.MinTransactions, MinYear: t.MinYear}
}

// Validate checks the settings can train a bundle.
func (t *Training) Validate() error {
	if t.MinTransactions < 1 {
		return errors.New("min_transactions must be at least 1")
	}
	families := []string{learn.KindBoosted, learn.KindForest, learn.KindRidge}
	if !slices.Contains(families, t.Regression.Family) {
		return fmt.Errorf("regression.family must be one of %v, got %q", families, t.Regression.Family)
	}
	for name, f := range map[string]float64{
		"regression.val_fraction": t.Regression.ValFraction,
		"resilience.val_fraction": t.Resilience.ValFraction,
	} {
		if f < 0 || f >= 1 {
			return fmt.Errorf("%s must be in [0, 1), got %g", name, f)
		}
	}
	if t.Regression.MinSamples < 2 {
		return errors.New("regression.min_samples must be at least 2")
	}
	if !t.ResilienceEnabled {
		return nil
	}
	switch t.Resilience.Combination {
	case ensemble.CombineStacking, ensemble.CombineVoting:
	default:
		return fmt.Errorf("resilience.combination must be %q or %q, got %q",
			ensemble.CombineStacking, ensemble.CombineVoting, t.Resilience.Combination)
	}
	if len(t.Resilience.Quantiles) < 2 || !slices.IsSorted(t.Resilience.Quantiles) {
		return fmt.Errorf("resilience.quantiles must hold at least two ascending values, got %v", t.Resilience.Quantiles)
	}
	if t.Resilience.Neighbors < 1 {
		return errors.New("resilience.neighbors must be at least 1")
	}
	return nil
}

func setTrainingDefaults(v *viper.Viper, d Training) {
	v.SetDefault("min_transactions", d.MinTransactions)
	v.SetDefault("min_year", d.MinYear)
	v.SetDefault("resilience_enabled", d.ResilienceEnabled)

	// Regression defaults
	r := d.Regression
	v.SetDefault("regression.family", r.Family)
	setBoostingDefaults(v, "regression.boosting", r.Boosting)
	setForestDefaults(v, "regression.forest", r.Forest)
	v.SetDefault("regression.ridge_alpha", r.RidgeAlpha)
	v.SetDefault("regression.val_fraction", r.ValFraction)
	v.SetDefault("regression.seed", r.Seed)
	v.SetDefault("regression.min_samples", r.MinSamples)

	// Resilience defaults
	c := d.Resilience
	v.SetDefault("resilience.combination", c.Combination)
	v.SetDefault("resilience.voting_temperature", c.VotingTemperature)
	v.SetDefault("resilience.quantiles", c.Quantiles)
	setBoostingDefaults(v, "resilience.boosting", c.Boosting)
	setForestDefaults(v, "resilience.forest", c.Forest)
	v.SetDefault("resilience.logistic.l2", c.Logistic.L2)
	v.SetDefault("resilience.logistic.iterations", c.Logistic.Iterations)
	v.SetDefault("resilience.logistic.learning_rate", c.Logistic.LearningRate)
	v.SetDefault("resilience.ridge_alpha", c.RidgeAlpha)
	v.SetDefault("resilience.val_fraction", c.ValFraction)
	v.SetDefault("resilience.seed", c.Seed)
	v.SetDefault("resilience.neighbors", c.Neighbors)
	v.SetDefault("resilience.workers", c.Workers)
	v.SetDefault("resilience.min_sectors", c.MinSectors)
}

func setBoostingDefaults(v *viper.Viper, prefix string, b learn.BoostingConfig) {
	v.SetDefault(prefix+".iterations", b.Iterations)
	v.SetDefault(prefix+".learning_rate", b.LearningRate)
	v.SetDefault(prefix+".max_depth", b.MaxDepth)
	v.SetDefault(prefix+".min_samples_leaf", b.MinSamplesLeaf)
	v.SetDefault(prefix+".l2", b.L2)
}

func setForestDefaults(v *viper.Viper, prefix string, f learn.ForestConfig) {
	v.SetDefault(prefix+".trees", f.Trees)
	v.SetDefault(prefix+".max_depth", f.MaxDepth)
	v.SetDefault(prefix+".min_samples_leaf", f.MinSamplesLeaf)
	v.SetDefault(prefix+".max_features", f.MaxFeatures)
	v.SetDefault(prefix+".seed", f.Seed)
}
