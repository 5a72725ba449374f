// Package ensemble trains the forecasting models: one growth regressor per
// horizon, and an optional sector resilience classifier built from three
// heterogeneous learners.
package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/learn"
)

// RegressionConfig configures the per-horizon regressors.
type RegressionConfig struct {
	Family      string               `json:"family" mapstructure:"family"`
	Boosting    learn.BoostingConfig `json:"boosting" mapstructure:"boosting"`
	Forest      learn.ForestConfig   `json:"forest" mapstructure:"forest"`
	RidgeAlpha  float64              `json:"ridge_alpha" mapstructure:"ridge_alpha"`
	ValFraction float64              `json:"val_fraction" mapstructure:"val_fraction"`
	Seed        uint64               `json:"seed" mapstructure:"seed"`
	MinSamples  int                  `json:"min_samples" mapstructure:"min_samples"`
}

// DefaultRegressionConfig returns boosted regressors with a seeded 80/20 split.
func DefaultRegressionConfig() RegressionConfig {
	return RegressionConfig{
		Family:      learn.KindBoosted,
		Boosting:    learn.DefaultBoostingConfig(),
		Forest:      learn.DefaultForestConfig(),
		RidgeAlpha:  1.0,
		ValFraction: 0.2,
		Seed:        42,
		MinSamples:  10,
	}
}

func (c RegressionConfig) newRegressor() (learn.Regressor, error) {
	switch c.Family {
	case learn.KindBoosted:
		return learn.NewBoostedRegressor(c.Boosting), nil
	case learn.KindForest:
		return learn.NewForestRegressor(c.Forest), nil
	case learn.KindRidge:
		return learn.NewRidge(c.RidgeAlpha), nil
	default:
		return nil, fmt.Errorf("unknown regression family %q", c.Family)
	}
}

// HorizonModel is the fitted scaler and regressor for one horizon.
type HorizonModel struct {
	Horizon int
	Scaler  *learn.Scaler
	Model   learn.Regressor
}

type horizonModelJSON struct {
	Horizon int                `json:"horizon"`
	Scaler  *learn.Scaler      `json:"scaler"`
	Model   learn.RegressorBox `json:"model"`
}

func (m HorizonModel) MarshalJSON() ([]byte, error) {
	box, err := learn.BoxRegressor(m.Model)
	if err != nil {
		return nil, err
	}
	return json.Marshal(horizonModelJSON{Horizon: m.Horizon, Scaler: m.Scaler, Model: box})
}

func (m *HorizonModel) UnmarshalJSON(data []byte) error {
	var raw horizonModelJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	model, err := raw.Model.Regressor()
	if err != nil {
		return fmt.Errorf("horizon %d: %w", raw.Horizon, err)
	}
	if raw.Scaler == nil {
		return fmt.Errorf("horizon %d: missing scaler", raw.Horizon)
	}
	*m = HorizonModel{Horizon: raw.Horizon, Scaler: raw.Scaler, Model: model}
	return nil
}

// Predict scales x with the horizon's own scaler and returns the growth.
func (m HorizonModel) Predict(x []float64) (float64, error) {
	if len(x) != m.Scaler.Width() {
		return 0, fmt.Errorf("horizon %d: feature width %d, model expects %d", m.Horizon, len(x), m.Scaler.Width())
	}
	return m.Model.Predict(m.Scaler.Transform(x)), nil
}

// HorizonReport summarises the fit of one horizon.
type HorizonReport struct {
	Horizon   int     `json:"horizon"`
	Family    string  `json:"family"`
	TrainSize int     `json:"train_size"`
	ValSize   int     `json:"val_size"`
	TrainR2   float64 `json:"train_r2"`
	R2        float64 `json:"val_r2"`
}

// RegressionEnsemble holds one model per horizon, ordered like domain.Horizons.
type RegressionEnsemble struct {
	FeatureNames []string       `json:"feature_names"`
	Models       []HorizonModel `json:"models"`
}

// Model returns the model for horizon h.
func (e *RegressionEnsemble) Model(h int) (HorizonModel, bool) {
	for _, m := range e.Models {
		if m.Horizon == h {
			return m, true
		}
	}
	return HorizonModel{}, false
}

// Validate checks the ensemble covers every horizon with the current schema.
func (e *RegressionEnsemble) Validate() error {
	if !slices.Equal(e.FeatureNames, domain.FeatureNames()) {
		return fmt.Errorf("feature schema %v does not match %v", e.FeatureNames, domain.FeatureNames())
	}
	for _, h := range domain.Horizons {
		m, ok := e.Model(h)
		if !ok {
			return fmt.Errorf("no model for horizon %d", h)
		}
		if m.Scaler.Width() != len(e.FeatureNames) {
			return fmt.Errorf("horizon %d scaler width %d, want %d", h, m.Scaler.Width(), len(e.FeatureNames))
		}
	}
	return nil
}

// TrainRegression fits one scaler and regressor per horizon on the labelled
// samples valid for that horizon. Each horizon gets its own seeded split.
func TrainRegression(ctx context.Context, samples []domain.SectorYearSample, cfg RegressionConfig, logger *slog.Logger) (*RegressionEnsemble, []HorizonReport, error) {
	ens := &RegressionEnsemble{FeatureNames: domain.FeatureNames()}
	reports := make([]HorizonReport, 0, len(domain.Horizons))

	for _, h := range domain.Horizons {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		rows, targets := domain.HorizonSet(samples, h)
		if len(rows) < max(cfg.MinSamples, 2) {
			return nil, nil, &domain.TrainingError{
				Stage: fmt.Sprintf("horizon %d", h),
				Err:   fmt.Errorf("%d labelled samples, need %d", len(rows), max(cfg.MinSamples, 2)),
			}
		}

		X := make([][]float64, len(rows))
		for i, s := range rows {
			X[i] = domain.BuildFeatures(s).Values()
		}

		trainIdx, valIdx := learn.TrainValSplit(len(rows), cfg.ValFraction, cfg.Seed)
		Xtr, ytr := learn.Rows(X, trainIdx), learn.Values(targets, trainIdx)

		scaler, err := learn.FitScaler(Xtr)
		if err != nil {
			return nil, nil, &domain.TrainingError{Stage: fmt.Sprintf("horizon %d scaler", h), Err: err}
		}
		model, err := cfg.newRegressor()
		if err != nil {
			return nil, nil, &domain.TrainingError{Stage: "configure", Err: err}
		}
		if err := model.Fit(scaler.TransformAll(Xtr), ytr); err != nil {
			return nil, nil, &domain.TrainingError{Stage: fmt.Sprintf("horizon %d fit", h), Err: err}
		}

		hm := HorizonModel{Horizon: h, Scaler: scaler, Model: model}
		report := HorizonReport{
			Horizon:   h,
			Family:    model.Name(),
			TrainSize: len(trainIdx),
			ValSize:   len(valIdx),
			TrainR2:   learn.R2(ytr, predictRows(hm, Xtr)),
		}
		if len(valIdx) > 0 {
			report.R2 = learn.R2(learn.Values(targets, valIdx), predictRows(hm, learn.Rows(X, valIdx)))
		}

		logger.Info("horizon model trained",
			"horizon", h,
			"family", report.Family,
			"train_size", report.TrainSize,
			"val_size", report.ValSize,
			"val_r2", report.R2,
		)
		ens.Models = append(ens.Models, hm)
		reports = append(reports, report)
	}
	return ens, reports, nil
}

func predictRows(m HorizonModel, X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = m.Model.Predict(m.Scaler.Transform(x))
	}
	return out
}
