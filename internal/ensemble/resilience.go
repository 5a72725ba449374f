package ensemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/learn"
	"github.com/couchcryptid/property-forecast/internal/spatial"
	"golang.org/x/sync/errgroup"
)

// ErrTooFewSectors is wrapped by TrainResilience when the dataset cannot be
// split into three classes with enough sectors to fit on.
var ErrTooFewSectors = errors.New("too few sectors for resilience training")

// Combination strategies for the base learners.
const (
	CombineStacking = "stacking"
	CombineVoting   = "voting"
)

// Fit modes recorded in ResilienceReport.
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

// ResilienceConfig configures the resilience classifier ensemble.
type ResilienceConfig struct {
	Combination       string               `json:"combination" mapstructure:"combination"`
	VotingTemperature float64              `json:"voting_temperature" mapstructure:"voting_temperature"`
	Quantiles         []float64            `json:"quantiles" mapstructure:"quantiles"`
	Boosting          learn.BoostingConfig `json:"boosting" mapstructure:"boosting"`
	Forest            learn.ForestConfig   `json:"forest" mapstructure:"forest"`
	Logistic          learn.LogisticConfig `json:"logistic" mapstructure:"logistic"`
	RidgeAlpha        float64              `json:"ridge_alpha" mapstructure:"ridge_alpha"`
	ValFraction       float64              `json:"val_fraction" mapstructure:"val_fraction"`
	Seed              uint64               `json:"seed" mapstructure:"seed"`
	Neighbors         int                  `json:"neighbors" mapstructure:"neighbors"`
	Workers           int                  `json:"workers" mapstructure:"workers"`
	MinSectors        int                  `json:"min_sectors" mapstructure:"min_sectors"`
}

// DefaultResilienceConfig returns stacking over three learners fitted by a
// pool of three workers.
func DefaultResilienceConfig() ResilienceConfig {
	boost := learn.DefaultBoostingConfig()
	boost.Iterations = 200
	boost.MinSamplesLeaf = 5
	return ResilienceConfig{
		Combination:       CombineStacking,
		VotingTemperature: 0.1,
		Quantiles:         []float64{0.1, 0.5, 0.9},
		Boosting:          boost,
		Forest:            learn.DefaultForestConfig(),
		Logistic:          learn.DefaultLogisticConfig(),
		RidgeAlpha:        1.0,
		ValFraction:       0.2,
		Seed:              42,
		Neighbors:         spatial.DefaultNeighbors,
		Workers:           3,
		MinSectors:        9,
	}
}

func (c ResilienceConfig) validate() error {
	switch c.Combination {
	case CombineStacking:
	case CombineVoting:
		if c.VotingTemperature <= 0 {
			return fmt.Errorf("voting temperature must be positive, got %g", c.VotingTemperature)
		}
	default:
		return fmt.Errorf("unknown combination %q", c.Combination)
	}
	if len(c.Quantiles) < 2 || !slices.IsSorted(c.Quantiles) {
		return fmt.Errorf("need at least two ascending quantiles, got %v", c.Quantiles)
	}
	return nil
}

// newBaseLearners returns fresh, unfitted base learners in a fixed order.
func (c ResilienceConfig) newBaseLearners() []learn.Classifier {
	forest := c.Forest
	forest.Seed = c.Seed
	return []learn.Classifier{
		learn.NewBoostedClassifier(c.Boosting),
		learn.NewForestClassifier(forest),
		learn.NewLogistic(c.Logistic),
	}
}

func (c ResilienceConfig) newQuantileFamily(q float64) []learn.QuantileRegressor {
	forest := c.Forest
	forest.Seed = c.Seed
	return []learn.QuantileRegressor{
		learn.NewBoostedQuantile(c.Boosting, q),
		learn.NewForestQuantile(forest, q),
		learn.NewLinearQuantile(c.RidgeAlpha, q),
	}
}

// ResilienceEnsemble is a fitted resilience classifier.
type ResilienceEnsemble struct {
	FeatureNames   []string
	Scaler         *learn.Scaler
	Combination    string
	Learners       []learn.Classifier
	Weights        []float64
	Meta           learn.Classifier
	Quantiles      []float64
	QuantileModels [][]learn.QuantileRegressor
	Cuts           [2]float64
}

// Interval is a quantile band of the resilience score.
type Interval struct {
	Lower  float64 `json:"lower"`
	Median float64 `json:"median"`
	Upper  float64 `json:"upper"`
	Width  float64 `json:"width"`
}

// ResilienceForecast is the classifier output for one sector.
type ResilienceForecast struct {
	Class         string             `json:"class"`
	Probabilities map[string]float64 `json:"probabilities"`
	Uncertainty   float64            `json:"uncertainty"`
	Score         Interval           `json:"score_interval"`
}

// Predict classifies a raw (unscaled) classifier feature row.
func (e *ResilienceEnsemble) Predict(x []float64) (ResilienceForecast, error) {
	if len(x) != e.Scaler.Width() {
		return ResilienceForecast{}, fmt.Errorf("classifier feature width %d, model expects %d", len(x), e.Scaler.Width())
	}
	xs := e.Scaler.Transform(x)
	proba, uncertainty := e.combine(xs)

	out := ResilienceForecast{
		Class:         ClassNames[learn.Argmax(proba)],
		Probabilities: make(map[string]float64, numClasses),
		Uncertainty:   uncertainty,
		Score:         e.interval(xs),
	}
	for k, p := range proba {
		out.Probabilities[ClassNames[k]] = p
	}
	return out, nil
}

func (e *ResilienceEnsemble) combine(xs []float64) ([]float64, float64) {
	probas := make([][]float64, len(e.Learners))
	for i, l := range e.Learners {
		probas[i] = l.PredictProba(xs)
	}
	if e.Combination == CombineStacking {
		p := e.Meta.PredictProba(metaRow(probas))
		return p, learn.Entropy(p)
	}
	return weightedVote(probas, e.Weights), voteVariance(probas)
}

func (e *ResilienceEnsemble) interval(xs []float64) Interval {
	preds := make([]float64, len(e.QuantileModels))
	for i, family := range e.QuantileModels {
		var sum float64
		for _, m := range family {
			sum += m.Predict(xs)
		}
		preds[i] = sum / float64(len(family))
	}
	iv := Interval{Lower: preds[0], Median: preds[len(preds)/2], Upper: preds[len(preds)-1]}
	iv.Width = iv.Upper - iv.Lower
	return iv
}

// ResilienceReport summarises a resilience training run.
type ResilienceReport struct {
	Sectors          int                `json:"sectors"`
	TrainSize        int                `json:"train_size"`
	ValSize          int                `json:"val_size"`
	Cuts             [2]float64         `json:"cuts"`
	Mode             string             `json:"mode"`
	Combination      string             `json:"combination"`
	LearnerAccuracy  map[string]float64 `json:"learner_accuracy"`
	Weights          map[string]float64 `json:"weights,omitempty"`
	EnsembleAccuracy float64            `json:"ensemble_accuracy"`
	IntervalWidth    float64            `json:"interval_width"`
	Coverage         float64            `json:"coverage"`
}

// TrainResilience builds the sector dataset and fits the classifier ensemble.
func TrainResilience(ctx context.Context, samples []domain.SectorYearSample, idx *spatial.Index, cfg ResilienceConfig, logger *slog.Logger) (*ResilienceEnsemble, ResilienceReport, error) {
	if err := cfg.validate(); err != nil {
		return nil, ResilienceReport{}, &domain.TrainingError{Stage: "resilience configure", Err: err}
	}
	ds := BuildResilienceDataset(samples, idx, cfg.Neighbors)
	if len(ds.Rows) < max(cfg.MinSectors, numClasses) {
		return nil, ResilienceReport{}, &domain.TrainingError{
			Stage: "resilience dataset",
			Err:   fmt.Errorf("%w: %d sectors, need %d", ErrTooFewSectors, len(ds.Rows), max(cfg.MinSectors, numClasses)),
		}
	}
	return fitResilience(ctx, ds, cfg, cfg.newBaseLearners, logger)
}

func fitResilience(ctx context.Context, ds ResilienceDataset, cfg ResilienceConfig, factory func() []learn.Classifier, logger *slog.Logger) (*ResilienceEnsemble, ResilienceReport, error) {
	X, y, scores := ds.Matrix()
	trainIdx, valIdx := learn.TrainValSplit(len(X), cfg.ValFraction, cfg.Seed)

	scaler, err := learn.FitScaler(X)
	if err != nil {
		return nil, ResilienceReport{}, &domain.TrainingError{Stage: "resilience scaler", Err: err}
	}
	Xs := scaler.TransformAll(X)
	Xtr, ytr := learn.Rows(Xs, trainIdx), learn.Values(y, trainIdx)
	Xval, yval := learn.Rows(Xs, valIdx), learn.Values(y, valIdx)

	learners, mode, err := fitBaseLearners(ctx, factory, Xtr, ytr, cfg.Workers, logger)
	if err != nil {
		return nil, ResilienceReport{}, err
	}

	ens := &ResilienceEnsemble{
		FeatureNames: ds.FeatureNames,
		Scaler:       scaler,
		Combination:  cfg.Combination,
		Learners:     learners,
		Quantiles:    slices.Clone(cfg.Quantiles),
		Cuts:         ds.Cuts,
	}
	report := ResilienceReport{
		Sectors:         len(X),
		TrainSize:       len(trainIdx),
		ValSize:         len(valIdx),
		Cuts:            ds.Cuts,
		Mode:            mode,
		Combination:     cfg.Combination,
		LearnerAccuracy: make(map[string]float64, len(learners)),
	}

	// Validation accuracy drives the voting weights; fall back to training
	// accuracy when the split left nothing to validate on.
	evalX, evalY := Xval, yval
	if len(evalX) == 0 {
		evalX, evalY = Xtr, ytr
	}
	accs := make([]float64, len(learners))
	for i, l := range learners {
		accs[i] = learn.Accuracy(evalY, classify(l, evalX))
		report.LearnerAccuracy[l.Name()] = accs[i]
	}

	switch cfg.Combination {
	case CombineStacking:
		meta := learn.NewLogistic(cfg.Logistic)
		if err := meta.Fit(metaRows(learners, Xtr), ytr, numClasses); err != nil {
			return nil, ResilienceReport{}, &domain.TrainingError{Stage: "meta learner", Err: err}
		}
		ens.Meta = meta
	case CombineVoting:
		ens.Weights = votingWeights(accs, cfg.VotingTemperature)
		report.Weights = make(map[string]float64, len(learners))
		for i, l := range learners {
			report.Weights[l.Name()] = ens.Weights[i]
		}
	}

	if err := fitQuantiles(ctx, ens, cfg, Xtr, learn.Values(scores, trainIdx)); err != nil {
		return nil, ResilienceReport{}, err
	}

	hits := 0
	lower := make([]float64, len(evalX))
	upper := make([]float64, len(evalX))
	for i, x := range evalX {
		p, _ := ens.combine(x)
		if learn.Argmax(p) == evalY[i] {
			hits++
		}
		iv := ens.interval(x)
		lower[i], upper[i] = iv.Lower, iv.Upper
		report.IntervalWidth += iv.Width
	}
	if len(evalX) > 0 {
		report.EnsembleAccuracy = float64(hits) / float64(len(evalX))
		report.IntervalWidth /= float64(len(evalX))
	}
	evalScores := learn.Values(scores, valIdx)
	if len(valIdx) == 0 {
		evalScores = learn.Values(scores, trainIdx)
	}
	report.Coverage = learn.Coverage(evalScores, lower, upper)

	logger.Info("resilience ensemble trained",
		"sectors", report.Sectors,
		"mode", report.Mode,
		"combination", report.Combination,
		"accuracy", report.EnsembleAccuracy,
		"coverage", report.Coverage,
	)
	return ens, report, nil
}

// fitBaseLearners fits the learners in a bounded pool. Any failure, including
// a panic, discards the partial results and refits every learner sequentially.
// workers <= 1 goes straight to the sequential path.
func fitBaseLearners(ctx context.Context, factory func() []learn.Classifier, X [][]float64, y []int, workers int, logger *slog.Logger) ([]learn.Classifier, string, error) {
	if workers > 1 {
		learners := factory()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, l := range learners {
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("%s panicked: %v", l.Name(), r)
					}
				}()
				if err := gctx.Err(); err != nil {
					return err
				}
				return l.Fit(X, y, numClasses)
			})
		}
		err := g.Wait()
		if err == nil {
			return learners, ModeParallel, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		logger.Warn("parallel learner fit failed, retrying sequentially", "error", err)
	}

	learners := factory()
	for _, l := range learners {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		if err := fitGuarded(l, X, y); err != nil {
			return nil, "", &domain.TrainingError{Stage: "base learners", Err: err}
		}
	}
	return learners, ModeSequential, nil
}

func fitGuarded(l learn.Classifier, X [][]float64, y []int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", l.Name(), r)
		}
	}()
	if err := l.Fit(X, y, numClasses); err != nil {
		return fmt.Errorf("%s: %w", l.Name(), err)
	}
	return nil
}

func fitQuantiles(ctx context.Context, ens *ResilienceEnsemble, cfg ResilienceConfig, X [][]float64, scores []float64) error {
	ens.QuantileModels = make([][]learn.QuantileRegressor, len(cfg.Quantiles))
	for i, q := range cfg.Quantiles {
		family := cfg.newQuantileFamily(q)
		for _, m := range family {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.Fit(X, scores); err != nil {
				return &domain.TrainingError{Stage: "quantile " + m.Name(), Err: err}
			}
		}
		ens.QuantileModels[i] = family
	}
	return nil
}

func classify(c learn.Classifier, X [][]float64) []int {
	out := make([]int, len(X))
	for i, x := range X {
		out[i] = learn.Argmax(c.PredictProba(x))
	}
	return out
}

// metaRow concatenates the class probabilities of every learner.
func metaRow(probas [][]float64) []float64 {
	out := make([]float64, 0, len(probas)*numClasses)
	for _, p := range probas {
		out = append(out, p...)
	}
	return out
}

func metaRows(learners []learn.Classifier, X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	probas := make([][]float64, len(learners))
	for i, x := range X {
		for j, l := range learners {
			probas[j] = l.PredictProba(x)
		}
		out[i] = metaRow(probas)
	}
	return out
}

// votingWeights is a softmax of accuracies at the given temperature.
func votingWeights(accs []float64, temperature float64) []float64 {
	z := make([]float64, len(accs))
	for i, a := range accs {
		z[i] = a / temperature
	}
	return learn.Softmax(z)
}

func weightedVote(probas [][]float64, weights []float64) []float64 {
	out := make([]float64, numClasses)
	for i, p := range probas {
		for k, v := range p {
			out[k] += weights[i] * v
		}
	}
	return out
}

// voteVariance is the per-class population variance across learners,
// averaged over classes.
func voteVariance(probas [][]float64) float64 {
	if len(probas) == 0 {
		return 0
	}
	var total float64
	col := make([]float64, len(probas))
	for k := 0; k < numClasses; k++ {
		for i, p := range probas {
			col[i] = p[k]
		}
		sd := domain.PopStd(col)
		total += sd * sd
	}
	return total / numClasses
}

type resilienceJSON struct {
	FeatureNames   []string               `json:"feature_names"`
	Scaler         *learn.Scaler          `json:"scaler"`
	Combination    string                 `json:"combination"`
	Learners       []learn.ClassifierBox  `json:"learners"`
	Weights        []float64              `json:"weights,omitempty"`
	Meta           *learn.ClassifierBox   `json:"meta,omitempty"`
	Quantiles      []float64              `json:"quantiles"`
	QuantileModels [][]learn.RegressorBox `json:"quantile_models"`
	Cuts           [2]float64             `json:"cuts"`
}

func (e *ResilienceEnsemble) MarshalJSON() ([]byte, error) {
	out := resilienceJSON{
		FeatureNames: e.FeatureNames,
		Scaler:       e.Scaler,
		Combination:  e.Combination,
		Weights:      e.Weights,
		Quantiles:    e.Quantiles,
		Cuts:         e.Cuts,
	}
	for _, l := range e.Learners {
		box, err := learn.BoxClassifier(l)
		if err != nil {
			return nil, err
		}
		out.Learners = append(out.Learners, box)
	}
	if e.Meta != nil {
		box, err := learn.BoxClassifier(e.Meta)
		if err != nil {
			return nil, err
		}
		out.Meta = &box
	}
	for _, family := range e.QuantileModels {
		boxes := make([]learn.RegressorBox, len(family))
		for i, m := range family {
			box, err := learn.BoxRegressor(m)
			if err != nil {
				return nil, err
			}
			boxes[i] = box
		}
		out.QuantileModels = append(out.QuantileModels, boxes)
	}
	return json.Marshal(out)
}

func (e *ResilienceEnsemble) UnmarshalJSON(data []byte) error {
	var raw resilienceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Scaler == nil {
		return errors.New("resilience ensemble: missing scaler")
	}
	out := ResilienceEnsemble{
		FeatureNames: raw.FeatureNames,
		Scaler:       raw.Scaler,
		Combination:  raw.Combination,
		Weights:      raw.Weights,
		Quantiles:    raw.Quantiles,
		Cuts:         raw.Cuts,
	}
	for _, box := range raw.Learners {
		c, err := box.Classifier()
		if err != nil {
			return fmt.Errorf("resilience learner: %w", err)
		}
		out.Learners = append(out.Learners, c)
	}
	if raw.Meta != nil {
		meta, err := raw.Meta.Classifier()
		if err != nil {
			return fmt.Errorf("resilience meta learner: %w", err)
		}
		out.Meta = meta
	}
	for _, boxes := range raw.QuantileModels {
		family := make([]learn.QuantileRegressor, len(boxes))
		for i, box := range boxes {
			q, err := box.QuantileRegressor()
			if err != nil {
				return fmt.Errorf("resilience quantile model: %w", err)
			}
			family[i] = q
		}
		out.QuantileModels = append(out.QuantileModels, family)
	}
	*e = out
	return e.Validate()
}

// Validate checks the ensemble is complete and matches the classifier schema.
func (e *ResilienceEnsemble) Validate() error {
	if !slices.Equal(e.FeatureNames, ClassifierFeatureNames()) {
		return errors.New("resilience ensemble: feature schema mismatch")
	}
	if e.Scaler.Width() != len(e.FeatureNames) {
		return fmt.Errorf("resilience ensemble: scaler width %d, want %d", e.Scaler.Width(), len(e.FeatureNames))
	}
	if len(e.Learners) == 0 {
		return errors.New("resilience ensemble: no base learners")
	}
	switch e.Combination {
	case CombineStacking:
		if e.Meta == nil {
			return errors.New("resilience ensemble: stacking without meta learner")
		}
	case CombineVoting:
		if len(e.Weights) != len(e.Learners) {
			return errors.New("resilience ensemble: voting weights do not match learners")
		}
	default:
		return fmt.Errorf("resilience ensemble: unknown combination %q", e.Combination)
	}
	if len(e.QuantileModels) < 2 || len(e.QuantileModels) != len(e.Quantiles) {
		return errors.New("resilience ensemble: incomplete quantile models")
	}
	for _, family := range e.QuantileModels {
		if len(family) == 0 {
			return errors.New("resilience ensemble: empty quantile family")
		}
	}
	return nil
}
