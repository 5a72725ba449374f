package ensemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/learn"
	"github.com/couchcryptid/property-forecast/internal/spatial"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syntheticRecords generates sales for 15 sectors over 2005..2020. Each
// sector has its own trend and noise level so resilience scores differ.
func syntheticRecords() []domain.TransactionRecord {
	rng := rand.New(rand.NewPCG(1, 2))
	var out []domain.TransactionRecord
	for s := 0; s < 15; s++ {
		postcode := fmt.Sprintf("T%d %dAA", s/5+1, s%5+1)
		base := 200000 + float64(s)*15000
		trend := -0.02 + float64(s)*0.006
		noise := 0.02 + float64(s%4)*0.05
		for year := 2005; year <= 2020; year++ {
			median := base * math.Pow(1+trend, float64(year-2005))
			if s%3 == 0 && year == 2009 {
				median *= 0.8
			}
			for i := 0; i < 4; i++ {
				out = append(out, domain.TransactionRecord{
					Date:           time.Date(year, time.Month(i*3+1), 10, 0, 0, 0, 0, time.UTC),
					Price:          median * (1 + noise*rng.NormFloat64()),
					Postcode:       postcode,
					Sector:         postcode[:len(postcode)-2],
					FloodRiskScore: float64(s % 11),
					CrimeRate:      float64(s%7) + 0.5,
				})
			}
		}
	}
	return out
}

func syntheticSamples() []domain.SectorYearSample {
	return domain.AttachTargets(domain.Aggregate(syntheticRecords(), domain.DefaultAggregateOptions()))
}

func syntheticIndex() *spatial.Index {
	var cs []spatial.Centroid
	for s := 0; s < 15; s++ {
		cs = append(cs, spatial.Centroid{
			Sector: fmt.Sprintf("T%d %d", s/5+1, s%5+1),
			Lat:    51 + float64(s/5)*0.05,
			Lng:    -0.1 + float64(s%5)*0.03,
		})
	}
	return spatial.NewIndex(cs)
}

func fastRegressionConfig() RegressionConfig {
	cfg := DefaultRegressionConfig()
	cfg.Boosting = learn.BoostingConfig{Iterations: 40, LearningRate: 0.1, MaxDepth: 3, MinSamplesLeaf: 5, L2: 0.5}
	return cfg
}

func fastResilienceConfig() ResilienceConfig {
	cfg := DefaultResilienceConfig()
	cfg.Boosting = learn.BoostingConfig{Iterations: 20, LearningRate: 0.1, MaxDepth: 2, MinSamplesLeaf: 2, L2: 0.5}
	cfg.Forest = learn.ForestConfig{Trees: 15, MaxDepth: 4, MinSamplesLeaf: 1}
	cfg.Logistic = learn.LogisticConfig{L2: 0.01, Iterations: 200, LearningRate: 0.3}
	return cfg
}

func TestTrainRegression(t *testing.T) {
	samples := syntheticSamples()

	ens, reports, err := TrainRegression(context.Background(), samples, fastRegressionConfig(), discardLogger())
	require.NoError(t, err)
	require.NoError(t, ens.Validate())
	require.Len(t, reports, len(domain.Horizons))

	for i, h := range domain.Horizons {
		rows, _ := domain.HorizonSet(samples, h)
		r := reports[i]
		assert.Equal(t, h, r.Horizon)
		assert.Equal(t, len(rows), r.TrainSize+r.ValSize)
		assert.Equal(t, int(math.Ceil(float64(len(rows))*0.2)), r.ValSize)
		assert.Greater(t, r.TrainR2, 0.0)
	}

	// Horizons have different valid rows, so their scalers differ.
	m1, _ := ens.Model(1)
	m5, _ := ens.Model(5)
	assert.NotEqual(t, m1.Scaler.Mean, m5.Scaler.Mean)
}

func TestTrainRegression_Deterministic(t *testing.T) {
	samples := syntheticSamples()
	cfg := fastRegressionConfig()

	a, _, err := TrainRegression(context.Background(), samples, cfg, discardLogger())
	require.NoError(t, err)
	b, _, err := TrainRegression(context.Background(), samples, cfg, discardLogger())
	require.NoError(t, err)

	x := domain.BuildFeatures(samples[len(samples)-1]).Values()
	for _, h := range domain.Horizons {
		ma, _ := a.Model(h)
		mb, _ := b.Model(h)
		pa, err := ma.Predict(x)
		require.NoError(t, err)
		pb, err := mb.Predict(x)
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
	}
}

func TestTrainRegression_Families(t *testing.T) {
	samples := syntheticSamples()
	for _, family := range []string{learn.KindForest, learn.KindRidge} {
		t.Run(family, func(t *testing.T) {
			cfg := fastRegressionConfig()
			cfg.Family = family
			cfg.Forest = learn.ForestConfig{Trees: 10, MaxDepth: 4, MinSamplesLeaf: 2, Seed: 1}
			_, reports, err := TrainRegression(context.Background(), samples, cfg, discardLogger())
			require.NoError(t, err)
			assert.Equal(t, family, reports[0].Family)
		})
	}

	cfg := fastRegressionConfig()
	cfg.Family = "svm"
	_, _, err := TrainRegression(context.Background(), samples, cfg, discardLogger())
	require.Error(t, err)
}

func TestTrainRegression_TooFewSamples(t *testing.T) {
	samples := syntheticSamples()[:4]

	_, _, err := TrainRegression(context.Background(), samples, fastRegressionConfig(), discardLogger())
	var trainErr *domain.TrainingError
	require.True(t, errors.As(err, &trainErr))
	assert.Contains(t, trainErr.Stage, "horizon")
}

func TestTrainRegression_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := TrainRegression(ctx, syntheticSamples(), fastRegressionConfig(), discardLogger())
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegressionEnsemble_JSONRoundTrip(t *testing.T) {
	samples := syntheticSamples()
	ens, _, err := TrainRegression(context.Background(), samples, fastRegressionConfig(), discardLogger())
	require.NoError(t, err)

	data, err := json.Marshal(ens)
	require.NoError(t, err)
	var restored RegressionEnsemble
	require.NoError(t, json.Unmarshal(data, &restored))
	require.NoError(t, restored.Validate())

	x := domain.BuildFeatures(samples[3]).Values()
	for _, h := range domain.Horizons {
		orig, _ := ens.Model(h)
		back, _ := restored.Model(h)
		want, _ := orig.Predict(x)
		got, err := back.Predict(x)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-12)
	}

	m, _ := restored.Model(1)
	_, err = m.Predict([]float64{1, 2})
	require.Error(t, err)

	restored.FeatureNames = restored.FeatureNames[:3]
	require.Error(t, restored.Validate())
}

func TestBuildResilienceDataset(t *testing.T) {
	ds := BuildResilienceDataset(syntheticSamples(), syntheticIndex(), spatial.DefaultNeighbors)

	require.Len(t, ds.Rows, 15)
	assert.Equal(t, ClassifierFeatureNames(), ds.FeatureNames)
	assert.LessOrEqual(t, ds.Cuts[0], ds.Cuts[1])

	counts := map[int]int{}
	for _, r := range ds.Rows {
		assert.Len(t, r.Features, len(ds.FeatureNames))
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.Equal(t, ClassifyScore(r.Score, ds.Cuts), r.Class)
		counts[r.Class]++
	}
	for c := ClassLow; c < numClasses; c++ {
		assert.GreaterOrEqual(t, counts[c], 4, ClassNames[c])
	}
}

func TestBuildResilienceDataset_NoIndexGivesZeroLag(t *testing.T) {
	ds := BuildResilienceDataset(syntheticSamples(), nil, 5)
	lagWidth := len(spatial.LagFeatureNames())
	for _, r := range ds.Rows {
		for _, v := range r.Features[len(r.Features)-lagWidth:] {
			assert.Zero(t, v)
		}
	}
}

func TestClassifyScore(t *testing.T) {
	cuts := [2]float64{0.3, 0.6}
	assert.Equal(t, ClassLow, ClassifyScore(0.3, cuts))
	assert.Equal(t, ClassMedium, ClassifyScore(0.31, cuts))
	assert.Equal(t, ClassMedium, ClassifyScore(0.6, cuts))
	assert.Equal(t, ClassHigh, ClassifyScore(0.61, cuts))
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, minMax([]float64{2, 3, 4}))
	assert.Equal(t, []float64{0.5, 0.5}, minMax([]float64{7, 7}))
}

func TestTrainResilience_Stacking(t *testing.T) {
	ens, report, err := TrainResilience(context.Background(), syntheticSamples(), syntheticIndex(), fastResilienceConfig(), discardLogger())
	require.NoError(t, err)
	require.NoError(t, ens.Validate())

	assert.Equal(t, ModeParallel, report.Mode)
	assert.Equal(t, 15, report.Sectors)
	assert.Equal(t, 3, report.ValSize)
	assert.Len(t, report.LearnerAccuracy, 3)
	assert.GreaterOrEqual(t, report.Coverage, 0.0)
	assert.LessOrEqual(t, report.Coverage, 1.0)

	ds := BuildResilienceDataset(syntheticSamples(), syntheticIndex(), spatial.DefaultNeighbors)
	f, err := ens.Predict(ds.Rows[0].Features)
	require.NoError(t, err)

	var sum float64
	for _, p := range f.Probabilities {
		sum += p
	}
	assert.InDelta(t, 1, sum, 1e-9)
	assert.Contains(t, ClassNames[:], f.Class)
	assert.GreaterOrEqual(t, f.Uncertainty, 0.0)
	assert.LessOrEqual(t, f.Uncertainty, math.Log(3)+1e-9)
	assert.InDelta(t, f.Score.Upper-f.Score.Lower, f.Score.Width, 1e-12)

	_, err = ens.Predict([]float64{1})
	require.Error(t, err)
}

func TestTrainResilience_Voting(t *testing.T) {
	cfg := fastResilienceConfig()
	cfg.Combination = CombineVoting

	ens, report, err := TrainResilience(context.Background(), syntheticSamples(), syntheticIndex(), cfg, discardLogger())
	require.NoError(t, err)
	require.Len(t, ens.Weights, 3)
	assert.Nil(t, ens.Meta)

	var sum float64
	for _, w := range report.Weights {
		sum += w
	}
	assert.InDelta(t, 1, sum, 1e-9)

	ds := BuildResilienceDataset(syntheticSamples(), syntheticIndex(), spatial.DefaultNeighbors)
	f, err := ens.Predict(ds.Rows[5].Features)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, f.Uncertainty, 0.0)
	assert.LessOrEqual(t, f.Uncertainty, 0.25)
}

func TestTrainResilience_ParallelMatchesSequential(t *testing.T) {
	samples := syntheticSamples()

	parallelCfg := fastResilienceConfig()
	sequentialCfg := fastResilienceConfig()
	sequentialCfg.Workers = 1

	_, par, err := TrainResilience(context.Background(), samples, syntheticIndex(), parallelCfg, discardLogger())
	require.NoError(t, err)
	_, seq, err := TrainResilience(context.Background(), samples, syntheticIndex(), sequentialCfg, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, ModeParallel, par.Mode)
	assert.Equal(t, ModeSequential, seq.Mode)
	assert.InDelta(t, par.EnsembleAccuracy, seq.EnsembleAccuracy, 1e-9)
	for name, acc := range par.LearnerAccuracy {
		assert.InDelta(t, acc, seq.LearnerAccuracy[name], 1e-9, name)
	}
}

func TestTrainResilience_ValidatesConfig(t *testing.T) {
	cfg := fastResilienceConfig()
	cfg.Combination = "bagging"
	_, _, err := TrainResilience(context.Background(), syntheticSamples(), nil, cfg, discardLogger())
	var trainErr *domain.TrainingError
	require.True(t, errors.As(err, &trainErr))

	cfg = fastResilienceConfig()
	cfg.MinSectors = 100
	_, _, err = TrainResilience(context.Background(), syntheticSamples(), nil, cfg, discardLogger())
	require.True(t, errors.As(err, &trainErr))
	assert.Equal(t, "resilience dataset", trainErr.Stage)
}

func TestResilienceEnsemble_JSONRoundTrip(t *testing.T) {
	for _, combination := range []string{CombineStacking, CombineVoting} {
		t.Run(combination, func(t *testing.T) {
			cfg := fastResilienceConfig()
			cfg.Combination = combination
			ens, _, err := TrainResilience(context.Background(), syntheticSamples(), syntheticIndex(), cfg, discardLogger())
			require.NoError(t, err)

			data, err := json.Marshal(ens)
			require.NoError(t, err)
			var restored ResilienceEnsemble
			require.NoError(t, json.Unmarshal(data, &restored))

			ds := BuildResilienceDataset(syntheticSamples(), syntheticIndex(), spatial.DefaultNeighbors)
			want, err := ens.Predict(ds.Rows[2].Features)
			require.NoError(t, err)
			got, err := restored.Predict(ds.Rows[2].Features)
			require.NoError(t, err)
			assert.Equal(t, want.Class, got.Class)
			assert.InDelta(t, want.Uncertainty, got.Uncertainty, 1e-12)
			assert.InDelta(t, want.Score.Median, got.Score.Median, 1e-12)
		})
	}
}

// flakyClassifier fails the first Fit across every instance sharing calls.
type flakyClassifier struct {
	learn.Classifier
	calls *atomic.Int32
	panic bool
}

func (f *flakyClassifier) Fit(X [][]float64, y []int, classes int) error {
	if f.calls.Add(1) == 1 {
		if f.panic {
			panic("boom")
		}
		return errors.New("transient failure")
	}
	return f.Classifier.Fit(X, y, classes)
}

func TestFitBaseLearners_FallsBackToSequential(t *testing.T) {
	ds := BuildResilienceDataset(syntheticSamples(), nil, 0)
	X, y, _ := ds.Matrix()
	cfg := fastResilienceConfig()

	for _, panics := range []bool{false, true} {
		t.Run(fmt.Sprintf("panic=%v", panics), func(t *testing.T) {
			var calls atomic.Int32
			factory := func() []learn.Classifier {
				base := cfg.newBaseLearners()
				base[1] = &flakyClassifier{Classifier: base[1], calls: &calls, panic: panics}
				return base
			}

			learners, mode, err := fitBaseLearners(context.Background(), factory, X, y, 3, discardLogger())
			require.NoError(t, err)
			assert.Equal(t, ModeSequential, mode)
			require.Len(t, learners, 3)
			assert.Equal(t, int32(2), calls.Load())
			assert.Len(t, learners[0].PredictProba(X[0]), numClasses)
		})
	}
}

func TestFitBaseLearners_SequentialFailureIsFatal(t *testing.T) {
	ds := BuildResilienceDataset(syntheticSamples(), nil, 0)
	X, y, _ := ds.Matrix()

	factory := func() []learn.Classifier {
		return []learn.Classifier{learn.NewLogistic(learn.LogisticConfig{})}
	}
	_, _, err := fitBaseLearners(context.Background(), factory, X, y, 3, discardLogger())
	var trainErr *domain.TrainingError
	require.True(t, errors.As(err, &trainErr))
	assert.Equal(t, "base learners", trainErr.Stage)
}

func TestVotingWeights(t *testing.T) {
	w := votingWeights([]float64{0.9, 0.8, 0.7}, 0.1)
	want := learn.Softmax([]float64{9, 8, 7})
	assert.InDeltaSlice(t, want, w, 1e-12)
	assert.Greater(t, w[0], w[1])

	equal := votingWeights([]float64{0.5, 0.5, 0.5}, 0.1)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, equal, 1e-12)
}

func TestVoteVariance(t *testing.T) {
	same := [][]float64{{0.2, 0.3, 0.5}, {0.2, 0.3, 0.5}}
	assert.Zero(t, voteVariance(same))

	split := [][]float64{{1, 0, 0}, {0, 1, 0}}
	assert.InDelta(t, (0.25+0.25+0)/3, voteVariance(split), 1e-12)
}
