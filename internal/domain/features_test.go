package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFeatures_SchemaOrder(t *testing.T) {
	s := SectorYearSample{
		PriceMedian: 100, TxCount: 4, Volatility: 0.1, FloodRisk: 7, CrimeRate: 2,
		MarketRegime: 0.3, Growth: [3]float64{0.01, 0.03, 0.05},
	}

	values := BuildFeatures(s).Values()
	assert.Equal(t, []float64{100, 4, 0.1, 7, 2, 0.3, 0.01, 0.03, 0.05}, values)
	assert.Len(t, FeatureNames(), len(values))
}

func TestFeatureNames_ReturnsCopy(t *testing.T) {
	names := FeatureNames()
	names[0] = "mutated"
	assert.Equal(t, "current_price", FeatureNames()[0])
}

func TestSnapshot(t *testing.T) {
	samples := []SectorYearSample{
		{Sector: "A1 1", Year: 2018, PriceMedian: 1},
		{Sector: "A1 1", Year: 2022, PriceMedian: 2},
		{Sector: "A1 1", Year: 2023, PriceMedian: 3},
		{Sector: "B2 2", Year: 2020, PriceMedian: 4}, // outside the window
		{Sector: "C3 3", Year: 2024, PriceMedian: 5},
	}

	snap := Snapshot(samples)
	require.Len(t, snap, 2)
	assert.Equal(t, 2023, snap["A1 1"].Year)
	assert.Equal(t, 3.0, snap["A1 1"].CurrentPrice)
	assert.Equal(t, 5.0, snap["C3 3"].CurrentPrice)
	_, ok := snap["B2 2"]
	assert.False(t, ok)
	assert.Equal(t, []string{"A1 1", "C3 3"}, SortedSectors(snap))

	assert.Empty(t, Snapshot(nil))
}

func TestDefaultStats(t *testing.T) {
	samples := []SectorYearSample{
		{PriceMedian: 100, TxCount: 2, FloodRisk: 4, Growth: [3]float64{0.1, 0, 0}},
		{PriceMedian: 300, TxCount: 4, FloodRisk: 0, Growth: [3]float64{0.3, 0, 0}},
	}

	d := DefaultStats(samples)
	assert.Equal(t, 200.0, d.CurrentPrice)
	assert.Equal(t, 3.0, d.TxVolume)
	assert.Equal(t, 2.0, d.FloodRisk)
	assert.InDelta(t, 0.2, d.Growth1y, 1e-12)
	assert.Empty(t, d.Sector)

	assert.Equal(t, SectorStats{}, DefaultStats(nil))
}

func TestSectorStats_FeaturesRoundTrip(t *testing.T) {
	s := SectorYearSample{Sector: "A1 1", Year: 2020, PriceMedian: 10, TxCount: 3, Growth: [3]float64{1, 2, 3}}
	assert.Equal(t, BuildFeatures(s), statsFromSample(s).Features())
}

func TestProfiles(t *testing.T) {
	samples := []SectorYearSample{
		{Sector: "A1 1", Year: 2012, PriceMedian: 100, Volatility: 0.1, TxCount: 5},
		{Sector: "A1 1", Year: 2010, PriceMedian: 80, Volatility: 0.3, TxCount: 3},
		{Sector: "A1 1", Year: 2011, PriceMedian: 60, Volatility: 0.2, TxCount: 4},
		{Sector: "A1 1", Year: 2013, PriceMedian: 90, Volatility: 0.2, TxCount: 7, Growth: [3]float64{-0.1, 0, 0}},
	}

	p := Profiles(samples)["A1 1"]
	assert.Equal(t, 4, p.Years)
	assert.Equal(t, 2013, p.Latest.Year)
	assert.Equal(t, 90.0, p.MedianPrice)
	assert.Equal(t, -0.1, p.Growth1y)
	assert.InDelta(t, 0.2, p.Volatility, 1e-12)
	assert.InDelta(t, 0.25, p.Drawdown, 1e-12) // 80 -> 60
	assert.InDelta(t, 0.0400419, p.Growth, 1e-6)
	assert.Equal(t, 7.0, p.RecentTxCount)
}

func TestFloodLevel(t *testing.T) {
	assert.Equal(t, LevelHigh, FloodLevel(10))
	assert.Equal(t, LevelMediumHigh, FloodLevel(7))
	assert.Equal(t, LevelMedium, FloodLevel(4))
	assert.Equal(t, LevelLow, FloodLevel(0))
	assert.Equal(t, "3y", HorizonKey(3))
}
