package domain

import (
	"math"
	"sort"
)

// SectorProfile summarises a sector's whole history for the resilience classifier.
type SectorProfile struct {
	Sector        string
	Latest        SectorYearSample
	Years         int
	MedianPrice   float64 // latest yearly median
	Growth1y      float64 // latest one-year growth
	Growth        float64 // compound annual growth, first to latest year
	Volatility    float64 // mean yearly volatility
	Drawdown      float64 // largest peak-to-trough decline of yearly medians, in [0,1]
	RecentTxCount float64 // transactions in the latest year
}

// Profiles builds one profile per sector from ordered samples.
func Profiles(samples []SectorYearSample) map[string]SectorProfile {
	bySector := make(map[string][]SectorYearSample)
	for _, s := range samples {
		bySector[s.Sector] = append(bySector[s.Sector], s)
	}

	out := make(map[string]SectorProfile, len(bySector))
	for sector, rows := range bySector {
		sort.Slice(rows, func(i, j int) bool { return rows[i].Year < rows[j].Year })
		first, last := rows[0], rows[len(rows)-1]

		var volSum, peak, drawdown float64
		for _, r := range rows {
			volSum += r.Volatility
			peak = math.Max(peak, r.PriceMedian)
			if peak > 0 {
				drawdown = math.Max(drawdown, (peak-r.PriceMedian)/peak)
			}
		}

		var cagr float64
		if span := last.Year - first.Year; span > 0 && first.PriceMedian > 0 && last.PriceMedian > 0 {
			cagr = math.Pow(last.PriceMedian/first.PriceMedian, 1/float64(span)) - 1
		}

		out[sector] = SectorProfile{
			Sector:        sector,
			Latest:        last,
			Years:         len(rows),
			MedianPrice:   last.PriceMedian,
			Growth1y:      last.Growth[0],
			Growth:        cagr,
			Volatility:    volSum / float64(len(rows)),
			Drawdown:      drawdown,
			RecentTxCount: float64(last.TxCount),
		}
	}
	return out
}
