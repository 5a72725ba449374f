package domain

// marketRegime is a macro sentiment proxy (rates, GDP) keyed by calendar year.
var marketRegime = map[int]float64{
	2008: -0.8, 2009: -0.8, // crash
	2010: -0.2, 2011: -0.2, 2012: -0.1, // recovery
	2013: 0.3, 2014: 0.4, 2015: 0.4,
	2016: 0.5, 2017: 0.4, 2018: 0.3, 2019: 0.3,
	2020: 0.8, 2021: 0.9, // covid boom
	2022: 0.2,
	2023: -0.6, // rate shock
	2024: -0.2,
	2025: 0.1, 2026: 0.3, // forecast
}

// MarketRegime returns the regime index for year, or 0 when the year is not tabulated.
func MarketRegime(year int) float64 {
	return marketRegime[year]
}
