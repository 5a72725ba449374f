// Package domain models residential property transactions and the sector-year
// time series the forecasting engine is trained on.
//
// # Postcode Sectors
//
// A UK postcode has an outward code and an inward code separated by a space:
//
//	"SW7 3RP"  →  outward "SW7", inward "3RP"
//
// The sector is the outward code plus the first character of the inward code
// ("SW7 3"). Postcodes without a space-delimited inward part have no sector and
// the record carrying them is dropped. See [Sector].
//
// # Transactions
//
// Rows arrive from the collector as flat JSON (Kafka) or CSV (seed files):
//
//	{"price": 450000, "date": "2021-03-04", "postcode": "SW7 3RP",
//	 "flood_risk_score": 4, "crime_rate": 2.5}
//
// Prices may be JSON numbers or numeric strings and must be positive. Dates are
// accepted in RFC 3339, ISO date, ISO datetime, UK day-first ("04/03/2021") and
// the price-paid linked-data format ("Thu, 04 Mar 2021"). Hazard columns are
// optional and default to 0; negative values are clamped to 0. Any other
// problem yields a [*DataError] and the row is skipped.
//
// # Sector-Year Aggregation
//
// Transactions are bucketed by (sector, calendar year). A bucket needs at least
// [MinTransactions] sales to become a [SectorYearSample]; smaller buckets are
// noise and are discarded. Samples before [DefaultMinYear] are not emitted but
// their buckets still serve as lag history.
//
// Lag features look back 1, 3 and 5 years. When the lagged bucket does not
// exist the lag price is the current price and the growth is 0, i.e. missing
// history is read as a flat market. This understates volatility for thin
// sectors and is kept deliberately so that retrained models stay comparable.
//
// # Targets
//
// A sample's forward growth for horizon h is defined only when the same sector
// has a bucket at year+h. Each horizon trains on its own subset; a sample with
// no valid horizon is excluded from training but still feeds the inference
// snapshot.
//
// # Market Regime
//
// [MarketRegime] is a fixed, calendar-year-indexed sentiment index on roughly
// [-1, +1] (2008 crash, 2020-21 boom, 2023 rate shock). Years outside the table
// are neutral (0).
package domain
