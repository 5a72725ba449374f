// Command genmock generates a synthetic property market for local runs and
// test fixtures: a transactions CSV, the same rows as a raw JSON array for the
// Kafka topic, and a sector centroid CSV. It runs the real parsing and
// aggregation code over the output so the printed stats match what the
// service will see.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv-out data/mock/transactions.csv \
//	  -json-out data/mock/transactions.json \
//	  -centroids-out data/mock/sector_centroids.csv
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/pipeline"
)

// areas seeds the synthetic market with real outward codes so centroids sit
// roughly where the sectors are.
var areas = []struct {
	outward  string
	lat, lng float64
	base     float64
	trend    float64
	flood    float64
}{
	{outward: "SW7", lat: 51.494, lng: -0.174, base: 480000, trend: 0.045, flood: 1},
	{outward: "E1", lat: 51.517, lng: -0.059, base: 260000, trend: 0.055, flood: 4},
	{outward: "M1", lat: 53.478, lng: -2.236, base: 110000, trend: 0.050, flood: 1},
	{outward: "LS6", lat: 53.819, lng: -1.573, base: 140000, trend: 0.035, flood: 0},
	{outward: "BS1", lat: 51.453, lng: -2.592, base: 170000, trend: 0.040, flood: 7},
	{outward: "YO1", lat: 53.959, lng: -1.082, base: 190000, trend: 0.030, flood: 10},
}

// rawRow mirrors the collector's JSON row.
type rawRow struct {
	Price          string `json:"price"`
	Date           string `json:"date"`
	Postcode       string `json:"postcode"`
	FloodRiskScore string `json:"flood_risk_score"`
	CrimeRate      string `json:"crime_rate"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvOut := flag.String("csv-out", "", "output path for the transactions CSV")
	jsonOut := flag.String("json-out", "", "optional output path for the raw JSON fixture")
	centroidsOut := flag.String("centroids-out", "", "optional output path for the sector centroid CSV")
	sectorsPerArea := flag.Int("sectors", 4, "sectors generated per outward code")
	fromYear := flag.Int("from", 2005, "first sale year")
	toYear := flag.Int("to", 2024, "last sale year")
	salesPerYear := flag.Int("sales", 8, "sales per sector per year")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	if *csvOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -csv-out")
	}
	if *fromYear > *toYear {
		return fmt.Errorf("-from %d is after -to %d", *fromYear, *toYear)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	rows, centroids := generate(rng, *sectorsPerArea, *fromYear, *toYear, *salesPerYear)
	log.Printf("generated %d sales across %d sectors", len(rows), len(centroids))

	if err := writeTransactionsCSV(*csvOut, rows); err != nil {
		return fmt.Errorf("writing transactions CSV: %w", err)
	}
	log.Printf("wrote transactions CSV: %s", *csvOut)

	if *jsonOut != "" {
		if err := writeJSON(*jsonOut, rows); err != nil {
			return fmt.Errorf("writing JSON fixture: %w", err)
		}
		log.Printf("wrote JSON fixture: %s", *jsonOut)
	}

	if *centroidsOut != "" {
		if err := writeCentroidsCSV(*centroidsOut, centroids); err != nil {
			return fmt.Errorf("writing centroids: %w", err)
		}
		log.Printf("wrote centroids: %s", *centroidsOut)
	}

	printStats(rows)
	return nil
}

type centroid struct {
	sector   string
	lat, lng float64
}

func generate(rng *rand.Rand, sectorsPerArea, fromYear, toYear, salesPerYear int) ([]rawRow, []centroid) {
	var (
		rows      []rawRow
		centroids []centroid
	)
	for _, a := range areas {
		for s := range sectorsPerArea {
			sector := fmt.Sprintf("%s %d", a.outward, s+1)
			centroids = append(centroids, centroid{
				sector: sector,
				lat:    a.lat + rng.NormFloat64()*0.004,
				lng:    a.lng + rng.NormFloat64()*0.006,
			})

			base := a.base * (0.85 + 0.3*rng.Float64())
			trend := a.trend + rng.NormFloat64()*0.01
			crime := 1 + 4*rng.Float64()
			for year := fromYear; year <= toYear; year++ {
				median := base * math.Pow(1+trend, float64(year-fromYear)) * (1 + regimeShock(year))
				for range salesPerYear {
					unit := string(rune('A'+rng.IntN(26))) + string(rune('A'+rng.IntN(26)))
					date := time.Date(year, time.Month(1+rng.IntN(12)), 1+rng.IntN(28), 0, 0, 0, 0, time.UTC)
					price := median * math.Exp(rng.NormFloat64()*0.12)
					rows = append(rows, rawRow{
						Price:          strconv.FormatFloat(math.Round(price), 'f', 0, 64),
						Date:           date.Format("2006-01-02"),
						Postcode:       fmt.Sprintf("%s %d%s", a.outward, s+1, unit),
						FloodRiskScore: strconv.FormatFloat(a.flood, 'f', 0, 64),
						CrimeRate:      strconv.FormatFloat(crime+rng.NormFloat64()*0.3, 'f', 2, 64),
					})
				}
			}
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, centroids
}

// regimeShock moves prices with the market regime index.
func regimeShock(year int) float64 {
	return domain.MarketRegime(year) * 0.08
}

func writeTransactionsCSV(path string, rows []rawRow) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, []string{"date", "price", "postcode", "flood_risk_score", "crime_rate"})
	for _, r := range rows {
		records = append(records, []string{r.Date, r.Price, r.Postcode, r.FloodRiskScore, r.CrimeRate})
	}
	return writeCSV(path, records)
}

func writeCentroidsCSV(path string, centroids []centroid) error {
	records := make([][]string, 0, len(centroids)+1)
	records = append(records, []string{"postcode_sector", "latitude", "longitude"})
	for _, c := range centroids {
		records = append(records, []string{
			c.sector,
			strconv.FormatFloat(c.lat, 'f', 5, 64),
			strconv.FormatFloat(c.lng, 'f', 5, 64),
		})
	}
	return writeCSV(path, records)
}

func writeCSV(path string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close() //nolint:errcheck,gosec // write error wins
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// printStats runs the ingestion parser and the sector-year aggregation over
// the generated rows.
func printStats(rows []rawRow) {
	raw := make([]domain.RawTransaction, len(rows))
	for i, r := range rows {
		raw[i] = domain.RawTransaction{
			Price:          r.Price,
			Date:           r.Date,
			Postcode:       r.Postcode,
			FloodRiskScore: r.FloodRiskScore,
			CrimeRate:      r.CrimeRate,
		}
	}
	records, dropped := pipeline.NewTransformer(pipeline.DefaultMinPrice, slog.New(slog.DiscardHandler)).ParseAll(raw)
	samples := domain.AttachTargets(domain.Aggregate(records, domain.DefaultAggregateOptions()))

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Rows: %d (valid=%d, dropped=%d)\n", len(rows), len(records), dropped)
	fmt.Printf("Sector-year samples: %d (labelled=%d)\n", len(samples), len(domain.Labelled(samples)))
	for _, h := range domain.Horizons {
		_, y := domain.HorizonSet(samples, h)
		fmt.Printf("  %s targets: %d\n", domain.HorizonKey(h), len(y))
	}

	snapshot := domain.Snapshot(samples)
	fmt.Printf("\nSnapshot sectors (%d):\n", len(snapshot))
	for _, sector := range domain.SortedSectors(snapshot) {
		s := snapshot[sector]
		fmt.Printf("  %-6s year=%d price=%.0f growth_1y=%.3f flood=%.0f crime=%.2f\n",
			sector, s.Year, s.CurrentPrice, s.Growth1y, s.FloodRisk, s.CrimeRate)
	}
}
