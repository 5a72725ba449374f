// Command validate performs data integrity checks on the inputs the forecast
// trainer consumes: a transactions CSV, optionally the same rows as a raw JSON
// fixture, and optionally a sector centroid CSV. It verifies column presence,
// row validity, CSV/JSON parity and that the data can train every horizon.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -csv data/mock/transactions.csv \
//	  -json data/mock/transactions.json \
//	  -centroids data/mock/sector_centroids.csv
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/ensemble"
	"github.com/couchcryptid/property-forecast/internal/pipeline"
	"github.com/couchcryptid/property-forecast/internal/spatial"
)

// UK bounding box for centroid sanity checks.
const (
	minLat, maxLat = 49.8, 60.9
	minLng, maxLng = -8.7, 1.8
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	csvPath       string
	jsonPath      string
	centroidsPath string
	minPrice      float64
	strict        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.csvPath, "csv", "", "path to the transactions CSV")
	flag.StringVar(&opts.jsonPath, "json", "", "optional raw JSON fixture holding the same rows")
	flag.StringVar(&opts.centroidsPath, "centroids", "", "optional sector centroid CSV")
	flag.Float64Var(&opts.minPrice, "min-price", pipeline.DefaultMinPrice, "price floor applied at ingestion")
	flag.BoolVar(&opts.strict, "strict", false, "treat rows the parser drops as errors")
	flag.Parse()

	if opts.csvPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(opts); code != 0 {
		os.Exit(code)
	}
}

func run(opts options) int {
	// ── Load all data sources ──
	fmt.Println("=== Property Data Integrity Validation ===")
	fmt.Println()

	csvRows, err := loadCSV(opts.csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load transactions CSV: %v\n", err)
		return 1
	}

	var jsonRows []rawRow
	if opts.jsonPath != "" {
		if jsonRows, err = loadJSON[rawRow](opts.jsonPath); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load JSON fixture: %v\n", err)
			return 1
		}
	}

	var centroids []spatial.Centroid
	if opts.centroidsPath != "" {
		if centroids, err = loadCentroids(opts.centroidsPath); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load centroids: %v\n", err)
			return 1
		}
	}

	transformer := pipeline.NewTransformer(opts.minPrice, slog.New(slog.DiscardHandler))
	records, schema := validateSchema(opts.csvPath, csvRows)

	// ── Run validation phases ──
	phases := []*phase{
		schema,
		validateRows(csvRows, transformer, opts.strict),
	}
	if opts.jsonPath != "" {
		phases = append(phases, validateJSONParity(jsonRows, records))
	}
	valid, _ := transformer.ParseAll(records)
	phases = append(phases, validateCoverage(valid, centroids, opts.centroidsPath != ""))

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d CSV rows, %d valid, %d JSON rows, %d centroids\n",
		len(csvRows), len(valid), len(jsonRows), len(centroids))

	for _, p := range phases {
		for _, n := range p.notes {
			fmt.Printf("  Note (%s): %s\n", p.name, n)
		}
	}

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// csvRow is a parsed CSV row with field values keyed by lowercased header name.
type csvRow struct {
	lineNum int
	width   int
	fields  map[string]string
}

// rawRow mirrors the collector's JSON row.
type rawRow struct {
	Price          json.RawMessage `json:"price"`
	Date           json.RawMessage `json:"date"`
	Postcode       json.RawMessage `json:"postcode"`
	FloodRiskScore json.RawMessage `json:"flood_risk_score"`
	CrimeRate      json.RawMessage `json:"crime_rate"`
}

func loadCSV(path string) ([]csvRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) < 2 {
		return nil, fmt.Errorf("no data rows in %s", path)
	}

	header := all[0]
	var rows []csvRow
	for i, row := range all[1:] {
		fields := make(map[string]string, len(header))
		for j, h := range header {
			if j < len(row) {
				fields[strings.ToLower(strings.TrimSpace(h))] = strings.TrimSpace(row[j])
			}
		}
		rows = append(rows, csvRow{lineNum: i + 2, width: len(row), fields: fields})
	}
	return rows, nil
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func loadCentroids(path string) ([]spatial.Centroid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return spatial.LoadCentroidsCSV(f)
}

// ── Phase 1: Schema ──
// Validates the CSV through the ingestion reader and checks row widths.

func validateSchema(path string, rows []csvRow) ([]domain.RawTransaction, *phase) {
	p := &phase{name: "Phase 1: Schema (CSV columns)"}

	records, err := pipeline.ReadTransactionsFile(path)
	if err != nil {
		p.errorf("ingestion reader rejected the file: %v", err)
		return nil, p
	}
	if len(records) != len(rows) {
		p.errorf("row count: ingestion reader saw %d, raw CSV has %d", len(records), len(rows))
	}

	widths := map[int]int{}
	for _, r := range rows {
		widths[r.width]++
	}
	if len(widths) > 1 {
		p.errorf("rows have inconsistent widths: %v", widths)
	}

	for _, opt := range []string{"flood_risk_score", "crime_rate"} {
		if len(rows) > 0 {
			if _, ok := rows[0].fields[opt]; !ok {
				p.notef("optional column %q absent; hazards default to 0", opt)
			}
		}
	}
	return records, p
}

// ── Phase 2: Row validity ──
// Runs every row through the ingestion parser and price floor.

func validateRows(rows []csvRow, transformer *pipeline.TransactionTransformer, strict bool) *phase {
	p := &phase{name: "Phase 2: Row Validity (parser)"}

	dropsByField := map[string]int{}
	now := domain.Now()
	for _, row := range rows {
		raw := rawFromCSV(row)
		rec, err := transformer.Parse(raw)
		if err != nil {
			var de *domain.DataError
			field := "unknown"
			if errors.As(err, &de) {
				field = de.Field
			}
			dropsByField[field]++
			if strict {
				p.errorf("line %d: %v", row.lineNum, err)
			}
			continue
		}
		if rec.Date.After(now) {
			p.errorf("line %d: sale date %s is in the future", row.lineNum, rec.Date.Format("2006-01-02"))
		}
		if rec.FloodRiskScore > 10 {
			p.errorf("line %d: flood_risk_score %g above the 0-10 scale", row.lineNum, rec.FloodRiskScore)
		}
	}

	total := 0
	for field, n := range dropsByField {
		total += n
		p.notef("%d rows dropped for invalid %s", n, field)
	}
	if total == len(rows) && len(rows) > 0 {
		p.errorf("every row was dropped")
	}
	return p
}

func rawFromCSV(row csvRow) domain.RawTransaction {
	pick := func(names ...string) string {
		for _, n := range names {
			if v, ok := row.fields[n]; ok {
				return v
			}
		}
		return ""
	}
	return domain.RawTransaction{
		Date:           pick("history_date", "date"),
		Price:          pick("history_price", "price"),
		Postcode:       row.fields["postcode"],
		FloodRiskScore: row.fields["flood_risk_score"],
		CrimeRate:      row.fields["crime_rate"],
	}
}

// ── Phase 3: JSON parity ──
// Validates that the raw JSON fixture decodes to the same rows as the CSV.

func validateJSONParity(jsonRows []rawRow, csvRecords []domain.RawTransaction) *phase {
	p := &phase{name: "Phase 3: JSON Parity (fixture vs CSV)"}

	if len(jsonRows) != len(csvRecords) {
		p.errorf("row count: JSON has %d, CSV has %d", len(jsonRows), len(csvRecords))
		return p
	}

	for i, jr := range jsonRows {
		data, err := json.Marshal(jr)
		if err != nil {
			p.errorf("JSON row %d: %v", i, err)
			continue
		}
		decoded, err := domain.DecodeRawTransaction(data)
		if err != nil {
			p.errorf("JSON row %d: %v", i, err)
			continue
		}
		compareRows(p, i, decoded, csvRecords[i])
	}
	return p
}

func compareRows(p *phase, i int, got, want domain.RawTransaction) {
	check := func(name, g, w string) {
		if g != w {
			p.errorf("row %d: %s: JSON=%q, CSV=%q", i, name, g, w)
		}
	}
	check("price", got.Price, want.Price)
	check("date", got.Date, want.Date)
	check("postcode", got.Postcode, want.Postcode)
	check("flood_risk_score", got.FloodRiskScore, want.FloodRiskScore)
	check("crime_rate", got.CrimeRate, want.CrimeRate)
}

// ── Phase 4: Training coverage ──
// Validates the data yields enough labelled samples to train every horizon
// and that centroids cover the snapshot sectors.

func validateCoverage(records []domain.TransactionRecord, centroids []spatial.Centroid, checkCentroids bool) *phase {
	p := &phase{name: "Phase 4: Training Coverage (samples)"}

	samples := domain.AttachTargets(domain.Aggregate(records, domain.DefaultAggregateOptions()))
	if len(samples) == 0 {
		p.errorf("no sector-year bucket reaches %d sales", domain.MinTransactions)
		return p
	}

	minSamples := ensemble.DefaultRegressionConfig().MinSamples
	for _, h := range domain.Horizons {
		_, y := domain.HorizonSet(samples, h)
		if len(y) < minSamples {
			p.errorf("%s horizon: %d labelled samples, need %d", domain.HorizonKey(h), len(y), minSamples)
		}
	}

	snapshot := domain.Snapshot(samples)
	if minSectors := ensemble.DefaultResilienceConfig().MinSectors; len(snapshot) < minSectors {
		p.notef("%d sectors; resilience training needs %d and will be skipped", len(snapshot), minSectors)
	}

	if !checkCentroids {
		return p
	}
	index := spatial.NewIndex(centroids)
	for _, sector := range domain.SortedSectors(snapshot) {
		if _, ok := index.Lookup(sector); !ok {
			p.errorf("sector %s has no centroid", sector)
		}
	}
	for _, c := range centroids {
		if c.Lat < minLat || c.Lat > maxLat || c.Lng < minLng || c.Lng > maxLng {
			p.errorf("centroid %s (%g, %g) is outside the UK", c.Sector, c.Lat, c.Lng)
		}
	}
	return p
}
