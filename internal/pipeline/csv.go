package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/property-forecast/internal/domain"
)

// Column names accepted by ReadTransactionsCSV. Listing exports name the sale
// columns history_date and history_price; those win when both are present.
var (
	dateColumns  = []string{"history_date", "date"}
	priceColumns = []string{"history_price", "price"}
)

// ReadTransactionsCSV reads a headered transactions CSV. postcode and one of
// each date and price column are required; flood_risk_score and crime_rate
// are optional.
func ReadTransactionsCSV(r io.Reader) ([]domain.RawTransaction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("transactions csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	dateCol, ok := firstColumn(colIdx, dateColumns)
	if !ok {
		return nil, fmt.Errorf("csv has none of the columns %v", dateColumns)
	}
	priceCol, ok := firstColumn(colIdx, priceColumns)
	if !ok {
		return nil, fmt.Errorf("csv has none of the columns %v", priceColumns)
	}
	postcodeCol, ok := colIdx["postcode"]
	if !ok {
		return nil, errors.New("csv has no postcode column")
	}
	floodCol, hasFlood := colIdx["flood_risk_score"]
	crimeCol, hasCrime := colIdx["crime_rate"]

	var rows []domain.RawTransaction
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row := domain.RawTransaction{
			Date:     field(rec, dateCol),
			Price:    field(rec, priceCol),
			Postcode: field(rec, postcodeCol),
		}
		if hasFlood {
			row.FloodRiskScore = field(rec, floodCol)
		}
		if hasCrime {
			row.CrimeRate = field(rec, crimeCol)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadTransactionsFile opens path and reads it with ReadTransactionsCSV.
func ReadTransactionsFile(path string) ([]domain.RawTransaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transactions: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	rows, err := ReadTransactionsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

func firstColumn(colIdx map[string]int, names []string) (int, bool) {
	for _, n := range names {
		if i, ok := colIdx[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}
