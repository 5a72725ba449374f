package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RawTransaction is an unvalidated row from the collector. Every column is kept
// as text so JSON and CSV sources share one parser.
type RawTransaction struct {
	Price          string
	Date           string
	Postcode       string
	FloodRiskScore string
	CrimeRate      string
}

// TransactionRecord is a validated sale.
type TransactionRecord struct {
	Date           time.Time `json:"date"`
	Price          float64   `json:"price"`
	Postcode       string    `json:"postcode"`
	Sector         string    `json:"sector"`
	FloodRiskScore float64   `json:"flood_risk_score"`
	CrimeRate      float64   `json:"crime_rate"`
}

// Year returns the calendar year of the sale.
func (t TransactionRecord) Year() int { return t.Date.Year() }

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
	"Mon, 02 Jan 2006",
}

type rawTransactionJSON struct {
	Price          json.RawMessage `json:"price"`
	Date           json.RawMessage `json:"date"`
	Postcode       json.RawMessage `json:"postcode"`
	FloodRiskScore json.RawMessage `json:"flood_risk_score"`
	CrimeRate      json.RawMessage `json:"crime_rate"`
}

// DecodeRawTransaction reads the collector's flat JSON row. Numeric columns may
// be numbers or strings.
func DecodeRawTransaction(data []byte) (RawTransaction, error) {
	var rec rawTransactionJSON
	if err := json.Unmarshal(data, &rec); err != nil {
		return RawTransaction{}, fmt.Errorf("decode raw transaction: %w", err)
	}
	return RawTransaction{
		Price:          scalarText(rec.Price),
		Date:           scalarText(rec.Date),
		Postcode:       scalarText(rec.Postcode),
		FloodRiskScore: scalarText(rec.FloodRiskScore),
		CrimeRate:      scalarText(rec.CrimeRate),
	}, nil
}

// scalarText renders a JSON scalar as plain text; null and absent become "".
func scalarText(m json.RawMessage) string {
	m = bytes.TrimSpace(m)
	if len(m) == 0 || bytes.Equal(m, []byte("null")) {
		return ""
	}
	if m[0] == '"' {
		var s string
		if err := json.Unmarshal(m, &s); err != nil {
			return ""
		}
		return s
	}
	return string(m)
}

// ParseTransaction validates a raw row. Failures are returned as *DataError.
func ParseTransaction(raw RawTransaction) (TransactionRecord, error) {
	price, err := strconv.ParseFloat(strings.TrimSpace(raw.Price), 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return TransactionRecord{}, &DataError{Field: "price", Value: raw.Price, Reason: "not a number"}
	}
	if price <= 0 {
		return TransactionRecord{}, &DataError{Field: "price", Value: raw.Price, Reason: "must be positive"}
	}

	date, ok := parseDate(raw.Date)
	if !ok {
		return TransactionRecord{}, &DataError{Field: "date", Value: raw.Date, Reason: "unrecognised format"}
	}

	postcode := NormalizePostcode(raw.Postcode)
	sector, ok := Sector(postcode)
	if !ok {
		return TransactionRecord{}, &DataError{Field: "postcode", Value: raw.Postcode, Reason: "no inward code"}
	}

	return TransactionRecord{
		Date:           date,
		Price:          price,
		Postcode:       postcode,
		Sector:         sector,
		FloodRiskScore: parseNonNegative(raw.FloodRiskScore),
		CrimeRate:      parseNonNegative(raw.CrimeRate),
	}, nil
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseNonNegative parses an optional hazard column, returning 0 when it is
// empty, unparseable, non-finite or negative.
func parseNonNegative(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// NormalizePostcode upper-cases a postcode and collapses internal whitespace.
func NormalizePostcode(postcode string) string {
	return strings.Join(strings.Fields(strings.ToUpper(postcode)), " ")
}

// Sector derives the postcode sector, e.g. "sw7 3rp" -> "SW7 3". It reports
// false when the postcode has no space-delimited inward part.
func Sector(postcode string) (string, bool) {
	parts := strings.Fields(strings.ToUpper(postcode))
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + " " + parts[1][:1], true
}
