package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPostcode = "SW7 3RP"

func TestSector(t *testing.T) {
	tests := []struct {
		name     string
		postcode string
		want     string
		ok       bool
	}{
		{"standard", "SW7 3RP", "SW7 3", true},
		{"lower case", "sw7 3rp", "SW7 3", true},
		{"extra whitespace", "  E1   6AN ", "E1 6", true},
		{"no inward code", "SW73RP", "", false},
		{"empty", "", "", false},
		{"three parts", "SW7 3 RP", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Sector(tt.postcode)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTransaction(t *testing.T) {
	t.Run("valid row", func(t *testing.T) {
		rec, err := ParseTransaction(RawTransaction{
			Price:          "450000",
			Date:           "2021-03-04",
			Postcode:       "sw7 3rp",
			FloodRiskScore: "4",
			CrimeRate:      "2.5",
		})
		require.NoError(t, err)
		assert.Equal(t, 450000.0, rec.Price)
		assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), rec.Date)
		assert.Equal(t, testPostcode, rec.Postcode)
		assert.Equal(t, "SW7 3", rec.Sector)
		assert.Equal(t, 4.0, rec.FloodRiskScore)
		assert.Equal(t, 2.5, rec.CrimeRate)
		assert.Equal(t, 2021, rec.Year())
	})

	t.Run("hazards default to zero", func(t *testing.T) {
		rec, err := ParseTransaction(RawTransaction{Price: "1", Date: "2020-01-01", Postcode: testPostcode})
		require.NoError(t, err)
		assert.Zero(t, rec.FloodRiskScore)
		assert.Zero(t, rec.CrimeRate)
	})

	t.Run("negative hazard clamps to zero", func(t *testing.T) {
		rec, err := ParseTransaction(RawTransaction{Price: "1", Date: "2020-01-01", Postcode: testPostcode, CrimeRate: "-3"})
		require.NoError(t, err)
		assert.Zero(t, rec.CrimeRate)
	})

	t.Run("non-finite hazards default to zero", func(t *testing.T) {
		for _, v := range []string{"Inf", "+Inf", "-Inf", "Infinity", "NaN"} {
			rec, err := ParseTransaction(RawTransaction{
				Price:          "250000",
				Date:           "2020-01-01",
				Postcode:       testPostcode,
				FloodRiskScore: v,
				CrimeRate:      v,
			})
			require.NoError(t, err, v)
			assert.Zero(t, rec.FloodRiskScore, v)
			assert.Zero(t, rec.CrimeRate, v)
		}
	})

	t.Run("alternative date layouts", func(t *testing.T) {
		for _, d := range []string{"2019-06-06T10:00:00Z", "2019-06-06 10:00:00", "06/06/2019", "Thu, 06 Jun 2019"} {
			rec, err := ParseTransaction(RawTransaction{Price: "100", Date: d, Postcode: testPostcode})
			require.NoError(t, err, d)
			assert.Equal(t, 2019, rec.Year(), d)
		}
	})

	invalid := []struct {
		name  string
		raw   RawTransaction
		field string
	}{
		{"unparseable price", RawTransaction{Price: "abc", Date: "2020-01-01", Postcode: testPostcode}, "price"},
		{"zero price", RawTransaction{Price: "0", Date: "2020-01-01", Postcode: testPostcode}, "price"},
		{"negative price", RawTransaction{Price: "-5", Date: "2020-01-01", Postcode: testPostcode}, "price"},
		{"infinite price", RawTransaction{Price: "Inf", Date: "2020-01-01", Postcode: testPostcode}, "price"},
		{"NaN price", RawTransaction{Price: "NaN", Date: "2020-01-01", Postcode: testPostcode}, "price"},
		{"bad date", RawTransaction{Price: "100", Date: "yesterday", Postcode: testPostcode}, "date"},
		{"missing date", RawTransaction{Price: "100", Postcode: testPostcode}, "date"},
		{"postcode without inward", RawTransaction{Price: "100", Date: "2020-01-01", Postcode: "SW7"}, "postcode"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTransaction(tt.raw)
			require.Error(t, err)
			var dataErr *DataError
			require.True(t, errors.As(err, &dataErr))
			assert.Equal(t, tt.field, dataErr.Field)
		})
	}
}

func TestDecodeRawTransaction(t *testing.T) {
	t.Run("numbers and strings", func(t *testing.T) {
		raw, err := DecodeRawTransaction([]byte(`{"price":450000,"date":"2021-03-04","postcode":"SW7 3RP","flood_risk_score":"7","crime_rate":null}`))
		require.NoError(t, err)
		assert.Equal(t, "450000", raw.Price)
		assert.Equal(t, "2021-03-04", raw.Date)
		assert.Equal(t, "7", raw.FloodRiskScore)
		assert.Empty(t, raw.CrimeRate)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := DecodeRawTransaction([]byte("{invalid"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode raw transaction")
	})
}
