package spatial

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/property-forecast/internal/domain"
)

// LoadCentroidsCSV reads centroids from a CSV with a header naming
// postcode_sector, latitude and longitude columns (in any order). Rows with
// unparseable coordinates are skipped.
func LoadCentroidsCSV(r io.Reader) ([]Centroid, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read centroid header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	sectorCol, okS := cols["postcode_sector"]
	latCol, okLat := cols["latitude"]
	lngCol, okLng := cols["longitude"]
	if !okS || !okLat || !okLng {
		return nil, errors.New("centroid CSV needs postcode_sector, latitude and longitude columns")
	}

	var out []Centroid
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read centroid row: %w", err)
		}
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(row[latCol]), 64)
		lng, errLng := strconv.ParseFloat(strings.TrimSpace(row[lngCol]), 64)
		if errLat != nil || errLng != nil || strings.TrimSpace(row[sectorCol]) == "" {
			continue
		}
		out = append(out, Centroid{Sector: row[sectorCol], Lat: lat, Lng: lng})
	}
	return out, nil
}

// CentroidsFromLocations averages geocoded postcode coordinates per sector.
func CentroidsFromLocations(locs []domain.Location) []Centroid {
	type acc struct {
		lat, lng float64
		n        int
	}
	sums := make(map[string]*acc)
	for _, l := range locs {
		sector, ok := domain.Sector(l.Postcode)
		if !ok {
			continue
		}
		a, ok := sums[sector]
		if !ok {
			a = &acc{}
			sums[sector] = a
		}
		a.lat += l.Lat
		a.lng += l.Lng
		a.n++
	}

	out := make([]Centroid, 0, len(sums))
	for sector, a := range sums {
		out = append(out, Centroid{Sector: sector, Lat: a.lat / float64(a.n), Lng: a.lng / float64(a.n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sector < out[j].Sector })
	return out
}
