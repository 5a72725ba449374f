// Package flood reads active flood warnings from the Environment Agency
// flood-monitoring API and scores them on the 0-10 hazard scale.
package flood

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/couchcryptid/property-forecast/internal/adapter/httpclient"
	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/sources"
)

// DefaultBaseURL is the public flood-monitoring endpoint.
const DefaultBaseURL = "https://environment.data.gov.uk/flood-monitoring/id"

// DefaultRadiusKm is the search radius around the postcode.
const DefaultRadiusKm = 1.0

const sourceName = "Environment Agency"

// severityScores maps warning severity levels (1 severe .. 3 alert) to scores.
var severityScores = map[int]float64{1: 10, 2: 7, 3: 4}

// Client implements sources.Source for flood warnings.
type Client struct {
	http     *httpclient.Client
	baseURL  string
	radiusKm float64
	logger   *slog.Logger
}

// NewClient creates a flood-monitoring client.
func NewClient(baseURL string, radiusKm float64, opts httpclient.Options, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	return &Client{
		http:     httpclient.New("flood", opts),
		baseURL:  baseURL,
		radiusKm: radiusKm,
		logger:   logger,
	}
}

func (c *Client) Name() string { return "flood" }

// Fetch scores the most severe active warning within the radius.
func (c *Client) Fetch(ctx context.Context, q sources.Query) (sources.Observation, error) {
	if q.Location == nil {
		return sources.Observation{}, sources.ErrNoLocation
	}
	reading, err := c.Lookup(ctx, q.Location.Lat, q.Location.Lng)
	if err != nil {
		return sources.Observation{}, err
	}
	return sources.Observation{Flood: &reading}, nil
}

// Lookup returns the flood reading at a coordinate.
func (c *Client) Lookup(ctx context.Context, lat, lng float64) (domain.HazardReading, error) {
	params := url.Values{
		"lat":  {strconv.FormatFloat(lat, 'f', 6, 64)},
		"long": {strconv.FormatFloat(lng, 'f', 6, 64)},
		"dist": {strconv.FormatFloat(c.radiusKm, 'f', -1, 64)},
	}
	var resp response
	if err := c.http.GetJSON(ctx, c.baseURL+"/floods", params, &resp); err != nil {
		return domain.HazardReading{}, err
	}
	return score(resp.Items), nil
}

// score picks the most severe warning. Levels outside 1..3 count as no warning.
func score(items []item) domain.HazardReading {
	reading := domain.HazardReading{
		Level:        domain.LevelLow,
		ActiveAlerts: len(items),
		Source:       sourceName,
	}
	best := 4
	for _, it := range items {
		if _, known := severityScores[it.SeverityLevel]; known && it.SeverityLevel < best {
			best = it.SeverityLevel
			reading.Message = it.Message
		}
	}
	reading.Score = severityScores[best]
	reading.Level = domain.FloodLevel(reading.Score)
	return reading
}

// Flood-monitoring API response types.

type response struct {
	Items []item `json:"items"`
}

type item struct {
	SeverityLevel int    `json:"severityLevel"`
	Severity      string `json:"severity"`
	Message       string `json:"message"`
	Description   string `json:"description"`
}
