// Package police derives a crime rate from data.police.uk street-level crimes.
package police

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/url"
	"strconv"

	"github.com/couchcryptid/property-forecast/internal/adapter/httpclient"
	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/sources"
)

// DefaultBaseURL is the public data.police.uk API.
const DefaultBaseURL = "https://data.police.uk/api"

// CrimesPerPoint is how many monthly street crimes add one point to the rate.
const CrimesPerPoint = 25.0

// Client implements sources.Source for street crime.
type Client struct {
	http    *httpclient.Client
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a data.police.uk client.
func NewClient(baseURL string, opts httpclient.Options, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpclient.New("crime", opts),
		baseURL: baseURL,
		logger:  logger,
	}
}

func (c *Client) Name() string { return "crime" }

// Fetch counts the latest month of crimes within a mile of the postcode.
func (c *Client) Fetch(ctx context.Context, q sources.Query) (sources.Observation, error) {
	if q.Location == nil {
		return sources.Observation{}, sources.ErrNoLocation
	}
	params := url.Values{
		"lat": {strconv.FormatFloat(q.Location.Lat, 'f', 6, 64)},
		"lng": {strconv.FormatFloat(q.Location.Lng, 'f', 6, 64)},
	}
	var crimes []json.RawMessage
	if err := c.http.GetJSON(ctx, c.baseURL+"/crimes-street/all-crime", params, &crimes); err != nil {
		return sources.Observation{}, err
	}
	reading := Rate(len(crimes))
	c.logger.Debug("crime rate", "postcode", q.Postcode, "crimes", len(crimes), "rate", reading.Score)
	return sources.Observation{Crime: &reading}, nil
}

// Rate maps a monthly crime count onto the 0-10 scale.
func Rate(count int) domain.HazardReading {
	return domain.HazardReading{
		Score:        math.Min(10, float64(count)/CrimesPerPoint),
		ActiveAlerts: count,
		Source:       "data.police.uk",
	}
}
