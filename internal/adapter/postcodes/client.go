// Package postcodes geocodes UK postcodes through the postcodes.io API.
package postcodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/couchcryptid/property-forecast/internal/adapter/httpclient"
	"github.com/couchcryptid/property-forecast/internal/domain"
)

// DefaultBaseURL is the public postcodes.io endpoint.
const DefaultBaseURL = "https://api.postcodes.io"

// ErrNotFound is returned for postcodes the API does not know.
var ErrNotFound = errors.New("postcode not found")

// Client implements domain.Geocoder using postcodes.io.
type Client struct {
	http    *httpclient.Client
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a postcodes.io client.
func NewClient(baseURL string, opts httpclient.Options, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpclient.New("postcodes", opts),
		baseURL: baseURL,
		logger:  logger,
	}
}

// Geocode looks up the centroid of a postcode.
func (c *Client) Geocode(ctx context.Context, postcode string) (domain.Location, error) {
	postcode = domain.NormalizePostcode(postcode)
	if postcode == "" {
		return domain.Location{}, domain.ErrMissingIdentifier
	}

	var resp response
	u := fmt.Sprintf("%s/postcodes/%s", c.baseURL, url.PathEscape(postcode))
	if err := c.http.GetJSON(ctx, u, nil, &resp); err != nil {
		if httpclient.IsNotFound(err) {
			return domain.Location{}, fmt.Errorf("%s: %w", postcode, ErrNotFound)
		}
		return domain.Location{}, err
	}
	if resp.Result == nil {
		return domain.Location{}, fmt.Errorf("%s: %w", postcode, ErrNotFound)
	}

	c.logger.Debug("postcode geocoded", "postcode", postcode,
		"lat", resp.Result.Latitude, "lng", resp.Result.Longitude)
	return domain.Location{
		Postcode: resp.Result.Postcode,
		Lat:      resp.Result.Latitude,
		Lng:      resp.Result.Longitude,
	}, nil
}

// postcodes.io response types.

type response struct {
	Status int     `json:"status"`
	Result *result `json:"result"`
}

type result struct {
	Postcode  string  `json:"postcode"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
