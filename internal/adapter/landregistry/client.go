// Package landregistry reads HM Land Registry price-paid records for a postcode.
package landregistry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/property-forecast/internal/adapter/httpclient"
	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/sources"
)

// DefaultBaseURL is the price-paid linked-data endpoint.
const DefaultBaseURL = "https://landregistry.data.gov.uk/data/ppi/transaction-record.json"

// DefaultPageSize caps the sales fetched per postcode.
const DefaultPageSize = 50

// ErrNoSales is returned when the registry has no sales for a postcode.
var ErrNoSales = errors.New("no price-paid transactions found")

// Client implements sources.Source for price-paid history.
type Client struct {
	http     *httpclient.Client
	baseURL  string
	pageSize int
	logger   *slog.Logger
}

// NewClient creates a price-paid client.
func NewClient(baseURL string, pageSize int, opts httpclient.Options, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{
		http:     httpclient.New("price_paid", opts),
		baseURL:  baseURL,
		pageSize: pageSize,
		logger:   logger,
	}
}

func (c *Client) Name() string { return "price_paid" }

// Fetch returns the sale history of the queried postcode.
func (c *Client) Fetch(ctx context.Context, q sources.Query) (sources.Observation, error) {
	history, err := c.History(ctx, q.Postcode)
	if err != nil {
		return sources.Observation{}, err
	}
	return sources.Observation{Sale: &history}, nil
}

// History lists the sales recorded for postcode, newest first, with summary
// statistics.
func (c *Client) History(ctx context.Context, postcode string) (domain.SaleHistory, error) {
	postcode = domain.NormalizePostcode(postcode)
	if postcode == "" {
		return domain.SaleHistory{}, domain.ErrMissingIdentifier
	}
	params := url.Values{
		"_pageSize":                {strconv.Itoa(c.pageSize)},
		"propertyAddress.postcode": {postcode},
	}
	var resp response
	if err := c.http.GetJSON(ctx, c.baseURL, params, &resp); err != nil {
		return domain.SaleHistory{}, err
	}

	sales := make([]domain.Sale, 0, len(resp.Result.Items))
	for _, it := range resp.Result.Items {
		if it.PricePaid <= 0 {
			continue
		}
		date, _ := parseDate(it.TransactionDate)
		sales = append(sales, domain.Sale{
			Price:        it.PricePaid,
			Date:         date,
			PropertyType: it.PropertyType.label(),
			Tenure:       it.EstateType.label(),
			Address:      it.PropertyAddress.String(),
		})
	}
	if len(sales) == 0 {
		return domain.SaleHistory{}, ErrNoSales
	}
	// Newest first; undated sales sink to the end.
	sort.SliceStable(sales, func(i, j int) bool { return sales[i].Date.After(sales[j].Date) })

	c.logger.Debug("price paid history", "postcode", postcode, "sales", len(sales))
	return domain.SaleHistory{Sales: sales, Stats: Stats(sales)}, nil
}

// Stats summarises sale prices. Median is the upper middle value and Average
// is truncated to whole pounds.
func Stats(sales []domain.Sale) domain.PriceStats {
	if len(sales) == 0 {
		return domain.PriceStats{}
	}
	prices := make([]float64, len(sales))
	var sum float64
	for i, s := range sales {
		prices[i] = s.Price
		sum += s.Price
	}
	sort.Float64s(prices)
	return domain.PriceStats{
		Count:   len(prices),
		Average: float64(int64(sum / float64(len(prices)))),
		Min:     prices[0],
		Max:     prices[len(prices)-1],
		Median:  prices[len(prices)/2],
	}
}

var dateLayouts = []string{"Mon, 02 Jan 2006", "2006-01-02"}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, 'T'); i > 0 {
		s = s[:i]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Price-paid linked-data response types.

type response struct {
	Result struct {
		Items []item `json:"items"`
	} `json:"result"`
}

type item struct {
	PricePaid       float64  `json:"pricePaid"`
	TransactionDate string   `json:"transactionDate"`
	NewBuild        bool     `json:"newBuild"`
	PropertyType    resource `json:"propertyType"`
	EstateType      resource `json:"estateType"`
	PropertyAddress address  `json:"propertyAddress"`
}

// resource is a linked-data node labelled by label, prefLabel or its URI.
type resource struct {
	About     string      `json:"_about"`
	Label     []labelText `json:"label"`
	PrefLabel []labelText `json:"prefLabel"`
}

func (r resource) label() string {
	for _, labels := range [][]labelText{r.Label, r.PrefLabel} {
		if len(labels) > 0 && labels[0] != "" {
			return string(labels[0])
		}
	}
	if r.About != "" {
		words := strings.Fields(strings.ReplaceAll(path.Base(r.About), "-", " "))
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " ")
	}
	return "Unknown"
}

// labelText accepts both "text" and {"_value": "text"}.
type labelText string

func (l *labelText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = labelText(s)
		return nil
	}
	var v struct {
		Value string `json:"_value"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = labelText(v.Value)
	return nil
}

type address struct {
	SAON     string `json:"saon"`
	PAON     string `json:"paon"`
	Street   string `json:"street"`
	Locality string `json:"locality"`
	Town     string `json:"town"`
	Postcode string `json:"postcode"`
}

func (a address) String() string {
	var parts []string
	for _, p := range []string{a.SAON, a.PAON, a.Street, a.Locality, a.Town, a.Postcode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
