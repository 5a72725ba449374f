// Package sources fans a postcode out to the live hazard and price-paid
// lookups and folds their answers into a single report. A failing source never
// fails the report; it is listed separately so callers can degrade.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Defaults for NewAggregator.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultConcurrency = 4
)

// ErrNoLocation is returned by sources that need coordinates when the postcode
// could not be geocoded.
var ErrNoLocation = errors.New("postcode location unavailable")

// Query is what a source is asked about.
type Query struct {
	Postcode string
	Location *domain.Location
}

// Observation is the data one source contributed. Sources fill only the
// fields they know about.
type Observation struct {
	Flood *domain.HazardReading
	Crime *domain.HazardReading
	Sale  *domain.SaleHistory
}

// Source is one external lookup.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query) (Observation, error)
}

// Result is the outcome of one source call.
type Result struct {
	Name     string
	OK       bool
	Data     Observation
	Err      error
	Duration time.Duration
}

// Failure names a source that did not answer.
type Failure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Report merges every source result for a postcode. Success is true when at
// least one source answered. Each field holds the answer of the first source,
// in registration order, that supplied it.
type Report struct {
	Postcode   string                `json:"postcode"`
	Success    bool                  `json:"success"`
	Successful []string              `json:"successful_sources"`
	Failed     []Failure             `json:"failed_sources"`
	Location   *domain.Location      `json:"location,omitempty"`
	Flood      *domain.HazardReading `json:"flood,omitempty"`
	Crime      *domain.HazardReading `json:"crime,omitempty"`
	Sale       *domain.SaleHistory   `json:"sale,omitempty"`
}

// Aggregator runs every registered source concurrently for a postcode.
type Aggregator struct {
	sources     []Source
	geocoder    domain.Geocoder
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewAggregator creates an aggregator. A nil geocoder leaves Query.Location
// unset, so coordinate-based sources report ErrNoLocation.
func NewAggregator(geocoder domain.Geocoder, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics, srcs ...Source) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Aggregator{
		sources:     srcs,
		geocoder:    geocoder,
		timeout:     timeout,
		concurrency: DefaultConcurrency,
		logger:      logger,
		metrics:     metrics,
	}
}

// Collect queries every source and merges their results.
func (a *Aggregator) Collect(ctx context.Context, postcode string) Report {
	postcode = domain.NormalizePostcode(postcode)
	report := Report{Postcode: postcode, Successful: []string{}, Failed: []Failure{}}

	q := Query{Postcode: postcode}
	if a.geocoder != nil {
		loc, err := a.geocode(ctx, postcode)
		if err != nil {
			a.logger.Warn("geocode failed", "postcode", postcode, "error", err)
			report.Failed = append(report.Failed, Failure{Source: "geocoder", Error: err.Error()})
		} else {
			q.Location = &loc
			report.Location = &loc
		}
	}

	results := a.fetchAll(ctx, q)
	for _, r := range results {
		if !r.OK {
			report.Failed = append(report.Failed, Failure{Source: r.Name, Error: r.Err.Error()})
			continue
		}
		report.Successful = append(report.Successful, r.Name)
		if report.Flood == nil {
			report.Flood = r.Data.Flood
		}
		if report.Crime == nil {
			report.Crime = r.Data.Crime
		}
		if report.Sale == nil {
			report.Sale = r.Data.Sale
		}
	}
	report.Success = len(report.Successful) > 0
	return report
}

func (a *Aggregator) geocode(ctx context.Context, postcode string) (domain.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.geocoder.Geocode(ctx, postcode)
}

// fetchAll runs the sources through a bounded group. Results keep
// registration order regardless of completion order.
func (a *Aggregator) fetchAll(ctx context.Context, q Query) []Result {
	results := make([]Result, len(a.sources))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, src := range a.sources {
		g.Go(func() error {
			results[i] = a.fetch(ctx, src, q)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Aggregator) fetch(ctx context.Context, src Source, q Query) (res Result) {
	name := src.Name()
	start := time.Now()
	res = Result{Name: name}

	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.Err = fmt.Errorf("source panicked: %v", r)
		}
		res.Duration = time.Since(start)
		a.metrics.SourceDuration.WithLabelValues(name).Observe(res.Duration.Seconds())
		outcome := "success"
		if !res.OK {
			outcome = "error"
			a.logger.Warn("source failed", "source", name, "postcode", q.Postcode, "error", res.Err)
		}
		a.metrics.SourceRequests.WithLabelValues(name, outcome).Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	data, err := src.Fetch(ctx, q)
	if err != nil {
		res.Err = err
		return res
	}
	res.OK = true
	res.Data = data
	return res
}
