// Command train fits a forecast bundle from a transactions CSV and stores it
// in the bundle database, where the forecast service picks it up on start.
//
// Usage:
//
//	go run ./cmd/train \
//	  -csv data/transactions.csv \
//	  -centroids data/sector_centroids.csv \
//	  -config training.yaml \
//	  -db data/bundles.db
//
// Without -centroids, -geocode derives sector centroids by looking up a sample
// of each sector's postcodes on postcodes.io.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/couchcryptid/property-forecast/internal/adapter/httpclient"
	"github.com/couchcryptid/property-forecast/internal/adapter/postcodes"
	"github.com/couchcryptid/property-forecast/internal/config"
	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/forecast"
	"github.com/couchcryptid/property-forecast/internal/observability"
	"github.com/couchcryptid/property-forecast/internal/pipeline"
	"github.com/couchcryptid/property-forecast/internal/spatial"
	"github.com/couchcryptid/property-forecast/internal/storage"
	"golang.org/x/sync/errgroup"
)

// postcodesPerSector bounds geocoding calls per sector.
const postcodesPerSector = 3

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "transactions CSV (date/history_date, price/history_price, postcode)")
	centroidPath := flag.String("centroids", "", "optional sector centroid CSV (postcode_sector, latitude, longitude)")
	geocode := flag.Bool("geocode", false, "derive centroids via postcodes.io when -centroids is not given")
	configPath := flag.String("config", "", "optional training config file (YAML, TOML or JSON)")
	dbPath := flag.String("db", "data/bundles.db", "bundle database path")
	keep := flag.Int("keep", storage.DefaultKeep, "bundles to retain")
	minPrice := flag.Float64("min-price", pipeline.DefaultMinPrice, "drop sales at or below this price")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -csv")
	}

	logger := observability.NewLogger(&config.Config{LogLevel: *logLevel, LogFormat: "text"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	training, err := config.LoadTraining(*configPath)
	if err != nil {
		return err
	}

	rows, err := pipeline.ReadTransactionsFile(*csvPath)
	if err != nil {
		return err
	}
	records, dropped := pipeline.NewTransformer(*minPrice, logger).ParseAll(rows)
	log.Printf("transactions: %d valid, %d dropped", len(records), dropped)

	var centroids []spatial.Centroid
	switch {
	case *centroidPath != "":
		f, err := os.Open(*centroidPath)
		if err != nil {
			return err
		}
		centroids, err = spatial.LoadCentroidsCSV(f)
		f.Close() //nolint:errcheck,gosec // read-only
		if err != nil {
			return err
		}
	case *geocode:
		centroids, err = geocodeCentroids(ctx, records, logger)
		if err != nil {
			return err
		}
	}
	log.Printf("centroids: %d sectors", len(centroids))

	b, err := forecast.TrainBundle(ctx, records, pipeline.TrainOptionsFrom(training, centroids), logger)
	if err != nil {
		return err
	}

	store, err := storage.Open(*dbPath, *keep)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // process exit

	if err := store.Save(ctx, b); err != nil {
		return err
	}
	log.Printf("saved bundle %s to %s", b.ID, *dbPath)

	printReports(b)
	return nil
}

// geocodeCentroids looks up a few postcodes per sector and averages them.
func geocodeCentroids(ctx context.Context, records []domain.TransactionRecord, logger *slog.Logger) ([]spatial.Centroid, error) {
	perSector := make(map[string][]string)
	for _, r := range records {
		pcs := perSector[r.Sector]
		if len(pcs) < postcodesPerSector && !slices.Contains(pcs, r.Postcode) {
			perSector[r.Sector] = append(pcs, r.Postcode)
		}
	}

	client := postcodes.NewClient("", httpclient.Options{UserAgent: "property-forecast-train/1.0"}, logger)

	var (
		mu   sync.Mutex
		locs []domain.Location
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, pcs := range perSector {
		for _, pc := range pcs {
			g.Go(func() error {
				loc, err := client.Geocode(gctx, pc)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Debug("geocode failed", "postcode", pc, "error", err)
					return nil
				}
				mu.Lock()
				locs = append(locs, loc)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return spatial.CentroidsFromLocations(locs), nil
}

func printReports(b *forecast.Bundle) {
	r := b.Reports
	fmt.Printf("\nbundle %s (%d sectors, %d samples, %d labelled, trained in %s)\n\n",
		b.ID, len(b.Snapshot), r.Samples, r.Labelled, r.Duration.Round(time.Millisecond))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HORIZON\tFAMILY\tTRAIN\tVAL\tTRAIN R2\tVAL R2")
	for _, h := range r.Horizons {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.3f\t%.3f\n",
			domain.HorizonKey(h.Horizon), h.Family, h.TrainSize, h.ValSize, h.TrainR2, h.R2)
	}
	w.Flush() //nolint:errcheck,gosec // stdout

	if r.Resilience == nil {
		fmt.Println("\nresilience: not trained")
		return
	}
	res := r.Resilience
	fmt.Printf("\nresilience: %d sectors, %s/%s, accuracy %.3f, coverage %.3f, interval width %.4f\n",
		res.Sectors, res.Mode, res.Combination, res.EnsembleAccuracy, res.Coverage, res.IntervalWidth)

	names := make([]string, 0, len(res.LearnerAccuracy))
	for name := range res.LearnerAccuracy {
		names = append(names, name)
	}
	slices.Sort(names)
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LEARNER\tACCURACY\tWEIGHT")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%.3f\t%.3f\n", name, res.LearnerAccuracy[name], res.Weights[name])
	}
	w.Flush() //nolint:errcheck,gosec // stdout
}
