package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/observability"
	"github.com/couchcryptid/property-forecast/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawEvent
	index   atomic.Int64
	err     error
	errOnce atomic.Bool
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	if m.err != nil && m.errOnce.CompareAndSwap(false, true) {
		return nil, m.err
	}
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockLoader struct {
	mu       sync.Mutex
	loaded   []domain.TransactionRecord
	failures int
}

func (m *mockLoader) LoadBatch(_ context.Context, records []domain.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("buffer unavailable")
	}
	m.loaded = append(m.loaded, records...)
	return nil
}

func (m *mockLoader) records() []domain.TransactionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TransactionRecord(nil), m.loaded...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawEvent(value string) domain.RawEvent {
	return domain.RawEvent{Value: []byte(value), Topic: "property-transactions"}
}

const validRow = `{"price": 650000, "date": "2024-03-01", "postcode": "sw7 3rp", "flood_risk_score": "2", "crime_rate": 4.5}`

// --- pipeline ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rawEvent(validRow)}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, pipeline.NewTransformer(0, discardLogger()), ldr, discardLogger(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))

	want := []domain.TransactionRecord{{
		Date:           time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		Price:          650000,
		Postcode:       "SW7 3RP",
		Sector:         "SW7 3",
		FloodRiskScore: 2,
		CrimeRate:      4.5,
	}}
	if diff := cmp.Diff(want, ldr.records()); diff != "" {
		t.Fatalf("loaded records mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.MessagesConsumed), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RowsBuffered), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 1e-9)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{}
	ldr := &mockLoader{}

	p := pipeline.New(ext, pipeline.NewTransformer(0, discardLogger()), ldr, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.records())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_MalformedRowsDroppedAndCommitted(t *testing.T) {
	var commits atomic.Int32
	commit := func(context.Context) error {
		commits.Add(1)
		return nil
	}
	bad := rawEvent(`{"price": "n/a", "date": "2024-03-01", "postcode": "SW7 3RP"}`)
	bad.Commit = commit
	cheap := rawEvent(`{"price": 950, "date": "2024-03-01", "postcode": "SW7 3RP"}`)
	cheap.Commit = commit
	good := rawEvent(validRow)
	good.Commit = commit

	ext := &mockExtractor{batches: [][]domain.RawEvent{{bad, cheap, good}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(ext, pipeline.NewTransformer(0, discardLogger()), ldr, discardLogger(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Len(t, ldr.records(), 1)
	assert.Equal(t, int32(3), commits.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.TransactionsDropped.WithLabelValues("price")), 1e-9)
}

func TestPipeline_Run_AllMalformedNotReady(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{
		rawEvent("not json"),
		rawEvent(`{"price": 300000, "date": "someday", "postcode": "E1 6AN"}`),
		rawEvent(`{"price": 300000, "date": "2024-03-01", "postcode": "E1"}`),
	}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(ext, pipeline.NewTransformer(0, discardLogger()), ldr, discardLogger(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Empty(t, ldr.records())
	assert.Error(t, p.CheckReadiness(context.Background()))
	for _, reason := range []string{"decode", "date", "postcode"} {
		assert.InDelta(t, 1, testutil.ToFloat64(metrics.TransactionsDropped.WithLabelValues(reason)), 1e-9, reason)
	}
}

func TestPipeline_Run_LoadFailureIsNotCommitted(t *testing.T) {
	var commits atomic.Int32
	raw := rawEvent(validRow)
	raw.Commit = func(context.Context) error {
		commits.Add(1)
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}, {raw}}}
	ldr := &mockLoader{failures: 1}
	p := pipeline.New(ext, pipeline.NewTransformer(0, discardLogger()), ldr, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Len(t, ldr.records(), 1)
	assert.Equal(t, int32(1), commits.Load())
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	ext := &mockExtractor{
		err:     errors.New("broker unavailable"),
		batches: [][]domain.RawEvent{{rawEvent(validRow)}},
	}
	ldr := &mockLoader{}
	p := pipeline.New(ext, pipeline.NewTransformer(0, discardLogger()), ldr, discardLogger(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Len(t, ldr.records(), 1)
}

// --- transformer ---

func TestTransactionTransformer_Transform(t *testing.T) {
	tfm := pipeline.NewTransformer(0, discardLogger())

	rec, err := tfm.Transform(context.Background(), rawEvent(`{"price": "425000", "date": "2021-06-30T00:00:00Z", "postcode": "e1  6an"}`))
	require.NoError(t, err)
	assert.Equal(t, "E1 6AN", rec.Postcode)
	assert.Equal(t, "E1 6", rec.Sector)
	assert.InDelta(t, 425000, rec.Price, 1e-9)
	assert.Zero(t, rec.FloodRiskScore)
}

func TestTransactionTransformer_Rejects(t *testing.T) {
	tfm := pipeline.NewTransformer(0, discardLogger())

	cases := map[string]string{
		"not json":        `{`,
		"price at floor":  `{"price": 1000, "date": "2021-06-30", "postcode": "E1 6AN"}`,
		"missing date":    `{"price": 200000, "postcode": "E1 6AN"}`,
		"outward only":    `{"price": 200000, "date": "2021-06-30", "postcode": "E1"}`,
		"negative price":  `{"price": -5, "date": "2021-06-30", "postcode": "E1 6AN"}`,
		"unparsable date": `{"price": 200000, "date": "yesterday", "postcode": "E1 6AN"}`,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tfm.Transform(context.Background(), rawEvent(value))
			require.Error(t, err)
		})
	}

	_, err := tfm.Transform(context.Background(), rawEvent(`{"price": 1000, "date": "2021-06-30", "postcode": "E1 6AN"}`))
	var dataErr *domain.DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, "price", dataErr.Field)
}

func TestTransactionTransformer_CustomFloor(t *testing.T) {
	tfm := pipeline.NewTransformer(50000, discardLogger())
	_, err := tfm.Transform(context.Background(), rawEvent(`{"price": 40000, "date": "2021-06-30", "postcode": "E1 6AN"}`))
	require.Error(t, err)
	_, err = tfm.Transform(context.Background(), rawEvent(`{"price": 60000, "date": "2021-06-30", "postcode": "E1 6AN"}`))
	require.NoError(t, err)
}

// --- buffer ---

func TestTransactionBuffer_EvictsOldest(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	mk := func(price float64) domain.TransactionRecord {
		return domain.TransactionRecord{Price: price, Sector: "E1 6"}
	}
	buf := pipeline.NewTransactionBuffer(3, metrics, mk(1), mk(2))
	assert.Equal(t, 2, buf.Len())

	require.NoError(t, buf.LoadBatch(context.Background(), []domain.TransactionRecord{mk(3), mk(4)}))
	got := buf.Snapshot()
	require.Len(t, got, 3)
	assert.InDelta(t, 2, got[0].Price, 1e-9)
	assert.InDelta(t, 4, got[2].Price, 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.BufferSize), 1e-9)

	got[0].Price = 99
	assert.InDelta(t, 2, buf.Snapshot()[0].Price, 1e-9, "snapshot is a copy")
}
