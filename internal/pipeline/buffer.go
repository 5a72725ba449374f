package pipeline

import (
	"context"
	"slices"
	"sync"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/observability"
)

// DefaultBufferCapacity bounds the training buffer when no capacity is set.
const DefaultBufferCapacity = 500_000

// TransactionBuffer is the BatchLoader that accumulates transactions for the
// retrainer. When full, the oldest rows are evicted first.
type TransactionBuffer struct {
	mu       sync.RWMutex
	records  []domain.TransactionRecord
	capacity int
	metrics  *observability.Metrics
}

// NewTransactionBuffer creates a buffer seeded with initial records.
func NewTransactionBuffer(capacity int, metrics *observability.Metrics, initial ...domain.TransactionRecord) *TransactionBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	b := &TransactionBuffer{capacity: capacity, metrics: metrics}
	b.add(initial)
	return b
}

// LoadBatch appends records to the buffer.
func (b *TransactionBuffer) LoadBatch(_ context.Context, records []domain.TransactionRecord) error {
	b.add(records)
	return nil
}

func (b *TransactionBuffer) add(records []domain.TransactionRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, records...)
	if over := len(b.records) - b.capacity; over > 0 {
		b.records = slices.Delete(b.records, 0, over)
	}
	b.metrics.BufferSize.Set(float64(len(b.records)))
}

// Snapshot returns a copy of the buffered records.
func (b *TransactionBuffer) Snapshot() []domain.TransactionRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.records)
}

// Len returns the number of buffered records.
func (b *TransactionBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}
