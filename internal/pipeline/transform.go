package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/property-forecast/internal/domain"
)

// DefaultMinPrice is the price at or below which a sale is treated as noise.
const DefaultMinPrice = 1000

// TransactionTransformer implements Transformer for the collector's flat JSON
// transaction rows.
type TransactionTransformer struct {
	minPrice float64
	logger   *slog.Logger
}

// NewTransformer creates a TransactionTransformer. A non-positive minPrice
// selects DefaultMinPrice.
func NewTransformer(minPrice float64, logger *slog.Logger) *TransactionTransformer {
	if minPrice <= 0 {
		minPrice = DefaultMinPrice
	}
	return &TransactionTransformer{
		minPrice: minPrice,
		logger:   logger,
	}
}

func (t *TransactionTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.TransactionRecord, error) {
	row, err := domain.DecodeRawTransaction(raw.Value)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	return t.Parse(row)
}

// Parse validates a decoded row and applies the price floor.
func (t *TransactionTransformer) Parse(row domain.RawTransaction) (domain.TransactionRecord, error) {
	rec, err := domain.ParseTransaction(row)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	if rec.Price <= t.minPrice {
		return domain.TransactionRecord{}, &domain.DataError{
			Field:  "price",
			Value:  row.Price,
			Reason: fmt.Sprintf("at or below the %.0f floor", t.minPrice),
		}
	}
	return rec, nil
}

// ParseAll validates rows, dropping the malformed ones. It returns the valid
// records and the number dropped.
func (t *TransactionTransformer) ParseAll(rows []domain.RawTransaction) ([]domain.TransactionRecord, int) {
	out := make([]domain.TransactionRecord, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		rec, err := t.Parse(row)
		if err != nil {
			dropped++
			t.logger.Debug("dropping transaction row", "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, dropped
}
