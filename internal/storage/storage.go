package storage

import (
	"context"
	"errors"

	"rateScope/internal/model"
)

// Writer persists one exchange rate record per pool per block.
type Writer interface {
	Write(ctx context.Context, record model.ExchangeRateRecord) error
}

// Multi writes every record to all of its writers.
type Multi []Writer

// Write calls every writer and joins their errors.
func (m Multi) Write(ctx context.Context, record model.ExchangeRateRecord) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
