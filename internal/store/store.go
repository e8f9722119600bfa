// Package store persists normalized tax declaration rows and enforces the
// per-taxpayer row uniqueness contract.
package store

import (
	"context"
	"errors"

	"qworker/internal/declaration"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is the analytical row store. Implementations must make InsertBatch
// atomic per call and must never store two rows with equal core keys for
// the same taxpayer, so re-importing an identical file is a no-op.
type Store interface {
	// InsertBatch inserts the rows whose core-field tuple is not already
	// present for the taxpayer and returns how many were inserted.
	InsertBatch(ctx context.Context, tin string, rows []declaration.Row) (int, error)

	// RowsForTaxpayer returns the taxpayer's full history ordered by date
	// ascending.
	RowsForTaxpayer(ctx context.Context, tin string) ([]declaration.Row, error)

	// Taxpayers returns every taxpayer id with stored history.
	Taxpayers(ctx context.Context) ([]string, error)

	// Close releases underlying resources.
	Close() error
}
