// Package storage persists processed records. Implementations are safe for
// concurrent use; each call runs in its own transactional scope.
package storage

import (
	"context"
	"errors"
	"fmt"

	"road-state-gateway/internal/data"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("record not found")

var errClosed = errors.New("store closed")

// Error reports a connectivity or integrity failure of the backing store.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &Error{Op: op, Err: err}
}

type Store interface {
	// Insert assigns a new id and persists the record.
	Insert(ctx context.Context, f data.RecordFields) (data.ProcessedRecord, error)
	// InsertBatch persists all records or none of them.
	InsertBatch(ctx context.Context, fs []data.RecordFields) ([]data.ProcessedRecord, error)
	Get(ctx context.Context, id int64) (data.ProcessedRecord, error)
	// List returns every record ordered by id.
	List(ctx context.Context) ([]data.ProcessedRecord, error)
	// Update replaces all fields of an existing record.
	Update(ctx context.Context, id int64, f data.RecordFields) (data.ProcessedRecord, error)
	// Delete removes a record and returns its prior state.
	Delete(ctx context.Context, id int64) (data.ProcessedRecord, error)
	Ping(ctx context.Context) error
	Close()
}
