package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConstraint is returned when a write would violate a unique index.
	ErrConstraint = errors.New("storage: unique constraint violated")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	// Migrate creates any missing collections and indexes. It is safe to call repeatedly.
	Migrate(ctx context.Context) error
	Pulses() PulseStore
	Limits() LimitStore
}

// PulseStore persists cumulative screen time per origin and hour.
type PulseStore interface {
	// UpsertOne adds the pulse duration to the record keyed by (origin, start time),
	// creating it when absent. The start time must already be an hour boundary.
	UpsertOne(ctx context.Context, pulse Pulse) (uint64, error)
	// FindByDate returns the records of the UTC day containing date, sorted by
	// duration descending.
	FindByDate(ctx context.Context, date int64) ([]Pulse, error)
	FindByOrigin(ctx context.Context, origin string) ([]Pulse, error)
}

// LimitStore manages screen-time limit rules.
type LimitStore interface {
	Insert(ctx context.Context, limit Limit) (uint64, error)
	// Get returns the limit with the given id, or ErrNotFound.
	Get(ctx context.Context, id uint64) (*Limit, error)
	// List returns every limit, oldest creation time first.
	List(ctx context.Context) ([]Limit, error)
}
