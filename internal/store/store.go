// Package store provides the persisted snapshot cache and its SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/muni-map/internal/model"
)

// ErrNotFound is returned when a cached item does not exist.
var ErrNotFound = errors.New("not found")

// SearchParams holds parameters for searching cached records by name.
type SearchParams struct {
	Date   time.Time // zero means any snapshot
	Query  string
	Canton string
	Limit  int
}

// Store defines the persisted cache interface.
type Store interface {
	// SaveSnapshot stores a snapshot, replacing any earlier copy for its date.
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error

	// LoadSnapshot returns the snapshot cached for the exact date.
	LoadSnapshot(ctx context.Context, date time.Time) (*model.Snapshot, error)

	// SnapshotDates lists cached snapshot dates, ascending.
	SnapshotDates(ctx context.Context) ([]time.Time, error)

	// CountTable returns the record count of every cached snapshot.
	CountTable(ctx context.Context) ([]model.DateCount, error)

	// SaveEvents replaces the cached mutation events.
	SaveEvents(ctx context.Context, events []model.MutationEvent) error

	// LoadEvents returns the cached events and when they were saved.
	LoadEvents(ctx context.Context) ([]model.MutationEvent, time.Time, error)

	// SaveCatalog replaces the list of known snapshot dates.
	SaveCatalog(ctx context.Context, dates []time.Time) error

	// LoadCatalog returns the known snapshot dates and when they were saved.
	LoadCatalog(ctx context.Context) ([]time.Time, time.Time, error)

	// Close closes the store.
	Close() error
}
