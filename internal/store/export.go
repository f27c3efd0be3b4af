package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/muni-map/internal/model"
)

// Dump is the portable form of the whole cache.
type Dump struct {
	Catalog   []time.Time           `json:"catalog,omitempty"`
	Snapshots []model.Snapshot      `json:"snapshots"`
	Events    []model.MutationEvent `json:"events,omitempty"`
}

// ExportAll returns every cached snapshot, event and catalog date.
func (s *SQLiteStore) ExportAll(ctx context.Context) (*Dump, error) {
	d := &Dump{}

	dates, err := s.SnapshotDates(ctx)
	if err != nil {
		return nil, err
	}
	for _, date := range dates {
		snap, err := s.LoadSnapshot(ctx, date)
		if err != nil {
			return nil, err
		}
		d.Snapshots = append(d.Snapshots, *snap)
	}

	events, _, err := s.LoadEvents(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	d.Events = events

	catalog, _, err := s.LoadCatalog(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	d.Catalog = catalog

	return d, nil
}

// Import stores a dump. Snapshots replace cached ones with the same date;
// events and catalog are replaced when present in the dump.
func (s *SQLiteStore) Import(ctx context.Context, d *Dump) (int, error) {
	imported := 0
	for _, snap := range d.Snapshots {
		snap = model.NewSnapshot(snap.Date, snap.Records)
		if err := s.SaveSnapshot(ctx, snap); err != nil {
			return imported, fmt.Errorf("import snapshot %s: %w", model.FormatDate(snap.Date), err)
		}
		imported++
	}
	if len(d.Events) > 0 {
		if err := s.SaveEvents(ctx, d.Events); err != nil {
			return imported, fmt.Errorf("import events: %w", err)
		}
	}
	if len(d.Catalog) > 0 {
		if err := s.SaveCatalog(ctx, model.SortDates(d.Catalog)); err != nil {
			return imported, fmt.Errorf("import catalog: %w", err)
		}
	}
	return imported, nil
}
