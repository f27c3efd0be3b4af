// Package provider supplies raw municipality snapshots and mutation events.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/muni-map/internal/model"
)

// Provider is the remote snapshot registry. Implementations return raw data;
// caching and retries are the repository's job.
type Provider interface {
	// Dates lists the dates on which the municipality state changed.
	Dates(ctx context.Context) ([]time.Time, error)

	// Snapshot returns the records valid on date.
	Snapshot(ctx context.Context, date time.Time) ([]model.Record, error)

	// Mutations returns every known mutation event.
	Mutations(ctx context.Context) ([]model.MutationEvent, error)
}

// Static serves fixed in-memory data. It backs tests and imported dumps.
type Static struct {
	Snapshots map[time.Time][]model.Record
	Events    []model.MutationEvent
}

// NewStatic builds a Static provider from snapshots and events.
func NewStatic(snaps []model.Snapshot, events []model.MutationEvent) *Static {
	s := &Static{Snapshots: make(map[time.Time][]model.Record, len(snaps)), Events: events}
	for _, snap := range snaps {
		s.Snapshots[model.Day(snap.Date)] = snap.Records
	}
	return s
}

func (s *Static) Dates(ctx context.Context) ([]time.Time, error) {
	dates := make([]time.Time, 0, len(s.Snapshots))
	for d := range s.Snapshots {
		dates = append(dates, d)
	}
	return model.SortDates(dates), nil
}

func (s *Static) Snapshot(ctx context.Context, date time.Time) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, ok := s.Snapshots[model.Day(date)]
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s", model.FormatDate(date))
	}
	out := make([]model.Record, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *Static) Mutations(ctx context.Context) ([]model.MutationEvent, error) {
	out := make([]model.MutationEvent, len(s.Events))
	copy(out, s.Events)
	return out, nil
}
