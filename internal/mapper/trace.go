package mapper

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/repository"
)

// Trace resolves a single code valid on source against each target date.
// Unlike CreateMultiMapping it neither validates against the count table nor
// requires the code to appear in the source snapshot; a code unknown on
// source yields ErrUnresolvedCode results.
func (m *Mapper) Trace(ctx context.Context, code int, source time.Time, targets model.Targets) ([]model.MappingResult, error) {
	src, err := m.repo.Fetch(ctx, model.Day(source), repository.FetchOptions{})
	if err != nil {
		return nil, fmt.Errorf("source snapshot: %w", err)
	}
	dates, err := m.expand(ctx, targets)
	if err != nil {
		return nil, err
	}

	fetched := m.repo.FetchMany(ctx, dates, repository.FetchOptions{})
	snaps := []model.Snapshot{*src}
	byDate := make(map[time.Time]*model.Snapshot, len(fetched))
	for i, f := range fetched {
		if f.Err == nil {
			snaps = append(snaps, *f.Snapshot)
			byDate[dates[i]] = f.Snapshot
		}
	}
	g, err := m.graph(ctx, snaps)
	if err != nil {
		return nil, err
	}

	results := g.ResolveMulti(code, src.Date, model.TargetDates(dates...))
	for i := range results {
		r := &results[i]
		r.SourceDate = model.Day(source)
		if ctx.Err() != nil {
			r.Entries = nil
			r.SetErr(cancelled(ctx))
			continue
		}
		target, ok := byDate[r.TargetDate]
		if !ok {
			r.Entries = nil
			r.SetErr(fetched[i].Err)
			continue
		}
		for k := range r.Entries {
			r.Entries[k].TargetDate = r.TargetDate
			if rec, ok := target.Lookup(r.Entries[k].TargetCode); ok {
				r.Entries[k].TargetName = rec.Name
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return results, cancelled(ctx)
	}
	return results, nil
}
