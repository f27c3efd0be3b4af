// Package mapper translates municipality codes between snapshot dates.
package mapper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rcliao/muni-map/internal/graph"
	"github.com/rcliao/muni-map/internal/matcher"
	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/repository"
)

// Repository is the snapshot source the mapper reads.
type Repository interface {
	Fetch(ctx context.Context, date time.Time, opts repository.FetchOptions) (*model.Snapshot, error)
	FetchMany(ctx context.Context, dates []time.Time, opts repository.FetchOptions) []repository.FetchResult
	Dates(ctx context.Context) ([]time.Time, error)
	Events(ctx context.Context) ([]model.MutationEvent, error)
	CountTable(ctx context.Context) ([]model.DateCount, error)
}

// NameIndexer builds name indexes for rows that carry no usable code.
type NameIndexer interface {
	Index(snap *model.Snapshot) *matcher.Index
}

// Mapper holds references only; every call builds its own graph.
type Mapper struct {
	repo   Repository
	names  NameIndexer
	logger *slog.Logger
}

// New creates a Mapper. names may be nil, in which case rows are resolved by
// code only.
func New(repo Repository, names NameIndexer, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{repo: repo, names: names, logger: logger}
}

// CreateMapping maps every code of the source snapshot to target.
func (m *Mapper) CreateMapping(ctx context.Context, source, target time.Time) (*model.MappingTable, error) {
	return m.CreateMultiMapping(ctx, source, model.TargetDates(target))
}

// CreateMultiMapping maps every code of the source snapshot to each target
// date, one result per (code, date). Target snapshots are fetched
// concurrently; a date whose snapshot is unavailable yields
// ErrDataUnavailable results for that date only. On cancellation the
// completed results are returned with ErrCancelled markers for the rest and
// an error wrapping ctx.Err().
func (m *Mapper) CreateMultiMapping(ctx context.Context, source time.Time, targets model.Targets) (*model.MappingTable, error) {
	source = model.Day(source)
	src, err := m.repo.Fetch(ctx, source, repository.FetchOptions{})
	if err != nil {
		return nil, fmt.Errorf("source snapshot: %w", err)
	}
	dates, err := m.expand(ctx, targets)
	if err != nil {
		return nil, err
	}

	fetched := m.repo.FetchMany(ctx, dates, repository.FetchOptions{})
	snaps := []model.Snapshot{*src}
	for _, f := range fetched {
		if f.Err == nil {
			snaps = append(snaps, *f.Snapshot)
		}
	}
	g, err := m.graph(ctx, snaps)
	if err != nil {
		return nil, err
	}
	counts := m.counts(ctx)

	tbl := &model.MappingTable{SourceDate: source, TargetDates: dates}
	for i, to := range dates {
		rows := make([]model.MappingResult, len(src.Records))
		for j, r := range src.Records {
			rows[j] = model.MappingResult{SourceCode: r.Code, SourceName: r.Name, SourceDate: source, TargetDate: to}
		}

		switch {
		case ctx.Err() != nil:
			setAll(rows, cancelled(ctx))
		case fetched[i].Err != nil:
			setAll(rows, fetched[i].Err)
		default:
			target := fetched[i].Snapshot
			resolved := map[int]bool{}
			for j := range rows {
				entries, err := g.Resolve(rows[j].SourceCode, src.Date, to)
				if err != nil {
					rows[j].SetErr(err)
					continue
				}
				for k := range entries {
					entries[k].TargetDate = to
					if rec, ok := target.Lookup(entries[k].TargetCode); ok {
						entries[k].TargetName = rec.Name
					}
					resolved[entries[k].TargetCode] = true
				}
				rows[j].Entries = entries
			}
			if w := validate(to, target, len(resolved), counts); w != nil {
				m.logger.Warn("mapping cardinality differs from count table",
					"target", model.FormatDate(to), "resolved", w.Resolved, "expected", w.Expected)
				tbl.Warnings = append(tbl.Warnings, *w)
				for j := range rows {
					rows[j].Warning = w
				}
			}
		}
		tbl.Results = append(tbl.Results, rows...)
	}

	if err := ctx.Err(); err != nil {
		return tbl, cancelled(ctx)
	}
	return tbl, nil
}

// expand resolves targets to dates. Ranges use the repository catalogue and
// every cached snapshot date. Targets that resolve to no date are an error so
// that no input item is dropped without a result.
func (m *Mapper) expand(ctx context.Context, targets model.Targets) ([]time.Time, error) {
	if targets.Range == nil {
		dates := targets.Expand(nil)
		if len(dates) == 0 {
			return nil, fmt.Errorf("%w: no target dates given", model.ErrDataUnavailable)
		}
		return dates, nil
	}
	known, err := m.repo.Dates(ctx)
	if err != nil {
		m.logger.Warn("snapshot catalogue unavailable, using cached dates", "error", err)
	}
	if counts, cerr := m.repo.CountTable(ctx); cerr == nil {
		for _, c := range counts {
			known = append(known, c.Date)
		}
	}
	dates := targets.Expand(known)
	if len(dates) == 0 {
		if err != nil {
			return nil, fmt.Errorf("expand target range: %w", err)
		}
		return nil, fmt.Errorf("%w: no snapshot date between %s and %s", model.ErrDataUnavailable,
			model.FormatDate(targets.Range.Start), model.FormatDate(targets.Range.End))
	}
	return dates, nil
}

func (m *Mapper) graph(ctx context.Context, snaps []model.Snapshot) (*graph.Graph, error) {
	events, err := m.repo.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("mutation events: %w", err)
	}
	g, err := graph.Build(events, snaps)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	return g, nil
}

func (m *Mapper) counts(ctx context.Context) map[time.Time]int {
	rows, err := m.repo.CountTable(ctx)
	if err != nil {
		m.logger.Warn("count table unavailable, skipping validation", "error", err)
		return nil
	}
	out := make(map[time.Time]int, len(rows))
	for _, r := range rows {
		out[model.Day(r.Date)] = r.Count
	}
	return out
}

// validate compares the distinct resolved codes with the count table entry
// of the target snapshot.
func validate(to time.Time, target *model.Snapshot, resolved int, counts map[time.Time]int) *model.ValidationMismatch {
	expected, ok := counts[model.Day(target.Date)]
	if !ok || expected == resolved {
		return nil
	}
	return &model.ValidationMismatch{
		TargetDate:   to,
		SnapshotDate: target.Date,
		Resolved:     resolved,
		Expected:     expected,
	}
}

func setAll(rows []model.MappingResult, err error) {
	for i := range rows {
		rows[i].SetErr(err)
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", model.ErrCancelled, ctx.Err())
}
