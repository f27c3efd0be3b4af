// Package repository serves municipality snapshots and mutation events from a
// memory cache, the persisted store and finally the remote provider.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/provider"
	"github.com/rcliao/muni-map/internal/store"
)

// Options configures a Repository. Provider and Store are both optional; a
// repository with neither only serves what was put in memory.
type Options struct {
	Provider      provider.Provider
	Store         store.Store
	MaxRetries    int
	RetryInterval time.Duration // initial backoff, default 500ms
	TTL           time.Duration // 0 keeps entries forever
	Concurrency   int           // outbound provider calls, default 8
	Registerer    prometheus.Registerer
	Logger        *slog.Logger
}

// FetchOptions modifies a single Fetch.
type FetchOptions struct {
	// Exact fails with ErrDataUnavailable unless a snapshot exists for the
	// exact requested date.
	Exact bool
}

// FetchResult is one item of FetchMany.
type FetchResult struct {
	Date     time.Time
	Snapshot *model.Snapshot
	Err      error
}

// Repository caches snapshots by date. It is safe for concurrent use.
type Repository struct {
	provider    provider.Provider
	store       store.Store
	maxRetries  int
	retryEvery  time.Duration
	ttl         time.Duration
	concurrency int
	logger      *slog.Logger
	metrics     *metrics

	flight singleflight.Group
	sem    *semaphore.Weighted
	now    func() time.Time

	mu        sync.RWMutex
	snapshots map[time.Time]*model.Snapshot
	catalog   []time.Time
	catalogAt time.Time
	events    []model.MutationEvent
	eventsAt  time.Time
	hasEvents bool
}

// New creates a repository with an empty memory cache.
func New(opts Options) *Repository {
	conc := opts.Concurrency
	if conc <= 0 {
		conc = 8
	}
	every := opts.RetryInterval
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		provider:    opts.Provider,
		store:       opts.Store,
		maxRetries:  opts.MaxRetries,
		retryEvery:  every,
		ttl:         opts.TTL,
		concurrency: conc,
		logger:      logger,
		metrics:     newMetrics(opts.Registerer),
		sem:         semaphore.NewWeighted(int64(conc)),
		now:         time.Now,
		snapshots:   make(map[time.Time]*model.Snapshot),
	}
}

// Put adds a snapshot to the memory cache (and the store, when configured).
// Records are copied and ordered by code.
func (r *Repository) Put(ctx context.Context, snap model.Snapshot) error {
	snap.Date = model.Day(snap.Date)
	snap.Records = model.NewSnapshot(snap.Date, snap.Records).Records
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = r.now().UTC()
	}
	if r.store != nil {
		if err := r.store.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	r.mu.Lock()
	r.snapshots[snap.Date] = &snap
	r.mu.Unlock()
	return nil
}

// Fetch returns the snapshot valid on date: the exact date when cached or
// listed, otherwise the latest known snapshot date on or before it.
func (r *Repository) Fetch(ctx context.Context, date time.Time, opts FetchOptions) (*model.Snapshot, error) {
	date = model.Day(date)
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	if snap, ok := r.memorySnapshot(date); ok && !r.expired(snap.FetchedAt) {
		r.metrics.cacheLookups.WithLabelValues("snapshot", "memory").Inc()
		return snap, nil
	}

	known, err := r.knownDates(ctx)
	if err != nil {
		return nil, err
	}
	key := date
	if !containsDate(known, date) {
		if opts.Exact {
			return nil, fmt.Errorf("%w: no snapshot for exact date %s", model.ErrDataUnavailable, model.FormatDate(date))
		}
		latest, ok := model.LatestOnOrBefore(known, date)
		if !ok {
			return nil, fmt.Errorf("%w: no snapshot on or before %s", model.ErrDataUnavailable, model.FormatDate(date))
		}
		key = latest
	}
	return r.snapshot(ctx, key)
}

// FetchMany fetches dates concurrently. Results keep the order of dates and a
// failed date does not affect the others.
func (r *Repository) FetchMany(ctx context.Context, dates []time.Time, opts FetchOptions) []FetchResult {
	results := make([]FetchResult, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, d := range dates {
		results[i].Date = model.Day(d)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = cancelled(err)
				return nil
			}
			snap, err := r.Fetch(gctx, d, opts)
			results[i].Snapshot, results[i].Err = snap, err
			return nil
		})
	}
	g.Wait()
	return results
}

// Dates returns the catalogue of snapshot dates, ascending.
func (r *Repository) Dates(ctx context.Context) ([]time.Time, error) {
	r.mu.RLock()
	catalog, at := r.catalog, r.catalogAt
	r.mu.RUnlock()
	if catalog != nil && !r.expired(at) {
		r.metrics.cacheLookups.WithLabelValues("catalog", "memory").Inc()
		return catalog, nil
	}

	v, err := r.do(ctx, "catalog", func(ctx context.Context) (any, error) {
		return r.loadCatalog(ctx, catalog)
	})
	if err != nil {
		return nil, err
	}
	return v.([]time.Time), nil
}

// Events returns every known mutation event.
func (r *Repository) Events(ctx context.Context) ([]model.MutationEvent, error) {
	r.mu.RLock()
	events, at, ok := r.events, r.eventsAt, r.hasEvents
	r.mu.RUnlock()
	if ok && !r.expired(at) {
		r.metrics.cacheLookups.WithLabelValues("events", "memory").Inc()
		return events, nil
	}

	v, err := r.do(ctx, "events", func(ctx context.Context) (any, error) {
		return r.loadEvents(ctx, events, ok)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.MutationEvent), nil
}

// CountTable returns the record count of every cached snapshot, memory and
// persisted, ascending by date.
func (r *Repository) CountTable(ctx context.Context) ([]model.DateCount, error) {
	counts := map[time.Time]int{}
	if r.store != nil {
		rows, err := r.store.CountTable(ctx)
		if err != nil {
			return nil, fmt.Errorf("count table: %w", err)
		}
		for _, row := range rows {
			counts[model.Day(row.Date)] = row.Count
		}
	}
	r.mu.RLock()
	for d, snap := range r.snapshots {
		counts[d] = len(snap.Records)
	}
	r.mu.RUnlock()

	out := make([]model.DateCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, model.DateCount{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// knownDates is the catalogue merged with every cached snapshot date. A
// catalogue failure is tolerated when something is cached.
func (r *Repository) knownDates(ctx context.Context) ([]time.Time, error) {
	catalog, err := r.Dates(ctx)
	if err != nil && (errors.Is(err, model.ErrCancelled) || ctx.Err() != nil) {
		return nil, err
	}
	dates := append([]time.Time(nil), catalog...)
	r.mu.RLock()
	for d := range r.snapshots {
		dates = append(dates, d)
	}
	r.mu.RUnlock()
	if r.store != nil {
		if stored, serr := r.store.SnapshotDates(ctx); serr == nil {
			dates = append(dates, stored...)
		}
	}
	if len(dates) == 0 && err != nil {
		return nil, err
	}
	return model.SortDates(dates), nil
}

func (r *Repository) snapshot(ctx context.Context, date time.Time) (*model.Snapshot, error) {
	if snap, ok := r.memorySnapshot(date); ok && !r.expired(snap.FetchedAt) {
		r.metrics.cacheLookups.WithLabelValues("snapshot", "memory").Inc()
		return snap, nil
	}
	v, err := r.do(ctx, "snapshot:"+model.FormatDate(date), func(ctx context.Context) (any, error) {
		return r.loadSnapshot(ctx, date)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Snapshot), nil
}

// loadSnapshot runs inside the single-flight; memory is checked again since a
// previous flight may have filled it.
func (r *Repository) loadSnapshot(ctx context.Context, date time.Time) (*model.Snapshot, error) {
	stale, _ := r.memorySnapshot(date)
	if stale != nil && !r.expired(stale.FetchedAt) {
		return stale, nil
	}

	if r.store != nil {
		snap, err := r.store.LoadSnapshot(ctx, date)
		switch {
		case err == nil && !r.expired(snap.FetchedAt):
			r.metrics.cacheLookups.WithLabelValues("snapshot", "store").Inc()
			r.remember(snap)
			return snap, nil
		case err == nil:
			r.metrics.cacheLookups.WithLabelValues("snapshot", "stale").Inc()
			stale = snap
		case !errors.Is(err, store.ErrNotFound):
			r.logger.Warn("load cached snapshot", "date", model.FormatDate(date), "error", err)
		}
	}

	if r.provider == nil {
		if stale != nil {
			return stale, nil
		}
		return nil, fmt.Errorf("%w: snapshot %s not cached and no provider configured", model.ErrDataUnavailable, model.FormatDate(date))
	}

	r.metrics.cacheLookups.WithLabelValues("snapshot", "miss").Inc()
	var records []model.Record
	err := r.retry(ctx, "snapshot", func(ctx context.Context) error {
		var err error
		records, err = r.provider.Snapshot(ctx, date)
		return err
	})
	if err != nil {
		if stale != nil {
			r.logger.Warn("refetch failed, serving stale snapshot", "date", model.FormatDate(date), "error", err)
			return stale, nil
		}
		return nil, fmt.Errorf("%w: snapshot %s: %w", model.ErrDataUnavailable, model.FormatDate(date), err)
	}

	snap := model.NewSnapshot(date, records)
	snap.FetchedAt = r.now().UTC()
	if r.store != nil {
		if err := r.store.SaveSnapshot(ctx, snap); err != nil {
			r.logger.Warn("persist snapshot", "date", model.FormatDate(date), "error", err)
		}
	}
	r.remember(&snap)
	r.logger.Debug("snapshot fetched", "date", model.FormatDate(date), "records", len(snap.Records))
	return &snap, nil
}

func (r *Repository) loadCatalog(ctx context.Context, stale []time.Time) ([]time.Time, error) {
	var staleAt time.Time
	if r.store != nil {
		dates, at, err := r.store.LoadCatalog(ctx)
		switch {
		case err == nil && len(dates) > 0 && !r.expired(at):
			r.metrics.cacheLookups.WithLabelValues("catalog", "store").Inc()
			r.setCatalog(dates, at)
			return dates, nil
		case err == nil && len(dates) > 0:
			stale, staleAt = dates, at
		case err != nil && !errors.Is(err, store.ErrNotFound):
			r.logger.Warn("load cached catalog", "error", err)
		}
	}

	if r.provider == nil {
		if stale != nil {
			return stale, nil
		}
		return nil, fmt.Errorf("%w: no snapshot catalogue cached and no provider configured", model.ErrDataUnavailable)
	}

	r.metrics.cacheLookups.WithLabelValues("catalog", "miss").Inc()
	var dates []time.Time
	err := r.retry(ctx, "catalog", func(ctx context.Context) error {
		var err error
		dates, err = r.provider.Dates(ctx)
		return err
	})
	if err != nil {
		if stale != nil {
			r.logger.Warn("refetch failed, serving stale catalogue", "error", err)
			if !staleAt.IsZero() {
				r.setCatalog(stale, staleAt)
			}
			return stale, nil
		}
		return nil, fmt.Errorf("%w: snapshot catalogue: %w", model.ErrDataUnavailable, err)
	}

	dates = model.SortDates(dates)
	now := r.now().UTC()
	if r.store != nil {
		if err := r.store.SaveCatalog(ctx, dates); err != nil {
			r.logger.Warn("persist catalog", "error", err)
		}
	}
	r.setCatalog(dates, now)
	return dates, nil
}

func (r *Repository) loadEvents(ctx context.Context, stale []model.MutationEvent, haveStale bool) ([]model.MutationEvent, error) {
	if r.store != nil {
		events, at, err := r.store.LoadEvents(ctx)
		switch {
		case err == nil && !at.IsZero() && !r.expired(at):
			r.metrics.cacheLookups.WithLabelValues("events", "store").Inc()
			r.setEvents(events, at)
			return events, nil
		case err == nil && !at.IsZero():
			stale, haveStale = events, true
		case err != nil && !errors.Is(err, store.ErrNotFound):
			r.logger.Warn("load cached events", "error", err)
		}
	}

	if r.provider == nil {
		if haveStale {
			return stale, nil
		}
		return nil, fmt.Errorf("%w: no mutation events cached and no provider configured", model.ErrDataUnavailable)
	}

	r.metrics.cacheLookups.WithLabelValues("events", "miss").Inc()
	var events []model.MutationEvent
	err := r.retry(ctx, "events", func(ctx context.Context) error {
		var err error
		events, err = r.provider.Mutations(ctx)
		return err
	})
	if err != nil {
		if haveStale {
			r.logger.Warn("refetch failed, serving stale events", "error", err)
			return stale, nil
		}
		return nil, fmt.Errorf("%w: mutation events: %w", model.ErrDataUnavailable, err)
	}

	now := r.now().UTC()
	if r.store != nil {
		if err := r.store.SaveEvents(ctx, events); err != nil {
			r.logger.Warn("persist events", "error", err)
		}
	}
	r.setEvents(events, now)
	r.logger.Debug("mutation events fetched", "events", len(events))
	return events, nil
}

// do coalesces concurrent loads of key. The shared load runs detached from
// the caller's cancellation; a cancelled caller stops waiting and gets
// ErrCancelled while the load completes for the others.
func (r *Repository) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		if res.Shared {
			r.metrics.coalesced.Inc()
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, cancelled(ctx.Err())
	}
}

// retry calls fn with exponential backoff, at most maxRetries extra times.
// Permanent provider errors are not retried.
func (r *Repository) retry(ctx context.Context, kind string, fn func(context.Context) error) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryEvery
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		switch {
		case err == nil:
			r.metrics.providerRequests.WithLabelValues(kind, "success").Inc()
			return nil
		case provider.IsPermanent(err):
			r.metrics.providerRequests.WithLabelValues(kind, "failure").Inc()
			return backoff.Permanent(err)
		case attempt > r.maxRetries:
			r.metrics.providerRequests.WithLabelValues(kind, "failure").Inc()
		default:
			r.metrics.providerRequests.WithLabelValues(kind, "retry").Inc()
			r.logger.Debug("provider attempt failed", "kind", kind, "attempt", attempt, "error", err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(r.maxRetries, 0))), ctx))
}

func (r *Repository) memorySnapshot(date time.Time) (*model.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[date]
	return snap, ok
}

func (r *Repository) remember(snap *model.Snapshot) {
	r.mu.Lock()
	r.snapshots[model.Day(snap.Date)] = snap
	r.mu.Unlock()
}

func (r *Repository) setCatalog(dates []time.Time, at time.Time) {
	r.mu.Lock()
	r.catalog, r.catalogAt = dates, at
	r.mu.Unlock()
}

func (r *Repository) setEvents(events []model.MutationEvent, at time.Time) {
	r.mu.Lock()
	r.events, r.eventsAt, r.hasEvents = events, at, true
	r.mu.Unlock()
}

func (r *Repository) expired(at time.Time) bool {
	if r.ttl <= 0 || at.IsZero() {
		return false
	}
	return r.now().Sub(at) > r.ttl
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", model.ErrCancelled, err)
}

func containsDate(sorted []time.Time, d time.Time) bool {
	i := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Before(d) })
	return i < len(sorted) && sorted[i].Equal(d)
}
