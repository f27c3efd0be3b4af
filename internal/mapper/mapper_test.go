package mapper

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/muni-map/internal/matcher"
	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/provider"
	"github.com/rcliao/muni-map/internal/repository"
	"github.com/rcliao/muni-map/internal/table"
)

var (
	d1980 = model.Date(1980, 1, 1)
	d2000 = model.Date(2000, 1, 1)
)

// fixture: 1 and 2 merge into 10, 5 is renamed to 6 and 7 splits into 8 and 9.
func fixture() *provider.Static {
	return provider.NewStatic([]model.Snapshot{
		model.NewSnapshot(d1980, []model.Record{
			{Code: 1, Name: "Altdorf", Canton: "ZH"},
			{Code: 2, Name: "Altweiler", Canton: "ZH"},
			{Code: 5, Name: "Seedorf", Canton: "BE"},
			{Code: 7, Name: "Grossberg", Canton: "BE"},
		}),
		model.NewSnapshot(d2000, []model.Record{
			{Code: 6, Name: "Seedorf am See", Canton: "BE"},
			{Code: 8, Name: "Oberberg", Canton: "BE"},
			{Code: 9, Name: "Unterberg", Canton: "BE"},
			{Code: 10, Name: "Neudorf", Canton: "ZH"},
		}),
	}, []model.MutationEvent{
		{Kind: model.KindRename, Sources: []int{5}, Targets: []int{6}, Effective: model.Date(1990, 3, 31)},
		{Kind: model.KindMerge, Sources: []int{1, 2}, Targets: []int{10}, Effective: model.Date(1995, 6, 1)},
		{Kind: model.KindSplit, Sources: []int{7}, Targets: []int{8, 9}, Effective: model.Date(1996, 12, 31)},
	})
}

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	return repository.New(repository.Options{Provider: fixture(), RetryInterval: time.Millisecond})
}

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	repo := newTestRepo(t)
	return New(repo, matcher.New(repo, matcher.Options{Threshold: 0.8}), nil)
}

func byCode(t *testing.T, tbl *model.MappingTable, to time.Time, code int) model.MappingResult {
	t.Helper()
	for _, r := range tbl.Results {
		if r.SourceCode == code && r.TargetDate.Equal(to) {
			return r
		}
	}
	t.Fatalf("no result for %d on %s", code, model.FormatDate(to))
	return model.MappingResult{}
}

func targetCodes(entries []model.MappingEntry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.TargetCode
	}
	return out
}

func TestScenarioMergeMapping(t *testing.T) {
	m := newTestMapper(t)

	tbl, err := m.CreateMapping(context.Background(), d1980, d2000)
	require.NoError(t, err)
	require.Len(t, tbl.Results, 4)
	assert.Empty(t, tbl.Warnings)

	for _, code := range []int{1, 2} {
		r := byCode(t, tbl, d2000, code)
		require.Len(t, r.Entries, 1)
		assert.Equal(t, 10, r.Entries[0].TargetCode)
		assert.Equal(t, "Neudorf", r.Entries[0].TargetName)
		assert.Equal(t, model.RelMergeContributor, r.Entries[0].Relationship)
		assert.False(t, r.Entries[0].Exact)
	}

	r := byCode(t, tbl, d2000, 5)
	require.Len(t, r.Entries, 1)
	assert.Equal(t, 6, r.Entries[0].TargetCode)
	assert.Equal(t, model.RelExactRename, r.Entries[0].Relationship)
	assert.True(t, r.Entries[0].Exact)

	r = byCode(t, tbl, d2000, 7)
	assert.Equal(t, []int{8, 9}, targetCodes(r.Entries))
	for _, e := range r.Entries {
		assert.Equal(t, model.RelSplitResult, e.Relationship)
	}
}

func TestIdentityMapping(t *testing.T) {
	m := newTestMapper(t)

	tbl, err := m.CreateMapping(context.Background(), d2000, d2000)
	require.NoError(t, err)
	for _, r := range tbl.Results {
		require.Len(t, r.Entries, 1)
		assert.Equal(t, r.SourceCode, r.Entries[0].TargetCode)
		assert.Equal(t, model.RelUnchanged, r.Entries[0].Relationship)
		assert.True(t, r.Entries[0].Exact)
	}
}

func TestScenarioRangeIncludesEndpoints(t *testing.T) {
	m := newTestMapper(t)

	tbl, err := m.CreateMultiMapping(context.Background(), d1980, model.TargetRange(d1980, d2000))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{d1980, d2000}, tbl.TargetDates)
	assert.Len(t, tbl.Results, 8)

	assert.Equal(t, []int{1}, targetCodes(byCode(t, tbl, d1980, 1).Entries))
	assert.Equal(t, []int{10}, targetCodes(byCode(t, tbl, d2000, 1).Entries))
}

func TestScenarioBackwardSplitDuplicates(t *testing.T) {
	m := newTestMapper(t)

	tbl, err := m.CreateMapping(context.Background(), d2000, d1980)
	require.NoError(t, err)
	assert.Empty(t, tbl.Warnings)

	for _, code := range []int{8, 9} {
		r := byCode(t, tbl, d1980, code)
		require.Len(t, r.Entries, 1)
		assert.Equal(t, 7, r.Entries[0].TargetCode)
		assert.Equal(t, "Grossberg", r.Entries[0].TargetName)
		assert.Equal(t, model.RelSplitResult, r.Entries[0].Relationship)
	}
	assert.Equal(t, []int{1, 2}, targetCodes(byCode(t, tbl, d1980, 10).Entries))
	assert.Equal(t, []int{5}, targetCodes(byCode(t, tbl, d1980, 6).Entries))
}

func TestMappingResolvesFromSourceSnapshotDate(t *testing.T) {
	m := newTestMapper(t)

	// 1985 falls back to the 1980 snapshot.
	tbl, err := m.CreateMapping(context.Background(), model.Date(1985, 5, 5), d2000)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, targetCodes(byCode(t, tbl, d2000, 1).Entries))
}

// countsRepo overrides the count table of a real repository.
type countsRepo struct {
	*repository.Repository
	counts []model.DateCount
}

func (r countsRepo) CountTable(ctx context.Context) ([]model.DateCount, error) {
	return r.counts, nil
}

func TestValidationMismatchIsAWarning(t *testing.T) {
	repo := countsRepo{Repository: newTestRepo(t), counts: []model.DateCount{{Date: d2000, Count: 5}}}
	m := New(repo, nil, nil)

	tbl, err := m.CreateMapping(context.Background(), d1980, d2000)
	require.NoError(t, err)
	require.Len(t, tbl.Warnings, 1)
	w := tbl.Warnings[0]
	assert.Equal(t, 4, w.Resolved)
	assert.Equal(t, 5, w.Expected)
	assert.Equal(t, d2000, w.SnapshotDate)
	for _, r := range tbl.Results {
		assert.NotEmpty(t, r.Entries)
		assert.Same(t, tbl.Results[0].Warning, r.Warning)
	}
}

func TestUnavailableTargetDateIsolated(t *testing.T) {
	m := newTestMapper(t)

	tbl, err := m.CreateMultiMapping(context.Background(), d1980, model.TargetDates(model.Date(1970, 1, 1), d2000))
	require.NoError(t, err)
	require.Len(t, tbl.Results, 8)

	for _, r := range tbl.Results {
		if r.TargetDate.Equal(d2000) {
			assert.NoError(t, r.Err)
			assert.NotEmpty(t, r.Entries)
			continue
		}
		assert.ErrorIs(t, r.Err, model.ErrDataUnavailable)
		assert.NotEmpty(t, r.Error)
		assert.Empty(t, r.Entries)
	}
}

func TestSourceUnavailableFails(t *testing.T) {
	m := newTestMapper(t)

	_, err := m.CreateMapping(context.Background(), model.Date(1970, 1, 1), d2000)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}

// cancellingRepo cancels the request once its target snapshots are fetched.
type cancellingRepo struct {
	*repository.Repository
	cancel context.CancelFunc
}

func (r cancellingRepo) FetchMany(ctx context.Context, dates []time.Time, opts repository.FetchOptions) []repository.FetchResult {
	res := r.Repository.FetchMany(ctx, dates, opts)
	r.cancel()
	return res
}

func TestCancellationMarksRemainingItems(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Events(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(cancellingRepo{Repository: repo, cancel: cancel}, nil, nil)

	tbl, err := m.CreateMapping(ctx, d1980, d2000)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, tbl)
	require.Len(t, tbl.Results, 4)
	for _, r := range tbl.Results {
		assert.ErrorIs(t, r.Err, model.ErrCancelled)
	}
}

func TestInconsistentMutationData(t *testing.T) {
	p := fixture()
	p.Events = append(p.Events, model.MutationEvent{
		Kind: model.KindRename, Sources: []int{1}, Targets: []int{11}, Effective: model.Date(1998, 1, 1),
	})
	m := New(repository.New(repository.Options{Provider: p}), nil, nil)

	tbl, err := m.CreateMapping(context.Background(), d1980, d2000)
	assert.ErrorIs(t, err, model.ErrInconsistentMutationData)
	assert.Nil(t, tbl)
}

func TestMapRecords(t *testing.T) {
	m := newTestMapper(t)

	rows := []Row{
		{Index: 0, Code: 7},
		{Index: 1, Code: 9999, Name: "Altweiler"},
		{Index: 2, Code: 9999},
		{Index: 3, Name: "Nirgendwo"},
		{Index: 4, Code: 5},
	}
	out, err := m.MapRecords(context.Background(), rows, RecordOptions{Origin: d1980, Targets: model.TargetDates(d2000)})
	require.NoError(t, err)

	var idx []int
	for _, r := range out {
		idx = append(idx, r.Index)
	}
	assert.Equal(t, []int{0, 0, 1, 2, 3, 4}, idx, "input order is kept and splits fan out")

	assert.Equal(t, 8, out[0].TargetCode)
	assert.Equal(t, 9, out[1].TargetCode)
	assert.Equal(t, "code", out[0].ResolvedBy)
	assert.Equal(t, model.RelSplitResult, out[0].Relationship)

	assert.Equal(t, "name", out[2].ResolvedBy)
	assert.Equal(t, 2, out[2].SourceCode)
	assert.Equal(t, 10, out[2].TargetCode)
	assert.Equal(t, "Neudorf", out[2].TargetName)

	assert.Equal(t, RowUnresolvedCode, out[3].Status)
	assert.ErrorIs(t, out[3].Err, model.ErrUnresolvedCode)
	assert.Equal(t, d2000, out[3].TargetDate)

	assert.Equal(t, RowUnresolvedName, out[4].Status)
	assert.ErrorIs(t, out[4].Err, model.ErrUnresolvedName)

	assert.Equal(t, 6, out[5].TargetCode)
	assert.True(t, out[5].Exact)

	again, err := m.MapRecords(context.Background(), rows, RecordOptions{Origin: d1980, Targets: model.TargetDates(d2000)})
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestMapRecordsPerRowDates(t *testing.T) {
	m := newTestMapper(t)

	rows := []Row{
		{Index: 0, Code: 10, Date: d2000},
		{Index: 1, Code: 1, Date: d1980},
		{Index: 2, Code: 1, Date: model.Date(1970, 1, 1)},
	}
	out, err := m.MapRecords(context.Background(), rows, RecordOptions{Targets: model.TargetDates(d1980)})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, []int{1, 2}, []int{out[0].TargetCode, out[1].TargetCode})
	assert.Equal(t, 1, out[2].TargetCode)
	assert.Equal(t, RowUnavailable, out[3].Status)
	assert.ErrorIs(t, out[3].Err, model.ErrDataUnavailable)
}

func TestMapRecordsInfersStand(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()

	out, err := m.MapRecords(ctx, []Row{{Code: 10}, {Code: 6}}, RecordOptions{Targets: model.TargetDates(d1980)})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, d2000, out[0].SourceDate)
}

func TestMapTable(t *testing.T) {
	m := newTestMapper(t)
	in := table.New("id", "bfs", "gemeinde")
	in.Append("a", "1", "Altdorf")
	in.Append("b", "", "Grossberg")

	out, err := m.MapTable(context.Background(), in, TableParams{
		CodeColumn:    "BFS",
		NameColumn:    "gemeinde",
		RecordOptions: RecordOptions{Origin: d1980, Targets: model.TargetDates(d2000)},
	})
	require.NoError(t, err)
	assert.Equal(t, append([]string{"id", "bfs", "gemeinde"}, outputColumns...), out.Columns)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, []string{"a", "1", "Altdorf", "1980-01-01", "1", "code", "1.0000",
		"2000-01-01", "10", "Neudorf", "merge-contributor", "false", "ok"}, out.Rows[0])
	assert.Equal(t, "b", out.Rows[1][0])
	assert.Equal(t, "8", out.Rows[1][8])
	assert.Equal(t, "9", out.Rows[2][8])

	_, err = m.MapTable(context.Background(), in, TableParams{})
	assert.Error(t, err)
	_, err = m.MapTable(context.Background(), in, TableParams{CodeColumn: "missing"})
	assert.Error(t, err)
}

func TestFindStand(t *testing.T) {
	ctx := context.Background()
	m := newTestMapper(t)
	for _, f := range m.repo.FetchMany(ctx, []time.Time{d1980, d2000}, repository.FetchOptions{}) {
		require.NoError(t, f.Err)
	}

	stand, err := m.FindStand(ctx, []int{1, 2, 5, 7, 2285, 8101})
	require.NoError(t, err)
	assert.Equal(t, d1980, stand.Date)
	assert.Equal(t, StandByCount, stand.Method)
	assert.Equal(t, []int{2285, 8101}, stand.Removed)

	stand, err = m.FindStand(ctx, []int{6, 10})
	require.NoError(t, err)
	assert.Equal(t, d2000, stand.Date)
	assert.Equal(t, StandByContents, stand.Method)

	stand, err = m.FindStand(ctx, []int{6, 10, 4242})
	require.NoError(t, err)
	assert.Equal(t, d2000, stand.Date)
	assert.Equal(t, StandBestEffort, stand.Method)
	assert.Equal(t, []int{4242}, stand.Unknown)

	_, err = m.FindStand(ctx, []int{4242})
	assert.True(t, errors.Is(err, model.ErrUnresolvedCode))

	_, err = m.FindStand(ctx, []int{7001})
	assert.ErrorIs(t, err, model.ErrUnresolvedCode)
}

func TestTraceSingleCode(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()

	results, err := m.Trace(ctx, 9, d2000, model.TargetDates(d1980, d2000))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, d1980, results[0].TargetDate)
	require.Len(t, results[0].Entries, 1)
	assert.Equal(t, 7, results[0].Entries[0].TargetCode)
	assert.Equal(t, "Grossberg", results[0].Entries[0].TargetName)
	assert.Equal(t, "Unterberg", results[0].SourceName)

	require.Len(t, results[1].Entries, 1)
	assert.Equal(t, 9, results[1].Entries[0].TargetCode)
	assert.Equal(t, model.RelUnchanged, results[1].Entries[0].Relationship)

	results, err = m.Trace(ctx, 99, d1980, model.TargetDates(d2000))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, errors.Is(results[0].Err, model.ErrUnresolvedCode))
}

func TestEmptyTargetRangeIsAnError(t *testing.T) {
	m := newTestMapper(t)
	ctx := context.Background()
	empty := model.TargetRange(model.Date(2001, 1, 1), model.Date(2002, 1, 1))

	out, err := m.MapRecords(ctx, []Row{{Index: 0, Code: 1}, {Index: 1, Name: "Nirgendwo"}}, RecordOptions{Origin: d1980, Targets: empty})
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
	assert.Empty(t, out)

	_, err = m.CreateMultiMapping(ctx, d1980, empty)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)

	_, err = m.Trace(ctx, 1, d1980, empty)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)

	_, err = m.CreateMultiMapping(ctx, d1980, model.TargetDates())
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}

func TestMapTableDeterministic(t *testing.T) {
	m := newTestMapper(t)
	in := table.New("id", "bfs", "gemeinde")
	in.Append("a", "7", "Grossberg")
	in.Append("b", "", "Altweiler")
	in.Append("c", "1", "Altdorf")
	in.Append("d", "", "Nirgendwo")
	in.Append("e", "5", "")
	p := TableParams{
		CodeColumn:    "bfs",
		NameColumn:    "gemeinde",
		RecordOptions: RecordOptions{Origin: d1980, Targets: model.TargetDates(d2000, d1980)},
	}

	var first string
	for i := 0; i < 5; i++ {
		out, err := m.MapTable(context.Background(), in, p)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, table.WriteCSV(&buf, out))
		if i == 0 {
			first = buf.String()
			continue
		}
		assert.Equal(t, first, buf.String())
	}
	assert.Contains(t, first, "a,7,Grossberg,1980-01-01,7,code,1.0000,2000-01-01,8,Oberberg,split-result")
	assert.Contains(t, first, "a,7,Grossberg,1980-01-01,7,code,1.0000,2000-01-01,9,Unterberg,split-result")
}
