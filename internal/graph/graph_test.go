package graph

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/muni-map/internal/model"
)

func snap(y int, recs ...model.Record) model.Snapshot {
	return model.NewSnapshot(model.Date(y, 1, 1), recs)
}

func rec(code int, name string) model.Record {
	return model.Record{Code: code, Name: name}
}

func event(kind model.EventKind, effective time.Time, sources, targets []int) model.MutationEvent {
	return model.MutationEvent{Kind: kind, Sources: sources, Targets: targets, Effective: effective}
}

// aliveAt returns the codes valid on d, ascending.
func aliveAt(g *Graph, d time.Time) []int {
	var codes []int
	for code := range g.nodes {
		if _, ok := g.Node(code, d); ok {
			codes = append(codes, code)
		}
	}
	sort.Ints(codes)
	return codes
}

func TestScenarioMergeForward(t *testing.T) {
	g, err := Build(
		[]model.MutationEvent{event(model.KindMerge, model.Date(1995, 6, 1), []int{1, 2}, []int{10})},
		[]model.Snapshot{
			snap(1980, rec(1, "Altdorf"), rec(2, "Altweiler")),
			snap(2000, rec(10, "Neudorf")),
		},
	)
	require.NoError(t, err)

	for _, code := range []int{1, 2} {
		entries, err := g.ResolveForward(code, model.Date(1980, 1, 1), model.Date(2000, 1, 1))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 10, entries[0].TargetCode)
		assert.Equal(t, "Neudorf", entries[0].TargetName)
		assert.Equal(t, model.RelMergeContributor, entries[0].Relationship)
		assert.False(t, entries[0].Exact)
		assert.Equal(t, []model.EventKind{model.KindMerge}, entries[0].Path)
	}
}

func TestMergeBoundaries(t *testing.T) {
	g, err := Build(
		[]model.MutationEvent{event(model.KindMerge, model.Date(1995, 6, 1), []int{1, 2}, []int{10})},
		[]model.Snapshot{snap(1980, rec(1, "A"), rec(2, "B"))},
	)
	require.NoError(t, err)

	// Sources are valid through the effective date, the target from the day after.
	entries, err := g.ResolveForward(1, model.Date(1980, 1, 1), model.Date(1995, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, entries[0].TargetCode)
	assert.Equal(t, model.RelUnchanged, entries[0].Relationship)

	entries, err = g.ResolveForward(1, model.Date(1980, 1, 1), model.Date(1995, 6, 2))
	require.NoError(t, err)
	assert.Equal(t, 10, entries[0].TargetCode)
}

func TestIdentity(t *testing.T) {
	g, err := Build(nil, []model.Snapshot{snap(2000, rec(1, "A"), rec(2, "B"))})
	require.NoError(t, err)

	for _, code := range []int{1, 2} {
		entries, err := g.Resolve(code, model.Date(2000, 1, 1), model.Date(2000, 1, 1))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, code, entries[0].TargetCode)
		assert.Equal(t, model.RelUnchanged, entries[0].Relationship)
		assert.True(t, entries[0].Exact)
		assert.Empty(t, entries[0].Path)
	}
}

func TestEventTargetNameNamesNodes(t *testing.T) {
	rename := event(model.KindRename, model.Date(1990, 1, 1), []int{1}, []int{5})
	rename.TargetName = "Neu"
	split := event(model.KindSplit, model.Date(1992, 1, 1), []int{5}, []int{6, 7})
	split.TargetName = "ignored"
	g, err := Build([]model.MutationEvent{rename, split}, []model.Snapshot{snap(1985, rec(1, "Alt"))})
	require.NoError(t, err)

	n, ok := g.Node(5, model.Date(1991, 1, 1))
	require.True(t, ok)
	assert.Equal(t, "Neu", n.Name)

	entries, err := g.ResolveForward(5, model.Date(1991, 1, 1), model.Date(1995, 1, 1))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Empty(t, e.TargetName)
	}
}

func TestRenameRoundTrip(t *testing.T) {
	g, err := Build(
		[]model.MutationEvent{
			event(model.KindRename, model.Date(1990, 1, 1), []int{1}, []int{5}),
			event(model.KindRename, model.Date(2000, 1, 1), []int{5}, []int{7}),
		},
		[]model.Snapshot{snap(1985, rec(1, "Alt")), snap(2005, rec(7, "Neu"))},
	)
	require.NoError(t, err)

	fwd, err := g.Resolve(1, model.Date(1985, 1, 1), model.Date(2005, 1, 1))
	require.NoError(t, err)
	require.Len(t, fwd, 1)
	assert.Equal(t, 7, fwd[0].TargetCode)
	assert.Equal(t, model.RelExactRename, fwd[0].Relationship)
	assert.True(t, fwd[0].Exact)
	assert.Len(t, fwd[0].Path, 2)

	back, err := g.Resolve(7, model.Date(2005, 1, 1), model.Date(1985, 1, 1))
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, 1, back[0].TargetCode)
	assert.True(t, back[0].Exact)
}

func TestSplitCompleteness(t *testing.T) {
	g, err := Build(
		[]model.MutationEvent{event(model.KindSplit, model.Date(1990, 1, 1), []int{5}, []int{6, 7})},
		[]model.Snapshot{snap(1985, rec(5, "Gross")), snap(1995, rec(6, "Nord"), rec(7, "Sued"))},
	)
	require.NoError(t, err)

	entries, err := g.ResolveForward(5, model.Date(1985, 1, 1), model.Date(1995, 1, 1))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 6, entries[0].TargetCode)
	assert.Equal(t, 7, entries[1].TargetCode)
	for _, e := range entries {
		assert.Equal(t, model.RelSplitResult, e.Relationship)
		assert.False(t, e.Exact)
	}
}

func TestScenarioBackwardFanOut(t *testing.T) {
	g, err := Build(
		[]model.MutationEvent{event(model.KindMerge, model.Date(2010, 1, 1), []int{1, 2}, []int{3})},
		[]model.Snapshot{snap(2005, rec(1, "A"), rec(2, "B")), snap(2015, rec(3, "AB"))},
	)
	require.NoError(t, err)

	entries, err := g.ResolveBackward(3, model.Date(2015, 1, 1), model.Date(2005, 1, 1))
	require.NoError(t, err)
	require.Len(t, entries, 2, "one row per ancestor")
	assert.Equal(t, 1, entries[0].TargetCode)
	assert.Equal(t, "A", entries[0].TargetName)
	assert.Equal(t, 2, entries[1].TargetCode)
	assert.Equal(t, model.RelMergeContributor, entries[1].Relationship)
}

func TestConvergingPathsAreDeduplicated(t *testing.T) {
	g, err := Build(
		[]model.MutationEvent{
			event(model.KindSplit, model.Date(1990, 1, 1), []int{1}, []int{2, 3}),
			event(model.KindMerge, model.Date(2000, 1, 1), []int{2, 3}, []int{4}),
		},
		[]model.Snapshot{snap(1985, rec(1, "A"))},
	)
	require.NoError(t, err)

	entries, err := g.ResolveForward(1, model.Date(1985, 1, 1), model.Date(2005, 1, 1))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].TargetCode)
	assert.Equal(t, model.RelSplitResult, entries[0].Relationship)
	assert.False(t, entries[0].Exact)
}

func TestBoundaryChangeIsInexact(t *testing.T) {
	g, err := Build(
		[]model.MutationEvent{event(model.KindBoundaryChange, model.Date(1990, 1, 1), []int{1}, []int{1})},
		[]model.Snapshot{snap(1985, rec(1, "A"))},
	)
	require.NoError(t, err)

	entries, err := g.ResolveForward(1, model.Date(1985, 1, 1), model.Date(1995, 1, 1))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].TargetCode)
	assert.Equal(t, model.RelUnchanged, entries[0].Relationship)
	assert.False(t, entries[0].Exact)
}

func TestAbsorption(t *testing.T) {
	g, err := Build(
		[]model.MutationEvent{event(model.KindAbsorption, model.Date(1990, 1, 1), []int{1, 2}, []int{1})},
		[]model.Snapshot{snap(1985, rec(1, "Gross"), rec(2, "Klein")), snap(1995, rec(1, "Gross"))},
	)
	require.NoError(t, err)

	entries, err := g.ResolveForward(2, model.Date(1985, 1, 1), model.Date(1995, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, entries[0].TargetCode)
	assert.Equal(t, model.RelMergeContributor, entries[0].Relationship)
	assert.Equal(t, []int{1}, aliveAt(g, model.Date(1995, 1, 1)))
}

func TestImplicitNodesBeforeFirstSnapshot(t *testing.T) {
	g, err := Build(
		[]model.MutationEvent{event(model.KindMerge, model.Date(1970, 1, 1), []int{1, 2}, []int{3})},
		[]model.Snapshot{snap(1980, rec(3, "C"))},
	)
	require.NoError(t, err)

	entries, err := g.ResolveForward(1, model.Date(1960, 1, 1), model.Date(1980, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, entries[0].TargetCode)
}

func TestInconsistentMutationData(t *testing.T) {
	base := []model.Snapshot{snap(1980, rec(1, "A"), rec(2, "B"))}
	tests := []struct {
		name   string
		events []model.MutationEvent
	}{
		{"unknown source", []model.MutationEvent{
			event(model.KindMerge, model.Date(1990, 1, 1), []int{1, 9}, []int{10}),
		}},
		{"consumed source", []model.MutationEvent{
			event(model.KindMerge, model.Date(1990, 1, 1), []int{1, 2}, []int{10}),
			event(model.KindRename, model.Date(1991, 1, 1), []int{1}, []int{11}),
		}},
		{"target already valid", []model.MutationEvent{
			event(model.KindRename, model.Date(1990, 1, 1), []int{1}, []int{2}),
		}},
		{"empty sources", []model.MutationEvent{
			event(model.KindSplit, model.Date(1990, 1, 1), nil, []int{3, 4}),
		}},
		{"empty targets", []model.MutationEvent{
			event(model.KindMerge, model.Date(1990, 1, 1), []int{1, 2}, nil),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(tt.events, base)
			assert.ErrorIs(t, err, model.ErrInconsistentMutationData)
			assert.Nil(t, g, "no partial graph")
		})
	}
}

func TestSnapshotClosesMissingCodes(t *testing.T) {
	g, err := Build(nil, []model.Snapshot{
		snap(1980, rec(1, "A"), rec(2, "B")),
		snap(1990, rec(1, "A")),
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, aliveAt(g, model.Date(1985, 1, 1)))
	assert.Equal(t, []int{1}, aliveAt(g, model.Date(1995, 1, 1)))

	_, err = g.ResolveForward(2, model.Date(1980, 1, 1), model.Date(1995, 1, 1))
	assert.ErrorIs(t, err, model.ErrUnresolvedCode)

	_, err = g.ResolveForward(42, model.Date(1980, 1, 1), model.Date(1995, 1, 1))
	assert.ErrorIs(t, err, model.ErrUnresolvedCode)
}

func TestResolveMultiRange(t *testing.T) {
	g, err := Build(
		[]model.MutationEvent{event(model.KindRename, model.Date(2007, 1, 1), []int{1}, []int{2})},
		[]model.Snapshot{
			snap(2000, rec(1, "A")),
			snap(2005, rec(1, "A")),
			snap(2008, rec(2, "B")),
			snap(2010, rec(2, "B")),
			snap(2012, rec(2, "B")),
		},
	)
	require.NoError(t, err)

	results := g.ResolveMulti(1, model.Date(2000, 1, 1), model.TargetRange(model.Date(2005, 1, 1), model.Date(2010, 1, 1)))
	require.Len(t, results, 3)
	assert.Equal(t, model.Date(2005, 1, 1), results[0].TargetDate)
	assert.Equal(t, 1, results[0].Entries[0].TargetCode)
	assert.Equal(t, model.Date(2008, 1, 1), results[1].TargetDate)
	assert.Equal(t, 2, results[1].Entries[0].TargetCode)
	assert.Equal(t, model.Date(2010, 1, 1), results[2].TargetDate)
	assert.Equal(t, 2, results[2].Entries[0].TargetCode, "unchanged dates are not omitted")
	assert.Equal(t, "A", results[0].SourceName)

	explicit := g.ResolveMulti(1, model.Date(2000, 1, 1), model.TargetDates(model.Date(2012, 1, 1), model.Date(2000, 1, 1)))
	require.Len(t, explicit, 2)
	assert.Equal(t, model.Date(2012, 1, 1), explicit[0].TargetDate)
	assert.Equal(t, model.Date(2000, 1, 1), explicit[1].TargetDate)
}
