package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcliao/muni-map/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time { return model.Date(y, m, d) }

func TestSaveAndLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	snap := model.NewSnapshot(day(1980, 1, 1), []model.Record{
		{Code: 2, Name: "Altweiler", Canton: "UR"},
		{Code: 1, Name: "Altdorf", Canton: "UR", District: 400},
	})
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadSnapshot(ctx, day(1980, 1, 1))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got.Records))
	}
	if got.Records[0].Code != 1 || got.Records[0].District != 400 {
		t.Errorf("unexpected first record %+v", got.Records[0])
	}
	if got.ID == "" {
		t.Error("expected non-empty ID")
	}
	if got.FetchedAt.IsZero() {
		t.Error("expected fetched_at to be set")
	}
}

func TestSaveSnapshotReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.SaveSnapshot(ctx, model.NewSnapshot(day(2000, 1, 1), []model.Record{{Code: 1, Name: "A"}}))
	s.SaveSnapshot(ctx, model.NewSnapshot(day(2000, 1, 1), []model.Record{{Code: 1, Name: "A"}, {Code: 2, Name: "B"}}))

	got, err := s.LoadSnapshot(ctx, day(2000, 1, 1))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Records) != 2 {
		t.Errorf("expected replaced snapshot with 2 records, got %d", len(got.Records))
	}
	dates, _ := s.SnapshotDates(ctx)
	if len(dates) != 1 {
		t.Errorf("expected 1 snapshot date, got %d", len(dates))
	}
}

func TestLoadSnapshotNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadSnapshot(context.Background(), day(1999, 1, 1))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCountTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.SaveSnapshot(ctx, model.NewSnapshot(day(2000, 1, 1), []model.Record{{Code: 1, Name: "A"}, {Code: 2, Name: "B"}}))
	s.SaveSnapshot(ctx, model.NewSnapshot(day(1990, 1, 1), []model.Record{{Code: 1, Name: "A"}, {Code: 2, Name: "B"}, {Code: 3, Name: "C"}}))

	counts, err := s.CountTable(ctx)
	if err != nil {
		t.Fatalf("count table: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(counts))
	}
	if !counts[0].Date.Equal(day(1990, 1, 1)) || counts[0].Count != 3 {
		t.Errorf("unexpected first row %+v", counts[0])
	}
	if counts[1].Count != 2 {
		t.Errorf("expected 2 records for 2000, got %d", counts[1].Count)
	}
}

func TestEventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, _, err := s.LoadEvents(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	events := []model.MutationEvent{
		{Number: 7, Kind: model.KindMerge, Sources: []int{1, 2}, Targets: []int{10}, Effective: day(1995, 5, 31), TargetName: "Neudorf"},
		{Kind: model.KindSplit, Sources: []int{10}, Targets: []int{11, 12}, Effective: day(2005, 1, 1)},
	}
	if err := s.SaveEvents(ctx, events); err != nil {
		t.Fatalf("save events: %v", err)
	}

	got, savedAt, err := s.LoadEvents(ctx)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if savedAt.IsZero() {
		t.Error("expected saved_at")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Kind != model.KindMerge || len(got[0].Sources) != 2 || got[0].Targets[0] != 10 {
		t.Errorf("unexpected first event %+v", got[0])
	}
	if got[0].Number != 7 || got[0].TargetName != "Neudorf" {
		t.Errorf("expected number and target name preserved, got %+v", got[0])
	}
	if len(got[1].Targets) != 2 {
		t.Errorf("expected split targets, got %v", got[1].Targets)
	}

	byCode, err := s.EventsForCode(ctx, 10)
	if err != nil {
		t.Fatalf("events for code: %v", err)
	}
	if len(byCode) != 2 {
		t.Errorf("expected code 10 in 2 events, got %d", len(byCode))
	}
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SaveCatalog(ctx, []time.Time{day(2000, 1, 1), day(2005, 1, 1)}); err != nil {
		t.Fatalf("save catalog: %v", err)
	}
	dates, savedAt, err := s.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if len(dates) != 2 || savedAt.IsZero() {
		t.Errorf("unexpected catalog %v saved %v", dates, savedAt)
	}
}
