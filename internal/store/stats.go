package store

import (
	"context"
	"os"
	"time"

	"github.com/rcliao/muni-map/internal/model"
)

// Stats holds database statistics.
type Stats struct {
	DBPath       string            `json:"db_path"`
	DBSizeBytes  int64             `json:"db_size_bytes"`
	Snapshots    int               `json:"snapshots"`
	Records      int               `json:"records"`
	Events       int               `json:"events"`
	CatalogDates int               `json:"catalog_dates"`
	Counts       []model.DateCount `json:"counts"`
}

// CountTable returns the number of records in every cached snapshot.
func (s *SQLiteStore) CountTable(ctx context.Context) ([]model.DateCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.date, COUNT(r.code)
		FROM snapshots s LEFT JOIN records r ON r.snapshot_id = s.id
		GROUP BY s.date ORDER BY s.date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []model.DateCount
	for rows.Next() {
		var date string
		var c model.DateCount
		if err := rows.Scan(&date, &c.Count); err != nil {
			return nil, err
		}
		c.Date, _ = time.Parse(model.DateLayout, date)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&st.Snapshots)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&st.Records)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.Events)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog`).Scan(&st.CatalogDates)

	counts, err := s.CountTable(ctx)
	if err != nil {
		return st, err
	}
	st.Counts = counts
	return st, nil
}
