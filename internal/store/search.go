package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/muni-map/internal/model"
)

// SearchResult is a cached record together with the snapshot it belongs to.
type SearchResult struct {
	model.Record
	Date time.Time `json:"date"`
}

// Search finds cached records whose name contains the query substring.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"r.name LIKE ?"}
	args := []interface{}{"%" + p.Query + "%"}

	if !p.Date.IsZero() {
		where = append(where, "s.date = ?")
		args = append(args, model.FormatDate(p.Date))
	}
	if p.Canton != "" {
		where = append(where, "r.canton = ?")
		args = append(args, strings.ToUpper(p.Canton))
	}

	query := fmt.Sprintf(`
		SELECT r.code, r.name, r.canton, r.district, s.date
		FROM records r INNER JOIN snapshots s ON s.id = r.snapshot_id
		WHERE %s
		ORDER BY s.date DESC, r.name
		LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var res SearchResult
		var date string
		var district *int
		if err := rows.Scan(&res.Code, &res.Name, &res.Canton, &district, &date); err != nil {
			return nil, err
		}
		if district != nil {
			res.District = *district
		}
		res.Date, _ = time.Parse(model.DateLayout, date)
		results = append(results, res)
	}
	return results, rows.Err()
}
