package mapper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/muni-map/internal/graph"
	"github.com/rcliao/muni-map/internal/matcher"
	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/repository"
	"github.com/rcliao/muni-map/internal/table"
)

// RowStatus marks how an output row was produced.
type RowStatus string

const (
	RowOK             RowStatus = "ok"
	RowUnresolvedCode RowStatus = "unresolved-code"
	RowUnresolvedName RowStatus = "unresolved-name"
	RowUnavailable    RowStatus = "data-unavailable"
	RowCancelled      RowStatus = "cancelled"
)

// Row is one input record. Code and Date are optional.
type Row struct {
	Index int
	Code  int
	Name  string
	Date  time.Time
}

// RecordOptions configures MapRecords.
type RecordOptions struct {
	// Origin is the source date of rows without their own. When zero, the
	// stand is inferred from the rows' codes.
	Origin  time.Time
	Targets model.Targets
}

// OutputRow is one (input row, target date, target code) combination, or a
// single marker row per target date when the input could not be resolved.
type OutputRow struct {
	Index        int                `json:"index"`
	SourceDate   time.Time          `json:"source_date"`
	SourceCode   int                `json:"source_code,omitempty"`
	ResolvedBy   string             `json:"resolved_by,omitempty"`
	Confidence   float64            `json:"confidence"`
	TargetDate   time.Time          `json:"target_date"`
	TargetCode   int                `json:"target_code,omitempty"`
	TargetName   string             `json:"target_name,omitempty"`
	Relationship model.Relationship `json:"relationship"`
	Exact        bool               `json:"exact"`
	Status       RowStatus          `json:"status"`
	Err          error              `json:"-"`
}

// MapRecords maps each row to every target date. A row's code is used when it
// is valid on the row's source date; otherwise its name is matched. Output
// keeps input order and never drops a row.
func (m *Mapper) MapRecords(ctx context.Context, rows []Row, opts RecordOptions) ([]OutputRow, error) {
	origin, err := m.origin(ctx, rows, opts.Origin)
	if err != nil {
		return nil, err
	}
	sourceOf := func(r Row) time.Time {
		if r.Date.IsZero() {
			return origin
		}
		return model.Day(r.Date)
	}

	targets, err := m.expand(ctx, opts.Targets)
	if err != nil {
		return nil, err
	}
	var sources []time.Time
	for _, r := range rows {
		sources = append(sources, sourceOf(r))
	}
	sources = model.SortDates(sources)

	all := append(append([]time.Time(nil), sources...), targets...)
	fetched := map[time.Time]repository.FetchResult{}
	var snaps []model.Snapshot
	for _, f := range m.repo.FetchMany(ctx, all, repository.FetchOptions{}) {
		if _, dup := fetched[f.Date]; dup {
			continue
		}
		fetched[f.Date] = f
		if f.Err == nil {
			snaps = append(snaps, *f.Snapshot)
		}
	}
	g, err := m.graph(ctx, snaps)
	if err != nil {
		return nil, err
	}

	indexes := map[time.Time]*matcher.Index{}
	var out []OutputRow
	for _, r := range rows {
		from := sourceOf(r)
		base := OutputRow{Index: r.Index, SourceDate: from, SourceCode: r.Code}
		if ctx.Err() != nil {
			out = append(out, markers(base, targets, RowCancelled, cancelled(ctx))...)
			continue
		}
		src := fetched[from]
		if src.Err != nil {
			out = append(out, markers(base, targets, RowUnavailable, src.Err)...)
			continue
		}

		code, status, err := m.resolveRow(r, src.Snapshot, indexes, &base)
		if err != nil {
			out = append(out, markers(base, targets, status, err)...)
			continue
		}
		base.SourceCode = code
		for _, to := range targets {
			out = append(out, m.expandRow(g, base, src.Snapshot.Date, to, fetched[to])...)
		}
	}

	if err := ctx.Err(); err != nil {
		return out, cancelled(ctx)
	}
	return out, nil
}

// resolveRow picks the row's code: the given code when the source snapshot
// lists it, otherwise the matched name.
func (m *Mapper) resolveRow(r Row, src *model.Snapshot, indexes map[time.Time]*matcher.Index, base *OutputRow) (int, RowStatus, error) {
	if r.Code > 0 {
		if _, ok := src.Lookup(r.Code); ok {
			base.ResolvedBy, base.Confidence = "code", 1
			return r.Code, RowOK, nil
		}
	}
	if strings.TrimSpace(r.Name) == "" || m.names == nil {
		return 0, RowUnresolvedCode, fmt.Errorf("%w: %d is not valid on %s", model.ErrUnresolvedCode, r.Code, model.FormatDate(src.Date))
	}
	ix, ok := indexes[src.Date]
	if !ok {
		ix = m.names.Index(src)
		indexes[src.Date] = ix
	}
	match := ix.Match(r.Name)
	base.Confidence = match.Confidence
	if !match.Matched() {
		return 0, RowUnresolvedName, fmt.Errorf("%w: %q (%s)", model.ErrUnresolvedName, r.Name, match.Status)
	}
	base.ResolvedBy = "name"
	return match.Code, RowOK, nil
}

func (m *Mapper) expandRow(g *graph.Graph, base OutputRow, from, to time.Time, target repository.FetchResult) []OutputRow {
	if target.Err != nil {
		return markers(base, []time.Time{to}, RowUnavailable, target.Err)
	}
	entries, err := g.Resolve(base.SourceCode, from, to)
	if err != nil {
		return markers(base, []time.Time{to}, RowUnresolvedCode, err)
	}
	out := make([]OutputRow, 0, len(entries))
	for _, e := range entries {
		row := base
		row.TargetDate = to
		row.TargetCode = e.TargetCode
		row.TargetName = e.TargetName
		if rec, ok := target.Snapshot.Lookup(e.TargetCode); ok {
			row.TargetName = rec.Name
		}
		row.Relationship = e.Relationship
		row.Exact = e.Exact
		row.Status = RowOK
		out = append(out, row)
	}
	return out
}

// origin returns the source date for undated rows.
func (m *Mapper) origin(ctx context.Context, rows []Row, origin time.Time) (time.Time, error) {
	if !origin.IsZero() {
		return model.Day(origin), nil
	}
	var codes []int
	undated := false
	for _, r := range rows {
		if r.Date.IsZero() {
			undated = true
			if r.Code > 0 {
				codes = append(codes, r.Code)
			}
		}
	}
	if !undated {
		return time.Time{}, nil
	}
	stand, err := m.FindStand(ctx, codes)
	if err != nil {
		return time.Time{}, fmt.Errorf("infer source stand: %w", err)
	}
	m.logger.Info("inferred source stand", "date", model.FormatDate(stand.Date), "method", stand.Method)
	return stand.Date, nil
}

func markers(base OutputRow, targets []time.Time, status RowStatus, err error) []OutputRow {
	out := make([]OutputRow, 0, len(targets))
	for _, to := range targets {
		row := base
		row.TargetDate = to
		row.Status = status
		row.Err = err
		out = append(out, row)
	}
	return out
}

// Columns appended by MapTable.
var outputColumns = []string{
	"source_date", "source_code", "resolved_by", "confidence",
	"target_date", "target_code", "target_name", "relationship", "exact", "status",
}

// TableParams names the input columns of MapTable. Either CodeColumn or
// NameColumn is required; DateColumn is optional.
type TableParams struct {
	CodeColumn string
	NameColumn string
	DateColumn string
	RecordOptions
}

// MapTable runs MapRecords over a table. Each input row is repeated once per
// output row with the mapping columns appended.
func (m *Mapper) MapTable(ctx context.Context, t *table.Table, p TableParams) (*table.Table, error) {
	if p.CodeColumn == "" && p.NameColumn == "" {
		return nil, errors.New("a code or name column is required")
	}
	col := func(name string) (int, error) {
		if name == "" {
			return -1, nil
		}
		idx, err := t.Require(name)
		if err != nil {
			return -1, err
		}
		return idx[0], nil
	}
	codeCol, err := col(p.CodeColumn)
	if err != nil {
		return nil, err
	}
	nameCol, err := col(p.NameColumn)
	if err != nil {
		return nil, err
	}
	dateCol, err := col(p.DateColumn)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, t.Len())
	for i := range rows {
		rows[i] = Row{Index: i, Name: t.Value(i, nameCol)}
		rows[i].Code, _ = strconv.Atoi(strings.TrimSpace(t.Value(i, codeCol)))
		if v := t.Value(i, dateCol); v != "" {
			if d, err := model.ParseDate(v); err == nil {
				rows[i].Date = d
			} else {
				m.logger.Warn("ignoring unparseable row date", "row", i, "value", v)
			}
		}
	}

	mapped, mapErr := m.MapRecords(ctx, rows, p.RecordOptions)
	if mapped == nil && mapErr != nil {
		return nil, mapErr
	}

	out := table.New(append(append([]string(nil), t.Columns...), outputColumns...)...)
	for _, r := range mapped {
		vals := append([]string(nil), t.Rows[r.Index]...)
		for len(vals) < len(t.Columns) {
			vals = append(vals, "")
		}
		vals = append(vals,
			model.FormatDate(r.SourceDate),
			itoa(r.SourceCode),
			r.ResolvedBy,
			strconv.FormatFloat(r.Confidence, 'f', 4, 64),
			model.FormatDate(r.TargetDate),
			itoa(r.TargetCode),
			r.TargetName,
			relationship(r),
			strconv.FormatBool(r.Exact),
			string(r.Status),
		)
		out.Append(vals...)
	}
	return out, mapErr
}

func relationship(r OutputRow) string {
	if r.Status != RowOK {
		return ""
	}
	return r.Relationship.String()
}

func itoa(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
