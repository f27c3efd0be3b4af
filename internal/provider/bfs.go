package provider

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rcliao/muni-map/internal/model"
)

const bfsDateLayout = "02-01-2006"

// municipality level in the BFS hierarchy (1 canton, 2 district, 3 municipality).
const levelMunicipality = 3

// StatusError is a non-2xx response from the registry.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Status, e.Body)
}

// IsPermanent reports whether retrying err is pointless (client errors other
// than 408 and 429).
func IsPermanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status >= 400 && se.Status < 500 &&
		se.Status != http.StatusTooManyRequests && se.Status != http.StatusRequestTimeout
}

// BFSOptions configures a BFS client.
type BFSOptions struct {
	BaseURL       string
	RatePerSecond float64 // 0 disables rate limiting
	Timeout       time.Duration
	StartDate     time.Time
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// BFS reads snapshots and mutations from the BFS communes API (CSV).
type BFS struct {
	baseURL string
	start   time.Time
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewBFS creates a BFS client.
func NewBFS(opts BFSOptions) *BFS {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	start := opts.StartDate
	if start.IsZero() {
		start = model.Date(1981, 1, 1)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BFS{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		start:   start,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Dates returns the distinct mutation dates; each is the first day of a new state.
func (b *BFS) Dates(ctx context.Context) ([]time.Time, error) {
	rows, err := b.getCSV(ctx, "mutations", b.mutationQuery())
	if err != nil {
		return nil, err
	}
	col := rows.index("MutationDate")
	if col < 0 {
		return nil, fmt.Errorf("mutations: missing MutationDate column")
	}
	var dates []time.Time
	for _, r := range rows.data {
		d, err := model.ParseDate(r.get(col))
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	return model.SortDates(dates), nil
}

// Snapshot returns the municipalities (level 3) valid on date, with cantons
// resolved through the district hierarchy.
func (b *BFS) Snapshot(ctx context.Context, date time.Time) ([]model.Record, error) {
	q := url.Values{"date": {date.Format(bfsDateLayout)}}
	rows, err := b.getCSV(ctx, "snapshot", q)
	if err != nil {
		return nil, err
	}
	return parseSnapshot(rows)
}

// Mutations returns registry mutations grouped by mutation number. The
// registry dates a mutation by the first day of the new state, so Effective
// is set to the day before.
func (b *BFS) Mutations(ctx context.Context) ([]model.MutationEvent, error) {
	rows, err := b.getCSV(ctx, "mutations", b.mutationQuery())
	if err != nil {
		return nil, err
	}
	return parseMutations(rows)
}

func (b *BFS) mutationQuery() url.Values {
	return url.Values{
		"includeTerritoryExchange": {"false"},
		"startPeriod":              {b.start.Format(bfsDateLayout)},
		"endPeriod":                {time.Now().UTC().Format(bfsDateLayout)},
	}
}

func (b *BFS) getCSV(ctx context.Context, path string, q url.Values) (*csvRows, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := b.baseURL + "/" + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{URL: u, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	rows, err := readCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", u, err)
	}
	b.logger.Debug("bfs fetch", "path", path, "rows", len(rows.data), "duration", time.Since(start))
	return rows, nil
}

type csvRow []string

func (r csvRow) get(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[i])
}

type csvRows struct {
	header map[string]int
	data   []csvRow
}

// index returns the position of the first named column present, or -1.
func (c *csvRows) index(names ...string) int {
	for _, n := range names {
		if i, ok := c.header[strings.ToLower(n)]; ok {
			return i
		}
	}
	return -1
}

func readCSV(r io.Reader) (*csvRows, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parse csv: empty response")
	}
	rows := &csvRows{header: make(map[string]int, len(records[0]))}
	for i, h := range records[0] {
		rows.header[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, rec := range records[1:] {
		rows.data = append(rows.data, csvRow(rec))
	}
	return rows, nil
}

func parseSnapshot(rows *csvRows) ([]model.Record, error) {
	idCol := rows.index("Identifier", "HistoricalCode")
	codeCol := rows.index("BfsCode", "Code")
	levelCol := rows.index("Level")
	parentCol := rows.index("Parent")
	nameCol := rows.index("Name", "Name_de")
	shortCol := rows.index("ShortName", "Abbreviation")
	cantonCol := rows.index("Canton", "CantonAbbreviation")
	if codeCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("snapshot: missing BfsCode or Name column")
	}

	type node struct {
		level  int
		parent string
		short  string
	}
	nodes := map[string]node{}
	for _, r := range rows.data {
		level, _ := strconv.Atoi(r.get(levelCol))
		if id := r.get(idCol); id != "" {
			nodes[id] = node{level: level, parent: r.get(parentCol), short: r.get(shortCol)}
		}
	}

	// canton walks parents up to the level-1 entry.
	canton := func(parent string) string {
		for i := 0; i < 4 && parent != ""; i++ {
			n, ok := nodes[parent]
			if !ok {
				return ""
			}
			if n.level == 1 {
				return strings.ToUpper(n.short)
			}
			parent = n.parent
		}
		return ""
	}

	var out []model.Record
	seen := map[int]bool{}
	for _, r := range rows.data {
		if levelCol >= 0 {
			if level, _ := strconv.Atoi(r.get(levelCol)); level != levelMunicipality {
				continue
			}
		}
		code, err := strconv.Atoi(r.get(codeCol))
		if err != nil || code <= 0 || seen[code] {
			continue
		}
		seen[code] = true
		rec := model.Record{Code: code, Name: r.get(nameCol), Canton: strings.ToUpper(r.get(cantonCol))}
		if rec.Canton == "" {
			rec.Canton = canton(r.get(parentCol))
		}
		if p, ok := nodes[r.get(parentCol)]; ok && p.level == 2 {
			rec.District, _ = strconv.Atoi(r.get(parentCol))
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func parseMutations(rows *csvRows) ([]model.MutationEvent, error) {
	numCol := rows.index("MutationNumber")
	dateCol := rows.index("MutationDate")
	initCol := rows.index("InitialCode")
	initNameCol := rows.index("InitialName")
	termCol := rows.index("TerminalCode")
	termNameCol := rows.index("TerminalName")
	if dateCol < 0 || initCol < 0 || termCol < 0 {
		return nil, fmt.Errorf("mutations: missing MutationDate, InitialCode or TerminalCode column")
	}

	type group struct {
		number   int
		date     time.Time
		sources  []int
		targets  []int
		renamed  bool
		terminal string
	}
	var order []string
	groups := map[string]*group{}

	for _, r := range rows.data {
		date, err := model.ParseDate(r.get(dateCol))
		if err != nil {
			continue
		}
		src, err1 := strconv.Atoi(r.get(initCol))
		dst, err2 := strconv.Atoi(r.get(termCol))
		if err1 != nil || err2 != nil {
			continue
		}
		key := r.get(numCol)
		if key == "" {
			key = model.FormatDate(date) + "/" + strconv.Itoa(dst)
		}
		g, ok := groups[key]
		if !ok {
			g = &group{date: date}
			g.number, _ = strconv.Atoi(r.get(numCol))
			groups[key] = g
			order = append(order, key)
		}
		g.sources = append(g.sources, src)
		g.targets = append(g.targets, dst)
		if r.get(initNameCol) != r.get(termNameCol) {
			g.renamed = true
		}
		g.terminal = r.get(termNameCol)
	}

	events := make([]model.MutationEvent, 0, len(order))
	for _, key := range order {
		g := groups[key]
		sources, targets := model.UniqueCodes(g.sources), model.UniqueCodes(g.targets)
		events = append(events, model.MutationEvent{
			Number:     g.number,
			Kind:       model.ClassifyEvent(sources, targets, g.renamed),
			Sources:    sources,
			Targets:    targets,
			Effective:  g.date.AddDate(0, 0, -1),
			TargetName: g.terminal,
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Effective.Before(events[j].Effective) })
	return events, nil
}
