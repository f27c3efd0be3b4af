// Package matcher resolves free-text municipality names to the record valid
// in a snapshot.
package matcher

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/normalize"
	"github.com/rcliao/muni-map/internal/repository"
	"github.com/rcliao/muni-map/internal/table"
)

// Status tells how a match was obtained.
type Status string

const (
	StatusExact     Status = "exact"
	StatusAlias     Status = "alias"
	StatusFuzzy     Status = "fuzzy"
	StatusAmbiguous Status = "ambiguous"
	StatusForeign   Status = "foreign"
	StatusUnmatched Status = "unmatched"
)

// Columns appended by MatchTable.
const (
	ColCode       = "matched_code"
	ColName       = "matched_name"
	ColConfidence = "confidence"
	ColStatus     = "match_status"
)

// Match is the outcome of a name lookup. Code is zero unless the confidence
// reached the threshold (the no-match sentinel).
type Match struct {
	Query      string  `json:"query"`
	Key        string  `json:"key,omitempty"`
	Code       int     `json:"code,omitempty"`
	Name       string  `json:"name,omitempty"`
	Canton     string  `json:"canton,omitempty"`
	Confidence float64 `json:"confidence"`
	Status     Status  `json:"status"`
}

// Matched reports whether the match carries a code.
func (m Match) Matched() bool { return m.Code != 0 }

// SnapshotSource is the part of the repository the matcher reads.
type SnapshotSource interface {
	Fetch(ctx context.Context, date time.Time, opts repository.FetchOptions) (*model.Snapshot, error)
}

// Options configures a Matcher.
type Options struct {
	Threshold         float64
	Normalizer        *normalize.Normalizer
	ForeignCodes      []string // e.g. "de", "fr"; matched inside parentheses
	ForeignIndicators []string // names that mark a place abroad
	FalsePositives    []string // canonical names never returned
	Logger            *slog.Logger
}

// Matcher matches names against snapshots. It holds no per-query state.
type Matcher struct {
	repo       SnapshotSource
	norm       *normalize.Normalizer
	threshold  float64
	foreign    map[string]bool
	indicators map[string]bool
	falsePos   map[string]bool
	logger     *slog.Logger
}

// New creates a Matcher. The threshold is taken as given.
func New(repo SnapshotSource, opts Options) *Matcher {
	m := &Matcher{
		repo:       repo,
		norm:       opts.Normalizer,
		threshold:  opts.Threshold,
		foreign:    map[string]bool{},
		indicators: map[string]bool{},
		falsePos:   map[string]bool{},
		logger:     opts.Logger,
	}
	if m.norm == nil {
		m.norm = normalize.New(nil)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	for _, c := range opts.ForeignCodes {
		m.foreign[strings.ToLower(strings.TrimSpace(c))] = true
	}
	for _, s := range opts.ForeignIndicators {
		if k := m.norm.Normalize(s); k != "" {
			m.indicators[k] = true
		}
	}
	for _, s := range opts.FalsePositives {
		if k := m.norm.Normalize(s); k != "" {
			m.falsePos[k] = true
		}
	}
	return m
}

// Index builds the searchable form of snap for repeated matching.
func (m *Matcher) Index(snap *model.Snapshot) *Index {
	return newIndex(m, snap)
}

// MatchName resolves query against the snapshot valid on date. The error is
// only set when the snapshot cannot be obtained.
func (m *Matcher) MatchName(ctx context.Context, query string, date time.Time) (Match, error) {
	snap, err := m.repo.Fetch(ctx, date, repository.FetchOptions{})
	if err != nil {
		return Match{Query: query, Status: StatusUnmatched}, err
	}
	return m.Index(snap).Match(query), nil
}

// MatchTable matches column row by row against the snapshot valid on date
// and returns a copy with the match columns appended. Rows keep their order.
func (m *Matcher) MatchTable(ctx context.Context, t *table.Table, column string, date time.Time) (*table.Table, error) {
	cols, err := t.Require(column)
	if err != nil {
		return nil, err
	}
	snap, err := m.repo.Fetch(ctx, date, repository.FetchOptions{})
	if err != nil {
		return nil, err
	}
	ix := m.Index(snap)

	out := t.WithColumns(ColCode, ColName, ColConfidence, ColStatus)
	base := len(t.Columns)
	for i, row := range out.Rows {
		res := ix.Match(t.Value(i, cols[0]))
		if res.Matched() {
			row[base] = strconv.Itoa(res.Code)
			row[base+1] = res.Name
		}
		row[base+2] = strconv.FormatFloat(res.Confidence, 'f', 4, 64)
		row[base+3] = string(res.Status)
	}
	return out, nil
}

// isForeign checks parenthesised notes against the foreign codes and
// indicators, then the whole key against the indicators.
func (m *Matcher) isForeign(raw, key string) bool {
	for _, g := range parenGroup.FindAllStringSubmatch(raw, -1) {
		note := strings.ToLower(strings.TrimSpace(g[1]))
		if m.foreign[note] || m.indicators[m.norm.Normalize(note)] {
			return true
		}
	}
	return m.indicators[key]
}
