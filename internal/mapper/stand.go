package mapper

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/repository"
)

// Territories shared by several municipalities (Kommunanzen and state
// forests). They carry codes but belong to no single snapshot.
var sharedTerritories = map[int]string{
	2285: "Staatswald Galm",
	2391: "Staatswald Galm",
	5020: "C'za Medeglia/Robasacco",
	5391: "C'za Cadenazzo/Monteceneri",
	5238: "C'za Corticiasca/Valcolla",
	5394: "C'za Capriasca/Lugano",
	6072: "Kommunanz Gluringen-Ritzingen",
	6391: "Kommunanz Reckingen-Gluringen/Grafschaft",
}

// Codes from 7000 up are foreign areas and lakes.
const firstNonMunicipal = 7000

// Stand inference methods.
const (
	StandByCount    = "count"
	StandByContents = "contents"
	StandBestEffort = "best-effort"
)

// Stand is the snapshot a set of codes was inferred to belong to.
type Stand struct {
	Date    time.Time `json:"date"`
	Method  string    `json:"method"`
	Codes   int       `json:"codes"`
	Removed []int     `json:"removed,omitempty"`
	Unknown []int     `json:"unknown,omitempty"`
}

// FindStand infers the snapshot codes were recorded under. Shared
// territories and non-municipal areas are set aside first. A cached snapshot
// with exactly as many records that contains every code wins; otherwise the
// newest snapshot containing every code. When none does, the snapshot
// covering the most codes is returned with the rest listed as unknown.
func (m *Mapper) FindStand(ctx context.Context, codes []int) (*Stand, error) {
	var set, removed []int
	for _, c := range model.UniqueCodes(codes) {
		switch {
		case c <= 0:
		case sharedTerritories[c] != "" || c >= firstNonMunicipal:
			removed = append(removed, c)
		default:
			set = append(set, c)
		}
	}
	if len(removed) > 0 {
		m.logger.Info("ignoring shared or non-municipal territories for stand search", "codes", removed)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: no municipality codes to infer a stand from", model.ErrUnresolvedCode)
	}

	counts, err := m.repo.CountTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("count table: %w", err)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Date.After(counts[j].Date) })

	for _, c := range counts {
		if c.Count != len(set) {
			continue
		}
		if missing, err := m.missing(ctx, c.Date, set); err == nil && len(missing) == 0 {
			return &Stand{Date: c.Date, Method: StandByCount, Codes: len(set), Removed: removed}, nil
		}
	}

	candidates := make([]time.Time, 0, len(counts)+1)
	for _, c := range counts {
		candidates = append(candidates, c.Date)
	}
	if catalog, err := m.repo.Dates(ctx); err == nil && len(catalog) > 0 {
		candidates = append(candidates, catalog[len(catalog)-1])
	}
	candidates = model.SortDates(candidates)

	var best *Stand
	bestCovered := 0
	for i := len(candidates) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(ctx)
		}
		missing, err := m.missing(ctx, candidates[i], set)
		if err != nil {
			m.logger.Debug("stand candidate unavailable", "date", model.FormatDate(candidates[i]), "error", err)
			continue
		}
		if len(missing) == 0 {
			return &Stand{Date: candidates[i], Method: StandByContents, Codes: len(set), Removed: removed}, nil
		}
		if covered := len(set) - len(missing); covered > bestCovered {
			bestCovered = covered
			best = &Stand{Date: candidates[i], Method: StandBestEffort, Codes: len(set), Removed: removed, Unknown: missing}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no known snapshot contains any of the %d codes", model.ErrUnresolvedCode, len(set))
	}
	m.logger.Warn("no snapshot contains every code", "date", model.FormatDate(best.Date), "unknown", best.Unknown)
	return best, nil
}

func (m *Mapper) missing(ctx context.Context, date time.Time, codes []int) ([]int, error) {
	snap, err := m.repo.Fetch(ctx, date, repository.FetchOptions{Exact: true})
	if err != nil {
		return nil, err
	}
	var out []int
	for _, c := range codes {
		if _, ok := snap.Lookup(c); !ok {
			out = append(out, c)
		}
	}
	return out, nil
}
