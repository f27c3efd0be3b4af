package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/rcliao/muni-map/internal/model"
)

// Resolve maps code valid on from to the codes valid on to, walking forward
// or backward depending on date order. Equal dates yield the code unchanged.
func (g *Graph) Resolve(code int, from, to time.Time) ([]model.MappingEntry, error) {
	if to.Before(from) {
		return g.ResolveBackward(code, from, to)
	}
	return g.ResolveForward(code, from, to)
}

// ResolveForward follows outgoing edges from the node valid on from until
// every branch reaches a node valid on to. Merges converge and splits fan out.
func (g *Graph) ResolveForward(code int, from, to time.Time) ([]model.MappingEntry, error) {
	from, to = model.Day(from), model.Day(to)
	if to.Before(from) {
		return nil, fmt.Errorf("resolve forward: target %s is before source %s", model.FormatDate(to), model.FormatDate(from))
	}
	return g.walk(code, from, to, true)
}

// ResolveBackward follows incoming edges from the node valid on from back to
// the ancestors valid on to. One code may have several ancestors.
func (g *Graph) ResolveBackward(code int, from, to time.Time) ([]model.MappingEntry, error) {
	from, to = model.Day(from), model.Day(to)
	if to.After(from) {
		return nil, fmt.Errorf("resolve backward: target %s is after source %s", model.FormatDate(to), model.FormatDate(from))
	}
	return g.walk(code, from, to, false)
}

// ResolveMulti resolves code against every target date. A range is expanded
// to the snapshot dates the graph knows within it. Each date gets a result,
// carrying ErrUnresolvedCode when no path exists.
func (g *Graph) ResolveMulti(code int, from time.Time, targets model.Targets) []model.MappingResult {
	from = model.Day(from)
	dates := targets.Expand(g.dates)
	results := make([]model.MappingResult, 0, len(dates))
	for _, to := range dates {
		res := model.MappingResult{SourceCode: code, SourceDate: from, TargetDate: to}
		if n, ok := g.Node(code, from); ok {
			res.SourceName = n.Name
		}
		entries, err := g.Resolve(code, from, to)
		res.Entries = entries
		res.SetErr(err)
		results = append(results, res)
	}
	return results
}

func (g *Graph) walk(code int, from, to time.Time, forward bool) ([]model.MappingEntry, error) {
	start := g.alive(code, from)
	if start == nil {
		return nil, fmt.Errorf("%w: %d is not valid on %s", model.ErrUnresolvedCode, code, model.FormatDate(from))
	}

	c := collector{date: to, byCode: map[int]*model.MappingEntry{}}
	var visit func(n *Node, kinds []model.EventKind)
	visit = func(n *Node, kinds []model.EventKind) {
		if n.AliveAt(to) {
			c.add(n, kinds)
			return
		}
		edges := n.in
		if forward {
			edges = n.out
		}
		for _, e := range edges {
			next := e.From
			if forward {
				next = e.To
				if next.From.After(to) {
					continue
				}
			}
			path := make([]model.EventKind, len(kinds), len(kinds)+1)
			copy(path, kinds)
			visit(next, append(path, e.Kind))
		}
	}
	visit(start, nil)

	entries := c.entries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %d on %s has no successor valid on %s",
			model.ErrUnresolvedCode, code, model.FormatDate(from), model.FormatDate(to))
	}
	return entries, nil
}

// collector deduplicates paths reaching the same code. The relationship is
// the most specific of all paths; the entry is exact only if every path is.
type collector struct {
	date   time.Time
	byCode map[int]*model.MappingEntry
}

func (c *collector) add(n *Node, kinds []model.EventKind) {
	rel, exact := model.RelUnchanged, true
	for _, k := range kinds {
		rel = model.MostSpecific(rel, model.RelationshipOf(k))
		if k != model.KindRename {
			exact = false
		}
	}
	e, ok := c.byCode[n.Code]
	if !ok {
		c.byCode[n.Code] = &model.MappingEntry{
			TargetDate:   c.date,
			TargetCode:   n.Code,
			TargetName:   n.Name,
			Relationship: rel,
			Exact:        exact,
			Path:         kinds,
		}
		return
	}
	e.Relationship = model.MostSpecific(e.Relationship, rel)
	e.Exact = e.Exact && exact
	if len(kinds) < len(e.Path) {
		e.Path = kinds
	}
}

func (c *collector) entries() []model.MappingEntry {
	out := make([]model.MappingEntry, 0, len(c.byCode))
	for _, e := range c.byCode {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetCode < out[j].TargetCode })
	return out
}
