// Package graph builds the temporal graph of municipality codes. Nodes are
// codes with a validity interval; edges are mutation events and always point
// forward in time.
package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/rcliao/muni-map/internal/model"
)

// Node is one code over [From, To). A zero From is open towards the past and
// a zero To means still valid.
type Node struct {
	Code int
	Name string
	From time.Time
	To   time.Time

	out []*Edge
	in  []*Edge
}

// AliveAt reports whether the node is valid on d.
func (n *Node) AliveAt(d time.Time) bool {
	return (n.From.IsZero() || !d.Before(n.From)) && (n.To.IsZero() || d.Before(n.To))
}

// Edge connects a source node to a target node through one event.
type Edge struct {
	Kind  model.EventKind
	Event *model.MutationEvent
	From  *Node
	To    *Node
}

// Graph is read-only once built and safe for concurrent queries.
type Graph struct {
	nodes  map[int][]*Node // per code, chronological
	events []model.MutationEvent
	dates  []time.Time
}

// Build processes snapshots and events in time order. A snapshot dated on or
// before an event's effective date is applied first. It fails with
// ErrInconsistentMutationData when an event's sources are not alive on its
// effective date or a target would be valid twice.
func Build(events []model.MutationEvent, snapshots []model.Snapshot) (*Graph, error) {
	g := &Graph{
		nodes:  map[int][]*Node{},
		events: make([]model.MutationEvent, len(events)),
	}
	for i, e := range events {
		e.Effective = model.Day(e.Effective)
		e.Sources = model.UniqueCodes(e.Sources)
		e.Targets = model.UniqueCodes(e.Targets)
		g.events[i] = e
	}
	sort.SliceStable(g.events, func(i, j int) bool { return g.events[i].Effective.Before(g.events[j].Effective) })

	snaps := make([]model.Snapshot, len(snapshots))
	copy(snaps, snapshots)
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Date.Before(snaps[j].Date) })
	for _, s := range snaps {
		g.dates = append(g.dates, model.Day(s.Date))
	}
	g.dates = model.SortDates(g.dates)

	si := 0
	for i := range g.events {
		e := &g.events[i]
		for si < len(snaps) && !model.Day(snaps[si].Date).After(e.Effective) {
			g.applySnapshot(snaps[si])
			si++
		}
		if err := g.applyEvent(e, si > 0); err != nil {
			return nil, err
		}
	}
	for ; si < len(snaps); si++ {
		g.applySnapshot(snaps[si])
	}
	return g, nil
}

// applySnapshot opens nodes for codes first seen on the snapshot date and
// closes nodes whose code is missing from it.
func (g *Graph) applySnapshot(s model.Snapshot) {
	date := model.Day(s.Date)
	present := make(map[int]bool, len(s.Records))
	for _, r := range s.Records {
		present[r.Code] = true
		n := g.alive(r.Code, date)
		if n == nil {
			n = g.addNode(r.Code, date)
		}
		n.Name = r.Name
	}
	for code, list := range g.nodes {
		last := list[len(list)-1]
		if !present[code] && last.AliveAt(date) {
			last.To = date
		}
	}
}

func (g *Graph) applyEvent(e *model.MutationEvent, haveSnapshot bool) error {
	if len(e.Sources) == 0 || len(e.Targets) == 0 {
		return fmt.Errorf("%w: %s event on %s has no sources or no targets",
			model.ErrInconsistentMutationData, e.Kind, model.FormatDate(e.Effective))
	}
	isSource := make(map[int]bool, len(e.Sources))
	sources := make([]*Node, 0, len(e.Sources))
	for _, c := range e.Sources {
		isSource[c] = true
		n := g.alive(c, e.Effective)
		if n == nil {
			if haveSnapshot || len(g.nodes[c]) > 0 {
				return fmt.Errorf("%w: %s event on %s: source %d is not valid on that date",
					model.ErrInconsistentMutationData, e.Kind, model.FormatDate(e.Effective), c)
			}
			// No snapshot covers this date yet; the code predates the data.
			n = g.addNode(c, time.Time{})
		}
		sources = append(sources, n)
	}
	for _, c := range e.Targets {
		if !isSource[c] && g.alive(c, e.Effective) != nil {
			return fmt.Errorf("%w: %s event on %s: target %d is already valid",
				model.ErrInconsistentMutationData, e.Kind, model.FormatDate(e.Effective), c)
		}
	}

	start := e.TargetStart()
	for _, n := range sources {
		n.To = start
	}
	for _, c := range e.Targets {
		t := g.addNode(c, start)
		if len(e.Targets) == 1 {
			t.Name = e.TargetName
		}
		for _, s := range sources {
			edge := &Edge{Kind: e.Kind, Event: e, From: s, To: t}
			s.out = append(s.out, edge)
			t.in = append(t.in, edge)
		}
	}
	return nil
}

func (g *Graph) addNode(code int, from time.Time) *Node {
	n := &Node{Code: code, From: from}
	g.nodes[code] = append(g.nodes[code], n)
	return n
}

// alive returns the node of code valid on d, if any.
func (g *Graph) alive(code int, d time.Time) *Node {
	list := g.nodes[code]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].AliveAt(d) {
			return list[i]
		}
	}
	return nil
}

// Node returns the node of code valid on d.
func (g *Graph) Node(code int, d time.Time) (*Node, bool) {
	n := g.alive(code, model.Day(d))
	return n, n != nil
}
