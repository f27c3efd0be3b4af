package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the canonical date format used in output and storage.
const DateLayout = "2006-01-02"

var inputLayouts = []string{
	DateLayout,
	"02-01-2006",
	"02.01.2006",
	time.RFC3339,
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC civil date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts ISO (2006-01-02) and the BFS forms 02-01-2006 and 02.01.2006.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD or DD-MM-YYYY)", s)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateRange is an inclusive range of dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies within the range, bounds included.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Targets selects target dates either explicitly or as an inclusive range.
// A range is expanded to the snapshot dates known within it.
type Targets struct {
	Dates []time.Time `json:"dates,omitempty"`
	Range *DateRange  `json:"range,omitempty"`
}

// TargetDates returns explicit targets.
func TargetDates(dates ...time.Time) Targets {
	return Targets{Dates: dates}
}

// TargetRange returns an inclusive range target.
func TargetRange(start, end time.Time) Targets {
	return Targets{Range: &DateRange{Start: Day(start), End: Day(end)}}
}

// Expand resolves the targets against the known snapshot dates. Explicit
// dates are returned in caller order with duplicates removed; a range yields
// every known date inside it, ascending.
func (t Targets) Expand(known []time.Time) []time.Time {
	if t.Range != nil {
		var out []time.Time
		for _, d := range SortDates(known) {
			if t.Range.Contains(d) {
				out = append(out, d)
			}
		}
		return out
	}
	seen := make(map[time.Time]bool, len(t.Dates))
	out := make([]time.Time, 0, len(t.Dates))
	for _, d := range t.Dates {
		d = Day(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// SortDates returns a sorted, de-duplicated copy of dates.
func SortDates(dates []time.Time) []time.Time {
	seen := make(map[time.Time]bool, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = Day(d)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// LatestOnOrBefore returns the newest date in sorted that is not after t.
func LatestOnOrBefore(sorted []time.Time, t time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, d := range sorted {
		if d.After(t) {
			break
		}
		best, found = d, true
	}
	return best, found
}
