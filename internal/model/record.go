// Package model defines the municipality data types shared by every package.
package model

import (
	"sort"
	"time"
)

// Record is one municipality as listed in a snapshot.
type Record struct {
	Code     int    `json:"code"`
	Name     string `json:"name"`
	Canton   string `json:"canton"`
	District int    `json:"district,omitempty"`
}

// Snapshot is the complete municipality state (Gemeindestand) valid on Date.
type Snapshot struct {
	ID        string    `json:"id,omitempty"`
	Date      time.Time `json:"date"`
	Records   []Record  `json:"records"`
	FetchedAt time.Time `json:"fetched_at"`
}

// NewSnapshot returns a snapshot with records sorted by code.
func NewSnapshot(date time.Time, records []Record) Snapshot {
	rs := make([]Record, len(records))
	copy(rs, records)
	sort.Slice(rs, func(i, j int) bool { return rs[i].Code < rs[j].Code })
	return Snapshot{Date: Day(date), Records: rs}
}

// Lookup returns the record for code.
func (s Snapshot) Lookup(code int) (Record, bool) {
	i := sort.Search(len(s.Records), func(i int) bool { return s.Records[i].Code >= code })
	if i < len(s.Records) && s.Records[i].Code == code {
		return s.Records[i], true
	}
	return Record{}, false
}

// Codes returns the snapshot's codes in ascending order.
func (s Snapshot) Codes() []int {
	codes := make([]int, len(s.Records))
	for i, r := range s.Records {
		codes[i] = r.Code
	}
	return codes
}

// DateCount is one row of the per-date record-count table.
type DateCount struct {
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
}
