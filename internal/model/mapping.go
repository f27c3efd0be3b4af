package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Relationship describes how a target code relates to the source code.
type Relationship int

const (
	RelUnchanged Relationship = iota
	RelExactRename
	RelMergeContributor
	RelSplitResult
)

// String returns the wire label of the relationship.
func (r Relationship) String() string {
	switch r {
	case RelUnchanged:
		return "unchanged"
	case RelExactRename:
		return "exact-rename"
	case RelMergeContributor:
		return "merge-contributor"
	case RelSplitResult:
		return "split-result"
	default:
		return "unknown"
	}
}

func (r Relationship) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Relationship) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, v := range []Relationship{RelUnchanged, RelExactRename, RelMergeContributor, RelSplitResult} {
		if v.String() == s {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("unknown relationship %q", s)
}

// RelationshipOf maps an event kind to the relationship it contributes.
// Boundary changes keep the code but are never exact.
func RelationshipOf(k EventKind) Relationship {
	switch k {
	case KindRename:
		return RelExactRename
	case KindMerge, KindAbsorption:
		return RelMergeContributor
	case KindSplit:
		return RelSplitResult
	default:
		return RelUnchanged
	}
}

// MostSpecific returns the more specific of two relationships.
// Order: split-result > merge-contributor > exact-rename > unchanged.
func MostSpecific(a, b Relationship) Relationship {
	if b > a {
		return b
	}
	return a
}

// MappingEntry is one target code reached from a source code.
type MappingEntry struct {
	TargetDate   time.Time    `json:"target_date"`
	TargetCode   int          `json:"target_code"`
	TargetName   string       `json:"target_name,omitempty"`
	Relationship Relationship `json:"relationship"`
	Exact        bool         `json:"exact"`
	Path         []EventKind  `json:"path,omitempty"`
}

// MappingResult holds every entry for one source code and target date.
type MappingResult struct {
	SourceCode int                 `json:"source_code"`
	SourceName string              `json:"source_name,omitempty"`
	SourceDate time.Time           `json:"source_date"`
	TargetDate time.Time           `json:"target_date"`
	Entries    []MappingEntry      `json:"entries"`
	Warning    *ValidationMismatch `json:"warning,omitempty"`
	Err        error               `json:"-"`
	Error      string              `json:"error,omitempty"`
}

// SetErr records a per-item error on the result.
func (r *MappingResult) SetErr(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// MappingTable is the outcome of a full-state mapping request.
type MappingTable struct {
	SourceDate  time.Time            `json:"source_date"`
	TargetDates []time.Time          `json:"target_dates"`
	Results     []MappingResult      `json:"results"`
	Warnings    []ValidationMismatch `json:"warnings,omitempty"`
}
