package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EventKind classifies a mutation event.
type EventKind int

const (
	KindMerge EventKind = iota + 1
	KindSplit
	KindRename
	KindAbsorption
	KindBoundaryChange
)

// String returns the wire label of the kind.
func (k EventKind) String() string {
	switch k {
	case KindMerge:
		return "merge"
	case KindSplit:
		return "split"
	case KindRename:
		return "rename"
	case KindAbsorption:
		return "absorption"
	case KindBoundaryChange:
		return "boundary-change"
	default:
		return "unknown"
	}
}

// ParseEventKind converts a label to an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "merge":
		return KindMerge, nil
	case "split":
		return KindSplit, nil
	case "rename":
		return KindRename, nil
	case "absorption":
		return KindAbsorption, nil
	case "boundary-change", "boundary_change":
		return KindBoundaryChange, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *EventKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseEventKind(s)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// MutationEvent links source codes to target codes at an effective date.
// Sources are valid up to and including Effective; targets from the day after.
type MutationEvent struct {
	Number    int       `json:"number,omitempty"`
	Kind      EventKind `json:"kind"`
	Sources   []int     `json:"sources"`
	Targets   []int     `json:"targets"`
	Effective time.Time `json:"effective"`

	// TargetName is the registry name of the target of a single-target event.
	TargetName string `json:"target_name,omitempty"`
}

// TargetStart is the first day on which the event's targets are valid.
func (e MutationEvent) TargetStart() time.Time {
	return Day(e.Effective).AddDate(0, 0, 1)
}

// ClassifyEvent derives the kind of a registry mutation from its code sets.
func ClassifyEvent(sources, targets []int, renamed bool) EventKind {
	src := codeSet(sources)
	switch {
	case len(src) > 1 && len(targets) == 1:
		if src[targets[0]] {
			return KindAbsorption
		}
		return KindMerge
	case len(src) == 1 && len(targets) > 1:
		return KindSplit
	case len(src) == 1 && len(targets) == 1:
		if sources[0] != targets[0] || renamed {
			return KindRename
		}
		return KindBoundaryChange
	default:
		return KindBoundaryChange
	}
}

// UniqueCodes returns the sorted distinct codes.
func UniqueCodes(codes []int) []int {
	set := codeSet(codes)
	out := make([]int, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

func codeSet(codes []int) map[int]bool {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}
