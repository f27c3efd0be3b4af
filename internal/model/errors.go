package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDataUnavailable means a snapshot could not be obtained for a date.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInconsistentMutationData means an event violates temporal monotonicity.
	ErrInconsistentMutationData = errors.New("inconsistent mutation data")
	// ErrUnresolvedCode means no mapping path exists for a code.
	ErrUnresolvedCode = errors.New("unresolved code")
	// ErrUnresolvedName means no name match reached the confidence threshold.
	ErrUnresolvedName = errors.New("unresolved name")
	// ErrCancelled marks items skipped because the caller cancelled.
	ErrCancelled = errors.New("cancelled")
)

// ValidationMismatch is a non-fatal warning: the resolved code count for a
// target date disagrees with the count table.
type ValidationMismatch struct {
	TargetDate   time.Time `json:"target_date"`
	SnapshotDate time.Time `json:"snapshot_date"`
	Resolved     int       `json:"resolved"`
	Expected     int       `json:"expected"`
}

func (v ValidationMismatch) Error() string {
	return fmt.Sprintf("validation mismatch for %s: resolved %d codes, count table has %d",
		FormatDate(v.TargetDate), v.Resolved, v.Expected)
}
