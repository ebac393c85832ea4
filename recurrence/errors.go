package recurrence

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedRecord marks a single event that cannot be expanded. The
	// expander skips such records instead of failing the whole call.
	ErrMalformedRecord = errors.New("malformed event record")
	// ErrInvalidWindow is returned when the window ends before it starts.
	ErrInvalidWindow = errors.New("invalid window: end is before start")
	// ErrUnknownMutationChoice is returned for anything other than "one" or "future".
	ErrUnknownMutationChoice = errors.New(`unknown mutation choice: expected "one" or "future"`)
	// ErrNotAnOccurrence is returned when a day does not belong to a series.
	ErrNotAnOccurrence = errors.New("day is not an occurrence of the series")
	// ErrInvalidOccurrenceID is returned for ids that are neither a base id nor baseId::YYYY-MM-DD.
	ErrInvalidOccurrenceID = errors.New("invalid occurrence id")
	// ErrEndBeforeStart is returned when a series would end before its first day.
	ErrEndBeforeStart = errors.New("series end date is before its start")
)

// PartialSplitFailure reports a split whose base patch and new record did not
// land together.
type PartialSplitFailure struct {
	PatchApplied  bool
	CreateApplied bool
	// RolledBack is set when the base patch was applied and then undone.
	RolledBack bool
	// Journaled is set when the pending create was queued for the repair job.
	Journaled bool
	Err       error
}

func (e *PartialSplitFailure) Error() string {
	var parts []string
	if e.PatchApplied {
		parts = append(parts, "base patch applied")
	} else {
		parts = append(parts, "base patch not applied")
	}
	if e.CreateApplied {
		parts = append(parts, "new event created")
	} else {
		parts = append(parts, "new event not created")
	}
	if e.RolledBack {
		parts = append(parts, "base patch rolled back")
	}
	if e.Journaled {
		parts = append(parts, "create queued for repair")
	}
	return fmt.Sprintf("partial split failure (%s): %v", strings.Join(parts, ", "), e.Err)
}

func (e *PartialSplitFailure) Unwrap() error { return e.Err }
