package recurrence

import (
	"fmt"
	"strings"
)

const occurrenceSeparator = "::"

// OccurrenceID derives the identity of a synthetic occurrence. The same
// (baseID, day) always yields the same id.
func OccurrenceID(baseID string, day Day) string {
	return baseID + occurrenceSeparator + day.String()
}

// ParseOccurrenceID splits an occurrence id. For a plain base id synthetic is
// false and day is zero.
func ParseOccurrenceID(id string) (baseID string, day Day, synthetic bool, err error) {
	base, dayPart, found := strings.Cut(id, occurrenceSeparator)
	if base == "" {
		return "", 0, false, fmt.Errorf("%w: %q", ErrInvalidOccurrenceID, id)
	}
	if !found {
		return base, 0, false, nil
	}
	day, err = ParseDay(dayPart)
	if err != nil {
		return "", 0, false, fmt.Errorf("%w: %q", ErrInvalidOccurrenceID, id)
	}
	return base, day, true, nil
}
