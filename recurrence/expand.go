package recurrence

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/shared-calendar/models"
)

// Expander turns base event records into the occurrences visible in a window.
// It is pure and safe for concurrent use.
type Expander struct {
	// Location defines calendar days. Nil means time.Local.
	Location *time.Location
	// Logger receives one line per skipped record. Nil discards.
	Logger *slog.Logger
}

type expanded struct {
	occ    models.Occurrence
	day    Day
	minute int
}

func (x Expander) location() *time.Location {
	if x.Location == nil {
		return time.Local
	}
	return x.Location
}

func (x Expander) logger() *slog.Logger {
	if x.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return x.Logger
}

// Expand returns the deduplicated, ascending occurrences of events inside the
// closed window [start, end]. The window is widened to whole days. Malformed
// records are logged and skipped; only an inverted window fails the call.
func (x Expander) Expand(events []models.Event, start, end time.Time) ([]models.Occurrence, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidWindow, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	loc := x.location()
	from, to := DayOf(start, loc), DayOf(end, loc)

	// Back-references point into this lookup, never at the caller's records.
	byID := make(map[primitive.ObjectID]*models.Event, len(events))
	for i := range events {
		if events[i].ID.IsZero() {
			continue
		}
		clone := events[i].Clone()
		byID[clone.ID] = &clone
	}

	var out []expanded
	for i := range events {
		occs, err := x.expandOne(&events[i], from, to, byID)
		if err != nil {
			x.logger().Warn("skipping event during expansion",
				"id", events[i].ID.Hex(),
				"title", events[i].Title,
				"error", err,
			)
			continue
		}
		out = append(out, occs...)
	}

	out = dedupe(out)
	slices.SortFunc(out, compareExpanded)

	result := make([]models.Occurrence, len(out))
	for i := range out {
		result[i] = out[i].occ
	}
	return result, nil
}

func (x Expander) expandOne(ev *models.Event, from, to Day, byID map[primitive.ObjectID]*models.Event) ([]expanded, error) {
	if err := validate(ev); err != nil {
		return nil, err
	}
	loc := x.location()
	anchor := DayOf(ev.Date, loc)
	minute := startMinute(ev)

	if !ev.RecursWeekly {
		if anchor < from || anchor > to {
			return nil, nil
		}
		return []expanded{{occ: baseOccurrence(ev), day: anchor, minute: minute}}, nil
	}

	var (
		endDay Day
		hasEnd bool
	)
	if ev.RecursionDetails.EndDate != nil {
		endDay, hasEnd = DayOf(*ev.RecursionDetails.EndDate, loc), true
	}
	exceptions := make(map[Day]struct{}, len(ev.RecursionDetails.Exceptions))
	for _, ex := range ev.RecursionDetails.Exceptions {
		exceptions[DayOf(ex, loc)] = struct{}{}
	}

	cur := anchor
	if cur < from {
		weeks := int(from-cur) / 7
		cur = cur.AddWeeks(weeks)
		for cur < from {
			cur = cur.AddWeeks(1)
		}
	}

	var out []expanded
	for ; cur <= to; cur = cur.AddWeeks(1) {
		if hasEnd && cur > endDay {
			break
		}
		if _, skip := exceptions[cur]; skip {
			continue
		}
		if cur == anchor {
			out = append(out, expanded{occ: baseOccurrence(ev), day: cur, minute: minute})
			continue
		}
		out = append(out, expanded{
			occ:    syntheticOccurrence(ev, cur, loc, byID[ev.ID]),
			day:    cur,
			minute: minute,
		})
	}
	return out, nil
}

// Validate reports whether ev can be expanded. Errors wrap ErrMalformedRecord.
func Validate(ev *models.Event) error {
	return validate(ev)
}

// BaseOccurrence re-tags a stored record as its own occurrence.
func BaseOccurrence(ev models.Event) models.Occurrence {
	return baseOccurrence(&ev)
}

func validate(ev *models.Event) error {
	if ev.ID.IsZero() {
		return fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	if ev.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrMalformedRecord)
	}
	if ev.Visibility != "" && !ev.Visibility.Valid() {
		return fmt.Errorf("%w: unknown visibility %q", ErrMalformedRecord, ev.Visibility)
	}
	if ev.Time != nil {
		if err := validateClock(ev.Time.Start); err != nil {
			return fmt.Errorf("%w: start time: %v", ErrMalformedRecord, err)
		}
		if err := validateClock(ev.Time.End); err != nil {
			return fmt.Errorf("%w: end time: %v", ErrMalformedRecord, err)
		}
	}
	for _, ex := range ev.RecursionDetails.Exceptions {
		if ex.IsZero() {
			return fmt.Errorf("%w: empty exception date", ErrMalformedRecord)
		}
	}
	return nil
}

func validateClock(hm []int) error {
	if len(hm) == 0 {
		return nil
	}
	if len(hm) != 2 {
		return fmt.Errorf("want [hour, minute], got %v", hm)
	}
	if hm[0] < 0 || hm[0] > 23 || hm[1] < 0 || hm[1] > 59 {
		return fmt.Errorf("out of range: %02d:%02d", hm[0], hm[1])
	}
	return nil
}

// startMinute orders untimed events after every timed event of the same day.
func startMinute(ev *models.Event) int {
	if m, ok := ev.Time.StartMinute(); ok {
		return m
	}
	return math.MaxInt
}

func baseOccurrence(ev *models.Event) models.Occurrence {
	c := ev.Clone()
	return models.Occurrence{
		ID:               c.ID.Hex(),
		Date:             c.Date,
		Time:             c.Time,
		Title:            c.Title,
		Visibility:       c.Visibility,
		RecursWeekly:     c.RecursWeekly,
		RecursionDetails: c.RecursionDetails,
		Location:         c.Location,
		Description:      c.Description,
		Images:           c.Images,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func syntheticOccurrence(ev *models.Event, day Day, loc *time.Location, base *models.Event) models.Occurrence {
	c := ev.Clone()
	baseID := c.ID.Hex()
	return models.Occurrence{
		ID:               OccurrenceID(baseID, day),
		BaseEventID:      baseID,
		IsRecurrence:     true,
		Date:             day.Time(loc),
		Time:             c.Time,
		Title:            c.Title,
		Visibility:       c.Visibility,
		RecursWeekly:     c.RecursWeekly,
		RecursionDetails: c.RecursionDetails,
		Location:         c.Location,
		Description:      c.Description,
		Images:           c.Images,
		BaseEvent:        base,
	}
}

// dedupe keeps the first position of every identity and the last value seen for it.
func dedupe(in []expanded) []expanded {
	seen := make(map[string]int, len(in))
	out := make([]expanded, 0, len(in))
	for _, e := range in {
		if i, ok := seen[e.occ.ID]; ok {
			out[i] = e
			continue
		}
		seen[e.occ.ID] = len(out)
		out = append(out, e)
	}
	return out
}

func compareExpanded(a, b expanded) int {
	return cmp.Or(
		cmp.Compare(a.day, b.day),
		cmp.Compare(a.minute, b.minute),
		cmp.Compare(a.occ.Title, b.occ.Title),
		cmp.Compare(a.occ.ID, b.occ.ID),
	)
}
