package recurrence

import (
	"fmt"
	"time"

	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/shared-calendar/models"
)

// Choice is the user's answer to "only this occurrence, or this and all future ones?".
type Choice string

const (
	ChoiceOne    Choice = "one"
	ChoiceFuture Choice = "future"
)

func ParseChoice(s string) (Choice, error) {
	switch c := Choice(s); c {
	case ChoiceOne, ChoiceFuture:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMutationChoice, s)
	}
}

// EventChanges are the fields a user edited. Absent options leave the field as is.
type EventChanges struct {
	Title        mo.Option[string]
	Date         mo.Option[Day]
	Time         mo.Option[models.EventTime]
	ClearTime    bool
	Visibility   mo.Option[models.Visibility]
	RecursWeekly mo.Option[bool]
	EndDate      mo.Option[Day]
	ClearEndDate bool
	Location     mo.Option[string]
	Description  mo.Option[string]
	Images       mo.Option[[]string]

	// CarryExceptions copies the series' exceptions after the split day into
	// the series created by a "future" edit.
	CarryExceptions bool
}

// Empty reports whether no field would change.
func (c EventChanges) Empty() bool {
	return c.Title.IsAbsent() && c.Date.IsAbsent() && c.Time.IsAbsent() && !c.ClearTime &&
		c.Visibility.IsAbsent() && c.RecursWeekly.IsAbsent() && c.EndDate.IsAbsent() &&
		!c.ClearEndDate && c.Location.IsAbsent() && c.Description.IsAbsent() && c.Images.IsAbsent()
}

// ApplyTo writes the changes into ev. Days are placed at midnight (dates) or
// end of day (end dates) in loc.
func (c EventChanges) ApplyTo(ev *models.Event, loc *time.Location) {
	if v, ok := c.Title.Get(); ok {
		ev.Title = v
	}
	if d, ok := c.Date.Get(); ok {
		ev.Date = d.Time(loc)
	}
	if c.ClearTime {
		ev.Time = nil
	}
	if v, ok := c.Time.Get(); ok {
		t := models.EventTime{
			Start: append([]int(nil), v.Start...),
			End:   append([]int(nil), v.End...),
		}
		ev.Time = &t
	}
	if v, ok := c.Visibility.Get(); ok {
		ev.Visibility = v
	}
	if v, ok := c.RecursWeekly.Get(); ok {
		ev.RecursWeekly = v
	}
	if c.ClearEndDate {
		ev.RecursionDetails.EndDate = nil
	}
	if d, ok := c.EndDate.Get(); ok {
		end := d.EndOfDay(loc)
		ev.RecursionDetails.EndDate = &end
	}
	if v, ok := c.Location.Get(); ok {
		ev.Location = v
	}
	if v, ok := c.Description.Get(); ok {
		ev.Description = v
	}
	if v, ok := c.Images.Get(); ok {
		ev.Images = append([]string(nil), v...)
	}
}

// SeriesPatch is the in-place write to an existing base record.
type SeriesPatch struct {
	// AddException inserts a day into the exception set; inserting a day
	// already present is a no-op.
	AddException mo.Option[Day]
	// EndDate sets the last day an occurrence may fall on.
	EndDate mo.Option[Day]
	// Changes is a direct field edit.
	Changes *EventChanges
}

// Plan is the full set of writes for one mutation request.
type Plan struct {
	BaseID     primitive.ObjectID
	Patch      *SeriesPatch
	DeleteBase bool
	// Create is written only after Patch succeeded. Its ID is left zero for
	// the caller to assign.
	Create *models.Event
}

// Splits reports whether the plan patches one record and creates another.
func (p Plan) Splits() bool {
	return p.Patch != nil && p.Create != nil
}

// Target is one occurrence of a recurring series picked for a split mutation.
type Target struct {
	Base models.Event
	Day  Day
}

// NewTarget checks that day is an occurrence of base: on or after the anchor,
// on the anchor's weekday, and not after the end date. Exceptions are not
// checked so that repeating a mutation stays harmless.
func NewTarget(base models.Event, day Day, loc *time.Location) (Target, error) {
	if !base.RecursWeekly {
		return Target{}, fmt.Errorf("%w: event %s does not recur", ErrNotAnOccurrence, base.ID.Hex())
	}
	anchor := DayOf(base.Date, loc)
	if day < anchor || int(day-anchor)%7 != 0 {
		return Target{}, fmt.Errorf("%w: %s is not a weekly repeat of %s", ErrNotAnOccurrence, day, anchor)
	}
	if end := base.RecursionDetails.EndDate; end != nil && day > DayOf(*end, loc) {
		return Target{}, fmt.Errorf("%w: %s is after the series end", ErrNotAnOccurrence, day)
	}
	return Target{Base: base, Day: day}, nil
}

// Mutator decides which writes implement a one/future edit or delete.
type Mutator struct {
	Location *time.Location
}

func (m Mutator) location() *time.Location {
	if m.Location == nil {
		return time.Local
	}
	return m.Location
}

// truncateBefore is the end date that retires a series ahead of day: one full
// week back, so no occurrence between the two can survive.
func truncateBefore(day Day) Day {
	return day.AddWeeks(-1)
}

func (m Mutator) anchor(t Target) Day {
	return DayOf(t.Base.Date, m.location())
}

// PlanDelete handles delete on an occurrence of a series.
func (m Mutator) PlanDelete(t Target, choice Choice) (Plan, error) {
	switch choice {
	case ChoiceOne:
		return Plan{
			BaseID: t.Base.ID,
			Patch:  &SeriesPatch{AddException: mo.Some(t.Day)},
		}, nil
	case ChoiceFuture:
		if t.Day == m.anchor(t) {
			return Plan{BaseID: t.Base.ID, DeleteBase: true}, nil
		}
		return Plan{
			BaseID: t.Base.ID,
			Patch: &SeriesPatch{
				AddException: mo.Some(t.Day),
				EndDate:      mo.Some(truncateBefore(t.Day)),
			},
		}, nil
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownMutationChoice, choice)
	}
}

// Excepted reports whether the target's day was already removed from the series.
func (t Target) Excepted(loc *time.Location) bool {
	for _, ex := range t.Base.RecursionDetails.Exceptions {
		if DayOf(ex, loc) == t.Day {
			return true
		}
	}
	return false
}

// PlanEdit handles edit on an occurrence of a series. The split-off record
// keeps the occurrence's day; a date in changes only applies to direct edits.
// Edits of a day already in the exception set fail with ErrNotAnOccurrence;
// deletes of such a day stay no-ops.
func (m Mutator) PlanEdit(t Target, choice Choice, changes EventChanges) (Plan, error) {
	loc := m.location()
	if choice == ChoiceOne || choice == ChoiceFuture {
		if t.Excepted(loc) {
			return Plan{}, fmt.Errorf("%w: %s was already removed from the series", ErrNotAnOccurrence, t.Day)
		}
	}
	switch choice {
	case ChoiceOne:
		created := t.Base.Clone()
		created.ID = primitive.NilObjectID
		changes.ApplyTo(&created, loc)
		created.Date = t.Day.Time(loc)
		created.RecursWeekly = false
		created.RecursionDetails = models.RecursionDetails{}
		return Plan{
			BaseID: t.Base.ID,
			Patch:  &SeriesPatch{AddException: mo.Some(t.Day)},
			Create: &created,
		}, nil
	case ChoiceFuture:
		if t.Day == m.anchor(t) {
			// Splitting at the anchor would leave an empty series behind.
			direct := changes
			direct.Date = mo.None[Day]()
			direct.RecursWeekly = mo.Some(true)
			return m.PlanDirectEdit(t.Base, direct), nil
		}
		if end, ok := changes.EndDate.Get(); ok && end < t.Day {
			return Plan{}, fmt.Errorf("%w: %s is before %s", ErrEndBeforeStart, end, t.Day)
		}
		created := t.Base.Clone()
		created.ID = primitive.NilObjectID
		created.RecursionDetails = models.RecursionDetails{EndDate: created.RecursionDetails.EndDate}
		changes.ApplyTo(&created, loc)
		created.Date = t.Day.Time(loc)
		created.RecursWeekly = true
		if changes.CarryExceptions {
			for _, ex := range t.Base.RecursionDetails.Exceptions {
				if DayOf(ex, loc) > t.Day {
					created.RecursionDetails.Exceptions = append(created.RecursionDetails.Exceptions, ex)
				}
			}
		}
		return Plan{
			BaseID: t.Base.ID,
			Patch: &SeriesPatch{
				AddException: mo.Some(t.Day),
				EndDate:      mo.Some(truncateBefore(t.Day)),
			},
			Create: &created,
		}, nil
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownMutationChoice, choice)
	}
}

// PlanDirectEdit patches a record in place with no split logic.
func (m Mutator) PlanDirectEdit(ev models.Event, changes EventChanges) Plan {
	return Plan{BaseID: ev.ID, Patch: &SeriesPatch{Changes: &changes}}
}

// PlanDirectDelete removes a record, and with it the whole series if it recurs.
func (m Mutator) PlanDirectDelete(ev models.Event) Plan {
	return Plan{BaseID: ev.ID, DeleteBase: true}
}
