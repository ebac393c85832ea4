package recurrence

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/shared-calendar/models"
)

var mutator = Mutator{Location: time.UTC}

// apply is a tiny in-memory persistence layer for plans.
func apply(t *testing.T, store map[primitive.ObjectID]models.Event, plan Plan) {
	t.Helper()
	if plan.DeleteBase {
		delete(store, plan.BaseID)
		return
	}
	if plan.Patch != nil {
		ev, ok := store[plan.BaseID]
		require.True(t, ok)
		if plan.Patch.Changes != nil {
			plan.Patch.Changes.ApplyTo(&ev, time.UTC)
		}
		if d, ok := plan.Patch.EndDate.Get(); ok {
			end := d.EndOfDay(time.UTC)
			ev.RecursionDetails.EndDate = &end
		}
		if d, ok := plan.Patch.AddException.Get(); ok {
			ev.RecursionDetails.Exceptions = append(ev.RecursionDetails.Exceptions, d.Time(time.UTC))
		}
		store[plan.BaseID] = ev
	}
	if plan.Create != nil {
		created := plan.Create.Clone()
		created.ID = primitive.NewObjectID()
		store[created.ID] = created
	}
}

func all(store map[primitive.ObjectID]models.Event) []models.Event {
	out := make([]models.Event, 0, len(store))
	for _, ev := range store {
		out = append(out, ev)
	}
	return out
}

func TestParseChoice(t *testing.T) {
	c, err := ParseChoice("one")
	require.NoError(t, err)
	assert.Equal(t, ChoiceOne, c)

	c, err = ParseChoice("future")
	require.NoError(t, err)
	assert.Equal(t, ChoiceFuture, c)

	for _, bad := range []string{"", "all", "ONE"} {
		_, err := ParseChoice(bad)
		assert.ErrorIs(t, err, ErrUnknownMutationChoice, bad)
	}
}

func TestNewTarget(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	ev := series(a)
	end := a.AddDays(28).EndOfDay(time.UTC)
	ev.RecursionDetails.EndDate = &end

	_, err := NewTarget(ev, a.AddDays(14), time.UTC)
	assert.NoError(t, err)

	for _, d := range []Day{a.AddDays(-7), a.AddDays(3), a.AddDays(35)} {
		_, err := NewTarget(ev, d, time.UTC)
		assert.ErrorIs(t, err, ErrNotAnOccurrence, d.String())
	}

	oneOff := ev
	oneOff.RecursWeekly = false
	_, err = NewTarget(oneOff, a, time.UTC)
	assert.ErrorIs(t, err, ErrNotAnOccurrence)
}

func TestPlanDelete_One(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	ev := series(a)
	target, err := NewTarget(ev, a.AddDays(14), time.UTC)
	require.NoError(t, err)

	plan, err := mutator.PlanDelete(target, ChoiceOne)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, plan.BaseID)
	assert.Equal(t, mo.Some(a.AddDays(14)), plan.Patch.AddException)
	assert.True(t, plan.Patch.EndDate.IsAbsent())
	assert.Nil(t, plan.Create)
	assert.False(t, plan.Splits())

	store := map[primitive.ObjectID]models.Event{ev.ID: ev}
	apply(t, store, plan)
	got := days(expand(t, all(store), a, a.AddDays(28)))
	assert.Equal(t, []Day{a, a.AddDays(7), a.AddDays(21), a.AddDays(28)}, got)
}

func TestPlanDelete_Future(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	ev := series(a)
	target, err := NewTarget(ev, a.AddDays(14), time.UTC)
	require.NoError(t, err)

	plan, err := mutator.PlanDelete(target, ChoiceFuture)
	require.NoError(t, err)
	assert.Equal(t, mo.Some(a.AddDays(7)), plan.Patch.EndDate)
	assert.Equal(t, mo.Some(a.AddDays(14)), plan.Patch.AddException)

	store := map[primitive.ObjectID]models.Event{ev.ID: ev}
	apply(t, store, plan)
	got := days(expand(t, all(store), a, a.AddDays(365)))
	assert.Equal(t, []Day{a, a.AddDays(7)}, got)
}

func TestPlanDelete_FutureAtAnchor(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	ev := series(a)
	target, err := NewTarget(ev, a, time.UTC)
	require.NoError(t, err)

	plan, err := mutator.PlanDelete(target, ChoiceFuture)
	require.NoError(t, err)
	assert.True(t, plan.DeleteBase)
	assert.Nil(t, plan.Patch)

	store := map[primitive.ObjectID]models.Event{ev.ID: ev}
	apply(t, store, plan)
	assert.Empty(t, expand(t, all(store), a.AddDays(-365), a.AddDays(365)))
}

func TestPlanEdit_One(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	ev := series(a)
	ev.Time = &models.EventTime{Start: []int{10, 0}}
	target, err := NewTarget(ev, a.AddDays(14), time.UTC)
	require.NoError(t, err)

	changes := EventChanges{
		Title: mo.Some("Moved"),
		Time:  mo.Some(models.EventTime{Start: []int{15, 0}}),
		// Ignored: the split-off record stays on the occurrence's day.
		Date: mo.Some(a.AddDays(16)),
	}
	plan, err := mutator.PlanEdit(target, ChoiceOne, changes)
	require.NoError(t, err)
	require.True(t, plan.Splits())
	assert.Equal(t, mo.Some(a.AddDays(14)), plan.Patch.AddException)
	assert.True(t, plan.Patch.EndDate.IsAbsent())

	created := plan.Create
	assert.True(t, created.ID.IsZero())
	assert.False(t, created.RecursWeekly)
	assert.Equal(t, a.AddDays(14).Time(time.UTC), created.Date)
	assert.Equal(t, "Moved", created.Title)
	assert.Equal(t, []int{15, 0}, created.Time.Start)
	assert.Empty(t, created.RecursionDetails.Exceptions)

	// The base record handed in is left untouched.
	assert.Equal(t, []int{10, 0}, ev.Time.Start)

	store := map[primitive.ObjectID]models.Event{ev.ID: ev}
	apply(t, store, plan)
	occs := expand(t, all(store), a, a.AddDays(28))
	assert.Equal(t, []Day{a, a.AddDays(7), a.AddDays(14), a.AddDays(21), a.AddDays(28)}, days(occs))
	assert.Equal(t, "Moved", occs[2].Title)
	assert.False(t, occs[2].IsRecurrence)
}

func TestPlanEdit_Future(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	ev := series(a)
	ev.RecursionDetails.Exceptions = []time.Time{a.AddDays(7).Time(time.UTC), a.AddDays(28).Time(time.UTC)}
	target, err := NewTarget(ev, a.AddDays(14), time.UTC)
	require.NoError(t, err)

	plan, err := mutator.PlanEdit(target, ChoiceFuture, EventChanges{Title: mo.Some("New")})
	require.NoError(t, err)
	require.True(t, plan.Splits())
	assert.Equal(t, mo.Some(a.AddDays(7)), plan.Patch.EndDate)
	assert.Equal(t, mo.Some(a.AddDays(14)), plan.Patch.AddException)

	created := plan.Create
	assert.True(t, created.RecursWeekly)
	assert.Equal(t, a.AddDays(14).Time(time.UTC), created.Date)
	assert.Equal(t, "New", created.Title)
	assert.Empty(t, created.RecursionDetails.Exceptions)
	assert.Nil(t, created.RecursionDetails.EndDate)

	store := map[primitive.ObjectID]models.Event{ev.ID: ev}
	apply(t, store, plan)
	occs := expand(t, all(store), a, a.AddDays(35))
	assert.Equal(t, []Day{a, a.AddDays(14), a.AddDays(21), a.AddDays(28), a.AddDays(35)}, days(occs))
	assert.Equal(t, "Series", occs[0].Title)
	for _, o := range occs[1:] {
		assert.Equal(t, "New", o.Title)
	}
}

func TestPlanEdit_FutureCarriesExceptionsAndEndDate(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	ev := series(a)
	end := a.AddDays(56).EndOfDay(time.UTC)
	ev.RecursionDetails.EndDate = &end
	ev.RecursionDetails.Exceptions = []time.Time{a.AddDays(7).Time(time.UTC), a.AddDays(28).Time(time.UTC)}
	target, err := NewTarget(ev, a.AddDays(14), time.UTC)
	require.NoError(t, err)

	plan, err := mutator.PlanEdit(target, ChoiceFuture, EventChanges{Title: mo.Some("New"), CarryExceptions: true})
	require.NoError(t, err)
	created := plan.Create
	require.Len(t, created.RecursionDetails.Exceptions, 1)
	assert.Equal(t, a.AddDays(28), DayOf(created.RecursionDetails.Exceptions[0], time.UTC))
	require.NotNil(t, created.RecursionDetails.EndDate)
	assert.Equal(t, a.AddDays(56), DayOf(*created.RecursionDetails.EndDate, time.UTC))

	withEnd, err := mutator.PlanEdit(target, ChoiceFuture, EventChanges{EndDate: mo.Some(a.AddDays(42))})
	require.NoError(t, err)
	assert.Equal(t, a.AddDays(42), DayOf(*withEnd.Create.RecursionDetails.EndDate, time.UTC))
}

func TestPlanEdit_FutureAtAnchorIsDirect(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	ev := series(a)
	target, err := NewTarget(ev, a, time.UTC)
	require.NoError(t, err)

	plan, err := mutator.PlanEdit(target, ChoiceFuture, EventChanges{Title: mo.Some("All"), Date: mo.Some(a.AddDays(3))})
	require.NoError(t, err)
	assert.False(t, plan.Splits())
	require.NotNil(t, plan.Patch.Changes)
	assert.Equal(t, mo.Some("All"), plan.Patch.Changes.Title)
	assert.True(t, plan.Patch.Changes.Date.IsAbsent())
	assert.Equal(t, mo.Some(true), plan.Patch.Changes.RecursWeekly)
}

func TestPlanEdit_RejectsExceptedDay(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	ev := series(a)
	ev.RecursionDetails.Exceptions = []time.Time{a.AddDays(14).Time(time.UTC)}
	target, err := NewTarget(ev, a.AddDays(14), time.UTC)
	require.NoError(t, err)
	assert.True(t, target.Excepted(time.UTC))

	for _, choice := range []Choice{ChoiceOne, ChoiceFuture} {
		_, err := mutator.PlanEdit(target, choice, EventChanges{Title: mo.Some("Again")})
		assert.ErrorIs(t, err, ErrNotAnOccurrence, string(choice))
	}

	// Deleting an already removed day stays a harmless no-op.
	plan, err := mutator.PlanDelete(target, ChoiceOne)
	require.NoError(t, err)
	assert.Equal(t, mo.Some(a.AddDays(14)), plan.Patch.AddException)
}

func TestPlanEdit_FutureRejectsEndBeforeSplitDay(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	target, err := NewTarget(series(a), a.AddDays(14), time.UTC)
	require.NoError(t, err)

	_, err = mutator.PlanEdit(target, ChoiceFuture, EventChanges{EndDate: mo.Some(a.AddDays(10))})
	assert.ErrorIs(t, err, ErrEndBeforeStart)

	plan, err := mutator.PlanEdit(target, ChoiceFuture, EventChanges{EndDate: mo.Some(a.AddDays(14))})
	require.NoError(t, err)
	assert.Equal(t, a.AddDays(14), DayOf(*plan.Create.RecursionDetails.EndDate, time.UTC))
}

func TestPlan_RejectsUnknownChoice(t *testing.T) {
	a := mustDay(t, "2024-01-01")
	target, err := NewTarget(series(a), a.AddDays(7), time.UTC)
	require.NoError(t, err)

	_, err = mutator.PlanDelete(target, "all")
	assert.ErrorIs(t, err, ErrUnknownMutationChoice)
	_, err = mutator.PlanEdit(target, "", EventChanges{})
	assert.ErrorIs(t, err, ErrUnknownMutationChoice)
}

func TestPlanDirect(t *testing.T) {
	ev := series(mustDay(t, "2024-01-01"))
	plan := mutator.PlanDirectDelete(ev)
	assert.True(t, plan.DeleteBase)

	changes := EventChanges{ClearTime: true}
	plan = mutator.PlanDirectEdit(ev, changes)
	require.NotNil(t, plan.Patch)
	assert.True(t, plan.Patch.Changes.ClearTime)
	assert.Nil(t, plan.Create)
}

func TestEventChanges_Empty(t *testing.T) {
	assert.True(t, EventChanges{}.Empty())
	assert.True(t, EventChanges{CarryExceptions: true}.Empty())
	assert.False(t, EventChanges{ClearEndDate: true}.Empty())
	assert.False(t, EventChanges{Location: mo.Some("")}.Empty())
}
