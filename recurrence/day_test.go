package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDay_RoundTrip(t *testing.T) {
	for _, s := range []string{"1970-01-01", "2024-02-29", "2024-12-31", "1969-07-20"} {
		d := mustDay(t, s)
		assert.Equal(t, s, d.String())
		assert.Equal(t, d, DayOf(d.Time(time.UTC), time.UTC))
	}
	assert.Equal(t, Day(0), mustDay(t, "1970-01-01"))

	_, err := ParseDay("2024-02-30")
	assert.Error(t, err)
}

func TestDayOf_UsesLocation(t *testing.T) {
	instant := time.Date(2024, 1, 14, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-14", DayOf(instant, time.UTC).String())
	assert.Equal(t, "2024-01-15", DayOf(instant, time.FixedZone("EAT", 3*60*60)).String())
	assert.Equal(t, "2024-01-14", DayOf(instant, time.FixedZone("PST", -8*60*60)).String())
}

func TestDay_DSTDoesNotShiftDays(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// 2024-03-31 is 23 hours long in Berlin.
	a := mustDay(t, "2024-03-25")
	for i := 0; i < 4; i++ {
		d := a.AddWeeks(i)
		assert.Equal(t, d, DayOf(d.Time(berlin), berlin))
		assert.Equal(t, d, DayOf(d.EndOfDay(berlin), berlin))
		assert.Equal(t, time.Monday, d.Weekday())
	}
}

func TestDay_EndOfDay(t *testing.T) {
	d := mustDay(t, "2024-01-01")
	end := d.EndOfDay(time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 23, 59, 59, 999_000_000, time.UTC), end)
	assert.True(t, end.Before(d.AddDays(1).Time(time.UTC)))
}

func TestOccurrenceID(t *testing.T) {
	d := mustDay(t, "2024-01-15")
	id := OccurrenceID("65a1b2c3d4e5f6a7b8c9d0e1", d)
	assert.Equal(t, "65a1b2c3d4e5f6a7b8c9d0e1::2024-01-15", id)

	base, day, synthetic, err := ParseOccurrenceID(id)
	require.NoError(t, err)
	assert.Equal(t, "65a1b2c3d4e5f6a7b8c9d0e1", base)
	assert.Equal(t, d, day)
	assert.True(t, synthetic)

	base, day, synthetic, err = ParseOccurrenceID("65a1b2c3d4e5f6a7b8c9d0e1")
	require.NoError(t, err)
	assert.Equal(t, "65a1b2c3d4e5f6a7b8c9d0e1", base)
	assert.Zero(t, day)
	assert.False(t, synthetic)

	for _, bad := range []string{"", "::2024-01-15", "abc::tomorrow", "abc::"} {
		_, _, _, err := ParseOccurrenceID(bad)
		assert.ErrorIs(t, err, ErrInvalidOccurrenceID, bad)
	}
}

func TestPartialSplitFailure(t *testing.T) {
	cause := assert.AnError
	err := error(&PartialSplitFailure{PatchApplied: true, RolledBack: true, Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "base patch rolled back")
	assert.Contains(t, err.Error(), "new event not created")
}
