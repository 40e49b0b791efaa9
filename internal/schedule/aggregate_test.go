package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caldnd/internal/model"
)

func amsterdam(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	return loc
}

func date(y int, m time.Month, d int) model.Date {
	return model.Date{Year: y, Month: m, Day: d}
}

func TestAggregateTuesdayWork(t *testing.T) {
	loc := amsterdam(t)
	events := []model.NormalizedEvent{{
		Name:     "Work",
		Dates:    []model.Date{date(2024, time.June, 4)},
		Time:     model.NewTimeOfDay(9, 0),
		Duration: 8 * time.Hour,
	}}
	now := time.Date(2024, 6, 4, 12, 0, 0, 0, loc)

	profile, state := Aggregate(events, "Work", now, loc)

	assert.Equal(t, model.WeeklyProfile{
		time.Tuesday: {Start: model.NewTimeOfDay(9, 0), End: model.NewTimeOfDay(17, 0)},
	}, profile)
	for _, wd := range model.Weekdays {
		if wd == time.Tuesday {
			continue
		}
		_, ok := profile.Day(wd)
		assert.False(t, ok, wd.String())
	}
	assert.True(t, state.Busy)
	assert.Nil(t, state.NextStart)
}

func TestAggregateFiltersByExactName(t *testing.T) {
	loc := amsterdam(t)
	events := []model.NormalizedEvent{
		{Name: "work", Dates: []model.Date{date(2024, time.June, 3)}, Time: model.NewTimeOfDay(8, 0), Duration: time.Hour},
		{Name: "Work ", Dates: []model.Date{date(2024, time.June, 4)}, Time: model.NewTimeOfDay(8, 0), Duration: time.Hour},
		{Name: "Gym", Dates: []model.Date{date(2024, time.June, 5)}, Time: model.NewTimeOfDay(8, 0), Duration: time.Hour},
	}
	profile, state := Aggregate(events, "Work", time.Date(2024, 6, 3, 7, 0, 0, 0, loc), loc)
	assert.Empty(t, profile)
	assert.False(t, state.Busy)
	assert.Nil(t, state.NextStart)
}

func TestAggregateOverwriteFollowsInputOrder(t *testing.T) {
	loc := amsterdam(t)
	early := model.NormalizedEvent{Name: "Work", Dates: []model.Date{date(2024, time.June, 4)}, Time: model.NewTimeOfDay(8, 0), Duration: 4 * time.Hour}
	late := model.NormalizedEvent{Name: "Work", Dates: []model.Date{date(2024, time.June, 4)}, Time: model.NewTimeOfDay(13, 0), Duration: 4 * time.Hour}
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, loc)

	p1, _ := Aggregate([]model.NormalizedEvent{early, late}, "Work", now, loc)
	assert.Equal(t, model.Interval{Start: model.NewTimeOfDay(13, 0), End: model.NewTimeOfDay(17, 0)}, p1[time.Tuesday])

	p2, _ := Aggregate([]model.NormalizedEvent{late, early}, "Work", now, loc)
	assert.Equal(t, model.Interval{Start: model.NewTimeOfDay(8, 0), End: model.NewTimeOfDay(12, 0)}, p2[time.Tuesday])
}

func TestAggregateNextStart(t *testing.T) {
	loc := amsterdam(t)
	events := []model.NormalizedEvent{
		{Name: "Work", Dates: []model.Date{date(2024, time.June, 6), date(2024, time.June, 4)}, Time: model.NewTimeOfDay(9, 0), Duration: 8 * time.Hour},
		{Name: "Work", Dates: []model.Date{date(2024, time.June, 3)}, Time: model.NewTimeOfDay(9, 0), Duration: 8 * time.Hour},
	}
	now := time.Date(2024, 6, 3, 18, 0, 0, 0, loc)

	profile, state := Aggregate(events, "Work", now, loc)
	assert.Len(t, profile, 3)
	assert.False(t, state.Busy)
	next, ok := state.Next()
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2024, 6, 4, 9, 0, 0, 0, loc)))
}

func TestAggregateBusyHidesNextStart(t *testing.T) {
	loc := amsterdam(t)
	events := []model.NormalizedEvent{{
		Name:     "Work",
		Dates:    []model.Date{date(2024, time.June, 3), date(2024, time.June, 4)},
		Time:     model.NewTimeOfDay(9, 0),
		Duration: 8 * time.Hour,
	}}

	// Both interval ends are inclusive.
	for _, now := range []time.Time{
		time.Date(2024, 6, 3, 9, 0, 0, 0, loc),
		time.Date(2024, 6, 3, 17, 0, 0, 0, loc),
	} {
		_, state := Aggregate(events, "Work", now, loc)
		assert.True(t, state.Busy, now.String())
		assert.Nil(t, state.NextStart, now.String())
	}

	_, state := Aggregate(events, "Work", time.Date(2024, 6, 3, 17, 0, 1, 0, loc), loc)
	assert.False(t, state.Busy)
	assert.NotNil(t, state.NextStart)
}

func TestAggregateNightShiftWrapsTimeOfDay(t *testing.T) {
	loc := amsterdam(t)
	events := []model.NormalizedEvent{{
		Name:     "Work",
		Dates:    []model.Date{date(2024, time.June, 7)},
		Time:     model.NewTimeOfDay(22, 0),
		Duration: 8 * time.Hour,
	}}
	profile, state := Aggregate(events, "Work", time.Date(2024, 6, 8, 3, 0, 0, 0, loc), loc)
	assert.Equal(t, model.Interval{Start: model.NewTimeOfDay(22, 0), End: model.NewTimeOfDay(6, 0)}, profile[time.Friday])
	assert.True(t, state.Busy)
}

func TestAggregateSkipsAmbiguousTimesForPresenceOnly(t *testing.T) {
	loc := amsterdam(t)
	events := []model.NormalizedEvent{{
		Name:     "Work",
		Dates:    []model.Date{date(2024, time.March, 31)},
		Time:     model.NewTimeOfDay(2, 30),
		Duration: time.Hour,
	}}
	profile, state := Aggregate(events, "Work", time.Date(2024, 3, 30, 12, 0, 0, 0, loc), loc)
	assert.Contains(t, profile, time.Sunday)
	assert.False(t, state.Busy)
	assert.Nil(t, state.NextStart)
}

func TestAggregateIsIdempotent(t *testing.T) {
	loc := amsterdam(t)
	events := []model.NormalizedEvent{
		{Name: "Work", Dates: []model.Date{date(2024, time.June, 3), date(2024, time.June, 5)}, Time: model.NewTimeOfDay(9, 0), Duration: 8 * time.Hour},
		{Name: "Work", Dates: []model.Date{date(2024, time.June, 5)}, Time: model.NewTimeOfDay(10, 0), Duration: 2 * time.Hour},
	}
	now := time.Date(2024, 6, 4, 8, 0, 0, 0, loc)

	p1, s1 := Aggregate(events, "Work", now, loc)
	p2, s2 := Aggregate(events, "Work", now, loc)
	assert.Equal(t, p1, p2)
	assert.Equal(t, s1, s2)
}
