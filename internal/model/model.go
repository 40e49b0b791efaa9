package model

import (
	"fmt"
	"time"
)

// RawEvent is a VEVENT as read from the feed, before recurrence expansion.
type RawEvent struct {
	UID  string
	Name string

	// Start / End are absolute instants. They keep the location the feed
	// wrote them in (TZID, UTC or the configured local zone) so that
	// recurrence expansion follows the event's own wall clock.
	Start time.Time
	End   time.Time

	// RecurrenceID is set on an override: the original start of the series
	// instance this event replaces.
	RecurrenceID time.Time

	// Rule is the raw RRULE value and Anchor the DTSTART it is paired with.
	// A non-empty Rule with a zero Anchor cannot be expanded.
	Rule    string
	Anchor  time.Time
	ExDates []time.Time
}

// Recurring reports whether the event carries a recurrence rule.
func (e RawEvent) Recurring() bool {
	return e.Rule != ""
}

// IsOverride reports whether the event replaces one instance of a series.
func (e RawEvent) IsOverride() bool {
	return !e.RecurrenceID.IsZero()
}

// Date is a calendar date with no time or zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

// At builds the wall-clock time tod on d in loc. The second result is false
// when that wall time does not exist (DST gap) or exists twice (DST fold).
func (d Date) At(tod TimeOfDay, loc *time.Location) (time.Time, bool) {
	h, m, s, ns := tod.Clock()
	return LocalInstant(d.Year, d.Month, d.Day, h, m, s, ns, loc)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// LocalInstant is time.Date that refuses wall times which do not map to
// exactly one instant in loc.
func LocalInstant(year int, month time.Month, day, hour, minute, sec, nsec int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, month, day, hour, minute, sec, nsec, loc)

	// Gap: time.Date normalizes the missing wall time to a different one.
	y, mo, d := t.Date()
	if y != year || mo != month || d != day || t.Hour() != hour || t.Minute() != minute || t.Second() != sec {
		return t, false
	}

	// Fold: the same wall time under the zone's other offset is also valid.
	_, off := t.Zone()
	for _, probe := range []time.Time{t.Add(-3 * time.Hour), t.Add(3 * time.Hour)} {
		_, other := probe.Zone()
		if other == off {
			continue
		}
		alt := t.Add(time.Duration(off-other) * time.Second)
		if !alt.Equal(t) && sameWallClock(alt, t) {
			return t, false
		}
	}
	return t, true
}

func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute() && a.Second() == b.Second()
}

const fullDay = 24 * time.Hour

// TimeOfDay is an offset from local midnight in [0, 24h).
type TimeOfDay time.Duration

// TimeOfDayOf returns the wall-clock time of t in t's own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond()))
}

// NewTimeOfDay is a convenience constructor for hh:mm.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(0).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// Add returns t+d wrapped into a single day, so 22:00 plus 4h is 02:00.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	v := (time.Duration(t) + d) % fullDay
	if v < 0 {
		v += fullDay
	}
	return TimeOfDay(v)
}

func (t TimeOfDay) Clock() (hour, minute, second, nsec int) {
	d := time.Duration(t)
	hour = int(d / time.Hour)
	d -= time.Duration(hour) * time.Hour
	minute = int(d / time.Minute)
	d -= time.Duration(minute) * time.Minute
	second = int(d / time.Second)
	d -= time.Duration(second) * time.Second
	return hour, minute, second, int(d)
}

// String formats as HH:MM, the resolution the DND schedule understands.
func (t TimeOfDay) String() string {
	h, m, _, _ := t.Clock()
	return fmt.Sprintf("%02d:%02d", h, m)
}

// NormalizedEvent is an event reduced to its occurrence dates in the query
// window. Every date shares Time and Duration.
type NormalizedEvent struct {
	Name     string
	Dates    []Date
	Time     TimeOfDay
	Duration time.Duration
}

// Interval is a busy span within one day, in local wall-clock time. End may
// be earlier than Start when the span crosses midnight.
type Interval struct {
	Start TimeOfDay
	End   TimeOfDay
}

// WeeklyProfile maps each weekday to its busy interval. A missing weekday
// has no restriction.
type WeeklyProfile map[time.Weekday]Interval

// Day returns the interval for wd, if any.
func (p WeeklyProfile) Day(wd time.Weekday) (Interval, bool) {
	iv, ok := p[wd]
	return iv, ok
}

// Weekdays lists the week Monday first, the order the profile is published in.
var Weekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// PresenceState says whether now is inside a busy occurrence and, if not,
// when the next one starts. NextStart is always nil while Busy.
type PresenceState struct {
	Busy      bool
	NextStart *time.Time
}

// Next returns NextStart as a value.
func (s PresenceState) Next() (time.Time, bool) {
	if s.NextStart == nil {
		return time.Time{}, false
	}
	return *s.NextStart, true
}
