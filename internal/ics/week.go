package ics

import "time"

// Window is a half-open query range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WeekOf returns the local calendar week containing now: Monday 00:00 up to
// the following Monday 00:00 in loc. The end is taken by calendar days, not
// by adding 168h, so DST weeks keep midnight boundaries.
func WeekOf(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	// Monday-based offset: Sunday (0) is the last day of the week.
	offset := (int(local.Weekday()) + 6) % 7
	y, m, d := local.Date()
	start := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	return Window{
		Start: start,
		End:   start.AddDate(0, 0, 7),
	}
}
