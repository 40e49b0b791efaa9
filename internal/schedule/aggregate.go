// Package schedule folds expanded calendar events into the weekly
// do-not-disturb profile and the current presence state.
package schedule

import (
	"time"

	appLog "caldnd/internal/log"
	"caldnd/internal/model"
)

// Aggregate builds the weekly profile and presence state for the events
// named target (exact, case-sensitive match) relative to now. Dates and
// times of day are interpreted in loc.
//
// Every occurrence writes {Time, Time+Duration} to its weekday. When two
// occurrences land on the same weekday the later one in input order wins;
// intervals are not merged.
//
// Aggregate is pure: the same input always gives the same output.
func Aggregate(events []model.NormalizedEvent, target string, now time.Time, loc *time.Location) (model.WeeklyProfile, model.PresenceState) {
	if loc == nil {
		loc = time.Local
	}

	profile := make(model.WeeklyProfile)
	var (
		busy bool
		next *time.Time
	)

	for _, ev := range events {
		if ev.Name != target {
			continue
		}
		iv := model.Interval{Start: ev.Time, End: ev.Time.Add(ev.Duration)}

		for _, d := range ev.Dates {
			if prev, ok := profile[d.Weekday()]; ok && prev != iv {
				appLog.Debug("schedule: overwriting weekday", "day", d.Weekday(), "was", prev.Start.String()+"-"+prev.End.String(), "date", d)
			}
			profile[d.Weekday()] = iv

			start, ok := d.At(ev.Time, loc)
			if !ok {
				appLog.Debug("schedule: skipping ambiguous local time for presence", "date", d, "time", ev.Time)
				continue
			}
			end := start.Add(ev.Duration)

			if !start.After(now) && !end.Before(now) {
				busy = true
			}
			if start.After(now) && (next == nil || start.Before(*next)) {
				s := start
				next = &s
			}
		}
	}

	state := model.PresenceState{Busy: busy}
	if !busy {
		state.NextStart = next
	}
	return profile, state
}
