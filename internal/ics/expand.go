package ics

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "caldnd/internal/log"
	"caldnd/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

var (
	ErrMissingAnchor = errors.New("recurrence rule has no DTSTART anchor")
	ErrInvalidRule   = errors.New("invalid recurrence rule")
)

// Recurrence is everything needed to enumerate a recurring event: the raw
// RRULE value, the DTSTART it is anchored to and any EXDATEs.
type Recurrence struct {
	Rule    string
	Anchor  time.Time
	ExDates []time.Time
}

// Expander enumerates the occurrence starts of a recurrence strictly inside
// (after, before), in ascending order.
type Expander interface {
	Expand(rec Recurrence, after, before time.Time) ([]time.Time, error)
}

// RRuleExpander implements Expander with rrule-go.
type RRuleExpander struct {
	// MaxOccurrences caps how many occurrences one event may produce. If
	// zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrences int
}

func (x RRuleExpander) Expand(rec Recurrence, after, before time.Time) ([]time.Time, error) {
	if rec.Anchor.IsZero() {
		return nil, ErrMissingAnchor
	}
	loc := rec.Anchor.Location()

	opt, err := rrule.StrToROptionInLocation(strings.TrimPrefix(strings.TrimSpace(rec.Rule), "RRULE:"), loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	opt.Dtstart = rec.Anchor
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range rec.ExDates {
		set.ExDate(ex.In(loc))
	}

	limit := x.MaxOccurrences
	if limit <= 0 {
		limit = defaultMaxOccurrencesPerEvent
	}

	// Expansion runs in the anchor's zone so the rule keeps its own wall clock
	// across DST changes. The iterator stops at the cap instead of building
	// the whole window first.
	after, before = after.In(loc), before.In(loc)
	occ := make([]time.Time, 0)
	next := set.Iterator()
	for {
		dt, ok := next()
		if !ok || !dt.Before(before) {
			break
		}
		if !dt.After(after) {
			continue
		}
		if len(occ) == limit {
			appLog.Warn("expand: truncated occurrences due to cap", "cap", limit, "rrule", rec.Rule)
			break
		}
		occ = append(occ, dt)
	}
	return occ, nil
}

// Normalize reduces one event to the dates it occurs on within win.
//
// A non-recurring event occurs once, on its local start date, when
// [Start, End] touches the window (win.Start <= End && Start <= win.End).
// A recurring event occurs on the local date of every rule occurrence
// strictly inside the window. The boolean is false when there is no
// occurrence in the window.
func Normalize(ev model.RawEvent, win Window, loc *time.Location, x Expander) (model.NormalizedEvent, bool, error) {
	if loc == nil {
		loc = time.Local
	}
	start := ev.Start.In(loc)
	end := ev.End.In(loc)

	out := model.NormalizedEvent{
		Name:     ev.Name,
		Time:     model.TimeOfDayOf(start),
		Duration: end.Sub(start),
	}

	if !ev.Recurring() {
		if !win.Start.After(end) && !start.After(win.End) {
			out.Dates = []model.Date{model.DateOf(start)}
		}
		return out, len(out.Dates) > 0, nil
	}

	if x == nil {
		x = RRuleExpander{}
	}
	occ, err := x.Expand(Recurrence{Rule: ev.Rule, Anchor: ev.Anchor, ExDates: ev.ExDates}, win.Start, win.End)
	if err != nil {
		return out, false, err
	}
	for _, t := range occ {
		out.Dates = append(out.Dates, model.DateOf(t.In(loc)))
	}
	return out, len(out.Dates) > 0, nil
}

// ExpandConfig controls ExpandEvents.
type ExpandConfig struct {
	// Location is the zone used for dates and times of day. If nil,
	// time.Local is used.
	Location *time.Location

	Window Window

	// Expander evaluates recurrence rules. If nil, RRuleExpander{} is used.
	Expander Expander
}

// ExpandEvents normalizes every event of seq against cfg.Window. Events whose
// rule cannot be expanded are logged and dropped; events with no occurrence
// in the window are left out.
//
// An override (RECURRENCE-ID) excludes the instance it replaces from the
// series with the same UID and then counts as a single occurrence at its
// own start. Overrides may appear anywhere in the feed, so seq is drained
// before normalizing.
func ExpandEvents(seq iter.Seq[model.RawEvent], cfg ExpandConfig) []model.NormalizedEvent {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Expander == nil {
		cfg.Expander = RRuleExpander{}
	}

	events := applyOverrides(slices.Collect(seq))

	out := make([]model.NormalizedEvent, 0)
	for _, ev := range events {
		ne, ok, err := Normalize(ev, cfg.Window, cfg.Location, cfg.Expander)
		if err != nil {
			appLog.Warn("expand: dropping event", "uid", ev.UID, "name", ev.Name, "rrule", ev.Rule, "err", err)
			continue
		}
		if ok {
			out = append(out, ne)
		}
	}
	return out
}

// applyOverrides adds the RECURRENCE-ID of every override to the EXDATEs of
// its series and strips any rule from the override itself. Order is kept.
func applyOverrides(events []model.RawEvent) []model.RawEvent {
	moved := make(map[string][]time.Time)
	for _, ev := range events {
		if ev.IsOverride() {
			moved[ev.UID] = append(moved[ev.UID], ev.RecurrenceID)
		}
	}
	if len(moved) == 0 {
		return events
	}

	out := make([]model.RawEvent, 0, len(events))
	for _, ev := range events {
		switch {
		case ev.IsOverride():
			ev.Rule = ""
			ev.Anchor = time.Time{}
		case ev.Recurring() && len(moved[ev.UID]) > 0:
			ev.ExDates = append(slices.Clone(ev.ExDates), moved[ev.UID]...)
		}
		out = append(out, ev)
	}
	return out
}
