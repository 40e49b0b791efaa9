package ics

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "caldnd/internal/log"
	"caldnd/internal/model"
)

var (
	ErrEmptyBody        = errors.New("empty ICS body")
	ErrMissingName      = errors.New("event has no name")
	ErrMissingStart     = errors.New("event has no start")
	ErrUnresolvableTime = errors.New("time cannot be resolved to a single instant")
)

const (
	icalDateLayout     = "20060102"
	icalDateTimeLayout = "20060102T150405"
)

// Parse parses an ICS payload and returns its events as a lazy sequence.
//
// The document is parsed up front, so a structurally broken calendar fails
// here. Individual VEVENTs are normalized while the sequence is ranged over;
// events that cannot be normalized (no SUMMARY, no DTSTART, a DTSTART/DTEND
// that does not resolve to one instant) are logged and skipped.
//
// loc is the zone used for DATE values and floating DATE-TIME values. If nil,
// time.Local is used.
func Parse(body []byte, loc *time.Location) (iter.Seq[model.RawEvent], error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	return func(yield func(model.RawEvent) bool) {
		for _, comp := range cal.Components {
			ve, ok := comp.(*ical.VEvent)
			if !ok {
				appLog.Debug("ics: skipping non-event component", "type", fmt.Sprintf("%T", comp))
				continue
			}
			ev, perr := parseVEvent(ve, loc)
			if perr != nil {
				appLog.Warn("ics: dropping event", "uid", propValue(ve, ical.ComponentPropertyUniqueId), "err", perr)
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}, nil
}

// ParseAll drains Parse into a slice.
func ParseAll(body []byte, loc *time.Location) ([]model.RawEvent, error) {
	seq, err := Parse(body, loc)
	if err != nil {
		return nil, err
	}
	events := make([]model.RawEvent, 0)
	for ev := range seq {
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.RawEvent, error) {
	var out model.RawEvent
	out.UID = propValue(ve, ical.ComponentPropertyUniqueId)

	// golang-ical has already unescaped TEXT values.
	out.Name = propValue(ve, ical.ComponentPropertySummary)
	if out.Name == "" {
		return out, ErrMissingName
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, ErrMissingStart
	}
	start, err := resolveTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART %q: %w", dtStart.Value, err)
	}
	out.Start = start

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && strings.TrimSpace(dtEnd.Value) != "" {
		end, err := resolveTime(dtEnd.Value, dtEnd.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("DTEND %q: %w", dtEnd.Value, err)
		}
		out.End = end
	} else {
		out.End = endOfDay(start.In(loc))
	}

	// An override replaces one instance of the series with the same UID.
	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil && strings.TrimSpace(rid.Value) != "" {
		t, err := resolveTime(rid.Value, rid.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("RECURRENCE-ID %q: %w", rid.Value, err)
		}
		out.RecurrenceID = t
	}

	if rr := ve.GetProperty(ical.ComponentPropertyRrule); rr != nil {
		out.Rule = strings.TrimSpace(rr.Value)
		out.Anchor = start
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := resolveTime(part, p.ICalParameters, loc)
			if err != nil {
				appLog.Warn("ics: ignoring EXDATE", "uid", out.UID, "value", part, "err", err)
				continue
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	return out, nil
}

// resolveTime turns a DATE or DATE-TIME value plus its parameters into an
// absolute instant. DATE values are local midnight in loc.
func resolveTime(value string, params map[string][]string, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(value)

	if isDateValue(v, params) {
		d, err := time.Parse(icalDateLayout, v)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc), nil
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse(icalDateTimeLayout+"Z", v)
	}

	zone := loc
	if tzids := params["TZID"]; len(tzids) > 0 {
		name := strings.Trim(tzids[0], `"`)
		z, err := time.LoadLocation(name)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: unknown TZID %q", ErrUnresolvableTime, name)
		}
		zone = z
	}

	// Parse the wall-clock fields, then place them in zone refusing DST gaps
	// and folds.
	w, err := time.Parse(icalDateTimeLayout, v)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := model.LocalInstant(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), 0, zone)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s in %s", ErrUnresolvableTime, v, zone)
	}
	return t, nil
}

func isDateValue(v string, params map[string][]string) bool {
	if vs := params["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return len(v) == len(icalDateLayout) && !strings.Contains(v, "T")
}

// endOfDay is the last instant of t's calendar day in t's location.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}
