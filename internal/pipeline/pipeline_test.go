package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caldnd/internal/model"
)

type staticSource struct {
	body []byte
	err  error
	feed string
}

func (s *staticSource) Fetch(_ context.Context, feed string) ([]byte, error) {
	s.feed = feed
	return s.body, s.err
}

type recordingPublisher struct {
	calls    int
	profile  model.WeeklyProfile
	presence model.PresenceState
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, profile model.WeeklyProfile, state model.PresenceState) error {
	p.calls++
	p.profile = profile
	p.presence = state
	return p.err
}

func feed(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//caldnd//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return []byte(strings.Join(all, "\r\n"))
}

func amsterdam(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	return loc
}

var workFeed = feed(
	"BEGIN:VEVENT",
	"UID:nameless",
	"DTSTART;TZID=Europe/Amsterdam:20240604T080000",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:work",
	"SUMMARY:Work",
	"DTSTART;TZID=Europe/Amsterdam:20240507T090000",
	"DTEND;TZID=Europe/Amsterdam:20240507T170000",
	"RRULE:FREQ=WEEKLY;BYDAY=TU",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:dentist",
	"SUMMARY:Dentist",
	"DTSTART;TZID=Europe/Amsterdam:20240605T090000",
	"DTEND;TZID=Europe/Amsterdam:20240605T100000",
	"END:VEVENT",
)

func TestRunTuesdayWork(t *testing.T) {
	loc := amsterdam(t)
	src := &staticSource{body: workFeed}
	pub := &recordingPublisher{}
	r := &Runner{Source: src, Publisher: pub}

	res, err := r.Run(context.Background(), Options{
		FeedURL:   "https://calendar.example.com/me.ics",
		EventName: "Work",
		Now:       time.Date(2024, 6, 4, 12, 0, 0, 0, loc),
		Location:  loc,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://calendar.example.com/me.ics", src.feed)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, loc), res.Window.Start)

	want := model.WeeklyProfile{
		time.Tuesday: {Start: model.NewTimeOfDay(9, 0), End: model.NewTimeOfDay(17, 0)},
	}
	assert.Equal(t, want, res.Profile)
	assert.True(t, res.Presence.Busy)
	assert.Nil(t, res.Presence.NextStart)

	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, want, pub.profile)
	assert.Equal(t, res.Presence, pub.presence)
}

func TestRunNextWorkday(t *testing.T) {
	loc := amsterdam(t)
	r := &Runner{Source: &staticSource{body: workFeed}}

	res, err := r.Run(context.Background(), Options{
		FeedURL:   "feed",
		EventName: "Work",
		Now:       time.Date(2024, 6, 3, 12, 0, 0, 0, loc),
		Location:  loc,
	})
	require.NoError(t, err)
	assert.False(t, res.Presence.Busy)
	next, ok := res.Presence.Next()
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2024, 6, 4, 9, 0, 0, 0, loc)))
}

func TestRunFatalErrorsPublishNothing(t *testing.T) {
	loc := amsterdam(t)
	opts := Options{FeedURL: "feed", EventName: "Work", Now: time.Date(2024, 6, 4, 12, 0, 0, 0, loc), Location: loc}

	pub := &recordingPublisher{}
	_, err := (&Runner{Source: &staticSource{err: errors.New("connection refused")}, Publisher: pub}).Run(context.Background(), opts)
	assert.ErrorContains(t, err, "fetch calendar")

	_, err = (&Runner{Source: &staticSource{body: []byte("<html>nope</html>")}, Publisher: pub}).Run(context.Background(), opts)
	assert.ErrorContains(t, err, "parse calendar")
	assert.Zero(t, pub.calls)

	_, err = (&Runner{Source: &staticSource{body: workFeed}, Publisher: pub}).Run(context.Background(), Options{EventName: "Work"})
	assert.Error(t, err)
	assert.Zero(t, pub.calls)

	failing := &recordingPublisher{err: errors.New("slack down")}
	_, err = (&Runner{Source: &staticSource{body: workFeed}, Publisher: failing}).Run(context.Background(), opts)
	assert.ErrorContains(t, err, "publish: slack down")
}

func TestComputeIsRepeatable(t *testing.T) {
	loc := amsterdam(t)
	r := &Runner{Source: &staticSource{body: workFeed}}
	opts := Options{FeedURL: "feed", EventName: "Work", Now: time.Date(2024, 6, 2, 12, 0, 0, 0, loc), Location: loc}

	a, err := r.Compute(context.Background(), opts)
	require.NoError(t, err)
	b, err := r.Compute(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, a.Profile, b.Profile)
	assert.Equal(t, a.Presence, b.Presence)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestLogPublisher(t *testing.T) {
	next := time.Date(2024, 6, 4, 9, 0, 0, 0, time.UTC)
	err := LogPublisher{}.Publish(context.Background(), model.WeeklyProfile{
		time.Tuesday: {Start: model.NewTimeOfDay(9, 0), End: model.NewTimeOfDay(17, 0)},
	}, model.PresenceState{NextStart: &next})
	assert.NoError(t, err)
}

func TestRunMovedWorkday(t *testing.T) {
	loc := amsterdam(t)
	moved := feed(
		"BEGIN:VEVENT",
		"UID:work",
		"SUMMARY:Work",
		"DTSTART;TZID=Europe/Amsterdam:20240507T090000",
		"DTEND;TZID=Europe/Amsterdam:20240507T170000",
		"RRULE:FREQ=WEEKLY;BYDAY=TU",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:work",
		"SUMMARY:Work",
		"RECURRENCE-ID;TZID=Europe/Amsterdam:20240604T090000",
		"DTSTART;TZID=Europe/Amsterdam:20240605T090000",
		"DTEND;TZID=Europe/Amsterdam:20240605T170000",
		"END:VEVENT",
	)
	r := &Runner{Source: &staticSource{body: moved}}

	res, err := r.Run(context.Background(), Options{
		FeedURL:   "feed",
		EventName: "Work",
		Now:       time.Date(2024, 6, 4, 12, 0, 0, 0, loc),
		Location:  loc,
	})
	require.NoError(t, err)

	assert.Equal(t, model.WeeklyProfile{
		time.Wednesday: {Start: model.NewTimeOfDay(9, 0), End: model.NewTimeOfDay(17, 0)},
	}, res.Profile)
	assert.False(t, res.Presence.Busy)
	next, ok := res.Presence.Next()
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2024, 6, 5, 9, 0, 0, 0, loc)))
}
