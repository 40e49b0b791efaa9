// Package pipeline runs one fetch, parse, expand, aggregate and publish pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caldnd/internal/ics"
	appLog "caldnd/internal/log"
	"caldnd/internal/model"
	"caldnd/internal/schedule"
)

// Source supplies the raw calendar document behind a feed address.
type Source interface {
	Fetch(ctx context.Context, feed string) ([]byte, error)
}

// Publisher pushes a computed schedule and presence somewhere.
type Publisher interface {
	Publish(ctx context.Context, profile model.WeeklyProfile, state model.PresenceState) error
}

// Options are the per-run inputs.
type Options struct {
	FeedURL   string
	EventName string

	// Now is the reference instant. Zero means time.Now().
	Now time.Time

	// Location sets week boundaries and weekdays. Nil means time.Local.
	Location *time.Location
}

// Result is what one run computed.
type Result struct {
	RunID    string
	Now      time.Time
	Window   ics.Window
	Events   int
	Profile  model.WeeklyProfile
	Presence model.PresenceState
}

// Runner wires the collaborators of a run. Publisher may be nil to compute
// without publishing.
type Runner struct {
	Source    Source
	Publisher Publisher
	Expander  ics.Expander
}

// Compute fetches and folds the feed without publishing.
func (r *Runner) Compute(ctx context.Context, opts Options) (Result, error) {
	res := Result{RunID: uuid.NewString()}

	if r.Source == nil {
		return res, errors.New("pipeline: no calendar source")
	}
	if opts.FeedURL == "" {
		return res, errors.New("pipeline: feed address is empty")
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	res.Now = opts.Now.In(opts.Location)
	res.Window = ics.WeekOf(opts.Now, opts.Location)

	body, err := r.Source.Fetch(ctx, opts.FeedURL)
	if err != nil {
		return res, fmt.Errorf("fetch calendar: %w", err)
	}

	events, err := ics.Parse(body, opts.Location)
	if err != nil {
		return res, fmt.Errorf("parse calendar: %w", err)
	}

	normalized := ics.ExpandEvents(events, ics.ExpandConfig{
		Location: opts.Location,
		Window:   res.Window,
		Expander: r.Expander,
	})
	res.Events = len(normalized)

	res.Profile, res.Presence = schedule.Aggregate(normalized, opts.EventName, opts.Now, opts.Location)

	appLog.Info("schedule computed",
		"run_id", res.RunID,
		"event_name", opts.EventName,
		"week_start", res.Window.Start.Format(time.DateOnly),
		"events_in_week", res.Events,
		"busy_days", len(res.Profile),
		"busy", res.Presence.Busy,
	)
	return res, nil
}

// Run computes the schedule and publishes it. Nothing is published when
// any step before publishing fails.
func (r *Runner) Run(ctx context.Context, opts Options) (Result, error) {
	res, err := r.Compute(ctx, opts)
	if err != nil {
		return res, err
	}
	if r.Publisher == nil {
		return res, nil
	}
	if err := r.Publisher.Publish(ctx, res.Profile, res.Presence); err != nil {
		return res, fmt.Errorf("publish: %w", err)
	}
	appLog.Info("schedule published", "run_id", res.RunID)
	return res, nil
}

// LogPublisher logs what would be published. It backs `run --dry-run`.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, profile model.WeeklyProfile, state model.PresenceState) error {
	for _, wd := range model.Weekdays {
		iv, ok := profile.Day(wd)
		if !ok {
			appLog.Info("dry-run: no restriction", "day", wd)
			continue
		}
		appLog.Info("dry-run: busy", "day", wd, "from", iv.Start, "to", iv.End)
	}
	if next, ok := state.Next(); ok {
		appLog.Info("dry-run: presence", "busy", state.Busy, "next_start", next.Format(time.RFC3339))
	} else {
		appLog.Info("dry-run: presence", "busy", state.Busy)
	}
	return nil
}
