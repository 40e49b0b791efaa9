package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"caldnd/internal/config"
	"caldnd/internal/ics"
	appLog "caldnd/internal/log"
	"caldnd/internal/pipeline"
	"caldnd/internal/slack"
)

var runFlags struct {
	dryRun bool
	now    string
	event  string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute this week's schedule once and publish it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runFlags.event != "" {
			cfg.EventName = runFlags.event
		}
		if err := cfg.Validate(!runFlags.dryRun); err != nil {
			return err
		}

		runner, opts, err := newRunner(cfg, runFlags.dryRun)
		if err != nil {
			return err
		}
		if runFlags.now != "" {
			now, err := time.Parse(time.RFC3339, runFlags.now)
			if err != nil {
				return fmt.Errorf("--now: %w", err)
			}
			opts.Now = now
		}

		appLog.Info("caldnd run",
			"version", version,
			"feed", ics.RedactURL(cfg.FeedURL),
			"event_name", cfg.EventName,
			"timezone", opts.Location.String(),
			"dry_run", runFlags.dryRun,
		)

		if _, err := runner.Run(cmd.Context(), opts); err != nil {
			appLog.Error("run failed", err)
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "Log the computed schedule instead of publishing it")
	runCmd.Flags().StringVar(&runFlags.now, "now", "", "Reference instant (RFC3339) instead of the current time")
	runCmd.Flags().StringVar(&runFlags.event, "event", "", "Event name to treat as busy time (overrides config)")
}

// newRunner builds the pipeline for cfg. A dry run logs instead of calling
// Slack.
func newRunner(cfg *config.Config, dryRun bool) (*pipeline.Runner, pipeline.Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, pipeline.Options{}, err
	}

	var pub pipeline.Publisher = pipeline.LogPublisher{}
	if !dryRun {
		pub = slack.NewClient(slack.Config{
			WorkspaceURL: cfg.Slack.WorkspaceURL,
			Token:        cfg.Slack.Token,
			Cookie:       cfg.Slack.Cookie,
			StatusText:   cfg.Slack.StatusText,
			StatusEmoji:  cfg.Slack.StatusEmoji,
		})
	}

	runner := &pipeline.Runner{
		Source:    ics.NewFetcher(cfg.CacheDir),
		Publisher: pub,
		Expander:  ics.RRuleExpander{},
	}
	opts := pipeline.Options{
		FeedURL:   cfg.FeedURL,
		EventName: cfg.EventName,
		Location:  loc,
	}
	return runner, opts, nil
}
