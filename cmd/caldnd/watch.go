package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"caldnd/internal/ics"
	appLog "caldnd/internal/log"
	"caldnd/internal/pipeline"
	"caldnd/internal/web"
)

var watchFlags struct {
	listen string
	dryRun bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run on the configured cron schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if watchFlags.listen != "" {
			cfg.Listen = watchFlags.listen
		}
		if err := cfg.Validate(!watchFlags.dryRun); err != nil {
			return err
		}

		runner, opts, err := newRunner(cfg, watchFlags.dryRun)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Cron ticks and /api/refresh share the fetch cache; one run at a time.
		var runMu sync.Mutex
		refresh := func(ctx context.Context) (pipeline.Result, error) {
			runMu.Lock()
			defer runMu.Unlock()
			return runner.Run(ctx, opts)
		}

		var srv *web.Server
		if cfg.Listen != "" {
			srv = web.NewServer(cfg, refresh)
		}

		tick := func() {
			res, err := refresh(ctx)
			if err != nil {
				appLog.Error("scheduled run failed", err, "run_id", res.RunID)
			}
			if srv != nil {
				srv.Record(res, err)
			}
		}

		c := cron.New(
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
		)
		if _, err := c.AddFunc(cfg.RefreshCron, tick); err != nil {
			return err
		}

		appLog.Info("caldnd watching",
			"version", version,
			"feed", ics.RedactURL(cfg.FeedURL),
			"event_name", cfg.EventName,
			"refresh", cfg.RefreshCron,
			"listen", cfg.Listen,
			"dry_run", watchFlags.dryRun,
		)

		// First run immediately rather than waiting for the first tick.
		tick()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			c.Start()
			<-gctx.Done()
			<-c.Stop().Done()
			return nil
		})
		if srv != nil {
			g.Go(func() error {
				return srv.Serve(gctx)
			})
		}

		err = g.Wait()
		appLog.Info("caldnd exiting")
		return err
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchFlags.listen, "listen", "", "Status server address, e.g. 127.0.0.1:8080 (overrides config)")
	watchCmd.Flags().BoolVar(&watchFlags.dryRun, "dry-run", false, "Log each computed schedule instead of publishing it")
}

// cronLogger routes cron's own messages into the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
