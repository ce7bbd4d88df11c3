package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront-ledger/internal/adapter/http/handler"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

type scheduledCommand struct {
	spec string
	args []string
}

// newScheduler registers the periodic commands. An empty spec disables a job.
func (a *App) newScheduler(ctx context.Context, log zerolog.Logger) (*cron.Cron, error) {
	clog := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	jobs := []scheduledCommand{
		{a.scheduler.Fulfillment, []string{"fulfillment:process"}},
		{a.scheduler.Settlement, []string{"profit:settle"}},
		{a.scheduler.Reconcile, []string{"wallet:reconcile"}},
		{a.scheduler.Loyalty, []string{"loyalty:evaluate"}},
	}
	for _, job := range jobs {
		if job.spec == "" {
			log.Info().Str("job", job.args[0]).Msg("job disabled")
			continue
		}
		args := job.args
		if _, err := c.AddFunc(job.spec, func() {
			if code := a.Run(ctx, args); code != ExitOK {
				log.Warn().Str("job", args[0]).Int("exit_code", code).Msg("scheduled run failed")
			}
		}); err != nil {
			return nil, fmt.Errorf("invalid cron spec %q for %s: %w", job.spec, job.args[0], err)
		}
		log.Info().Str("job", job.args[0]).Str("spec", job.spec).Msg("job scheduled")
	}
	return c, nil
}

// scheduleWork runs the periodic commands and serves health probes until ctx
// is cancelled.
func (a *App) scheduleWork(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := a.newFlagSet("schedule:work")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	c, err := a.newScheduler(ctx, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: a.scheduler.HealthAddr,
		Handler: handler.SetupRouter(handler.RouterDeps{
			HealthCheckers: a.health,
			Logger:         log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("health server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	c.Start()
	log.Info().Int("jobs", len(c.Entries())).Msg("scheduler started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down scheduler")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("health server: %w", err)
		}
	}

	// Wait for running jobs before closing the probe server.
	<-c.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("scheduler exited")
	return runErr
}
