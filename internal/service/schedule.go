package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/srvmgr/internal/model"
)

// NewRestartScheduler returns a scheduler calling restartFunc according to
// cfg, or nil when no restart schedule is configured. The caller starts and
// shuts the scheduler down.
func NewRestartScheduler(ctx context.Context, cfg *model.Restart, restartFunc func()) (gocron.Scheduler, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "" && cfg.Every != "":
		return nil, errors.New("both cron and every are set")
	case cfg.Cron != "":
		interval, err := model.ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing server.restart.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "restart scheduled", "cron", cfg.Cron, "interval", interval.String())
	default:
		d, err := model.ParseCueDuration(cfg.Every)
		if err != nil {
			return nil, fmt.Errorf("parsing server.restart.every: %w", err)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "restart scheduled", "every", d.String())
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(restartFunc),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}

// RestartFunc returns a function enqueueing a Restart intent. It gives up
// when ctx is done.
func RestartFunc(ctx context.Context, intents chan<- Intent) func() {
	return func() {
		select {
		case intents <- RestartServer():
			slog.InfoContext(ctx, "scheduled restart")
		case <-ctx.Done():
		}
	}
}
