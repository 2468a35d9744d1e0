package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/Recon/internal/model"
)

// PipelineRunner is implemented by *Pipeline.
type PipelineRunner interface {
	Run(ctx context.Context, req model.RunRequest) (model.RunResult, error)
}

// Scheduler triggers a pipeline run for a fixed domain on a cron schedule.
type Scheduler struct {
	scheduler gocron.Scheduler
}

func NewScheduler(ctx context.Context, cfg model.Schedule, runner PipelineRunner) (*Scheduler, error) {
	if cfg.Cron == "" {
		return nil, errors.New("schedule.cron is empty")
	}
	if err := ParseCron(cfg.Cron); err != nil {
		return nil, fmt.Errorf("parsing schedule.cron: %w", err)
	}
	req := model.RunRequest{Domain: cfg.Domain, URL: cfg.URL}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("schedule.domain: %w", err)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.CronJob(cfg.Cron, false),
		gocron.NewTask(func() {
			res, err := runner.Run(ctx, req)
			if err != nil {
				slog.ErrorContext(ctx, "scheduled run failed", "domain", req.Domain, "error", err)
				return
			}
			slog.InfoContext(ctx, "scheduled run started", "domain", req.Domain, "run_id", res.RunID, "ip_file", res.InputPath)
		}),
		gocron.WithName("recon "+req.Domain),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "domain", cfg.Domain)
	return &Scheduler{scheduler: s}, nil
}

// Do runs the scheduler until ctx is done.
func (s *Scheduler) Do(ctx context.Context) error {
	s.scheduler.Start()
	<-ctx.Done()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutting down gocron: %w", err)
	}
	return nil
}
