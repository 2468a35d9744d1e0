package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/Recon/internal/api"
	"github.com/CZERTAINLY/Recon/internal/log"
	"github.com/CZERTAINLY/Recon/internal/model"
	"github.com/CZERTAINLY/Recon/internal/service"
)

// recon wires the pipeline with its session store and shutdown hook.
type recon struct {
	runner   *service.Runner
	store    *service.MemorySessionStore
	pipeline *service.Pipeline
	cleanup  *service.Cleanup
}

func newRecon(ctx context.Context, cfg model.Config) (*recon, error) {
	pcfg, err := service.NewPipelineConfig(cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	runner := service.NewRunner()
	store := service.NewMemorySessionStore()
	pipeline := service.NewPipeline(pcfg, store, runner).
		WithLogAttrs(log.Attrs(ctx)...)
	return &recon{
		runner:   runner,
		store:    store,
		pipeline: pipeline,
		cleanup:  service.NewCleanup(cfg.Pipeline.BaseDir, store),
	}, nil
}

// shutdown terminates running stages and removes the working folder of
// the active session.
func (r *recon) shutdown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	r.pipeline.Close()
	r.runner.Wait()
	if err := r.cleanup.Do(ctx); err != nil {
		slog.ErrorContext(ctx, "cleanup failed", "error", err)
	}
}

func cmdContext(cmd *cobra.Command, name string) context.Context {
	attrs := slog.Group("recon",
		slog.String("cmd", name),
		slog.Int("pid", os.Getpid()),
	)
	return log.ContextAttrs(cmd.Context(), attrs)
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := cmdContext(cmd, "serve")

	r, err := newRecon(ctx, config)
	if err != nil {
		return err
	}
	defer r.shutdown(ctx)

	server := api.NewServer(r.pipeline, r.store, config.Server.StaticDir)

	g, gctx := errgroup.WithContext(ctx)
	if config.Schedule.Cron != "" {
		scheduler, err := service.NewScheduler(gctx, config.Schedule, r.pipeline)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return scheduler.Do(gctx)
		})
	}
	g.Go(func() error {
		slog.InfoContext(ctx, "recon dashboard running", "addr", config.Server.Addr)
		return server.Start(config.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")
		// unblocks /run requests waiting on discovery
		r.pipeline.Close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	return g.Wait()
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := cmdContext(cmd, "run")

	r, err := newRecon(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if flagKeep {
			r.pipeline.Close()
			r.runner.Wait()
			return
		}
		r.shutdown(ctx)
	}()

	res, err := r.pipeline.Run(ctx, model.RunRequest{Domain: flagDomain, URL: flagURL})
	if errors.Is(err, context.Canceled) {
		slog.InfoContext(ctx, "interrupted during discovery")
		return nil
	}
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, res.Status, "run_id", res.RunID, "ip_file", res.InputPath)

	done := make(chan struct{})
	go func() {
		r.pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.InfoContext(ctx, "interrupted, terminating stages")
		r.pipeline.Close()
		<-done
	}
	return nil
}
