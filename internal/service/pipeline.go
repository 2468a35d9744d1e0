package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/Recon/internal/log"
	"github.com/CZERTAINLY/Recon/internal/metrics"
	"github.com/CZERTAINLY/Recon/internal/model"
)

// Mode tells the pipeline whether to wait for a stage to exit.
type Mode int

const (
	// ModeAwaited blocks the pipeline until the stage process exits.
	ModeAwaited Mode = iota
	// ModeDetached starts the process and moves on to the next stage.
	ModeDetached
)

func (m Mode) String() string {
	switch m {
	case ModeAwaited:
		return model.ModeAwaited
	case ModeDetached:
		return model.ModeDetached
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case model.ModeAwaited:
		return ModeAwaited, nil
	case model.ModeDetached:
		return ModeDetached, nil
	}
	return 0, fmt.Errorf("unknown stage mode %q", s)
}

// ArgsFunc returns per-run arguments appended to the configured ones.
type ArgsFunc func(req model.RunRequest) []string

// Stage is one external tool of the pipeline. Delay is counted from the
// start of the previous stage. It is a fixed wait, not a readiness check.
type Stage struct {
	Command Command
	Mode    Mode
	Delay   time.Duration
	Args    ArgsFunc
}

func (s Stage) Name() string {
	return s.Command.Name
}

func (s Stage) command(baseDir string, req model.RunRequest) Command {
	cmd := s.Command
	cmd.Dir = baseDir
	cmd.Args = slices.Clone(s.Command.Args)
	if s.Args != nil {
		cmd.Args = append(cmd.Args, s.Args(req)...)
	}
	return cmd
}

// DiscoveryArgs builds `-d domain -t threads [-u url]`.
func DiscoveryArgs(threads int) ArgsFunc {
	return func(req model.RunRequest) []string {
		args := []string{"-d", req.Domain, "-t", strconv.Itoa(threads)}
		if req.URL != "" {
			args = append(args, "-u", req.URL)
		}
		return args
	}
}

// ScannerArgs passes the address range file produced by discovery.
func ScannerArgs(req model.RunRequest) []string {
	return []string{model.InputPath(req.Domain)}
}

type PipelineConfig struct {
	BaseDir string
	Stages  []Stage
}

// NewPipelineConfig maps the configuration to the discovery, receiver and
// scanner stages, in this order.
func NewPipelineConfig(cfg model.Pipeline) (PipelineConfig, error) {
	type def struct {
		name string
		cfg  model.Stage
		args ArgsFunc
	}
	defs := []def{
		{model.StageDiscovery, cfg.Stages.Discovery, DiscoveryArgs(cfg.Threads)},
		{model.StageReceiver, cfg.Stages.Receiver, nil},
		{model.StageScanner, cfg.Stages.Scanner, ScannerArgs},
	}

	stages := make([]Stage, 0, len(defs))
	for _, d := range defs {
		mode, err := ParseMode(d.cfg.Mode)
		if err != nil {
			return PipelineConfig{}, fmt.Errorf("stage %s: %w", d.name, err)
		}
		stages = append(stages, Stage{
			Command: Command{
				Name:    d.name,
				Path:    d.cfg.Path,
				Args:    d.cfg.Args,
				Env:     d.cfg.Environ(),
				Timeout: d.cfg.Timeout,
			},
			Mode:  mode,
			Delay: d.cfg.Delay,
			Args:  d.args,
		})
	}
	return PipelineConfig{BaseDir: cfg.BaseDir, Stages: stages}, nil
}

// Pipeline starts the configured stages for every accepted run request.
//
// Run returns as soon as the last awaited stage has exited, the remaining
// stages continue in the background. Stage failures are logged and never
// stop the following stages. Processes outlive the request which started
// them, they are only terminated by Close.
type Pipeline struct {
	baseDir  string
	stages   []Stage
	store    SessionStore
	starter  Starter
	lineFunc LineFunc

	ctx    context.Context
	cancel context.CancelFunc

	mx     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPipeline(cfg PipelineConfig, store SessionStore, starter Starter) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		baseDir: cfg.BaseDir,
		stages:  slices.Clone(cfg.Stages),
		store:   store,
		starter: starter,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// WithLineFunc sets the sink for process output, LogLines by default.
func (p *Pipeline) WithLineFunc(fn LineFunc) *Pipeline {
	p.lineFunc = fn
	return p
}

// WithLogAttrs adds attrs to every log record of all pipeline runs.
func (p *Pipeline) WithLogAttrs(attrs ...slog.Attr) *Pipeline {
	p.ctx = log.ContextAttrs(p.ctx, attrs...)
	return p
}

func (p *Pipeline) BaseDir() string {
	return p.baseDir
}

// Run validates req, makes its session the active one and starts the
// stages. When ctx ends before the awaited stages finish, Run returns
// ctx.Err() and the pipeline continues.
func (p *Pipeline) Run(ctx context.Context, req model.RunRequest) (model.RunResult, error) {
	if err := req.Validate(); err != nil {
		metrics.RunsTotal.WithLabelValues("rejected").Inc()
		return model.RunResult{}, err
	}

	p.mx.Lock()
	if p.closed {
		p.mx.Unlock()
		return model.RunResult{}, model.ErrPipelineClosed
	}
	p.wg.Add(1)
	p.mx.Unlock()

	session := model.NewSession(req.Domain)
	p.store.SetActive(session)
	metrics.SessionActive.Set(1)
	metrics.RunsTotal.WithLabelValues("accepted").Inc()

	result := model.RunResult{
		RunID:     uuid.NewString(),
		Status:    model.StatusStarted,
		InputPath: model.InputPath(req.Domain),
		Session:   session,
	}

	runCtx := log.ContextAttrs(p.ctx,
		slog.String("run_id", result.RunID),
		slog.String("domain", req.Domain),
	)
	slog.InfoContext(runCtx, "starting recon", "url", req.URL, "folder", session.Dir(p.baseDir))

	acked := make(chan struct{})
	go func() {
		defer p.wg.Done()
		p.run(runCtx, req, acked)
	}()

	select {
	case <-acked:
		return result, nil
	case <-ctx.Done():
		return result, ctx.Err()
	}
}

func (p *Pipeline) run(ctx context.Context, req model.RunRequest, acked chan struct{}) {
	ack := sync.OnceFunc(func() { close(acked) })
	defer ack()

	lastAwaited := -1
	for i, st := range p.stages {
		if st.Mode == ModeAwaited {
			lastAwaited = i
		}
	}
	if lastAwaited < 0 {
		ack()
	}

	var detached sync.WaitGroup
	defer detached.Wait()

	prevStart := time.Now()
	for i, st := range p.stages {
		stageCtx := log.ContextAttrs(ctx, slog.String("stage", st.Name()))
		if st.Delay > 0 {
			slog.DebugContext(stageCtx, "stage delayed", "delay", st.Delay)
			if !sleep(ctx, time.Until(prevStart.Add(st.Delay))) {
				slog.WarnContext(stageCtx, "pipeline cancelled before stage start")
				return
			}
		}

		cmd := st.command(p.baseDir, req)
		prevStart = time.Now()
		done, err := p.starter.Start(ctx, cmd, p.lineFunc)
		if err != nil {
			metrics.StageStartsTotal.WithLabelValues(st.Name(), "failed").Inc()
			slog.ErrorContext(stageCtx, "stage failed to start", "path", cmd.Path, "error", err)
			if i == lastAwaited {
				ack()
			}
			continue
		}
		metrics.StageStartsTotal.WithLabelValues(st.Name(), "started").Inc()
		slog.InfoContext(stageCtx, "stage started", "path", cmd.Path, "args", cmd.Args, "mode", st.Mode)

		switch st.Mode {
		case ModeAwaited:
			stageFinished(stageCtx, <-done)
		default:
			detached.Go(func() {
				stageFinished(stageCtx, <-done)
			})
		}
		if i == lastAwaited {
			ack()
		}
	}
}

func stageFinished(ctx context.Context, res Result) {
	metrics.StageDuration.WithLabelValues(res.Name).Observe(res.Duration().Seconds())
	if !res.Success() {
		metrics.StageExitsTotal.WithLabelValues(res.Name, "failure").Inc()
		slog.WarnContext(ctx, "stage failed", "exit_code", res.ExitCode(), "error", res.Err, "duration", res.Duration())
		return
	}
	metrics.StageExitsTotal.WithLabelValues(res.Name, "success").Inc()
	slog.InfoContext(ctx, "stage finished", "exit_code", res.ExitCode(), "duration", res.Duration())
}

// sleep waits for d, it returns false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Wait blocks until all runs have finished, including detached stages.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close cancels pending stages, terminates running processes and waits for
// them. Later runs fail with model.ErrPipelineClosed.
func (p *Pipeline) Close() {
	p.mx.Lock()
	p.closed = true
	p.mx.Unlock()
	p.cancel()
	p.wg.Wait()
}
