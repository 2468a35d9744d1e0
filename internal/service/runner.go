package service

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/Recon/internal/log"
)

// maxLine bounds a buffered line, longer output is emitted in chunks.
const maxLine = 64 * 1024

const defaultWaitDelay = 5 * time.Second

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LineFunc receives every line a process writes. ctx carries the stage
// name as a log attribute.
type LineFunc func(ctx context.Context, stream Stream, line string)

// Starter starts an external command. The returned channel receives exactly
// one Result and is closed afterwards, even when Start returns an error.
type Starter interface {
	Start(ctx context.Context, cmd Command, lineFunc LineFunc) (<-chan Result, error)
}

type Command struct {
	Name    string // stage name used to tag log lines
	Path    string
	Args    []string
	Dir     string
	Env     []string // nil inherits the current environment
	Timeout time.Duration
}

type Result struct {
	Name    string
	Path    string
	Args    []string
	Dir     string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Err     error
}

// ExitCode returns the exit code of the process or -1 when it did not run
// or was terminated by a signal.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

func (r Result) Success() bool {
	return r.Err == nil && r.State != nil && r.State.Success()
}

func (r Result) Duration() time.Duration {
	if r.Stopped.IsZero() {
		return 0
	}
	return r.Stopped.Sub(r.Started)
}

// Runner is a thin wrapper around os/exec. Each Start spawns an independent
// process, the Runner only keeps track of goroutines it spawned.
type Runner struct {
	wg        sync.WaitGroup
	waitDelay time.Duration
}

func NewRunner() *Runner {
	return &Runner{waitDelay: defaultWaitDelay}
}

// WithWaitDelay sets how long a cancelled process may take to exit before
// it gets killed and its output pipes closed.
func (r *Runner) WithWaitDelay(d time.Duration) *Runner {
	r.waitDelay = d
	return r
}

// Start runs the process and returns immediately. Output is forwarded line by
// line to lineFunc, LogLines when nil. Cancelling ctx terminates the process.
func (r *Runner) Start(ctx context.Context, proto Command, lineFunc LineFunc) (<-chan Result, error) {
	if lineFunc == nil {
		lineFunc = LogLines
	}
	ctx = log.ContextAttrs(ctx, slog.String("stage", proto.Name))

	ch := make(chan Result, 1)
	result := Result{
		Name: proto.Name,
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
		Dir:  proto.Dir,
	}

	cancel := context.CancelFunc(func() {})
	if proto.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
	}

	cmd := exec.CommandContext(ctx, result.Path, result.Args...)
	cmd.Dir = proto.Dir
	cmd.Env = proto.Env
	cmd.WaitDelay = r.waitDelay
	configureProcess(cmd)

	stdout := &lineWriter{ctx: ctx, stream: StreamStdout, fn: lineFunc}
	stderr := &lineWriter{ctx: ctx, stream: StreamStderr, fn: lineFunc}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		cancel()
		result.Stopped = time.Now().UTC()
		result.Err = err
		ch <- result
		close(ch)
		return ch, err
	}
	slog.DebugContext(ctx, "process started", "path", proto.Path, "args", proto.Args, "pid", cmd.Process.Pid)

	r.wg.Go(func() {
		err := cmd.Wait()
		cancel()
		stdout.Flush()
		stderr.Flush()

		result.Stopped = time.Now().UTC()
		result.State = cmd.ProcessState
		result.Err = err
		ch <- result
		close(ch)
	})
	return ch, nil
}

// Wait blocks until all started processes have exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// LogLines is the default LineFunc, stderr lines are logged as warnings.
func LogLines(ctx context.Context, stream Stream, line string) {
	if stream == StreamStderr {
		slog.WarnContext(ctx, "process output", "stream", stream, "line", line)
		return
	}
	slog.InfoContext(ctx, "process output", "stream", stream, "line", line)
}

// lineWriter splits writes into lines. os/exec copies each stream from its
// own goroutine and every Write finishes before cmd.Wait returns.
type lineWriter struct {
	ctx    context.Context
	stream Stream
	fn     LineFunc

	mx  sync.Mutex
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mx.Lock()
	defer w.mx.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= maxLine {
		w.emit(w.buf[:maxLine])
		w.buf = w.buf[maxLine:]
	}
	return len(p), nil
}

// Flush emits a trailing line without a newline.
func (w *lineWriter) Flush() {
	w.mx.Lock()
	defer w.mx.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	w.fn(w.ctx, w.stream, strings.TrimSuffix(string(line), "\r"))
}
