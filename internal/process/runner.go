package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// maxLineSize bounds a single output line; longer lines end the scan
	// and the rest of the output is discarded.
	maxLineSize = 1 << 20

	defaultGracefulTimeout = 10 * time.Second
)

// Config describes one subprocess invocation.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	WorkDir string

	// GracefulTimeout is how long to wait after SIGTERM on cancellation
	// before the process is killed.
	GracefulTimeout time.Duration
}

// Result summarises a finished subprocess.
type Result struct {
	// ExitCode is the exit status, or -1 if the process never started or
	// was killed by a signal.
	ExitCode int

	// Lines is the number of output lines delivered.
	Lines int

	Duration time.Duration
}

// LineHandler receives each line of combined stdout/stderr as it is produced.
type LineHandler func(line string)

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner runs subprocesses to completion, streaming their output.
// A Runner holds no per-process state and may be shared.
type Runner struct {
	logger Logger
}

// NewRunner creates a Runner.
func NewRunner() *Runner {
	return &Runner{logger: noopLogger{}}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// Run starts the process, hands every output line to onLine without
// buffering the whole output, and waits for it to exit.
//
// There is no built-in timeout. Cancelling ctx sends SIGTERM to the
// process group and, after GracefulTimeout, kills it.
//
// Errors wrap ErrLaunch if the process could not be started and
// ErrExitStatus if it exited non-zero.
func (r *Runner) Run(ctx context.Context, cfg Config, onLine LineHandler) (Result, error) {
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if onLine == nil {
		onLine = func(string) {}
	}

	cmd := exec.CommandContext(ctx, cfg.Binary, cfg.Args...) //nolint:gosec // binary is resolved from configured candidates

	// Own process group so cancellation reaches compiler and uploader children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = cfg.GracefulTimeout

	if cfg.Env != nil {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	lines := make(chan int, 1)
	go func() {
		lines <- scanLines(pr, onLine)
	}()

	r.logger.Debug("starting process", "name", cfg.Name, "binary", cfg.Binary, "args", cfg.Args)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pw.Close() //nolint:errcheck // io.Pipe close never fails
		<-lines
		return Result{ExitCode: -1}, fmt.Errorf("%w: %s: %w", ErrLaunch, cfg.Name, err)
	}

	waitErr := cmd.Wait()
	pw.Close() //nolint:errcheck // io.Pipe close never fails

	res := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Lines:    <-lines,
		Duration: time.Since(start),
	}

	r.logger.Debug("process exited", "name", cfg.Name, "exit_code", res.ExitCode, "duration", res.Duration)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", cfg.Name, ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("%w: %s exited with code %d", ErrExitStatus, cfg.Name, res.ExitCode)
		}
		return res, fmt.Errorf("waiting for %s: %w", cfg.Name, waitErr)
	}
	return res, nil
}

// scanLines delivers each line from rd and drains whatever is left if a
// line is too long, so the writer never blocks.
func scanLines(rd io.Reader, onLine LineHandler) int {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	n := 0
	for sc.Scan() {
		onLine(sc.Text())
		n++
	}
	if sc.Err() != nil {
		io.Copy(io.Discard, rd) //nolint:errcheck // draining only
	}
	return n
}
