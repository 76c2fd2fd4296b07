package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/CZERTAINLY/srvmgr/internal/log"
)

var (
	ErrNotConnected = errors.New("server is not running")
	ErrBrokenPipe   = errors.New("server input is not available")
	ErrSpawnFailed  = errors.New("failed to start server")
	ErrInvalidPath  = errors.New("invalid server path")
)

const (
	DefaultGracePeriod = 2 * time.Second
	DefaultExitCommand = "exit"
)

// Supervisor owns at most one running server process. It is not safe for
// concurrent use: the Router is its only caller.
type Supervisor struct {
	path        string
	dir         string
	args        []string
	exitCommand string
	grace       time.Duration
	spawner     Spawner
	logger      *slog.Logger
	stdoutFunc  LineFunc
	stderrFunc  LineFunc

	proc   Process
	launch string
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	pipers conc.WaitGroup
}

type Option func(*Supervisor)

func WithSpawner(spawner Spawner) Option {
	return func(s *Supervisor) {
		s.spawner = spawner
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

func WithArgs(args ...string) Option {
	return func(s *Supervisor) {
		s.args = append([]string(nil), args...)
	}
}

// WithGracePeriod sets how long Stop waits for the server to exit on its own
// before killing it.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		s.grace = d
	}
}

// WithExitCommand sets the line written to the server's stdin by Stop.
func WithExitCommand(cmd string) Option {
	return func(s *Supervisor) {
		s.exitCommand = cmd
	}
}

// WithOutput sets the sinks for the server's stdout and stderr lines.
func WithOutput(stdout, stderr LineFunc) Option {
	return func(s *Supervisor) {
		s.stdoutFunc = stdout
		s.stderrFunc = stderr
	}
}

// NewSupervisor returns a Supervisor bound to the executable at path. The
// working directory of the server is the parent directory of path.
func NewSupervisor(path string, opts ...Option) (*Supervisor, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	// a relative path with a directory would be resolved against dir by exec
	if filepath.Base(path) != path {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPath, err)
		}
		path = abs
	}

	s := &Supervisor{
		path:        path,
		dir:         filepath.Dir(path),
		exitCommand: DefaultExitCommand,
		grace:       DefaultGracePeriod,
		spawner:     ExecSpawner{},
		logger:      slog.Default(),
		stdoutFunc:  LineWriter(os.Stdout),
		stderrFunc:  LineWriter(os.Stderr),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Supervisor) Path() string { return s.path }
func (s *Supervisor) Dir() string  { return s.dir }

// Running reports whether a server process was started and has not exited.
func (s *Supervisor) Running() bool {
	if s.proc == nil {
		return false
	}
	select {
	case <-s.proc.Done():
		return false
	default:
		return true
	}
}

// Pid returns the pid of the current process or 0.
func (s *Supervisor) Pid() int {
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// Start stops any running server and spawns a new one. Its output is not
// consumed until PipeOutput is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.Stop(ctx)

	proc, err := s.spawner.Spawn(ctx, Command{
		Path: s.path,
		Args: s.args,
		Dir:  s.dir,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSpawnFailed, s.path, err)
	}

	s.proc = proc
	s.launch = uuid.NewString()
	s.stdin = proc.Stdin()
	s.stdout = proc.Stdout()
	s.stderr = proc.Stderr()
	s.logger.InfoContext(s.logCtx(ctx), "server started", "pid", proc.Pid())
	return nil
}

// Stop asks the server to exit by writing the exit command to its stdin and
// waits up to the grace period. A server still running after that is killed.
// The grace period starts before the write, so a server that does not read its
// stdin is killed as well. Stop is a no-op without a process and always leaves
// the Supervisor without one; errors are logged.
func (s *Supervisor) Stop(ctx context.Context) {
	if s.proc == nil {
		s.logger.DebugContext(s.logCtx(ctx), "stop: no server running")
		return
	}
	proc := s.proc
	ctx = s.logCtx(ctx)

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	var written <-chan error
	if s.stdin != nil {
		written = writeLine(s.stdin, s.exitCommand)
	}
	defer func() {
		// closing stdin unblocks a write the server never read
		s.release()
		if written == nil {
			return
		}
		if err := <-written; err != nil {
			s.logger.DebugContext(ctx, "exit command not delivered", "error", err)
		}
	}()

	select {
	case <-proc.Done():
	case <-timer.C:
	}

	select {
	case <-proc.Done():
		s.logger.InfoContext(ctx, "server stopped gracefully", exitAttr(proc.Err()))
	default:
		if err := proc.Kill(); err != nil {
			s.logger.ErrorContext(ctx, "error while stopping server", "error", err)
			return
		}
		<-proc.Done()
		s.logger.WarnContext(ctx, "server stopped forcefully")
	}
}

// SendCommand writes text and a newline to the server's stdin. A write the
// server does not take within the grace period closes stdin and returns
// ErrBrokenPipe.
func (s *Supervisor) SendCommand(ctx context.Context, text string) error {
	if !s.Running() {
		return ErrNotConnected
	}
	if s.stdin == nil {
		return ErrBrokenPipe
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	var err error
	written := writeLine(s.stdin, text)
	select {
	case err = <-written:
	case <-timer.C:
		err = os.ErrDeadlineExceeded
	case <-ctx.Done():
		err = context.Cause(ctx)
	}
	if err == nil {
		s.logger.DebugContext(s.logCtx(ctx), "command sent", "command", text)
		return nil
	}
	if !isBrokenPipe(err) && !errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("writing to server: %w", err)
	}
	_ = s.stdin.Close()
	s.stdin = nil
	// the pending write, if any, returns once stdin is closed
	for range written {
	}
	return fmt.Errorf("%w: %w", ErrBrokenPipe, err)
}

// CloseInput closes the server's stdin, so the server reads EOF. Subsequent
// SendCommand calls return ErrBrokenPipe.
func (s *Supervisor) CloseInput(ctx context.Context) error {
	if !s.Running() {
		return ErrNotConnected
	}
	if s.stdin == nil {
		return ErrBrokenPipe
	}
	err := s.stdin.Close()
	s.stdin = nil
	s.logger.DebugContext(s.logCtx(ctx), "server input closed")
	return err
}

// PipeOutput starts one piper per output stream of the current process. Every
// stream is piped at most once per process.
func (s *Supervisor) PipeOutput(ctx context.Context) {
	if s.proc == nil {
		return
	}
	ctx = s.logCtx(ctx)
	if r := s.stdout; r != nil {
		s.stdout = nil
		s.pipers.Go(func() {
			pipeStream(ctx, s.logger, "stdout", r, s.stdoutFunc)
		})
	}
	if r := s.stderr; r != nil {
		s.stderr = nil
		s.pipers.Go(func() {
			pipeStream(ctx, s.logger, "stderr", r, s.stderrFunc)
		})
	}
}

// Wait blocks until every piper started by s has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := s.pipers.WaitAndRecover(); r != nil {
			s.logger.ErrorContext(ctx, "output piper panicked", "panic", r.Value, "stack", string(r.Stack))
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.DebugContext(ctx, "output still open", "error", context.Cause(ctx))
	}
}

// release drops the process handle and every stream nobody took.
func (s *Supervisor) release() {
	for _, c := range []io.Closer{s.stdin, s.stdout, s.stderr} {
		if c != nil {
			_ = c.Close()
		}
	}
	s.proc = nil
	s.launch = ""
	s.stdin = nil
	s.stdout = nil
	s.stderr = nil
}

func (s *Supervisor) logCtx(ctx context.Context) context.Context {
	if s.proc == nil {
		return log.ContextAttrs(ctx, slog.Group("server", slog.String("path", s.path)))
	}
	return log.ContextAttrs(ctx,
		slog.Group("server",
			slog.String("path", s.path),
			slog.Int("pid", s.proc.Pid()),
			slog.String("launch", s.launch),
		),
	)
}

func exitAttr(err error) slog.Attr {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return slog.Int("exit_code", 0)
	case errors.As(err, &exitErr):
		return slog.Int("exit_code", exitErr.ExitCode())
	default:
		return slog.String("exit_error", err.Error())
	}
}

// writeLine writes text and a newline to w in its own goroutine. The returned
// channel receives the result of the write and is closed after it.
func writeLine(w io.Writer, text string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := io.WriteString(w, text+"\n")
		done <- err
	}()
	return done
}

func isBrokenPipe(err error) bool {
	if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	for _, errno := range pipeClosedErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
