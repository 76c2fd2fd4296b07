package service_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/srvmgr/internal/service"
	"github.com/stretchr/testify/require"
)

// fakeSpawner is a process backend recording what happens to its processes.
type fakeSpawner struct {
	mx         sync.Mutex
	nextPid    int
	live       int
	maxLive    int
	events     []string
	commands   []service.Command
	procs      []*fakeProcess
	spawnErr   error
	ignoreExit bool
	deaf       bool
}

func (s *fakeSpawner) Spawn(_ context.Context, cmd service.Command) (service.Process, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.spawnErr != nil {
		return nil, s.spawnErr
	}
	s.nextPid++
	s.live++
	s.maxLive = max(s.maxLive, s.live)
	s.commands = append(s.commands, cmd)
	s.events = append(s.events, fmt.Sprintf("spawn:%d", s.nextPid))

	p := newFakeProcess(s, s.nextPid, s.ignoreExit, s.deaf)
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) record(event string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSpawner) exited() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.live--
}

func (s *fakeSpawner) Events() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.events...)
}

func (s *fakeSpawner) Live() (live, maxLive int) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.live, s.maxLive
}

func (s *fakeSpawner) Commands() []service.Command {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]service.Command(nil), s.commands...)
}

func (s *fakeSpawner) Proc(i int) *fakeProcess {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.procs[i]
}

// fakeProcess reads its stdin line by line and exits on "exit" unless told to
// ignore it. A deaf fake never reads its stdin, so writes to it block until it
// is killed. Kill always works.
type fakeProcess struct {
	spawner    *fakeSpawner
	pid        int
	ignoreExit bool

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	mx         sync.Mutex
	lines      []string
	err        error
	done       chan struct{}
	readerDone chan struct{}
	once       sync.Once
}

func newFakeProcess(s *fakeSpawner, pid int, ignoreExit, deaf bool) *fakeProcess {
	p := &fakeProcess{
		spawner:    s,
		pid:        pid,
		ignoreExit: ignoreExit,
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	if deaf {
		close(p.readerDone)
		return p
	}
	go p.read()
	return p
}

func (p *fakeProcess) read() {
	defer close(p.readerDone)
	scanner := bufio.NewScanner(p.stdinR)
	for scanner.Scan() {
		line := scanner.Text()
		p.mx.Lock()
		p.lines = append(p.lines, line)
		p.mx.Unlock()
		p.spawner.record(fmt.Sprintf("stdin:%d:%s", p.pid, line))
		if line == "exit" && !p.ignoreExit {
			p.finish(nil)
			return
		}
	}
}

func (p *fakeProcess) finish(err error) {
	p.once.Do(func() {
		p.err = err
		_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		p.spawner.record(fmt.Sprintf("exit:%d", p.pid))
		p.spawner.exited()
		close(p.done)
	})
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.ReadCloser { return p.stdoutR }
func (p *fakeProcess) Stderr() io.ReadCloser { return p.stderrR }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	<-p.done
	return p.err
}

func (p *fakeProcess) Kill() error {
	_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
	<-p.readerDone
	p.finish(errors.New("signal: killed"))
	return nil
}

// CloseStdin makes the fake stop reading its input while it keeps running.
func (p *fakeProcess) CloseStdin() {
	_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
	<-p.readerDone
}

// Print writes a line to the fake's stdout. It blocks until the line is read.
func (p *fakeProcess) Print(line string) error {
	_, err := io.WriteString(p.stdoutW, line+"\n")
	return err
}

// Eprint writes a line to the fake's stderr.
func (p *fakeProcess) Eprint(line string) error {
	_, err := io.WriteString(p.stderrW, line+"\n")
	return err
}

func (p *fakeProcess) Lines() []string {
	p.mx.Lock()
	defer p.mx.Unlock()
	return append([]string(nil), p.lines...)
}

// recorder collects lines passed to a LineFunc.
type recorder struct {
	mx    sync.Mutex
	lines []string
}

func (r *recorder) Func() service.LineFunc {
	return func(_ context.Context, line string) {
		r.mx.Lock()
		defer r.mx.Unlock()
		r.lines = append(r.lines, line)
	}
}

func (r *recorder) Lines() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]string(nil), r.lines...)
}

// logBuffer is a goroutine safe log sink.
type logBuffer struct {
	mx  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.String()
}

// Records returns the logged records in order.
func (b *logBuffer) Records() []map[string]any {
	var records []map[string]any
	for line := range strings.SplitSeq(b.String(), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records
}

// Messages returns the messages of records at level INFO and above.
func (b *logBuffer) Messages() []string {
	var msgs []string
	for _, rec := range b.Records() {
		if rec[slog.LevelKey] == slog.LevelDebug.String() {
			continue
		}
		msgs = append(msgs, rec[slog.MessageKey].(string))
	}
	return msgs
}

// Has reports whether a record with msg was logged at level.
func (b *logBuffer) Has(level slog.Level, msg string) bool {
	for _, rec := range b.Records() {
		if rec[slog.LevelKey] == level.String() && rec[slog.MessageKey] == msg {
			return true
		}
	}
	return false
}

func newTestLogger() (*slog.Logger, *logBuffer) {
	var buf logBuffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), &buf
}

type harness struct {
	spawner *fakeSpawner
	logger  *slog.Logger
	logs    *logBuffer
	stdout  *recorder
	stderr  *recorder
	opts    []service.Option
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, logs := newTestLogger()
	h := &harness{
		spawner: &fakeSpawner{},
		logger:  logger,
		logs:    logs,
		stdout:  &recorder{},
		stderr:  &recorder{},
	}
	h.opts = []service.Option{
		service.WithSpawner(h.spawner),
		service.WithLogger(logger),
		service.WithGracePeriod(200 * time.Millisecond),
		service.WithOutput(h.stdout.Func(), h.stderr.Func()),
	}
	return h
}

func (h *harness) supervisor(t *testing.T, path string) *service.Supervisor {
	t.Helper()
	s, err := service.NewSupervisor(path, h.opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Stop(context.Background())
	})
	return s
}

func (h *harness) factory() service.SupervisorFunc {
	return func(path string) (*service.Supervisor, error) {
		return service.NewSupervisor(path, h.opts...)
	}
}
