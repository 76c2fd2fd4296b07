package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Command describes an executable to spawn.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string // nil means the environment of the current process
}

// Process is a running child with its standard streams.
type Process interface {
	Pid() int
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	// Done is closed once the process has exited and was reaped.
	Done() <-chan struct{}
	// Err reports the exit status once Done is closed.
	Err() error
	Kill() error
}

// Spawner starts processes. ExecSpawner is the production implementation;
// tests use fakes.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Process, error)
}

// ExecSpawner spawns real operating system processes via os/exec.
type ExecSpawner struct{}

// Spawn starts cmd with all three standard streams connected to pipes.
//
// The pipes are created by hand rather than with exec.Cmd.StdoutPipe, because
// Cmd.Wait closes those as soon as the process exits and the pipers would lose
// the tail of the output.
func (ExecSpawner) Spawn(_ context.Context, proto Command) (Process, error) {
	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Dir = proto.Dir
	cmd.Env = proto.Env

	var parent, child []*os.File
	closeAll := func(files []*os.File) {
		for _, f := range files {
			_ = f.Close()
		}
	}
	pipe := func() (r, w *os.File, err error) {
		r, w, err = os.Pipe()
		if err != nil {
			closeAll(parent)
			closeAll(child)
			return nil, nil, fmt.Errorf("creating pipe: %w", err)
		}
		return r, w, nil
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		return nil, err
	}
	parent, child = append(parent, stdinW), append(child, stdinR)
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		return nil, err
	}
	parent, child = append(parent, stdoutR), append(child, stdoutW)
	stderrR, stderrW, err := pipe()
	if err != nil {
		return nil, err
	}
	parent, child = append(parent, stderrR), append(child, stderrW)

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// the child holds its own copies now
	closeAll(child)
	if err != nil {
		closeAll(parent)
		return nil, err
	}

	p := &execProcess{
		cmd:    cmd,
		stdin:  &stdinWriter{f: stdinW},
		stdout: stdoutR,
		stderr: stderrR,
		done:   make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  *stdinWriter
	stdout *os.File
	stderr *os.File
	done   chan struct{}
	err    error
}

func (p *execProcess) wait() {
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Stderr() io.ReadCloser { return p.stderr }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	<-p.done
	return p.err
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// stdinWriter makes Close idempotent, so both the supervisor and a failed
// write can release the pipe.
type stdinWriter struct {
	f    *os.File
	once sync.Once
	err  error
}

func (w *stdinWriter) Write(b []byte) (int, error) {
	return w.f.Write(b)
}

func (w *stdinWriter) Close() error {
	w.once.Do(func() {
		w.err = w.f.Close()
	})
	return w.err
}
