// Package process runs a language server as a child process speaking over
// its standard input and output.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/springtools/stsclient/logger"
)

type ProcessState string

const (
	ProcessStateRunning  ProcessState = "running"  // Process alive, pipes open
	ProcessStateStopping ProcessState = "stopping" // Stop requested, waiting for exit
	ProcessStateEnded    ProcessState = "ended"    // Process has exited
)

const defaultStopTimeout = 5 * time.Second

var ErrNoCommand = errors.New("process command is required")

type StateChangeEvent struct {
	Name  string
	State ProcessState
	Err   error
}

// Options describe how to launch a server process.
type Options struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string
	StopTimeout time.Duration
	// OnStateChange is called on every state transition.
	OnStateChange func(StateChangeEvent)
}

// Process holds a running server process.
type Process struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex
	state   ProcessState
	exitErr error
	done    chan struct{}
}

// Start launches the process. The process is not bound to ctx's lifetime;
// ctx only bounds the launch itself.
func Start(ctx context.Context, name string, opts Options) (*Process, error) {
	if opts.Command == "" {
		return nil, ErrNoCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Command, err)
	}

	p := &Process{
		name:   name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		opts:   opts,
		log:    slog.With("server", name, "pid", cmd.Process.Pid),
		state:  ProcessStateRunning,
		done:   make(chan struct{}),
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		p.forwardStderr(stderr)
	}()
	go p.wait(stderrDone)

	p.log.Info("process started", "command", opts.Command, "args", opts.Args)
	p.emitStateChange(ProcessStateRunning, nil)
	return p, nil
}

func (p *Process) Name() string { return p.name }

func (p *Process) PID() int { return p.cmd.Process.Pid }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitErr returns the wait error once the process has ended.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Conn returns the process's stdout and stdin as one stream. Closing it
// closes stdin only; use Stop to end the process.
func (p *Process) Conn() io.ReadWriteCloser {
	return stdioConn{Reader: p.stdout, WriteCloser: p.stdin}
}

// Stop closes stdin and waits for the process to exit, killing it after the
// stop timeout.
func (p *Process) Stop() error {
	p.mu.Lock()
	if p.state == ProcessStateEnded {
		p.mu.Unlock()
		return nil
	}
	first := p.state != ProcessStateStopping
	p.state = ProcessStateStopping
	p.mu.Unlock()

	if first {
		p.emitStateChange(ProcessStateStopping, nil)
		p.stdin.Close()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(p.opts.StopTimeout):
	}

	p.log.Warn("process did not exit in time, killing", "timeout", p.opts.StopTimeout)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", p.name, err)
	}
	<-p.done
	return nil
}

// wait reaps the process. Stderr is drained first because Wait closes the
// pipe.
func (p *Process) wait(stderrDone <-chan struct{}) {
	defer close(p.done)
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "process waiter crashed", "server", p.name)
		}
	}()

	<-stderrDone
	err := p.cmd.Wait()

	p.mu.Lock()
	p.state = ProcessStateEnded
	p.exitErr = err
	p.mu.Unlock()

	p.log.Info("process ended", "error", err)
	p.emitStateChange(ProcessStateEnded, err)
}

func (p *Process) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.log.Debug("server stderr", "line", scanner.Text())
	}
}

func (p *Process) emitStateChange(state ProcessState, err error) {
	if p.opts.OnStateChange != nil {
		p.opts.OnStateChange(StateChangeEvent{Name: p.name, State: state, Err: err})
	}
}

type stdioConn struct {
	io.Reader
	io.WriteCloser
}
