// Package process launches a language server as a child process and
// exposes its stdio as a single duplex stream suitable for the client
// engine. Reads come from the server's stdout, writes go to its
// stdin, and stderr is drained into the logger.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Command describes how to start a language server executable.
type Command struct {
	// Path is the executable to run.
	Path string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables, appended to the
	// parent environment.
	Env map[string]string

	// Dir is the working directory (defaults to the parent's).
	Dir string
}

// Process is a running language server child process.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	logger *zap.Logger

	done    chan struct{}
	exitErr error // written by monitor before done closes
}

// Start launches the command and begins draining its stderr. The
// context bounds the process lifetime; cancelling it kills the child.
func Start(ctx context.Context, cmd Command, logger *zap.Logger) (*Process, error) {
	if cmd.Path == "" {
		return nil, fmt.Errorf("empty command path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Env = os.Environ()
	for k, v := range cmd.Env {
		c.Env = append(c.Env, k+"="+v)
	}
	c.Dir = cmd.Dir

	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := c.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	p := &Process{
		cmd:    c,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		logger: logger,
		done:   make(chan struct{}),
	}
	go p.drainStderr()
	go p.monitor()

	logger.Debug("server started",
		zap.String("command", cmd.Path),
		zap.Strings("args", cmd.Args),
		zap.Int("pid", c.Process.Pid))
	return p, nil
}

// Read reads from the server's stdout.
func (p *Process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Write writes to the server's stdin.
func (p *Process) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// Close closes the stdio pipes. The process itself keeps running;
// servers are expected to exit after the exit notification, and Stop
// covers the ones that do not.
func (p *Process) Close() error {
	return multierr.Combine(
		p.stdin.Close(),
		p.stdout.Close(),
	)
}

// PID returns the child process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Exited returns a channel closed when the process exits. The exit
// error, stored once, is available through Wait or Stop afterwards.
func (p *Process) Exited() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits or ctx is cancelled. Repeated
// calls after exit return the same outcome.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the pipes and waits for the process to exit. If it is
// still running after the grace period it is killed.
func (p *Process) Stop(grace time.Duration) error {
	errs := p.Close()

	select {
	case <-p.done:
		return multierr.Append(errs, exitError(p.exitErr))
	case <-time.After(grace):
	}

	p.logger.Warn("server did not exit, killing", zap.Int("pid", p.PID()))
	if err := p.cmd.Process.Kill(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("kill: %w", err))
	}
	<-p.done
	return multierr.Append(errs, exitError(p.exitErr))
}

// exitError filters the expected outcomes of a deliberate stop.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	// A killed process reports an unclean exit; that is the outcome we
	// asked for.
	var xerr *exec.ExitError
	if errors.As(err, &xerr) && !xerr.Exited() {
		return nil
	}
	return err
}

func (p *Process) monitor() {
	p.exitErr = p.cmd.Wait()
	close(p.done)
}

func (p *Process) drainStderr() {
	sc := bufio.NewScanner(p.stderr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p.logger.Debug("server stderr", zap.String("line", sc.Text()))
	}
}
