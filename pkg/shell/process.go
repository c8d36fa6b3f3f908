package shell

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Process is a running command interpreter with its three standard streams.
type Process interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader
	// Done is closed once the interpreter has exited.
	Done() <-chan struct{}
	// Close terminates the interpreter and releases its streams.
	Close() error
}

// Spawner starts interpreters. The privileged flag selects the elevated
// interpreter (su, sudo, ...) instead of the plain one.
type Spawner interface {
	Spawn(ctx context.Context, privileged bool) (Process, error)
}

// Default interpreter commands.
var (
	DefaultCommand           = []string{"sh"}
	DefaultPrivilegedCommand = []string{"su"}
)

// ExecSpawner runs interpreters as local child processes.
type ExecSpawner struct {
	Command           []string
	PrivilegedCommand []string
	// Env is appended to the current environment.
	Env []string
}

func NewExecSpawner(command, privileged []string) *ExecSpawner {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if len(privileged) == 0 {
		privileged = DefaultPrivilegedCommand
	}
	return &ExecSpawner{Command: command, PrivilegedCommand: privileged}
}

func (s *ExecSpawner) Spawn(ctx context.Context, privileged bool) (Process, error) {
	argv := s.Command
	if privileged {
		argv = s.PrivilegedCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: err}
	}
	if len(argv) == 0 {
		return nil, &SpawnError{Privileged: privileged, Err: errors.New("empty interpreter command")}
	}

	// The interpreter outlives the request that spawned it, so it is not bound to ctx.
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec
	cmd.Env = append(os.Environ(), s.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: errors.Wrap(err, "stdin pipe")}
	}
	// Wait must not close stdout or stderr while they hold unread output,
	// so the parent owns both pipes.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: errors.Wrap(err, "stdout pipe")}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(stdout, stdoutW)
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: errors.Wrap(err, "stderr pipe")}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		closeAll(stdout, stdoutW, stderr, stderrW)
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: errors.WithStack(err)}
	}
	// The child holds its own copies; readers see EOF once it exits.
	closeAll(stdoutW, stderrW)

	p := &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

func (p *execProcess) Stdin() io.Writer      { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) Done() <-chan struct{} { return p.done }

// Close ends the interpreter: EOF on stdin first, kill if it does not exit in time.
func (p *execProcess) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			<-p.done
		}
		closeAll(p.stdout, p.stderr)
	})
	return nil
}
