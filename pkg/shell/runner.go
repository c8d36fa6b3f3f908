package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunnerOptions sets the privilege policy of a Runner.
type RunnerOptions struct {
	// RootMode runs every batch on the elevated interpreter.
	RootMode bool
	// RetryElevated retries a failed unprivileged batch once with privilege
	// when the failure could be a permission problem. See Runner.Run.
	RetryElevated bool
}

// Runner executes command batches over the Manager's session.
//
// A batch is written to the interpreter in one piece, followed by a line that
// echoes a per-batch marker and the exit status of the last command. Output
// lines are collected until the marker appears. Only the last command's status
// decides success; side effects of earlier commands are never undone.
type Runner struct {
	shells *Manager
	opts   RunnerOptions
	logger *slog.Logger
}

func NewRunner(shells *Manager, opts RunnerOptions, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{shells: shells, opts: opts, logger: logger}
}

// Options returns the runner's privilege policy.
func (r *Runner) Options() RunnerOptions { return r.opts }

// Run executes cmds as one batch. On success the returned slice is non-nil,
// possibly empty. On failure the slice is nil and the error matches ErrSpawn,
// ErrProtocol, ErrSessionClosed or a context error.
//
// With RetryElevated, an unprivileged batch that failed is retried once on the
// elevated interpreter, unless it ran to completion and its stderr shows no
// permission error. A stat of a missing path is therefore never elevated.
func (r *Runner) Run(ctx context.Context, cmds ...Command) ([]string, error) {
	if len(cmds) == 0 {
		return []string{}, nil
	}
	privileged := r.opts.RootMode || batchPrivileged(cmds)

	lines, err := r.runOnce(ctx, privileged, cmds)
	if err == nil || privileged || !r.opts.RetryElevated {
		return lines, err
	}
	if ctx.Err() != nil || !mayNeedPrivilege(err) {
		return nil, err
	}
	r.logger.Debug("Retrying shell batch with privilege", "error", err)
	return r.runOnce(ctx, true, cmds)
}

// Markers of a permission failure in coreutils and busybox messages.
var permissionMessages = []string{"Permission denied", "Operation not permitted"}

func mayNeedPrivilege(err error) bool {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return true
	}
	for _, line := range exitErr.Stderr {
		for _, msg := range permissionMessages {
			if strings.Contains(line, msg) {
				return true
			}
		}
	}
	return false
}

// maxSessionSwaps bounds how often a batch chases a session that another
// caller retired before the batch could acquire it.
const maxSessionSwaps = 3

// stderrSettle bounds the wait for stderr to catch up with stdout after the
// status line.
const stderrSettle = 2 * time.Second

func (r *Runner) acquire(ctx context.Context, privileged bool) (*Session, *Lease, error) {
	for attempt := 0; ; attempt++ {
		s, err := r.shells.Session(ctx, privileged)
		if err != nil {
			return nil, nil, err
		}
		lease, err := s.Acquire(ctx)
		if err == nil {
			return s, lease, nil
		}
		if !errors.Is(err, ErrSessionClosed) || attempt+1 >= maxSessionSwaps {
			return nil, nil, err
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, privileged bool, cmds []Command) ([]string, error) {
	s, lease, err := r.acquire(ctx, privileged)
	if err != nil {
		return nil, err
	}

	fail := func(err error) ([]string, error) {
		lease.Release()
		r.shells.Discard(s)
		return nil, err
	}

	errs := lease.Stderr()
	_ = errs.Drain()

	marker := "__shellfs_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "__"
	w := lease.Writer()
	for _, c := range cmds {
		r.logger.Debug("Shell command", "cmd", c.Text, "privileged", privileged)
		if _, err := w.WriteString(c.Text + "\n"); err != nil {
			return fail(fmt.Errorf("%w: write command: %v", ErrProtocol, err))
		}
	}
	// The marker closes stdout and then stderr, after the status line.
	if _, err := fmt.Fprintf(w, "__shellfs_rc=$?;echo %s;echo $__shellfs_rc;echo %s >&2\n", marker, marker); err != nil {
		return fail(fmt.Errorf("%w: write marker: %v", ErrProtocol, err))
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("%w: flush: %v", ErrProtocol, err))
	}

	rd := lease.Reader()
	lines := make([]string, 0, 16)
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return fail(fmt.Errorf("%w: read output: %v", ErrProtocol, err))
		}
		line = strings.TrimRight(line, "\r\n")
		if line == marker {
			break
		}
		// The last command's output may lack a trailing newline.
		if prefix, ok := strings.CutSuffix(line, marker); ok {
			lines = append(lines, prefix)
			break
		}
		lines = append(lines, line)
	}

	statusLine, err := rd.ReadString('\n')
	if err != nil {
		return fail(fmt.Errorf("%w: read status: %v", ErrProtocol, err))
	}
	status, err := strconv.Atoi(strings.TrimSpace(statusLine))
	if err != nil {
		return fail(fmt.Errorf("%w: bad status line %q", ErrProtocol, statusLine))
	}
	settle, cancel := context.WithTimeout(ctx, stderrSettle)
	stderr := errs.DrainUntil(settle, marker)
	cancel()
	lease.Release()

	if status != 0 {
		return nil, &ExitError{Status: status, Output: lines, Stderr: stderr}
	}
	return lines, nil
}

// Succeeded runs cmds and reports only whether the batch succeeded.
func (r *Runner) Succeeded(ctx context.Context, cmds ...Command) bool {
	_, err := r.Run(ctx, cmds...)
	return err == nil
}

// IsExit reports whether err is a nonzero exit status rather than a
// transport failure.
func IsExit(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}
