package shell

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSpawn matches every failure to start an interpreter.
	ErrSpawn = errors.New("shell: interpreter could not be started")
	// ErrProtocol matches nonzero exit statuses and stream I/O failures during a batch.
	ErrProtocol = errors.New("shell: command batch failed")
	// ErrSessionClosed is returned when the session was closed while a batch was using it.
	ErrSessionClosed = errors.New("shell: session closed")
)

// SpawnError reports an interpreter that could not be started.
type SpawnError struct {
	Argv       []string
	Privileged bool
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q (privileged=%t): %v", strings.Join(e.Argv, " "), e.Privileged, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// ExitError reports a batch whose last command exited with a nonzero status.
type ExitError struct {
	Status int
	Output []string
	Stderr []string
}

func (e *ExitError) Error() string {
	if len(e.Stderr) > 0 {
		return fmt.Sprintf("exit status %d: %s", e.Status, strings.Join(e.Stderr, "; "))
	}
	return fmt.Sprintf("exit status %d", e.Status)
}

func (e *ExitError) Is(target error) bool { return target == ErrProtocol }

// UsageError is raised (as a panic value) when a caller breaks the stream
// hand-off discipline of a Session. It signals a bug in the caller.
type UsageError struct {
	Op     string
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("shell: %s: %s", e.Op, e.Reason)
}

func usage(op, reason string) {
	panic(&UsageError{Op: op, Reason: reason})
}
