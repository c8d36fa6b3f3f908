// Package shell runs file commands through one long-lived command interpreter
// shared by many concurrent callers.
package shell

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
)

const stderrTailLines = 256

// Session owns exactly one interpreter process. Its streams are handed out
// through a Lease: acquiring a lease claims the interpreter's stdin, and only
// the lease holder may then claim stdout and stderr. The session becomes
// available again once every stream of the lease has been released.
type Session struct {
	proc       Process
	privileged bool
	logger     *slog.Logger

	writer *bufio.Writer
	reader *bufio.Reader
	errs   *stderrTail

	// slot holds a token while no lease is outstanding.
	slot chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	cleanup   runtime.Cleanup
}

// NewSession wraps a started interpreter.
func NewSession(proc Process, privileged bool, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		proc:       proc,
		privileged: privileged,
		logger:     logger,
		writer:     bufio.NewWriter(proc.Stdin()),
		reader:     bufio.NewReader(proc.Stdout()),
		errs:       newStderrTail(stderrTailLines),
		slot:       make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
	s.slot <- struct{}{}
	go s.errs.drain(proc.Stderr())

	// Safety net for sessions dropped without Close.
	s.cleanup = runtime.AddCleanup(s, func(p Process) { _ = p.Close() }, proc)
	return s
}

// Privileged reports whether the interpreter runs elevated.
func (s *Session) Privileged() bool { return s.privileged }

// Alive reports whether the session is open and its interpreter still running.
func (s *Session) Alive() bool {
	select {
	case <-s.closed:
		return false
	case <-s.proc.Done():
		return false
	default:
		return true
	}
}

// Acquire blocks until no other caller holds any stream of the session and
// returns a lease holding the interpreter's stdin.
func (s *Session) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case <-s.closed:
		return nil, ErrSessionClosed
	default:
	}
	select {
	case <-s.slot:
		return &Lease{s: s, writer: true}, nil
	case <-s.closed:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the streams and terminates the interpreter. It is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cleanup.Stop()
		err = s.proc.Close()
		s.logger.Debug("Shell session closed", "privileged", s.privileged)
	})
	return err
}

// Lease is one caller's claim on a Session's streams.
type Lease struct {
	s *Session

	mu       sync.Mutex
	writer   bool
	reader   bool
	errs     bool
	returned bool
}

// Writer returns the interpreter's stdin.
func (l *Lease) Writer() *bufio.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.writer {
		usage("Writer", "stdin is not held by this lease")
	}
	return l.s.writer
}

// Reader claims the interpreter's stdout. Stdin must still be held.
func (l *Lease) Reader() *bufio.Reader {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.writer {
		usage("Reader", "stdin must be held before claiming stdout")
	}
	if l.reader {
		usage("Reader", "stdout already held")
	}
	l.reader = true
	return l.s.reader
}

// Stderr claims the interpreter's stderr. Stdin must still be held.
func (l *Lease) Stderr() *StderrTail {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.writer {
		usage("Stderr", "stdin must be held before claiming stderr")
	}
	if l.errs {
		usage("Stderr", "stderr already held")
	}
	l.errs = true
	return &StderrTail{t: l.s.errs}
}

func (l *Lease) ReleaseWriter() { l.release(&l.writer) }
func (l *Lease) ReleaseReader() { l.release(&l.reader) }
func (l *Lease) ReleaseStderr() { l.release(&l.errs) }

// Release drops every stream still held.
func (l *Lease) Release() {
	l.mu.Lock()
	l.writer, l.reader, l.errs = false, false, false
	l.returnLocked()
	l.mu.Unlock()
}

func (l *Lease) release(flag *bool) {
	l.mu.Lock()
	*flag = false
	if !l.writer && !l.reader && !l.errs {
		l.returnLocked()
	}
	l.mu.Unlock()
}

func (l *Lease) returnLocked() {
	if l.returned {
		return
	}
	l.returned = true
	l.s.slot <- struct{}{}
}

// StderrTail gives access to the interpreter's stderr, which is drained
// continuously in the background so the interpreter never blocks on it.
type StderrTail struct {
	t *stderrTail
}

// Drain returns and forgets the stderr lines collected so far.
func (e *StderrTail) Drain() []string { return e.t.take() }

// DrainUntil waits for a line equal to marker and returns the lines collected
// before it, forgetting both. It returns early with what it has when stderr
// reaches EOF or ctx is done.
func (e *StderrTail) DrainUntil(ctx context.Context, marker string) []string {
	return e.t.takeUntil(ctx, marker)
}

type stderrTail struct {
	mu    sync.Mutex
	max   int
	lines []string
	// changed is closed and replaced on every new line and at EOF.
	changed chan struct{}
	eof     bool
}

func newStderrTail(max int) *stderrTail {
	return &stderrTail{max: max, changed: make(chan struct{})}
}

func (t *stderrTail) drain(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		t.mu.Lock()
		if len(t.lines) >= t.max {
			t.lines = t.lines[1:]
		}
		t.lines = append(t.lines, sc.Text())
		t.signalLocked()
		t.mu.Unlock()
	}
	t.mu.Lock()
	t.eof = true
	t.signalLocked()
	t.mu.Unlock()
}

func (t *stderrTail) signalLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *stderrTail) take() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.lines
	t.lines = nil
	return out
}

func (t *stderrTail) takeUntil(ctx context.Context, marker string) []string {
	for {
		t.mu.Lock()
		for i, line := range t.lines {
			// Output lacking a trailing newline shares the marker's line.
			if prefix, ok := strings.CutSuffix(line, marker); ok {
				out := append([]string(nil), t.lines[:i]...)
				if prefix != "" {
					out = append(out, prefix)
				}
				t.lines = t.lines[i+1:]
				t.mu.Unlock()
				return out
			}
		}
		if t.eof {
			out := t.lines
			t.lines = nil
			t.mu.Unlock()
			return out
		}
		changed := t.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return t.take()
		}
	}
}
