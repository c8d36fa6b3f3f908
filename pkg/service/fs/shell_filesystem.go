package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/choraleia/shellfs/pkg/shell"
)

// CommandRunner executes command batches. *shell.Runner implements it.
type CommandRunner interface {
	Run(ctx context.Context, cmds ...shell.Command) ([]string, error)
}

var _ CommandRunner = (*shell.Runner)(nil)

// ShellFileSystem creates shell-backed handles. Handles are shared through
// the identity cache, so every lookup of a live path yields the same instance.
type ShellFileSystem struct {
	runner CommandRunner
	cache  *IdentityCache
	logger *slog.Logger
}

func NewShellFileSystem(runner CommandRunner, cache *IdentityCache, logger *slog.Logger) *ShellFileSystem {
	if cache == nil {
		cache = NewIdentityCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellFileSystem{runner: runner, cache: cache, logger: logger}
}

func (s *ShellFileSystem) Cache() *IdentityCache { return s.cache }

// Handle returns the cached handle for p or a new one whose metadata has not
// been loaded yet.
func (s *ShellFileSystem) Handle(p string) *ShellHandle {
	p = cleanPath(p)
	if h, ok := s.cache.Get(p); ok {
		return h
	}
	h := &ShellHandle{fs: s, path: p}
	if p == "/" {
		h.meta = rootMeta()
	}
	s.cache.Add(h)
	return h
}

// Stat returns the handle for p with freshly loaded metadata. A path that
// does not exist yields a handle whose Exists reports false.
func (s *ShellFileSystem) Stat(ctx context.Context, p string) (*ShellHandle, error) {
	h := s.Handle(p)
	if err := h.Refresh(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// handleFor returns the cached handle for p updated in place from e, or a new
// registered handle.
func (s *ShellFileSystem) handleFor(p string, e ListingEntry) *ShellHandle {
	if h, ok := s.cache.Get(p); ok {
		h.apply(e)
		return h
	}
	h := &ShellHandle{fs: s, path: p}
	h.apply(e)
	s.cache.Add(h)
	return h
}

func (s *ShellFileSystem) run(ctx context.Context, cmds ...shell.Command) ([]string, error) {
	lines, err := s.runner.Run(ctx, cmds...)
	if err != nil {
		s.logger.Debug("Shell batch failed", "cmd", cmds[len(cmds)-1].Text, "error", err)
	}
	return lines, err
}

// firstEntry parses the single-row listing printed by stat-style commands.
func firstEntry(lines []string) (ListingEntry, error) {
	l := ParseListing(lines)
	if len(l.Entries) == 0 {
		return ListingEntry{}, ErrUnparseableListing
	}
	return l.Entries[0], nil
}

// isMissing reports whether err is a command that ran and failed, as opposed
// to a transport failure.
func isMissing(err error) bool {
	return shell.IsExit(err)
}

func pathError(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}

func trimOutput(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
