package service

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/choraleia/shellfs/pkg/config"
	"github.com/choraleia/shellfs/pkg/event"
	"github.com/choraleia/shellfs/pkg/service/fs"
	"github.com/choraleia/shellfs/pkg/shell"
)

// newTestRuntime builds a runtime on the direct backend without native
// watching; a local sh backs the shell backend.
func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := &Runtime{
		Config: &config.AppConfig{},
		Logger: logger,
		Events: event.NewEmitter(logger),
		Cache:  fs.NewIdentityCache(),
		Pool:   NewWorkerPool(2),
	}
	rt.Shells = shell.NewManager(shell.NewExecSpawner([]string{"sh"}, []string{"sh"}), logger)
	rt.Runner = shell.NewRunner(rt.Shells, shell.RunnerOptions{}, logger)
	rt.ShellFS = fs.NewShellFileSystem(rt.Runner, rt.Cache, logger)
	var err error
	rt.Resolver, err = fs.NewResolver(fs.BackendDirect, rt.ShellFS, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func newTestFSService(t *testing.T) (*FSService, *Runtime) {
	t.Helper()
	rt := newTestRuntime(t)
	reg, err := NewFSRegistry(rt)
	require.NoError(t, err)
	return NewFSService(reg, rt.Events, rt.Logger), rt
}

// tempTree creates files (ending without "/") and directories (ending in
// "/") under a fresh temp dir and returns its slash path.
func tempTree(t *testing.T, entries ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, e := range entries {
		p := filepath.Join(root, filepath.FromSlash(e))
		if e[len(e)-1] == '/' {
			require.NoError(t, os.MkdirAll(p, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(e), 0o644))
	}
	return filepath.ToSlash(root)
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func recordEvents(t *testing.T, e *event.Emitter) *eventRecorder {
	r := &eventRecorder{}
	off := e.OnAny(func(ev event.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	t.Cleanup(off)
	return r
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventName())
	}
	return out
}

func (r *eventRecorder) has(t *testing.T, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, n := range r.names() {
			if n == name {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond, "waiting for event %s", name)
}
