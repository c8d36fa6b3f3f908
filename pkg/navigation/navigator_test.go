package navigation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choraleia/shellfs/pkg/service/fs"
	"github.com/choraleia/shellfs/pkg/watch"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind, p string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind && e.Path == p {
			n++
		}
	}
	return n
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *eventLog) waitFor(t *testing.T, kind EventKind, p string, times int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.count(kind, p) >= times },
		3*time.Second, 5*time.Millisecond, "waiting for %s on %s", kind, p)
}

// chanBackend is a watch backend driven by the test.
type chanBackend struct {
	events chan fsnotify.Event
	errs   chan error
	once   sync.Once
}

func newChanBackend() *chanBackend {
	return &chanBackend{events: make(chan fsnotify.Event, 16), errs: make(chan error)}
}

func (b *chanBackend) Add(string) error              { return nil }
func (b *chanBackend) Remove(string) error           { return nil }
func (b *chanBackend) Events() <-chan fsnotify.Event { return b.events }
func (b *chanBackend) Errors() <-chan error          { return b.errs }
func (b *chanBackend) Close() error {
	b.once.Do(func() { close(b.events); close(b.errs) })
	return nil
}

// blockingResolver stalls Resolve for blocked paths until the scan is cancelled.
type blockingResolver struct {
	Resolver
	blocked string
}

func (r *blockingResolver) Resolve(ctx context.Context, p string) (fs.FileHandle, error) {
	if p == r.blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.Resolver.Resolve(ctx, p)
}

type fixture struct {
	nav     *Navigator
	log     *eventLog
	backend *chanBackend
	root    string
}

func newFixture(t *testing.T, opts Options, wrap func(Resolver) Resolver) *fixture {
	t.Helper()
	r, err := fs.NewResolver(fs.BackendDirect, nil, nil)
	require.NoError(t, err)
	var res Resolver = r
	if wrap != nil {
		res = wrap(res)
	}
	b := newChanBackend()
	mux := watch.New(b, nil)
	t.Cleanup(func() { _ = mux.Close() })

	nav := New(res, mux, opts)
	t.Cleanup(nav.Close)
	log := &eventLog{}
	nav.Subscribe(log.listen)
	return &fixture{nav: nav, log: log, backend: b, root: filepath.ToSlash(t.TempDir())}
}

func (f *fixture) mkdir(t *testing.T, rel string) string {
	t.Helper()
	p := f.root + "/" + rel
	require.NoError(t, os.MkdirAll(filepath.FromSlash(p), 0o755))
	return p
}

func (f *fixture) visit(t *testing.T, p string, record bool) {
	t.Helper()
	before := f.log.count(ScanCompleted, p)
	require.True(t, f.nav.Navigate(p, record))
	f.log.waitFor(t, ScanCompleted, p, before+1)
}

func TestNavigator_NavigateIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	a := f.mkdir(t, "a")

	f.visit(t, a, true)
	events := f.log.len()

	assert.False(t, f.nav.Navigate(a, true))
	assert.False(t, f.nav.Navigate(a+"/", false))
	assert.Empty(t, f.nav.History())
	assert.Equal(t, events, f.log.len())
	assert.Equal(t, Idle, f.nav.State())
}

func TestNavigator_ScanSortsEntries(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.FromSlash(f.root), "B.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.FromSlash(f.root), "a.txt"), nil, 0o644))
	f.mkdir(t, "zdir")
	require.NoError(t, os.WriteFile(filepath.Join(filepath.FromSlash(f.root), ".hidden"), nil, 0o644))

	f.visit(t, f.root, false)
	var names []string
	for _, e := range f.nav.Entries() {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"zdir", "a.txt", "B.txt"}, names)
}

func TestNavigator_HistoryIsBounded(t *testing.T) {
	f := newFixture(t, Options{HistorySize: 3}, nil)
	var dirs []string
	for _, name := range []string{"d1", "d2", "d3", "d4", "d5"} {
		dirs = append(dirs, f.mkdir(t, name))
	}
	for _, d := range dirs {
		f.visit(t, d, true)
	}
	assert.Equal(t, dirs[1:4], f.nav.History())
	assert.Equal(t, dirs[4], f.nav.Current())
	assert.Equal(t, dirs[3], f.nav.Previous())
}

func TestNavigator_BackSkipsMissingEntries(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	a, b, c := f.mkdir(t, "a"), f.mkdir(t, "b"), f.mkdir(t, "c")
	f.visit(t, a, true)
	f.visit(t, b, true)
	f.visit(t, c, true)
	require.Equal(t, []string{a, b}, f.nav.History())

	require.NoError(t, os.Remove(filepath.FromSlash(b)))
	assert.True(t, f.nav.Back(context.Background()))
	assert.Equal(t, a, f.nav.Current())
	assert.Empty(t, f.nav.History())
	f.log.waitFor(t, ScanCompleted, a, 2)

	assert.False(t, f.nav.Back(context.Background()))
	assert.Equal(t, a, f.nav.Current())
}

func TestNavigator_Up(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	sub := f.mkdir(t, "x/y")
	f.visit(t, sub, false)

	assert.True(t, f.nav.Up())
	assert.Equal(t, f.root+"/x", f.nav.Current())
	assert.Equal(t, []string{sub}, f.nav.History())

	f.visit(t, "/", false)
	assert.False(t, f.nav.Up())
	assert.Equal(t, "/", f.nav.Current())
}

func TestParentOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/srv/share/docs", "/srv/share"},
		{"/srv", "/"},
		{"/with space/x", "/with space"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parentOf(tt.in), tt.in)
	}
}

func TestNavigator_FailedScan(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	missing := f.root + "/nope"

	require.True(t, f.nav.Navigate(missing, false))
	f.log.waitFor(t, ScanFailed, missing, 1)
	assert.Equal(t, Failed, f.nav.State())
	assert.ErrorIs(t, f.nav.Err(), ErrNotFound)
	assert.Empty(t, f.nav.Entries())
}

func TestNavigator_CancelRevertsToPrevious(t *testing.T) {
	var br *blockingResolver
	f := newFixture(t, Options{}, func(r Resolver) Resolver {
		br = &blockingResolver{Resolver: r}
		return br
	})
	a := f.mkdir(t, "a")
	slow := f.mkdir(t, "slow")
	br.blocked = slow
	f.visit(t, a, true)

	require.True(t, f.nav.Navigate(slow, true))
	require.Eventually(t, func() bool { return f.nav.State() == Scanning }, time.Second, 5*time.Millisecond)
	assert.True(t, f.nav.Cancel())
	f.log.waitFor(t, ScanCancelled, slow, 1)

	assert.Equal(t, Cancelled, f.nav.State())
	assert.Equal(t, a, f.nav.Current())
	assert.Equal(t, []string{a}, f.nav.History())
	assert.False(t, f.nav.Cancel())
}

func TestNavigator_SelfDeleteMovesToParent(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	sub := f.mkdir(t, "sub")
	f.visit(t, sub, false)

	require.NoError(t, os.Remove(filepath.FromSlash(sub)))
	f.backend.events <- fsnotify.Event{Name: sub, Op: fsnotify.Remove}

	f.log.waitFor(t, ScanCompleted, f.root, 1)
	assert.Equal(t, f.root, f.nav.Current())
	assert.Equal(t, []string{sub}, f.nav.History())
}

func TestNavigator_DebouncedInvalidation(t *testing.T) {
	f := newFixture(t, Options{InvalidateDelay: 50 * time.Millisecond}, nil)
	f.visit(t, f.root, false)

	for i := 0; i < 5; i++ {
		f.backend.events <- fsnotify.Event{Name: f.root + "/file", Op: fsnotify.Create}
	}
	f.log.waitFor(t, Invalidated, f.root, 1)
	f.log.waitFor(t, ScanCompleted, f.root, 2)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, f.log.count(Invalidated, f.root))

	// Events for entries outside the current directory are ignored.
	f.backend.events <- fsnotify.Event{Name: "/elsewhere/file", Op: fsnotify.Create}
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, f.log.count(Invalidated, f.root))
}

func TestNavigator_ManualInvalidate(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.visit(t, f.root, false)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.FromSlash(f.root), "new"), nil, 0o644))

	f.nav.Invalidate()
	f.log.waitFor(t, ScanCompleted, f.root, 2)
	require.Len(t, f.nav.Entries(), 1)
	assert.Equal(t, "new", f.nav.Entries()[0].Name())
}

func TestNavigator_ClosedIsInert(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.nav.Close()
	f.nav.Close()
	assert.False(t, f.nav.Navigate(f.root, true))
	assert.Empty(t, f.nav.Current())
}
