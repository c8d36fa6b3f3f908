// Package navigation drives directory browsing: current location, bounded
// history, background scans and live invalidation from directory watches.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/choraleia/shellfs/pkg/service/fs"
	"github.com/choraleia/shellfs/pkg/watch"
)

const (
	DefaultHistorySize     = 20
	DefaultInvalidateDelay = 300 * time.Millisecond
)

var ErrNotFound = errors.New("navigation: path does not exist")

// Resolver turns paths into file handles. *fs.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, p string) (fs.FileHandle, error)
}

// Executor runs scans in the background.
type Executor interface {
	Go(ctx context.Context, fn func(context.Context)) error
}

type goExecutor struct{}

func (goExecutor) Go(ctx context.Context, fn func(context.Context)) error {
	go fn(ctx)
	return nil
}

type Options struct {
	HistorySize     int
	InvalidateDelay time.Duration
	ShowHidden      bool
	// Executor defaults to one goroutine per scan.
	Executor Executor
	Logger   *slog.Logger
}

// Navigator is the browsing state machine. All state is owned by one
// goroutine; public methods hand work to it and wait for the result.
type Navigator struct {
	resolver Resolver
	mux      *watch.Multiplexer
	opts     Options
	logger   *slog.Logger
	debounce func(func())

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	current, previous string
	history           []string
	state             State
	entries           []fs.FileHandle
	lastErr           error
	scanSeq           uint64
	scanCancel        context.CancelFunc
	userCancelled     bool
	watch             *watch.Watch
	listeners         []Listener
}

// New creates an idle navigator with no location. mux may be nil, in which
// case nothing is watched.
func New(resolver Resolver, mux *watch.Multiplexer, opts Options) *Navigator {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.InvalidateDelay <= 0 {
		opts.InvalidateDelay = DefaultInvalidateDelay
	}
	if opts.Executor == nil {
		opts.Executor = goExecutor{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	n := &Navigator{
		resolver: resolver,
		mux:      mux,
		opts:     opts,
		logger:   opts.Logger,
		debounce: debounce.New(opts.InvalidateDelay),
		ops:      make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go n.loop()
	return n
}

func (n *Navigator) loop() {
	defer close(n.done)
	for {
		select {
		case op := <-n.ops:
			op()
		case <-n.quit:
			return
		}
	}
}

// do runs fn on the loop and waits. It reports false once the navigator is closed.
func (n *Navigator) do(fn func()) bool {
	ran := make(chan struct{})
	select {
	case n.ops <- func() { fn(); close(ran) }:
	case <-n.quit:
		return false
	}
	select {
	case <-ran:
		return true
	case <-n.done:
		return false
	}
}

// post queues fn without waiting.
func (n *Navigator) post(fn func()) {
	select {
	case n.ops <- fn:
	case <-n.quit:
	}
}

// Subscribe registers l for all future events.
func (n *Navigator) Subscribe(l Listener) {
	n.do(func() { n.listeners = append(n.listeners, l) })
}

func (n *Navigator) emit(e Event) {
	for _, l := range n.listeners {
		l(e)
	}
}

// Navigate moves to target and starts a scan. It is a no-op when target is
// already the current path. With record set the current path is pushed onto
// the history.
func (n *Navigator) Navigate(target string, record bool) bool {
	target = cleanPath(target)
	var moved bool
	n.do(func() { moved = n.navigateLocked(target, record) })
	return moved
}

func (n *Navigator) navigateLocked(target string, record bool) bool {
	if target == n.current {
		return false
	}
	if record && n.current != "" {
		n.history = append(n.history, n.current)
		if over := len(n.history) - n.opts.HistorySize; over > 0 {
			n.history = append([]string(nil), n.history[over:]...)
		}
	}
	n.previous, n.current = n.current, target
	n.emit(Event{Kind: Navigated, Path: n.current, Previous: n.previous})
	n.startScanLocked()
	return true
}

// Back navigates to the most recent history entry that still exists as a
// directory, dropping the entries it skips. It reports whether it moved.
func (n *Navigator) Back(ctx context.Context) bool {
	hist := n.History()
	found := -1
	for i := len(hist) - 1; i >= 0; i-- {
		h, err := n.resolver.Resolve(ctx, hist[i])
		if err == nil && h.Exists() && h.IsDirectory() {
			found = i
			break
		}
		if ctx.Err() != nil {
			return false
		}
		n.logger.Debug("Skipping history entry", "path", hist[i], "error", err)
	}

	var moved bool
	n.do(func() {
		// Keep entries pushed while the checks ran.
		keep := n.history[min(len(hist), len(n.history)):]
		if found < 0 {
			n.history = append([]string(nil), keep...)
			return
		}
		n.history = append(append([]string(nil), hist[:found]...), keep...)
		moved = n.navigateLocked(hist[found], false)
	})
	return moved
}

// Up navigates to the parent directory, recording history. It is a no-op at
// the root.
func (n *Navigator) Up() bool {
	cur := n.Current()
	if cur == "" || cur == "/" {
		return false
	}
	return n.Navigate(parentOf(cur), true)
}

func parentOf(p string) string { return path.Dir(p) }

// Invalidate rescans the current path.
func (n *Navigator) Invalidate() {
	n.do(n.invalidateLocked)
}

func (n *Navigator) invalidateLocked() {
	if n.current == "" {
		return
	}
	n.emit(Event{Kind: Invalidated, Path: n.current})
	n.startScanLocked()
}

// Cancel stops a scan in progress. The navigator returns to the previous
// path once the scan winds down.
func (n *Navigator) Cancel() bool {
	var cancelled bool
	n.do(func() {
		if n.state != Scanning || n.scanCancel == nil {
			return
		}
		n.userCancelled = true
		n.scanCancel()
		cancelled = true
	})
	return cancelled
}

func (n *Navigator) startScanLocked() {
	if n.scanCancel != nil {
		n.scanCancel()
	}
	n.scanSeq++
	seq, p := n.scanSeq, n.current
	ctx, cancel := context.WithCancel(context.Background())
	n.scanCancel = cancel
	n.userCancelled = false
	n.state = Scanning
	n.emit(Event{Kind: ScanStarted, Path: p})

	err := n.opts.Executor.Go(ctx, func(ctx context.Context) {
		entries, err := n.scan(ctx, p)
		n.post(func() { n.finishScanLocked(seq, p, entries, err) })
	})
	if err != nil {
		n.finishScanLocked(seq, p, nil, err)
	}
}

func (n *Navigator) scan(ctx context.Context, p string) ([]fs.FileHandle, error) {
	h, err := n.resolver.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	if !h.Exists() {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if !h.IsDirectory() {
		return nil, fmt.Errorf("%s: %w", p, fs.ErrNotDirectory)
	}
	entries, err := h.List(ctx, fs.ListOptions{IncludeHidden: n.opts.ShowHidden})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.SortHandles(entries)
	return entries, nil
}

func (n *Navigator) finishScanLocked(seq uint64, p string, entries []fs.FileHandle, err error) {
	if seq != n.scanSeq {
		// Superseded by a newer scan.
		return
	}
	if n.scanCancel != nil {
		n.scanCancel()
		n.scanCancel = nil
	}

	if err != nil && n.userCancelled && errors.Is(err, context.Canceled) {
		n.userCancelled = false
		n.state = Cancelled
		if n.previous != "" {
			n.current = n.previous
		}
		n.emit(Event{Kind: ScanCancelled, Path: p, Previous: n.current})
		return
	}
	if err != nil {
		n.state = Failed
		n.lastErr = err
		n.entries = nil
		n.disarmWatchLocked()
		n.logger.Warn("Directory scan failed", "path", p, "error", err)
		n.emit(Event{Kind: ScanFailed, Path: p, Error: err.Error()})
		return
	}

	n.state = Idle
	n.lastErr = nil
	n.entries = entries
	n.armWatchLocked(p)
	n.emit(Event{Kind: ScanCompleted, Path: p, Entries: len(entries)})
}

// armWatchLocked moves the directory watch to p.
func (n *Navigator) armWatchLocked(p string) {
	if n.mux == nil {
		return
	}
	if n.watch != nil && n.watch.Path() == p {
		return
	}
	n.disarmWatchLocked()
	w := n.mux.Watch(p, watch.Structural)
	w.Subscribe(n)
	if err := w.Start(); err != nil {
		w.Unsubscribe(n)
		n.logger.Debug("Directory watch unavailable", "path", p, "error", err)
		return
	}
	n.watch = w
}

func (n *Navigator) disarmWatchLocked() {
	if n.watch == nil {
		return
	}
	n.watch.Stop()
	n.watch.Unsubscribe(n)
	n.watch = nil
}

// OnWatchEvent implements watch.Subscriber.
func (n *Navigator) OnWatchEvent(e watch.Event) {
	n.post(func() { n.handleWatchLocked(e) })
}

func (n *Navigator) handleWatchLocked(e watch.Event) {
	if n.watch == nil || e.Path != n.watch.Path() || e.Path != n.current {
		return
	}
	if e.Kind&(watch.DeleteSelf|watch.MoveSelf) != 0 {
		n.disarmWatchLocked()
		if n.current != "/" {
			n.navigateLocked(parentOf(n.current), true)
		}
		return
	}
	n.debounce(func() {
		n.post(func() {
			if n.watch != nil && n.watch.Path() == e.Path {
				n.invalidateLocked()
			}
		})
	})
}

func (n *Navigator) Current() string {
	var p string
	n.do(func() { p = n.current })
	return p
}

func (n *Navigator) Previous() string {
	var p string
	n.do(func() { p = n.previous })
	return p
}

func (n *Navigator) State() State {
	var s State
	n.do(func() { s = n.state })
	return s
}

// History returns the history stack, oldest first.
func (n *Navigator) History() []string {
	var h []string
	n.do(func() { h = append([]string(nil), n.history...) })
	return h
}

// Entries returns the result of the last completed scan.
func (n *Navigator) Entries() []fs.FileHandle {
	var e []fs.FileHandle
	n.do(func() { e = append([]fs.FileHandle(nil), n.entries...) })
	return e
}

// Err returns the error of the last failed scan.
func (n *Navigator) Err() error {
	var err error
	n.do(func() { err = n.lastErr })
	return err
}

// Snapshot is a consistent view of the navigator.
type Snapshot struct {
	Current  string          `json:"current"`
	Previous string          `json:"previous"`
	State    State           `json:"state"`
	History  []string        `json:"history"`
	Entries  []fs.FileHandle `json:"-"`
	Error    string          `json:"error,omitempty"`
}

func (n *Navigator) Snapshot() Snapshot {
	var s Snapshot
	n.do(func() {
		s = Snapshot{
			Current:  n.current,
			Previous: n.previous,
			State:    n.state,
			History:  append([]string(nil), n.history...),
			Entries:  append([]fs.FileHandle(nil), n.entries...),
		}
		if n.lastErr != nil {
			s.Error = n.lastErr.Error()
		}
	})
	return s
}

// Close cancels any scan, drops the watch and stops the navigator.
func (n *Navigator) Close() {
	n.closeOnce.Do(func() {
		n.do(func() {
			if n.scanCancel != nil {
				n.scanCancel()
				n.scanCancel = nil
			}
			n.disarmWatchLocked()
			n.listeners = nil
		})
		close(n.quit)
		<-n.done
	})
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	p = path.Clean("/" + p)
	return p
}
