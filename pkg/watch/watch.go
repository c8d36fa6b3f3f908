// Package watch shares one native watch per path among any number of
// logical subscribers.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Kind is a bit set of event kinds.
type Kind uint32

const (
	Create Kind = 1 << iota
	Delete
	Modify
	Attrib
	DeleteSelf
	MovedFrom
	MovedTo
	MoveSelf
)

const (
	// Structural covers changes to the set of entries of a directory and to
	// the directory itself.
	Structural = Create | Delete | MovedFrom | MovedTo | DeleteSelf | MoveSelf
	All        = Structural | Modify | Attrib
)

var kindNames = []struct {
	k    Kind
	name string
}{
	{Create, "create"}, {Delete, "delete"}, {Modify, "modify"}, {Attrib, "attrib"},
	{DeleteSelf, "delete-self"}, {MovedFrom, "moved-from"}, {MovedTo, "moved-to"}, {MoveSelf, "move-self"},
}

func (k Kind) String() string {
	var parts []string
	for _, n := range kindNames {
		if k&n.k != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is delivered to subscribers. Path is always the watched path; Name
// is whatever the OS reported and only informational.
type Event struct {
	Kind Kind
	Path string
	Name string
}

// Subscriber receives events synchronously on the dispatch goroutine.
// Implementations must be comparable; pointer receivers are the usual choice.
type Subscriber interface {
	OnWatchEvent(Event)
}

var ErrClosed = errors.New("watch: multiplexer closed")

// Multiplexer maps paths to shared native watches.
type Multiplexer struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

type entry struct {
	path   string
	subs   map[Subscriber]Kind
	active int
	armed  bool
}

func (e *entry) idle() bool { return len(e.subs) == 0 && e.active == 0 }

// New starts a multiplexer over backend.
func New(backend Backend, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multiplexer{
		backend: backend,
		logger:  logger,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// NewNative starts a multiplexer over fsnotify.
func NewNative(logger *slog.Logger) (*Multiplexer, error) {
	b, err := NewFSNotifyBackend()
	if err != nil {
		return nil, fmt.Errorf("create native watcher: %w", err)
	}
	return New(b, logger), nil
}

// Watch returns the shared watch for p. Subscribers attached through it only
// see kinds in mask.
func (m *Multiplexer) Watch(p string, mask Kind) *Watch {
	return &Watch{m: m, path: cleanPath(p), mask: mask}
}

// Len returns the number of live entries.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops dispatching and releases the native watcher.
func (m *Multiplexer) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.entries = make(map[string]*entry)
		m.mu.Unlock()
		err = m.backend.Close()
		<-m.done
	})
	return err
}

// entryLocked returns the entry for p, creating it if needed.
func (m *Multiplexer) entryLocked(p string) *entry {
	e, ok := m.entries[p]
	if !ok {
		e = &entry{path: p, subs: make(map[Subscriber]Kind)}
		m.entries[p] = e
	}
	return e
}

func (m *Multiplexer) releaseLocked(e *entry) {
	if e.idle() && m.entries[e.path] == e {
		delete(m.entries, e.path)
	}
}

func (m *Multiplexer) dispatch() {
	defer close(m.done)
	events, errs := m.backend.Events(), m.backend.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.route(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.logger.Warn("Native watch error", "error", err)
		}
	}
}

type delivery struct {
	sub Subscriber
	ev  Event
}

// route translates one native event into per-watch events: the path itself
// when it is watched, and its parent directory when that is watched.
func (m *Multiplexer) route(ev fsnotify.Event) {
	name := cleanPath(ev.Name)
	parent := path.Dir(name)

	var out []delivery
	m.mu.Lock()
	if self, ok := m.entries[name]; ok {
		out = appendDeliveries(out, self, selfKind(ev.Op), ev.Name)
	}
	if name != parent {
		if dir, ok := m.entries[parent]; ok {
			out = appendDeliveries(out, dir, childKind(ev.Op), ev.Name)
		}
	}
	m.mu.Unlock()

	for _, d := range out {
		d.sub.OnWatchEvent(d.ev)
	}
}

func appendDeliveries(out []delivery, e *entry, k Kind, name string) []delivery {
	if k == 0 {
		return out
	}
	for sub, mask := range e.subs {
		if got := k & mask; got != 0 {
			out = append(out, delivery{sub: sub, ev: Event{Kind: got, Path: e.path, Name: name}})
		}
	}
	return out
}

// selfKind maps an event on the watched path itself.
func selfKind(op fsnotify.Op) Kind {
	var k Kind
	if op.Has(fsnotify.Remove) {
		k |= DeleteSelf
	}
	if op.Has(fsnotify.Rename) {
		k |= MoveSelf
	}
	if op.Has(fsnotify.Write) {
		k |= Modify
	}
	if op.Has(fsnotify.Chmod) {
		k |= Attrib
	}
	return k
}

// childKind maps an event on an entry of a watched directory. A rename into
// the directory is reported by the notifier as a create.
func childKind(op fsnotify.Op) Kind {
	var k Kind
	if op.Has(fsnotify.Create) {
		k |= Create
	}
	if op.Has(fsnotify.Remove) {
		k |= Delete
	}
	if op.Has(fsnotify.Rename) {
		k |= MovedFrom
	}
	if op.Has(fsnotify.Write) {
		k |= Modify
	}
	if op.Has(fsnotify.Chmod) {
		k |= Attrib
	}
	return k
}

// Watch is a view of the shared entry for one path.
type Watch struct {
	m    *Multiplexer
	path string
	mask Kind
}

func (w *Watch) Path() string { return w.path }

// Subscribe adds s to the subscriber set. Adding a subscriber twice keeps
// one membership with the latest mask.
func (w *Watch) Subscribe(s Subscriber) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.m.closed {
		return
	}
	w.m.entryLocked(w.path).subs[s] = w.mask
}

func (w *Watch) Unsubscribe(s Subscriber) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	e, ok := w.m.entries[w.path]
	if !ok {
		return
	}
	delete(e.subs, s)
	w.m.releaseLocked(e)
}

// Start takes a reference on the native watch, arming it on the first one.
func (w *Watch) Start() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.m.closed {
		return ErrClosed
	}
	e := w.m.entryLocked(w.path)
	if e.active == 0 && !e.armed {
		if err := w.m.backend.Add(w.path); err != nil {
			w.m.releaseLocked(e)
			return fmt.Errorf("watch %s: %w", w.path, err)
		}
		e.armed = true
		w.m.logger.Debug("Armed native watch", "path", w.path)
	}
	e.active++
	return nil
}

// Stop drops a reference, disarming the native watch on the last one. Extra
// calls are ignored.
func (w *Watch) Stop() {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	e, ok := w.m.entries[w.path]
	if !ok || e.active == 0 {
		return
	}
	e.active--
	if e.active == 0 && e.armed {
		e.armed = false
		if err := w.m.backend.Remove(w.path); err != nil {
			// The notifier drops watches on deleted paths by itself.
			w.m.logger.Debug("Removing native watch", "path", w.path, "error", err)
		} else {
			w.m.logger.Debug("Disarmed native watch", "path", w.path)
		}
	}
	w.m.releaseLocked(e)
}

// Active returns the current reference count.
func (w *Watch) Active() int {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if e, ok := w.m.entries[w.path]; ok {
		return e.active
	}
	return 0
}

// Armed reports whether the native watch is in place.
func (w *Watch) Armed() bool {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	e, ok := w.m.entries[w.path]
	return ok && e.armed
}

func cleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return "/"
	}
	return path.Clean(p)
}
