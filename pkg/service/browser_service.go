package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/choraleia/shellfs/pkg/event"
	"github.com/choraleia/shellfs/pkg/navigation"
	"github.com/choraleia/shellfs/pkg/service/fs"
)

const (
	// DefaultIdleTimeout is how long a session can go unused before it is closed.
	DefaultIdleTimeout = 30 * time.Minute
	// MaxBrowserSessions bounds the number of concurrently open sessions.
	MaxBrowserSessions = 64
)

var (
	ErrSessionNotFound = errors.New("browser session not found")
	ErrTooManySessions = errors.New("too many browser sessions")
)

// BrowserSession is one navigator with its bookkeeping.
type BrowserSession struct {
	ID        string
	Backend   fs.Backend
	CreatedAt time.Time

	nav *navigation.Navigator

	mu             sync.Mutex
	lastActivityAt time.Time
}

func (b *BrowserSession) touch() {
	b.mu.Lock()
	b.lastActivityAt = time.Now()
	b.mu.Unlock()
}

func (b *BrowserSession) idleFor(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastActivityAt)
}

// BrowserView is the serializable state of a session.
type BrowserView struct {
	ID        string           `json:"id"`
	Backend   fs.Backend       `json:"backend"`
	CreatedAt time.Time        `json:"created_at"`
	Current   string           `json:"current"`
	Previous  string           `json:"previous,omitempty"`
	State     navigation.State `json:"state"`
	History   []string         `json:"history"`
	Entries   []fs.FileEntry   `json:"entries"`
	Error     string           `json:"error,omitempty"`
}

// OpenOptions configure a new session. Zero values fall back to the config.
type OpenOptions struct {
	Path       string     `json:"path"`
	Backend    fs.Backend `json:"backend"`
	ShowHidden *bool      `json:"show_hidden"`
}

// BrowserService manages directory-browsing sessions. Navigator transitions
// are relayed to the event emitter as browser.* events.
type BrowserService struct {
	rt     *Runtime
	reg    *FSRegistry
	events *event.Emitter
	logger *slog.Logger

	mu          sync.RWMutex
	sessions    map[string]*BrowserSession
	idleTimeout time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func NewBrowserService(rt *Runtime, reg *FSRegistry) *BrowserService {
	s := &BrowserService{
		rt:          rt,
		reg:         reg,
		events:      rt.Events,
		logger:      rt.Logger.With("component", "browser"),
		sessions:    make(map[string]*BrowserSession),
		idleTimeout: DefaultIdleTimeout,
		stopCleanup: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Open creates a session and starts navigating to its first location.
func (s *BrowserService) Open(opts OpenOptions) (BrowserView, error) {
	res, err := s.reg.Open(opts.Backend)
	if err != nil {
		return BrowserView{}, err
	}
	start := opts.Path
	if start == "" {
		start = s.startPath()
	}
	if start, err = cleanAbs(start); err != nil {
		return BrowserView{}, err
	}
	showHidden := s.rt.Config.ShowHidden()
	if opts.ShowHidden != nil {
		showHidden = *opts.ShowHidden
	}

	s.mu.Lock()
	if len(s.sessions) >= MaxBrowserSessions {
		s.mu.Unlock()
		return BrowserView{}, ErrTooManySessions
	}
	id := uuid.NewString()
	nav := navigation.New(res, s.rt.Watches, navigation.Options{
		HistorySize:     s.rt.Config.HistorySize(),
		InvalidateDelay: s.rt.Config.InvalidateDelay(),
		ShowHidden:      showHidden,
		Executor:        s.rt.Pool,
		Logger:          s.logger.With("session", id),
	})
	now := time.Now()
	sess := &BrowserSession{ID: id, Backend: res.Backend(), CreatedAt: now, nav: nav, lastActivityAt: now}
	s.sessions[id] = sess
	s.mu.Unlock()

	nav.Subscribe(func(e navigation.Event) {
		s.events.Emit(event.BrowserEvent{
			SessionID: id,
			Kind:      e.Kind.String(),
			Path:      e.Path,
			Previous:  e.Previous,
			Entries:   e.Entries,
			Error:     e.Error,
		})
	})
	s.events.Emit(event.BrowserOpenedEvent{SessionID: id, Path: start})
	s.logger.Info("Browser session opened", "session", id, "path", start, "backend", res.Backend())

	nav.Navigate(start, false)
	return s.view(sess), nil
}

// startPath is the configured start location, else the home directory.
func (s *BrowserService) startPath() string {
	if p := s.rt.Config.StartPath(); p != "" {
		return p
	}
	if s.rt.sshClient == nil {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.ToSlash(home)
		}
	}
	return "/"
}

func (s *BrowserService) session(id string) (*BrowserSession, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	sess.touch()
	return sess, nil
}

func (s *BrowserService) view(sess *BrowserSession) BrowserView {
	snap := sess.nav.Snapshot()
	v := BrowserView{
		ID:        sess.ID,
		Backend:   sess.Backend,
		CreatedAt: sess.CreatedAt,
		Current:   snap.Current,
		Previous:  snap.Previous,
		State:     snap.State,
		History:   snap.History,
		Entries:   make([]fs.FileEntry, 0, len(snap.Entries)),
		Error:     snap.Error,
	}
	if v.History == nil {
		v.History = []string{}
	}
	for _, h := range snap.Entries {
		v.Entries = append(v.Entries, fs.Snapshot(h))
	}
	return v
}

// Get returns the current state of session id.
func (s *BrowserService) Get(id string) (BrowserView, error) {
	sess, err := s.session(id)
	if err != nil {
		return BrowserView{}, err
	}
	return s.view(sess), nil
}

// List returns every open session without entries.
func (s *BrowserService) List() []BrowserView {
	s.mu.RLock()
	sessions := make([]*BrowserSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	out := make([]BrowserView, 0, len(sessions))
	for _, sess := range sessions {
		v := s.view(sess)
		v.Entries = nil
		out = append(out, v)
	}
	return out
}

// Navigate moves session id to p. It reports false when p is already current.
func (s *BrowserService) Navigate(id, p string, record bool) (bool, error) {
	sess, err := s.session(id)
	if err != nil {
		return false, err
	}
	if p, err = cleanAbs(p); err != nil {
		return false, err
	}
	return sess.nav.Navigate(p, record), nil
}

func (s *BrowserService) Back(ctx context.Context, id string) (bool, error) {
	sess, err := s.session(id)
	if err != nil {
		return false, err
	}
	return sess.nav.Back(ctx), nil
}

func (s *BrowserService) Up(id string) (bool, error) {
	sess, err := s.session(id)
	if err != nil {
		return false, err
	}
	return sess.nav.Up(), nil
}

func (s *BrowserService) Invalidate(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	sess.nav.Invalidate()
	return nil
}

func (s *BrowserService) Cancel(id string) (bool, error) {
	sess, err := s.session(id)
	if err != nil {
		return false, err
	}
	return sess.nav.Cancel(), nil
}

// CloseSession stops and forgets session id.
func (s *BrowserService) CloseSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	sess.nav.Close()
	s.events.Emit(event.BrowserClosedEvent{SessionID: id})
	s.logger.Info("Browser session closed", "session", id)
	return nil
}

// Close stops the idle reaper and closes every session.
func (s *BrowserService) Close() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		_ = s.CloseSession(id)
	}
}

// cleanupLoop periodically closes idle sessions.
func (s *BrowserService) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupIdleSessions(time.Now())
		}
	}
}

func (s *BrowserService) cleanupIdleSessions(now time.Time) {
	s.mu.RLock()
	var toClose []string
	for id, sess := range s.sessions {
		if idle := sess.idleFor(now); idle > s.idleTimeout {
			toClose = append(toClose, id)
			s.logger.Info("Browser session idle timeout", "session", id, "idle", idle)
		}
	}
	s.mu.RUnlock()

	for _, id := range toClose {
		_ = s.CloseSession(id)
	}
}
