package shell

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Manager keeps at most one live Session. Asking for a different privilege
// level than the live session's retires it once its current lease is returned
// and spawns a replacement, so callers must fetch the session per batch and
// never hold on to it.
type Manager struct {
	spawner Spawner
	logger  *slog.Logger

	mu      sync.Mutex
	current *Session
}

func NewManager(spawner Spawner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{spawner: spawner, logger: logger}
}

// Session returns the live session for the requested privilege level,
// spawning one when needed. A live session of the other level is never closed
// under a batch: Session waits until it can take the session's lease itself.
func (m *Manager) Session(ctx context.Context, privileged bool) (*Session, error) {
	for {
		m.mu.Lock()
		s := m.current
		switch {
		case s != nil && s.Alive() && s.Privileged() == privileged:
			m.mu.Unlock()
			return s, nil
		case s == nil || !s.Alive():
			if s != nil {
				_ = s.Close()
				m.current = nil
			}
			fresh, err := m.spawnLocked(ctx, privileged)
			m.mu.Unlock()
			return fresh, err
		}
		m.mu.Unlock()

		if err := m.retire(ctx, s); err != nil {
			return nil, err
		}
	}
}

// retire closes s once no lease on it is outstanding.
func (m *Manager) retire(ctx context.Context, s *Session) error {
	m.logger.Debug("Waiting to replace shell session", "privileged", s.Privileged())
	// The lease taken here is never returned; s is closed for good.
	if _, err := s.Acquire(ctx); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			// Someone else retired it first.
			return nil
		}
		return err
	}
	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()
	_ = s.Close()
	return nil
}

func (m *Manager) spawnLocked(ctx context.Context, privileged bool) (*Session, error) {
	proc, err := m.spawner.Spawn(ctx, privileged)
	if err != nil {
		m.logger.Warn("Failed to spawn shell", "privileged", privileged, "error", err)
		return nil, err
	}
	m.current = NewSession(proc, privileged, m.logger)
	m.logger.Debug("Shell session started", "privileged", privileged)
	return m.current, nil
}

// Discard closes s if it is still the live session. Used after protocol
// failures, when the interpreter's stream position can no longer be trusted.
func (m *Manager) Discard(s *Session) {
	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()
	_ = s.Close()
}

// Close terminates the live session, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
