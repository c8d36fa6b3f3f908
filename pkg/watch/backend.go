package watch

import (
	"github.com/fsnotify/fsnotify"
)

// Backend is a source of native change notifications for individual paths.
type Backend interface {
	Add(path string) error
	Remove(path string) error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

type fsnotifyBackend struct {
	w *fsnotify.Watcher
}

// NewFSNotifyBackend returns a Backend over the platform notifier.
func NewFSNotifyBackend() (Backend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsnotifyBackend{w: w}, nil
}

func (b *fsnotifyBackend) Add(path string) error         { return b.w.Add(path) }
func (b *fsnotifyBackend) Remove(path string) error      { return b.w.Remove(path) }
func (b *fsnotifyBackend) Events() <-chan fsnotify.Event { return b.w.Events }
func (b *fsnotifyBackend) Errors() <-chan error          { return b.w.Errors }
func (b *fsnotifyBackend) Close() error                  { return b.w.Close() }
