package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/choraleia/shellfs/pkg/event"
	"github.com/choraleia/shellfs/pkg/service/fs"
)

var (
	ErrNotFound   = errors.New("no such file or directory")
	ErrInvalidArg = errors.New("invalid argument")
)

// ListDirResponse is the result of listing one directory.
type ListDirResponse struct {
	Path    string         `json:"path"`
	Parent  string         `json:"parent,omitempty"`
	Backend fs.Backend     `json:"backend"`
	Entries []fs.FileEntry `json:"entries"`
}

// FSService provides path-oriented filesystem operations over the registry's
// backends and announces changes on the event emitter.
type FSService struct {
	reg    *FSRegistry
	events *event.Emitter
	logger *slog.Logger
}

func NewFSService(reg *FSRegistry, events *event.Emitter, logger *slog.Logger) *FSService {
	if events == nil {
		events = event.Global()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FSService{reg: reg, events: events, logger: logger}
}

// resolve returns a handle with current metadata for p.
func (s *FSService) resolve(ctx context.Context, b fs.Backend, p string) (fs.FileHandle, error) {
	p, err := cleanAbs(p)
	if err != nil {
		return nil, err
	}
	res, err := s.reg.Open(b)
	if err != nil {
		return nil, err
	}
	return res.Resolve(ctx, p)
}

// existing is resolve plus an existence check.
func (s *FSService) existing(ctx context.Context, b fs.Backend, p string) (fs.FileHandle, error) {
	h, err := s.resolve(ctx, b, p)
	if err != nil {
		return nil, err
	}
	if !h.Exists() {
		return nil, fmt.Errorf("%s: %w", h.Path(), ErrNotFound)
	}
	return h, nil
}

// ListDir lists directory contents, directories first.
func (s *FSService) ListDir(ctx context.Context, b fs.Backend, p string, opts fs.ListOptions) (*ListDirResponse, error) {
	h, err := s.existing(ctx, b, p)
	if err != nil {
		return nil, err
	}
	if !h.IsDirectory() {
		return nil, fmt.Errorf("%s: %w", h.Path(), fs.ErrNotDirectory)
	}
	children, err := h.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	fs.SortHandles(children)

	resp := &ListDirResponse{
		Path:    h.Path(),
		Backend: h.Backend(),
		Entries: make([]fs.FileEntry, 0, len(children)),
	}
	if parent := h.Parent(); parent != nil {
		resp.Parent = parent.Path()
	}
	for _, c := range children {
		resp.Entries = append(resp.Entries, fs.Snapshot(c))
	}
	return resp, nil
}

// Stat returns file/directory info.
func (s *FSService) Stat(ctx context.Context, b fs.Backend, p string) (*fs.FileEntry, error) {
	h, err := s.existing(ctx, b, p)
	if err != nil {
		return nil, err
	}
	entry := fs.Snapshot(h)
	return &entry, nil
}

// Mkdir creates a directory, with missing parents when parents is set.
func (s *FSService) Mkdir(ctx context.Context, b fs.Backend, p string, parents bool) (*fs.FileEntry, error) {
	h, err := s.resolve(ctx, b, p)
	if err != nil {
		return nil, err
	}
	if parents {
		err = h.Mkdirs(ctx)
	} else {
		err = h.Mkdir(ctx)
	}
	if err != nil {
		return nil, err
	}
	s.events.Emit(event.FSCreatedEvent{Path: h.Path(), IsDir: true})
	return s.snapshotAfter(ctx, h)
}

// CreateFile creates an empty file. It fails when p already exists.
func (s *FSService) CreateFile(ctx context.Context, b fs.Backend, p string) (*fs.FileEntry, error) {
	h, err := s.resolve(ctx, b, p)
	if err != nil {
		return nil, err
	}
	if err := h.CreateNewFile(ctx); err != nil {
		return nil, err
	}
	s.events.Emit(event.FSCreatedEvent{Path: h.Path()})
	return s.snapshotAfter(ctx, h)
}

// Remove deletes a file or directory tree.
func (s *FSService) Remove(ctx context.Context, b fs.Backend, p string) error {
	h, err := s.existing(ctx, b, p)
	if err != nil {
		return err
	}
	if h.Path() == "/" {
		return fmt.Errorf("refusing to remove /: %w", ErrInvalidArg)
	}
	if err := h.Delete(ctx); err != nil {
		return err
	}
	s.events.Emit(event.FSDeletedEvent{Path: h.Path()})
	return nil
}

// Move renames from to to.
func (s *FSService) Move(ctx context.Context, b fs.Backend, from, to string) error {
	h, to, err := s.transferPair(ctx, b, from, to)
	if err != nil {
		return err
	}
	if err := h.MoveTo(ctx, to); err != nil {
		return err
	}
	s.events.Emit(event.FSRenamedEvent{OldPath: h.Path(), NewPath: to})
	return nil
}

// Copy copies from to to, recursively for directories.
func (s *FSService) Copy(ctx context.Context, b fs.Backend, from, to string) error {
	h, to, err := s.transferPair(ctx, b, from, to)
	if err != nil {
		return err
	}
	if err := h.CopyTo(ctx, to); err != nil {
		return err
	}
	s.events.Emit(event.FSChangedEvent{Paths: []string{to}})
	return nil
}

func (s *FSService) transferPair(ctx context.Context, b fs.Backend, from, to string) (fs.FileHandle, string, error) {
	h, err := s.existing(ctx, b, from)
	if err != nil {
		return nil, "", err
	}
	to, err = cleanAbs(to)
	if err != nil {
		return nil, "", err
	}
	res, err := s.reg.Open(b)
	if err != nil {
		return nil, "", err
	}
	if fs.Equal(h, res.Handle(to)) {
		return nil, "", fmt.Errorf("source and target are both %s: %w", to, ErrInvalidArg)
	}
	return h, to, nil
}

// Chmod applies a mode given in octal ("755") or symbolic ("rwxr-xr-x") form.
func (s *FSService) Chmod(ctx context.Context, b fs.Backend, p, mode string) (*fs.FileEntry, error) {
	perm, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	h, err := s.existing(ctx, b, p)
	if err != nil {
		return nil, err
	}
	if err := h.ApplyPermissions(ctx, perm); err != nil {
		return nil, err
	}
	s.events.Emit(event.FSChangedEvent{Paths: []string{h.Path()}})
	return s.snapshotAfter(ctx, h)
}

// FSType reports the type of the filesystem holding p.
func (s *FSService) FSType(ctx context.Context, b fs.Backend, p string) (string, error) {
	h, err := s.existing(ctx, b, p)
	if err != nil {
		return "", err
	}
	tp, ok := h.(fs.FSTypeProvider)
	if !ok {
		return "", fmt.Errorf("%s backend cannot report filesystem types", h.Backend())
	}
	return tp.FilesystemType(ctx)
}

func (s *FSService) snapshotAfter(ctx context.Context, h fs.FileHandle) (*fs.FileEntry, error) {
	if err := h.Refresh(ctx); err != nil {
		s.logger.Debug("Refresh after change failed", "path", h.Path(), "error", err)
	}
	entry := fs.Snapshot(h)
	return &entry, nil
}

// ParseMode reads an octal or symbolic permission string.
func ParseMode(mode string) (fs.Permissions, error) {
	mode = strings.TrimSpace(mode)
	if len(mode) == 9 || len(mode) == 10 {
		if len(mode) == 9 {
			mode = "-" + mode
		}
		perm, err := fs.ParsePermissions(mode)
		if err != nil {
			return fs.Permissions{}, fmt.Errorf("%w: %v", ErrInvalidArg, err)
		}
		return perm, nil
	}
	v, err := strconv.ParseUint(mode, 8, 32)
	if err != nil || v > 0o777 {
		return fs.Permissions{}, fmt.Errorf("mode %q: %w", mode, ErrInvalidArg)
	}
	return fs.PermissionsFromMode(os.FileMode(v)), nil
}

// cleanAbs normalizes a slash-separated absolute path.
func cleanAbs(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("path is required: %w", ErrInvalidArg)
	}
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path %q is not absolute: %w", p, ErrInvalidArg)
	}
	return path.Clean(p), nil
}
