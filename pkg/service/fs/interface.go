// Package fs provides file handles backed either by direct OS calls or by a
// shared command interpreter whose listing output is parsed into metadata.
package fs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Backend identifies a file handle implementation.
type Backend string

const (
	BackendDirect Backend = "direct"
	BackendShell  Backend = "shell"
	// BackendAuto picks direct where the OS allows it and shell elsewhere.
	BackendAuto Backend = "auto"
)

var (
	// ErrStaleHandle is returned by mutations on a handle already known not to exist.
	ErrStaleHandle = errors.New("fs: handle no longer exists")
	// ErrUnparseableListing is returned when a listing produced output but no usable rows.
	ErrUnparseableListing = errors.New("fs: listing output could not be parsed")
	ErrNotDirectory       = errors.New("fs: not a directory")
	ErrExist              = errors.New("fs: already exists")
)

// Stat is the read side of a file handle.
//
// Paths use forward slashes and are absolute.
type Stat interface {
	Path() string
	Name() string
	Exists() bool
	IsDirectory() bool
	IsSymlink() bool
	LinkTarget() string
	Length() int64
	// HasLength is false when the backend could not report a size.
	HasLength() bool
	LastModified() time.Time
	Permissions() Permissions
	OwnerID() int
	GroupID() int
}

// Lister lists directory children.
type Lister interface {
	// List returns the children of a directory. A failed listing returns a nil
	// slice and an error; an empty directory returns an empty slice.
	List(ctx context.Context, opts ListOptions) ([]FileHandle, error)
}

// Mutator changes the filesystem.
type Mutator interface {
	CreateNewFile(ctx context.Context) error
	Mkdir(ctx context.Context) error
	Mkdirs(ctx context.Context) error
	Delete(ctx context.Context) error
	MoveTo(ctx context.Context, target string) error
	CopyTo(ctx context.Context, target string) error
	ApplyPermissions(ctx context.Context, p Permissions) error
}

// FileHandle is the uniform capability surface over both backends.
type FileHandle interface {
	Stat
	Lister
	Mutator

	Backend() Backend
	// Parent returns the handle of the containing directory, nil at the root.
	Parent() FileHandle
	// Refresh reloads metadata from the filesystem.
	Refresh(ctx context.Context) error
}

// FSTypeProvider is implemented by handles that can report the type of the
// filesystem holding them.
type FSTypeProvider interface {
	FilesystemType(ctx context.Context) (string, error)
}

type ListOptions struct {
	IncludeHidden bool
}

// FileEntry is a serializable snapshot of a handle.
type FileEntry struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	IsDir      bool      `json:"is_dir"`
	IsSymlink  bool      `json:"is_symlink"`
	LinkTarget string    `json:"link_target,omitempty"`
	Size       *int64    `json:"size,omitempty"`
	Mode       string    `json:"mode"`
	Octal      string    `json:"octal"`
	UID        int       `json:"uid"`
	GID        int       `json:"gid"`
	ModTime    time.Time `json:"mod_time"`
	Backend    Backend   `json:"backend"`
}

// Snapshot captures h's current metadata.
func Snapshot(h FileHandle) FileEntry {
	p := h.Permissions()
	e := FileEntry{
		Name:       h.Name(),
		Path:       h.Path(),
		IsDir:      h.IsDirectory(),
		IsSymlink:  h.IsSymlink(),
		LinkTarget: h.LinkTarget(),
		Mode:       p.String(),
		Octal:      p.Octal(),
		UID:        h.OwnerID(),
		GID:        h.GroupID(),
		ModTime:    h.LastModified(),
		Backend:    h.Backend(),
	}
	if h.HasLength() {
		size := h.Length()
		e.Size = &size
	}
	return e
}

// Equal reports whether a and b denote the same file: the same backend and
// the same path. Shell handles for a live path are also the same instance,
// direct handles are not.
func Equal(a, b FileHandle) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Backend() == b.Backend() && cleanPath(a.Path()) == cleanPath(b.Path())
}

// SortHandles orders directories first, then names case-insensitively.
func SortHandles(hs []FileHandle) {
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].IsDirectory() != hs[j].IsDirectory() {
			return hs[i].IsDirectory()
		}
		return strings.ToLower(hs[i].Name()) < strings.ToLower(hs[j].Name())
	})
}

func isHidden(name string) bool { return strings.HasPrefix(name, ".") }

func baseName(p string) string {
	if p == "/" {
		return "/"
	}
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func parentPath(p string) (string, bool) {
	if p == "/" {
		return "", false
	}
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/", true
	}
	return p[:i], true
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
