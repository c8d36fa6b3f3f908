package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// ParseBackend validates a backend name. The empty string means auto.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendDirect, BackendShell:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("unknown file backend %q", s)
	}
}

// Resolver picks the handle variant for a path.
//
// With BackendAuto a path is served directly when it can be stat'd and, for
// directories, read natively; otherwise it goes through the shell. Paths that
// do not exist yet follow their parent directory.
type Resolver struct {
	backend Backend
	shell   *ShellFileSystem
	logger  *slog.Logger
}

// NewResolver creates a resolver. shellFS may be nil only for BackendDirect.
func NewResolver(backend Backend, shellFS *ShellFileSystem, logger *slog.Logger) (*Resolver, error) {
	if backend == "" {
		backend = BackendAuto
	}
	if backend != BackendDirect && shellFS == nil {
		return nil, fmt.Errorf("backend %q needs a shell file system", backend)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{backend: backend, shell: shellFS, logger: logger}, nil
}

func (r *Resolver) Backend() Backend { return r.backend }

// Shell returns the shell file system, nil for a direct-only resolver.
func (r *Resolver) Shell() *ShellFileSystem { return r.shell }

// Resolve returns a handle for p with current metadata. A missing path is not
// an error: the handle reports Exists false.
func (r *Resolver) Resolve(ctx context.Context, p string) (FileHandle, error) {
	p = cleanPath(p)
	switch r.backend {
	case BackendDirect:
		return NewDirectHandle(p), nil
	case BackendShell:
		return r.shell.Stat(ctx, p)
	}
	if directlyAccessible(p) {
		return NewDirectHandle(p), nil
	}
	r.logger.Debug("Resolving through shell", "path", p)
	return r.shell.Stat(ctx, p)
}

// Handle returns a handle for p without touching the filesystem. Shell
// handles come back from the identity cache when live.
func (r *Resolver) Handle(p string) FileHandle {
	p = cleanPath(p)
	if r.backend == BackendDirect || (r.backend == BackendAuto && directlyAccessible(p)) {
		return NewDirectHandle(p)
	}
	return r.shell.Handle(p)
}

func directlyAccessible(p string) bool {
	osPath := filepath.FromSlash(p)
	fi, err := os.Stat(osPath)
	if errors.Is(err, iofs.ErrNotExist) {
		// A path about to be created follows its parent.
		pp, ok := parentPath(p)
		return ok && directlyAccessible(pp)
	}
	if err != nil {
		return false
	}
	if !fi.IsDir() {
		if !fi.Mode().IsRegular() {
			// Opening a fifo would block.
			return true
		}
		f, err := os.Open(osPath)
		if err != nil {
			return false
		}
		_ = f.Close()
		return true
	}
	d, err := os.Open(osPath)
	if err != nil {
		return false
	}
	defer d.Close()
	_, err = d.Readdirnames(1)
	return err == nil || errors.Is(err, io.EOF)
}
