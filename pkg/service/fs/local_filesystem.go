package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// DirectHandle is a file handle over native OS calls. It holds no snapshot:
// every accessor reads the filesystem.
//
// NOTE: This is NOT sandboxed.
type DirectHandle struct {
	path string
}

var (
	_ FileHandle     = (*DirectHandle)(nil)
	_ FSTypeProvider = (*DirectHandle)(nil)
)

func NewDirectHandle(p string) *DirectHandle {
	return &DirectHandle{path: cleanPath(p)}
}

func (h *DirectHandle) Backend() Backend { return BackendDirect }
func (h *DirectHandle) Path() string     { return h.path }
func (h *DirectHandle) Name() string     { return baseName(h.path) }

func (h *DirectHandle) osPath() string { return filepath.FromSlash(h.path) }

func (h *DirectHandle) lstat() (os.FileInfo, bool) {
	fi, err := os.Lstat(h.osPath())
	return fi, err == nil
}

func (h *DirectHandle) Exists() bool {
	_, ok := h.lstat()
	return ok
}

// IsDirectory follows symlinks.
func (h *DirectHandle) IsDirectory() bool {
	fi, err := os.Stat(h.osPath())
	return err == nil && fi.IsDir()
}

func (h *DirectHandle) IsSymlink() bool {
	fi, ok := h.lstat()
	return ok && fi.Mode()&os.ModeSymlink != 0
}

func (h *DirectHandle) LinkTarget() string {
	target, err := os.Readlink(h.osPath())
	if err != nil {
		return ""
	}
	return filepath.ToSlash(target)
}

func (h *DirectHandle) Length() int64 {
	fi, ok := h.lstat()
	if !ok {
		return 0
	}
	return fi.Size()
}

func (h *DirectHandle) HasLength() bool { return h.Exists() }

func (h *DirectHandle) LastModified() time.Time {
	fi, ok := h.lstat()
	if !ok {
		return time.Time{}
	}
	return fi.ModTime()
}

func (h *DirectHandle) Permissions() Permissions {
	fi, ok := h.lstat()
	if !ok {
		return Permissions{}
	}
	return PermissionsFromMode(fi.Mode())
}

func (h *DirectHandle) OwnerID() int {
	fi, ok := h.lstat()
	if !ok {
		return -1
	}
	uid, _ := fileOwner(fi)
	return uid
}

func (h *DirectHandle) GroupID() int {
	fi, ok := h.lstat()
	if !ok {
		return -1
	}
	_, gid := fileOwner(fi)
	return gid
}

func (h *DirectHandle) Parent() FileHandle {
	pp, ok := parentPath(h.path)
	if !ok {
		return nil
	}
	return NewDirectHandle(pp)
}

// Refresh is a no-op; direct handles are always current.
func (h *DirectHandle) Refresh(ctx context.Context) error { return ctx.Err() }

func (h *DirectHandle) List(ctx context.Context, opts ListOptions) ([]FileHandle, error) {
	fi, err := os.Stat(h.osPath())
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, pathError("list", h.path, ErrNotDirectory)
	}
	des, err := os.ReadDir(h.osPath())
	if err != nil {
		return nil, err
	}

	out := make([]FileHandle, 0, len(des))
	for _, de := range des {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := de.Name()
		if !opts.IncludeHidden && isHidden(name) {
			continue
		}
		out = append(out, NewDirectHandle(joinPath(h.path, name)))
	}
	return out, nil
}

func (h *DirectHandle) CreateNewFile(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(h.osPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return pathError("create", h.path, ErrExist)
		}
		return err
	}
	return f.Close()
}

func (h *DirectHandle) Mkdir(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Mkdir(h.osPath(), 0o755); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return pathError("mkdir", h.path, ErrExist)
		}
		return err
	}
	return nil
}

func (h *DirectHandle) Mkdirs(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(h.osPath(), 0o755); err != nil {
		// An existing directory is fine; anything else in the way is a conflict.
		if fi, ok := h.lstat(); ok && !fi.IsDir() {
			return pathError("mkdir", h.path, ErrExist)
		}
		return err
	}
	return nil
}

func (h *DirectHandle) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !h.Exists() {
		return pathError("delete", h.path, ErrStaleHandle)
	}
	return os.RemoveAll(h.osPath())
}

// MoveTo renames h to target, falling back to copy and delete across devices.
// Like mv, moving onto an existing directory places h inside it.
func (h *DirectHandle) MoveTo(ctx context.Context, target string) error {
	if !h.Exists() {
		return pathError("move", h.path, ErrStaleHandle)
	}
	dst := h.landing(target)
	err := os.Rename(h.osPath(), dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyTree(ctx, h.osPath(), dst); err != nil {
		return err
	}
	return os.RemoveAll(h.osPath())
}

func (h *DirectHandle) CopyTo(ctx context.Context, target string) error {
	if !h.Exists() {
		return pathError("copy", h.path, ErrStaleHandle)
	}
	return copyTree(ctx, h.osPath(), h.landing(target))
}

// landing returns where a move or copy of h to target ends up: inside target
// when it is an existing directory, at target otherwise.
func (h *DirectHandle) landing(target string) string {
	dst := filepath.FromSlash(cleanPath(target))
	if fi, err := os.Stat(dst); err == nil && fi.IsDir() {
		return filepath.Join(dst, filepath.Base(h.osPath()))
	}
	return dst
}

func (h *DirectHandle) ApplyPermissions(ctx context.Context, p Permissions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fi, ok := h.lstat()
	if !ok {
		return pathError("chmod", h.path, ErrStaleHandle)
	}
	if PermissionsFromMode(fi.Mode()) == p {
		return nil
	}
	special := fi.Mode() & (os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
	return os.Chmod(h.osPath(), p.Mode()|special)
}

func (h *DirectHandle) FilesystemType(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return statfsType(h.osPath())
}

// copyTree copies src to dst recursively, keeping modes and symlinks. It
// checks ctx between entries.
func copyTree(ctx context.Context, src, dst string) error {
	if strings.HasPrefix(filepath.Clean(dst)+string(filepath.Separator), filepath.Clean(src)+string(filepath.Separator)) {
		return fmt.Errorf("copy %s: destination is inside source", src)
	}
	return filepath.WalkDir(src, func(file string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, file)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(file)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode().IsRegular():
			return copyFile(file, target, info.Mode().Perm())
		default:
			// Devices, fifos and sockets are skipped.
			return nil
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
