package fs

import (
	"context"
	"sync"
	"time"

	"github.com/choraleia/shellfs/pkg/shell"
)

// shellMeta is the snapshot taken from the last listing or mutation.
type shellMeta struct {
	loaded     bool
	exists     bool
	isDir      bool
	isLink     bool
	linkTarget string
	size       int64
	hasSize    bool
	modTime    time.Time
	perm       Permissions
	uid, gid   int
}

// rootMeta is the fixed metadata of "/".
func rootMeta() shellMeta {
	perm, _ := ParsePermissions("drwxr-xr-x")
	return shellMeta{loaded: true, exists: true, isDir: true, perm: perm}
}

// ShellHandle is a file handle whose metadata comes from parsed listing
// output. Accessors return the cached snapshot; successful mutations update
// it in place, so the instance stays the same while its fields change.
type ShellHandle struct {
	fs   *ShellFileSystem
	path string

	mu   sync.RWMutex
	meta shellMeta
}

var (
	_ FileHandle     = (*ShellHandle)(nil)
	_ FSTypeProvider = (*ShellHandle)(nil)
)

func (h *ShellHandle) Backend() Backend { return BackendShell }
func (h *ShellHandle) Path() string     { return h.path }
func (h *ShellHandle) Name() string     { return baseName(h.path) }

func (h *ShellHandle) snapshot() shellMeta {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.meta
}

func (h *ShellHandle) set(m shellMeta) {
	h.mu.Lock()
	h.meta = m
	h.mu.Unlock()
}

func (h *ShellHandle) apply(e ListingEntry) {
	perm, _ := ParsePermissions(e.Perm)
	h.set(shellMeta{
		loaded:     true,
		exists:     true,
		isDir:      e.IsDir(),
		isLink:     e.IsSymlink(),
		linkTarget: e.LinkTarget,
		size:       e.Size,
		hasSize:    e.HasSize,
		modTime:    e.ModTime,
		perm:       perm,
		uid:        e.UID,
		gid:        e.GID,
	})
}

func (h *ShellHandle) markGone() {
	h.set(shellMeta{loaded: true})
}

// Loaded reports whether metadata has been fetched at least once.
func (h *ShellHandle) Loaded() bool { return h.snapshot().loaded }

func (h *ShellHandle) Exists() bool             { return h.snapshot().exists }
func (h *ShellHandle) IsDirectory() bool        { return h.snapshot().isDir }
func (h *ShellHandle) IsSymlink() bool          { return h.snapshot().isLink }
func (h *ShellHandle) LinkTarget() string       { return h.snapshot().linkTarget }
func (h *ShellHandle) Length() int64            { return h.snapshot().size }
func (h *ShellHandle) HasLength() bool          { return h.snapshot().hasSize }
func (h *ShellHandle) LastModified() time.Time  { return h.snapshot().modTime }
func (h *ShellHandle) Permissions() Permissions { return h.snapshot().perm }
func (h *ShellHandle) OwnerID() int             { return h.snapshot().uid }
func (h *ShellHandle) GroupID() int             { return h.snapshot().gid }

func (h *ShellHandle) Parent() FileHandle {
	pp, ok := parentPath(h.path)
	if !ok {
		return nil
	}
	return h.fs.Handle(pp)
}

// Refresh reloads the snapshot. A command failure marks the handle as gone;
// transport failures leave it untouched.
func (h *ShellHandle) Refresh(ctx context.Context) error {
	if h.path == "/" {
		h.set(rootMeta())
		return nil
	}
	lines, err := h.fs.run(ctx, statCommand(h.path))
	if err != nil {
		if isMissing(err) {
			h.markGone()
			return nil
		}
		return pathError("stat", h.path, err)
	}
	e, err := firstEntry(lines)
	if err != nil {
		return pathError("stat", h.path, err)
	}
	h.apply(e)
	return nil
}

func (h *ShellHandle) ensureLoaded(ctx context.Context) error {
	if h.Loaded() {
		return nil
	}
	return h.Refresh(ctx)
}

func (h *ShellHandle) List(ctx context.Context, opts ListOptions) ([]FileHandle, error) {
	if err := h.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	m := h.snapshot()
	if !m.exists {
		return nil, pathError("list", h.path, ErrStaleHandle)
	}
	if !m.isDir {
		return nil, pathError("list", h.path, ErrNotDirectory)
	}

	dir := h.path
	if dir != "/" {
		// The trailing slash makes ls descend into symlinked directories.
		dir += "/"
	}
	lines, err := h.fs.run(ctx, listDirCommand(dir))
	if err != nil {
		return nil, pathError("list", h.path, err)
	}
	listing := ParseListing(lines)
	if listing.Unusable() {
		return nil, pathError("list", h.path, ErrUnparseableListing)
	}
	if listing.Rejected > 0 {
		h.fs.logger.Debug("Dropped unparseable listing rows", "path", h.path, "rejected", listing.Rejected)
	}

	out := make([]FileHandle, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if !opts.IncludeHidden && isHidden(e.Name) {
			continue
		}
		out = append(out, h.fs.handleFor(joinPath(h.path, e.Name), e))
	}
	return out, nil
}

func (h *ShellHandle) CreateNewFile(ctx context.Context) error {
	return h.create(ctx, "create", createFileCommand(h.path))
}

func (h *ShellHandle) Mkdir(ctx context.Context) error {
	return h.create(ctx, "mkdir", mkdirCommand(h.path, false))
}

func (h *ShellHandle) Mkdirs(ctx context.Context) error {
	return h.create(ctx, "mkdir", mkdirCommand(h.path, true))
}

// create runs a command that ends by listing the new entry and loads the
// snapshot from that row. A failed command on a path that turns out to exist
// is reported as ErrExist.
func (h *ShellHandle) create(ctx context.Context, op string, cmd shell.Command) error {
	lines, err := h.fs.run(ctx, cmd)
	if err != nil {
		if isMissing(err) {
			if rerr := h.Refresh(ctx); rerr == nil && h.Exists() {
				return pathError(op, h.path, ErrExist)
			}
		}
		return pathError(op, h.path, err)
	}
	e, err := firstEntry(lines)
	if err != nil {
		return h.Refresh(ctx)
	}
	h.apply(e)
	h.fs.cache.Add(h)
	return nil
}

// checkLive rejects mutations on a handle already known to be gone.
func (h *ShellHandle) checkLive(op string) error {
	m := h.snapshot()
	if m.loaded && !m.exists {
		return pathError(op, h.path, ErrStaleHandle)
	}
	return nil
}

func (h *ShellHandle) Delete(ctx context.Context) error {
	if err := h.checkLive("delete"); err != nil {
		return err
	}
	if _, err := h.fs.run(ctx, removeCommand(h.path)); err != nil {
		return pathError("delete", h.path, err)
	}
	h.markGone()
	h.fs.cache.InvalidateTree(h.path)
	return nil
}

func (h *ShellHandle) MoveTo(ctx context.Context, target string) error {
	if err := h.checkLive("move"); err != nil {
		return err
	}
	target = cleanPath(target)
	lines, err := h.fs.run(ctx, intoDirCommand(target), moveCommand(h.path, target))
	if err != nil {
		return pathError("move", h.path, err)
	}
	h.markGone()
	h.fs.cache.InvalidateTree(h.path)
	h.fs.cache.InvalidateTree(h.landing(target, lines))
	return nil
}

func (h *ShellHandle) CopyTo(ctx context.Context, target string) error {
	if err := h.checkLive("copy"); err != nil {
		return err
	}
	target = cleanPath(target)
	lines, err := h.fs.run(ctx, intoDirCommand(target), copyCommand(h.path, target))
	if err != nil {
		return pathError("copy", h.path, err)
	}
	h.fs.cache.InvalidateTree(h.landing(target, lines))
	return nil
}

// landing returns the path a move or copy to target produced, given the
// output of intoDirCommand. Only that subtree is invalidated, so a target
// directory keeps its handle.
func (h *ShellHandle) landing(target string, lines []string) string {
	if len(lines) > 0 && lines[0] == intoDirMark {
		return joinPath(target, h.Name())
	}
	return target
}

func (h *ShellHandle) ApplyPermissions(ctx context.Context, p Permissions) error {
	if err := h.checkLive("chmod"); err != nil {
		return err
	}
	m := h.snapshot()
	if m.loaded && m.perm == p {
		return nil
	}
	if _, err := h.fs.run(ctx, chmodCommand(h.path, p)); err != nil {
		return pathError("chmod", h.path, err)
	}
	h.mu.Lock()
	h.meta.perm = p
	h.mu.Unlock()
	return nil
}

func (h *ShellHandle) FilesystemType(ctx context.Context) (string, error) {
	lines, err := h.fs.run(ctx, fsTypeCommand(h.path))
	if err != nil {
		return "", pathError("fstype", h.path, err)
	}
	return trimOutput(lines), nil
}
