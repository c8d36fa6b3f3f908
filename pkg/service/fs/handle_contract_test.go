package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns a handle constructor per backend, each run against the
// same kind of fixture.
func backends(t *testing.T) map[Backend]func(p string) FileHandle {
	out := map[Backend]func(p string) FileHandle{
		BackendDirect: func(p string) FileHandle { return NewDirectHandle(p) },
	}
	if gnuListing() {
		sfs := newLocalShellFS(t)
		out[BackendShell] = func(p string) FileHandle {
			h, err := sfs.Stat(context.Background(), p)
			require.NoError(t, err)
			return h
		}
	}
	return out
}

func TestHandles_MoveOntoDirectoryLandsInside(t *testing.T) {
	for backend, open := range backends(t) {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			dir := filepath.ToSlash(t.TempDir())
			require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
			require.NoError(t, os.Mkdir(filepath.Join(dir, "d"), 0o755))

			require.NoError(t, open(dir+"/a.txt").MoveTo(ctx, dir+"/d"))
			b, err := os.ReadFile(filepath.Join(dir, "d", "a.txt"))
			require.NoError(t, err)
			assert.Equal(t, "a", string(b))
			_, err = os.Stat(filepath.Join(dir, "a.txt"))
			assert.True(t, os.IsNotExist(err))

			// A plain target is a rename.
			require.NoError(t, open(dir+"/d/a.txt").MoveTo(ctx, dir+"/b.txt"))
			b, err = os.ReadFile(filepath.Join(dir, "b.txt"))
			require.NoError(t, err)
			assert.Equal(t, "a", string(b))
		})
	}
}

func TestHandles_CopyOntoDirectoryLandsInside(t *testing.T) {
	for backend, open := range backends(t) {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			dir := filepath.ToSlash(t.TempDir())
			require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
			require.NoError(t, os.Mkdir(filepath.Join(dir, "d"), 0o755))

			require.NoError(t, open(dir+"/a.txt").CopyTo(ctx, dir+"/d"))
			b, err := os.ReadFile(filepath.Join(dir, "d", "a.txt"))
			require.NoError(t, err)
			assert.Equal(t, "a", string(b))
			assert.FileExists(t, filepath.Join(dir, "a.txt"))
		})
	}
}

func TestHandles_CreateOnExistingPathIsErrExist(t *testing.T) {
	for backend, open := range backends(t) {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			dir := filepath.ToSlash(t.TempDir())
			require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644))
			require.NoError(t, os.Mkdir(filepath.Join(dir, "d"), 0o755))

			assert.ErrorIs(t, open(dir+"/a.txt").CreateNewFile(ctx), ErrExist)
			assert.ErrorIs(t, open(dir+"/d").CreateNewFile(ctx), ErrExist)
			assert.ErrorIs(t, open(dir+"/d").Mkdir(ctx), ErrExist)
			assert.ErrorIs(t, open(dir+"/a.txt").Mkdir(ctx), ErrExist)
			assert.ErrorIs(t, open(dir+"/a.txt").Mkdirs(ctx), ErrExist)

			// Mkdirs over an existing directory is not a conflict.
			assert.NoError(t, open(dir+"/d").Mkdirs(ctx))

			// A missing parent is a different failure.
			err := open(dir + "/none/x").Mkdir(ctx)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrExist)
		})
	}
}

func TestEqual(t *testing.T) {
	sfs := NewShellFileSystem(newScriptRunner(), nil, nil)
	shellA := sfs.Handle("/srv/a")

	assert.True(t, Equal(NewDirectHandle("/srv/a"), NewDirectHandle("/srv/a")))
	assert.True(t, Equal(NewDirectHandle("/srv/a"), NewDirectHandle("/srv/a/")))
	assert.False(t, Equal(NewDirectHandle("/srv/a"), NewDirectHandle("/srv/b")))
	assert.True(t, Equal(shellA, sfs.Handle("/srv/a")))
	assert.False(t, Equal(shellA, NewDirectHandle("/srv/a")))
	assert.False(t, Equal(shellA, nil))
	assert.True(t, Equal(nil, nil))
}
