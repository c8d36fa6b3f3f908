package fs

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectHandle_CreateListDelete(t *testing.T) {
	ctx := context.Background()
	dir := filepath.ToSlash(t.TempDir())

	f := NewDirectHandle(dir + "/a.txt")
	assert.False(t, f.Exists())
	require.NoError(t, f.CreateNewFile(ctx))
	assert.True(t, f.Exists())
	assert.False(t, f.IsDirectory())
	assert.Zero(t, f.Length())
	assert.ErrorIs(t, f.CreateNewFile(ctx), ErrExist)

	sub := NewDirectHandle(dir + "/sub/deeper")
	require.Error(t, sub.Mkdir(ctx))
	require.NoError(t, sub.Mkdirs(ctx))
	assert.True(t, sub.IsDirectory())
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), nil, 0o644))

	root := NewDirectHandle(dir)
	entries, err := root.List(ctx, ListOptions{})
	require.NoError(t, err)
	SortHandles(entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "sub", entries[0].Name())
	assert.Equal(t, "a.txt", entries[1].Name())

	all, err := root.List(ctx, ListOptions{IncludeHidden: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.List(ctx, ListOptions{})
	assert.ErrorIs(t, err, ErrNotDirectory)

	require.NoError(t, NewDirectHandle(dir+"/sub").Delete(ctx))
	assert.False(t, sub.Exists())
	assert.ErrorIs(t, sub.Delete(ctx), ErrStaleHandle)
}

func TestDirectHandle_MoveAndCopy(t *testing.T) {
	ctx := context.Background()
	dir := filepath.ToSlash(t.TempDir())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "inner"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "inner", "f"), []byte("hello"), 0o600))
	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink("inner/f", filepath.Join(dir, "src", "ln")))
	}

	src := NewDirectHandle(dir + "/src")
	require.NoError(t, src.CopyTo(ctx, dir+"/dst"))
	b, err := os.ReadFile(filepath.Join(dir, "dst", "inner", "f"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	fi, err := os.Stat(filepath.Join(dir, "dst", "inner", "f"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	if runtime.GOOS != "windows" {
		ln := NewDirectHandle(dir + "/dst/ln")
		assert.True(t, ln.IsSymlink())
		assert.Equal(t, "inner/f", ln.LinkTarget())
	}

	// Copying onto an existing directory nests the source.
	require.NoError(t, src.CopyTo(ctx, dir+"/dst"))
	assert.True(t, NewDirectHandle(dir+"/dst/src/inner/f").Exists())

	assert.Error(t, src.CopyTo(ctx, dir+"/src/inside"))

	require.NoError(t, src.MoveTo(ctx, dir+"/moved"))
	assert.False(t, src.Exists())
	assert.True(t, NewDirectHandle(dir+"/moved/inner/f").Exists())
	assert.ErrorIs(t, src.MoveTo(ctx, dir+"/again"), ErrStaleHandle)
}

func TestDirectHandle_CopyHonoursCancellation(t *testing.T) {
	dir := filepath.ToSlash(t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDirectHandle(dir+"/f").CopyTo(ctx, dir+"/g")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, NewDirectHandle(dir+"/g").Exists())
}

func TestDirectHandle_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	ctx := context.Background()
	dir := filepath.ToSlash(t.TempDir())
	f := NewDirectHandle(dir + "/p")
	require.NoError(t, f.CreateNewFile(ctx))

	want := NewPermissions(true, true, false, true, false, false, false, false, false)
	require.NoError(t, f.ApplyPermissions(ctx, want))
	assert.Equal(t, want, f.Permissions())
	assert.Equal(t, "640", f.Permissions().Octal())
	assert.Equal(t, os.Getuid(), f.OwnerID())

	fstype, err := f.FilesystemType(ctx)
	if runtime.GOOS == "linux" {
		require.NoError(t, err)
		assert.NotEmpty(t, fstype)
	}
}

func TestDirectHandle_RootHasNoParent(t *testing.T) {
	assert.Nil(t, NewDirectHandle("/").Parent())
	assert.Equal(t, "/", NewDirectHandle("/").Name())
	assert.Equal(t, "/usr", NewDirectHandle("/usr/lib").Parent().Path())
}
