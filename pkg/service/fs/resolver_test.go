package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{"": BackendAuto, "auto": BackendAuto, "direct": BackendDirect, "shell": BackendShell} {
		got, err := ParseBackend(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseBackend("sftp")
	assert.Error(t, err)
}

func TestNewResolver_ShellBackendNeedsShell(t *testing.T) {
	_, err := NewResolver(BackendShell, nil, nil)
	assert.Error(t, err)
	_, err = NewResolver(BackendAuto, nil, nil)
	assert.Error(t, err)

	r, err := NewResolver(BackendDirect, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, r.Shell())
}

func TestResolver_Backends(t *testing.T) {
	ctx := context.Background()
	dir := filepath.ToSlash(t.TempDir())
	runner := newScriptRunner()
	runner.answers["-d '/restricted'"] = []string{"drwx------ 2 0 0 4096 Oct 05 14:03:09 2025 /restricted/"}
	sfs := NewShellFileSystem(runner, nil, nil)

	direct, err := NewResolver(BackendDirect, nil, nil)
	require.NoError(t, err)
	h, err := direct.Resolve(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, BackendDirect, h.Backend())

	shellOnly, err := NewResolver(BackendShell, sfs, nil)
	require.NoError(t, err)
	h, err = shellOnly.Resolve(ctx, "/restricted")
	require.NoError(t, err)
	assert.Equal(t, BackendShell, h.Backend())
	assert.True(t, h.IsDirectory())
	assert.Same(t, h, shellOnly.Handle("/restricted"))

	auto, err := NewResolver(BackendAuto, sfs, nil)
	require.NoError(t, err)
	h, err = auto.Resolve(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, BackendDirect, h.Backend())

	// Not yet created, but its parent is readable.
	h, err = auto.Resolve(ctx, dir+"/new/file.txt")
	require.NoError(t, err)
	assert.Equal(t, BackendDirect, h.Backend())
	assert.False(t, h.Exists())

	if os.Geteuid() != 0 {
		locked := filepath.Join(dir, "locked")
		require.NoError(t, os.Mkdir(locked, 0o000))
		t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })
		runner.answers["-d '"+filepath.ToSlash(locked)+"'"] = []string{"d--------- 2 0 0 4096 Oct 05 14:03:09 2025 " + filepath.ToSlash(locked) + "/"}
		h, err = auto.Resolve(ctx, filepath.ToSlash(locked))
		require.NoError(t, err)
		assert.Equal(t, BackendShell, h.Backend())
	}
}
