package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choraleia/shellfs/pkg/event"
)

func exists(p string) bool {
	_, err := os.Lstat(filepath.FromSlash(p))
	return err == nil
}

func TestDeleteAll_ReportsPerEntry(t *testing.T) {
	svc, _ := newTestFSService(t)
	root := tempTree(t, "a", "b/", "b/inner")
	ctx := context.Background()

	var calls int
	out := svc.DeleteAll(ctx, "", []string{root + "/a", root + "/missing", root + "/b"},
		func(done, failed, total int, p string) { calls++ })

	assert.Equal(t, []string{root + "/a", root + "/b"}, out.Done)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, root+"/missing", out.Failed[0].Path)
	assert.False(t, out.Cancelled)
	assert.Empty(t, out.Skipped)
	assert.Equal(t, 3, calls)
	assert.False(t, exists(root+"/a"))
	assert.False(t, exists(root+"/b"))

	var be *BatchError
	assert.ErrorAs(t, out.Err(), &be)
}

func TestCopyAllAndMoveAll(t *testing.T) {
	svc, _ := newTestFSService(t)
	root := tempTree(t, "src/one.txt", "src/dir/two.txt", "dst/", "moved/")
	ctx := context.Background()

	out := svc.CopyAll(ctx, "", []string{root + "/src/one.txt", root + "/src/dir"}, root+"/dst", nil)
	require.NoError(t, out.Err())
	assert.True(t, exists(root+"/dst/one.txt"))
	assert.True(t, exists(root+"/dst/dir/two.txt"))
	assert.True(t, exists(root+"/src/one.txt"))

	out = svc.MoveAll(ctx, "", []string{root + "/dst/one.txt", root + "/dst/dir"}, root+"/moved", nil)
	require.NoError(t, out.Err())
	assert.True(t, exists(root+"/moved/one.txt"))
	assert.True(t, exists(root+"/moved/dir/two.txt"))
	assert.False(t, exists(root+"/dst/one.txt"))
}

func TestBatch_CancellationBetweenEntries(t *testing.T) {
	svc, _ := newTestFSService(t)
	root := tempTree(t, "a", "b", "c")
	paths := []string{root + "/a", root + "/b", root + "/c"}

	ctx, cancel := context.WithCancel(context.Background())
	out := svc.DeleteAll(ctx, "", paths, func(done, failed, total int, p string) {
		if done == 1 {
			cancel()
		}
	})

	assert.True(t, out.Cancelled)
	assert.ErrorIs(t, out.Err(), context.Canceled)
	assert.Equal(t, []string{root + "/a"}, out.Done)
	assert.Equal(t, []string{root + "/b", root + "/c"}, out.Skipped)
	assert.True(t, exists(root+"/b"))
	assert.True(t, exists(root+"/c"))

	out = svc.DeleteAll(ctx, "", paths[1:], nil)
	assert.True(t, out.Cancelled)
	assert.Empty(t, out.Done)
	assert.Len(t, out.Skipped, 2)
}

func TestTaskService_RunsBatch(t *testing.T) {
	svc, rt := newTestFSService(t)
	rec := recordEvents(t, rt.Events)
	tasks := NewTaskService(svc, 1, rt.Events, rt.Logger)
	t.Cleanup(tasks.Close)
	root := tempTree(t, "a", "b")

	task, err := tasks.Enqueue(BatchRequest{Op: BatchDelete, Paths: []string{root + "/a", root + "/b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, task.Progress.Total)

	require.Eventually(t, func() bool {
		got, err := tasks.Get(task.ID)
		return err == nil && got.Status == TaskStatusSucceeded
	}, 3*time.Second, 5*time.Millisecond)

	got, err := tasks.Get(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.Len(t, got.Outcome.Done, 2)
	assert.Equal(t, 2, got.Progress.Done)
	assert.NotNil(t, got.EndedAt)
	assert.Empty(t, tasks.ListRunning())
	require.Len(t, tasks.ListHistory(10), 1)

	rec.has(t, event.TaskCompleted)
	assert.Equal(t, event.TaskCreated, rec.names()[0])
}

func TestTaskService_FailedEntryFailsTask(t *testing.T) {
	svc, rt := newTestFSService(t)
	tasks := NewTaskService(svc, 1, rt.Events, rt.Logger)
	t.Cleanup(tasks.Close)
	root := tempTree(t, "src")

	task, err := tasks.Enqueue(BatchRequest{Op: BatchMove, Paths: []string{root + "/src", root + "/nope"}, Target: root + "/missing-dir"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := tasks.Get(task.ID)
		return got.Status == TaskStatusFailed
	}, 3*time.Second, 5*time.Millisecond)
	got, _ := tasks.Get(task.ID)
	assert.Len(t, got.Outcome.Failed, 2)
	assert.NotEmpty(t, got.Error)
}

func TestTaskService_Validation(t *testing.T) {
	svc, rt := newTestFSService(t)
	tasks := NewTaskService(svc, 1, rt.Events, rt.Logger)
	t.Cleanup(tasks.Close)

	_, err := tasks.Enqueue(BatchRequest{Op: "shred", Paths: []string{"/x"}})
	assert.ErrorIs(t, err, ErrInvalidArg)
	_, err = tasks.Enqueue(BatchRequest{Op: BatchDelete})
	assert.ErrorIs(t, err, ErrInvalidArg)
	_, err = tasks.Enqueue(BatchRequest{Op: BatchCopy, Paths: []string{"/x"}, Target: "rel"})
	assert.ErrorIs(t, err, ErrInvalidArg)

	assert.ErrorIs(t, tasks.Cancel("unknown"), ErrTaskNotFound)
	_, err = tasks.Get("unknown")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
