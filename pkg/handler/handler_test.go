package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choraleia/shellfs/pkg/config"
	"github.com/choraleia/shellfs/pkg/event"
	"github.com/choraleia/shellfs/pkg/navigation"
	"github.com/choraleia/shellfs/pkg/service"
	"github.com/choraleia/shellfs/pkg/service/fs"
	"github.com/choraleia/shellfs/pkg/shell"
)

type testAPI struct {
	engine *gin.Engine
	tasks  *service.TaskService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rt := &service.Runtime{
		Config: &config.AppConfig{},
		Logger: logger,
		Events: event.NewEmitter(logger),
		Cache:  fs.NewIdentityCache(),
		Pool:   service.NewWorkerPool(2),
	}
	rt.Shells = shell.NewManager(shell.NewExecSpawner([]string{"sh"}, []string{"sh"}), logger)
	rt.Runner = shell.NewRunner(rt.Shells, shell.RunnerOptions{}, logger)
	rt.ShellFS = fs.NewShellFileSystem(rt.Runner, rt.Cache, logger)
	var err error
	rt.Resolver, err = fs.NewResolver(fs.BackendDirect, rt.ShellFS, logger)
	require.NoError(t, err)

	reg, err := service.NewFSRegistry(rt)
	require.NoError(t, err)
	fsSvc := service.NewFSService(reg, rt.Events, logger)
	tasks := service.NewTaskService(fsSvc, 1, rt.Events, logger)
	browsers := service.NewBrowserService(rt, reg)
	t.Cleanup(func() {
		browsers.Close()
		tasks.Close()
		_ = rt.Close()
	})

	fsH := NewFSHandler(fsSvc, logger)
	taskH := NewTaskHandler(tasks, logger)
	browserH := NewBrowserHandler(browsers, logger)

	r := gin.New()
	api := r.Group("/api")
	api.GET("/fs/list", fsH.List)
	api.GET("/fs/stat", fsH.Stat)
	api.POST("/fs/mkdir", fsH.Mkdir)
	api.POST("/fs/touch", fsH.Touch)
	api.POST("/fs/remove", fsH.Remove)
	api.POST("/fs/move", fsH.Move)
	api.POST("/fs/chmod", fsH.Chmod)
	api.POST("/tasks/batch", taskH.Enqueue)
	api.GET("/tasks/history", taskH.ListHistory)
	api.GET("/tasks/:id", taskH.Get)
	api.POST("/tasks/:id/cancel", taskH.Cancel)
	browserH.RegisterRoutes(api)

	return &testAPI{engine: r, tasks: tasks}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *testAPI) do(t *testing.T, method, target string, body any) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func q(path string, kv ...string) string {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return path + "?" + v.Encode()
}

func tempDir(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, f), []byte(f), 0o644))
	}
	return filepath.ToSlash(root)
}

func TestFSHandler_ListAndStat(t *testing.T) {
	api := newTestAPI(t)
	root := tempDir(t, "b.txt", "a.txt", ".hidden")
	require.NoError(t, os.Mkdir(filepath.Join(root, "zdir"), 0o755))

	status, env := api.do(t, http.MethodGet, q("/api/fs/list", "path", root), nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, 0, env.Code)
	var list service.ListDirResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	var names []string
	for _, e := range list.Entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"zdir", "a.txt", "b.txt"}, names)

	_, env = api.do(t, http.MethodGet, q("/api/fs/list", "path", root, "include_hidden", "true"), nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Entries, 4)

	status, env = api.do(t, http.MethodGet, q("/api/fs/stat", "path", root+"/a.txt"), nil)
	require.Equal(t, http.StatusOK, status)
	var entry fs.FileEntry
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, "a.txt", entry.Name)
	require.NotNil(t, entry.Size)
	assert.Equal(t, int64(5), *entry.Size)
}

func TestFSHandler_ErrorStatuses(t *testing.T) {
	api := newTestAPI(t)
	root := tempDir(t, "file")

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"missing path", http.MethodGet, "/api/fs/list", http.StatusBadRequest},
		{"unknown backend", http.MethodGet, q("/api/fs/list", "path", root, "backend", "ftp"), http.StatusBadRequest},
		{"relative path", http.MethodGet, q("/api/fs/stat", "path", "relative/x"), http.StatusBadRequest},
		{"absent path", http.MethodGet, q("/api/fs/stat", "path", root+"/absent"), http.StatusNotFound},
		{"list a file", http.MethodGet, q("/api/fs/list", "path", root+"/file"), http.StatusBadRequest},
		{"touch existing", http.MethodPost, q("/api/fs/touch", "path", root+"/file"), http.StatusConflict},
		{"move missing target", http.MethodPost, q("/api/fs/move", "from", root+"/file"), http.StatusBadRequest},
		{"bad mode", http.MethodPost, q("/api/fs/chmod", "path", root+"/file", "mode", "999"), http.StatusBadRequest},
		{"remove root", http.MethodPost, q("/api/fs/remove", "path", "/"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := api.do(t, tt.method, tt.target, nil)
			assert.Equal(t, tt.want, status, env.Message)
			assert.Equal(t, tt.want, env.Code)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestFSHandler_Mutations(t *testing.T) {
	api := newTestAPI(t)
	root := tempDir(t)

	status, env := api.do(t, http.MethodPost, q("/api/fs/mkdir", "path", root+"/a/b", "parents", "true"), nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.DirExists(t, filepath.Join(root, "a", "b"))

	status, _ = api.do(t, http.MethodPost, q("/api/fs/touch", "path", root+"/a/f"), nil)
	require.Equal(t, http.StatusOK, status)

	status, env = api.do(t, http.MethodPost, q("/api/fs/chmod", "path", root+"/a/f", "mode", "600"), nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	var entry fs.FileEntry
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, "rw-------", entry.Mode)
	assert.Equal(t, "600", entry.Octal)

	status, _ = api.do(t, http.MethodPost, q("/api/fs/move", "from", root+"/a/f", "to", root+"/g"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.FileExists(t, filepath.Join(root, "g"))

	status, _ = api.do(t, http.MethodPost, q("/api/fs/remove", "path", root+"/a"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.NoDirExists(t, filepath.Join(root, "a"))
}

func TestTaskHandler_BatchLifecycle(t *testing.T) {
	api := newTestAPI(t)
	root := tempDir(t, "x", "y")

	status, env := api.do(t, http.MethodPost, "/api/tasks/batch", service.BatchRequest{
		Op:    service.BatchDelete,
		Paths: []string{root + "/x", root + "/y"},
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	var task service.Task
	require.NoError(t, json.Unmarshal(env.Data, &task))
	require.NotEmpty(t, task.ID)

	require.Eventually(t, func() bool {
		got, err := api.tasks.Get(task.ID)
		return err == nil && got.Status == service.TaskStatusSucceeded
	}, 3*time.Second, 5*time.Millisecond)
	assert.NoFileExists(t, filepath.Join(root, "x"))

	status, env = api.do(t, http.MethodGet, "/api/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, 2, task.Progress.Done)

	status, env = api.do(t, http.MethodGet, "/api/tasks/history?limit=5", nil)
	require.Equal(t, http.StatusOK, status)
	var history []service.Task
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 1)

	status, _ = api.do(t, http.MethodGet, "/api/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = api.do(t, http.MethodPost, "/api/tasks/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = api.do(t, http.MethodPost, "/api/tasks/batch", service.BatchRequest{Op: "shred", Paths: []string{root}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBrowserHandler_Session(t *testing.T) {
	api := newTestAPI(t)
	root := tempDir(t, "f")
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	status, env := api.do(t, http.MethodPost, "/api/browser/sessions", service.OpenOptions{Path: root})
	require.Equal(t, http.StatusOK, status, env.Message)
	var view service.BrowserView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	id := view.ID
	require.NotEmpty(t, id)

	waitAt := func(p string) service.BrowserView {
		var v service.BrowserView
		require.Eventually(t, func() bool {
			_, env := api.do(t, http.MethodGet, "/api/browser/sessions/"+id, nil)
			if json.Unmarshal(env.Data, &v) != nil {
				return false
			}
			return v.Current == p && v.State == navigation.Idle
		}, 3*time.Second, 10*time.Millisecond, "waiting for %s", p)
		return v
	}
	v := waitAt(root)
	assert.Len(t, v.Entries, 2)

	status, env = api.do(t, http.MethodPost, "/api/browser/sessions/"+id+"/navigate", gin.H{"path": root + "/sub"})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.JSONEq(t, `{"moved":true}`, string(env.Data))
	waitAt(root + "/sub")

	status, _ = api.do(t, http.MethodPost, "/api/browser/sessions/"+id+"/up", nil)
	require.Equal(t, http.StatusOK, status)
	waitAt(root)

	status, _ = api.do(t, http.MethodPost, "/api/browser/sessions/"+id+"/navigate", gin.H{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(t, http.MethodDelete, "/api/browser/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = api.do(t, http.MethodGet, "/api/browser/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
