package handler

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/shellfs/pkg/service"
)

type TaskHandler struct {
	tasks  *service.TaskService
	logger *slog.Logger
}

func NewTaskHandler(tasks *service.TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger}
}

// Enqueue starts a background delete, copy or move over many paths.
func (h *TaskHandler) Enqueue(c *gin.Context) {
	var req service.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	task, err := h.tasks.Enqueue(req)
	if err != nil {
		fail(c, err)
		return
	}
	h.logger.Info("Batch queued", "task", task.ID, "op", req.Op, "entries", len(req.Paths))
	ok(c, task)
}

func (h *TaskHandler) ListActive(c *gin.Context) {
	ok(c, h.tasks.ListRunning())
}

func (h *TaskHandler) ListHistory(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	ok(c, h.tasks.ListHistory(limit))
}

func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.tasks.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, task)
}

func (h *TaskHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		badRequest(c, "id is required")
		return
	}
	if err := h.tasks.Cancel(id); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
