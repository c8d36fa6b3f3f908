package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/choraleia/shellfs/pkg/event"
	"github.com/choraleia/shellfs/pkg/service/fs"
)

type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

var ErrTaskNotFound = errors.New("task not found")

type TaskProgress struct {
	Total  int `json:"total"`
	Done   int `json:"done"`
	Failed int `json:"failed"`
}

type Task struct {
	ID        string        `json:"id"`
	Op        BatchOp       `json:"op"`
	Status    TaskStatus    `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Progress  TaskProgress  `json:"progress"`
	Outcome   *BatchOutcome `json:"outcome,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// BatchRequest describes one batch operation over many paths.
type BatchRequest struct {
	Op      BatchOp    `json:"op"`
	Backend fs.Backend `json:"backend,omitempty"`
	Paths   []string   `json:"paths"`
	// Target is the destination directory of copy and move.
	Target string `json:"target,omitempty"`
}

type taskRuntime struct {
	task   *Task
	req    BatchRequest
	ctx    context.Context
	cancel context.CancelFunc
}

// TaskService runs batch operations in the background, a bounded number at a
// time, and keeps a short history of finished ones.
type TaskService struct {
	fs     *FSService
	events *event.Emitter
	logger *slog.Logger

	mu         sync.Mutex
	maxWorkers int
	queue      []*taskRuntime
	running    map[string]*taskRuntime
	history    []*Task
	wg         sync.WaitGroup
}

const taskHistoryLimit = 200

func NewTaskService(fsSvc *FSService, maxWorkers int, events *event.Emitter, logger *slog.Logger) *TaskService {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	if events == nil {
		events = event.Global()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		fs:         fsSvc,
		events:     events,
		logger:     logger,
		maxWorkers: maxWorkers,
		running:    make(map[string]*taskRuntime),
	}
}

// Enqueue validates req and schedules it.
func (s *TaskService) Enqueue(req BatchRequest) (Task, error) {
	switch req.Op {
	case BatchDelete:
	case BatchCopy, BatchMove:
		if _, err := cleanAbs(req.Target); err != nil {
			return Task{}, err
		}
	default:
		return Task{}, fmt.Errorf("unknown batch op %q: %w", req.Op, ErrInvalidArg)
	}
	if len(req.Paths) == 0 {
		return Task{}, fmt.Errorf("no paths given: %w", ErrInvalidArg)
	}

	t := &Task{
		ID:        uuid.NewString(),
		Op:        req.Op,
		Status:    TaskStatusQueued,
		CreatedAt: time.Now(),
		Progress:  TaskProgress{Total: len(req.Paths)},
	}
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.queue = append(s.queue, &taskRuntime{task: t, req: req, ctx: ctx, cancel: cancel})
	snapshot := *t
	s.mu.Unlock()

	s.events.Emit(event.TaskCreatedEvent{TaskID: t.ID, TaskType: string(req.Op), Total: len(req.Paths)})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.maybeStartWorkers()
	}()
	return snapshot, nil
}

func (s *TaskService) maybeStartWorkers() {
	for {
		s.mu.Lock()
		if len(s.running) >= s.maxWorkers || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		rt := s.queue[0]
		s.queue = s.queue[1:]
		now := time.Now()
		rt.task.Status = TaskStatusRunning
		rt.task.StartedAt = &now
		s.running[rt.task.ID] = rt
		s.mu.Unlock()

		outcome := s.run(rt)

		s.mu.Lock()
		delete(s.running, rt.task.ID)
		end := time.Now()
		rt.task.EndedAt = &end
		rt.task.Outcome = &outcome
		err := outcome.Err()
		switch {
		case errors.Is(err, context.Canceled):
			rt.task.Status = TaskStatusCanceled
			rt.task.Error = "canceled"
		case err != nil:
			rt.task.Status = TaskStatusFailed
			rt.task.Error = err.Error()
		default:
			rt.task.Status = TaskStatusSucceeded
		}
		s.pushHistoryLocked(rt.task)
		s.mu.Unlock()
		rt.cancel()

		s.logger.Info("Batch finished", "task", rt.task.ID, "op", rt.req.Op,
			"done", len(outcome.Done), "failed", len(outcome.Failed), "cancelled", outcome.Cancelled)
		s.events.Emit(event.TaskCompletedEvent{
			TaskID:    rt.task.ID,
			Success:   err == nil,
			Cancelled: outcome.Cancelled,
		})
	}
}

func (s *TaskService) run(rt *taskRuntime) BatchOutcome {
	progress := func(done, failed, total int, p string) {
		s.mu.Lock()
		rt.task.Progress = TaskProgress{Total: total, Done: done, Failed: failed}
		s.mu.Unlock()
		s.events.Emit(event.TaskProgressEvent{TaskID: rt.task.ID, Total: total, Done: done, Failed: failed, Path: p})
	}
	req := rt.req
	switch req.Op {
	case BatchCopy:
		return s.fs.CopyAll(rt.ctx, req.Backend, req.Paths, req.Target, progress)
	case BatchMove:
		return s.fs.MoveAll(rt.ctx, req.Backend, req.Paths, req.Target, progress)
	default:
		return s.fs.DeleteAll(rt.ctx, req.Backend, req.Paths, progress)
	}
}

func (s *TaskService) pushHistoryLocked(t *Task) {
	s.history = append([]*Task{t}, s.history...)
	if len(s.history) > taskHistoryLimit {
		s.history = s.history[:taskHistoryLimit]
	}
}

// Get returns a snapshot of task id, queued, running or finished.
func (s *TaskService) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.queue {
		if rt.task.ID == id {
			return *rt.task, nil
		}
	}
	if rt, ok := s.running[id]; ok {
		return *rt.task, nil
	}
	for _, t := range s.history {
		if t.ID == id {
			return *t, nil
		}
	}
	return Task{}, ErrTaskNotFound
}

func (s *TaskService) ListRunning() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.queue)+len(s.running))
	for _, rt := range s.queue {
		out = append(out, *rt.task)
	}
	for _, rt := range s.running {
		out = append(out, *rt.task)
	}
	return out
}

func (s *TaskService) ListHistory(limit int) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]Task, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, *s.history[i])
	}
	return out
}

// Cancel stops a task. A queued task ends immediately; a running one stops
// before its next entry.
func (s *TaskService) Cancel(id string) error {
	s.mu.Lock()
	for i, rt := range s.queue {
		if rt.task.ID != id {
			continue
		}
		rt.cancel()
		now := time.Now()
		rt.task.Status = TaskStatusCanceled
		rt.task.EndedAt = &now
		rt.task.Outcome = &BatchOutcome{Done: []string{}, Skipped: rt.req.Paths, Cancelled: true}
		s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
		s.pushHistoryLocked(rt.task)
		s.mu.Unlock()
		s.events.Emit(event.TaskCompletedEvent{TaskID: id, Cancelled: true})
		return nil
	}
	rt, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	rt.cancel()
	return nil
}

// Close cancels every task and waits for the workers.
func (s *TaskService) Close() {
	s.mu.Lock()
	for _, rt := range s.queue {
		rt.cancel()
	}
	for _, rt := range s.running {
		rt.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
