package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
	"github.com/openlearnhq/engagement-backend/internal/types"
)

// WorkerPolicy bounds retries and recovery of abandoned tasks.
type WorkerPolicy struct {
	MaxAttempts  int
	RetryDelay   time.Duration
	StaleRunning time.Duration
	// HeartbeatEvery must stay well below StaleRunning so a long-running
	// handler is never mistaken for an abandoned one by another replica.
	HeartbeatEvery time.Duration
	PollInterval   time.Duration
}

func DefaultWorkerPolicy() WorkerPolicy {
	return WorkerPolicy{
		MaxAttempts:    5,
		RetryDelay:     30 * time.Second,
		StaleRunning:   2 * time.Minute,
		HeartbeatEvery: 30 * time.Second,
		PollInterval:   time.Second,
	}
}

// Worker polls the task_run table, claims runnable rows and executes their
// handlers. Handler panics are caught and recorded as failures.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.TaskRunRepo
	registry *Registry
	policy   WorkerPolicy
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.TaskRunRepo, registry *Registry, policy WorkerPolicy) *Worker {
	if policy.PollInterval <= 0 {
		policy = DefaultWorkerPolicy()
	}
	if policy.HeartbeatEvery <= 0 {
		policy.HeartbeatEvery = policy.StaleRunning / 4
	}
	if policy.HeartbeatEvery <= 0 {
		policy.HeartbeatEvery = 30 * time.Second
	}
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "TaskWorker"),
		repo:     repo,
		registry: registry,
		policy:   policy,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.policy.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task, err := w.repo.ClaimNextRunnable(ctx, w.db, w.policy.MaxAttempts, w.policy.RetryDelay, w.policy.StaleRunning)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if task == nil {
					continue
				}
				w.run(ctx, task)
			}
		}
	}()
}

func (w *Worker) run(ctx context.Context, task *types.TaskRun) {
	handler, ok := w.registry.Get(task.TaskType)
	if !ok {
		w.log.Warn("No handler registered for task_type", "task_type", task.TaskType, "task_id", task.ID)
		w.finish(ctx, task, fmt.Errorf("no handler registered for task_type=%s", task.TaskType))
		return
	}
	stopBeat := make(chan struct{})
	go w.keepAlive(ctx, task.ID, stopBeat)
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Task handler panic", "task_id", task.ID, "task_type", task.TaskType, "panic", r)
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = handler(ctx, task.Payload)
	}()
	close(stopBeat)
	w.finish(ctx, task, runErr)
}

// keepAlive refreshes heartbeat_at while a handler runs, so other replicas
// never reclaim a busy task as stale.
func (w *Worker) keepAlive(ctx context.Context, taskID uuid.UUID, stop <-chan struct{}) {
	ticker := time.NewTicker(w.policy.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			updates := map[string]interface{}{"heartbeat_at": time.Now()}
			if err := w.repo.UpdateFields(ctx, w.db, taskID, updates); err != nil {
				w.log.Warn("Heartbeat refresh failed", "task_id", taskID, "error", err)
			}
		}
	}
}

func (w *Worker) finish(ctx context.Context, task *types.TaskRun, runErr error) {
	now := time.Now()
	updates := map[string]interface{}{
		"finished_at":  now,
		"heartbeat_at": nil,
	}
	if runErr != nil {
		updates["status"] = types.TaskStatusFailed
		updates["last_error"] = runErr.Error()
		updates["last_error_at"] = now
		w.log.Warn("Task failed", "task_id", task.ID, "task_type", task.TaskType, "attempts", task.Attempts, "error", runErr)
	} else {
		updates["status"] = types.TaskStatusSucceeded
		updates["last_error"] = ""
	}
	if err := w.repo.UpdateFields(ctx, w.db, task.ID, updates); err != nil {
		w.log.Error("Task status update failed", "task_id", task.ID, "error", err)
	}
}
