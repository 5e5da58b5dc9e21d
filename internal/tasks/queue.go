package tasks

import (
	"context"
	"encoding/json"
	"fmt"
)

// Queue accepts units of work for asynchronous execution. The production
// implementation persists rows a polling worker claims; tests use SyncQueue
// to run handlers inline.
type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}) error
}

// Handler executes one claimed task. The raw payload is whatever Enqueue
// marshalled.
type Handler func(ctx context.Context, payload []byte) error

// SyncQueue dispatches every enqueued task immediately on the calling
// goroutine. Deterministic by construction; for tests and one-shot admin
// commands.
type SyncQueue struct {
	registry *Registry
}

func NewSyncQueue(registry *Registry) *SyncQueue {
	return &SyncQueue{registry: registry}
}

func (q *SyncQueue) Enqueue(ctx context.Context, taskType string, payload interface{}) error {
	handler, ok := q.registry.Get(taskType)
	if !ok {
		return fmt.Errorf("no handler registered for task_type=%s", taskType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return handler(ctx, raw)
}
