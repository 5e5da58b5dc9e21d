package tasks

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
	"github.com/openlearnhq/engagement-backend/internal/types"
)

// Store is the durable Queue: one row per enqueued task, claimed later by a
// Worker.
type Store struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.TaskRunRepo
}

func NewStore(db *gorm.DB, baseLog *logger.Logger, repo repos.TaskRunRepo) *Store {
	return &Store{
		db:   db,
		log:  baseLog.With("component", "TaskStore"),
		repo: repo,
	}
}

func (s *Store) Enqueue(ctx context.Context, taskType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	rows := []*types.TaskRun{{
		TaskType: taskType,
		Payload:  raw,
		Status:   types.TaskStatusQueued,
	}}
	if _, err := s.repo.Create(ctx, nil, rows); err != nil {
		return err
	}
	s.log.Debug("Task enqueued", "task_type", taskType)
	return nil
}
