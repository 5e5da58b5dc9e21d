package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/repos"
	"github.com/openlearnhq/engagement-backend/internal/testutil"
	"github.com/openlearnhq/engagement-backend/internal/types"
)

func TestWorker_Run_RefreshesHeartbeatWhileHandlerRuns(t *testing.T) {
	db := testutil.NewDB(t)
	log := logger.NewNop()
	repo := repos.NewTaskRunRepo(db, log)
	ctx := context.Background()

	rows, err := repo.Create(ctx, nil, []*types.TaskRun{{TaskType: "slow", Status: types.TaskStatusRunning}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	task := rows[0]
	stale := time.Now().Add(-time.Hour)
	if err := repo.UpdateFields(ctx, nil, task.ID, map[string]interface{}{"heartbeat_at": stale}); err != nil {
		t.Fatalf("seed heartbeat: %v", err)
	}

	var observed *time.Time
	registry := NewRegistry()
	registry.Register("slow", func(ctx context.Context, payload []byte) error {
		time.Sleep(50 * time.Millisecond)
		row, err := repo.GetByID(ctx, nil, task.ID)
		if err != nil {
			return err
		}
		observed = row.HeartbeatAt
		return nil
	})

	policy := DefaultWorkerPolicy()
	policy.HeartbeatEvery = 5 * time.Millisecond
	worker := NewWorker(db, log, repo, registry, policy)
	worker.run(ctx, task)

	if observed == nil || !observed.After(stale) {
		t.Fatalf("heartbeat_at = %v, want a refresh after %v", observed, stale)
	}

	final, err := repo.GetByID(ctx, nil, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != types.TaskStatusSucceeded {
		t.Fatalf("status = %s, want %s", final.Status, types.TaskStatusSucceeded)
	}
	if final.HeartbeatAt != nil {
		t.Fatal("heartbeat_at should clear once the task finishes")
	}
}
